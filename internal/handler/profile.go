package handler

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/ubicatec/ubicatec-api/internal/middleware"
    "github.com/ubicatec/ubicatec-api/internal/model"
    "github.com/ubicatec/ubicatec-api/internal/repository"
)

// ProfileHandler serves /perfil.  Users reach their own profile; admins
// reach any.
type ProfileHandler struct {
    Users      *repository.UserRepo
    BcryptCost int
    Log        *zap.Logger
}

type profileResp struct {
    ID         uint64  `json:"id_usuario"`
    Name       string  `json:"nombre"`
    Surname    string  `json:"apellido"`
    Email      string  `json:"correo"`
    Username   string  `json:"usuario"`
    Role       string  `json:"tipo_rol"`
    SchoolID   *uint64 `json:"id_escuela"`
    SchoolName string  `json:"nombre_escuela,omitempty"`
    CreatedAt  string  `json:"fecha_registro"`
}

type profileReq struct {
    Name        string `json:"nombre"`
    Surname     string `json:"apellido"`
    Email       string `json:"correo"`
    Username    string `json:"usuario"`
    NewPassword string `json:"nueva_contrasena"`
}

// target resolves :id_usuario and enforces self-or-admin.  On failure the
// response is already written and ok is false.
func (h *ProfileHandler) target(c echo.Context) (id uint64, ok bool, err error) {
    id, valid := paramID(c, "id_usuario")
    if !valid {
        return 0, false, fail(c, http.StatusBadRequest, "El ID de usuario es obligatorio")
    }
    caller, _ := middleware.UserID(c)
    if caller != id && middleware.Role(c) != model.RoleAdmin {
        return 0, false, fail(c, http.StatusForbidden, "Acceso denegado")
    }
    return id, true, nil
}

// Get returns a profile.
func (h *ProfileHandler) Get(c echo.Context) error {
    id, ok, err := h.target(c)
    if !ok {
        return err
    }
    ctx, cancel := requestCtx(c)
    defer cancel()

    u, err := h.Users.GetByID(ctx, id)
    if errors.Is(err, repository.ErrUserNotFound) {
        return fail(c, http.StatusNotFound, "Usuario no encontrado")
    }
    if err != nil {
        h.Log.Error("profile: load failed", zap.Uint64("id_usuario", id), zap.Error(err))
        return internalError(c)
    }
    return respond(c, http.StatusOK, "", profileResp{
        ID:         u.ID,
        Name:       u.Name,
        Surname:    u.Surname,
        Email:      u.Email,
        Username:   u.Username,
        Role:       u.Role,
        SchoolID:   u.SchoolID,
        SchoolName: u.SchoolName,
        CreatedAt:  u.CreatedAt,
    })
}

// Update edits name, email, username and optionally the password.
func (h *ProfileHandler) Update(c echo.Context) error {
    id, ok, err := h.target(c)
    if !ok {
        return err
    }
    var req profileReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "Cuerpo de la solicitud inválido")
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Surname) == "" || req.Email == "" || strings.TrimSpace(req.Username) == "" {
        return fail(c, http.StatusBadRequest, "Todos los campos son obligatorios")
    }
    if !validEmail(req.Email) {
        return fail(c, http.StatusBadRequest, "El formato del correo electrónico no es válido")
    }
    if req.NewPassword != "" && len([]rune(req.NewPassword)) < minPasswordLen {
        return fail(c, http.StatusBadRequest, "La contraseña debe tener al menos 8 caracteres")
    }

    ctx, cancel := requestCtx(c)
    defer cancel()

    err = h.Users.UpdateProfile(ctx, id, repository.ProfileUpdate{
        Name:        req.Name,
        Surname:     req.Surname,
        Email:       req.Email,
        Username:    req.Username,
        NewPassword: req.NewPassword,
    }, h.BcryptCost)
    switch {
    case errors.Is(err, repository.ErrUserNotFound):
        return fail(c, http.StatusNotFound, "Usuario no encontrado")
    case errors.Is(err, repository.ErrUserExists):
        return fail(c, http.StatusBadRequest, "El correo o nombre de usuario ya está en uso")
    case err != nil:
        h.Log.Error("profile: update failed", zap.Uint64("id_usuario", id), zap.Error(err))
        return internalError(c)
    }
    return respond(c, http.StatusOK, "Perfil actualizado exitosamente", nil)
}
