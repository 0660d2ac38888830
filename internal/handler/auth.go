package handler

import (
    "context"
    "crypto/subtle"
    "database/sql"
    "encoding/json"
    "errors"
    "net/http"
    "net/mail"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/ubicatec/ubicatec-api/internal/config"
    "github.com/ubicatec/ubicatec-api/internal/model"
    "github.com/ubicatec/ubicatec-api/internal/repository"
    "github.com/ubicatec/ubicatec-api/internal/utils"
)

// AuthHandler bundles dependencies for registration, login and the
// refresh token lifecycle.
type AuthHandler struct {
    Cfg     config.Config
    Users   *repository.UserRepo
    Tokens  *repository.TokenRepo
    Schools *repository.SchoolRepo
    Log     *zap.Logger
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, t *repository.TokenRepo, s *repository.SchoolRepo, log *zap.Logger) *AuthHandler {
    return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Schools: s, Log: log}
}

// ----- DTOs -----

type registerReq struct {
    Name      string      `json:"nombre"`
    Surname   string      `json:"apellido"`
    Email     string      `json:"correo"`
    Username  string      `json:"usuario"`
    Password  string      `json:"contrasena"`
    Role      string      `json:"tipoUsuario"`
    SchoolID  json.Number `json:"idEscuela"`
    AdminCode string      `json:"codigoAdministrador"`
}

type loginReq struct {
    Email    string `json:"correo"`
    Password string `json:"contrasena"`
}

type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}

type sessionResp struct {
    UserID     uint64    `json:"id_usuario"`
    Name       string    `json:"nombre"`
    Surname    string    `json:"apellido"`
    Email      string    `json:"correo"`
    Role       string    `json:"tipo_rol"`
    SchoolID   *uint64   `json:"id_escuela"`
    SchoolName *string   `json:"escuela"`
    Access     tokenPart `json:"access"`
    Refresh    tokenPart `json:"refresh"`
}

const minPasswordLen = 8

// validate applies the registration rules in order and returns the first
// violation, or "" when the request is acceptable.
func (r *registerReq) validate(adminCode string) string {
    r.Name = strings.TrimSpace(r.Name)
    r.Surname = strings.TrimSpace(r.Surname)
    r.Email = strings.ToLower(strings.TrimSpace(r.Email))
    r.Username = strings.TrimSpace(r.Username)
    r.Role = strings.TrimSpace(r.Role)
    if r.Name == "" || r.Surname == "" || r.Email == "" || r.Username == "" || r.Password == "" || r.Role == "" {
        return "Todos los campos obligatorios deben ser completados"
    }
    if !validEmail(r.Email) {
        return "El formato del correo electrónico no es válido"
    }
    if len([]rune(r.Password)) < minPasswordLen {
        return "La contraseña debe tener al menos 8 caracteres"
    }
    if !model.ValidRole(r.Role) {
        return "Tipo de usuario inválido"
    }
    if _, ok := flexID(r.SchoolID); r.Role == model.RoleStudent && !ok {
        return "Los estudiantes deben seleccionar una escuela"
    }
    if r.Role == model.RoleAdmin && subtle.ConstantTimeCompare([]byte(r.AdminCode), []byte(adminCode)) != 1 {
        return "Código de administrador inválido"
    }
    return ""
}

// validEmail accepts a bare address with a dotted domain.
func validEmail(s string) bool {
    a, err := mail.ParseAddress(s)
    if err != nil || a.Address != s {
        return false
    }
    at := strings.LastIndex(s, "@")
    return at > 0 && strings.Contains(s[at+1:], ".")
}

// Register creates an account and starts a session.  Students must pick a
// school; the administrativo role requires the registration code.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "Cuerpo de la solicitud inválido")
    }
    if msg := req.validate(h.Cfg.AdminCode); msg != "" {
        return fail(c, http.StatusBadRequest, msg)
    }

    ctx, cancel := requestCtx(c)
    defer cancel()

    var school *uint64
    if req.Role == model.RoleStudent {
        id, _ := flexID(req.SchoolID)
        exists, err := h.Schools.Exists(ctx, id)
        if err != nil {
            h.Log.Error("register: school lookup failed", zap.Error(err))
            return internalError(c)
        }
        if !exists {
            return fail(c, http.StatusBadRequest, "La escuela seleccionada no existe")
        }
        school = &id
    }

    uid, err := h.Users.Create(ctx, repository.NewUser{
        Name:     req.Name,
        Surname:  req.Surname,
        Email:    req.Email,
        Username: req.Username,
        Password: req.Password,
        Role:     req.Role,
        SchoolID: school,
    }, h.Cfg.BcryptCost)
    if err != nil {
        if errors.Is(err, repository.ErrUserExists) {
            return fail(c, http.StatusBadRequest, "El correo o nombre de usuario ya está registrado")
        }
        h.Log.Error("register: create user failed", zap.Error(err))
        return internalError(c)
    }
    u, err := h.Users.GetByID(ctx, uid)
    if err != nil {
        h.Log.Error("register: reload user failed", zap.Error(err))
        return internalError(c)
    }
    sess, err := h.issueSession(ctx, u)
    if err != nil {
        h.Log.Error("register: issue tokens failed", zap.Error(err))
        return internalError(c)
    }
    h.Log.Info("user registered", zap.Uint64("id_usuario", uid), zap.String("tipo_rol", u.Role))
    return respond(c, http.StatusCreated, "Usuario creado exitosamente", sess)
}

// Login verifies the credentials and returns a fresh token pair.  Unknown
// email and wrong password get the same answer.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "Cuerpo de la solicitud inválido")
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Email == "" || req.Password == "" {
        return fail(c, http.StatusBadRequest, "El correo y la contraseña son obligatorios")
    }

    ctx, cancel := requestCtx(c)
    defer cancel()

    u, err := h.Users.GetByEmail(ctx, req.Email)
    if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
        h.Log.Error("login: lookup failed", zap.Error(err))
        return internalError(c)
    }
    if err != nil || !utils.VerifyPassword(u.PasswordHash, req.Password) {
        return fail(c, http.StatusUnauthorized, "Credenciales incorrectas")
    }

    sess, err := h.issueSession(ctx, u)
    if err != nil {
        h.Log.Error("login: issue tokens failed", zap.Error(err))
        return internalError(c)
    }
    return respond(c, http.StatusOK, "Login exitoso", sess)
}

// Refresh consumes a refresh token by hash and issues a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return fail(c, http.StatusBadRequest, "refresh_token es requerido")
    }
    hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

    ctx, cancel := requestCtx(c)
    defer cancel()

    userID, err := h.Tokens.ConsumeRefresh(ctx, hash)
    if errors.Is(err, sql.ErrNoRows) {
        return fail(c, http.StatusUnauthorized, "Token de refresco inválido")
    }
    if err != nil {
        h.Log.Error("refresh: consume failed", zap.Error(err))
        return internalError(c)
    }
    u, err := h.Users.GetByID(ctx, userID)
    if errors.Is(err, repository.ErrUserNotFound) {
        return fail(c, http.StatusUnauthorized, "Token de refresco inválido")
    }
    if err != nil {
        h.Log.Error("refresh: load user failed", zap.Error(err))
        return internalError(c)
    }
    sess, err := h.issueSession(ctx, u)
    if err != nil {
        h.Log.Error("refresh: issue tokens failed", zap.Error(err))
        return internalError(c)
    }
    return respond(c, http.StatusOK, "", sess)
}

// Logout revokes one session when a refresh_token is posted, or every
// session of the bearer when only an access token is present.
func (h *AuthHandler) Logout(c echo.Context) error {
    var req refreshReq
    _ = c.Bind(&req)
    refresh := strings.TrimSpace(req.RefreshToken)

    var uid uint64
    if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
        if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer ")); err == nil {
            uid, _ = claims.UserID()
        }
    }

    ctx, cancel := requestCtx(c)
    defer cancel()

    switch {
    case refresh != "":
        hash := utils.HashRefreshRaw(refresh)
        if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
            return fail(c, http.StatusUnauthorized, "Token de refresco inválido")
        }
        if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
            h.Log.Error("logout: revoke failed", zap.Error(err))
            return internalError(c)
        }
    case uid != 0:
        if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
            h.Log.Error("logout: revoke all failed", zap.Error(err))
            return internalError(c)
        }
    default:
        return fail(c, http.StatusBadRequest, "Se requiere el encabezado Authorization o refresh_token")
    }
    return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) issueSession(ctx context.Context, u model.User) (sessionResp, error) {
    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, u.SchoolID, h.Cfg.AccessTTLMin)
    if err != nil {
        return sessionResp{}, err
    }
    refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
    if err != nil {
        return sessionResp{}, err
    }
    if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
        return sessionResp{}, err
    }
    var schoolName *string
    if u.SchoolName != "" {
        schoolName = &u.SchoolName
    }
    return sessionResp{
        UserID:     u.ID,
        Name:       u.Name,
        Surname:    u.Surname,
        Email:      u.Email,
        Role:       u.Role,
        SchoolID:   u.SchoolID,
        SchoolName: schoolName,
        Access:     tokenPart{Token: access.Token, Expires: access.Exp},
        Refresh:    tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
    }, nil
}
