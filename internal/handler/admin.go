package handler

import (
    "context"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/ubicatec/ubicatec-api/internal/middleware"
    "github.com/ubicatec/ubicatec-api/internal/model"
    "github.com/ubicatec/ubicatec-api/internal/repository"
)

// AdminHandler serves /administradores.  Routes are guarded by
// RequireRole(administrativo); every successful write purges the event
// cache.
type AdminHandler struct {
    Events  *repository.EventRepo
    Schools *repository.SchoolRepo
    Cache   CachePurger
    Log     *zap.Logger
}

// eventForm is the create/edit body.  Acceso and escuelas are read only
// on create.
type eventForm struct {
    Name        string   `json:"nombre"`
    Description string   `json:"descripcion"`
    Date        string   `json:"fecha"`
    Time        string   `json:"hora"`
    Venue       string   `json:"lugar"`
    Capacity    int      `json:"capacidad"`
    Price       *float64 `json:"precio"`
    Access      string   `json:"acceso"`
    ImageURL    string   `json:"imagen_url"`
    ImageAlt    string   `json:"alt_imagen"`
    Schools     []uint64 `json:"escuelas"`
}

// normalize trims the form and checks it, returning the first problem.
func (f *eventForm) normalize(create bool) string {
    f.Name = strings.TrimSpace(f.Name)
    f.Description = strings.TrimSpace(f.Description)
    f.Venue = strings.TrimSpace(f.Venue)
    f.ImageURL = strings.TrimSpace(f.ImageURL)
    f.ImageAlt = strings.TrimSpace(f.ImageAlt)
    f.Access = strings.TrimSpace(f.Access)
    if f.Name == "" || f.Description == "" || f.Date == "" || f.Time == "" || f.Venue == "" ||
        f.Capacity == 0 || f.Price == nil || f.ImageURL == "" || (create && f.Access == "") {
        return "Todos los campos son requeridos"
    }
    if f.Capacity < 1 {
        return "La capacidad debe ser mayor a cero"
    }
    if *f.Price < 0 {
        return "El precio no puede ser negativo"
    }
    d, err := time.Parse("2006-01-02", strings.TrimSpace(f.Date))
    if err != nil {
        return "Formato de fecha inválido (AAAA-MM-DD)"
    }
    f.Date = d.Format("2006-01-02")
    clock, ok := parseClock(f.Time)
    if !ok {
        return "Formato de hora inválido (HH:MM)"
    }
    f.Time = clock
    if create {
        if !model.ValidAccess(f.Access) {
            return "Tipo de acceso inválido"
        }
        f.Schools = dedupe(f.Schools)
    }
    return ""
}

// parseClock accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func parseClock(s string) (string, bool) {
    s = strings.TrimSpace(s)
    for _, layout := range []string{"15:04:05", "15:04"} {
        if t, err := time.Parse(layout, s); err == nil {
            return t.Format("15:04:05"), true
        }
    }
    return "", false
}

func dedupe(ids []uint64) []uint64 {
    seen := make(map[uint64]bool, len(ids))
    out := ids[:0]
    for _, id := range ids {
        if id > 0 && !seen[id] {
            seen[id] = true
            out = append(out, id)
        }
    }
    return out
}

// ListSchools lists the schools an event can be scoped to.
func (h *AdminHandler) ListSchools(c echo.Context) error {
    ctx, cancel := requestCtx(c)
    defer cancel()
    schools, err := h.Schools.List(ctx)
    if err != nil {
        h.Log.Error("admin: list schools failed", zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al obtener las escuelas")
    }
    return respond(c, http.StatusOK, "", schools)
}

// ListEvents returns the caller's events, cancelled ones included.
func (h *AdminHandler) ListEvents(c echo.Context) error {
    uid, _ := middleware.UserID(c)
    ctx, cancel := requestCtx(c)
    defer cancel()
    events, err := h.Events.ListByCreator(ctx, uid)
    if err != nil {
        h.Log.Error("admin: list events failed", zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al obtener los eventos")
    }
    out := make([]eventJSON, 0, len(events))
    for _, ev := range events {
        out = append(out, toEventJSON(ev))
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": out, "count": len(out)})
}

// CreateEvent creates an event owned by the caller.
func (h *AdminHandler) CreateEvent(c echo.Context) error {
    var f eventForm
    if err := c.Bind(&f); err != nil {
        return fail(c, http.StatusBadRequest, "Cuerpo de la solicitud inválido")
    }
    if msg := f.normalize(true); msg != "" {
        return fail(c, http.StatusBadRequest, msg)
    }
    uid, _ := middleware.UserID(c)

    ctx, cancel := requestCtx(c)
    defer cancel()
    ev := &model.Event{
        Name:        f.Name,
        Description: f.Description,
        Date:        f.Date,
        Time:        f.Time,
        Venue:       f.Venue,
        Capacity:    f.Capacity,
        Price:       *f.Price,
        Access:      f.Access,
        ImageURL:    f.ImageURL,
        ImageAlt:    f.ImageAlt,
        CreatorID:   uid,
        Schools:     f.Schools,
    }
    err := h.Events.Create(ctx, ev)
    if errors.Is(err, repository.ErrSchoolNotFound) {
        return fail(c, http.StatusBadRequest, "Una o más escuelas seleccionadas no existen")
    }
    if err != nil {
        h.Log.Error("admin: create event failed", zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al crear el evento")
    }
    h.Log.Info("event created", zap.Uint64("id_evento", ev.ID), zap.Uint64("id_creador", uid))
    purgeCache(context.WithoutCancel(ctx), h.Cache, h.Log)
    return respond(c, http.StatusCreated, "Evento creado exitosamente", echo.Map{"id_evento": ev.ID})
}

// UpdateEvent edits an event.  Capacity may not drop below the seats
// already reserved.
func (h *AdminHandler) UpdateEvent(c echo.Context) error {
    id, ok := paramID(c, "id")
    if !ok {
        return fail(c, http.StatusBadRequest, "ID del evento es requerido")
    }
    var f eventForm
    if err := c.Bind(&f); err != nil {
        return fail(c, http.StatusBadRequest, "Cuerpo de la solicitud inválido")
    }
    if msg := f.normalize(false); msg != "" {
        return fail(c, http.StatusBadRequest, msg)
    }

    ctx, cancel := requestCtx(c)
    defer cancel()
    err := h.Events.Update(ctx, id, repository.EventUpdate{
        Name:        f.Name,
        Description: f.Description,
        Date:        f.Date,
        Time:        f.Time,
        Venue:       f.Venue,
        Capacity:    f.Capacity,
        Price:       *f.Price,
        ImageURL:    f.ImageURL,
        ImageAlt:    f.ImageAlt,
    })
    switch {
    case errors.Is(err, repository.ErrEventNotFound):
        return fail(c, http.StatusNotFound, "Evento no encontrado")
    case errors.Is(err, repository.ErrCapacityBelowAttendance):
        return fail(c, http.StatusBadRequest, "La capacidad no puede ser menor que la asistencia actual")
    case err != nil:
        h.Log.Error("admin: update event failed", zap.Uint64("id_evento", id), zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al actualizar el evento")
    }
    purgeCache(context.WithoutCancel(ctx), h.Cache, h.Log)
    return respond(c, http.StatusOK, "Evento actualizado exitosamente", nil)
}

// DeleteEvent cancels an event; the row and its reservations stay.
func (h *AdminHandler) DeleteEvent(c echo.Context) error {
    id, ok := paramID(c, "id")
    if !ok {
        return fail(c, http.StatusBadRequest, "ID del evento es requerido")
    }
    ctx, cancel := requestCtx(c)
    defer cancel()
    err := h.Events.Cancel(ctx, id)
    switch {
    case errors.Is(err, repository.ErrEventNotFound):
        return fail(c, http.StatusNotFound, "Evento no encontrado")
    case errors.Is(err, repository.ErrAlreadyCancelled):
        return fail(c, http.StatusBadRequest, "El evento ya está cancelado")
    case err != nil:
        h.Log.Error("admin: cancel event failed", zap.Uint64("id_evento", id), zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al eliminar el evento")
    }
    h.Log.Info("event cancelled", zap.Uint64("id_evento", id))
    purgeCache(context.WithoutCancel(ctx), h.Cache, h.Log)
    return respond(c, http.StatusOK, "Evento eliminado exitosamente", nil)
}
