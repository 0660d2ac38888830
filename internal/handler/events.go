package handler

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/ubicatec/ubicatec-api/internal/mail"
    "github.com/ubicatec/ubicatec-api/internal/model"
    "github.com/ubicatec/ubicatec-api/internal/repository"
)

// EventHandler serves the public event reads.  Responses are safe to
// cache; writes elsewhere purge the cache.
type EventHandler struct {
    Events *repository.EventRepo
    Log    *zap.Logger
}

// eventJSON is the listing shape the web client renders.
type eventJSON struct {
    ID          uint64   `json:"id"`
    Title       string   `json:"titulo"`
    Description string   `json:"descripcion"`
    Date        string   `json:"fecha"`
    Time        string   `json:"hora"`
    Venue       string   `json:"lugar"`
    Capacity    int      `json:"capacidad"`
    Attendance  int      `json:"asistencia"`
    Price       float64  `json:"costo"`
    Access      string   `json:"acceso"`
    Image       string   `json:"img"`
    Alt         string   `json:"alt"`
    Status      string   `json:"estado"`
    Available   int      `json:"disponibles"`
    FullDate    string   `json:"fechaCompleta"`
    Schools     []uint64 `json:"escuelas,omitempty"`
}

type eventDetailJSON struct {
    eventJSON
    DisplayDate string `json:"fechaFormateada"`
    CreatorName string `json:"creador_nombre"`
}

func toEventJSON(ev model.Event) eventJSON {
    return eventJSON{
        ID:          ev.ID,
        Title:       ev.Name,
        Description: ev.Description,
        Date:        ev.Date,
        Time:        ev.Time,
        Venue:       ev.Venue,
        Capacity:    ev.Capacity,
        Attendance:  ev.Attendance,
        Price:       ev.Price,
        Access:      ev.Access,
        Image:       ev.ImageURL,
        Alt:         ev.ImageAlt,
        Status:      ev.Status,
        Available:   ev.Available(),
        FullDate:    ev.Date,
        Schools:     ev.Schools,
    }
}

func (h *EventHandler) writeList(c echo.Context, events []model.Event, err error, what string) error {
    if err != nil {
        h.Log.Error("events: list failed", zap.String("list", what), zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al obtener los eventos")
    }
    out := make([]eventJSON, 0, len(events))
    for _, ev := range events {
        out = append(out, toEventJSON(ev))
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": out, "count": len(out)})
}

// General lists open events that everyone or the whole campus can attend,
// leaving out events scoped to particular schools.
func (h *EventHandler) General(c echo.Context) error {
    ctx, cancel := requestCtx(c)
    defer cancel()
    events, err := h.Events.ListGeneral(ctx)
    return h.writeList(c, events, err, "general")
}

// Public lists open events with acceso = todos.
func (h *EventHandler) Public(c echo.Context) error {
    ctx, cancel := requestCtx(c)
    defer cancel()
    events, err := h.Events.ListPublic(ctx)
    return h.writeList(c, events, err, "public")
}

// Filtered lists what a role (and school, for students) may see.
func (h *EventHandler) Filtered(c echo.Context) error {
    role := strings.TrimSpace(c.QueryParam("tipo_rol"))
    if role == "" {
        return fail(c, http.StatusBadRequest, "Tipo de rol es requerido")
    }
    if !model.ValidRole(role) {
        return fail(c, http.StatusBadRequest, "Tipo de usuario inválido")
    }
    var school *uint64
    if id, ok := queryID(c, "id_escuela"); ok {
        school = &id
    }
    ctx, cancel := requestCtx(c)
    defer cancel()
    events, err := h.Events.ListForRole(ctx, role, school)
    return h.writeList(c, events, err, "filtered")
}

// BySchool lists the events scoped to one school.
func (h *EventHandler) BySchool(c echo.Context) error {
    id, ok := paramID(c, "id_escuela")
    if !ok {
        return fail(c, http.StatusBadRequest, "ID de escuela inválido")
    }
    ctx, cancel := requestCtx(c)
    defer cancel()
    events, err := h.Events.ListBySchool(ctx, id)
    return h.writeList(c, events, err, "school")
}

// Detail returns one event with seats left, a display date and the
// creator's name.  Cancelled events are still shown so links keep working.
func (h *EventHandler) Detail(c echo.Context) error {
    id, ok := paramID(c, "id")
    if !ok {
        return fail(c, http.StatusBadRequest, "ID del evento es requerido")
    }
    ctx, cancel := requestCtx(c)
    defer cancel()

    d, err := h.Events.GetDetail(ctx, id)
    if errors.Is(err, repository.ErrEventNotFound) {
        return fail(c, http.StatusNotFound, "Evento no encontrado")
    }
    if err != nil {
        h.Log.Error("events: detail failed", zap.Uint64("id_evento", id), zap.Error(err))
        return fail(c, http.StatusInternalServerError, "Error al obtener el evento")
    }
    return respond(c, http.StatusOK, "", eventDetailJSON{
        eventJSON:   toEventJSON(d.Event),
        DisplayDate: mail.FormatDisplayDate(d.Date, d.Time),
        CreatorName: d.CreatorName,
    })
}
