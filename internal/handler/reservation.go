package handler

import (
    "context"
    "encoding/json"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/ubicatec/ubicatec-api/internal/middleware"
    "github.com/ubicatec/ubicatec-api/internal/model"
    "github.com/ubicatec/ubicatec-api/internal/service"
)

// CachePurger drops cached event reads after a write.
type CachePurger interface {
    Purge(ctx context.Context) error
}

// purgeCache is best effort; a failure only means reads may lag until the
// entries expire.
func purgeCache(ctx context.Context, p CachePurger, log *zap.Logger) {
    if p == nil {
        return
    }
    if err := p.Purge(ctx); err != nil {
        log.Warn("event cache purge failed", zap.Error(err))
    }
}

// ReservationHandler exposes the reservation workflow.
type ReservationHandler struct {
    Svc   *service.ReservationService
    Cache CachePurger
    Log   *zap.Logger
}

type reserveReq struct {
    EventID       json.Number `json:"id_evento"`
    UserID        json.Number `json:"id_usuario"`
    PaymentMethod string      `json:"metodo_pago"`
}

// subject resolves the user a request acts for: the explicit id when
// given, else the caller.  Only administrators may act for someone else.
func subject(c echo.Context, explicit uint64, given bool) (uint64, bool) {
    caller, _ := middleware.UserID(c)
    if !given {
        return caller, true
    }
    if explicit != caller && middleware.Role(c) != model.RoleAdmin {
        return 0, false
    }
    return explicit, true
}

// statusFor maps a workflow outcome to its HTTP status.
func statusFor(code service.Code) int {
    switch code {
    case service.CodeOK:
        return http.StatusCreated
    case service.CodeNotFound:
        return http.StatusNotFound
    default:
        return http.StatusBadRequest
    }
}

// Create handles POST /evento/reserva.
func (h *ReservationHandler) Create(c echo.Context) error {
    var req reserveReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, service.MsgMissingIDs)
    }
    eventID, _ := flexID(req.EventID)
    explicit, given := flexID(req.UserID)
    userID, allowed := subject(c, explicit, given)
    if !allowed {
        return fail(c, http.StatusForbidden, "No puedes reservar a nombre de otro usuario")
    }

    res, err := h.Svc.Reserve(c.Request().Context(), service.ReserveInput{
        EventID:       eventID,
        UserID:        userID,
        PaymentMethod: strings.TrimSpace(req.PaymentMethod),
    })
    if err != nil {
        return fail(c, http.StatusInternalServerError, "Error al procesar la reserva")
    }
    if !res.OK() {
        return fail(c, statusFor(res.Code), res.Message)
    }
    purgeCache(context.WithoutCancel(c.Request().Context()), h.Cache, h.Log)
    return respond(c, http.StatusCreated, res.Message, res.Data)
}

// Verify handles GET /evento/verificar-reserva.
func (h *ReservationHandler) Verify(c echo.Context) error {
    eventID, ok := queryID(c, "id_evento")
    explicit, given := queryID(c, "id_usuario")
    if !ok {
        return fail(c, http.StatusBadRequest, service.MsgMissingIDs)
    }
    userID, allowed := subject(c, explicit, given)
    if !allowed {
        return fail(c, http.StatusForbidden, "Acceso denegado")
    }
    if userID == 0 {
        return fail(c, http.StatusBadRequest, service.MsgMissingIDs)
    }

    ctx, cancel := requestCtx(c)
    defer cancel()
    r, err := h.Svc.CheckReservation(ctx, eventID, userID)
    if err != nil {
        h.Log.Error("verify reservation failed", zap.Error(err))
        return internalError(c)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "tieneReserva": r != nil, "reserva": r})
}

// Mine handles GET /mis-reservas.
func (h *ReservationHandler) Mine(c echo.Context) error {
    userID, ok := middleware.UserID(c)
    if !ok {
        return fail(c, http.StatusUnauthorized, "Token de acceso requerido")
    }
    ctx, cancel := requestCtx(c)
    defer cancel()
    list, err := h.Svc.MyReservations(ctx, userID)
    if err != nil {
        h.Log.Error("list reservations failed", zap.Error(err))
        return internalError(c)
    }
    return c.JSON(http.StatusOK, echo.Map{"success": true, "data": list, "count": len(list)})
}
