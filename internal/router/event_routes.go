package router

import (
	"github.com/labstack/echo/v4"

	"github.com/ubicatec/ubicatec-api/internal/middleware"
)

// registerEvents mounts the public event reads and the reservation
// endpoints.  Reads go through the response cache; reservation writes
// purge it from the handler.
func registerEvents(api *echo.Group, d Deps, limit echo.MiddlewareFunc) {
	cached := d.Cache.Middleware()

	// Static segments (publicos, filtrados, escuela) win over :id in
	// Echo's router, so the order here does not matter.
	api.GET("/eventos", d.Events.General, cached)
	api.GET("/eventos/publicos", d.Events.Public, cached)
	api.GET("/eventos/filtrados", d.Events.Filtered, cached)
	api.GET("/eventos/escuela/:id_escuela", d.Events.BySchool, cached)
	api.GET("/eventos/:id", d.Events.Detail, cached)
	api.GET("/evento/:id", d.Events.Detail, cached)

	auth := middleware.JWTAuth(d.JWTSecret)
	// Rate limiting runs after JWTAuth so per-user keys see the caller.
	api.POST("/evento/reserva", d.Reservations.Create, auth, limit)
	api.GET("/evento/verificar-reserva", d.Reservations.Verify, auth)
	api.GET("/mis-reservas", d.Reservations.Mine, auth)
}
