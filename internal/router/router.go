package router // package router wires handlers and middleware onto the Echo instance

import (
	"github.com/labstack/echo/v4"

	"github.com/ubicatec/ubicatec-api/internal/handler"
	"github.com/ubicatec/ubicatec-api/internal/middleware"
)

// Deps groups what the routes need.  Limiter guards the write-heavy
// public endpoints (login, registration, reservation); Cache fronts the
// public event reads.
type Deps struct {
	JWTSecret    string
	Auth         *handler.AuthHandler
	Profile      *handler.ProfileHandler
	Events       *handler.EventHandler
	Reservations *handler.ReservationHandler
	Admin        *handler.AdminHandler
	Limiter      echo.MiddlewareFunc
	Cache        *middleware.ResponseCache
}

// Register mounts every route.  Everything but the health check lives
// under /api.
func Register(e *echo.Echo, d Deps) {
	// Liveness for load balancers; never rate limited or authenticated.
	e.GET("/healthz", handler.Health)

	api := e.Group("/api")
	limit := d.Limiter
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	registerAuth(api, d, limit)
	registerEvents(api, d, limit)
	registerAdmin(api, d)
}

// registerAuth mounts registration, login, the refresh token lifecycle
// and the profile routes.  Refresh and logout carry their own credentials
// in the body, so they skip JWTAuth.
func registerAuth(api *echo.Group, d Deps, limit echo.MiddlewareFunc) {
	api.POST("/usuarios/registro", d.Auth.Register, limit)
	api.POST("/login", d.Auth.Login, limit)
	api.POST("/auth/refresh", d.Auth.Refresh, limit)
	api.POST("/auth/logout", d.Auth.Logout)

	// Self-or-admin is enforced inside the handler since it depends on
	// the path parameter.
	perfil := api.Group("/perfil", middleware.JWTAuth(d.JWTSecret))
	perfil.GET("/:id_usuario", d.Profile.Get)
	perfil.PUT("/:id_usuario", d.Profile.Update)
}
