package router

import (
	"github.com/labstack/echo/v4"

	"github.com/ubicatec/ubicatec-api/internal/middleware"
	"github.com/ubicatec/ubicatec-api/internal/model"
)

// registerAdmin mounts event administration.  Every route requires a
// valid token with the administrativo role.
func registerAdmin(api *echo.Group, d Deps) {
	g := api.Group("/administradores",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("/escuelas", d.Admin.ListSchools)
	g.GET("/eventos", d.Admin.ListEvents)
	g.POST("/eventos", d.Admin.CreateEvent)
	g.PUT("/eventos/:id", d.Admin.UpdateEvent)
	g.DELETE("/eventos/:id", d.Admin.DeleteEvent)
}

