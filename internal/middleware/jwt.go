package middleware // middleware holds the authentication, authorization, caching and rate limiting layers

import (
    "net/http" // HTTP status codes for responses
    "strings"  // prefix checking and trimming of the Authorization header

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/ubicatec/ubicatec-api/internal/utils" // access token parsing
)

// Context keys written by JWTAuth.
const (
    CtxUserID   = "user_id"
    CtxRole     = "role"
    CtxSchoolID = "id_escuela"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the user id (uint64), role and school (*uint64, possibly nil) into
// the request context.  Handlers read them via c.Get or the helpers in
// identity.go.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "Token de acceso requerido"})
            }
            raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

            // ParseAccessToken pins HS256, requires exp and a numeric subject.
            claims, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "Token inválido o expirado"})
            }
            uid, _ := claims.UserID()

            c.Set(CtxUserID, uid)
            c.Set(CtxRole, claims.Role)
            c.Set(CtxSchoolID, claims.SchoolID)
            return next(c)
        }
    }
}
