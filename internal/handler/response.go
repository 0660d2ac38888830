package handler // handler holds the HTTP handlers of the ubicaTEC API

import (
    "context"
    "encoding/json"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
)

// requestTimeout bounds the database work of a single request.
const requestTimeout = 5 * time.Second

// Every response uses the envelope {success, message, data}.  Failures
// carry success:false and a human readable message, never internals.

func respond(c echo.Context, status int, message string, data any) error {
    body := echo.Map{"success": true}
    if message != "" {
        body["message"] = message
    }
    if data != nil {
        body["data"] = data
    }
    return c.JSON(status, body)
}

func fail(c echo.Context, status int, message string) error {
    return c.JSON(status, echo.Map{"success": false, "message": message})
}

// internalError is the single 500 body.
func internalError(c echo.Context) error {
    return fail(c, http.StatusInternalServerError, "Error interno del servidor")
}

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

// queryID parses a positive numeric query parameter.
func queryID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(strings.TrimSpace(c.QueryParam(name)), 10, 64)
    return id, err == nil && id > 0
}

// flexID accepts an id sent either as a JSON number or as a numeric
// string; browsers post form values as strings.
func flexID(n json.Number) (uint64, bool) {
    s := strings.TrimSpace(n.String())
    if s == "" {
        return 0, false
    }
    id, err := strconv.ParseUint(s, 10, 64)
    return id, err == nil && id > 0
}
