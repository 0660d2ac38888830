package middleware

// identity.go holds accessors for the identity JWTAuth stores in the Echo
// context.  Unauthenticated requests yield zero values.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's id, or false when the request
// carries no valid token.
func UserID(c echo.Context) (uint64, bool) {
    switch v := c.Get(CtxUserID).(type) {
    case uint64:
        return v, v != 0
    case string:
        id, err := strconv.ParseUint(v, 10, 64)
        return id, err == nil && id != 0
    }
    return 0, false
}

// Role returns the authenticated user's role or "".
func Role(c echo.Context) string {
    r, _ := c.Get(CtxRole).(string)
    return r
}

// SchoolID returns the school carried in the token, if any.
func SchoolID(c echo.Context) *uint64 {
    s, _ := c.Get(CtxSchoolID).(*uint64)
    return s
}

// currentUserID renders the caller for rate limit keys; "anon" when the
// request is unauthenticated.
func currentUserID(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
