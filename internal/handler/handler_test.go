package handler

import (
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"

    "github.com/ubicatec/ubicatec-api/internal/middleware"
    "github.com/ubicatec/ubicatec-api/internal/service"
)

func TestParseClock(t *testing.T) {
    for in, want := range map[string]string{"15:00": "15:00:00", "09:05:30": "09:05:30", " 7:00 ": "07:00:00", "25:00": "", "tarde": ""} {
        got, ok := parseClock(in)
        assert.Equal(t, want != "", ok, in)
        assert.Equal(t, want, got, in)
    }
}

func TestValidEmail(t *testing.T) {
    assert.True(t, validEmail("ana@estudiantec.cr"))
    assert.False(t, validEmail("ana@localhost"))
    assert.False(t, validEmail("Ana <ana@estudiantec.cr>"))
    assert.False(t, validEmail("ana"))
}

func TestFlexID(t *testing.T) {
    id, ok := flexID(json.Number("12"))
    assert.True(t, ok)
    assert.Equal(t, uint64(12), id)
    for _, bad := range []string{"", "0", "-1", "1.5"} {
        _, ok := flexID(json.Number(bad))
        assert.False(t, ok, bad)
    }
}

func TestDedupeDropsZeroAndRepeats(t *testing.T) {
    assert.Equal(t, []uint64{3, 1}, dedupe([]uint64{3, 0, 1, 3}))
}

func TestStatusFor(t *testing.T) {
    assert.Equal(t, http.StatusCreated, statusFor(service.CodeOK))
    assert.Equal(t, http.StatusNotFound, statusFor(service.CodeNotFound))
    for _, c := range []service.Code{service.CodeNotAvailable, service.CodeSoldOut, service.CodeDuplicate, service.CodeBadRequest} {
        assert.Equal(t, http.StatusBadRequest, statusFor(c))
    }
}

func TestSubject(t *testing.T) {
    e := echo.New()
    ctx := func(role string) echo.Context {
        c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
        c.Set(middleware.CtxUserID, uint64(7))
        c.Set(middleware.CtxRole, role)
        return c
    }

    id, ok := subject(ctx("visitante"), 0, false)
    assert.True(t, ok)
    assert.Equal(t, uint64(7), id)

    _, ok = subject(ctx("estudiante"), 8, true)
    assert.False(t, ok)

    id, ok = subject(ctx("administrativo"), 8, true)
    assert.True(t, ok)
    assert.Equal(t, uint64(8), id)
}

func TestEventFormNormalize(t *testing.T) {
    price := 0.0
    f := eventForm{
        Name: " Feria ", Description: "d", Date: "2030-01-02", Time: "8h30", Venue: "v",
        Capacity: 5, Price: &price, Access: "solo_tec", ImageURL: "u", Schools: []uint64{2, 2},
    }
    assert.Equal(t, "Formato de hora inválido (HH:MM)", f.normalize(true))

    f.Time = "08:30"
    assert.Empty(t, f.normalize(true))
    assert.Equal(t, "Feria", f.Name)
    assert.Equal(t, "08:30:00", f.Time)
    assert.Equal(t, []uint64{2}, f.Schools)

    f.Access = "vip"
    assert.Equal(t, "Tipo de acceso inválido", f.normalize(true))
    assert.Empty(t, f.normalize(false))

    f.Price = nil
    assert.Equal(t, "Todos los campos son requeridos", f.normalize(false))
}

func TestRegisterAdminCode(t *testing.T) {
    base := registerReq{
        Name: "Ana", Surname: "Mora", Email: "ana@itcr.ac.cr", Username: "amora",
        Password: "secreto123", Role: "administrativo",
    }
    for _, tc := range []struct {
        code string
        want string
    }{
        {"777", ""},
        {"778", "Código de administrador inválido"},
        {"77", "Código de administrador inválido"},
        {"", "Código de administrador inválido"},
    } {
        r := base
        r.AdminCode = tc.code
        assert.Equal(t, tc.want, r.validate("777"), "code %q", tc.code)
    }
}
