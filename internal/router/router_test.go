package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/config"
	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/database/dbtest"
	"github.com/ubicatec/ubicatec-api/internal/handler"
	"github.com/ubicatec/ubicatec-api/internal/middleware"
	"github.com/ubicatec/ubicatec-api/internal/repository"
	"github.com/ubicatec/ubicatec-api/internal/service"
)

type api struct {
	t *testing.T
	e *echo.Echo
}

type envelope struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data"`
	TieneReserva bool            `json:"tieneReserva"`
	Reserva      json.RawMessage `json:"reserva"`
	Count        int             `json:"count"`
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop()
	cfg := config.Config{
		JWTSecret:      "router-test-secret",
		AccessTTLMin:   5,
		RefreshTTLDays: 1,
		BcryptCost:     4,
		AdminCode:      "777",
	}
	users := repository.NewUserRepo(db)
	events := repository.NewEventRepo(db)
	reservations := repository.NewReservationRepo(db)
	schools := repository.NewSchoolRepo(db)
	cache := middleware.NewResponseCache(config.CacheConfig{}, nil, log)

	dispatcher := service.NewDispatcher(service.LogNotifier{Log: log}, time.Second, log)
	t.Cleanup(dispatcher.Wait)
	svc := service.NewReservationService(database.NewGateway(db, 5*time.Second),
		events, reservations, users, dispatcher, time.Second, log)

	e := echo.New()
	Register(e, Deps{
		JWTSecret:    cfg.JWTSecret,
		Auth:         handler.NewAuthHandler(cfg, users, repository.NewTokenRepo(db), schools, log),
		Profile:      &handler.ProfileHandler{Users: users, BcryptCost: cfg.BcryptCost, Log: log},
		Events:       &handler.EventHandler{Events: events, Log: log},
		Reservations: &handler.ReservationHandler{Svc: svc, Cache: cache, Log: log},
		Admin:        &handler.AdminHandler{Events: events, Schools: schools, Cache: cache, Log: log},
		Cache:        cache,
	})
	return &api{t: t, e: e}
}

func (a *api) do(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get(echo.HeaderContentType) != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec.Code, env
}

type session struct {
	UserID uint64 `json:"id_usuario"`
	Role   string `json:"tipo_rol"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

var userSeq int

// register creates an account through the API and returns its session.
func (a *api) register(role string, extra map[string]any) session {
	a.t.Helper()
	userSeq++
	body := map[string]any{
		"nombre":      "Ana",
		"apellido":    "Mora",
		"correo":      fmt.Sprintf("ana%d@estudiantec.cr", userSeq),
		"usuario":     fmt.Sprintf("ana%d", userSeq),
		"contrasena":  "secreta123",
		"tipoUsuario": role,
	}
	for k, v := range extra {
		body[k] = v
	}
	code, env := a.do(http.MethodPost, "/api/usuarios/registro", "", body)
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	var s session
	require.NoError(a.t, json.Unmarshal(env.Data, &s))
	return s
}

func (a *api) createEvent(admin string, capacity int) uint64 {
	a.t.Helper()
	code, env := a.do(http.MethodPost, "/api/administradores/eventos", admin, map[string]any{
		"nombre":      "Festival de Bandas",
		"descripcion": "Bandas estudiantiles",
		"fecha":       "2030-03-12",
		"hora":        "15:00",
		"lugar":       "Gimnasio",
		"capacidad":   capacity,
		"precio":      0,
		"acceso":      "todos",
		"imagen_url":  "https://img.example/f.png",
	})
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	var out struct {
		ID uint64 `json:"id_evento"`
	}
	require.NoError(a.t, json.Unmarshal(env.Data, &out))
	return out.ID
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRegistrationRules(t *testing.T) {
	a := newAPI(t)
	cases := []struct {
		name string
		body map[string]any
		msg  string
	}{
		{"missing fields", map[string]any{"nombre": "Ana"}, "Todos los campos obligatorios deben ser completados"},
		{"bad email", map[string]any{"nombre": "A", "apellido": "B", "correo": "no-at", "usuario": "u", "contrasena": "secreta123", "tipoUsuario": "visitante"}, "El formato del correo electrónico no es válido"},
		{"short password", map[string]any{"nombre": "A", "apellido": "B", "correo": "a@b.cr", "usuario": "u", "contrasena": "corta", "tipoUsuario": "visitante"}, "La contraseña debe tener al menos 8 caracteres"},
		{"bad role", map[string]any{"nombre": "A", "apellido": "B", "correo": "a@b.cr", "usuario": "u", "contrasena": "secreta123", "tipoUsuario": "OWNER"}, "Tipo de usuario inválido"},
		{"student without school", map[string]any{"nombre": "A", "apellido": "B", "correo": "a@b.cr", "usuario": "u", "contrasena": "secreta123", "tipoUsuario": "estudiante"}, "Los estudiantes deben seleccionar una escuela"},
		{"admin bad code", map[string]any{"nombre": "A", "apellido": "B", "correo": "a@b.cr", "usuario": "u", "contrasena": "secreta123", "tipoUsuario": "administrativo", "codigoAdministrador": "000"}, "Código de administrador inválido"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := a.do(http.MethodPost, "/api/usuarios/registro", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
			assert.Equal(t, tc.msg, env.Message)
		})
	}

	s := a.register("estudiante", map[string]any{"idEscuela": "2"})
	assert.Equal(t, "estudiante", s.Role)
	assert.NotEmpty(t, s.Access.Token)
}

func TestLoginAndRefresh(t *testing.T) {
	a := newAPI(t)
	a.register("visitante", map[string]any{"correo": "login@ubicatec.cr"})

	code, env := a.do(http.MethodPost, "/api/login", "", map[string]any{"correo": "login@ubicatec.cr", "contrasena": "mala-clave"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Credenciales incorrectas", env.Message)

	code, env = a.do(http.MethodPost, "/api/login", "", map[string]any{"correo": "LOGIN@ubicatec.cr ", "contrasena": "secreta123"})
	require.Equal(t, http.StatusOK, code)
	var s session
	require.NoError(t, json.Unmarshal(env.Data, &s))

	code, _ = a.do(http.MethodPost, "/api/auth/refresh", "", map[string]any{"refresh_token": s.Refresh.Token})
	assert.Equal(t, http.StatusOK, code)
	// the old refresh token was rotated out
	code, _ = a.do(http.MethodPost, "/api/auth/refresh", "", map[string]any{"refresh_token": s.Refresh.Token})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestReservationFlow(t *testing.T) {
	a := newAPI(t)
	admin := a.register("administrativo", map[string]any{"codigoAdministrador": "777"})
	student := a.register("estudiante", map[string]any{"idEscuela": 1})
	visitor := a.register("visitante", nil)
	ev := a.createEvent(admin.Access.Token, 1)
	const reserve = "/api/evento/reserva"

	code, _ := a.do(http.MethodPost, reserve, "", map[string]any{"id_evento": ev})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := a.do(http.MethodPost, reserve, student.Access.Token, map[string]any{"id_evento": ev, "id_usuario": visitor.UserID})
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Success)

	code, env = a.do(http.MethodPost, reserve, student.Access.Token, map[string]any{"id_evento": ev})
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.True(t, env.Success)
	assert.Equal(t, service.MsgCreated, env.Message)
	var data service.ReservationData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, ev, data.EventID)
	assert.Equal(t, student.UserID, data.UserID)
	assert.True(t, data.EmailSent)

	code, env = a.do(http.MethodPost, reserve, student.Access.Token, map[string]any{"id_evento": ev})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.MsgDuplicate, env.Message)

	code, env = a.do(http.MethodPost, reserve, visitor.Access.Token, map[string]any{"id_evento": fmt.Sprint(ev)})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.MsgSoldOut, env.Message)

	code, env = a.do(http.MethodPost, reserve, visitor.Access.Token, map[string]any{"id_evento": 99999})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, service.MsgEventNotFound, env.Message)

	code, env = a.do(http.MethodPost, reserve, visitor.Access.Token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, service.MsgMissingIDs, env.Message)

	verify := fmt.Sprintf("/api/evento/verificar-reserva?id_evento=%d", ev)
	for i := 0; i < 2; i++ {
		code, env = a.do(http.MethodGet, verify, student.Access.Token, nil)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, env.TieneReserva)
		assert.Contains(t, string(env.Reserva), `"estado":"confirmada"`)
	}
	code, env = a.do(http.MethodGet, verify, visitor.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, env.TieneReserva)
	assert.Equal(t, "null", string(env.Reserva))

	code, env = a.do(http.MethodGet, "/api/mis-reservas", student.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Count)

	code, env = a.do(http.MethodGet, fmt.Sprintf("/api/evento/%d", ev), "", nil)
	require.Equal(t, http.StatusOK, code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.EqualValues(t, 0, detail["disponibles"])
	assert.Equal(t, "agotado", detail["estado"])
	assert.Equal(t, "12 de marzo · 3:00 p.m.", detail["fechaFormateada"])
	assert.Equal(t, "Ana Mora", detail["creador_nombre"])
	assert.Equal(t, "2030-03-12", detail["fechaCompleta"])
}

func TestAdminEventLifecycle(t *testing.T) {
	a := newAPI(t)
	admin := a.register("administrativo", map[string]any{"codigoAdministrador": "777"})
	student := a.register("estudiante", map[string]any{"idEscuela": 1})

	code, _ := a.do(http.MethodGet, "/api/administradores/eventos", student.Access.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := a.do(http.MethodGet, "/api/administradores/escuelas", admin.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "id_escuela")

	ev := a.createEvent(admin.Access.Token, 2)
	code, _ = a.do(http.MethodPost, "/api/evento/reserva", student.Access.Token, map[string]any{"id_evento": ev})
	require.Equal(t, http.StatusCreated, code)

	edit := map[string]any{
		"nombre": "Festival de Bandas", "descripcion": "Bandas", "fecha": "2030-03-13", "hora": "16:30",
		"lugar": "Gimnasio", "capacidad": 0, "precio": 1500, "imagen_url": "https://img.example/f.png",
	}
	path := fmt.Sprintf("/api/administradores/eventos/%d", ev)
	code, _ = a.do(http.MethodPut, path, admin.Access.Token, edit)
	assert.Equal(t, http.StatusBadRequest, code)

	edit["capacidad"] = 1
	code, env = a.do(http.MethodPut, path, admin.Access.Token, edit)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = a.do(http.MethodGet, fmt.Sprintf("/api/eventos/%d", ev), "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"estado":"agotado"`)
	assert.Contains(t, string(env.Data), `"hora":"16:30:00"`)

	code, env = a.do(http.MethodPut, "/api/administradores/eventos/99999", admin.Access.Token, edit)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(http.MethodDelete, path, admin.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = a.do(http.MethodDelete, path, admin.Access.Token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "El evento ya está cancelado", env.Message)

	code, env = a.do(http.MethodGet, "/api/administradores/eventos", admin.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Count)
	assert.Contains(t, string(env.Data), `"estado":"cancelado"`)

	code, env = a.do(http.MethodGet, "/api/eventos", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Count)
}

func TestEventListings(t *testing.T) {
	a := newAPI(t)
	admin := a.register("administrativo", map[string]any{"codigoAdministrador": "777"})
	a.createEvent(admin.Access.Token, 10)
	code, env := a.do(http.MethodPost, "/api/administradores/eventos", admin.Access.Token, map[string]any{
		"nombre": "Charla de Computación", "descripcion": "Solo Computación", "fecha": "2030-04-01",
		"hora": "09:00:00", "lugar": "B3", "capacidad": 30, "precio": 0, "acceso": "solo_tec",
		"imagen_url": "https://img.example/c.png", "escuelas": []uint64{1},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = a.do(http.MethodGet, "/api/eventos/publicos", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Count)

	code, env = a.do(http.MethodGet, "/api/eventos/escuela/1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Count)

	code, env = a.do(http.MethodGet, "/api/eventos/filtrados?tipo_rol=estudiante&id_escuela=1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, env.Count)

	code, env = a.do(http.MethodGet, "/api/eventos/filtrados?tipo_rol=estudiante&id_escuela=2", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Count)

	code, env = a.do(http.MethodGet, "/api/eventos/filtrados", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Tipo de rol es requerido", env.Message)

	code, _ = a.do(http.MethodGet, "/api/eventos/424242", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProfileSelfOrAdmin(t *testing.T) {
	a := newAPI(t)
	admin := a.register("administrativo", map[string]any{"codigoAdministrador": "777"})
	ana := a.register("visitante", nil)
	luis := a.register("visitante", nil)

	own := fmt.Sprintf("/api/perfil/%d", ana.UserID)
	code, env := a.do(http.MethodGet, own, ana.Access.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"tipo_rol":"visitante"`)

	code, _ = a.do(http.MethodGet, own, luis.Access.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodGet, own, admin.Access.Token, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = a.do(http.MethodPut, own, ana.Access.Token, map[string]any{
		"nombre": "Ana", "apellido": "Solís", "correo": "ana.solis@ubicatec.cr", "usuario": "anasolis",
		"nueva_contrasena": "otraclave99",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, _ = a.do(http.MethodPost, "/api/login", "", map[string]any{"correo": "ana.solis@ubicatec.cr", "contrasena": "otraclave99"})
	assert.Equal(t, http.StatusOK, code)
}
