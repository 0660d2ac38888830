// Package dbtest provisions migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ubicatec/ubicatec-api/internal/database"
)

var seq atomic.Int64

// Open returns a fresh database in t's temp dir with the full schema
// applied.  It is closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	return OpenPool(t, 1)
}

// OpenPool is Open with up to conns connections, for tests where
// transactions must genuinely overlap.
func OpenPool(t testing.TB, conns int) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLitePool(ctx, filepath.Join(t.TempDir(), "ubicatec.db"), conns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, "sqlite"))
	return db
}

// User seeds a user with the given role.  schoolID may be zero for
// non-students.  The password hash is a placeholder; tests that log in
// create users through the repository instead.
func User(t testing.TB, db *sql.DB, role string, schoolID int64) int64 {
	t.Helper()
	n := seq.Add(1)
	var school any
	if schoolID > 0 {
		school = schoolID
	}
	res, err := db.Exec(
		`INSERT INTO Usuarios (nombre, apellido, correo, usuario, contrasena_hash, tipo_rol, id_escuela)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"Nombre", fmt.Sprintf("Apellido%d", n), fmt.Sprintf("user%d@estudiantec.cr", n),
		fmt.Sprintf("user%d", n), "x", role, school)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// EventOpts describes a seeded event; zero values get sensible defaults.
type EventOpts struct {
	Name       string
	Capacity   int
	Attendance int
	Status     string
	Access     string
	Date       string
	Time       string
	CreatorID  int64
	Schools    []int64
}

// Event seeds an event and its school scoping rows.
func Event(t testing.TB, db *sql.DB, o EventOpts) int64 {
	t.Helper()
	if o.Name == "" {
		o.Name = fmt.Sprintf("Evento %d", seq.Add(1))
	}
	if o.Capacity == 0 {
		o.Capacity = 10
	}
	if o.Status == "" {
		o.Status = "disponible"
	}
	if o.Access == "" {
		o.Access = "todos"
	}
	if o.Date == "" {
		o.Date = "2030-03-12"
	}
	if o.Time == "" {
		o.Time = "15:00:00"
	}
	if o.CreatorID == 0 {
		o.CreatorID = User(t, db, "administrativo", 0)
	}
	res, err := db.Exec(
		`INSERT INTO Eventos (nombre, descripcion, fecha, hora, lugar, capacidad, asistencia, precio, acceso, imagen_url, estado, id_creador)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		o.Name, "Descripción", o.Date, o.Time, "Auditorio D3", o.Capacity, o.Attendance,
		o.Access, "https://img.example/evento.png", o.Status, o.CreatorID)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	for _, s := range o.Schools {
		_, err := db.Exec(`INSERT INTO EventosEscuelas (id_evento, id_escuela) VALUES (?, ?)`, id, s)
		require.NoError(t, err)
	}
	return id
}

// Counters returns (asistencia, estado) for an event.
func Counters(t testing.TB, db *sql.DB, eventID int64) (int, string) {
	t.Helper()
	var att int
	var status string
	require.NoError(t, db.QueryRow(`SELECT asistencia, estado FROM Eventos WHERE id_evento = ?`, eventID).Scan(&att, &status))
	return att, status
}

// CountReservations returns how many reservation rows exist for an event.
func CountReservations(t testing.TB, db *sql.DB, eventID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM Reservas WHERE id_evento = ?`, eventID).Scan(&n))
	return n
}
