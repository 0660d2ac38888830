package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/model"
)

// EventRepo owns the Eventos table.  It is the capacity ledger: every change
// to asistencia goes through TryReserveSeatTx and every change to capacidad
// goes through Update, both single conditional statements.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle.
func (r *EventRepo) DB() *sql.DB { return r.db }

// SeatStatus is the capacity ledger view of an event.
type SeatStatus struct {
	Capacity   int
	Attendance int
	Status     string
}

// EventDetail is an event plus the creator's display name.
type EventDetail struct {
	model.Event
	CreatorName string
}

const eventColumns = `e.id_evento, e.nombre, e.descripcion, e.fecha, e.hora, e.lugar,
	e.capacidad, e.asistencia, e.precio, e.acceso, e.imagen_url, e.alt_imagen,
	e.estado, e.id_creador, e.creado_en`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner, ev *model.Event, extra ...any) error {
	dest := []any{
		&ev.ID, &ev.Name, &ev.Description, &ev.Date, &ev.Time, &ev.Venue,
		&ev.Capacity, &ev.Attendance, &ev.Price, &ev.Access, &ev.ImageURL, &ev.ImageAlt,
		&ev.Status, &ev.CreatorID, &ev.CreatedAt,
	}
	return s.Scan(append(dest, extra...)...)
}

// GetStatusTx reads the counters of an event through q.
func (r *EventRepo) GetStatusTx(ctx context.Context, q database.Querier, eventID uint64) (SeatStatus, error) {
	var st SeatStatus
	err := q.QueryRowContext(ctx,
		`SELECT capacidad, asistencia, estado FROM Eventos WHERE id_evento = ?`,
		eventID).Scan(&st.Capacity, &st.Attendance, &st.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return SeatStatus{}, ErrEventNotFound
	}
	return st, err
}

// TryReserveSeatTx takes one seat of the event.  The availability check and
// the increment are one conditional UPDATE, so two transactions racing for
// the last seat cannot both match the row.  When nothing matched the row
// is re-read to tell the caller why.  On success the status is recomputed
// inside the same transaction and the new counters are returned.
func (r *EventRepo) TryReserveSeatTx(ctx context.Context, q database.Querier, eventID uint64) (SeatStatus, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE Eventos SET asistencia = asistencia + 1
		 WHERE id_evento = ? AND estado = 'disponible' AND asistencia < capacidad`,
		eventID)
	if err != nil {
		return SeatStatus{}, fmt.Errorf("reserve seat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return SeatStatus{}, fmt.Errorf("reserve seat: %w", err)
	}
	if n == 0 {
		st, err := r.GetStatusTx(ctx, q, eventID)
		if err != nil {
			return SeatStatus{}, err
		}
		return st, seatShortfall(st)
	}
	if err := r.recomputeStatusTx(ctx, q, eventID); err != nil {
		return SeatStatus{}, err
	}
	return r.GetStatusTx(ctx, q, eventID)
}

// seatShortfall explains why the conditional UPDATE matched no row, given
// the counters read afterwards.  A row that still reads as open means the
// read came from a snapshot older than the UPDATE: another transaction took
// the last seat, since seats are never handed back.
func seatShortfall(st SeatStatus) error {
	switch {
	case st.Status == model.EventCancelled:
		return ErrEventCancelled
	case st.Attendance >= st.Capacity:
		return ErrSoldOut
	case st.Status == model.EventAvailable:
		return ErrSoldOut
	default:
		return ErrEventNotAvailable
	}
}

// recomputeStatusTx derives estado from the counters.  It is a separate
// statement because MySQL and SQLite disagree on whether a SET clause sees
// values assigned earlier in the same UPDATE.
func (r *EventRepo) recomputeStatusTx(ctx context.Context, q database.Querier, eventID uint64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE Eventos
		 SET estado = CASE WHEN asistencia >= capacidad THEN 'agotado' ELSE 'disponible' END
		 WHERE id_evento = ? AND estado <> 'cancelado'`,
		eventID)
	if err != nil {
		return fmt.Errorf("recompute status: %w", err)
	}
	return nil
}

// GetTx loads a full event through q.
func (r *EventRepo) GetTx(ctx context.Context, q database.Querier, eventID uint64) (model.Event, error) {
	var ev model.Event
	err := scanEvent(q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM Eventos e WHERE e.id_evento = ?`, eventID), &ev)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrEventNotFound
	}
	return ev, err
}

// GetDetail returns an event with its creator's name and school scope.
func (r *EventRepo) GetDetail(ctx context.Context, eventID uint64) (EventDetail, error) {
	var (
		d       EventDetail
		name    string
		surname string
	)
	err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+`, u.nombre, u.apellido
		 FROM Eventos e
		 JOIN Usuarios u ON u.id_usuario = e.id_creador
		 WHERE e.id_evento = ?`, eventID), &d.Event, &name, &surname)
	if errors.Is(err, sql.ErrNoRows) {
		return EventDetail{}, ErrEventNotFound
	}
	if err != nil {
		return EventDetail{}, err
	}
	d.CreatorName = strings.TrimSpace(name + " " + surname)
	schools, err := r.schoolsOf(ctx, eventID)
	if err != nil {
		return EventDetail{}, err
	}
	d.Schools = schools
	return d, nil
}

func (r *EventRepo) schoolsOf(ctx context.Context, eventID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id_escuela FROM EventosEscuelas WHERE id_evento = ? ORDER BY id_escuela`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []uint64{}
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Create inserts an event and its school scope in one transaction and
// populates ev.ID.  Schools are only recorded for solo_tec events.
func (r *EventRepo) Create(ctx context.Context, ev *model.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	schools := ev.Schools
	if ev.Access != model.AccessCampusOnly {
		schools = nil
	}
	if err := checkSchoolsTx(ctx, tx, schools); err != nil {
		return err
	}
	if ev.ImageAlt == "" {
		ev.ImageAlt = "Imagen del evento"
	}
	ev.Attendance = 0
	ev.Status = model.EventAvailable
	res, err := tx.ExecContext(ctx,
		`INSERT INTO Eventos (nombre, descripcion, fecha, hora, lugar, capacidad, asistencia, precio,
		                      acceso, imagen_url, alt_imagen, estado, id_creador)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		ev.Name, ev.Description, ev.Date, ev.Time, ev.Venue, ev.Capacity, ev.Price,
		ev.Access, ev.ImageURL, ev.ImageAlt, ev.Status, ev.CreatorID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)

	if len(schools) > 0 {
		query := `INSERT INTO EventosEscuelas (id_evento, id_escuela) VALUES `
		args := make([]any, 0, len(schools)*2)
		for i, s := range schools {
			if i > 0 {
				query += ","
			}
			query += "(?, ?)"
			args = append(args, ev.ID, s)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert event schools: %w", err)
		}
	}
	ev.Schools = schools

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// checkSchoolsTx verifies every id exists in EscuelasTEC.  ids must be
// free of duplicates.
func checkSchoolsTx(ctx context.Context, tx *sql.Tx, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM EscuelasTEC WHERE id_escuela IN (`+marks+`)`, args...).Scan(&n); err != nil {
		return err
	}
	if n != len(ids) {
		return ErrSchoolNotFound
	}
	return nil
}

// EventUpdate carries the editable fields of an event.  Access and school
// scope are fixed at creation.
type EventUpdate struct {
	Name        string
	Description string
	Date        string
	Time        string
	Venue       string
	Capacity    int
	Price       float64
	ImageURL    string
	ImageAlt    string
}

// Update edits an event in a single statement.  The new capacity may not
// drop below the seats already taken and the status is re-derived from the
// new capacity; a cancelled event stays cancelled.
func (r *EventRepo) Update(ctx context.Context, eventID uint64, in EventUpdate) error {
	if in.ImageAlt == "" {
		in.ImageAlt = "Imagen del evento"
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE Eventos
		 SET nombre = ?, descripcion = ?, fecha = ?, hora = ?, lugar = ?, capacidad = ?,
		     precio = ?, imagen_url = ?, alt_imagen = ?,
		     estado = CASE
		         WHEN estado = 'cancelado' THEN 'cancelado'
		         WHEN asistencia >= ? THEN 'agotado'
		         ELSE 'disponible' END
		 WHERE id_evento = ? AND asistencia <= ?`,
		in.Name, in.Description, in.Date, in.Time, in.Venue, in.Capacity,
		in.Price, in.ImageURL, in.ImageAlt,
		in.Capacity,
		eventID, in.Capacity)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetStatusTx(ctx, r.db, eventID); err != nil {
			return err
		}
		return ErrCapacityBelowAttendance
	}
	return nil
}

// Cancel soft-deletes an event.  The row and its reservations are kept.
func (r *EventRepo) Cancel(ctx context.Context, eventID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE Eventos SET estado = 'cancelado' WHERE id_evento = ? AND estado <> 'cancelado'`,
		eventID)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetStatusTx(ctx, r.db, eventID); err != nil {
			return err
		}
		return ErrAlreadyCancelled
	}
	return nil
}

// ListPublic returns open events everyone can attend.
func (r *EventRepo) ListPublic(ctx context.Context) ([]model.Event, error) {
	return r.list(ctx,
		`WHERE e.acceso = 'todos' AND e.estado = 'disponible'`)
}

// ListGeneral returns open events that are not scoped to particular
// schools: every todos event and unscoped solo_tec events.
func (r *EventRepo) ListGeneral(ctx context.Context) ([]model.Event, error) {
	return r.list(ctx,
		`WHERE e.estado = 'disponible'
		   AND (e.acceso = 'todos'
		        OR NOT EXISTS (SELECT 1 FROM EventosEscuelas ee WHERE ee.id_evento = e.id_evento))`)
}

// ListBySchool returns the non-cancelled events scoped to a school.
func (r *EventRepo) ListBySchool(ctx context.Context, schoolID uint64) ([]model.Event, error) {
	return r.list(ctx,
		`WHERE e.estado <> 'cancelado'
		   AND EXISTS (SELECT 1 FROM EventosEscuelas ee WHERE ee.id_evento = e.id_evento AND ee.id_escuela = ?)`,
		schoolID)
}

// ListForRole returns the non-cancelled events a user with the given role
// and school may see.  Visitors see todos events; students additionally
// see unscoped solo_tec events and those scoped to their school;
// administrators see everything.
func (r *EventRepo) ListForRole(ctx context.Context, role string, schoolID *uint64) ([]model.Event, error) {
	switch role {
	case model.RoleAdmin:
		return r.list(ctx, `WHERE e.estado <> 'cancelado'`)
	case model.RoleStudent:
		var sid uint64
		if schoolID != nil {
			sid = *schoolID
		}
		return r.list(ctx,
			`WHERE e.estado <> 'cancelado'
			   AND (e.acceso = 'todos'
			        OR NOT EXISTS (SELECT 1 FROM EventosEscuelas ee WHERE ee.id_evento = e.id_evento)
			        OR EXISTS (SELECT 1 FROM EventosEscuelas ee WHERE ee.id_evento = e.id_evento AND ee.id_escuela = ?))`,
			sid)
	default:
		return r.list(ctx, `WHERE e.estado <> 'cancelado' AND e.acceso = 'todos'`)
	}
}

// ListByCreator returns every event an administrator created, cancelled
// ones included, newest first.
func (r *EventRepo) ListByCreator(ctx context.Context, creatorID uint64) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM Eventos e WHERE e.id_creador = ? ORDER BY e.fecha DESC, e.hora DESC`,
		creatorID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *EventRepo) list(ctx context.Context, where string, args ...any) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM Eventos e `+where+` ORDER BY e.fecha ASC, e.hora ASC`, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		var ev model.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
