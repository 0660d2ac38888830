package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/model"
)

// ReservationRepo is the reservation ledger.  One row per (event, user)
// pair, enforced by the uq_reservas_evento_usuario unique key.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// HasReservationTx reports whether the user already holds a seat for the
// event, reading through q so it sees the caller's transaction.
func (r *ReservationRepo) HasReservationTx(ctx context.Context, q database.Querier, eventID, userID uint64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM Reservas WHERE id_evento = ? AND id_usuario = ? LIMIT 1`,
		eventID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateTx inserts a reservation within the caller's transaction and
// populates the generated ID and timestamp.  A unique-key violation is
// reported as ErrDuplicateReservation.
func (r *ReservationRepo) CreateTx(ctx context.Context, q database.Querier, res *model.Reservation) error {
	if res.Quantity == 0 {
		res.Quantity = 1
	}
	if res.PaymentMethod == "" {
		res.PaymentMethod = model.DefaultPaymentMethod
	}
	if res.Status == "" {
		res.Status = model.ReservationConfirmed
	}
	result, err := q.ExecContext(ctx,
		`INSERT INTO Reservas (id_evento, id_usuario, cantidad, metodo_pago, estado) VALUES (?, ?, ?, ?, ?)`,
		res.EventID, res.UserID, res.Quantity, res.PaymentMethod, res.Status)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateReservation
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	// Query back the defaulted timestamp
	return q.QueryRowContext(ctx,
		`SELECT fecha_reserva FROM Reservas WHERE id_reserva = ?`, res.ID).Scan(&res.CreatedAt)
}

// ReservationDetail is a reservation joined with the event it belongs to.
type ReservationDetail struct {
	ID            uint64 `json:"id_reserva"`
	EventID       uint64 `json:"id_evento"`
	UserID        uint64 `json:"id_usuario"`
	Quantity      int    `json:"cantidad"`
	PaymentMethod string `json:"metodo_pago"`
	Status        string `json:"estado"`
	CreatedAt     string `json:"fecha_reserva"`
	EventName     string `json:"nombre_evento"`
	EventDate     string `json:"fecha"`
	EventTime     string `json:"hora"`
	Venue         string `json:"lugar"`
	EventStatus   string `json:"estado_evento"`
}

const reservationDetailQuery = `SELECT r.id_reserva, r.id_evento, r.id_usuario, r.cantidad, r.metodo_pago,
       r.estado, r.fecha_reserva, e.nombre, e.fecha, e.hora, e.lugar, e.estado
FROM Reservas r
JOIN Eventos e ON e.id_evento = r.id_evento `

func scanReservationDetail(s rowScanner, d *ReservationDetail) error {
	return s.Scan(&d.ID, &d.EventID, &d.UserID, &d.Quantity, &d.PaymentMethod,
		&d.Status, &d.CreatedAt, &d.EventName, &d.EventDate, &d.EventTime, &d.Venue, &d.EventStatus)
}

// FindByEventAndUser returns the user's reservation for the event, or nil
// when there is none.
func (r *ReservationRepo) FindByEventAndUser(ctx context.Context, eventID, userID uint64) (*ReservationDetail, error) {
	var d ReservationDetail
	err := scanReservationDetail(r.db.QueryRowContext(ctx,
		reservationDetailQuery+`WHERE r.id_evento = ? AND r.id_usuario = ?`, eventID, userID), &d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListByUser returns all reservations of a user ordered by event date.
// When none exist it returns an empty slice.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]ReservationDetail, error) {
	rows, err := r.db.QueryContext(ctx,
		reservationDetailQuery+`WHERE r.id_usuario = ? ORDER BY e.fecha ASC, e.hora ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ReservationDetail{}
	for rows.Next() {
		var d ReservationDetail
		if err := scanReservationDetail(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
