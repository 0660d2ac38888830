// Package service holds the reservation workflow: the transactional
// sequence over the capacity and reservation ledgers, and the best-effort
// confirmation that follows a commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/model"
	"github.com/ubicatec/ubicatec-api/internal/queue"
	"github.com/ubicatec/ubicatec-api/internal/repository"
)

// Code classifies the outcome of a reservation attempt.
type Code int

const (
	CodeOK Code = iota
	CodeNotFound
	CodeNotAvailable
	CodeSoldOut
	CodeDuplicate
	CodeBadRequest
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNotFound:
		return "not_found"
	case CodeNotAvailable:
		return "not_available"
	case CodeSoldOut:
		return "sold_out"
	case CodeDuplicate:
		return "duplicate"
	case CodeBadRequest:
		return "bad_request"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// User-facing messages.
const (
	MsgCreated       = "Reserva creada exitosamente"
	MsgMissingIDs    = "ID del evento y usuario son requeridos"
	MsgEventNotFound = "Evento no encontrado"
	MsgUserNotFound  = "Usuario no encontrado"
	MsgNotAvailable  = "El evento no está disponible para reservas"
	MsgSoldOut       = "No hay cupos disponibles para este evento"
	MsgDuplicate     = "Ya tienes una reserva para este evento"
)

// ReservationData is the success payload.
type ReservationData struct {
	ReservationID uint64 `json:"id_reserva"`
	EventID       uint64 `json:"id_evento"`
	UserID        uint64 `json:"id_usuario"`
	EmailSent     bool   `json:"emailSent"`
}

// Result is the typed outcome of Reserve.  Data is set only for CodeOK.
type Result struct {
	Code    Code
	Message string
	Data    *ReservationData
}

// OK reports whether the reservation was created.
func (r Result) OK() bool { return r.Code == CodeOK }

func rejected(code Code, msg string) Result { return Result{Code: code, Message: msg} }

// ReserveInput identifies the seat being claimed.
type ReserveInput struct {
	EventID       uint64
	UserID        uint64
	PaymentMethod string
}

// ReservationService runs the reservation workflow.
type ReservationService struct {
	gw           *database.Gateway
	events       *repository.EventRepo
	reservations *repository.ReservationRepo
	users        *repository.UserRepo
	dispatcher   *Dispatcher
	notifyWait   time.Duration
	log          *zap.Logger
}

func NewReservationService(
	gw *database.Gateway,
	events *repository.EventRepo,
	reservations *repository.ReservationRepo,
	users *repository.UserRepo,
	dispatcher *Dispatcher,
	notifyWait time.Duration,
	log *zap.Logger,
) *ReservationService {
	return &ReservationService{
		gw:           gw,
		events:       events,
		reservations: reservations,
		users:        users,
		dispatcher:   dispatcher,
		notifyWait:   notifyWait,
		log:          log,
	}
}

// Reserve claims one seat of an event for a user.
//
// Validation happens before any connection is taken.  Loading the event
// and user, the duplicate check, the seat increment and the insert all
// run in one transaction on one dedicated connection; any rejection or
// error leaves through the deferred Release, which rolls back.  After
// commit the confirmation is dispatched and awaited for at most
// notifyWait; its outcome only sets EmailSent.
//
// A non-nil error means an infrastructure failure (pool exhausted, lost
// connection, failed commit); business rejections come back as a Result.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (Result, error) {
	if in.EventID == 0 || in.UserID == 0 {
		return rejected(CodeBadRequest, MsgMissingIDs), nil
	}
	log := s.log.With(zap.Uint64("id_evento", in.EventID), zap.Uint64("id_usuario", in.UserID))

	conn, err := s.gw.Acquire(ctx)
	if err != nil {
		log.Error("reservation failed", zap.String("stage", "acquire"), zap.Error(err))
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := conn.Begin(ctx); err != nil {
		log.Error("reservation failed", zap.String("stage", "begin"), zap.Error(err))
		return Result{}, fmt.Errorf("begin: %w", err)
	}

	ev, err := s.events.GetTx(ctx, conn, in.EventID)
	if errors.Is(err, repository.ErrEventNotFound) {
		return s.reject(log, CodeNotFound, MsgEventNotFound), nil
	}
	if err != nil {
		return s.fail(log, "load event", err)
	}
	user, err := s.users.GetByIDTx(ctx, conn, in.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return s.reject(log, CodeNotFound, MsgUserNotFound), nil
	}
	if err != nil {
		return s.fail(log, "load user", err)
	}

	has, err := s.reservations.HasReservationTx(ctx, conn, in.EventID, in.UserID)
	if err != nil {
		return s.fail(log, "duplicate check", err)
	}
	if has {
		return s.reject(log, CodeDuplicate, MsgDuplicate), nil
	}

	st, err := s.events.TryReserveSeatTx(ctx, conn, in.EventID)
	switch {
	case errors.Is(err, repository.ErrSoldOut):
		return s.reject(log, CodeSoldOut, MsgSoldOut), nil
	case errors.Is(err, repository.ErrEventCancelled), errors.Is(err, repository.ErrEventNotAvailable):
		return s.reject(log, CodeNotAvailable, MsgNotAvailable), nil
	case errors.Is(err, repository.ErrEventNotFound):
		return s.reject(log, CodeNotFound, MsgEventNotFound), nil
	case err != nil:
		return s.fail(log, "reserve seat", err)
	}

	res := &model.Reservation{EventID: in.EventID, UserID: in.UserID, PaymentMethod: in.PaymentMethod}
	if err := s.reservations.CreateTx(ctx, conn, res); err != nil {
		if errors.Is(err, repository.ErrDuplicateReservation) {
			return s.reject(log, CodeDuplicate, MsgDuplicate), nil
		}
		return s.fail(log, "insert reservation", err)
	}

	if err := conn.Commit(); err != nil {
		return s.fail(log, "commit", err)
	}
	// hand the connection back before waiting on the notifier
	_ = conn.Release()

	log.Info("reservation created",
		zap.Uint64("id_reserva", res.ID),
		zap.Int("asistencia", st.Attendance),
		zap.Int("capacidad", st.Capacity),
		zap.String("estado", st.Status))

	sent := s.notify(ctx, log, queue.ReservationConfirmed{
		ReservationID: res.ID,
		EventID:       ev.ID,
		UserID:        user.ID,
		UserName:      user.FullName(),
		UserEmail:     user.Email,
		EventName:     ev.Name,
		EventDate:     ev.Date,
		EventTime:     ev.Time,
		Venue:         ev.Venue,
		ConfirmedAt:   time.Now().UTC().Format(time.RFC3339),
	})

	return Result{
		Code:    CodeOK,
		Message: MsgCreated,
		Data: &ReservationData{
			ReservationID: res.ID,
			EventID:       in.EventID,
			UserID:        in.UserID,
			EmailSent:     sent,
		},
	}, nil
}

// notify dispatches the confirmation and reports whether it was delivered
// within notifyWait.  A delivery still in flight keeps running and is
// reported as not sent.
func (s *ReservationService) notify(ctx context.Context, log *zap.Logger, ev queue.ReservationConfirmed) bool {
	if s.dispatcher == nil {
		return false
	}
	done := s.dispatcher.Dispatch(ev)
	t := time.NewTimer(s.notifyWait)
	defer t.Stop()
	select {
	case err := <-done:
		return err == nil
	case <-t.C:
		log.Warn("confirmation still in flight", zap.Uint64("id_reserva", ev.ReservationID))
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *ReservationService) reject(log *zap.Logger, code Code, msg string) Result {
	log.Info("reservation rejected", zap.Stringer("code", code))
	return rejected(code, msg)
}

func (s *ReservationService) fail(log *zap.Logger, stage string, err error) (Result, error) {
	log.Error("reservation failed", zap.String("stage", stage), zap.Error(err))
	return Result{}, fmt.Errorf("%s: %w", stage, err)
}

// CheckReservation returns the user's reservation for the event, or nil.
// It is a plain read with no side effects.
func (s *ReservationService) CheckReservation(ctx context.Context, eventID, userID uint64) (*repository.ReservationDetail, error) {
	return s.reservations.FindByEventAndUser(ctx, eventID, userID)
}

// MyReservations lists a user's reservations.
func (s *ReservationService) MyReservations(ctx context.Context, userID uint64) ([]repository.ReservationDetail, error) {
	return s.reservations.ListByUser(ctx, userID)
}
