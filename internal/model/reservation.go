package model

// ReservationConfirmed is the only reservation status in use.
const ReservationConfirmed = "confirmada"

// DefaultPaymentMethod is recorded when the client does not choose one.
const DefaultPaymentMethod = "efectivo"

// Reservation records one user's seat for one event.  At most one row
// exists per (EventID, UserID).
//
// Fields:
//  ID            – primary key identifier.
//  EventID       – reserved event.
//  UserID        – user holding the seat.
//  Quantity      – seats held, always 1.
//  PaymentMethod – how the user pays (efectivo by default).
//  Status        – confirmada.
//  CreatedAt     – creation timestamp ("2006-01-02 15:04:05").
type Reservation struct {
    ID            uint64
    EventID       uint64
    UserID        uint64
    Quantity      int
    PaymentMethod string
    Status        string
    CreatedAt     string
}
