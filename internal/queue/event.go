// Package queue defines message payloads exchanged over the message broker
// and the consumer that drains them.
package queue

// ReservationQueue is the durable queue carrying confirmations.
const ReservationQueue = "reserva.confirmada"

// ReservationConfirmed is emitted after a reservation commits.  It carries
// everything the confirmation mail needs, so consumers never query the
// primary database.
type ReservationConfirmed struct {
    ReservationID uint64 `json:"id_reserva"`
    EventID       uint64 `json:"id_evento"`
    UserID        uint64 `json:"id_usuario"`
    UserName      string `json:"nombre_usuario"`
    UserEmail     string `json:"correo"`
    EventName     string `json:"nombre_evento"`
    EventDate     string `json:"fecha"` // 2006-01-02
    EventTime     string `json:"hora"`  // 15:04:05
    Venue         string `json:"lugar"`
    ConfirmedAt   string `json:"confirmado_en"` // RFC3339
}
