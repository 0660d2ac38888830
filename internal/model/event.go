package model

// Event status values stored in Eventos.estado.
const (
    EventAvailable = "disponible"
    EventSoldOut   = "agotado"
    EventCancelled = "cancelado"
)

// Access scopes stored in Eventos.acceso.  solo_tec events may further be
// restricted to the schools listed in EventosEscuelas.
const (
    AccessPublic     = "todos"
    AccessCampusOnly = "solo_tec"
)

// Event represents a campus event as stored in the `Eventos` table.
// Date and time are kept in their database text form ("2006-01-02" and
// "15:04:05") so both engines scan them identically.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – event title.
//  Description – free text description.
//  Date        – calendar date of the event.
//  Time        – start time of the event.
//  Venue       – where the event takes place.
//  Capacity    – total seats, at least 1.
//  Attendance  – seats already reserved, never above Capacity.
//  Price       – ticket price, 0 for free events.
//  Access      – todos or solo_tec.
//  ImageURL    – image reference supplied by the client.
//  ImageAlt    – alternative text for the image.
//  Status      – disponible, agotado or cancelado.
//  CreatorID   – administrator who created the event.
//  Schools     – school ids scoping a solo_tec event (may be empty).
type Event struct {
    ID          uint64
    Name        string
    Description string
    Date        string
    Time        string
    Venue       string
    Capacity    int
    Attendance  int
    Price       float64
    Access      string
    ImageURL    string
    ImageAlt    string
    Status      string
    CreatorID   uint64
    CreatedAt   string
    Schools     []uint64
}

// Available returns the number of seats still free.
func (e Event) Available() int {
    if e.Attendance >= e.Capacity {
        return 0
    }
    return e.Capacity - e.Attendance
}

// DeriveStatus returns the status an event must have for the given
// counters.  A cancelled event stays cancelled.
func DeriveStatus(capacity, attendance int, current string) string {
    if current == EventCancelled {
        return EventCancelled
    }
    if attendance >= capacity {
        return EventSoldOut
    }
    return EventAvailable
}

// ValidStatus reports whether s is one of the stored status values.
func ValidStatus(s string) bool {
    return s == EventAvailable || s == EventSoldOut || s == EventCancelled
}

// ValidAccess reports whether s is a known access scope.
func ValidAccess(s string) bool {
    return s == AccessPublic || s == AccessCampusOnly
}
