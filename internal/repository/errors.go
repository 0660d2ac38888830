// Package repository defines the data access layer and the sentinel errors
// reused across it.  Higher layers distinguish failure scenarios with
// errors.Is; handlers translate them into HTTP status codes.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource that belongs to someone else.  Handlers translate it into 403.
var ErrForbidden = errors.New("forbidden")

// Capacity ledger outcomes.
var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEventCancelled    = errors.New("event cancelled")
	ErrEventNotAvailable = errors.New("event not available")
	ErrSoldOut           = errors.New("event sold out")
)

// ErrDuplicateReservation is returned when the (event, user) pair already
// holds a reservation.  The unique key on Reservas is the enforcement; the
// pre-check only gives a friendlier path.
var ErrDuplicateReservation = errors.New("duplicate reservation")

// Event administration outcomes.
var (
	ErrCapacityBelowAttendance = errors.New("capacity below current attendance")
	ErrAlreadyCancelled        = errors.New("event already cancelled")
	ErrSchoolNotFound          = errors.New("school not found")
)

// User outcomes.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("email or username already exists")
)

// isDuplicateKey reports whether err is a unique-key violation on either
// engine.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// sqlTimestamp is the text layout of DATETIME columns on both engines.
const sqlTimestamp = "2006-01-02 15:04:05"
