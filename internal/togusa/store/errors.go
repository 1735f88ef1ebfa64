package store

import (
	"errors"

	sqlite "modernc.org/sqlite"
)

// Sentinel errors returned by store operations. Callers test with errors.Is;
// the wrapped message carries the entity identity.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a mutation would violate a uniqueness
	// invariant, e.g. a second review for the same message or a second
	// active model version.
	ErrConflict = errors.New("store: conflict")

	// ErrTransient marks retryable infrastructure failures (lock
	// contention, busy database). Runners sleep and retry the whole tick.
	ErrTransient = errors.New("store: transient")
)

// SQLite primary result codes used for error classification. Kept local so
// the store does not depend on the driver's generated constant package.
const (
	sqliteBusy       = 5  // SQLITE_BUSY
	sqliteLocked     = 6  // SQLITE_LOCKED
	sqliteConstraint = 19 // SQLITE_CONSTRAINT
)

// isBusy reports whether err is SQLite lock contention one busy_timeout
// could not absorb.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqliteBusy || code == sqliteLocked
}

// isConstraint reports whether err is a SQLite constraint violation
// (unique, check, foreign key).
func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqliteConstraint
}

// classify maps driver-level failures onto the store's sentinel taxonomy.
// Errors that fit no category pass through unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isBusy(err):
		return errors.Join(ErrTransient, err)
	case isConstraint(err):
		return errors.Join(ErrConflict, err)
	default:
		return err
	}
}
