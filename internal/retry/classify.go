package retry

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Class groups errors by how the caller should react.
type Class int

const (
	// TransientLock means the engine reported the database busy or locked.
	// It is the only retried class.
	TransientLock Class = iota
	// PermanentSchema covers constraint violations and malformed SQL.
	PermanentSchema
	// PermanentIO means the connection or file is unusable.
	PermanentIO
)

func (c Class) String() string {
	switch c {
	case TransientLock:
		return "transient-lock"
	case PermanentSchema:
		return "permanent-schema"
	case PermanentIO:
		return "permanent-io"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ErrTransientLock is matched by errors.Is once a retry budget runs out.
var ErrTransientLock = errors.New("database is locked")

// ExhaustedError is returned when every attempt failed with a lock error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("database locked after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrTransientLock, e.Err}
}

// Classify maps a non-nil error to its Class.
func Classify(err error) Class {
	if errors.Is(err, ErrTransientLock) {
		return TransientLock
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return classifyCode(se.Code())
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return PermanentIO
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "sqlite_busy"),
		strings.Contains(msg, "sqlite_locked"):
		return TransientLock
	}
	return PermanentIO
}

// IsTransient reports whether err is a lock error.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == TransientLock
}

func classifyCode(code int) Class {
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return TransientLock
	case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_CORRUPT,
		sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FULL, sqlite3.SQLITE_READONLY,
		sqlite3.SQLITE_PERM, sqlite3.SQLITE_NOMEM:
		return PermanentIO
	}
	return PermanentSchema
}
