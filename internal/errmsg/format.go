// Package errmsg provides consistent error formatting for user-facing messages.
package errmsg

import (
	"errors"
	"fmt"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/retry"
)

// Op represents an operation that can fail.
type Op string

// Operation constants - grouped by domain.
const (
	// Library operations
	OpLibraryScan   Op = "scan library"
	OpLibraryWatch  Op = "watch library"
	OpLibraryLoad   Op = "load library"
	OpLibrarySearch Op = "search library"
	OpAlbumLoad     Op = "load albums"

	// Database operations
	OpDatabaseOpen    Op = "open library database"
	OpDatabaseMigrate Op = "migrate library database"
	OpLedgerLoad      Op = "read migration ledger"

	// Playlist operations
	OpPlaylistCreate   Op = "create playlist"
	OpPlaylistRename   Op = "rename playlist"
	OpPlaylistDelete   Op = "delete playlist"
	OpPlaylistLoad     Op = "load playlist"
	OpPlaylistAddTrack Op = "add track to playlist"
	OpPlaylistRemove   Op = "remove track from playlist"
	OpPlaylistMove     Op = "move playlist item"

	// Initialization
	OpConfigLoad Op = "load configuration"
	OpInitialize Op = "initialize application"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message with additional context.
func FormatWith(op Op, context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, context, err)
}

// Hint suggests what the user can do about err, or returns "".
func Hint(err error) string {
	switch {
	case errors.Is(err, retry.ErrTransientLock):
		return "another program is writing to the library database, try again in a moment"
	case errors.Is(err, db.ErrConnect):
		return "check that the database directory exists and is writable"
	case errors.Is(err, db.ErrEncoding):
		return "a value could not be stored; rescan after fixing the file's tags"
	}
	return ""
}
