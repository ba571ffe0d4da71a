// Package history is the durable local archive of contacts,
// conversations and messages. It hydrates the in-memory store at
// startup, persists engine mutations as they happen, and serves
// full-text message search.
package history

import (
	"database/sql"
	"fmt"

	"github.com/chatdeskhq/chatdesk/internal/backend"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for the archive database. It is the
// local backend.HistoryProvider: hydration reads through the same
// contract a hosted conversation API would implement.
type DB struct {
	*sql.DB
}

var _ backend.HistoryProvider = (*DB)(nil)

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return &DB{db}, nil
}
