package sessions

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteService is a file-backed Service for single-node deployments. The
// database is opened with a busy timeout so concurrent appenders queue
// instead of failing.
type SQLiteService struct {
	sqlService
}

// NewSQLiteService opens (and migrates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteService(ctx context.Context, path string) (*SQLiteService, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sessions: open sqlite: %w", err)
	}
	// SQLite allows one writer; funneling through a single connection keeps
	// AppendEvent transactions linearized.
	db.SetMaxOpenConns(1)
	svc := &SQLiteService{sqlService{db: db, dialect: sqliteDialect}}
	if err := svc.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

// Close releases the underlying database handle.
func (s *SQLiteService) Close() error { return s.db.Close() }
