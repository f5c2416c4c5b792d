package sessions

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresService is a durable Service backed by PostgreSQL (or a compatible
// engine). AppendEvent serializes per session by locking the session row at
// the start of its transaction.
type PostgresService struct {
	sqlService
}

// NewPostgresService connects with the given DSN and runs migrations.
func NewPostgresService(ctx context.Context, dsn string) (*PostgresService, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessions: ping postgres: %w", err)
	}
	svc := &PostgresService{sqlService{db: db, dialect: postgresDialect}}
	if err := svc.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

// NewPostgresServiceFromDB wraps an existing handle. Used by tests.
func NewPostgresServiceFromDB(db *sql.DB) *PostgresService {
	return &PostgresService{sqlService{db: db, dialect: postgresDialect}}
}

// Close releases the underlying database handle.
func (s *PostgresService) Close() error { return s.db.Close() }
