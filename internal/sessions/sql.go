package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentkit/pkg/models"
)

// sqlService is the shared SQL-backed Service implementation. SQLiteService
// and PostgresService wrap it with their driver and dialect.
type sqlService struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	// rebind converts ?-style placeholders to the driver's style.
	rebind func(string) string
	// upsert renders an insert-or-replace for (table, columns, conflict cols).
	upsert func(table string, cols, conflict []string) string
}

var sqliteDialect = dialect{
	rebind: func(q string) string { return q },
	upsert: func(table string, cols, conflict []string) string {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		return fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET value = excluded.value",
			table, strings.Join(cols, ","), placeholders, strings.Join(conflict, ","))
	},
}

var postgresDialect = dialect{
	rebind: func(q string) string {
		var b strings.Builder
		n := 0
		for _, r := range q {
			if r == '?' {
				n++
				fmt.Fprintf(&b, "$%d", n)
			} else {
				b.WriteRune(r)
			}
		}
		return b.String()
	},
	upsert: func(table string, cols, conflict []string) string {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		return fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET value = excluded.value",
			table, strings.Join(cols, ","), placeholders, strings.Join(conflict, ","))
	},
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	app_name         TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	state            TEXT NOT NULL DEFAULT '{}',
	last_update_ms   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_events (
	session_id  TEXT NOT NULL,
	seq         BIGINT NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE TABLE IF NOT EXISTS app_state (
	app_name  TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (app_name, key)
);
CREATE TABLE IF NOT EXISTS user_state (
	app_name  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (app_name, user_id, key)
);
CREATE INDEX IF NOT EXISTS idx_sessions_app_user ON sessions (app_name, user_id);
`

func (s *sqlService) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sessions: migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlService) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sessions: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	q := s.dialect.rebind("SELECT COUNT(1) FROM sessions WHERE id = ?")
	if err := tx.QueryRowContext(ctx, q, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("sessions: check id: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	sessionState := map[string]json.RawMessage{}
	now := time.Now()
	for k, v := range req.State {
		switch scopeOf(k) {
		case KeyPrefixTemp:
			return nil, fmt.Errorf("sessions: temp: keys are not allowed in initial state: %s", k)
		case KeyPrefixApp:
			if err := s.upsertScoped(ctx, tx, "app_state",
				[]string{"app_name", "key", "value"}, []string{"app_name", "key"},
				req.AppName, k, string(v)); err != nil {
				return nil, err
			}
		case KeyPrefixUser:
			if err := s.upsertScoped(ctx, tx, "user_state",
				[]string{"app_name", "user_id", "key", "value"}, []string{"app_name", "user_id", "key"},
				req.AppName, req.UserID, k, string(v)); err != nil {
				return nil, err
			}
		default:
			sessionState[k] = v
		}
	}
	stateJSON, err := json.Marshal(sessionState)
	if err != nil {
		return nil, fmt.Errorf("sessions: encode state: %w", err)
	}
	q = s.dialect.rebind("INSERT INTO sessions (id, app_name, user_id, state, last_update_ms) VALUES (?, ?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, q, id, req.AppName, req.UserID, string(stateJSON), now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("sessions: insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sessions: commit: %w", err)
	}
	return s.Get(ctx, GetRequest{AppName: req.AppName, UserID: req.UserID, SessionID: id})
}

func (s *sqlService) upsertScoped(ctx context.Context, tx *sql.Tx, table string, cols, conflict []string, args ...any) error {
	q := s.dialect.rebind(s.dialect.upsert(table, cols, conflict))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sessions: upsert %s: %w", table, err)
	}
	return nil
}

func (s *sqlService) Get(ctx context.Context, req GetRequest) (*Session, error) {
	var (
		stateJSON string
		updateMS  int64
	)
	q := s.dialect.rebind("SELECT state, last_update_ms FROM sessions WHERE id = ? AND app_name = ? AND user_id = ?")
	err := s.db.QueryRowContext(ctx, q, req.SessionID, req.AppName, req.UserID).Scan(&stateJSON, &updateMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}

	sessionState := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(stateJSON), &sessionState); err != nil {
		return nil, fmt.Errorf("sessions: decode state: %w", err)
	}
	appState, err := s.loadScope(ctx, "SELECT key, value FROM app_state WHERE app_name = ?", req.AppName)
	if err != nil {
		return nil, err
	}
	userState, err := s.loadScope(ctx, "SELECT key, value FROM user_state WHERE app_name = ? AND user_id = ?", req.AppName, req.UserID)
	if err != nil {
		return nil, err
	}
	events, err := s.loadEvents(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:             req.SessionID,
		AppName:        req.AppName,
		UserID:         req.UserID,
		Events:         events,
		State:          NewState(appState, userState, sessionState),
		LastUpdateTime: time.UnixMilli(updateMS).UTC(),
	}, nil
}

func (s *sqlService) loadScope(ctx context.Context, query string, args ...any) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: load scope: %w", err)
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sessions: scan scope: %w", err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

func (s *sqlService) loadEvents(ctx context.Context, req GetRequest) ([]*models.Event, error) {
	q := s.dialect.rebind("SELECT payload FROM session_events WHERE session_id = ? ORDER BY seq")
	rows, err := s.db.QueryContext(ctx, q, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: load events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sessions: scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("sessions: decode event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !req.After.IsZero() {
		idx := len(events)
		for i, ev := range events {
			if ev.Timestamp.After(req.After) {
				idx = i
				break
			}
		}
		events = events[idx:]
	}
	if req.NumRecentEvents > 0 && len(events) > req.NumRecentEvents {
		events = events[len(events)-req.NumRecentEvents:]
	}
	return events, nil
}

func (s *sqlService) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	q := s.dialect.rebind("SELECT id FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY id")
	args := []any{req.AppName, req.UserID}
	if req.PageToken != "" {
		q = s.dialect.rebind("SELECT id FROM sessions WHERE app_name = ? AND user_id = ? AND id > ? ORDER BY id")
		args = append(args, req.PageToken)
	}
	rows, err := s.db.QueryContext(ctx, q+" LIMIT "+fmt.Sprint(listPageSize+1), args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessions: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resp := &ListResponse{}
	if len(ids) > listPageSize {
		resp.NextPageToken = ids[listPageSize-1]
		ids = ids[:listPageSize]
	}
	for _, id := range ids {
		sess, err := s.Get(ctx, GetRequest{AppName: req.AppName, UserID: req.UserID, SessionID: id})
		if err != nil {
			return nil, err
		}
		resp.Sessions = append(resp.Sessions, sess)
	}
	return resp, nil
}

// listPageSize bounds one List page for the SQL backends.
const listPageSize = 100

func (s *sqlService) Delete(ctx context.Context, req DeleteRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := s.dialect.rebind("DELETE FROM session_events WHERE session_id = ?")
	if _, err := tx.ExecContext(ctx, q, req.SessionID); err != nil {
		return fmt.Errorf("sessions: delete events: %w", err)
	}
	q = s.dialect.rebind("DELETE FROM sessions WHERE id = ? AND app_name = ? AND user_id = ?")
	if _, err := tx.ExecContext(ctx, q, req.SessionID, req.AppName, req.UserID); err != nil {
		return fmt.Errorf("sessions: delete session: %w", err)
	}
	return tx.Commit()
}

func (s *sqlService) AppendEvent(ctx context.Context, sessionID string, event *models.Event) error {
	if event == nil {
		return fmt.Errorf("sessions: event is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock the session row first so concurrent appends to the same session
	// queue here and then read the seq and state committed before them.
	q := s.dialect.rebind("UPDATE sessions SET last_update_ms = last_update_ms WHERE id = ?")
	if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
		return fmt.Errorf("sessions: lock session: %w", err)
	}

	var (
		appName   string
		userID    string
		stateJSON string
	)
	q = s.dialect.rebind("SELECT app_name, user_id, state FROM sessions WHERE id = ?")
	err = tx.QueryRowContext(ctx, q, sessionID).Scan(&appName, &userID, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("sessions: lookup: %w", err)
	}

	var seq int64
	q = s.dialect.rebind("SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?")
	if err := tx.QueryRowContext(ctx, q, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("sessions: next seq: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("sessions: encode event: %w", err)
	}
	q = s.dialect.rebind("INSERT INTO session_events (session_id, seq, payload) VALUES (?, ?, ?)")
	if _, err := tx.ExecContext(ctx, q, sessionID, seq, string(payload)); err != nil {
		return fmt.Errorf("sessions: insert event: %w", err)
	}

	sessionState := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(stateJSON), &sessionState); err != nil {
		return fmt.Errorf("sessions: decode state: %w", err)
	}
	for k, v := range event.Actions.StateDelta {
		switch scopeOf(k) {
		case KeyPrefixTemp:
			// Never persisted.
		case KeyPrefixApp:
			if err := s.upsertScoped(ctx, tx, "app_state",
				[]string{"app_name", "key", "value"}, []string{"app_name", "key"},
				appName, k, string(v)); err != nil {
				return err
			}
		case KeyPrefixUser:
			if err := s.upsertScoped(ctx, tx, "user_state",
				[]string{"app_name", "user_id", "key", "value"}, []string{"app_name", "user_id", "key"},
				appName, userID, k, string(v)); err != nil {
				return err
			}
		default:
			sessionState[k] = v
		}
	}
	newState, err := json.Marshal(sessionState)
	if err != nil {
		return fmt.Errorf("sessions: encode state: %w", err)
	}
	q = s.dialect.rebind("UPDATE sessions SET state = ?, last_update_ms = ? WHERE id = ?")
	if _, err := tx.ExecContext(ctx, q, string(newState), event.Timestamp.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("sessions: update session: %w", err)
	}
	return tx.Commit()
}
