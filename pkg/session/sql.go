// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentkit/pkg/agent"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLService implements Service on a SQL database (postgres, mysql or
// sqlite). Concurrency is handled by database transactions.
//
// App-scoped ("app:") and user-scoped ("user:") keys live in their own tables
// and are shared by every session of the app or user. Temp keys are never
// persisted.
type SQLService struct {
	db      *sql.DB
	dialect string
}

type sessionRow struct {
	AppName   string
	UserID    string
	ID        string
	StateJSON string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const createSessionsSchemaSQL = `CREATE TABLE IF NOT EXISTS sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    state_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`

const createAppStatesSchemaSQL = `CREATE TABLE IF NOT EXISTS app_states (
    app_name VARCHAR(255) PRIMARY KEY,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createUserStatesSchemaSQL = `CREATE TABLE IF NOT EXISTS user_states (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id)
)`

const createEventsSchemaSQL = `CREATE TABLE IF NOT EXISTS session_events (
    id VARCHAR(255) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    author VARCHAR(255),
    invocation_id VARCHAR(255),
    branch VARCHAR(255),
    event_json TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, id)
)`

const createEventsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(app_name, user_id, session_id, sequence_num)`

const createEventsInvocationIndexSQL = `CREATE INDEX IF NOT EXISTS idx_events_invocation ON session_events(app_name, user_id, session_id, invocation_id)`

// OpenSQLService opens the database and returns a service on it. driver is
// one of postgres, mysql, sqlite (or sqlite3).
func OpenSQLService(ctx context.Context, driver, dsn string) (*SQLService, error) {
	driverName := driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	svc, err := NewSQLService(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

// NewSQLService creates a SQL-based session service and its schema.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	case "sqlite3":
		dialect = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// One statement per call for sqlite.
	statements := []string{
		createSessionsSchemaSQL,
		createAppStatesSchemaSQL,
		createUserStatesSchemaSQL,
		createEventsSchemaSQL,
		createEventsIndexSQL,
		createEventsInvocationIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLService) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for stores sharing the database.
func (s *SQLService) DB() *sql.DB { return s.db }

// Get loads a session with its merged state and events.
func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	row, err := s.getSessionRow(ctx, req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	sessionState, err := decodeState(row.StateJSON)
	if err != nil {
		return nil, err
	}
	appState, err := s.getScopedState(ctx, s.db, `SELECT state_json FROM app_states WHERE app_name = ?`, req.AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to get app state: %w", err)
	}
	userState, err := s.getScopedState(ctx, s.db, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, req.AppName, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}
	events, err := s.getEvents(ctx, req.AppName, req.UserID, req.SessionID, req.NumRecentEvents, req.After)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	return &GetResponse{Session: &memorySession{
		id:             row.ID,
		appName:        row.AppName,
		userID:         row.UserID,
		state:          newMemoryState(mergeStates(appState, userState, sessionState)),
		events:         &memoryEvents{events: events},
		lastUpdateTime: row.UpdatedAt,
	}}, nil
}

// Create creates a new session.
func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now()
	appDelta, userDelta, sessionState := extractStateDeltas(req.State)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	appState, err := s.applyScopedDelta(ctx, tx, scopeApp, req.AppName, req.UserID, appDelta, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save app state: %w", err)
	}
	userState, err := s.applyScopedDelta(ctx, tx, scopeUser, req.AppName, req.UserID, userDelta, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save user state: %w", err)
	}

	stateJSON, err := json.Marshal(sessionState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO sessions (app_name, user_id, id, state_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		req.AppName, req.UserID, sessionID, string(stateJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &CreateResponse{Session: &memorySession{
		id:             sessionID,
		appName:        req.AppName,
		userID:         req.UserID,
		state:          newMemoryState(mergeStates(appState, userState, sessionState)),
		events:         &memoryEvents{},
		lastUpdateTime: now,
	}}, nil
}

// AppendEvent persists event and its state delta atomically. Partial events
// are ignored.
func (s *SQLService) AppendEvent(ctx context.Context, session Session, event *agent.Event) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.Partial {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	now := time.Now()
	appName, userID, sessionID := session.AppName(), session.UserID(), session.ID()
	appDelta, userDelta, sessionDelta := extractStateDeltas(event.Actions.StateDelta)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.applyScopedDelta(ctx, tx, scopeApp, appName, userID, appDelta, now); err != nil {
		return fmt.Errorf("failed to save app state: %w", err)
	}
	if _, err := s.applyScopedDelta(ctx, tx, scopeUser, appName, userID, userDelta, now); err != nil {
		return fmt.Errorf("failed to save user state: %w", err)
	}
	if len(sessionDelta) > 0 {
		if err := s.updateSessionStateTx(ctx, tx, appName, userID, sessionID, sessionDelta); err != nil {
			return fmt.Errorf("failed to update session state: %w", err)
		}
	}

	var seqNum int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		appName, userID, sessionID).Scan(&seqNum)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO session_events (id, app_name, user_id, session_id, author, invocation_id, branch, event_json, sequence_num, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, appName, userID, sessionID, event.Author, event.InvocationID, event.Branch, string(eventJSON), seqNum, now)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`),
		now, appName, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if ms, ok := session.(*memorySession); ok {
		ms.appendEvent(event)
	}
	return nil
}

// List returns the sessions of an app, optionally restricted to one user.
// Returned sessions carry their own state but no events.
func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	query := `SELECT app_name, user_id, id, state_json, created_at, updated_at FROM sessions WHERE app_name = ?`
	args := []any{req.AppName}
	if req.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, req.UserID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var row sessionRow
		if err := rows.Scan(&row.AppName, &row.UserID, &row.ID, &row.StateJSON, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		state, err := decodeState(row.StateJSON)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, &memorySession{
			id:             row.ID,
			appName:        row.AppName,
			userID:         row.UserID,
			state:          newMemoryState(state),
			events:         &memoryEvents{},
			lastUpdateTime: row.UpdatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &ListResponse{Sessions: sessions}, nil
}

// Delete removes a session and its events.
func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLService) getSessionRow(ctx context.Context, appName, userID, sessionID string) (*sessionRow, error) {
	var row sessionRow
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT app_name, user_id, id, state_json, created_at, updated_at FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		appName, userID, sessionID).Scan(&row.AppName, &row.UserID, &row.ID, &row.StateJSON, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &row, nil
}

func (s *SQLService) getEvents(ctx context.Context, appName, userID, sessionID string, numRecent int, after time.Time) ([]*agent.Event, error) {
	query := `SELECT event_json FROM session_events WHERE app_name = ? AND user_id = ? AND session_id = ?`
	args := []any{appName, userID, sessionID}
	if !after.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, after)
	}
	query += " ORDER BY sequence_num ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*agent.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev agent.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if numRecent > 0 && len(events) > numRecent {
		events = events[len(events)-numRecent:]
	}
	return events, nil
}

type stateScope int

const (
	scopeApp stateScope = iota
	scopeUser
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLService) getScopedState(ctx context.Context, q queryRower, query string, args ...any) (map[string]any, error) {
	var stateJSON string
	err := q.QueryRowContext(ctx, s.rebind(query), args...).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeState(stateJSON)
}

// applyScopedDelta merges delta into the app or user state row and returns
// the resulting state. An empty delta only reads.
func (s *SQLService) applyScopedDelta(ctx context.Context, tx *sql.Tx, scope stateScope, appName, userID string, delta map[string]any, now time.Time) (map[string]any, error) {
	var (
		selectQuery string
		args        []any
	)
	switch scope {
	case scopeApp:
		selectQuery = `SELECT state_json FROM app_states WHERE app_name = ?`
		args = []any{appName}
	default:
		selectQuery = `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`
		args = []any{appName, userID}
	}

	existing, err := s.getScopedState(ctx, tx, selectQuery, args...)
	if err != nil {
		return nil, err
	}
	if len(delta) == 0 {
		return existing, nil
	}
	applyDelta(existing, delta)

	stateJSON, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, s.upsertStateQuery(scope), append(args, string(stateJSON), now)...)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *SQLService) updateSessionStateTx(ctx context.Context, tx *sql.Tx, appName, userID, sessionID string, delta map[string]any) error {
	var stateJSON string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT state_json FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`),
		appName, userID, sessionID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	existing, err := decodeState(stateJSON)
	if err != nil {
		return err
	}
	applyDelta(existing, delta)

	newStateJSON, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET state_json = ? WHERE app_name = ? AND user_id = ? AND id = ?`),
		string(newStateJSON), appName, userID, sessionID)
	return err
}

func (s *SQLService) upsertStateQuery(scope stateScope) string {
	table, keys, params := "app_states", "app_name", "?, ?, ?"
	if scope == scopeUser {
		table, keys, params = "user_states", "app_name, user_id", "?, ?, ?, ?"
	}
	insert := "INSERT INTO " + table + " (" + keys + ", state_json, updated_at) VALUES (" + params + ")"
	switch s.dialect {
	case "mysql":
		return insert + " ON DUPLICATE KEY UPDATE state_json = VALUES(state_json), updated_at = VALUES(updated_at)"
	default:
		return s.rebind(insert + " ON CONFLICT (" + keys + ") DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at")
	}
}

// rebind converts ? placeholders to $N for postgres.
func (s *SQLService) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for _, c := range query {
		if c == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func decodeState(raw string) (map[string]any, error) {
	state := make(map[string]any)
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state == nil {
		state = make(map[string]any)
	}
	return state, nil
}

// extractStateDeltas splits state by scope prefix, dropping temp keys.
func extractStateDeltas(state map[string]any) (appDelta, userDelta, sessionDelta map[string]any) {
	appDelta = make(map[string]any)
	userDelta = make(map[string]any)
	sessionDelta = make(map[string]any)
	for key, value := range state {
		switch {
		case strings.HasPrefix(key, KeyPrefixApp):
			appDelta[strings.TrimPrefix(key, KeyPrefixApp)] = value
		case strings.HasPrefix(key, KeyPrefixUser):
			userDelta[strings.TrimPrefix(key, KeyPrefixUser)] = value
		case strings.HasPrefix(key, KeyPrefixTemp):
		default:
			sessionDelta[key] = value
		}
	}
	return
}

// mergeStates combines app, user, and session states with their prefixes.
func mergeStates(appState, userState, sessionState map[string]any) map[string]any {
	merged := make(map[string]any, len(appState)+len(userState)+len(sessionState))
	maps.Copy(merged, sessionState)
	for k, v := range appState {
		merged[KeyPrefixApp+k] = v
	}
	for k, v := range userState {
		merged[KeyPrefixUser+k] = v
	}
	return merged
}

func applyDelta(dst, delta map[string]any) {
	for k, v := range delta {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

var _ Service = (*SQLService)(nil)
