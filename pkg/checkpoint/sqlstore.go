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

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const createPausedSchemaSQL = `CREATE TABLE IF NOT EXISTS paused_invocations (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    invocation_id VARCHAR(255) NOT NULL,
    pending_json TEXT NOT NULL,
    paused_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, invocation_id)
)`

// SQLStore keeps paused invocations in a SQL table next to the session
// tables.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the store and its table. dialect is postgres, mysql
// or sqlite.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
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
	if _, err := db.ExecContext(ctx, createPausedSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Save replaces the entry for p.Key.
func (s *SQLStore) Save(ctx context.Context, p *PausedInvocation) error {
	if p == nil {
		return fmt.Errorf("cannot save nil paused invocation")
	}
	if err := p.Key.Validate(); err != nil {
		return err
	}
	pending, err := json.Marshal(p.Pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending calls: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM paused_invocations WHERE app_name = ? AND user_id = ? AND session_id = ? AND invocation_id = ?`),
		p.AppName, p.UserID, p.SessionID, p.InvocationID); err != nil {
		return fmt.Errorf("failed to replace paused invocation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO paused_invocations (app_name, user_id, session_id, invocation_id, pending_json, paused_at) VALUES (?, ?, ?, ?, ?, ?)`),
		p.AppName, p.UserID, p.SessionID, p.InvocationID, string(pending), p.PausedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert paused invocation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, key Key) (*PausedInvocation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT pending_json, paused_at FROM paused_invocations WHERE app_name = ? AND user_id = ? AND session_id = ? AND invocation_id = ?`),
		key.AppName, key.UserID, key.SessionID, key.InvocationID)
	var (
		pending  string
		pausedAt time.Time
	)
	if err := row.Scan(&pending, &pausedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load paused invocation: %w", err)
	}
	return decodePaused(key, pending, pausedAt)
}

func (s *SQLStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM paused_invocations WHERE app_name = ? AND user_id = ? AND session_id = ? AND invocation_id = ?`),
		key.AppName, key.UserID, key.SessionID, key.InvocationID)
	if err != nil {
		return fmt.Errorf("failed to delete paused invocation: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, appName, userID string) ([]*PausedInvocation, error) {
	query := `SELECT user_id, session_id, invocation_id, pending_json, paused_at FROM paused_invocations WHERE app_name = ?`
	args := []any{appName}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY paused_at, session_id, invocation_id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list paused invocations: %w", err)
	}
	defer rows.Close()

	var out []*PausedInvocation
	for rows.Next() {
		key := Key{AppName: appName}
		var (
			pending  string
			pausedAt time.Time
		)
		if err := rows.Scan(&key.UserID, &key.SessionID, &key.InvocationID, &pending, &pausedAt); err != nil {
			return nil, fmt.Errorf("failed to scan paused invocation: %w", err)
		}
		p, err := decodePaused(key, pending, pausedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodePaused(key Key, pending string, pausedAt time.Time) (*PausedInvocation, error) {
	p := &PausedInvocation{Key: key, PausedAt: pausedAt}
	if err := json.Unmarshal([]byte(pending), &p.Pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending calls of %s: %w", key, err)
	}
	return p, nil
}

// rebind converts ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 1
	for _, c := range query {
		if c == '?' {
			b.WriteString("$" + strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

var _ Store = (*SQLStore)(nil)
