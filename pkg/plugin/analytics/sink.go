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

package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// TimestampLayout is the layout of the timestamp column.
const TimestampLayout = "2006-01-02T15:04:05.999999-07:00"

// Row is one record of the agent event table.
type Row struct {
	Timestamp    time.Time
	EventType    string
	Agent        string
	SessionID    string
	InvocationID string
	UserID       string
	// Content and ErrorMessage are NULL when nil.
	Content      *string
	ErrorMessage *string
}

// Sink stores rows.
type Sink interface {
	Insert(ctx context.Context, row Row) error
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSink writes rows to a SQL table. The connection and table are set up on
// the first insert; a failed setup is remembered and returned by every later
// insert without touching the database again.
type SQLSink struct {
	driver string
	dsn    string
	table  string

	once    sync.Once
	db      *sql.DB
	ownsDB  bool
	initErr error
}

// SQLSinkConfig configures a SQLSink.
type SQLSinkConfig struct {
	// DB is used as is when set; otherwise Driver and DSN are opened.
	DB     *sql.DB
	Driver string
	DSN    string

	// Table defaults to "agent_events".
	Table string
}

// NewSQLSink validates cfg. It does not connect.
func NewSQLSink(cfg SQLSinkConfig) (*SQLSink, error) {
	if cfg.Table == "" {
		cfg.Table = "agent_events"
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	switch cfg.Driver {
	case "postgres", "mysql", "sqlite3":
	case "sqlite":
		cfg.Driver = "sqlite3"
	case "":
		if cfg.DB == nil {
			return nil, fmt.Errorf("driver is required when no database is given")
		}
		cfg.Driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported driver %q (supported: postgres, mysql, sqlite)", cfg.Driver)
	}
	return &SQLSink{driver: cfg.Driver, dsn: cfg.DSN, table: cfg.Table, db: cfg.DB}, nil
}

func (s *SQLSink) init(ctx context.Context) error {
	s.once.Do(func() {
		if s.db == nil {
			db, err := sql.Open(s.driver, s.dsn)
			if err != nil {
				s.initErr = fmt.Errorf("open %s: %w", s.driver, err)
				return
			}
			s.db = db
			s.ownsDB = true
		}
		if _, err := s.db.ExecContext(ctx, s.createTableQuery()); err != nil {
			s.initErr = fmt.Errorf("create table %s: %w", s.table, err)
		}
	})
	return s.initErr
}

func (s *SQLSink) createTableQuery() string {
	textType := "TEXT"
	if s.driver == "mysql" {
		textType = "LONGTEXT"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	timestamp VARCHAR(40) NOT NULL,
	event_type VARCHAR(64) NOT NULL,
	agent VARCHAR(255),
	session_id VARCHAR(255),
	invocation_id VARCHAR(255),
	user_id VARCHAR(255),
	content %s,
	error_message %s
)`, s.table, textType, textType)
}

// Insert writes row.
func (s *SQLSink) Insert(ctx context.Context, row Row) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	query := s.rebind(fmt.Sprintf(
		"INSERT INTO %s (timestamp, event_type, agent, session_id, invocation_id, user_id, content, error_message) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.table))
	_, err := s.db.ExecContext(ctx, query,
		row.Timestamp.UTC().Format(TimestampLayout),
		row.EventType,
		row.Agent,
		row.SessionID,
		row.InvocationID,
		row.UserID,
		nullString(row.Content),
		nullString(row.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}

// Close closes the database if the sink opened it.
func (s *SQLSink) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLSink) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
