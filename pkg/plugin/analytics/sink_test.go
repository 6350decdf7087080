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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestSQLSink_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewSQLSink(SQLSinkConfig{DB: db, Driver: "sqlite"})
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS agent_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO agent_events \(timestamp, event_type`).
		WithArgs("2025-10-22T10:00:00+00:00", "TOOL_CALL", "agent", "s", "inv", "u", "payload", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO agent_events").
		WithArgs(sqlmock.AnyArg(), "LLM_ERROR", "agent", "s", "inv", "u", nil, "boom").
		WillReturnResult(sqlmock.NewResult(2, 1))

	ctx := context.Background()
	require.NoError(t, sink.Insert(ctx, Row{
		Timestamp: time.Date(2025, 10, 22, 10, 0, 0, 0, time.UTC),
		EventType: "TOOL_CALL", Agent: "agent", SessionID: "s", InvocationID: "inv", UserID: "u",
		Content: str("payload"),
	}))
	require.NoError(t, sink.Insert(ctx, Row{
		Timestamp: time.Now(),
		EventType: "LLM_ERROR", Agent: "agent", SessionID: "s", InvocationID: "inv", UserID: "u",
		ErrorMessage: str("boom"),
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewSQLSink(SQLSinkConfig{DB: db, Driver: "postgres", Table: "events"})
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Insert(context.Background(), Row{Timestamp: time.Now(), EventType: "X"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLSink_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SQLSinkConfig
	}{
		{"bad table", SQLSinkConfig{Driver: "sqlite", Table: "events; DROP TABLE x"}},
		{"unknown driver", SQLSinkConfig{Driver: "oracle"}},
		{"no driver no db", SQLSinkConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSQLSink(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestPlugin_SinkInitFailureLoggedOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewSQLSink(SQLSinkConfig{DB: db, Driver: "mysql"})
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS agent_events").WillReturnError(errors.New("access denied"))

	var buf bytes.Buffer
	f := newFixture(t)
	p, err := New(Config{Sink: sink, Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	require.NoError(t, err)

	_, err = p.BeforeRun(f.inv)
	assert.NoError(t, err)
	_, err = p.OnUserMessage(f.inv, genai.NewContentFromText("hi", genai.RoleUser))
	assert.NoError(t, err)
	p.AfterRun(f.inv)

	assert.Equal(t, 1, strings.Count(buf.String(), "Analytics sink unavailable"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
