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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

func setupMockDB(t *testing.T, dialect string) (*sql.DB, sqlmock.Sqlmock, *SQLService) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	for range 6 {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	svc, err := NewSQLService(db, dialect)
	require.NoError(t, err)
	return db, mock, svc
}

func TestNewSQLService_Dialects(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLService(db, "oracle")
	assert.ErrorContains(t, err, "unsupported dialect")

	_, err = NewSQLService(nil, "sqlite")
	assert.ErrorContains(t, err, "database connection is required")
}

func TestSQLService_Create(t *testing.T) {
	db, mock, svc := setupMockDB(t, "sqlite")
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT state_json FROM app_states").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(`{"theme":"dark"}`))
	mock.ExpectQuery("SELECT state_json FROM user_states").
		WithArgs("app", "u").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO user_states").
		WithArgs("app", "u", `{"name":"ada"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("app", "u", "s1", `{"count":1}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	resp, err := svc.Create(context.Background(), &CreateRequest{
		AppName:   "app",
		UserID:    "u",
		SessionID: "s1",
		State:     map[string]any{"user:name": "ada", "count": 1, "temp:x": "dropped"},
	})
	require.NoError(t, err)

	got := map[string]any{}
	for k, v := range resp.Session.State().All() {
		got[k] = v
	}
	assert.Equal(t, map[string]any{"app:theme": "dark", "user:name": "ada", "count": 1}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLService_AppendEvent(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		wantErr     bool
		errContains string
	}{
		{
			name: "session delta",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT state_json FROM app_states").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT state_json FROM user_states").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT state_json FROM sessions").
					WithArgs("app", "u", "s1").
					WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(`{"old":true}`))
				mock.ExpectExec("UPDATE sessions SET state_json").
					WithArgs(`{"count":2,"old":true}`, "app", "u", "s1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
				mock.ExpectExec("INSERT INTO session_events").
					WithArgs(sqlmock.AnyArg(), "app", "u", "s1", "agent1", "e-1", "", sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("UPDATE sessions SET updated_at").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "missing session",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT state_json FROM app_states").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT state_json FROM user_states").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT state_json FROM sessions").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr:     true,
			errContains: "session not found",
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT state_json FROM app_states").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT state_json FROM user_states").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery("SELECT state_json FROM sessions").
					WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(`{}`))
				mock.ExpectExec("UPDATE sessions SET state_json").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))
				mock.ExpectExec("INSERT INTO session_events").
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			wantErr:     true,
			errContains: "failed to insert event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, svc := setupMockDB(t, "sqlite")
			defer db.Close()
			tt.setupMock(mock)

			sess := &memorySession{id: "s1", appName: "app", userID: "u", state: newMemoryState(nil), events: &memoryEvents{}}
			ev := newEvent("agent1", map[string]any{"count": 2, "temp:cred": "secret"})

			err := svc.AppendEvent(context.Background(), sess, ev)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Equal(t, 0, sess.Events().Len())
			} else {
				require.NoError(t, err)
				assert.Equal(t, 1, sess.Events().Len())
				v, err := sess.State().Get("temp:cred")
				require.NoError(t, err)
				assert.Equal(t, "secret", v)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLService_Get(t *testing.T) {
	db, mock, svc := setupMockDB(t, "postgres")
	defer db.Close()

	stored := agent.NewEvent("e-1")
	stored.Author = "agent1"
	stored.Content = genai.NewContentFromText("hello", genai.RoleModel)
	stored.Actions.AgentState = json.RawMessage(`{"current_sub_agent":"agent2"}`)
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery(`SELECT app_name, user_id, id, state_json, created_at, updated_at FROM sessions WHERE app_name = \$1`).
		WithArgs("app", "u", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"app_name", "user_id", "id", "state_json", "created_at", "updated_at"}).
			AddRow("app", "u", "s1", `{"count":1}`, now, now))
	mock.ExpectQuery("SELECT state_json FROM app_states").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT state_json FROM user_states").
		WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(`{"name":"ada"}`))
	mock.ExpectQuery("SELECT event_json FROM session_events").
		WithArgs("app", "u", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"event_json"}).AddRow(string(raw)))

	resp, err := svc.Get(context.Background(), &GetRequest{AppName: "app", UserID: "u", SessionID: "s1"})
	require.NoError(t, err)

	sess := resp.Session
	require.Equal(t, 1, sess.Events().Len())
	got := sess.Events().At(0)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, "hello", got.TextContent())
	assert.JSONEq(t, `{"current_sub_agent":"agent2"}`, string(got.Actions.AgentState))

	v, err := sess.State().Get("user:name")
	require.NoError(t, err)
	assert.Equal(t, "ada", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLService_GetNotFound(t *testing.T) {
	db, mock, svc := setupMockDB(t, "mysql")
	defer db.Close()

	mock.ExpectQuery("SELECT app_name, user_id, id").WillReturnError(sql.ErrNoRows)

	_, err := svc.Get(context.Background(), &GetRequest{AppName: "app", UserID: "u", SessionID: "none"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRebind(t *testing.T) {
	pg := &SQLService{dialect: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLService{dialect: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
