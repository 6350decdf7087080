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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

func newEvent(author string, delta map[string]any) *agent.Event {
	ev := agent.NewEvent("e-1")
	ev.Author = author
	for k, v := range delta {
		ev.Actions.StateDelta[k] = v
	}
	return ev
}

func TestInMemoryService_AppendEventAppliesDelta(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService()

	created, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u", State: map[string]any{"keep": 1, "drop": 2}})
	require.NoError(t, err)
	sess := created.Session

	require.NoError(t, svc.AppendEvent(ctx, sess, newEvent("a", map[string]any{"new": "v", "drop": nil})))

	v, err := sess.State().Get("new")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = sess.State().Get("drop")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)

	v, err = sess.State().Get("keep")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, sess.Events().Len())
}

func TestInMemoryService_SkipsPartialEvents(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService()
	created, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	ev := newEvent("a", map[string]any{"k": "v"})
	ev.Partial = true
	require.NoError(t, svc.AppendEvent(ctx, created.Session, ev))

	assert.Equal(t, 0, created.Session.Events().Len())
	_, err = created.Session.State().Get("k")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)
}

func TestInMemoryService_GetFilters(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService()
	created, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	for range 5 {
		require.NoError(t, svc.AppendEvent(ctx, created.Session, newEvent("a", nil)))
	}

	tests := []struct {
		name string
		req  *GetRequest
		want int
	}{
		{"all", &GetRequest{AppName: "app", UserID: "u", SessionID: "s"}, 5},
		{"recent", &GetRequest{AppName: "app", UserID: "u", SessionID: "s", NumRecentEvents: 2}, 2},
		{"after future", &GetRequest{AppName: "app", UserID: "u", SessionID: "s", After: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Get(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Session.Events().Len())
		})
	}

	_, err = svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u", SessionID: "missing"})
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestInMemoryService_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService()
	for _, id := range []string{"s1", "s2"} {
		_, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u", SessionID: id})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "other", SessionID: "s3"})
	require.NoError(t, err)

	list, err := svc.List(ctx, &ListRequest{AppName: "app", UserID: "u"})
	require.NoError(t, err)
	assert.Len(t, list.Sessions, 2)

	require.NoError(t, svc.Delete(ctx, &DeleteRequest{AppName: "app", UserID: "u", SessionID: "s1"}))
	list, err = svc.List(ctx, &ListRequest{AppName: "app", UserID: "u"})
	require.NoError(t, err)
	assert.Len(t, list.Sessions, 1)
}

func TestInMemoryService_ScopedStateIsShared(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService()

	first, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u", SessionID: "s1", State: map[string]any{"app:mode": "beta"}})
	require.NoError(t, err)
	require.NoError(t, svc.AppendEvent(ctx, first.Session, newEvent("a", map[string]any{"user:name": "ada", "local": true})))

	tests := []struct {
		name    string
		user    string
		wantApp bool
		wantUsr bool
	}{
		{"same user", "u", true, true},
		{"other user", "v", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: tt.user, SessionID: "s2"})
			require.NoError(t, err)
			st := created.Session.State()

			_, err = st.Get("app:mode")
			assert.Equal(t, tt.wantApp, err == nil)
			_, err = st.Get("user:name")
			assert.Equal(t, tt.wantUsr, err == nil)
			_, err = st.Get("local")
			assert.ErrorIs(t, err, ErrStateKeyNotExist)
		})
	}

	// Later scoped writes reach existing sessions on their next Get.
	require.NoError(t, svc.AppendEvent(ctx, first.Session, newEvent("a", map[string]any{"app:mode": nil})))
	second, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "v", SessionID: "s2"})
	require.NoError(t, err)
	_, err = second.Session.State().Get("app:mode")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)
}

func TestMemoryState_ClearTempKeys(t *testing.T) {
	st := newMemoryState(map[string]any{"temp:cred": "x", "user:name": "n", "plain": 1})
	st.ClearTempKeys()

	got := map[string]any{}
	for k, v := range st.All() {
		got[k] = v
	}
	assert.Equal(t, map[string]any{"user:name": "n", "plain": 1}, got)
}

func TestExtractStateDeltas(t *testing.T) {
	app, user, sess := extractStateDeltas(map[string]any{
		"app:theme":  "dark",
		"user:name":  "ada",
		"temp:token": "t",
		"count":      1,
	})
	assert.Equal(t, map[string]any{"theme": "dark"}, app)
	assert.Equal(t, map[string]any{"name": "ada"}, user)
	assert.Equal(t, map[string]any{"count": 1}, sess)

	merged := mergeStates(app, user, sess)
	assert.Equal(t, map[string]any{"app:theme": "dark", "user:name": "ada", "count": 1}, merged)
}
