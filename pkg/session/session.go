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

// Package session stores conversations between users and agents.
//
// A session has an identifier, an owning app and user, a key-value state and
// the ordered history of non-partial events. State changes are never written
// directly: they travel as EventActions.StateDelta and are applied when the
// event is appended, so the history stays the source of truth for replay.
//
// Keys prefixed with "app:" are shared by every session of an app and keys
// prefixed with "user:" by every session of one user. "temp:" keys live only
// until the end of the invocation that wrote them.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

// Session is one conversation.
type Session interface {
	ID() string
	AppName() string
	UserID() string
	State() agent.State
	Events() agent.Events
	LastUpdateTime() time.Time
}

// Service persists sessions. Implementations ignore partial events in
// AppendEvent and apply the event's state delta to the passed session.
type Service interface {
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)
	AppendEvent(ctx context.Context, session Session, event *agent.Event) error
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) error
}

// GetRequest identifies a session. The optional filters trim the returned
// history; they never change what is stored.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string

	// NumRecentEvents keeps only the last N events when positive.
	NumRecentEvents int
	// After drops events older than the given time when non-zero.
	After time.Time
}

type GetResponse struct {
	Session Session
}

// CreateRequest describes a new session. An empty SessionID gets a random
// UUID. Scoped keys in State seed the app and user state.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     map[string]any
}

type CreateResponse struct {
	Session Session
}

// ListRequest selects the sessions of an app. An empty UserID lists every
// user's sessions where the backend supports it.
type ListRequest struct {
	AppName   string
	UserID    string
	PageSize  int
	PageToken string
}

type ListResponse struct {
	Sessions      []Session
	NextPageToken string
}

type DeleteRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// State key scopes.
const (
	KeyPrefixApp  = "app:"
	KeyPrefixUser = "user:"
	KeyPrefixTemp = "temp:"
)

var (
	// ErrStateKeyNotExist is returned by State.Get for unknown keys.
	ErrStateKeyNotExist = agent.ErrStateKeyNotExist
	// ErrSessionNotFound is returned for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)
