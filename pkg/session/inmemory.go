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
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

type sessionKey struct{ app, user, id string }

type userKey struct{ app, user string }

// InMemoryService returns a Service that keeps everything in process
// memory. Get hands out the stored session itself, so appends made through
// one copy are visible to every caller holding it.
func InMemoryService() Service {
	return &inMemoryService{
		sessions:  make(map[sessionKey]*memorySession),
		appState:  make(map[string]map[string]any),
		userState: make(map[userKey]map[string]any),
	}
}

type inMemoryService struct {
	mu        sync.RWMutex
	sessions  map[sessionKey]*memorySession
	appState  map[string]map[string]any
	userState map[userKey]map[string]any
}

func (s *inMemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionKey{req.AppName, req.UserID, req.SessionID}]
	if !ok {
		return nil, ErrSessionNotFound
	}
	// Scoped state may have been changed through another session.
	stored.state.overlay(KeyPrefixApp, s.appState[req.AppName])
	stored.state.overlay(KeyPrefixUser, s.userState[userKey{req.AppName, req.UserID}])

	if req.NumRecentEvents == 0 && req.After.IsZero() {
		return &GetResponse{Session: stored}, nil
	}
	return &GetResponse{Session: stored.view(req.NumRecentEvents, req.After)}, nil
}

func (s *inMemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	appDelta, userDelta, own := extractStateDeltas(req.State)

	s.mu.Lock()
	defer s.mu.Unlock()

	app := scopedState(s.appState, req.AppName)
	applyDelta(app, appDelta)
	user := scopedState(s.userState, userKey{req.AppName, req.UserID})
	applyDelta(user, userDelta)

	sess := &memorySession{
		id:             id,
		appName:        req.AppName,
		userID:         req.UserID,
		state:          newMemoryState(mergeStates(app, user, own)),
		events:         &memoryEvents{},
		lastUpdateTime: time.Now(),
	}
	s.sessions[sessionKey{req.AppName, req.UserID, id}] = sess
	return &CreateResponse{Session: sess}, nil
}

// scopedState returns the state map for k, allocating it on first use.
func scopedState[K comparable](m map[K]map[string]any, k K) map[string]any {
	if m[k] == nil {
		m[k] = make(map[string]any)
	}
	return m[k]
}

func (s *inMemoryService) AppendEvent(ctx context.Context, session Session, event *agent.Event) error {
	if session == nil {
		return fmt.Errorf("session is nil")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.Partial {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	app, user := session.AppName(), session.UserID()
	stored, ok := s.sessions[sessionKey{app, user, session.ID()}]
	if !ok {
		return ErrSessionNotFound
	}
	appDelta, userDelta, _ := extractStateDeltas(event.Actions.StateDelta)
	if len(appDelta) > 0 {
		applyDelta(scopedState(s.appState, app), appDelta)
	}
	if len(userDelta) > 0 {
		applyDelta(scopedState(s.userState, userKey{app, user}), userDelta)
	}

	stored.appendEvent(event)
	if view, ok := session.(*memorySession); ok && view != stored {
		view.record(event)
	}
	return nil
}

func (s *inMemoryService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for k, sess := range s.sessions {
		if k.app == req.AppName && (req.UserID == "" || k.user == req.UserID) {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b Session) int {
		return cmp.Or(cmp.Compare(a.UserID(), b.UserID()), cmp.Compare(a.ID(), b.ID()))
	})
	return &ListResponse{Sessions: out}, nil
}

func (s *inMemoryService) Delete(ctx context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	delete(s.sessions, sessionKey{req.AppName, req.UserID, req.SessionID})
	s.mu.Unlock()
	return nil
}

var _ Service = (*inMemoryService)(nil)
