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
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

// memorySession is the Session value every backend hands out. Backends own
// persistence; the value only mirrors what was appended through it.
type memorySession struct {
	id             string
	appName        string
	userID         string
	state          *memoryState
	events         *memoryEvents
	lastUpdateTime time.Time
	mu             sync.RWMutex
}

func (s *memorySession) ID() string           { return s.id }
func (s *memorySession) AppName() string      { return s.appName }
func (s *memorySession) UserID() string       { return s.userID }
func (s *memorySession) State() agent.State   { return s.state }
func (s *memorySession) Events() agent.Events { return s.events }

func (s *memorySession) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateTime
}

// appendEvent applies the event's state delta and records the event.
func (s *memorySession) appendEvent(event *agent.Event) {
	s.state.apply(event.Actions.StateDelta)
	s.record(event)
}

// record adds event to the history without touching state.
func (s *memorySession) record(event *agent.Event) {
	s.events.append(event)
	s.mu.Lock()
	s.lastUpdateTime = time.Now()
	s.mu.Unlock()
}

// view copies the session with its history filtered. The state is shared.
func (s *memorySession) view(numRecent int, after time.Time) *memorySession {
	return &memorySession{
		id:             s.id,
		appName:        s.appName,
		userID:         s.userID,
		state:          s.state,
		events:         &memoryEvents{events: s.events.filter(numRecent, after)},
		lastUpdateTime: s.LastUpdateTime(),
	}
}

type memoryState struct {
	mu   sync.RWMutex
	data map[string]any
}

func newMemoryState(initial map[string]any) *memoryState {
	data := make(map[string]any, len(initial))
	maps.Copy(data, initial)
	return &memoryState{data: data}
}

func (s *memoryState) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return nil, ErrStateKeyNotExist
}

func (s *memoryState) Set(key string, val any) error {
	s.mu.Lock()
	s.data[key] = val
	s.mu.Unlock()
	return nil
}

func (s *memoryState) Delete(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// All iterates over a snapshot, so callers may write state while ranging.
func (s *memoryState) All() iter.Seq2[string, any] {
	s.mu.RLock()
	snapshot := maps.Clone(s.data)
	s.mu.RUnlock()
	return maps.All(snapshot)
}

func (s *memoryState) apply(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	applyDelta(s.data, delta)
	s.mu.Unlock()
}

// overlay replaces the keys under prefix with values.
func (s *memoryState) overlay(prefix string, values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.DeleteFunc(s.data, func(k string, _ any) bool { return strings.HasPrefix(k, prefix) })
	for k, v := range values {
		s.data[prefix+k] = v
	}
}

// ClearTempKeys drops every temp: key.
func (s *memoryState) ClearTempKeys() {
	s.mu.Lock()
	maps.DeleteFunc(s.data, func(k string, _ any) bool { return strings.HasPrefix(k, KeyPrefixTemp) })
	s.mu.Unlock()
}

type memoryEvents struct {
	mu     sync.RWMutex
	events []*agent.Event
}

func (e *memoryEvents) snapshot() []*agent.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.events)
}

func (e *memoryEvents) All() iter.Seq[*agent.Event] {
	return slices.Values(e.snapshot())
}

func (e *memoryEvents) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events)
}

func (e *memoryEvents) At(i int) *agent.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i < 0 || i >= len(e.events) {
		return nil
	}
	return e.events[i]
}

func (e *memoryEvents) append(event *agent.Event) {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
}

// filter returns the events at or after after, keeping the last numRecent.
func (e *memoryEvents) filter(numRecent int, after time.Time) []*agent.Event {
	out := e.snapshot()
	if !after.IsZero() {
		out = slices.DeleteFunc(out, func(ev *agent.Event) bool { return ev.Timestamp.Before(after) })
	}
	if numRecent > 0 && len(out) > numRecent {
		out = out[len(out)-numRecent:]
	}
	return out
}

var (
	_ Session             = (*memorySession)(nil)
	_ agent.State         = (*memoryState)(nil)
	_ agent.TempClearable = (*memoryState)(nil)
	_ agent.Events        = (*memoryEvents)(nil)
)
