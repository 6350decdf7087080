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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

// Manager records and expires paused invocations.
type Manager struct {
	config *Config
	store  Store
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for pause times and expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. A nil config is disabled; a nil store is
// replaced by a MemoryStore.
func NewManager(cfg *Config, store Store, opts ...Option) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{config: cfg, store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsEnabled returns whether recording is enabled.
func (m *Manager) IsEnabled() bool {
	return m != nil && m.config.IsEnabled()
}

// Sync brings the entry for key in line with the session events of the
// invocation: recorded when calls are still pending, cleared otherwise.
func (m *Manager) Sync(ctx context.Context, key Key, events agent.Events) error {
	if !m.IsEnabled() {
		return nil
	}
	pending := PendingCalls(events, key.InvocationID)
	if len(pending) == 0 {
		return m.Clear(ctx, key)
	}

	p := &PausedInvocation{Key: key, Pending: pending, PausedAt: m.now()}
	if prev, err := m.store.Load(ctx, key); err == nil {
		// still paused after a partial answer
		p.PausedAt = prev.PausedAt
	}
	if err := m.store.Save(ctx, p); err != nil {
		return fmt.Errorf("failed to record paused invocation: %w", err)
	}

	slog.Debug("Recorded paused invocation",
		"invocation_id", key.InvocationID,
		"session_id", key.SessionID,
		"pending", len(pending))
	return nil
}

// Lookup returns the paused invocation for key. Expired entries are
// removed and reported as ErrExpired.
func (m *Manager) Lookup(ctx context.Context, key Key) (*PausedInvocation, error) {
	if !m.IsEnabled() {
		return nil, ErrNotFound
	}
	p, err := m.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if p.Expired(m.config.GetTimeout(), m.now()) {
		if err := m.store.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete expired paused invocation", "invocation_id", key.InvocationID, "error", err)
		}
		return nil, ErrExpired
	}
	return p, nil
}

// Clear removes the entry for key.
func (m *Manager) Clear(ctx context.Context, key Key) error {
	if !m.IsEnabled() {
		return nil
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear paused invocation: %w", err)
	}
	return nil
}

// ListPending returns the live paused invocations of an app, optionally
// restricted to a user.
func (m *Manager) ListPending(ctx context.Context, appName, userID string) ([]*PausedInvocation, error) {
	if !m.IsEnabled() {
		return nil, nil
	}
	all, err := m.store.List(ctx, appName, userID)
	if err != nil {
		return nil, err
	}
	timeout, now := m.config.GetTimeout(), m.now()
	live := all[:0]
	for _, p := range all {
		if !p.Expired(timeout, now) {
			live = append(live, p)
		}
	}
	return live, nil
}

// PruneExpired deletes expired entries of an app and returns how many were
// removed.
func (m *Manager) PruneExpired(ctx context.Context, appName string) (int, error) {
	if !m.IsEnabled() || m.config.GetTimeout() == 0 {
		return 0, nil
	}
	all, err := m.store.List(ctx, appName, "")
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, p := range all {
		if !p.Expired(m.config.GetTimeout(), m.now()) {
			continue
		}
		if err := m.store.Delete(ctx, p.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		slog.Info("Pruned expired paused invocations", "app_name", appName, "count", n)
	}
	return n, errors.Join(errs...)
}

// PendingCalls returns the long-running calls of invocationID that no user
// event has answered yet, in issue order.
func PendingCalls(events agent.Events, invocationID string) []PendingCall {
	var (
		order   []string
		pending = make(map[string]PendingCall)
	)
	for ev := range events.All() {
		if ev.Author == agent.AuthorUser {
			for _, r := range ev.FunctionResponses() {
				delete(pending, r.ID)
			}
			continue
		}
		if ev.InvocationID != invocationID {
			continue
		}
		for _, c := range ev.LongRunningFunctionCalls() {
			if _, ok := pending[c.ID]; !ok {
				order = append(order, c.ID)
			}
			pending[c.ID] = PendingCall{ID: c.ID, Name: c.Name, Agent: ev.Author, Branch: ev.Branch}
		}
	}
	var out []PendingCall
	for _, id := range order {
		if c, ok := pending[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
