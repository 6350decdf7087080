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
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Store persists paused invocations.
type Store interface {
	Save(ctx context.Context, p *PausedInvocation) error
	// Load returns ErrNotFound when key is absent.
	Load(ctx context.Context, key Key) (*PausedInvocation, error)
	// Delete is a no-op when key is absent.
	Delete(ctx context.Context, key Key) error
	// List returns the entries of an app, optionally restricted to a user,
	// oldest first.
	List(ctx context.Context, appName, userID string) ([]*PausedInvocation, error)
}

// MemoryStore keeps paused invocations in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]*PausedInvocation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]*PausedInvocation)}
}

func (s *MemoryStore) Save(ctx context.Context, p *PausedInvocation) error {
	if p == nil {
		return fmt.Errorf("cannot save nil paused invocation")
	}
	if err := p.Key.Validate(); err != nil {
		return err
	}
	cp := *p
	cp.Pending = slices.Clone(p.Pending)
	s.mu.Lock()
	s.entries[p.Key] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, key Key) (*PausedInvocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Pending = slices.Clone(p.Pending)
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, appName, userID string) ([]*PausedInvocation, error) {
	s.mu.RLock()
	var out []*PausedInvocation
	for k, p := range s.entries {
		if k.AppName != appName || (userID != "" && k.UserID != userID) {
			continue
		}
		cp := *p
		cp.Pending = slices.Clone(p.Pending)
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *PausedInvocation) int {
		return cmp.Or(a.PausedAt.Compare(b.PausedAt), cmp.Compare(a.Key.String(), b.Key.String()))
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
