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


package artifact

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"google.golang.org/genai"
)

type storedVersion struct {
	part *genai.Part
	info ArtifactVersion
}

// InMemoryService keeps artifacts in process memory. Keys are listed in the
// order they were first saved.
type InMemoryService struct {
	mu       sync.RWMutex
	versions map[Key][]storedVersion
	order    []Key
	now      func() time.Time
}

// InMemoryOption configures an InMemoryService.
type InMemoryOption func(*InMemoryService)

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryService) { s.now = now }
}

// NewInMemoryService creates an empty in-memory artifact service.
func NewInMemoryService(opts ...InMemoryOption) *InMemoryService {
	s := &InMemoryService{
		versions: make(map[Key][]storedVersion),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save appends a new version and returns its number.
func (s *InMemoryService) Save(ctx context.Context, key Key, part *genai.Part, customMetadata map[string]any) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	mime, err := MIMEType(part)
	if err != nil {
		return 0, err
	}
	key = key.Scoped()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, seen := s.versions[key]
	version := len(existing)
	s.versions[key] = append(existing, storedVersion{
		part: clonePart(part),
		info: ArtifactVersion{
			Version:        version,
			CanonicalURI:   CanonicalURI("memory", key, version),
			MIMEType:       mime,
			CustomMetadata: maps.Clone(customMetadata),
			CreateTime:     epochSeconds(s.now()),
		},
	})
	if !seen {
		s.order = append(s.order, key)
	}

	slog.Debug("Artifact saved", "app", key.AppName, "user", key.UserID, "filename", key.Filename, "version", version)
	return version, nil
}

func (s *InMemoryService) lookup(key Key, version int) (storedVersion, bool) {
	list := s.versions[key.Scoped()]
	if len(list) == 0 {
		return storedVersion{}, false
	}
	if version == Latest {
		return list[len(list)-1], true
	}
	if version < 0 || version >= len(list) {
		return storedVersion{}, false
	}
	return list[version], true
}

// Load returns the requested version, or nil when it does not exist.
func (s *InMemoryService) Load(ctx context.Context, key Key, version int) (*genai.Part, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.lookup(key, version)
	if !ok {
		return nil, nil
	}
	return clonePart(v.part), nil
}

// Delete removes every version of key.
func (s *InMemoryService) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	key = key.Scoped()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.versions, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListKeys returns the session-scoped and user-scoped filenames visible to
// the session.
func (s *InMemoryService) ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []string{}
	for _, k := range s.order {
		if k.AppName != appName || k.UserID != userID {
			continue
		}
		if k.UserScoped() || k.SessionID == sessionID {
			keys = append(keys, k.Filename)
		}
	}
	return keys, nil
}

// ListVersions returns the version numbers of key in ascending order.
func (s *InMemoryService) ListVersions(ctx context.Context, key Key) ([]int, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.versions[key.Scoped()]
	out := make([]int, len(list))
	for i := range list {
		out[i] = i
	}
	return out, nil
}

// ListArtifactVersions describes every version of key.
func (s *InMemoryService) ListArtifactVersions(ctx context.Context, key Key) ([]*ArtifactVersion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.versions[key.Scoped()]
	out := make([]*ArtifactVersion, len(list))
	for i, v := range list {
		info := v.info
		info.CustomMetadata = maps.Clone(v.info.CustomMetadata)
		out[i] = &info
	}
	return out, nil
}

// GetArtifactVersion describes one version, or returns nil when it does not
// exist.
func (s *InMemoryService) GetArtifactVersion(ctx context.Context, key Key, version int) (*ArtifactVersion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.lookup(key, version)
	if !ok {
		return nil, nil
	}
	info := v.info
	info.CustomMetadata = maps.Clone(v.info.CustomMetadata)
	return &info, nil
}

var _ Service = (*InMemoryService)(nil)
