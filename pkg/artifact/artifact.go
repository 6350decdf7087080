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


// Package artifact provides versioned binary artifact storage.
//
// Artifacts are addressed by (app, user, session, filename). Every save
// appends an immutable version; versions start at 0 and are contiguous.
// Filenames starting with UserScopePrefix are shared by every session of
// the user.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// UserScopePrefix marks a filename as user-scoped.
const UserScopePrefix = "user:"

// Latest selects the newest version in Load and GetArtifactVersion.
const Latest = -1

// ErrInvalidKey is returned for keys missing a required component.
var ErrInvalidKey = errors.New("invalid artifact key")

// Key identifies an artifact across all of its versions.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
	Filename  string
}

// UserScoped reports whether the key names a user-scoped artifact.
func (k Key) UserScoped() bool {
	return IsUserScoped(k.Filename)
}

// Scoped returns the key with the session cleared for user-scoped
// filenames, so that every session of a user addresses the same artifact.
func (k Key) Scoped() Key {
	if k.UserScoped() {
		k.SessionID = ""
	}
	return k
}

// Validate checks that the key can address an artifact.
func (k Key) Validate() error {
	switch {
	case k.AppName == "":
		return fmt.Errorf("%w: app name is required", ErrInvalidKey)
	case k.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidKey)
	case k.Filename == "":
		return fmt.Errorf("%w: filename is required", ErrInvalidKey)
	case k.SessionID == "" && !k.UserScoped():
		return fmt.Errorf("%w: session id is required for session-scoped artifact %q", ErrInvalidKey, k.Filename)
	}
	return nil
}

// IsUserScoped reports whether filename carries the user-scope prefix.
func IsUserScoped(filename string) bool {
	return strings.HasPrefix(filename, UserScopePrefix)
}

// ArtifactVersion describes one stored version.
type ArtifactVersion struct {
	Version        int            `json:"version"`
	CanonicalURI   string         `json:"canonical_uri"`
	MIMEType       string         `json:"mime_type"`
	CustomMetadata map[string]any `json:"custom_metadata,omitempty"`
	// CreateTime is seconds since the Unix epoch.
	CreateTime float64 `json:"create_time"`
}

// Service stores and retrieves artifacts.
//
// Load and GetArtifactVersion return nil without error when the key or the
// requested version does not exist.
type Service interface {
	Save(ctx context.Context, key Key, part *genai.Part, customMetadata map[string]any) (int, error)
	Load(ctx context.Context, key Key, version int) (*genai.Part, error)
	Delete(ctx context.Context, key Key) error
	ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error)
	ListVersions(ctx context.Context, key Key) ([]int, error)
	ListArtifactVersions(ctx context.Context, key Key) ([]*ArtifactVersion, error)
	GetArtifactVersion(ctx context.Context, key Key, version int) (*ArtifactVersion, error)
}

// CanonicalURI builds the deterministic locator of a version. The session
// segment is omitted for user-scoped filenames.
func CanonicalURI(scheme string, key Key, version int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s://apps/%s/users/%s/", scheme, key.AppName, key.UserID)
	if !key.UserScoped() {
		fmt.Fprintf(&b, "sessions/%s/", key.SessionID)
	}
	fmt.Fprintf(&b, "artifacts/%s/versions/%d", key.Filename, version)
	return b.String()
}

// MIMEType returns the MIME type an artifact part is stored under.
func MIMEType(part *genai.Part) (string, error) {
	switch {
	case part == nil:
		return "", errors.New("artifact part is nil")
	case part.InlineData != nil:
		if part.InlineData.MIMEType == "" {
			return "application/octet-stream", nil
		}
		return part.InlineData.MIMEType, nil
	case part.Text != "":
		return "text/plain", nil
	}
	return "", errors.New("artifact part must carry inline data or text")
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func clonePart(part *genai.Part) *genai.Part {
	if part == nil {
		return nil
	}
	out := &genai.Part{Text: part.Text}
	if part.InlineData != nil {
		data := make([]byte, len(part.InlineData.Data))
		copy(data, part.InlineData.Data)
		out.InlineData = &genai.Blob{
			Data:        data,
			MIMEType:    part.InlineData.MIMEType,
			DisplayName: part.InlineData.DisplayName,
		}
	}
	return out
}

// KeyLocker serializes work per artifact key. Backends use it so that
// version numbers are assigned without races between concurrent saves.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (l *KeyLocker) Lock(key Key) func() {
	key = key.Scoped()
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[Key]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
