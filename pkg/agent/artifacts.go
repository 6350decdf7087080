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

package agent

import (
	"context"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/artifact"
)

// Artifacts provides artifact storage operations bound to one session.
type Artifacts interface {
	// Save stores a new version of name and returns its number.
	Save(ctx context.Context, name string, part *genai.Part) (int, error)
	// Load returns the latest version of name, or nil.
	Load(ctx context.Context, name string) (*genai.Part, error)
	// LoadVersion returns one version of name, or nil.
	LoadVersion(ctx context.Context, name string, version int) (*genai.Part, error)
	// List returns the filenames visible to the session.
	List(ctx context.Context) ([]string, error)
}

type sessionArtifacts struct {
	svc                       artifact.Service
	appName, userID, sessionID string
}

// NewArtifacts binds svc to one session. It returns nil for a nil svc.
func NewArtifacts(svc artifact.Service, appName, userID, sessionID string) Artifacts {
	if svc == nil {
		return nil
	}
	return &sessionArtifacts{svc: svc, appName: appName, userID: userID, sessionID: sessionID}
}

func (a *sessionArtifacts) key(name string) artifact.Key {
	return artifact.Key{AppName: a.appName, UserID: a.userID, SessionID: a.sessionID, Filename: name}
}

func (a *sessionArtifacts) Save(ctx context.Context, name string, part *genai.Part) (int, error) {
	return a.svc.Save(ctx, a.key(name), part, nil)
}

func (a *sessionArtifacts) Load(ctx context.Context, name string) (*genai.Part, error) {
	return a.svc.Load(ctx, a.key(name), artifact.Latest)
}

func (a *sessionArtifacts) LoadVersion(ctx context.Context, name string, version int) (*genai.Part, error) {
	return a.svc.Load(ctx, a.key(name), version)
}

func (a *sessionArtifacts) List(ctx context.Context) ([]string, error) {
	return a.svc.ListKeys(ctx, a.appName, a.userID, a.sessionID)
}
