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


package auth

import (
	"context"
	"sync"
)

// CredentialService persists exchanged credentials across invocations.
type CredentialService interface {
	// LoadCredential returns the stored credential for cfg, or nil.
	LoadCredential(ctx context.Context, appName, userID string, cfg *AuthConfig) (*AuthCredential, error)
	// SaveCredential stores cfg.ExchangedAuthCredential.
	SaveCredential(ctx context.Context, appName, userID string, cfg *AuthConfig) error
}

// CredentialContext is what the CredentialManager needs from the calling
// tool.
type CredentialContext interface {
	context.Context

	AppName() string
	UserID() string

	// CredentialService may return nil.
	CredentialService() CredentialService

	// AuthResponse returns the credential the user supplied for cfg in
	// answer to an earlier request, or nil.
	AuthResponse(cfg *AuthConfig) *AuthCredential

	// RequestCredential asks the user to complete the auth flow for cfg.
	RequestCredential(cfg *AuthConfig) error
}

type credentialKey struct {
	app, user, key string
}

// InMemoryCredentialService keeps credentials in process memory.
type InMemoryCredentialService struct {
	mu    sync.RWMutex
	creds map[credentialKey]*AuthCredential
}

// NewInMemoryCredentialService creates an empty service.
func NewInMemoryCredentialService() *InMemoryCredentialService {
	return &InMemoryCredentialService{creds: make(map[credentialKey]*AuthCredential)}
}

func (s *InMemoryCredentialService) LoadCredential(ctx context.Context, appName, userID string, cfg *AuthConfig) (*AuthCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[credentialKey{appName, userID, cfg.CredentialKey()}].Clone(), nil
}

func (s *InMemoryCredentialService) SaveCredential(ctx context.Context, appName, userID string, cfg *AuthConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credentialKey{appName, userID, cfg.CredentialKey()}] = cfg.ExchangedAuthCredential.Clone()
	return nil
}

var _ CredentialService = (*InMemoryCredentialService)(nil)
