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

// Exchanger turns a credential into one that can be presented, for example
// an authorization code into an access token.
type Exchanger interface {
	Exchange(ctx context.Context, cred *AuthCredential, scheme AuthScheme) (*AuthCredential, error)
}

// Refresher renews credentials that expire.
type Refresher interface {
	IsRefreshNeeded(cred *AuthCredential, scheme AuthScheme) bool
	Refresh(ctx context.Context, cred *AuthCredential, scheme AuthScheme) (*AuthCredential, error)
}

// ExchangerRegistry maps credential types to exchangers.
type ExchangerRegistry struct {
	mu         sync.RWMutex
	exchangers map[CredentialType]Exchanger
}

// NewExchangerRegistry creates an empty registry.
func NewExchangerRegistry() *ExchangerRegistry {
	return &ExchangerRegistry{exchangers: make(map[CredentialType]Exchanger)}
}

// Register installs e for t, replacing any previous exchanger.
func (r *ExchangerRegistry) Register(t CredentialType, e Exchanger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchangers[t] = e
}

// Get returns the exchanger for t, or nil.
func (r *ExchangerRegistry) Get(t CredentialType) Exchanger {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchangers[t]
}

// RefresherRegistry maps credential types to refreshers.
type RefresherRegistry struct {
	mu         sync.RWMutex
	refreshers map[CredentialType]Refresher
}

// NewRefresherRegistry creates an empty registry.
func NewRefresherRegistry() *RefresherRegistry {
	return &RefresherRegistry{refreshers: make(map[CredentialType]Refresher)}
}

// Register installs f for t, replacing any previous refresher.
func (r *RefresherRegistry) Register(t CredentialType, f Refresher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshers[t] = f
}

// Get returns the refresher for t, or nil.
func (r *RefresherRegistry) Get(t CredentialType) Refresher {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshers[t]
}
