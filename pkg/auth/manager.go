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
	"errors"
	"fmt"
	"log/slog"
)

var errMissingSchemeInfo = errors.New("OAuth scheme info is missing, and auto-discovery has failed to fill them in.")

// CredentialManager acquires the runtime credential for one AuthConfig.
// Create one manager per config and per call; it is not safe for
// concurrent use.
type CredentialManager struct {
	cfg        *AuthConfig
	exchangers *ExchangerRegistry
	refreshers *RefresherRegistry
	discovery  Discoverer
}

// ManagerOption configures a CredentialManager.
type ManagerOption func(*CredentialManager)

// WithExchangers sets the exchanger registry.
func WithExchangers(r *ExchangerRegistry) ManagerOption {
	return func(m *CredentialManager) { m.exchangers = r }
}

// WithRefreshers sets the refresher registry.
func WithRefreshers(r *RefresherRegistry) ManagerOption {
	return func(m *CredentialManager) { m.refreshers = r }
}

// WithDiscoverer sets the metadata discoverer.
func WithDiscoverer(d Discoverer) ManagerOption {
	return func(m *CredentialManager) { m.discovery = d }
}

// NewCredentialManager creates a manager for cfg. Without options the
// registries are empty, so every credential passes through unchanged.
func NewCredentialManager(cfg *AuthConfig, opts ...ManagerOption) *CredentialManager {
	m := &CredentialManager{
		cfg:        cfg,
		exchangers: NewExchangerRegistry(),
		refreshers: NewRefresherRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.discovery == nil {
		m.discovery = NewDiscoveryManager(nil)
	}
	return m
}

// Config returns the managed config.
func (m *CredentialManager) Config() *AuthConfig {
	return m.cfg
}

// RequestCredential asks the user to complete the auth flow.
func (m *CredentialManager) RequestCredential(cc CredentialContext) error {
	return cc.RequestCredential(m.cfg)
}

// GetAuthCredential returns a credential ready to present, or nil when the
// user has to complete an interactive flow first. Only configuration
// errors are returned; failures of the credential service or of an
// exchange degrade to a nil credential.
func (m *CredentialManager) GetAuthCredential(cc CredentialContext) (*AuthCredential, error) {
	if err := m.validate(cc); err != nil {
		return nil, err
	}

	if m.isCredentialReady() {
		return m.cfg.RawAuthCredential, nil
	}

	cred := m.loadExisting(cc)
	fromAuthResponse := false
	if cred == nil {
		cred = m.loadFromAuthResponse(cc)
		fromAuthResponse = cred != nil
	}
	if cred == nil {
		if !m.usesRawCredentialDirectly() {
			return nil, nil
		}
		cred = m.cfg.RawAuthCredential.Clone()
	}

	cred, exchanged, err := m.exchange(cc, cred)
	if err != nil {
		slog.Warn("Credential exchange failed", "credential_key", m.cfg.CredentialKey(), "error", err)
		return nil, nil
	}

	cred, refreshed, err := m.refresh(cc, cred)
	if err != nil {
		slog.Warn("Credential refresh failed", "credential_key", m.cfg.CredentialKey(), "error", err)
		return nil, nil
	}

	if fromAuthResponse || exchanged || refreshed {
		m.save(cc, cred)
	}
	return cred, nil
}

func (m *CredentialManager) validate(ctx context.Context) error {
	raw := m.cfg.RawAuthCredential
	if m.cfg.Scheme != nil {
		switch st := m.cfg.Scheme.SchemeType(); st {
		case SchemeTypeOAuth2, SchemeTypeOpenIDConnect:
			if raw == nil {
				return fmt.Errorf("raw_auth_credential is required for auth_scheme type %s", st)
			}
		}
	}

	if raw != nil && raw.Type == CredentialTypeOAuth2 && raw.OAuth2 == nil {
		return fmt.Errorf("auth_config.raw_credential.oauth2 required for credential type %s", raw.Type)
	}

	if m.missingOAuthInfo() && !m.populateAuthScheme(ctx) {
		return errMissingSchemeInfo
	}
	return nil
}

// missingOAuthInfo reports whether an OAuth2 flow that needs endpoints has
// any of them empty.
func (m *CredentialManager) missingOAuthInfo() bool {
	flows, ok := oauth2Flows(m.cfg.Scheme)
	if !ok {
		return false
	}
	if ac := flows.AuthorizationCode; ac != nil && (ac.AuthorizationURL == "" || ac.TokenURL == "") {
		return true
	}
	if cc := flows.ClientCredentials; cc != nil && cc.TokenURL == "" {
		return true
	}
	return false
}

// populateAuthScheme fills empty endpoints of an extended OAuth2 scheme from
// the issuer's metadata. It reports whether anything was filled in.
func (m *CredentialManager) populateAuthScheme(ctx context.Context) bool {
	ext, ok := m.cfg.Scheme.(*ExtendedOAuth2Scheme)
	if !ok || ext.IssuerURL == "" || !m.missingOAuthInfo() {
		return false
	}

	meta, err := m.discovery.DiscoverAuthServerMetadata(ctx, ext.IssuerURL)
	if err != nil || meta == nil {
		slog.Warn("Auth server metadata discovery failed", "issuer", ext.IssuerURL, "error", err)
		return false
	}

	if ac := ext.Flows.AuthorizationCode; ac != nil {
		if ac.AuthorizationURL == "" {
			ac.AuthorizationURL = meta.AuthorizationEndpoint
		}
		if ac.TokenURL == "" {
			ac.TokenURL = meta.TokenEndpoint
		}
	}
	if cc := ext.Flows.ClientCredentials; cc != nil && cc.TokenURL == "" {
		cc.TokenURL = meta.TokenEndpoint
	}
	return true
}

// isCredentialReady reports whether the raw credential can be presented
// as is.
func (m *CredentialManager) isCredentialReady() bool {
	raw := m.cfg.RawAuthCredential
	if raw == nil {
		return false
	}
	return raw.Type == CredentialTypeAPIKey || raw.Type == CredentialTypeHTTP
}

// IsClientCredentialsFlow reports whether the scheme obtains tokens without
// user interaction through the client credentials grant.
func (m *CredentialManager) IsClientCredentialsFlow() bool {
	return UsesClientCredentials(m.cfg.Scheme)
}

// usesRawCredentialDirectly reports whether a missing stored credential
// can be minted from the raw one without asking the user.
func (m *CredentialManager) usesRawCredentialDirectly() bool {
	raw := m.cfg.RawAuthCredential
	if raw == nil {
		return false
	}
	return m.IsClientCredentialsFlow() || raw.Type == CredentialTypeServiceAccount
}

func (m *CredentialManager) loadExisting(cc CredentialContext) *AuthCredential {
	if m.cfg.ExchangedAuthCredential != nil {
		return m.cfg.ExchangedAuthCredential
	}
	return m.loadFromCredentialService(cc)
}

func (m *CredentialManager) loadFromCredentialService(cc CredentialContext) *AuthCredential {
	svc := cc.CredentialService()
	if svc == nil {
		return nil
	}
	cred, err := svc.LoadCredential(cc, cc.AppName(), cc.UserID(), m.cfg)
	if err != nil {
		slog.Warn("Credential service load failed", "credential_key", m.cfg.CredentialKey(), "error", err)
		return nil
	}
	return cred
}

func (m *CredentialManager) loadFromAuthResponse(cc CredentialContext) *AuthCredential {
	return cc.AuthResponse(m.cfg)
}

// exchange reports true only when the exchanger produced a new credential.
// Exchangers return their input untouched when it is already usable.
func (m *CredentialManager) exchange(ctx context.Context, cred *AuthCredential) (*AuthCredential, bool, error) {
	ex := m.exchangers.Get(cred.Type)
	if ex == nil {
		return cred, false, nil
	}
	out, err := ex.Exchange(ctx, cred, m.cfg.Scheme)
	if err != nil {
		return nil, false, err
	}
	return out, out != cred, nil
}

func (m *CredentialManager) refresh(ctx context.Context, cred *AuthCredential) (*AuthCredential, bool, error) {
	rf := m.refreshers.Get(cred.Type)
	if rf == nil || !rf.IsRefreshNeeded(cred, m.cfg.Scheme) {
		return cred, false, nil
	}
	out, err := rf.Refresh(ctx, cred, m.cfg.Scheme)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// save always records cred on the config and persists it when a credential
// service is available.
func (m *CredentialManager) save(cc CredentialContext, cred *AuthCredential) {
	m.cfg.ExchangedAuthCredential = cred
	svc := cc.CredentialService()
	if svc == nil {
		return
	}
	if err := svc.SaveCredential(cc, cc.AppName(), cc.UserID(), m.cfg); err != nil {
		slog.Warn("Credential service save failed", "credential_key", m.cfg.CredentialKey(), "error", err)
	}
}
