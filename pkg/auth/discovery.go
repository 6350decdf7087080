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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/httpclient"
)

// AuthorizationServerMetadata is the subset of RFC 8414 / OpenID Connect
// discovery metadata used to fill in schemes.
type AuthorizationServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	JWKSURI               string   `json:"jwks_uri,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported   []string `json:"grant_types_supported,omitempty"`
}

// Discoverer fetches authorization server metadata.
type Discoverer interface {
	DiscoverAuthServerMetadata(ctx context.Context, issuerURL string) (*AuthorizationServerMetadata, error)
}

// DiscoveryManager tries the RFC 8414 well-known locations first and the
// OpenID Connect ones second.
type DiscoveryManager struct {
	client *httpclient.Client
}

// NewDiscoveryManager creates a manager. A nil client gets a default one
// with a single retry.
func NewDiscoveryManager(client *httpclient.Client) *DiscoveryManager {
	if client == nil {
		client = httpclient.New(httpclient.WithMaxRetries(1))
	}
	return &DiscoveryManager{client: client}
}

func wellKnownURLs(issuer string) ([]string, error) {
	u, err := url.Parse(strings.TrimSuffix(issuer, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid issuer url %q", issuer)
	}
	base := u.Scheme + "://" + u.Host
	path := u.Path
	if path == "" {
		return []string{
			base + "/.well-known/oauth-authorization-server",
			base + "/.well-known/openid-configuration",
		}, nil
	}
	return []string{
		base + "/.well-known/oauth-authorization-server" + path,
		base + "/.well-known/openid-configuration" + path,
		base + path + "/.well-known/openid-configuration",
	}, nil
}

// DiscoverAuthServerMetadata returns the first metadata document whose
// issuer matches issuerURL.
func (m *DiscoveryManager) DiscoverAuthServerMetadata(ctx context.Context, issuerURL string) (*AuthorizationServerMetadata, error) {
	candidates, err := wellKnownURLs(issuerURL)
	if err != nil {
		return nil, err
	}
	want := strings.TrimSuffix(issuerURL, "/")

	var lastErr error
	for _, endpoint := range candidates {
		meta, err := m.fetch(ctx, endpoint)
		if err != nil {
			slog.Debug("Auth server metadata not found", "url", endpoint, "error", err)
			lastErr = err
			continue
		}
		if strings.TrimSuffix(meta.Issuer, "/") != want {
			lastErr = fmt.Errorf("issuer mismatch at %s: got %q, want %q", endpoint, meta.Issuer, want)
			slog.Warn("Ignoring auth server metadata", "url", endpoint, "error", lastErr)
			continue
		}
		return meta, nil
	}
	return nil, fmt.Errorf("discover metadata for %s: %w", issuerURL, lastErr)
}

func (m *DiscoveryManager) fetch(ctx context.Context, endpoint string) (*AuthorizationServerMetadata, error) {
	resp, err := m.client.Get(ctx, endpoint)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var meta AuthorizationServerMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

var _ Discoverer = (*DiscoveryManager)(nil)
