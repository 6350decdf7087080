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


// Package exchange turns raw credentials into usable tokens. It provides
// the default exchangers and refreshers for the auth package.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kadirpekel/agentkit/pkg/auth"
)

// RefreshWindow is how long before expiry a token is considered stale.
const RefreshWindow = 5 * time.Minute

// ErrNoTokenURL is returned when the scheme has no usable token endpoint.
var ErrNoTokenURL = errors.New("auth scheme has no token url")

// endpoint resolves the OAuth2 endpoint and scopes from a scheme.
func endpoint(scheme auth.AuthScheme) (oauth2.Endpoint, []string, bool) {
	switch s := scheme.(type) {
	case *auth.OAuth2Scheme:
		return flowEndpoint(&s.Flows)
	case *auth.ExtendedOAuth2Scheme:
		return flowEndpoint(&s.Flows)
	case *auth.OpenIDConnectWithConfig:
		if s.TokenEndpoint == "" {
			return oauth2.Endpoint{}, nil, false
		}
		return oauth2.Endpoint{AuthURL: s.AuthorizationEndpoint, TokenURL: s.TokenEndpoint}, s.Scopes, true
	}
	return oauth2.Endpoint{}, nil, false
}

func flowEndpoint(f *auth.OAuthFlows) (oauth2.Endpoint, []string, bool) {
	switch {
	case f.AuthorizationCode != nil && f.AuthorizationCode.TokenURL != "":
		return oauth2.Endpoint{
			AuthURL:  f.AuthorizationCode.AuthorizationURL,
			TokenURL: f.AuthorizationCode.TokenURL,
		}, scopeNames(f.AuthorizationCode.Scopes), true
	case f.ClientCredentials != nil && f.ClientCredentials.TokenURL != "":
		return oauth2.Endpoint{TokenURL: f.ClientCredentials.TokenURL}, scopeNames(f.ClientCredentials.Scopes), true
	case f.Password != nil && f.Password.TokenURL != "":
		return oauth2.Endpoint{TokenURL: f.Password.TokenURL}, scopeNames(f.Password.Scopes), true
	}
	return oauth2.Endpoint{}, nil, false
}

func scopeNames(scopes map[string]string) []string {
	return slices.Sorted(maps.Keys(scopes))
}

// OAuth2Exchanger trades an authorization code, or client credentials, for
// tokens.
type OAuth2Exchanger struct {
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
	now        func() time.Time
}

// NewOAuth2Exchanger creates an exchanger using http.DefaultClient.
func NewOAuth2Exchanger(httpClient *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{HTTPClient: httpClient, now: time.Now}
}

func (e *OAuth2Exchanger) context(ctx context.Context) context.Context {
	if e.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.HTTPClient)
}

// Exchange returns cred unchanged when it already carries an access token.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, cred *auth.AuthCredential, scheme auth.AuthScheme) (*auth.AuthCredential, error) {
	if cred == nil || cred.OAuth2 == nil {
		return nil, fmt.Errorf("%w: oauth2 payload required", auth.ErrInvalidCredential)
	}
	if cred.OAuth2.AccessToken != "" {
		return cred, nil
	}
	ep, scopes, ok := endpoint(scheme)
	if !ok {
		return nil, ErrNoTokenURL
	}
	ctx = e.context(ctx)

	if code := authCode(cred.OAuth2); code != "" {
		cfg := oauth2.Config{
			ClientID:     cred.OAuth2.ClientID,
			ClientSecret: cred.OAuth2.ClientSecret,
			Endpoint:     ep,
			RedirectURL:  cred.OAuth2.RedirectURI,
			Scopes:       scopes,
		}
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return withToken(cred, tok, e.now()), nil
	}

	if auth.UsesClientCredentials(scheme) {
		cfg := clientcredentials.Config{
			ClientID:     cred.OAuth2.ClientID,
			ClientSecret: cred.OAuth2.ClientSecret,
			TokenURL:     ep.TokenURL,
			Scopes:       scopes,
		}
		if cred.OAuth2.Audience != "" {
			cfg.EndpointParams = url.Values{"audience": {cred.OAuth2.Audience}}
		}
		tok, err := cfg.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("client credentials grant: %w", err)
		}
		return withToken(cred, tok, e.now()), nil
	}

	// Nothing to exchange yet; the user has not completed the flow.
	return cred, nil
}

// authCode extracts the code from the credential, falling back to the
// callback URL the client echoed back.
func authCode(o *auth.OAuth2Auth) string {
	if o.AuthCode != "" {
		return o.AuthCode
	}
	if o.AuthResponseURI == "" {
		return ""
	}
	u, err := url.Parse(o.AuthResponseURI)
	if err != nil {
		return ""
	}
	return u.Query().Get("code")
}

func withToken(cred *auth.AuthCredential, tok *oauth2.Token, now time.Time) *auth.AuthCredential {
	out := cred.Clone()
	out.OAuth2.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		out.OAuth2.RefreshToken = tok.RefreshToken
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		out.OAuth2.IDToken = id
	}
	if !tok.Expiry.IsZero() {
		out.OAuth2.ExpiresAt = tok.Expiry.Unix()
		out.OAuth2.ExpiresIn = int64(tok.Expiry.Sub(now).Seconds())
	}
	out.OAuth2.AuthCode = ""
	return out
}

// OAuth2Refresher renews access tokens with the refresh token grant.
type OAuth2Refresher struct {
	HTTPClient *http.Client
	now        func() time.Time
}

// NewOAuth2Refresher creates a refresher using http.DefaultClient.
func NewOAuth2Refresher(httpClient *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{HTTPClient: httpClient, now: time.Now}
}

// IsRefreshNeeded reports whether the token expires within RefreshWindow.
// Tokens without a known expiry are never refreshed.
func (r *OAuth2Refresher) IsRefreshNeeded(cred *auth.AuthCredential, scheme auth.AuthScheme) bool {
	if cred == nil || cred.OAuth2 == nil || cred.OAuth2.ExpiresAt == 0 {
		return false
	}
	expiry := time.Unix(cred.OAuth2.ExpiresAt, 0)
	return r.now().Add(RefreshWindow).After(expiry)
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, cred *auth.AuthCredential, scheme auth.AuthScheme) (*auth.AuthCredential, error) {
	if cred == nil || cred.OAuth2 == nil {
		return nil, fmt.Errorf("%w: oauth2 payload required", auth.ErrInvalidCredential)
	}
	if cred.OAuth2.RefreshToken == "" {
		return cred, nil
	}
	ep, scopes, ok := endpoint(scheme)
	if !ok {
		return nil, ErrNoTokenURL
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}
	cfg := oauth2.Config{
		ClientID:     cred.OAuth2.ClientID,
		ClientSecret: cred.OAuth2.ClientSecret,
		Endpoint:     ep,
		Scopes:       scopes,
	}
	// An already-expired token forces the source to hit the token URL.
	stale := &oauth2.Token{RefreshToken: cred.OAuth2.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return withToken(cred, tok, r.now()), nil
}

// BearerHeader renders the Authorization header value for cred, or "" if
// it carries no usable token.
func BearerHeader(cred *auth.AuthCredential) string {
	switch {
	case cred == nil:
		return ""
	case cred.OAuth2 != nil && cred.OAuth2.AccessToken != "":
		return "Bearer " + cred.OAuth2.AccessToken
	case cred.HTTP != nil && strings.EqualFold(cred.HTTP.Scheme, "bearer") && cred.HTTP.Credentials.Token != "":
		return "Bearer " + cred.HTTP.Credentials.Token
	}
	return ""
}

var (
	_ auth.Exchanger = (*OAuth2Exchanger)(nil)
	_ auth.Refresher = (*OAuth2Refresher)(nil)
)
