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


// Package auth models tool authentication: the credentials a tool is
// configured with, the schemes describing how runtime credentials are
// obtained, and the CredentialManager that turns the former into the latter.
//
// # Credentials
//
// AuthCredential is a tagged union. Build values with the New*Credential
// constructors; Validate reports values whose payload does not match the
// tag:
//
//	cred := auth.NewOAuth2Credential(&auth.OAuth2Auth{
//	    ClientID:     "id",
//	    ClientSecret: "secret",
//	})
//
// # Acquisition
//
//	mgr := exchange.NewCredentialManager(cfg)
//	cred, err := mgr.GetAuthCredential(toolCtx)
//	if cred == nil && err == nil {
//	    mgr.RequestCredential(toolCtx) // ask the user to complete the flow
//	}
package auth

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// CredentialType tags the payload of an AuthCredential.
type CredentialType string

const (
	CredentialTypeAPIKey         CredentialType = "API_KEY"
	CredentialTypeOAuth2         CredentialType = "OAUTH2"
	CredentialTypeServiceAccount CredentialType = "SERVICE_ACCOUNT"
	CredentialTypeHTTP           CredentialType = "HTTP"
	CredentialTypeOpenIDConnect  CredentialType = "OPEN_ID_CONNECT"
)

// ErrInvalidCredential is returned by Validate.
var ErrInvalidCredential = errors.New("invalid auth credential")

// OAuth2Auth carries OAuth2 / OpenID Connect client data and tokens.
type OAuth2Auth struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// AuthURI is the authorization URL the user is sent to.
	AuthURI     string `json:"auth_uri,omitempty"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`

	// AuthResponseURI is the full callback URL, including the code.
	AuthResponseURI string `json:"auth_response_uri,omitempty"`
	AuthCode        string `json:"auth_code,omitempty"`

	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	// ExpiresAt is the access token expiry in seconds since the epoch.
	ExpiresAt int64 `json:"expires_at,omitempty"`
	ExpiresIn int64 `json:"expires_in,omitempty"`

	Audience string `json:"audience,omitempty"`
}

// ServiceAccountKey is the content of a service account JSON key file.
type ServiceAccountKey struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
	UniverseDomain          string `json:"universe_domain,omitempty"`
}

// ServiceAccount describes how to mint tokens for a service identity.
type ServiceAccount struct {
	Key    *ServiceAccountKey `json:"service_account_credential,omitempty"`
	Scopes []string           `json:"scopes,omitempty"`
	// UseDefaultCredential selects the ambient application default
	// credentials instead of Key.
	UseDefaultCredential bool `json:"use_default_credential,omitempty"`
}

// HTTPCredentials holds basic or bearer material.
type HTTPCredentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// HTTPAuth is an HTTP authentication header credential.
type HTTPAuth struct {
	// Scheme is the HTTP auth scheme, "bearer" or "basic".
	Scheme            string            `json:"scheme"`
	Credentials       HTTPCredentials   `json:"credentials"`
	AdditionalHeaders map[string]string `json:"additional_headers,omitempty"`
}

// AuthCredential is a credential of exactly one type.
type AuthCredential struct {
	Type CredentialType `json:"auth_type"`

	// ResourceRef optionally names the resource the credential is for.
	ResourceRef string `json:"resource_ref,omitempty"`

	APIKey         string          `json:"api_key,omitempty"`
	HTTP           *HTTPAuth       `json:"http,omitempty"`
	OAuth2         *OAuth2Auth     `json:"oauth2,omitempty"`
	ServiceAccount *ServiceAccount `json:"service_account,omitempty"`
}

// NewAPIKeyCredential returns an API key credential.
func NewAPIKeyCredential(key string) *AuthCredential {
	return &AuthCredential{Type: CredentialTypeAPIKey, APIKey: key}
}

// NewHTTPCredential returns an HTTP header credential.
func NewHTTPCredential(h *HTTPAuth) *AuthCredential {
	return &AuthCredential{Type: CredentialTypeHTTP, HTTP: h}
}

// NewBearerCredential returns an HTTP bearer credential.
func NewBearerCredential(token string) *AuthCredential {
	return NewHTTPCredential(&HTTPAuth{Scheme: "bearer", Credentials: HTTPCredentials{Token: token}})
}

// NewOAuth2Credential returns an OAuth2 credential.
func NewOAuth2Credential(o *OAuth2Auth) *AuthCredential {
	return &AuthCredential{Type: CredentialTypeOAuth2, OAuth2: o}
}

// NewOpenIDConnectCredential returns an OpenID Connect credential. It
// shares the OAuth2 payload.
func NewOpenIDConnectCredential(o *OAuth2Auth) *AuthCredential {
	return &AuthCredential{Type: CredentialTypeOpenIDConnect, OAuth2: o}
}

// NewServiceAccountCredential returns a service account credential.
func NewServiceAccountCredential(sa *ServiceAccount) *AuthCredential {
	return &AuthCredential{Type: CredentialTypeServiceAccount, ServiceAccount: sa}
}

// Validate checks that exactly the payload matching Type is populated.
func (c *AuthCredential) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidCredential)
	}
	populated := map[CredentialType]bool{
		CredentialTypeAPIKey:         c.APIKey != "",
		CredentialTypeHTTP:           c.HTTP != nil,
		CredentialTypeOAuth2:         c.OAuth2 != nil,
		CredentialTypeServiceAccount: c.ServiceAccount != nil,
	}
	want := c.Type
	if want == CredentialTypeOpenIDConnect {
		want = CredentialTypeOAuth2
	}
	if _, known := populated[want]; !known {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCredential, c.Type)
	}
	for t, ok := range populated {
		if t == want && !ok {
			return fmt.Errorf("%w: %s credential has no payload", ErrInvalidCredential, c.Type)
		}
		if t != want && ok {
			return fmt.Errorf("%w: %s credential also carries a %s payload", ErrInvalidCredential, c.Type, t)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *AuthCredential) Clone() *AuthCredential {
	if c == nil {
		return nil
	}
	out := *c
	if c.HTTP != nil {
		h := *c.HTTP
		h.AdditionalHeaders = maps.Clone(c.HTTP.AdditionalHeaders)
		out.HTTP = &h
	}
	if c.OAuth2 != nil {
		o := *c.OAuth2
		out.OAuth2 = &o
	}
	if c.ServiceAccount != nil {
		sa := *c.ServiceAccount
		sa.Scopes = slices.Clone(c.ServiceAccount.Scopes)
		if c.ServiceAccount.Key != nil {
			k := *c.ServiceAccount.Key
			sa.Key = &k
		}
		out.ServiceAccount = &sa
	}
	return &out
}
