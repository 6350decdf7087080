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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestCredentialFunctionCallName is the reserved name of the function
// call emitted when a tool needs the user to complete an auth flow.
const RequestCredentialFunctionCallName = "adk_request_credential"

// AuthConfig binds a scheme and the user-declared raw credential to the
// credential obtained at runtime. Only CredentialManager writes
// ExchangedAuthCredential.
type AuthConfig struct {
	Scheme                  AuthScheme
	RawAuthCredential       *AuthCredential
	ExchangedAuthCredential *AuthCredential

	// Key overrides the derived credential key.
	Key string
}

// CredentialKey identifies the credential in a CredentialService. Unless
// overridden it is derived from the scheme and the raw credential, so the
// same configuration always maps to the same key.
func (c *AuthConfig) CredentialKey() string {
	if c.Key != "" {
		return c.Key
	}
	h := sha256.New()
	scheme, _ := MarshalScheme(c.Scheme)
	h.Write(scheme)
	if c.RawAuthCredential != nil {
		raw := c.RawAuthCredential.Clone()
		if raw.OAuth2 != nil {
			// Tokens change over the credential's life; the key must not.
			raw.OAuth2.AccessToken, raw.OAuth2.RefreshToken, raw.OAuth2.IDToken = "", "", ""
			raw.OAuth2.ExpiresAt, raw.OAuth2.ExpiresIn = 0, 0
			raw.OAuth2.AuthCode, raw.OAuth2.AuthResponseURI, raw.OAuth2.State = "", "", ""
		}
		data, _ := json.Marshal(raw)
		h.Write(data)
	}
	schemeName := "none"
	if c.Scheme != nil {
		schemeName = string(c.Scheme.SchemeType())
	}
	return fmt.Sprintf("adk_%s_%s", schemeName, hex.EncodeToString(h.Sum(nil))[:16])
}

// ResponseStateKey is the session state key an auth response for c is
// stored under until the tool call that requested it is re-run.
func (c *AuthConfig) ResponseStateKey() string {
	return "temp:" + c.CredentialKey()
}

// Clone returns a deep copy. Schemes are treated as immutable values and
// shared, except the extended OAuth2 scheme that discovery fills in.
func (c *AuthConfig) Clone() *AuthConfig {
	if c == nil {
		return nil
	}
	out := &AuthConfig{
		Scheme:                  c.Scheme,
		RawAuthCredential:       c.RawAuthCredential.Clone(),
		ExchangedAuthCredential: c.ExchangedAuthCredential.Clone(),
		Key:                     c.Key,
	}
	if ext, ok := c.Scheme.(*ExtendedOAuth2Scheme); ok {
		cp := *ext
		if ext.Flows.AuthorizationCode != nil {
			ac := *ext.Flows.AuthorizationCode
			cp.Flows.AuthorizationCode = &ac
		}
		if ext.Flows.ClientCredentials != nil {
			cc := *ext.Flows.ClientCredentials
			cp.Flows.ClientCredentials = &cc
		}
		out.Scheme = &cp
	}
	return out
}

type authConfigJSON struct {
	Scheme                  json.RawMessage `json:"auth_scheme,omitempty"`
	RawAuthCredential       *AuthCredential `json:"raw_auth_credential,omitempty"`
	ExchangedAuthCredential *AuthCredential `json:"exchanged_auth_credential,omitempty"`
	CredentialKey           string          `json:"credential_key,omitempty"`
}

// MarshalJSON encodes the config. The credential key is always written so
// clients can echo it back unchanged.
func (c AuthConfig) MarshalJSON() ([]byte, error) {
	scheme, err := MarshalScheme(c.Scheme)
	if err != nil {
		return nil, err
	}
	return json.Marshal(authConfigJSON{
		Scheme:                  scheme,
		RawAuthCredential:       c.RawAuthCredential,
		ExchangedAuthCredential: c.ExchangedAuthCredential,
		CredentialKey:           c.CredentialKey(),
	})
}

// UnmarshalJSON decodes the output of MarshalJSON.
func (c *AuthConfig) UnmarshalJSON(data []byte) error {
	var raw authConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	scheme, err := UnmarshalScheme(raw.Scheme)
	if err != nil {
		return err
	}
	*c = AuthConfig{
		Scheme:                  scheme,
		RawAuthCredential:       raw.RawAuthCredential,
		ExchangedAuthCredential: raw.ExchangedAuthCredential,
		Key:                     raw.CredentialKey,
	}
	return nil
}

// ParseAuthConfig decodes an auth config carried in a function call or
// response payload.
func ParseAuthConfig(payload any) (*AuthConfig, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var cfg AuthConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode auth config: %w", err)
	}
	return &cfg, nil
}

// ToMap renders the config as a generic JSON object.
func (c *AuthConfig) ToMap() map[string]any {
	data, err := json.Marshal(c)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}
