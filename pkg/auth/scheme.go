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
	"encoding/json"
	"fmt"
	"slices"
)

// SchemeType is the OpenAPI security scheme type.
type SchemeType string

const (
	SchemeTypeAPIKey        SchemeType = "apiKey"
	SchemeTypeHTTP          SchemeType = "http"
	SchemeTypeOAuth2        SchemeType = "oauth2"
	SchemeTypeOpenIDConnect SchemeType = "openIdConnect"
)

// AuthScheme describes how a credential is presented or obtained. The set
// of implementations is closed; see the *Scheme types in this package.
type AuthScheme interface {
	SchemeType() SchemeType
	isAuthScheme()
}

// APIKeyScheme sends a static key in a header, query parameter or cookie.
type APIKeyScheme struct {
	In   string `json:"in"`
	Name string `json:"name"`
}

// HTTPScheme uses the Authorization header.
type HTTPScheme struct {
	Scheme       string `json:"scheme"`
	BearerFormat string `json:"bearerFormat,omitempty"`
}

type OAuthFlowImplicit struct {
	AuthorizationURL string            `json:"authorizationUrl"`
	RefreshURL       string            `json:"refreshUrl,omitempty"`
	Scopes           map[string]string `json:"scopes,omitempty"`
}

type OAuthFlowPassword struct {
	TokenURL   string            `json:"tokenUrl"`
	RefreshURL string            `json:"refreshUrl,omitempty"`
	Scopes     map[string]string `json:"scopes,omitempty"`
}

type OAuthFlowClientCredentials struct {
	TokenURL   string            `json:"tokenUrl"`
	RefreshURL string            `json:"refreshUrl,omitempty"`
	Scopes     map[string]string `json:"scopes,omitempty"`
}

type OAuthFlowAuthorizationCode struct {
	AuthorizationURL string            `json:"authorizationUrl"`
	TokenURL         string            `json:"tokenUrl"`
	RefreshURL       string            `json:"refreshUrl,omitempty"`
	Scopes           map[string]string `json:"scopes,omitempty"`
}

// OAuthFlows lists the flows an OAuth2 scheme supports.
type OAuthFlows struct {
	Implicit          *OAuthFlowImplicit          `json:"implicit,omitempty"`
	Password          *OAuthFlowPassword          `json:"password,omitempty"`
	ClientCredentials *OAuthFlowClientCredentials `json:"clientCredentials,omitempty"`
	AuthorizationCode *OAuthFlowAuthorizationCode `json:"authorizationCode,omitempty"`
}

// OAuth2Scheme is an OpenAPI OAuth2 security scheme.
type OAuth2Scheme struct {
	Flows       OAuthFlows `json:"flows"`
	Description string     `json:"description,omitempty"`
}

// ExtendedOAuth2Scheme is an OAuth2 scheme whose endpoints may be left
// empty and discovered from IssuerURL.
type ExtendedOAuth2Scheme struct {
	OAuth2Scheme
	IssuerURL string `json:"issuer_url,omitempty"`
}

// OpenIDConnectScheme only names the discovery document.
type OpenIDConnectScheme struct {
	OpenIDConnectURL string `json:"openIdConnectUrl"`
}

// OpenIDConnectWithConfig is an OpenID Connect scheme with its discovery
// metadata already resolved.
type OpenIDConnectWithConfig struct {
	Issuer                            string   `json:"issuer,omitempty"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	Scopes                            []string `json:"scopes,omitempty"`
}

func (*APIKeyScheme) SchemeType() SchemeType            { return SchemeTypeAPIKey }
func (*HTTPScheme) SchemeType() SchemeType              { return SchemeTypeHTTP }
func (*OAuth2Scheme) SchemeType() SchemeType            { return SchemeTypeOAuth2 }
func (*ExtendedOAuth2Scheme) SchemeType() SchemeType    { return SchemeTypeOAuth2 }
func (*OpenIDConnectScheme) SchemeType() SchemeType     { return SchemeTypeOpenIDConnect }
func (*OpenIDConnectWithConfig) SchemeType() SchemeType { return SchemeTypeOpenIDConnect }

func (*APIKeyScheme) isAuthScheme()            {}
func (*HTTPScheme) isAuthScheme()              {}
func (*OAuth2Scheme) isAuthScheme()            {}
func (*ExtendedOAuth2Scheme) isAuthScheme()    {}
func (*OpenIDConnectScheme) isAuthScheme()     {}
func (*OpenIDConnectWithConfig) isAuthScheme() {}

// oauth2Flows returns the flows of either OAuth2 variant.
func oauth2Flows(s AuthScheme) (*OAuthFlows, bool) {
	switch v := s.(type) {
	case *OAuth2Scheme:
		return &v.Flows, true
	case *ExtendedOAuth2Scheme:
		return &v.Flows, true
	}
	return nil, false
}

// UsesClientCredentials reports whether s is a machine-to-machine flow that
// needs no user interaction.
func UsesClientCredentials(s AuthScheme) bool {
	if flows, ok := oauth2Flows(s); ok {
		return flows.ClientCredentials != nil
	}
	if oidc, ok := s.(*OpenIDConnectWithConfig); ok {
		return slices.Contains(oidc.GrantTypesSupported, "client_credentials")
	}
	return false
}

const (
	kindAPIKey         = "api_key"
	kindHTTP           = "http"
	kindOAuth2         = "oauth2"
	kindExtendedOAuth2 = "extended_oauth2"
	kindOIDC           = "openid_connect"
	kindOIDCWithConfig = "openid_connect_config"
)

type schemeEnvelope struct {
	Kind   string          `json:"kind"`
	Scheme json.RawMessage `json:"scheme"`
}

// MarshalScheme encodes a scheme together with its variant.
func MarshalScheme(s AuthScheme) ([]byte, error) {
	var kind string
	switch s.(type) {
	case nil:
		return []byte("null"), nil
	case *APIKeyScheme:
		kind = kindAPIKey
	case *HTTPScheme:
		kind = kindHTTP
	case *OAuth2Scheme:
		kind = kindOAuth2
	case *ExtendedOAuth2Scheme:
		kind = kindExtendedOAuth2
	case *OpenIDConnectScheme:
		kind = kindOIDC
	case *OpenIDConnectWithConfig:
		kind = kindOIDCWithConfig
	default:
		return nil, fmt.Errorf("unsupported auth scheme %T", s)
	}
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(schemeEnvelope{Kind: kind, Scheme: body})
}

// UnmarshalScheme decodes the output of MarshalScheme.
func UnmarshalScheme(data []byte) (AuthScheme, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env schemeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	var s AuthScheme
	switch env.Kind {
	case kindAPIKey:
		s = &APIKeyScheme{}
	case kindHTTP:
		s = &HTTPScheme{}
	case kindOAuth2:
		s = &OAuth2Scheme{}
	case kindExtendedOAuth2:
		s = &ExtendedOAuth2Scheme{}
	case kindOIDC:
		s = &OpenIDConnectScheme{}
	case kindOIDCWithConfig:
		s = &OpenIDConnectWithConfig{}
	default:
		return nil, fmt.Errorf("unknown auth scheme kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Scheme, s); err != nil {
		return nil, fmt.Errorf("decode %s scheme: %w", env.Kind, err)
	}
	return s, nil
}
