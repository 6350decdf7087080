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


package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/agentkit/pkg/auth"
)

// IDTokenClaims are the identity claims extracted from a verified token.
type IDTokenClaims struct {
	Subject string
	Email   string
	Name    string
	Extra   map[string]any
}

var standardClaims = map[string]bool{
	"sub": true, "email": true, "name": true,
	"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true,
}

// IDTokenVerifier verifies OpenID Connect ID tokens against a JWKS
// endpoint. Keys are cached and refreshed in the background.
type IDTokenVerifier struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewIDTokenVerifier fetches the key set once to validate the
// configuration. The refresh goroutine lives as long as ctx.
func NewIDTokenVerifier(ctx context.Context, jwksURL, issuer, audience string, httpClient *http.Client) (*IDTokenVerifier, error) {
	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithMinRefreshInterval(15 * time.Minute)}
	if httpClient != nil {
		opts = append(opts, jwk.WithHTTPClient(httpClient))
	}
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("register JWKS url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &IDTokenVerifier{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify checks signature, expiry, issuer and audience.
func (v *IDTokenVerifier) Verify(ctx context.Context, idToken string) (*IDTokenClaims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.Parse([]byte(idToken), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid id token: %w", err)
	}

	claims := &IDTokenClaims{Subject: token.Subject(), Extra: map[string]any{}}
	for key, value := range token.PrivateClaims() {
		switch {
		case key == "email":
			claims.Email, _ = value.(string)
		case key == "name":
			claims.Name, _ = value.(string)
		case !standardClaims[key]:
			claims.Extra[key] = value
		}
	}
	return claims, nil
}

// OpenIDConnectExchanger runs the OAuth2 exchange and, when a verifier is
// configured, rejects responses whose ID token does not verify.
type OpenIDConnectExchanger struct {
	OAuth2   *OAuth2Exchanger
	Verifier *IDTokenVerifier
}

func (e *OpenIDConnectExchanger) Exchange(ctx context.Context, cred *auth.AuthCredential, scheme auth.AuthScheme) (*auth.AuthCredential, error) {
	out, err := e.OAuth2.Exchange(ctx, cred, scheme)
	if err != nil {
		return nil, err
	}
	if e.Verifier == nil || out.OAuth2 == nil || out.OAuth2.IDToken == "" {
		return out, nil
	}
	if _, err := e.Verifier.Verify(ctx, out.OAuth2.IDToken); err != nil {
		return nil, err
	}
	return out, nil
}

var _ auth.Exchanger = (*OpenIDConnectExchanger)(nil)
