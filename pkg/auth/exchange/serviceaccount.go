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
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kadirpekel/agentkit/pkg/auth"
)

// DefaultServiceAccountScopes is used when a service account credential
// names no scopes.
var DefaultServiceAccountScopes = []string{"https://www.googleapis.com/auth/cloud-platform"}

// TokenSourceFunc builds a token source for a service account.
type TokenSourceFunc func(ctx context.Context, sa *auth.ServiceAccount, scopes []string) (oauth2.TokenSource, error)

// ServiceAccountExchanger mints bearer tokens for service accounts.
type ServiceAccountExchanger struct {
	tokenSource TokenSourceFunc
}

// NewServiceAccountExchanger creates an exchanger. A nil fn uses Google
// key files or application default credentials.
func NewServiceAccountExchanger(fn TokenSourceFunc) *ServiceAccountExchanger {
	if fn == nil {
		fn = GoogleTokenSource
	}
	return &ServiceAccountExchanger{tokenSource: fn}
}

// GoogleTokenSource reads the JSON key, or falls back to application
// default credentials when UseDefaultCredential is set.
func GoogleTokenSource(ctx context.Context, sa *auth.ServiceAccount, scopes []string) (oauth2.TokenSource, error) {
	if sa.UseDefaultCredential {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		return creds.TokenSource, nil
	}
	if sa.Key == nil {
		return nil, fmt.Errorf("%w: service account key required", auth.ErrInvalidCredential)
	}
	data, err := json.Marshal(sa.Key)
	if err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return creds.TokenSource, nil
}

// Exchange returns an HTTP bearer credential.
func (e *ServiceAccountExchanger) Exchange(ctx context.Context, cred *auth.AuthCredential, _ auth.AuthScheme) (*auth.AuthCredential, error) {
	if cred == nil || cred.ServiceAccount == nil {
		return nil, fmt.Errorf("%w: service account payload required", auth.ErrInvalidCredential)
	}
	scopes := cred.ServiceAccount.Scopes
	if len(scopes) == 0 {
		scopes = DefaultServiceAccountScopes
	}
	ts, err := e.tokenSource(ctx, cred.ServiceAccount, scopes)
	if err != nil {
		return nil, err
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("mint service account token: %w", err)
	}
	return auth.NewBearerCredential(tok.AccessToken), nil
}

var _ auth.Exchanger = (*ServiceAccountExchanger)(nil)
