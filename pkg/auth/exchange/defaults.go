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
	"net/http"

	"github.com/kadirpekel/agentkit/pkg/auth"
)

// Registries returns the default exchanger and refresher registries.
// OAuth2 and OpenID Connect share the token exchange; service accounts
// mint bearer tokens through Google credentials.
func Registries(httpClient *http.Client) (*auth.ExchangerRegistry, *auth.RefresherRegistry) {
	oauth := NewOAuth2Exchanger(httpClient)
	exchangers := auth.NewExchangerRegistry()
	exchangers.Register(auth.CredentialTypeOAuth2, oauth)
	exchangers.Register(auth.CredentialTypeOpenIDConnect, &OpenIDConnectExchanger{OAuth2: oauth})
	exchangers.Register(auth.CredentialTypeServiceAccount, NewServiceAccountExchanger(nil))

	refresher := NewOAuth2Refresher(httpClient)
	refreshers := auth.NewRefresherRegistry()
	refreshers.Register(auth.CredentialTypeOAuth2, refresher)
	refreshers.Register(auth.CredentialTypeOpenIDConnect, refresher)
	return exchangers, refreshers
}

// NewCredentialManager builds a manager wired with the default registries.
func NewCredentialManager(cfg *auth.AuthConfig, opts ...auth.ManagerOption) *auth.CredentialManager {
	exchangers, refreshers := Registries(nil)
	base := []auth.ManagerOption{auth.WithExchangers(exchangers), auth.WithRefreshers(refreshers)}
	return auth.NewCredentialManager(cfg, append(base, opts...)...)
}
