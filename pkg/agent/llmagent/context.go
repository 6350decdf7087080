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

package llmagent

import (
	"log/slog"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// toolContext implements tool.Context for one function call. State writes
// and requests land in actions, which the flow attaches to the function
// response event.
type toolContext struct {
	agent.CallbackContext
	invCtx         agent.InvocationContext
	functionCallID string
	actions        *agent.EventActions
	confirmation   *toolconfirmation.ToolConfirmation

	// authResponses holds credentials answered in the current resume,
	// keyed by credential key. They are also written to temp: state.
	authResponses map[string]*auth.AuthConfig
}

func newToolContext(ctx agent.InvocationContext, functionCallID string, actions *agent.EventActions) *toolContext {
	return &toolContext{
		CallbackContext: agent.NewCallbackContext(ctx, actions),
		invCtx:          ctx,
		functionCallID:  functionCallID,
		actions:         actions,
	}
}

func (c *toolContext) FunctionCallID() string { return c.functionCallID }

func (c *toolContext) Actions() *agent.EventActions { return c.actions }

func (c *toolContext) ToolConfirmation() *toolconfirmation.ToolConfirmation { return c.confirmation }

func (c *toolContext) CredentialService() auth.CredentialService { return c.invCtx.CredentialService() }

// InvocationContext returns the invocation this call runs in.
func (c *toolContext) InvocationContext() agent.InvocationContext { return c.invCtx }

func (c *toolContext) RequestConfirmation(hint string, payload any) error {
	if c.functionCallID == "" {
		return toolconfirmation.ErrMissingFunctionCallID
	}
	if c.actions.RequestedToolConfirmations == nil {
		c.actions.RequestedToolConfirmations = make(map[string]toolconfirmation.ToolConfirmation)
	}
	c.actions.RequestedToolConfirmations[c.functionCallID] = toolconfirmation.ToolConfirmation{
		Hint:    hint,
		Payload: payload,
	}
	return nil
}

func (c *toolContext) RequestCredential(cfg *auth.AuthConfig) error {
	if c.functionCallID == "" {
		return toolconfirmation.ErrMissingFunctionCallID
	}
	if c.actions.RequestedAuthConfigs == nil {
		c.actions.RequestedAuthConfigs = make(map[string]*auth.AuthConfig)
	}
	c.actions.RequestedAuthConfigs[c.functionCallID] = cfg.Clone()
	return nil
}

func (c *toolContext) AuthResponse(cfg *auth.AuthConfig) *auth.AuthCredential {
	if resp, ok := c.authResponses[cfg.CredentialKey()]; ok {
		return authResponseCredential(resp)
	}
	state := c.ReadonlyState()
	if state == nil {
		return nil
	}
	v, err := state.Get(cfg.ResponseStateKey())
	if err != nil || v == nil {
		return nil
	}
	resp, err := auth.ParseAuthConfig(v)
	if err != nil {
		slog.Warn("Ignoring malformed auth response", "credential_key", cfg.CredentialKey(), "error", err)
		return nil
	}
	return authResponseCredential(resp)
}

// authResponseCredential prefers the exchanged credential of a client
// answer, falling back to the raw one the client filled in.
func authResponseCredential(cfg *auth.AuthConfig) *auth.AuthCredential {
	if cfg.ExchangedAuthCredential != nil {
		return cfg.ExchangedAuthCredential
	}
	return cfg.RawAuthCredential
}

var (
	_ tool.Context           = (*toolContext)(nil)
	_ auth.CredentialContext = (*toolContext)(nil)
)
