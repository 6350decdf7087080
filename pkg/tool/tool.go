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

// Package tool defines interfaces for tools that agents can invoke.
//
// # Tool Interface Hierarchy
//
//	Tool (base)
//	  ├── CallableTool   - synchronous execution with a function declaration
//	  └── IsLongRunning() - answers arrive later, outside the call
//
// # Human-in-the-loop
//
// A tool asks for approval from inside Call:
//
//	func (t *deleteTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
//	    tc := ctx.ToolConfirmation()
//	    if tc == nil {
//	        ctx.RequestConfirmation("Delete the file?", nil)
//	        return toolconfirmation.PendingResponse(), nil
//	    }
//	    if !tc.Confirmed {
//	        return toolconfirmation.RejectedResponse(), nil
//	    }
//	    ...
//	}
//
// The agent turns the request into an adk_request_confirmation call and
// re-runs the original call once the client answers it. The functiontool
// package does this automatically for tools created with
// RequireConfirmation.
package tool

import (
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// Tool defines the base interface for a callable tool.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	// Used by LLMs to decide when to use this tool.
	Description() string

	// IsLongRunning indicates that the call only starts an operation whose
	// result is delivered later as a function response.
	IsLongRunning() bool
}

// CallableTool extends Tool with synchronous execution capability.
type CallableTool interface {
	Tool

	// Declaration returns the function declaration sent to the model.
	Declaration() *genai.FunctionDeclaration

	// Call executes the tool with the given arguments.
	Call(ctx Context, args map[string]any) (map[string]any, error)
}

// Context provides the execution context for a tool.
//
// Context satisfies auth.CredentialContext, so tools can hand it to an
// auth.CredentialManager directly.
type Context interface {
	agent.CallbackContext

	// FunctionCallID returns the unique ID of this tool invocation.
	FunctionCallID() string

	// Actions returns the event actions to modify state or request transfers.
	Actions() *agent.EventActions

	// ToolConfirmation returns the client's decision when the call is being
	// re-run after a confirmation request, or nil.
	ToolConfirmation() *toolconfirmation.ToolConfirmation

	// RequestConfirmation asks the client to approve this call. The hint
	// is shown to the human; payload is an optional template of structured
	// data the client may fill in.
	RequestConfirmation(hint string, payload any) error

	// CredentialService returns the credential store, or nil.
	CredentialService() auth.CredentialService

	// RequestCredential asks the client to complete the auth flow of cfg.
	RequestCredential(cfg *auth.AuthConfig) error

	// AuthResponse returns the credential supplied by the client for cfg,
	// or nil.
	AuthResponse(cfg *auth.AuthConfig) *auth.AuthCredential
}

// Toolset groups related tools and provides dynamic resolution.
type Toolset interface {
	// Name returns the name of this toolset.
	Name() string

	// Tools returns the available tools based on the current context.
	Tools(ctx agent.ReadonlyContext) ([]Tool, error)
}

// Predicate determines whether a tool should be available to the LLM.
type Predicate func(ctx agent.ReadonlyContext, tool Tool) bool

// StringPredicate creates a Predicate that allows only named tools.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}
	return func(ctx agent.ReadonlyContext, tool Tool) bool {
		return allowed[tool.Name()]
	}
}

// FilterToolset exposes the tools of ts accepted by p.
func FilterToolset(ts Toolset, p Predicate) Toolset {
	return &filteredToolset{Toolset: ts, pred: p}
}

type filteredToolset struct {
	Toolset
	pred Predicate
}

func (f *filteredToolset) Tools(ctx agent.ReadonlyContext) ([]Tool, error) {
	tools, err := f.Toolset.Tools(ctx)
	if err != nil {
		return nil, err
	}
	out := tools[:0:0]
	for _, t := range tools {
		if f.pred(ctx, t) {
			out = append(out, t)
		}
	}
	return out, nil
}
