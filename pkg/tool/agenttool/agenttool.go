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

// Package agenttool exposes an agent as a tool of another agent.
//
// The wrapped agent runs in a session of its own, seeded with a copy of the
// caller's state. State changes it makes are copied back onto the caller's
// function response event; nothing else of the child run is visible to the
// caller.
//
// Example:
//
//	researcher, _ := llmagent.New(llmagent.Config{Name: "researcher", ...})
//
//	root, _ := llmagent.New(llmagent.Config{
//	    Name:  "root",
//	    Tools: []tool.Tool{agenttool.New(researcher, nil)},
//	})
package agenttool

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/tool"
)

// internalStatePrefix marks framework-owned state that is never copied into
// a child session.
const internalStatePrefix = "_adk"

// Config holds the configuration for an agent tool.
type Config struct {
	// SkipSummarization stops the caller from summarizing the result with
	// another model call.
	SkipSummarization bool
}

type agentTool struct {
	agent             agent.Agent
	skipSummarization bool
}

// New wraps ag as a tool named after it. A nil cfg uses the defaults.
func New(ag agent.Agent, cfg *Config) tool.CallableTool {
	if ag == nil {
		return nil
	}
	t := &agentTool{agent: ag}
	if cfg != nil {
		t.skipSummarization = cfg.SkipSummarization
	}
	return t
}

func (t *agentTool) Name() string        { return t.agent.Name() }
func (t *agentTool) Description() string { return t.agent.Description() }
func (t *agentTool) IsLongRunning() bool { return false }

func (t *agentTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.agent.Name(),
		Description: t.agent.Description(),
		ParametersJsonSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request": map[string]any{
					"type":        "string",
					"description": "The task or request for the " + t.agent.Name() + " agent",
				},
			},
			"required": []string{"request"},
		},
	}
}

// Call runs the wrapped agent on the request and returns its last text.
func (t *agentTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	request, ok := args["request"].(string)
	if !ok {
		return nil, fmt.Errorf("request parameter must be a string")
	}
	if t.skipSummarization {
		ctx.Actions().SkipSummarization = true
	}

	parent := invocationContext(ctx)
	if parent == nil {
		return nil, fmt.Errorf("agent tool %q: tool context carries no invocation", t.agent.Name())
	}

	sessions := session.InMemoryService()
	created, err := sessions.Create(parent, &session.CreateRequest{
		AppName: parent.AppName(),
		UserID:  parent.UserID(),
		State:   copyState(parent),
	})
	if err != nil {
		return nil, fmt.Errorf("agent tool %q: failed to create session: %w", t.agent.Name(), err)
	}
	childSession := created.Session

	userContent := genai.NewContentFromText(request, genai.RoleUser)
	childCtx := agent.NewInvocationContext(parent, agent.InvocationContextParams{
		Agent:             t.agent,
		Session:           childSession,
		Artifacts:         parent.Artifacts(),
		CredentialService: parent.CredentialService(),
		Plugins:           parent.Plugins(),
		UserContent:       userContent,
		RunConfig:         parent.RunConfig(),
	})

	userEvent := agent.NewEvent(childCtx.InvocationID())
	userEvent.Author = agent.AuthorUser
	userEvent.Content = userContent
	if err := sessions.AppendEvent(parent, childSession, userEvent); err != nil {
		return nil, fmt.Errorf("agent tool %q: %w", t.agent.Name(), err)
	}

	var output string
	for ev, err := range t.agent.Run(childCtx) {
		if err != nil {
			return nil, fmt.Errorf("agent tool %q: %w", t.agent.Name(), err)
		}
		if ev == nil || ev.Partial {
			continue
		}
		if err := sessions.AppendEvent(parent, childSession, ev); err != nil {
			return nil, fmt.Errorf("agent tool %q: %w", t.agent.Name(), err)
		}
		for k, v := range ev.Actions.StateDelta {
			if err := ctx.State().Set(k, v); err != nil {
				return nil, err
			}
		}
		if text := ev.TextContent(); text != "" {
			output = text
		}
	}
	return map[string]any{"result": output}, nil
}

func copyState(ctx agent.InvocationContext) map[string]any {
	out := make(map[string]any)
	if ctx.Session() == nil {
		return out
	}
	for k, v := range ctx.Session().State().All() {
		if strings.HasPrefix(k, internalStatePrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

func invocationContext(ctx tool.Context) agent.InvocationContext {
	if ic, ok := ctx.(agent.InvocationContext); ok {
		return ic
	}
	if holder, ok := ctx.(interface {
		InvocationContext() agent.InvocationContext
	}); ok {
		return holder.InvocationContext()
	}
	return nil
}

var _ tool.CallableTool = (*agentTool)(nil)
