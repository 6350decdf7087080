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

package agent

import (
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// Agent is a node of the agent tree.
type Agent interface {
	Name() string
	Description() string
	SubAgents() []Agent

	// Run executes the agent and yields its events in causal order.
	Run(ctx InvocationContext) iter.Seq2[*Event, error]
}

// RunFunc implements the body of an agent.
type RunFunc func(ctx InvocationContext) iter.Seq2[*Event, error]

// BeforeAgentCallback runs before the agent body. A non-nil content skips
// the body and is yielded as the agent's response.
type BeforeAgentCallback func(ctx CallbackContext) (*genai.Content, error)

// AfterAgentCallback runs after the agent body. A non-nil content is
// yielded as an extra response.
type AfterAgentCallback func(ctx CallbackContext) (*genai.Content, error)

// Config contains the configuration for creating an agent with New.
type Config struct {
	// Name must be unique within the agent tree and may not contain ".".
	Name        string
	Description string
	SubAgents   []Agent

	BeforeAgentCallbacks []BeforeAgentCallback

	// Run is the agent body.
	//
	// In resumable apps the body reports completion by yielding
	// NewEndOfAgentEvent; an agent that returns without it is considered
	// paused.
	Run RunFunc

	AfterAgentCallbacks []AfterAgentCallback
}

type baseAgent struct {
	name        string
	description string
	subAgents   []Agent
	before      []BeforeAgentCallback
	after       []AfterAgentCallback
	run         RunFunc
}

// New creates an agent from cfg.
func New(cfg Config) (Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if strings.Contains(cfg.Name, ".") {
		return nil, fmt.Errorf("agent name %q must not contain '.'", cfg.Name)
	}
	if cfg.Name == AuthorUser {
		return nil, fmt.Errorf("agent name %q is reserved", cfg.Name)
	}
	if cfg.Run == nil {
		return nil, fmt.Errorf("agent %q: run function is required", cfg.Name)
	}
	seen := make(map[string]bool, len(cfg.SubAgents))
	for _, sub := range cfg.SubAgents {
		if sub == nil {
			return nil, fmt.Errorf("agent %q: nil sub-agent", cfg.Name)
		}
		if seen[sub.Name()] {
			return nil, fmt.Errorf("agent %q: duplicate sub-agent %q", cfg.Name, sub.Name())
		}
		seen[sub.Name()] = true
	}
	return &baseAgent{
		name:        cfg.Name,
		description: cfg.Description,
		subAgents:   cfg.SubAgents,
		before:      cfg.BeforeAgentCallbacks,
		after:       cfg.AfterAgentCallbacks,
		run:         cfg.Run,
	}, nil
}

func (a *baseAgent) Name() string        { return a.name }
func (a *baseAgent) Description() string { return a.description }
func (a *baseAgent) SubAgents() []Agent  { return a.subAgents }

// Run wraps the body with callbacks and plugin hooks. Agents that already
// completed in a resumed invocation are skipped.
func (a *baseAgent) Run(ctx InvocationContext) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if ctx.Resumable() && ctx.Resume().Ended(a.name) {
			return
		}

		emit := func(ev *Event, err error) bool {
			if err == nil {
				ctx.Resume().Observe(ev)
			}
			return yield(ev, err)
		}

		ev, err := a.runBefore(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if ev != nil {
			if !emit(ev, nil) {
				return
			}
			if ev.Content != nil {
				return
			}
		}

		for ev, err := range a.run(ctx) {
			if !emit(ev, err) || err != nil {
				return
			}
		}
		if ctx.Ended() {
			return
		}

		ev, err = a.runAfter(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if ev != nil {
			emit(ev, nil)
		}
	}
}

// runBefore returns the event to yield before the body, if any. An event
// with content replaces the body; one with only state changes does not.
func (a *baseAgent) runBefore(ctx InvocationContext) (*Event, error) {
	actions := &EventActions{StateDelta: map[string]any{}}
	cctx := NewCallbackContext(ctx, actions)

	var content *genai.Content
	if h := ctx.Plugins(); h != nil {
		c, err := h.BeforeAgent(cctx)
		if err != nil {
			return nil, fmt.Errorf("before-agent plugin failed: %w", err)
		}
		content = c
	}
	for _, cb := range a.before {
		if content != nil {
			break
		}
		c, err := cb(cctx)
		if err != nil {
			return nil, fmt.Errorf("before-agent callback failed: %w", err)
		}
		content = c
	}
	return callbackEvent(ctx, content, actions), nil
}

func (a *baseAgent) runAfter(ctx InvocationContext) (*Event, error) {
	actions := &EventActions{StateDelta: map[string]any{}}
	cctx := NewCallbackContext(ctx, actions)

	var content *genai.Content
	if h := ctx.Plugins(); h != nil {
		c, err := h.AfterAgent(cctx)
		if err != nil {
			return nil, fmt.Errorf("after-agent plugin failed: %w", err)
		}
		content = c
	}
	for _, cb := range a.after {
		if content != nil {
			break
		}
		c, err := cb(cctx)
		if err != nil {
			return nil, fmt.Errorf("after-agent callback failed: %w", err)
		}
		content = c
	}
	return callbackEvent(ctx, content, actions), nil
}

func callbackEvent(ctx InvocationContext, content *genai.Content, actions *EventActions) *Event {
	if content == nil && len(actions.StateDelta) == 0 {
		return nil
	}
	ev := NewEvent(ctx.InvocationID())
	ev.Author = ctx.AgentName()
	ev.Branch = ctx.Branch()
	ev.Content = content
	ev.Actions = *actions
	return ev
}

// FindAgent searches the tree rooted at root for name.
func FindAgent(root Agent, name string) Agent {
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// ListAgents returns every agent of the tree in depth-first order.
func ListAgents(root Agent) []Agent {
	if root == nil {
		return nil
	}
	out := []Agent{root}
	for _, sub := range root.SubAgents() {
		out = append(out, ListAgents(sub)...)
	}
	return out
}
