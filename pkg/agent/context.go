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
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/auth"
)

/*
InvocationContext represents the context of an agent invocation.

An invocation:
 1. Starts with a user message and ends with a final response or a pause.
 2. Can contain one or multiple agent calls.
 3. Is handled by runner.Run(). A paused invocation is continued by a
    later runner.Run() carrying the same invocation id.

An agent call:
 1. Is handled by agent.Run().
 2. Ends when agent.Run() completes.

An agent call can contain multiple steps (LLM calls + tool executions).

	┌─────────────────────── invocation ──────────────────────────┐
	┌──────────── llm_agent_call_1 ────────────┐ ┌─ agent_call_2 ─┐
	┌──── step_1 ────────┐ ┌───── step_2 ──────┐
	[call_llm] [call_tool] [call_llm] [transfer]
*/
type InvocationContext interface {
	CallbackContext

	// Agent returns the current agent being executed.
	Agent() Agent

	// Session returns the session for this invocation.
	Session() Session

	// CredentialService returns the credential store, or nil.
	CredentialService() auth.CredentialService

	// Plugins returns the lifecycle hooks of the app, or nil.
	Plugins() Hooks

	// RunConfig returns the runtime configuration for this invocation.
	RunConfig() *RunConfig

	// Resumable reports whether paused invocations can be resumed.
	Resumable() bool

	// Resume returns the resumability state shared by the whole
	// invocation. Never nil.
	Resume() *ResumeState

	// EndInvocation signals that the invocation should stop.
	EndInvocation()

	// Ended returns whether the invocation has been ended.
	Ended() bool
}

// ReadonlyContext provides read-only access to invocation data.
// Safe to pass to tools and external code.
type ReadonlyContext interface {
	context.Context

	// InvocationID returns the unique ID for this invocation.
	InvocationID() string

	// AgentName returns the current agent's name.
	AgentName() string

	// UserContent returns the user message that started this invocation.
	UserContent() *genai.Content

	// ReadonlyState returns read-only access to session state.
	ReadonlyState() ReadonlyState

	UserID() string
	AppName() string
	SessionID() string

	// Branch returns the agent hierarchy path.
	Branch() string
}

// CallbackContext provides state modification for callbacks.
type CallbackContext interface {
	ReadonlyContext

	// Artifacts returns the artifacts of the current session, or nil.
	Artifacts() Artifacts

	// State returns mutable session state.
	State() State
}

// Session represents a conversation session.
// Defined here to avoid circular imports with session package.
type Session interface {
	ID() string
	AppName() string
	UserID() string
	State() State
	Events() Events
}

// ErrStateKeyNotExist is returned by State.Get for unknown keys.
var ErrStateKeyNotExist = errors.New("state key does not exist")

// State is a mutable key-value store for session state.
type State interface {
	Get(key string) (any, error)
	Set(key string, value any) error
	Delete(key string) error
	All() iter.Seq2[string, any]
}

// TempClearable is implemented by state stores that support clearing temp keys.
type TempClearable interface {
	// ClearTempKeys removes all keys with the "temp:" prefix.
	// Called automatically after each invocation completes.
	ClearTempKeys()
}

// ReadonlyState provides read-only access to session state.
type ReadonlyState interface {
	Get(key string) (any, error)
	All() iter.Seq2[string, any]
}

// Events provides access to session event history.
type Events interface {
	All() iter.Seq[*Event]
	Len() int
	At(i int) *Event
}

// Hooks receives agent lifecycle notifications. A non-nil content returned
// by BeforeAgent replaces the agent run; one returned by AfterAgent is
// yielded as an extra event.
type Hooks interface {
	BeforeAgent(ctx CallbackContext) (*genai.Content, error)
	AfterAgent(ctx CallbackContext) (*genai.Content, error)
}

// RunConfig contains runtime configuration for an invocation.
type RunConfig struct {
	// StreamingMode controls event streaming behavior.
	StreamingMode StreamingMode

	// SaveInputBlobsAsArtifacts saves inline data of the user message as
	// artifacts.
	SaveInputBlobsAsArtifacts bool
}

// StreamingMode controls how events are streamed.
type StreamingMode string

const (
	StreamingModeNone StreamingMode = "none"
	StreamingModeSSE  StreamingMode = "sse"
)

// NewInvocationID returns a fresh invocation id.
func NewInvocationID() string {
	return "e-" + uuid.NewString()
}

// invocationContext is the concrete implementation of InvocationContext.
type invocationContext struct {
	context.Context

	agent        Agent
	session      Session
	artifacts    Artifacts
	credentials  auth.CredentialService
	plugins      Hooks
	invocationID string
	branch       string
	userContent  *genai.Content
	runConfig    *RunConfig
	resumable    bool
	resume       *ResumeState
	ended        *atomic.Bool
}

// InvocationContextParams contains parameters for creating an InvocationContext.
type InvocationContextParams struct {
	Artifacts         Artifacts
	CredentialService auth.CredentialService
	Plugins           Hooks
	Session           Session
	Agent             Agent
	Branch            string
	UserContent       *genai.Content
	RunConfig         *RunConfig

	// InvocationID defaults to a fresh id.
	InvocationID string

	Resumable bool
	// Resume defaults to an empty state.
	Resume *ResumeState
}

// NewInvocationContext creates a new InvocationContext.
func NewInvocationContext(ctx context.Context, params InvocationContextParams) InvocationContext {
	invocationID := params.InvocationID
	if invocationID == "" {
		invocationID = NewInvocationID()
	}
	resume := params.Resume
	if resume == nil {
		resume = NewResumeState()
	}
	runConfig := params.RunConfig
	if runConfig == nil {
		runConfig = &RunConfig{}
	}
	return &invocationContext{
		Context:      ctx,
		agent:        params.Agent,
		session:      params.Session,
		artifacts:    params.Artifacts,
		credentials:  params.CredentialService,
		plugins:      params.Plugins,
		invocationID: invocationID,
		branch:       params.Branch,
		userContent:  params.UserContent,
		runConfig:    runConfig,
		resumable:    params.Resumable,
		resume:       resume,
		ended:        new(atomic.Bool),
	}
}

// ForAgent derives the context a sub-agent runs in. The invocation id,
// resumability state and end flag are shared with ctx.
func ForAgent(ctx InvocationContext, ag Agent, branch string) InvocationContext {
	return ForAgentWithContext(ctx, ctx, ag, branch)
}

// ForAgentWithContext is ForAgent with a different underlying
// context.Context, such as an errgroup context.
func ForAgentWithContext(parent context.Context, ctx InvocationContext, ag Agent, branch string) InvocationContext {
	c := &invocationContext{
		Context:      parent,
		agent:        ag,
		session:      ctx.Session(),
		artifacts:    ctx.Artifacts(),
		credentials:  ctx.CredentialService(),
		plugins:      ctx.Plugins(),
		invocationID: ctx.InvocationID(),
		branch:       branch,
		userContent:  ctx.UserContent(),
		runConfig:    ctx.RunConfig(),
		resumable:    ctx.Resumable(),
		resume:       ctx.Resume(),
		ended:        new(atomic.Bool),
	}
	if ic, ok := ctx.(*invocationContext); ok {
		c.ended = ic.ended
	}
	return c
}

func (c *invocationContext) Agent() Agent                              { return c.agent }
func (c *invocationContext) Session() Session                          { return c.session }
func (c *invocationContext) Artifacts() Artifacts                      { return c.artifacts }
func (c *invocationContext) CredentialService() auth.CredentialService { return c.credentials }
func (c *invocationContext) Plugins() Hooks                            { return c.plugins }
func (c *invocationContext) InvocationID() string                      { return c.invocationID }
func (c *invocationContext) Branch() string                            { return c.branch }
func (c *invocationContext) UserContent() *genai.Content               { return c.userContent }
func (c *invocationContext) RunConfig() *RunConfig                     { return c.runConfig }
func (c *invocationContext) Resumable() bool                           { return c.resumable }
func (c *invocationContext) Resume() *ResumeState                      { return c.resume }
func (c *invocationContext) EndInvocation()                            { c.ended.Store(true) }
func (c *invocationContext) Ended() bool                               { return c.ended.Load() }

func (c *invocationContext) AgentName() string {
	if c.agent != nil {
		return c.agent.Name()
	}
	return ""
}

func (c *invocationContext) ReadonlyState() ReadonlyState {
	if c.session != nil {
		return c.session.State()
	}
	return nil
}

func (c *invocationContext) UserID() string {
	if c.session != nil {
		return c.session.UserID()
	}
	return ""
}

func (c *invocationContext) AppName() string {
	if c.session != nil {
		return c.session.AppName()
	}
	return ""
}

func (c *invocationContext) SessionID() string {
	if c.session != nil {
		return c.session.ID()
	}
	return ""
}

func (c *invocationContext) State() State {
	if c.session != nil {
		return c.session.State()
	}
	return nil
}

// callbackContext records state writes of callbacks and tools in an
// EventActions so they can be attached to the event they produce.
type callbackContext struct {
	InvocationContext
	actions *EventActions
}

// NewCallbackContext returns a CallbackContext whose state writes are
// recorded in actions.StateDelta.
func NewCallbackContext(ctx InvocationContext, actions *EventActions) CallbackContext {
	if actions.StateDelta == nil {
		actions.StateDelta = make(map[string]any)
	}
	return &callbackContext{InvocationContext: ctx, actions: actions}
}

func (c *callbackContext) State() State {
	return &callbackState{actions: c.actions, state: c.InvocationContext.State()}
}

// callbackState wraps State to track modifications in actions.
type callbackState struct {
	actions *EventActions
	state   State
}

func (s *callbackState) Get(key string) (any, error) {
	if val, ok := s.actions.StateDelta[key]; ok {
		return val, nil
	}
	if s.state == nil {
		return nil, ErrStateKeyNotExist
	}
	return s.state.Get(key)
}

// Set records the value in the delta only; the session applies it when the
// event carrying the delta is appended.
func (s *callbackState) Set(key string, val any) error {
	s.actions.StateDelta[key] = val
	return nil
}

func (s *callbackState) Delete(key string) error {
	s.actions.StateDelta[key] = nil
	return nil
}

func (s *callbackState) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		seen := make(map[string]bool, len(s.actions.StateDelta))
		for k, v := range s.actions.StateDelta {
			seen[k] = true
			if v == nil {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
		if s.state == nil {
			return
		}
		for k, v := range s.state.All() {
			if seen[k] {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

var (
	_ InvocationContext = (*invocationContext)(nil)
	_ CallbackContext   = (*callbackContext)(nil)
)
