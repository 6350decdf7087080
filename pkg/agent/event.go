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
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// Event author constants
const (
	// AuthorUser represents events authored by the user (human input).
	AuthorUser = "user"
)

// Event represents an interaction in an agent conversation.
// Events are yielded by Agent.Run(), persisted by the runner and replayed
// from the session to rebuild model contents and resumability state.
type Event struct {
	// ID is the unique identifier for this event.
	ID string

	// Timestamp when the event was created.
	Timestamp time.Time

	// InvocationID links this event to its invocation.
	InvocationID string

	// Branch isolates conversation history for parallel agents.
	// Format: "agent_1.agent_2.agent_3" (parent chain). Empty for
	// root-level events.
	Branch string

	// Author is the name of the agent that produced this event, or
	// AuthorUser.
	Author string

	// Content is the message payload (text, function calls, responses).
	Content *genai.Content

	// Actions captures side effects (state changes, transfers, etc).
	Actions EventActions

	// LongRunningToolIDs identifies function calls in Content that await
	// an external answer, such as a human confirmation.
	LongRunningToolIDs []string

	// Partial indicates this is a streaming chunk, not a complete event.
	Partial bool

	// TurnComplete indicates this is the final event of a turn.
	TurnComplete bool

	// ErrorCode is a machine-readable error identifier.
	ErrorCode string

	// ErrorMessage is a human-readable error description.
	ErrorMessage string

	// UsageMetadata carries token usage reported by the model.
	UsageMetadata *genai.GenerateContentResponseUsageMetadata

	// CustomMetadata for application-specific data.
	CustomMetadata map[string]any
}

// EventActions represents side effects attached to an event.
type EventActions struct {
	// StateDelta contains key-value changes to session state.
	StateDelta map[string]any

	// ArtifactDelta tracks artifact updates (filename -> version).
	ArtifactDelta map[string]int64

	// SkipSummarization prevents the model from being called on the
	// function responses of this event.
	SkipSummarization bool

	// TransferToAgent requests control transfer to another agent.
	TransferToAgent string

	// Escalate requests escalation to a higher-level agent.
	Escalate bool

	// RequestedToolConfirmations maps function call ids to the
	// confirmation each call is waiting for.
	RequestedToolConfirmations map[string]toolconfirmation.ToolConfirmation

	// RequestedAuthConfigs maps function call ids to the credential each
	// call is waiting for.
	RequestedAuthConfigs map[string]*auth.AuthConfig

	// AgentState is the execution state of the authoring agent. Only set
	// in resumable apps.
	AgentState json.RawMessage

	// EndOfAgent marks the authoring agent as completed for the
	// invocation. Only set in resumable apps.
	EndOfAgent bool
}

// NewEvent creates a new event with generated ID and current timestamp.
func NewEvent(invocationID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Actions:      EventActions{StateDelta: make(map[string]any)},
	}
}

// IsFinalResponse returns whether this event is a final response.
// Multiple events can be final when multiple agents participate in one invocation.
//
// An event is NOT final if it:
//   - contains function calls (awaiting execution)
//   - contains function responses (awaiting model summarization)
//   - is a partial/streaming event
func (e *Event) IsFinalResponse() bool {
	if e.Actions.SkipSummarization || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	if e.Partial {
		return false
	}
	return len(e.FunctionCalls()) == 0 && len(e.FunctionResponses()) == 0
}

// FunctionCalls returns the function calls carried by the event.
func (e *Event) FunctionCalls() []*genai.FunctionCall {
	if e == nil || e.Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function responses carried by the event.
func (e *Event) FunctionResponses() []*genai.FunctionResponse {
	if e == nil || e.Content == nil {
		return nil
	}
	var resps []*genai.FunctionResponse
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionResponse != nil {
			resps = append(resps, p.FunctionResponse)
		}
	}
	return resps
}

// LongRunningFunctionCalls returns the calls listed in LongRunningToolIDs.
func (e *Event) LongRunningFunctionCalls() []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, c := range e.FunctionCalls() {
		if slices.Contains(e.LongRunningToolIDs, c.ID) {
			calls = append(calls, c)
		}
	}
	return calls
}

// TextContent concatenates the non-thought text parts of the event.
func (e *Event) TextContent() string {
	if e == nil || e.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range e.Content.Parts {
		if p != nil && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// NewTextContent creates content with a text part.
func NewTextContent(text string, role genai.Role) *genai.Content {
	return genai.NewContentFromText(text, role)
}
