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

// Package plugin provides the lifecycle hook bus of an app.
//
// A plugin is any value with a Name that implements one or more of the
// callback interfaces below. The Manager notifies plugins synchronously, in
// registration order. For callbacks that can override behaviour, the first
// plugin returning a non-nil value wins and the remaining plugins are not
// called for that notification.
//
//	m := plugin.NewManager()
//	m.Register(analytics.New(cfg))          // every callback it implements
//	m.Register(audit, plugin.KindBeforeTool) // only BeforeTool
package plugin

import (
	"fmt"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/tool"
)

// Kind identifies a lifecycle callback.
type Kind int

const (
	KindOnUserMessage Kind = iota
	KindBeforeRun
	KindAfterRun
	KindOnEvent
	KindBeforeAgent
	KindAfterAgent
	KindBeforeModel
	KindAfterModel
	KindModelError
	KindBeforeTool
	KindAfterTool
	KindToolError

	numKinds
)

var kindNames = [...]string{
	KindOnUserMessage: "on_user_message",
	KindBeforeRun:     "before_run",
	KindAfterRun:      "after_run",
	KindOnEvent:       "on_event",
	KindBeforeAgent:   "before_agent",
	KindAfterAgent:    "after_agent",
	KindBeforeModel:   "before_model",
	KindAfterModel:    "after_model",
	KindModelError:    "model_error",
	KindBeforeTool:    "before_tool",
	KindAfterTool:     "after_tool",
	KindToolError:     "tool_error",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// AllKinds returns every callback kind.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Plugin is the base interface of all plugins.
type Plugin interface {
	Name() string
}

// UserMessageCallback observes the user message of an invocation. A non-nil
// content replaces the message.
type UserMessageCallback interface {
	OnUserMessage(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error)
}

// BeforeRunCallback runs once before the agent tree. A non-nil content ends
// the invocation early and is yielded as its only response.
type BeforeRunCallback interface {
	BeforeRun(ctx agent.InvocationContext) (*genai.Content, error)
}

// AfterRunCallback runs once after the invocation completed or paused.
type AfterRunCallback interface {
	AfterRun(ctx agent.InvocationContext)
}

// EventCallback observes every event before it is persisted. A non-nil
// event replaces it.
type EventCallback interface {
	OnEvent(ctx agent.InvocationContext, ev *agent.Event) (*agent.Event, error)
}

// BeforeAgentCallback runs before an agent body.
type BeforeAgentCallback interface {
	BeforeAgent(ctx agent.CallbackContext) (*genai.Content, error)
}

// AfterAgentCallback runs after an agent body.
type AfterAgentCallback interface {
	AfterAgent(ctx agent.CallbackContext) (*genai.Content, error)
}

// BeforeModelCallback runs before each model call. A non-nil response skips
// the call.
type BeforeModelCallback interface {
	BeforeModel(ctx agent.CallbackContext, req *model.Request) (*model.Response, error)
}

// AfterModelCallback runs on each non-partial model response. A non-nil
// response replaces it.
type AfterModelCallback interface {
	AfterModel(ctx agent.CallbackContext, resp *model.Response) (*model.Response, error)
}

// ModelErrorCallback runs when the model call fails. A non-nil response
// recovers from the error.
type ModelErrorCallback interface {
	OnModelError(ctx agent.CallbackContext, req *model.Request, err error) (*model.Response, error)
}

// BeforeToolCallback runs before a tool call. A non-nil result skips the
// tool body.
type BeforeToolCallback interface {
	BeforeTool(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)
}

// AfterToolCallback runs after a successful tool call. A non-nil result
// replaces the tool result.
type AfterToolCallback interface {
	AfterTool(ctx tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error)
}

// ToolErrorCallback runs when a tool call fails. A non-nil result recovers
// from the error.
type ToolErrorCallback interface {
	OnToolError(ctx tool.Context, t tool.Tool, args map[string]any, err error) (map[string]any, error)
}

// implements reports whether p has the callback method of kind.
func implements(p Plugin, kind Kind) bool {
	switch kind {
	case KindOnUserMessage:
		_, ok := p.(UserMessageCallback)
		return ok
	case KindBeforeRun:
		_, ok := p.(BeforeRunCallback)
		return ok
	case KindAfterRun:
		_, ok := p.(AfterRunCallback)
		return ok
	case KindOnEvent:
		_, ok := p.(EventCallback)
		return ok
	case KindBeforeAgent:
		_, ok := p.(BeforeAgentCallback)
		return ok
	case KindAfterAgent:
		_, ok := p.(AfterAgentCallback)
		return ok
	case KindBeforeModel:
		_, ok := p.(BeforeModelCallback)
		return ok
	case KindAfterModel:
		_, ok := p.(AfterModelCallback)
		return ok
	case KindModelError:
		_, ok := p.(ModelErrorCallback)
		return ok
	case KindBeforeTool:
		_, ok := p.(BeforeToolCallback)
		return ok
	case KindAfterTool:
		_, ok := p.(AfterToolCallback)
		return ok
	case KindToolError:
		_, ok := p.(ToolErrorCallback)
		return ok
	}
	return false
}
