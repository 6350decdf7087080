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

// Package analytics logs agent lifecycle events as rows of an analytics
// table.
//
// Every callback produces one row with the event type, the agent, the
// session, invocation and user ids, a human-readable content column and an
// optional error message. Logging never fails the invocation: a sink that
// cannot be set up is reported once and then ignored, insert failures are
// logged and dropped.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/plugin"
	"github.com/kadirpekel/agentkit/pkg/tool"
)

// Event types.
const (
	EventUserMessageReceived = "USER_MESSAGE_RECEIVED"
	EventInvocationStarting  = "INVOCATION_STARTING"
	EventInvocationCompleted = "INVOCATION_COMPLETED"
	EventAgentStarting       = "AGENT_STARTING"
	EventAgentCompleted      = "AGENT_COMPLETED"
	EventLLMRequest          = "LLM_REQUEST"
	EventLLMResponse         = "LLM_RESPONSE"
	EventLLMError            = "LLM_ERROR"
	EventToolStarting        = "TOOL_STARTING"
	EventToolCompleted       = "TOOL_COMPLETED"
	EventToolError           = "TOOL_ERROR"
	EventToolCall            = "TOOL_CALL"
	EventModelResponse       = "MODEL_RESPONSE"
)

// Config configures the plugin.
type Config struct {
	// Name defaults to "analytics".
	Name string

	Sink Sink

	// MaxContentLength truncates the content column. Defaults to 500;
	// negative disables truncation.
	MaxContentLength int

	Logger *slog.Logger

	// now is overridden in tests.
	now func() time.Time
}

// Plugin writes one row per lifecycle callback.
type Plugin struct {
	name   string
	sink   Sink
	maxLen int
	logger *slog.Logger
	now    func() time.Time

	unavailable sync.Once
}

// New creates the plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.Sink == nil {
		return nil, fmt.Errorf("analytics sink is required")
	}
	if cfg.Name == "" {
		cfg.Name = "analytics"
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Plugin{
		name:   cfg.Name,
		sink:   cfg.Sink,
		maxLen: cfg.MaxContentLength,
		logger: cfg.Logger,
		now:    cfg.now,
	}, nil
}

func (p *Plugin) Name() string { return p.name }

// Close closes the sink when it holds resources.
func (p *Plugin) Close(ctx context.Context) error {
	if c, ok := p.sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

type rowContext interface {
	context.Context
	AgentName() string
	SessionID() string
	InvocationID() string
	UserID() string
}

func (p *Plugin) log(ctx rowContext, eventType string, content, errMsg *string, ts time.Time) {
	if content != nil {
		s := truncate(*content, p.maxLen)
		content = &s
	}
	if ts.IsZero() {
		ts = p.now()
	}
	row := Row{
		Timestamp:    ts,
		EventType:    eventType,
		Agent:        ctx.AgentName(),
		SessionID:    ctx.SessionID(),
		InvocationID: ctx.InvocationID(),
		UserID:       ctx.UserID(),
		Content:      content,
		ErrorMessage: errMsg,
	}

	err := p.sink.Insert(context.WithoutCancel(ctx), row)
	if err == nil {
		return
	}
	if s, ok := p.sink.(*SQLSink); ok && s.initErr != nil {
		p.unavailable.Do(func() {
			p.logger.Error("Analytics sink unavailable, events will not be recorded", "plugin", p.name, "error", err)
		})
		return
	}
	p.logger.Error("Failed to insert analytics row", "plugin", p.name, "event_type", eventType, "error", err)
}

func str(s string) *string { return &s }

func (p *Plugin) OnUserMessage(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	p.log(ctx, EventUserMessageReceived, str("User Content: "+formatContent(msg)), nil, time.Time{})
	return nil, nil
}

func (p *Plugin) BeforeRun(ctx agent.InvocationContext) (*genai.Content, error) {
	p.log(ctx, EventInvocationStarting, nil, nil, time.Time{})
	return nil, nil
}

func (p *Plugin) AfterRun(ctx agent.InvocationContext) {
	p.log(ctx, EventInvocationCompleted, nil, nil, time.Time{})
}

// OnEvent records function calls as TOOL_CALL and text as MODEL_RESPONSE,
// stamped with the event time. User events and function responses are
// covered by other callbacks.
func (p *Plugin) OnEvent(ctx agent.InvocationContext, ev *agent.Event) (*agent.Event, error) {
	if ev == nil || ev.Partial || ev.Author == agent.AuthorUser || ev.Content == nil {
		return nil, nil
	}
	switch {
	case len(ev.FunctionCalls()) > 0:
		p.log(ctx, EventToolCall, str(partsJSON(ev.Content)), nil, ev.Timestamp)
	case len(ev.FunctionResponses()) > 0:
	case ev.TextContent() != "":
		p.log(ctx, EventModelResponse, str(partsJSON(ev.Content)), nil, ev.Timestamp)
	}
	return nil, nil
}

func (p *Plugin) BeforeAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	p.log(ctx, EventAgentStarting, str("Agent Name: "+ctx.AgentName()), nil, time.Time{})
	return nil, nil
}

func (p *Plugin) AfterAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	p.log(ctx, EventAgentCompleted, str("Agent Name: "+ctx.AgentName()), nil, time.Time{})
	return nil, nil
}

func (p *Plugin) BeforeModel(ctx agent.CallbackContext, req *model.Request) (*model.Response, error) {
	p.log(ctx, EventLLMRequest, str(formatRequest(req)), nil, time.Time{})
	return nil, nil
}

func (p *Plugin) AfterModel(ctx agent.CallbackContext, resp *model.Response) (*model.Response, error) {
	var errMsg *string
	if resp.ErrorMessage != "" {
		errMsg = str(resp.ErrorMessage)
	}
	p.log(ctx, EventLLMResponse, str(formatResponse(resp)), errMsg, time.Time{})
	return nil, nil
}

func (p *Plugin) OnModelError(ctx agent.CallbackContext, req *model.Request, err error) (*model.Response, error) {
	p.log(ctx, EventLLMError, nil, str(err.Error()), time.Time{})
	return nil, nil
}

func (p *Plugin) BeforeTool(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
	content := fmt.Sprintf("Tool Name: %s, Description: %s, Arguments: %s", t.Name(), t.Description(), formatArgs(args))
	p.log(ctx, EventToolStarting, str(content), nil, time.Time{})
	return nil, nil
}

func (p *Plugin) AfterTool(ctx tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error) {
	content := fmt.Sprintf("Tool Name: %s, Result: %s", t.Name(), formatArgs(result))
	p.log(ctx, EventToolCompleted, str(content), nil, time.Time{})
	return nil, nil
}

func (p *Plugin) OnToolError(ctx tool.Context, t tool.Tool, args map[string]any, err error) (map[string]any, error) {
	p.log(ctx, EventToolError, str("Tool Name: "+t.Name()), str(err.Error()), time.Time{})
	return nil, nil
}

var (
	_ plugin.Plugin              = (*Plugin)(nil)
	_ plugin.UserMessageCallback = (*Plugin)(nil)
	_ plugin.BeforeRunCallback   = (*Plugin)(nil)
	_ plugin.AfterRunCallback    = (*Plugin)(nil)
	_ plugin.EventCallback       = (*Plugin)(nil)
	_ plugin.BeforeAgentCallback = (*Plugin)(nil)
	_ plugin.AfterAgentCallback  = (*Plugin)(nil)
	_ plugin.BeforeModelCallback = (*Plugin)(nil)
	_ plugin.AfterModelCallback  = (*Plugin)(nil)
	_ plugin.ModelErrorCallback  = (*Plugin)(nil)
	_ plugin.BeforeToolCallback  = (*Plugin)(nil)
	_ plugin.AfterToolCallback   = (*Plugin)(nil)
	_ plugin.ToolErrorCallback   = (*Plugin)(nil)
	_ plugin.Closer              = (*Plugin)(nil)
)
