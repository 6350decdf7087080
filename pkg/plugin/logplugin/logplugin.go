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

// Package logplugin logs agent lifecycle callbacks through slog.
package logplugin

import (
	"log/slog"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/tool"
)

// Plugin logs every callback. Lifecycle boundaries are logged at Info,
// model and tool traffic at Debug, failures at Warn.
type Plugin struct {
	logger *slog.Logger
}

// New returns a plugin logging to logger, or slog.Default when nil.
func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{logger: logger}
}

func (p *Plugin) Name() string { return "logging" }

func (p *Plugin) attrs(ctx agent.ReadonlyContext) []any {
	return []any{
		"invocation", ctx.InvocationID(),
		"agent", ctx.AgentName(),
		"session", ctx.SessionID(),
	}
}

func (p *Plugin) OnUserMessage(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	p.logger.Debug("User message received", append(p.attrs(ctx), "parts", partCount(msg))...)
	return nil, nil
}

func (p *Plugin) BeforeRun(ctx agent.InvocationContext) (*genai.Content, error) {
	p.logger.Info("Invocation starting", p.attrs(ctx)...)
	return nil, nil
}

func (p *Plugin) AfterRun(ctx agent.InvocationContext) {
	p.logger.Info("Invocation completed", p.attrs(ctx)...)
}

func (p *Plugin) OnEvent(ctx agent.InvocationContext, ev *agent.Event) (*agent.Event, error) {
	if ev.Partial {
		return nil, nil
	}
	attrs := append(p.attrs(ctx), "author", ev.Author, "branch", ev.Branch)
	switch {
	case len(ev.LongRunningToolIDs) > 0:
		p.logger.Info("Event awaits client response", append(attrs, "calls", ev.LongRunningToolIDs)...)
	case ev.Actions.EndOfAgent:
		p.logger.Debug("Agent ended", attrs...)
	case ev.ErrorMessage != "":
		p.logger.Warn("Event carries error", append(attrs, "code", ev.ErrorCode, "error", ev.ErrorMessage)...)
	default:
		p.logger.Debug("Event", append(attrs, "final", ev.IsFinalResponse())...)
	}
	return nil, nil
}

func (p *Plugin) BeforeAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	p.logger.Debug("Agent starting", p.attrs(ctx)...)
	return nil, nil
}

func (p *Plugin) AfterAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	p.logger.Debug("Agent finished", p.attrs(ctx)...)
	return nil, nil
}

func (p *Plugin) BeforeModel(ctx agent.CallbackContext, req *model.Request) (*model.Response, error) {
	p.logger.Debug("Calling model", append(p.attrs(ctx), "model", req.Model, "contents", len(req.Contents), "tools", len(req.Tools))...)
	return nil, nil
}

func (p *Plugin) AfterModel(ctx agent.CallbackContext, resp *model.Response) (*model.Response, error) {
	p.logger.Debug("Model responded", append(p.attrs(ctx), "tool_calls", len(resp.FunctionCalls()))...)
	return nil, nil
}

func (p *Plugin) OnModelError(ctx agent.CallbackContext, req *model.Request, err error) (*model.Response, error) {
	p.logger.Warn("Model call failed", append(p.attrs(ctx), "error", err)...)
	return nil, nil
}

func (p *Plugin) BeforeTool(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
	p.logger.Debug("Calling tool", append(p.attrs(ctx), "tool", t.Name(), "call_id", ctx.FunctionCallID())...)
	return nil, nil
}

func (p *Plugin) AfterTool(ctx tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error) {
	p.logger.Debug("Tool completed", append(p.attrs(ctx), "tool", t.Name(), "call_id", ctx.FunctionCallID())...)
	return nil, nil
}

func (p *Plugin) OnToolError(ctx tool.Context, t tool.Tool, args map[string]any, err error) (map[string]any, error) {
	p.logger.Warn("Tool failed", append(p.attrs(ctx), "tool", t.Name(), "error", err)...)
	return nil, nil
}

func partCount(c *genai.Content) int {
	if c == nil {
		return 0
	}
	return len(c.Parts)
}
