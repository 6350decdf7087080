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

package observability

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/plugin"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// Plugin traces invocations, agent runs, model calls and tool calls, and
// records them as metrics. Spans nest invocation > agent > model or tool.
//
// It never overrides a callback.
type Plugin struct {
	tracer   trace.Tracer
	metrics  *Metrics
	payloads bool

	mu    sync.Mutex
	spans map[string]*openSpan
}

type openSpan struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	name  string
}

// NewPlugin returns a plugin tracing through tracer and recording into
// metrics. capturePayloads adds tool arguments and results to tool spans.
func NewPlugin(tracer trace.Tracer, metrics *Metrics, capturePayloads bool) *Plugin {
	return &Plugin{tracer: tracer, metrics: metrics, payloads: capturePayloads, spans: make(map[string]*openSpan)}
}

func (p *Plugin) Name() string { return "observability" }

func invocationKey(invocationID string) string { return invocationID }

func agentKey(ctx agent.ReadonlyContext) string {
	return ctx.InvocationID() + "|" + ctx.Branch() + "|" + ctx.AgentName()
}

func modelKey(ctx agent.ReadonlyContext) string { return agentKey(ctx) + "|llm" }

func toolKey(ctx tool.Context) string { return ctx.InvocationID() + "|tool|" + ctx.FunctionCallID() }

func (p *Plugin) start(key, parentKey string, parent context.Context, spanName, name string, attrs ...attribute.KeyValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ps, ok := p.spans[parentKey]; ok {
		parent = ps.ctx
	}
	ctx, span := p.tracer.Start(parent, spanName, trace.WithAttributes(attrs...))
	p.spans[key] = &openSpan{ctx: ctx, span: span, start: time.Now(), name: name}
}

func (p *Plugin) finish(key string, err error, attrs ...attribute.KeyValue) *openSpan {
	p.mu.Lock()
	s, ok := p.spans[key]
	delete(p.spans, key)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	s.span.SetAttributes(attrs...)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
	return s
}

func (p *Plugin) OnUserMessage(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	if msg == nil {
		return nil, nil
	}
	for _, part := range msg.Parts {
		if part == nil || !toolconfirmation.IsResponse(part.FunctionResponse) {
			continue
		}
		if tc, err := toolconfirmation.ParseResponse(part.FunctionResponse); err == nil {
			p.metrics.RecordConfirmationAnswered(ctx, tc.Confirmed)
		}
	}
	return nil, nil
}

func (p *Plugin) BeforeRun(ctx agent.InvocationContext) (*genai.Content, error) {
	p.metrics.RecordInvocationStart(ctx, ctx.AppName())
	p.start(invocationKey(ctx.InvocationID()), "", ctx, SpanInvocation, ctx.AppName(),
		attribute.String(AttrAppName, ctx.AppName()),
		attribute.String(AttrUserID, ctx.UserID()),
		attribute.String(AttrSessionID, ctx.SessionID()),
		attribute.String(AttrInvocationID, ctx.InvocationID()),
	)
	return nil, nil
}

// AfterRun ends the invocation span together with agent spans left open by
// agents that paused.
func (p *Plugin) AfterRun(ctx agent.InvocationContext) {
	prefix := ctx.InvocationID() + "|"
	p.mu.Lock()
	var open []string
	for k := range p.spans {
		if strings.HasPrefix(k, prefix) {
			open = append(open, k)
		}
	}
	p.mu.Unlock()
	for _, k := range open {
		p.finish(k, nil)
	}
	if s := p.finish(invocationKey(ctx.InvocationID()), nil); s != nil {
		p.metrics.RecordInvocationEnd(ctx, s.name, time.Since(s.start))
	}
}

func (p *Plugin) OnEvent(ctx agent.InvocationContext, ev *agent.Event) (*agent.Event, error) {
	if ev == nil || ev.Partial {
		return nil, nil
	}
	for _, call := range ev.FunctionCalls() {
		if !toolconfirmation.IsRequest(call) {
			continue
		}
		name := ""
		if original, err := toolconfirmation.OriginalCall(call); err == nil {
			name = original.Name
		}
		p.metrics.RecordConfirmationRequested(ctx, name)
	}
	return nil, nil
}

func (p *Plugin) BeforeAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	p.metrics.RecordAgentRun(ctx, ctx.AgentName())
	p.start(agentKey(ctx), invocationKey(ctx.InvocationID()), ctx, SpanAgentRun, ctx.AgentName(),
		attribute.String(AttrAgentName, ctx.AgentName()),
		attribute.String(AttrBranch, ctx.Branch()),
		attribute.String(AttrInvocationID, ctx.InvocationID()),
	)
	return nil, nil
}

func (p *Plugin) AfterAgent(ctx agent.CallbackContext) (*genai.Content, error) {
	p.finish(agentKey(ctx), nil)
	return nil, nil
}

func (p *Plugin) BeforeModel(ctx agent.CallbackContext, req *model.Request) (*model.Response, error) {
	p.start(modelKey(ctx), agentKey(ctx), ctx, SpanLLMCall, req.Model,
		attribute.String(AttrLLMModel, req.Model),
		attribute.String(AttrAgentName, ctx.AgentName()),
	)
	return nil, nil
}

func (p *Plugin) AfterModel(ctx agent.CallbackContext, resp *model.Response) (*model.Response, error) {
	var in, out int
	if u := resp.UsageMetadata; u != nil {
		in, out = int(u.PromptTokenCount), int(u.CandidatesTokenCount)
	}
	if s := p.finish(modelKey(ctx), nil, attribute.Int(AttrTokensInput, in), attribute.Int(AttrTokensOutput, out)); s != nil {
		p.metrics.RecordLLMCall(ctx, s.name, time.Since(s.start), in, out, nil)
	}
	return nil, nil
}

func (p *Plugin) OnModelError(ctx agent.CallbackContext, req *model.Request, err error) (*model.Response, error) {
	if s := p.finish(modelKey(ctx), err); s != nil {
		p.metrics.RecordLLMCall(ctx, s.name, time.Since(s.start), 0, 0, err)
	}
	return nil, nil
}

func (p *Plugin) BeforeTool(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, t.Name()),
		attribute.String(AttrFunctionCallID, ctx.FunctionCallID()),
		attribute.String(AttrAgentName, ctx.AgentName()),
	}
	if p.payloads {
		attrs = append(attrs, attribute.String(AttrToolArgs, marshal(args)))
	}
	p.start(toolKey(ctx), agentKey(ctx), ctx, SpanToolExecution, t.Name(), attrs...)
	return nil, nil
}

func (p *Plugin) AfterTool(ctx tool.Context, t tool.Tool, args, result map[string]any) (map[string]any, error) {
	var attrs []attribute.KeyValue
	if p.payloads {
		attrs = append(attrs, attribute.String(AttrToolResult, marshal(result)))
	}
	if s := p.finish(toolKey(ctx), nil, attrs...); s != nil {
		p.metrics.RecordToolCall(ctx, t.Name(), time.Since(s.start), nil)
	}
	return nil, nil
}

func (p *Plugin) OnToolError(ctx tool.Context, t tool.Tool, args map[string]any, err error) (map[string]any, error) {
	if s := p.finish(toolKey(ctx), err); s != nil {
		p.metrics.RecordToolCall(ctx, t.Name(), time.Since(s.start), err)
	}
	return nil, nil
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

var (
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
)
