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
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/plugin"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// functionCallIDPrefix marks ids generated for calls the model left
// unnamed, and for the synthetic request calls.
const functionCallIDPrefix = "adk-"

// Flow runs the model/tool loop of one LLM agent call.
//
// Each step calls the model once and executes the function calls of its
// response. The loop ends on a final response, on a transfer, or, in
// resumable apps, when a step emitted a long-running call; the agent is
// then paused and picks up from the client's answer on resume.
type Flow struct {
	agent *llmAgent
}

func newFlow(a *llmAgent) *Flow {
	return &Flow{agent: a}
}

// stepResult describes how a step ended.
type stepResult struct {
	last        *agent.Event
	paused      bool
	transferred bool
	stopped     bool
	// ignored is set when the user turn only answered requests nobody
	// issued; the agent makes no progress on it.
	ignored bool
}

func (r stepResult) done() bool {
	return r.stopped || r.paused || r.transferred || (r.last != nil && r.last.IsFinalResponse())
}

// Run executes the loop.
func (f *Flow) Run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		emit := func(ev *agent.Event) bool { return yield(ev, nil) }

		res, handled, err := f.resumeAnswers(ctx, emit)
		if err != nil {
			yield(nil, err)
			return
		}
		if !handled {
			res, handled, err = f.resumeTransfer(ctx, emit)
			if err != nil {
				yield(nil, err)
				return
			}
		}
		if handled && res.ignored {
			return
		}
		if !handled && f.paused(ctx) {
			slog.Debug("Agent still waiting for client response",
				"agent", f.agent.Name(),
				"invocation", ctx.InvocationID(),
				"branch", ctx.Branch())
			return
		}
		if handled && res.done() {
			f.finish(ctx, yield, res)
			return
		}

		maxIterations := f.agent.reasoning.MaxIterations
		for range maxIterations {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if ctx.Ended() {
				return
			}

			res, err := f.runOneStep(ctx, emit)
			if err != nil {
				yield(nil, err)
				return
			}
			if res.last == nil || res.done() {
				f.finish(ctx, yield, res)
				return
			}
			if res.last.Partial {
				yield(nil, fmt.Errorf("agent %q: step ended with a partial event", f.agent.Name()))
				return
			}
		}
		yield(nil, fmt.Errorf("reasoning loop safety limit exceeded (%d iterations)", maxIterations))
	}
}

// finish marks the agent completed unless it paused.
func (f *Flow) finish(ctx agent.InvocationContext, yield func(*agent.Event, error) bool, res stepResult) {
	if res.stopped || res.paused || !ctx.Resumable() {
		return
	}
	yield(agent.NewEndOfAgentEvent(ctx), nil)
}

// runOneStep calls the model once and handles the function calls of its
// response.
func (f *Flow) runOneStep(ctx agent.InvocationContext, emit func(*agent.Event) bool) (stepResult, error) {
	tools, list, err := f.agent.resolveTools(ctx)
	if err != nil {
		return stepResult{}, err
	}
	req, err := f.buildRequest(ctx, list)
	if err != nil {
		return stepResult{}, err
	}

	var res stepResult
	actions := &agent.EventActions{StateDelta: map[string]any{}}
	for resp, err := range f.callModel(ctx, req, actions) {
		if err != nil {
			return stepResult{}, err
		}
		ev := f.modelResponseEvent(ctx, resp, tools, actions)
		if !emit(ev) {
			return stepResult{stopped: true}, nil
		}
		res.last = ev
		if !ev.Partial && agent.ShouldPause(ctx, ev) {
			res.paused = true
		}
	}
	if res.last == nil || res.last.Partial {
		return res, nil
	}

	calls := res.last.FunctionCalls()
	if len(calls) == 0 {
		return res, nil
	}
	respEv, err := f.handleFunctionCalls(ctx, calls, tools, nil, nil)
	if err != nil {
		return stepResult{}, err
	}
	next, err := f.emitFunctionResponse(ctx, emit, respEv, calls)
	if err != nil {
		return stepResult{}, err
	}
	next.paused = next.paused || res.paused
	return next, nil
}

func (f *Flow) buildRequest(ctx agent.InvocationContext, tools []tool.Tool) (*model.Request, error) {
	req := &model.Request{
		Model:  f.agent.model.Name(),
		Config: cloneConfig(f.agent.generateConfig),
		Tools:  make(map[string]any, len(tools)),
	}
	instructions, err := f.agent.instructions(ctx)
	if err != nil {
		return nil, err
	}
	req.AppendInstructions(instructions...)
	req.Contents = f.agent.buildContents(ctx)

	for _, t := range tools {
		req.Tools[t.Name()] = t
		if c, ok := t.(tool.CallableTool); ok {
			if decl := c.Declaration(); decl != nil {
				req.AppendFunctionDeclarations(decl)
			}
		}
	}
	return req, nil
}

// callModel runs the model with plugin hooks and callbacks. Plugins run
// before the agent's callbacks; the first non-nil override wins. After
// hooks only see complete responses.
func (f *Flow) callModel(ctx agent.InvocationContext, req *model.Request, actions *agent.EventActions) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		cctx := agent.NewCallbackContext(ctx, actions)
		plugins := plugin.FromContext(ctx)

		override, err := plugins.BeforeModel(cctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, cb := range f.agent.beforeModelCallbacks {
			if override != nil {
				break
			}
			if override, err = cb(cctx, req); err != nil {
				yield(nil, fmt.Errorf("before-model callback failed: %w", err))
				return
			}
		}
		if override != nil {
			yield(override, nil)
			return
		}

		stream := f.agent.enableStreaming || ctx.RunConfig().StreamingMode == agent.StreamingModeSSE
		for resp, err := range f.agent.model.GenerateContent(ctx, req, stream) {
			if err != nil {
				recovered, herr := f.recoverModelError(ctx, cctx, req, err)
				if herr != nil {
					yield(nil, herr)
					return
				}
				if recovered == nil {
					yield(nil, fmt.Errorf("model %s: %w", f.agent.model.Name(), err))
					return
				}
				yield(recovered, nil)
				return
			}
			if resp == nil {
				continue
			}
			if !resp.Partial {
				if resp, err = f.afterModel(ctx, cctx, resp); err != nil {
					yield(nil, err)
					return
				}
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func (f *Flow) afterModel(ctx agent.InvocationContext, cctx agent.CallbackContext, resp *model.Response) (*model.Response, error) {
	override, err := plugin.FromContext(ctx).AfterModel(cctx, resp)
	if err != nil {
		return nil, err
	}
	for _, cb := range f.agent.afterModelCallbacks {
		if override != nil {
			break
		}
		if override, err = cb(cctx, resp, nil); err != nil {
			return nil, fmt.Errorf("after-model callback failed: %w", err)
		}
	}
	if override != nil {
		return override, nil
	}
	return resp, nil
}

func (f *Flow) recoverModelError(ctx agent.InvocationContext, cctx agent.CallbackContext, req *model.Request, callErr error) (*model.Response, error) {
	override, err := plugin.FromContext(ctx).OnModelError(cctx, req, callErr)
	if err != nil {
		return nil, err
	}
	for _, cb := range f.agent.afterModelCallbacks {
		if override != nil {
			break
		}
		if override, err = cb(cctx, nil, callErr); err != nil {
			return nil, fmt.Errorf("after-model callback failed: %w", err)
		}
	}
	return override, nil
}

// modelResponseEvent converts a model response into an event of this
// agent. Complete responses get call ids, long-running markers and the
// output key.
func (f *Flow) modelResponseEvent(ctx agent.InvocationContext, resp *model.Response, tools map[string]tool.Tool, actions *agent.EventActions) *agent.Event {
	ev := agent.NewEvent(ctx.InvocationID())
	ev.Author = f.agent.Name()
	ev.Branch = ctx.Branch()
	ev.Content = cloneContent(resp.Content)
	ev.Partial = resp.Partial
	ev.TurnComplete = resp.TurnComplete
	ev.ErrorCode = resp.ErrorCode
	ev.ErrorMessage = resp.ErrorMessage
	ev.UsageMetadata = resp.UsageMetadata
	ev.CustomMetadata = resp.CustomMetadata
	if resp.Partial {
		return ev
	}

	populateFunctionCallIDs(ev.Content)
	for _, c := range ev.FunctionCalls() {
		if t, ok := tools[c.Name]; ok && t.IsLongRunning() {
			ev.LongRunningToolIDs = append(ev.LongRunningToolIDs, c.ID)
		}
	}
	mergeEventActions(&ev.Actions, actions)

	if key := f.agent.outputKey; key != "" && ev.IsFinalResponse() {
		if text := ev.TextContent(); text != "" {
			ev.Actions.StateDelta[key] = text
		}
	}
	return ev
}

// handleFunctionCalls executes calls in order and merges their results
// into one function response event. confirmations and authResponses carry
// client answers when calls are re-run on resume.
func (f *Flow) handleFunctionCalls(
	ctx agent.InvocationContext,
	calls []*genai.FunctionCall,
	tools map[string]tool.Tool,
	confirmations map[string]*toolconfirmation.ToolConfirmation,
	authResponses map[string]*auth.AuthConfig,
) (*agent.Event, error) {
	ev := agent.NewEvent(ctx.InvocationID())
	ev.Author = f.agent.Name()
	ev.Branch = ctx.Branch()
	ev.Content = &genai.Content{Role: genai.RoleUser}

	for _, call := range calls {
		actions := &agent.EventActions{StateDelta: map[string]any{}}
		tctx := newToolContext(ctx, call.ID, actions)
		tctx.confirmation = confirmations[call.ID]
		tctx.authResponses = authResponses

		result, err := f.callTool(tctx, tools[call.Name], call)
		if err != nil {
			return nil, err
		}
		ev.Content.Parts = append(ev.Content.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{ID: call.ID, Name: call.Name, Response: result},
		})
		mergeEventActions(&ev.Actions, actions)
	}
	return ev, nil
}

// callTool runs one tool with hooks. Tool failures become an error result
// the model can react to; hook failures and protocol violations are
// returned.
func (f *Flow) callTool(tctx *toolContext, t tool.Tool, call *genai.FunctionCall) (map[string]any, error) {
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if t == nil {
		slog.Warn("Model called unknown tool", "agent", f.agent.Name(), "tool", call.Name)
		return map[string]any{"error": fmt.Sprintf("tool %q not found", call.Name)}, nil
	}
	plugins := plugin.FromContext(tctx.invCtx)

	result, err := plugins.BeforeTool(tctx, t, args)
	if err != nil {
		return nil, err
	}
	for _, cb := range f.agent.beforeToolCallbacks {
		if result != nil {
			break
		}
		if result, err = cb(tctx, t, args); err != nil {
			return nil, fmt.Errorf("before-tool callback failed: %w", err)
		}
	}

	var callErr error
	if result == nil {
		callable, ok := t.(tool.CallableTool)
		if !ok {
			callErr = fmt.Errorf("tool %q is not callable", t.Name())
		} else {
			result, callErr = callable.Call(tctx, args)
		}
		if errors.Is(callErr, toolconfirmation.ErrMissingFunctionCallID) {
			return nil, callErr
		}
		if callErr != nil {
			override, err := plugins.OnToolError(tctx, t, args, callErr)
			if err != nil {
				return nil, err
			}
			if override != nil {
				result, callErr = override, nil
			}
		}
	}

	if callErr == nil {
		override, err := plugins.AfterTool(tctx, t, args, result)
		if err != nil {
			return nil, err
		}
		if override != nil {
			result = override
		}
	}
	for _, cb := range f.agent.afterToolCallbacks {
		override, err := cb(tctx, t, args, result, callErr)
		if err != nil {
			return nil, fmt.Errorf("after-tool callback failed: %w", err)
		}
		if override != nil {
			result, callErr = override, nil
			break
		}
	}

	if callErr != nil {
		slog.Warn("Tool call failed",
			"agent", f.agent.Name(),
			"tool", t.Name(),
			"call_id", call.ID,
			"error", callErr)
		return map[string]any{"error": callErr.Error()}, nil
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// emitFunctionResponse yields the credential and confirmation requests
// raised by the calls, then the response event itself, then performs a
// requested transfer.
func (f *Flow) emitFunctionResponse(ctx agent.InvocationContext, emit func(*agent.Event) bool, resp *agent.Event, calls []*genai.FunctionCall) (stepResult, error) {
	var res stepResult

	requests := []func(agent.InvocationContext, *agent.Event, []*genai.FunctionCall) (*agent.Event, error){
		f.authRequestEvent,
		f.confirmationRequestEvent,
	}
	for _, build := range requests {
		ev, err := build(ctx, resp, calls)
		if err != nil {
			return stepResult{}, err
		}
		if ev == nil {
			continue
		}
		if !emit(ev) {
			return stepResult{stopped: true}, nil
		}
		if agent.ShouldPause(ctx, ev) {
			res.paused = true
		}
	}

	if !emit(resp) {
		return stepResult{stopped: true}, nil
	}
	res.last = resp

	if target := resp.Actions.TransferToAgent; target != "" && !res.paused {
		return f.transfer(ctx, emit, target)
	}
	return res, nil
}

// confirmationRequestEvent builds the adk_request_confirmation calls for
// the confirmations requested while handling calls. Each request call is
// long-running.
func (f *Flow) confirmationRequestEvent(ctx agent.InvocationContext, resp *agent.Event, calls []*genai.FunctionCall) (*agent.Event, error) {
	requested := resp.Actions.RequestedToolConfirmations
	if len(requested) == 0 {
		return nil, nil
	}
	var parts []*genai.Part
	var ids []string
	for _, call := range calls {
		tc, ok := requested[call.ID]
		if !ok {
			continue
		}
		req, err := toolconfirmation.NewRequestCall(call, tc)
		if err != nil {
			return nil, fmt.Errorf("agent %q: confirmation for %s: %w", f.agent.Name(), call.Name, err)
		}
		parts = append(parts, &genai.Part{FunctionCall: req})
		ids = append(ids, req.ID)
	}
	return f.requestEvent(ctx, parts, ids), nil
}

// authRequestEvent builds the adk_request_credential calls for the
// credentials requested while handling calls.
func (f *Flow) authRequestEvent(ctx agent.InvocationContext, resp *agent.Event, calls []*genai.FunctionCall) (*agent.Event, error) {
	requested := resp.Actions.RequestedAuthConfigs
	if len(requested) == 0 {
		return nil, nil
	}
	var parts []*genai.Part
	var ids []string
	for _, call := range calls {
		cfg, ok := requested[call.ID]
		if !ok {
			continue
		}
		id := functionCallIDPrefix + uuid.NewString()
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   id,
			Name: auth.RequestCredentialFunctionCallName,
			Args: map[string]any{
				argFunctionCallID: call.ID,
				argAuthConfig:     cfg.ToMap(),
			},
		}})
		ids = append(ids, id)
	}
	return f.requestEvent(ctx, parts, ids), nil
}

// Argument names of the adk_request_credential call.
const (
	argFunctionCallID = "functionCallId"
	argAuthConfig     = "authConfig"
)

func (f *Flow) requestEvent(ctx agent.InvocationContext, parts []*genai.Part, ids []string) *agent.Event {
	if len(parts) == 0 {
		return nil
	}
	ev := agent.NewEvent(ctx.InvocationID())
	ev.Author = f.agent.Name()
	ev.Branch = ctx.Branch()
	ev.Content = &genai.Content{Role: genai.RoleModel, Parts: parts}
	ev.LongRunningToolIDs = ids
	return ev
}

// transfer runs the named sub-agent on the current branch.
func (f *Flow) transfer(ctx agent.InvocationContext, emit func(*agent.Event) bool, name string) (stepResult, error) {
	target := agent.FindAgent(f.agent, name)
	if target == nil || target.Name() == f.agent.Name() {
		return stepResult{}, fmt.Errorf("agent %q: transfer target %q not found", f.agent.Name(), name)
	}
	slog.Debug("Transferring control", "from", f.agent.Name(), "to", name)

	res := stepResult{transferred: true}
	for ev, err := range target.Run(agent.ForAgent(ctx, target, ctx.Branch())) {
		if err != nil {
			return stepResult{}, err
		}
		if !emit(ev) {
			return stepResult{stopped: true}, nil
		}
		res.last = ev
	}
	if ctx.Resumable() && !ctx.Resume().Ended(target.Name()) {
		res.paused = true
	}
	return res, nil
}

// mergeEventActions folds the actions of one tool call into the actions of
// the combined event.
func mergeEventActions(dst, src *agent.EventActions) {
	if src == nil {
		return
	}
	dst.SkipSummarization = dst.SkipSummarization || src.SkipSummarization
	dst.Escalate = dst.Escalate || src.Escalate
	if src.TransferToAgent != "" {
		dst.TransferToAgent = src.TransferToAgent
	}
	if len(src.StateDelta) > 0 {
		if dst.StateDelta == nil {
			dst.StateDelta = make(map[string]any, len(src.StateDelta))
		}
		maps.Copy(dst.StateDelta, src.StateDelta)
	}
	if len(src.ArtifactDelta) > 0 {
		if dst.ArtifactDelta == nil {
			dst.ArtifactDelta = make(map[string]int64, len(src.ArtifactDelta))
		}
		maps.Copy(dst.ArtifactDelta, src.ArtifactDelta)
	}
	if len(src.RequestedToolConfirmations) > 0 {
		if dst.RequestedToolConfirmations == nil {
			dst.RequestedToolConfirmations = make(map[string]toolconfirmation.ToolConfirmation, len(src.RequestedToolConfirmations))
		}
		maps.Copy(dst.RequestedToolConfirmations, src.RequestedToolConfirmations)
	}
	if len(src.RequestedAuthConfigs) > 0 {
		if dst.RequestedAuthConfigs == nil {
			dst.RequestedAuthConfigs = make(map[string]*auth.AuthConfig, len(src.RequestedAuthConfigs))
		}
		maps.Copy(dst.RequestedAuthConfigs, src.RequestedAuthConfigs)
	}
}

// populateFunctionCallIDs names the calls the model left without an id.
func populateFunctionCallIDs(c *genai.Content) {
	if c == nil {
		return
	}
	for _, p := range c.Parts {
		if p != nil && p.FunctionCall != nil && p.FunctionCall.ID == "" {
			p.FunctionCall.ID = functionCallIDPrefix + uuid.NewString()
		}
	}
}

// cloneContent copies c deeply enough that ids can be assigned without
// touching the model's response.
func cloneContent(c *genai.Content) *genai.Content {
	if c == nil {
		return nil
	}
	out := &genai.Content{Role: c.Role, Parts: make([]*genai.Part, 0, len(c.Parts))}
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		cp := *p
		if p.FunctionCall != nil {
			fc := *p.FunctionCall
			cp.FunctionCall = &fc
		}
		out.Parts = append(out.Parts, &cp)
	}
	return out
}

// cloneConfig copies cfg so a request can append instructions and
// declarations.
func cloneConfig(cfg *genai.GenerateContentConfig) *genai.GenerateContentConfig {
	if cfg == nil {
		return &genai.GenerateContentConfig{}
	}
	out := *cfg
	if cfg.SystemInstruction != nil {
		si := *cfg.SystemInstruction
		si.Parts = append([]*genai.Part(nil), cfg.SystemInstruction.Parts...)
		out.SystemInstruction = &si
	}
	if cfg.Tools != nil {
		out.Tools = make([]*genai.Tool, len(cfg.Tools))
		for i, t := range cfg.Tools {
			if t == nil {
				continue
			}
			ct := *t
			ct.FunctionDeclarations = append([]*genai.FunctionDeclaration(nil), t.FunctionDeclarations...)
			out.Tools[i] = &ct
		}
	}
	return &out
}
