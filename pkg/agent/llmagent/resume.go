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
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// resumeAnswers re-runs the calls answered by the latest user event of the
// branch. Answers are adk_request_confirmation or adk_request_credential
// responses to requests this agent issued; calls that already have a result
// after that user event are not run again. It reports whether any call was
// re-run, or whether the turn only held answers matching no request, in
// which case the result is marked ignored.
func (f *Flow) resumeAnswers(ctx agent.InvocationContext, emit func(*agent.Event) bool) (stepResult, bool, error) {
	events := visibleEvents(ctx)
	userIdx := -1
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Author == agent.AuthorUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return stepResult{}, false, nil
	}

	confirmations := make(map[string]*genai.FunctionResponse)
	credentials := make(map[string]*genai.FunctionResponse)
	for _, r := range events[userIdx].FunctionResponses() {
		switch {
		case toolconfirmation.IsResponse(r):
			confirmations[r.ID] = r
		case r.Name == auth.RequestCredentialFunctionCallName:
			credentials[r.ID] = r
		}
	}
	if len(confirmations) == 0 && len(credentials) == 0 {
		return stepResult{}, false, nil
	}

	answered := make(map[string]bool)
	for _, ev := range events[userIdx+1:] {
		for _, r := range ev.FunctionResponses() {
			answered[r.ID] = true
		}
	}

	var (
		calls         []*genai.FunctionCall
		queued        = make(map[string]bool)
		confirmFor    = make(map[string]*toolconfirmation.ToolConfirmation)
		authResponses = make(map[string]*auth.AuthConfig)
		authDelta     = make(map[string]any)
		authCallIDs   []string
		known         = make(map[string]bool)
	)
	queue := func(call *genai.FunctionCall) {
		if !answered[call.ID] && !queued[call.ID] {
			queued[call.ID] = true
			calls = append(calls, call)
		}
	}

	for _, ev := range events[:userIdx] {
		for _, call := range ev.FunctionCalls() {
			_, isConfirmation := confirmations[call.ID]
			_, isCredential := credentials[call.ID]
			if !isConfirmation && !isCredential {
				continue
			}
			known[call.ID] = true
			if ev.Author != f.agent.Name() {
				continue
			}

			if isConfirmation {
				original, err := toolconfirmation.OriginalCall(call)
				if err != nil {
					return stepResult{}, false, fmt.Errorf("agent %q: confirmation request %s: %w", f.agent.Name(), call.ID, err)
				}
				tc, err := toolconfirmation.ParseResponse(confirmations[call.ID])
				if err != nil {
					slog.Warn("Ignoring malformed confirmation response",
						"agent", f.agent.Name(),
						"request_id", call.ID,
						"error", err)
					continue
				}
				if requested, err := toolconfirmation.RequestedConfirmation(call); err == nil && tc.Hint == "" {
					tc.Hint = requested.Hint
				}
				confirmFor[original.ID] = &tc
				queue(original)
			}

			if isCredential {
				originalID, _ := call.Args[argFunctionCallID].(string)
				cfg, err := auth.ParseAuthConfig(credentials[call.ID].Response)
				if err != nil || originalID == "" {
					slog.Warn("Ignoring malformed credential response",
						"agent", f.agent.Name(),
						"request_id", call.ID,
						"error", err)
					continue
				}
				authResponses[cfg.CredentialKey()] = cfg
				authDelta[cfg.ResponseStateKey()] = cfg.ToMap()
				authCallIDs = append(authCallIDs, originalID)
			}
		}
	}

	for id := range confirmations {
		if !known[id] {
			slog.Warn("Ignoring confirmation response for unknown request", "agent", f.agent.Name(), "request_id", id)
		}
	}
	for id := range credentials {
		if !known[id] {
			slog.Warn("Ignoring credential response for unknown request", "agent", f.agent.Name(), "request_id", id)
		}
	}

	if len(known) == 0 && onlyAnswers(events[userIdx]) {
		return stepResult{ignored: true}, true, nil
	}

	for _, id := range authCallIDs {
		if call := findFunctionCall(events[:userIdx], f.agent.Name(), id); call != nil {
			queue(call)
		}
	}
	if len(calls) == 0 {
		return stepResult{}, false, nil
	}

	tools, _, err := f.agent.resolveTools(ctx)
	if err != nil {
		return stepResult{}, false, err
	}
	resp, err := f.handleFunctionCalls(ctx, calls, tools, confirmFor, authResponses)
	if err != nil {
		return stepResult{}, false, err
	}
	for k, v := range authDelta {
		resp.Actions.StateDelta[k] = v
	}
	res, err := f.emitFunctionResponse(ctx, emit, resp, calls)
	return res, true, err
}

// onlyAnswers reports whether every part of ev answers a confirmation or
// credential request.
func onlyAnswers(ev *agent.Event) bool {
	if ev.Content == nil {
		return false
	}
	for _, p := range ev.Content.Parts {
		if p == nil {
			continue
		}
		r := p.FunctionResponse
		if r == nil || !(toolconfirmation.IsResponse(r) || r.Name == auth.RequestCredentialFunctionCallName) {
			return false
		}
	}
	return true
}

// resumeTransfer continues a transfer this agent started earlier in the
// invocation. The target is skipped by its own wrapper once completed.
func (f *Flow) resumeTransfer(ctx agent.InvocationContext, emit func(*agent.Event) bool) (stepResult, bool, error) {
	if !ctx.Resumable() {
		return stepResult{}, false, nil
	}
	var last *agent.Event
	for _, ev := range visibleEvents(ctx) {
		if ev.InvocationID == ctx.InvocationID() && ev.Author == f.agent.Name() {
			last = ev
		}
	}
	if last == nil || last.Actions.TransferToAgent == "" {
		return stepResult{}, false, nil
	}
	res, err := f.transfer(ctx, emit, last.Actions.TransferToAgent)
	return res, true, err
}

// paused reports whether this agent issued a long-running call in the
// current invocation that the client has not answered yet.
func (f *Flow) paused(ctx agent.InvocationContext) bool {
	if !ctx.Resumable() {
		return false
	}
	pending := make(map[string]bool)
	for _, ev := range visibleEvents(ctx) {
		switch {
		case ev.Author == agent.AuthorUser:
			for _, r := range ev.FunctionResponses() {
				delete(pending, r.ID)
			}
		case ev.Author == f.agent.Name() && ev.InvocationID == ctx.InvocationID():
			for _, c := range ev.LongRunningFunctionCalls() {
				pending[c.ID] = true
			}
		}
	}
	return len(pending) > 0
}

func findFunctionCall(events []*agent.Event, author, id string) *genai.FunctionCall {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Author != author {
			continue
		}
		for _, c := range events[i].FunctionCalls() {
			if c.ID == id {
				return c
			}
		}
	}
	return nil
}
