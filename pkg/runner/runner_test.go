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

package runner_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/agent/llmagent"
	"github.com/kadirpekel/agentkit/pkg/agent/workflowagent"
	"github.com/kadirpekel/agentkit/pkg/app"
	"github.com/kadirpekel/agentkit/pkg/artifact"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/checkpoint"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/plugin"
	"github.com/kadirpekel/agentkit/pkg/runner"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/testutils"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/functiontool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

const (
	userID    = "user"
	sessionID = "session"

	afterToolText      = "test llm response after tool call"
	afterFinalToolText = "test llm response after final tool call"
	secondAgentText    = "test llm response from second agent"
	customHint         = "test hint for request_confirmation with custom payload schema"
)

type noArgs struct{}

// confirmedTool requires confirmation and reports the decision it ran with.
func confirmedTool(t *testing.T) tool.Tool {
	t.Helper()
	tl, err := functiontool.New(functiontool.Config{
		Name:                "test_function",
		Description:         "runs after approval",
		RequireConfirmation: true,
	}, func(ctx tool.Context, _ noArgs) (map[string]any, error) {
		return map[string]any{"result": fmt.Sprintf("confirmed=%t", ctx.ToolConfirmation().Confirmed)}, nil
	})
	require.NoError(t, err)
	return tl
}

func defaultCustomPayload() map[string]any {
	return map[string]any{"test_custom_payload": map[string]any{"int_field": 0, "str_field": "", "bool_field": false}}
}

// customPayloadTool asks for confirmation itself, with a payload schema.
func customPayloadTool(t *testing.T) tool.Tool {
	t.Helper()
	tl, err := functiontool.New(functiontool.Config{
		Name:        "custom_schema_function",
		Description: "asks for a structured confirmation",
	}, func(ctx tool.Context, _ noArgs) (map[string]any, error) {
		tc := ctx.ToolConfirmation()
		if tc == nil {
			if err := ctx.RequestConfirmation(customHint, defaultCustomPayload()); err != nil {
				return nil, err
			}
			return toolconfirmation.PendingResponse(), nil
		}
		return map[string]any{
			"result":         fmt.Sprintf("confirmed=%t", tc.Confirmed),
			"custom_payload": tc.Payload,
		}, nil
	})
	require.NoError(t, err)
	return tl
}

type fixture struct {
	t        *testing.T
	runner   *runner.Runner
	sessions session.Service
}

func newFixture(t *testing.T, root agent.Agent, resumable bool, cfg runner.Config) *fixture {
	t.Helper()
	if cfg.App == nil {
		cfg.App = &app.App{Name: "test_app", RootAgent: root}
	}
	if resumable {
		cfg.App.ResumabilityConfig = &app.ResumabilityConfig{IsResumable: true}
	}
	if cfg.SessionService == nil {
		cfg.SessionService = session.InMemoryService()
	}
	r, err := runner.New(cfg)
	require.NoError(t, err)
	return &fixture{t: t, runner: r, sessions: cfg.SessionService}
}

func (f *fixture) run(msg *genai.Content, opts ...runner.RunOption) []*agent.Event {
	f.t.Helper()
	events, err := testutils.Collect(f.runner.Run(testutils.TestContext(), userID, sessionID, msg, opts...))
	require.NoError(f.t, err)
	return events
}

func (f *fixture) session() session.Session {
	f.t.Helper()
	resp, err := f.sessions.Get(testutils.TestContext(), &session.GetRequest{AppName: f.runner.AppName(), UserID: userID, SessionID: sessionID})
	require.NoError(f.t, err)
	return resp.Session
}

func query() *genai.Content {
	return genai.NewContentFromText("test user query", genai.RoleUser)
}

func answer(requestID string, tc toolconfirmation.ToolConfirmation) *genai.Content {
	return testutils.UserContent(&genai.Part{FunctionResponse: toolconfirmation.NewResponse(requestID, tc)})
}

func callPart(name string) *genai.Part {
	return &genai.Part{FunctionCall: &genai.FunctionCall{Name: name, Args: map[string]any{}}}
}

func responsePart(name string, resp map[string]any) *genai.Part {
	return &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: name, Response: resp}}
}

func state(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// assertPausedOnConfirmation checks the call, request, pending response
// triple of one agent and returns the request id.
func assertPausedOnConfirmation(t *testing.T, events []*agent.Event, author, toolName, hint string) string {
	t.Helper()
	require.GreaterOrEqual(t, len(events), 3)
	simplified := testutils.Simplify(events[:3])
	assert.Equal(t, testutils.SimplifiedEvent{Author: author, Value: callPart(toolName)}, simplified[0])
	assert.Equal(t, testutils.SimplifiedEvent{Author: author, Value: responsePart(toolName, toolconfirmation.PendingResponse())}, simplified[2])

	calls := events[1].FunctionCalls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, author, events[1].Author)
	assert.Equal(t, toolconfirmation.FunctionCallName, req.Name)
	assert.Equal(t, []string{req.ID}, events[1].LongRunningToolIDs)

	original, err := toolconfirmation.OriginalCall(req)
	require.NoError(t, err)
	assert.Equal(t, toolName, original.Name)
	assert.Equal(t, events[0].FunctionCalls()[0].ID, original.ID)
	assert.Empty(t, original.Args)

	requested, err := toolconfirmation.RequestedConfirmation(req)
	require.NoError(t, err)
	assert.Equal(t, hint, requested.Hint)
	assert.False(t, requested.Confirmed)
	return req.ID
}

func TestRunner_ConfirmationFlow(t *testing.T) {
	for _, confirmed := range []bool{true, false} {
		t.Run(fmt.Sprintf("confirmed=%t", confirmed), func(t *testing.T) {
			m := testutils.NewMockModel(testutils.FunctionCallResponse("test_function"), testutils.TextResponse(afterToolText))
			root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: m, Tools: []tool.Tool{confirmedTool(t)}})
			require.NoError(t, err)
			f := newFixture(t, root, false, runner.Config{})

			events := f.run(query())
			require.Len(t, events, 3)
			requestID := assertPausedOnConfirmation(t, events, "root_agent", "test_function", toolconfirmation.DefaultHint("test_function"))
			invocationID := events[1].InvocationID

			events = f.run(answer(requestID, toolconfirmation.ToolConfirmation{Confirmed: confirmed}))
			want := toolconfirmation.RejectedResponse()
			if confirmed {
				want = map[string]any{"result": "confirmed=true"}
			}
			assert.Equal(t, []testutils.SimplifiedEvent{
				{Author: "root_agent", Value: responsePart("test_function", want)},
				{Author: "root_agent", Value: afterToolText},
			}, testutils.Simplify(events))
			for _, ev := range events {
				assert.NotEqual(t, invocationID, ev.InvocationID)
			}
		})
	}
}

func TestRunner_ConfirmationWithCustomPayload(t *testing.T) {
	for _, confirmed := range []bool{true, false} {
		t.Run(fmt.Sprintf("confirmed=%t", confirmed), func(t *testing.T) {
			m := testutils.NewMockModel(
				testutils.FunctionCallResponse("custom_schema_function"),
				testutils.TextResponse(afterToolText),
				testutils.TextResponse(afterFinalToolText),
			)
			root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: m, Tools: []tool.Tool{customPayloadTool(t)}})
			require.NoError(t, err)
			f := newFixture(t, root, false, runner.Config{})

			events := f.run(query())
			require.Len(t, events, 4, "the model is consulted again")
			requestID := assertPausedOnConfirmation(t, events, "root_agent", "custom_schema_function", customHint)
			assert.Equal(t, afterToolText, events[3].TextContent())

			requested, err := toolconfirmation.RequestedConfirmation(events[1].FunctionCalls()[0])
			require.NoError(t, err)
			assert.JSONEq(t, state(t, defaultCustomPayload()), state(t, requested.Payload))

			payload := map[string]any{"test_custom_payload": map[string]any{"int_field": 123, "str_field": "test_str", "bool_field": true}}
			invocationID := events[1].InvocationID
			events = f.run(answer(requestID, toolconfirmation.ToolConfirmation{Confirmed: confirmed, Payload: payload}))
			require.Len(t, events, 2)
			resp := events[0].FunctionResponses()
			require.Len(t, resp, 1)
			assert.Equal(t, "custom_schema_function", resp[0].Name)
			assert.JSONEq(t,
				state(t, map[string]any{"result": fmt.Sprintf("confirmed=%t", confirmed), "custom_payload": payload}),
				state(t, resp[0].Response))
			assert.Equal(t, afterFinalToolText, events[1].TextContent())
			for _, ev := range events {
				assert.NotEqual(t, invocationID, ev.InvocationID)
			}
		})
	}
}

func TestRunner_UnmatchedConfirmationIgnored(t *testing.T) {
	m := testutils.NewMockModel(testutils.FunctionCallResponse("test_function"), testutils.TextResponse(afterToolText))
	root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: m, Tools: []tool.Tool{confirmedTool(t)}})
	require.NoError(t, err)
	f := newFixture(t, root, false, runner.Config{})

	events := f.run(query())
	require.Len(t, events, 3)
	requestID := events[1].FunctionCalls()[0].ID

	events = f.run(answer("adk-unknown", toolconfirmation.ToolConfirmation{Confirmed: true}))
	assert.Empty(t, events)
	assert.Equal(t, 1, m.Calls())

	// The real request is still answerable.
	events = f.run(answer(requestID, toolconfirmation.ToolConfirmation{Confirmed: true}))
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "root_agent", Value: responsePart("test_function", map[string]any{"result": "confirmed=true"})},
		{Author: "root_agent", Value: afterToolText},
	}, testutils.Simplify(events))
}

func TestRunner_ResumableSingleAgent(t *testing.T) {
	m := testutils.NewMockModel(testutils.FunctionCallResponse("test_function"), testutils.TextResponse(afterToolText))
	root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: m, Tools: []tool.Tool{confirmedTool(t)}})
	require.NoError(t, err)
	enabled := true
	f := newFixture(t, root, true, runner.Config{
		CheckpointManager: checkpoint.NewManager(&checkpoint.Config{Enabled: &enabled}, nil),
	})

	events := f.run(query())
	require.Len(t, events, 3, "paused: no text and no end-of-agent")
	requestID := assertPausedOnConfirmation(t, events, "root_agent", "test_function", toolconfirmation.DefaultHint("test_function"))
	invocationID := events[1].InvocationID

	pending, err := f.runner.PendingInvocations(testutils.TestContext(), userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, invocationID, pending[0].InvocationID)
	assert.True(t, pending[0].Waiting(requestID))
	assert.Equal(t, []string{"root_agent"}, pending[0].Agents())

	events = f.run(answer(requestID, toolconfirmation.ToolConfirmation{Confirmed: true}), runner.WithInvocationID(invocationID))
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "root_agent", Value: responsePart("test_function", map[string]any{"result": "confirmed=true"})},
		{Author: "root_agent", Value: afterToolText},
		{Author: "root_agent", Value: testutils.EndOfAgent},
	}, testutils.Simplify(events))
	for _, ev := range events {
		assert.Equal(t, invocationID, ev.InvocationID)
	}

	pending, err = f.runner.PendingInvocations(testutils.TestContext(), userID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The answer was persisted on the root branch.
	var answers int
	for ev := range f.session().Events().All() {
		if ev.Author == agent.AuthorUser && len(ev.FunctionResponses()) > 0 {
			answers++
			assert.Empty(t, ev.Branch)
			assert.Equal(t, invocationID, ev.InvocationID)
		}
	}
	assert.Equal(t, 1, answers)
}

func TestRunner_ResumableSequential(t *testing.T) {
	m := testutils.NewMockModel(
		testutils.FunctionCallResponse("test_function"),
		testutils.TextResponse(afterToolText),
		testutils.TextResponse(secondAgentText),
	)
	agent1, err := llmagent.New(llmagent.Config{Name: "agent1", Model: m, Tools: []tool.Tool{confirmedTool(t)}})
	require.NoError(t, err)
	agent2, err := llmagent.New(llmagent.Config{Name: "agent2", Model: m})
	require.NoError(t, err)
	root, err := workflowagent.NewSequential(workflowagent.SequentialConfig{Name: "root_agent", SubAgents: []agent.Agent{agent1, agent2}})
	require.NoError(t, err)
	f := newFixture(t, root, true, runner.Config{})

	events := f.run(query())
	require.Len(t, events, 4, "agent2 does not start while agent1 is paused")
	assert.Equal(t, testutils.SimplifiedEvent{Author: "root_agent", Value: `{"current_sub_agent":"agent1"}`}, testutils.Simplify(events[:1])[0])
	requestID := assertPausedOnConfirmation(t, events[1:], "agent1", "test_function", toolconfirmation.DefaultHint("test_function"))
	invocationID := events[2].InvocationID
	for _, ev := range events {
		assert.Empty(t, ev.Branch)
	}

	msg := answer(requestID, toolconfirmation.ToolConfirmation{Confirmed: true})
	answered, err := f.runner.AnsweredInvocation(testutils.TestContext(), userID, sessionID, msg)
	require.NoError(t, err)
	assert.Equal(t, invocationID, answered)
	answered, err = f.runner.AnsweredInvocation(testutils.TestContext(), userID, sessionID, query())
	require.NoError(t, err)
	assert.Empty(t, answered)

	events = f.run(msg, runner.WithInvocationID(invocationID))
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "agent1", Value: responsePart("test_function", map[string]any{"result": "confirmed=true"})},
		{Author: "agent1", Value: afterToolText},
		{Author: "agent1", Value: testutils.EndOfAgent},
		{Author: "root_agent", Value: `{"current_sub_agent":"agent2"}`},
		{Author: "agent2", Value: secondAgentText},
		{Author: "agent2", Value: testutils.EndOfAgent},
		{Author: "root_agent", Value: testutils.EndOfAgent},
	}, testutils.Simplify(events))
	for _, ev := range events {
		assert.Equal(t, invocationID, ev.InvocationID)
	}
}

func newParallelFixture(t *testing.T) (*fixture, agent.Agent) {
	t.Helper()
	var subs []agent.Agent
	for _, name := range []string{"agent1", "agent2"} {
		m := testutils.NewMockModel(testutils.FunctionCallResponse("test_function"), testutils.TextResponse(afterToolText))
		a, err := llmagent.New(llmagent.Config{Name: name, Model: m, Tools: []tool.Tool{confirmedTool(t)}})
		require.NoError(t, err)
		subs = append(subs, a)
	}
	root, err := workflowagent.NewParallel(workflowagent.ParallelConfig{Name: "root_agent", SubAgents: subs})
	require.NoError(t, err)
	return newFixture(t, root, true, runner.Config{}), root
}

func byBranch(events []*agent.Event) map[string][]*agent.Event {
	out := make(map[string][]*agent.Event)
	for _, ev := range events {
		out[ev.Branch] = append(out[ev.Branch], ev)
	}
	return out
}

func TestRunner_ResumableParallel(t *testing.T) {
	f, _ := newParallelFixture(t)

	events := f.run(query())
	branches := byBranch(events)
	require.Len(t, branches, 3)
	assert.Equal(t, []testutils.SimplifiedEvent{{Author: "root_agent", Value: "{}"}}, testutils.Simplify(branches[""]))
	hint := toolconfirmation.DefaultHint("test_function")
	request1 := assertPausedOnConfirmation(t, branches["root_agent.agent1"], "agent1", "test_function", hint)
	request2 := assertPausedOnConfirmation(t, branches["root_agent.agent2"], "agent2", "test_function", hint)
	invocationID := branches["root_agent.agent1"][1].InvocationID
	assert.Equal(t, invocationID, branches["root_agent.agent2"][1].InvocationID)

	events = f.run(answer(request1, toolconfirmation.ToolConfirmation{Confirmed: true}), runner.WithInvocationID(invocationID))
	for _, ev := range events {
		assert.Equal(t, invocationID, ev.InvocationID)
		assert.Equal(t, "root_agent.agent1", ev.Branch, "agent2 stays paused and the root is not final")
	}
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "agent1", Value: responsePart("test_function", map[string]any{"result": "confirmed=true"})},
		{Author: "agent1", Value: afterToolText},
		{Author: "agent1", Value: testutils.EndOfAgent},
	}, testutils.Simplify(events))

	events = f.run(answer(request2, toolconfirmation.ToolConfirmation{Confirmed: true}), runner.WithInvocationID(invocationID))
	for _, ev := range events {
		assert.Equal(t, invocationID, ev.InvocationID)
	}
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "agent2", Value: responsePart("test_function", map[string]any{"result": "confirmed=true"})},
		{Author: "agent2", Value: afterToolText},
		{Author: "agent2", Value: testutils.EndOfAgent},
		{Author: "root_agent", Value: testutils.EndOfAgent},
	}, testutils.Simplify(events))
}

func TestRunner_ResumableParallelAnswersSplitByBranch(t *testing.T) {
	f, _ := newParallelFixture(t)

	events := f.run(query())
	branches := byBranch(events)
	request1 := branches["root_agent.agent1"][1].FunctionCalls()[0].ID
	request2 := branches["root_agent.agent2"][1].FunctionCalls()[0].ID
	invocationID := events[0].InvocationID

	both := testutils.UserContent(
		&genai.Part{FunctionResponse: toolconfirmation.NewResponse(request1, toolconfirmation.ToolConfirmation{Confirmed: true})},
		&genai.Part{FunctionResponse: toolconfirmation.NewResponse(request2, toolconfirmation.ToolConfirmation{Confirmed: false})},
	)
	events = f.run(both, runner.WithInvocationID(invocationID))
	branches = byBranch(events)
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "agent1", Value: responsePart("test_function", map[string]any{"result": "confirmed=true"})},
		{Author: "agent1", Value: afterToolText},
		{Author: "agent1", Value: testutils.EndOfAgent},
	}, testutils.Simplify(branches["root_agent.agent1"]))
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "agent2", Value: responsePart("test_function", toolconfirmation.RejectedResponse())},
		{Author: "agent2", Value: afterToolText},
		{Author: "agent2", Value: testutils.EndOfAgent},
	}, testutils.Simplify(branches["root_agent.agent2"]))
	assert.Equal(t, []testutils.SimplifiedEvent{{Author: "root_agent", Value: testutils.EndOfAgent}}, testutils.Simplify(branches[""]))
	assert.Equal(t, testutils.EndOfAgent, testutils.Simplify(events[len(events)-1:])[0].Value)

	userBranches := map[string]bool{}
	for ev := range f.session().Events().All() {
		if ev.Author == agent.AuthorUser && ev.InvocationID == invocationID && len(ev.FunctionResponses()) > 0 {
			userBranches[ev.Branch] = true
		}
	}
	assert.Equal(t, map[string]bool{"root_agent.agent1": true, "root_agent.agent2": true}, userBranches)
}

// credentialTool asks the client for a bearer token and reports the one it
// was given.
func credentialTool(t *testing.T, cfg *auth.AuthConfig) tool.Tool {
	t.Helper()
	tl, err := functiontool.New(functiontool.Config{
		Name:        "fetch_report",
		Description: "fetches a protected report",
	}, func(ctx tool.Context, _ noArgs) (map[string]any, error) {
		cred := ctx.AuthResponse(cfg)
		if cred == nil {
			if err := ctx.RequestCredential(cfg); err != nil {
				return nil, err
			}
			return map[string]any{"status": "credential requested"}, nil
		}
		return map[string]any{"token": cred.HTTP.Credentials.Token}, nil
	})
	require.NoError(t, err)
	return tl
}

func TestRunner_CredentialRoundTrip(t *testing.T) {
	cfg := &auth.AuthConfig{Scheme: &auth.HTTPScheme{Scheme: "bearer"}, Key: "report_token"}

	for _, resumable := range []bool{false, true} {
		t.Run(fmt.Sprintf("resumable=%t", resumable), func(t *testing.T) {
			responses := []*model.Response{testutils.FunctionCallResponse("fetch_report")}
			if !resumable {
				responses = append(responses, testutils.TextResponse("please sign in"))
			}
			responses = append(responses, testutils.TextResponse(afterToolText))
			m := testutils.NewMockModel(responses...)
			root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: m, Tools: []tool.Tool{credentialTool(t, cfg)}})
			require.NoError(t, err)
			f := newFixture(t, root, resumable, runner.Config{})

			events := f.run(query())
			require.GreaterOrEqual(t, len(events), 3)
			requests := events[1].FunctionCalls()
			require.Len(t, requests, 1)
			req := requests[0]
			assert.Equal(t, auth.RequestCredentialFunctionCallName, req.Name)
			assert.Equal(t, []string{req.ID}, events[1].LongRunningToolIDs)
			assert.Equal(t, events[0].FunctionCalls()[0].ID, req.Args["functionCallId"])
			requested, err := auth.ParseAuthConfig(req.Args["authConfig"])
			require.NoError(t, err)
			assert.Equal(t, "report_token", requested.CredentialKey())
			assert.Equal(t, map[string]any{"status": "credential requested"}, events[2].FunctionResponses()[0].Response)
			if resumable {
				require.Len(t, events, 3, "paused until the credential arrives")
			} else {
				require.Len(t, events, 4)
				assert.Equal(t, "please sign in", events[3].TextContent())
			}
			invocationID := events[0].InvocationID

			requested.ExchangedAuthCredential = auth.NewBearerCredential("tok-123")
			msg := testutils.UserContent(&genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       req.ID,
				Name:     auth.RequestCredentialFunctionCallName,
				Response: requested.ToMap(),
			}})
			var opts []runner.RunOption
			if resumable {
				opts = append(opts, runner.WithInvocationID(invocationID))
			}
			events = f.run(msg, opts...)

			want := []testutils.SimplifiedEvent{
				{Author: "root_agent", Value: responsePart("fetch_report", map[string]any{"token": "tok-123"})},
				{Author: "root_agent", Value: afterToolText},
			}
			if resumable {
				want = append(want, testutils.SimplifiedEvent{Author: "root_agent", Value: testutils.EndOfAgent})
			}
			assert.Equal(t, want, testutils.Simplify(events))
			for _, ev := range events {
				assert.Equal(t, resumable, ev.InvocationID == invocationID)
			}

			delta, ok := events[0].Actions.StateDelta[cfg.ResponseStateKey()]
			require.True(t, ok, "the auth response is recorded under %s", cfg.ResponseStateKey())
			stored, err := auth.ParseAuthConfig(delta)
			require.NoError(t, err)
			assert.Equal(t, "tok-123", stored.ExchangedAuthCredential.HTTP.Credentials.Token)

			_, err = f.session().State().Get(cfg.ResponseStateKey())
			assert.ErrorIs(t, err, session.ErrStateKeyNotExist, "temp state is cleared after the run")
		})
	}
}

func TestRunner_ResumeErrors(t *testing.T) {
	newRoot := func(t *testing.T) agent.Agent {
		m := testutils.NewMockModel(testutils.FunctionCallResponse("test_function"))
		root, err := llmagent.New(llmagent.Config{Name: "root_agent", Model: m, Tools: []tool.Tool{confirmedTool(t)}})
		require.NoError(t, err)
		return root
	}

	t.Run("unknown invocation", func(t *testing.T) {
		f := newFixture(t, newRoot(t), true, runner.Config{})
		_, err := testutils.Collect(f.runner.Run(testutils.TestContext(), userID, sessionID, query(), runner.WithInvocationID("e-missing")))
		assert.ErrorIs(t, err, runner.ErrInvocationNotFound)
	})

	t.Run("app not resumable", func(t *testing.T) {
		f := newFixture(t, newRoot(t), false, runner.Config{})
		events := f.run(query())
		_, err := testutils.Collect(f.runner.Run(testutils.TestContext(), userID, sessionID, query(), runner.WithInvocationID(events[0].InvocationID)))
		assert.ErrorContains(t, err, "not resumable")
	})

	t.Run("expired pause", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		enabled := true
		manager := checkpoint.NewManager(&checkpoint.Config{Enabled: &enabled, Timeout: 60}, nil,
			checkpoint.WithClock(func() time.Time { return now }))
		f := newFixture(t, newRoot(t), true, runner.Config{CheckpointManager: manager})

		events := f.run(query())
		requestID := events[1].FunctionCalls()[0].ID
		now = now.Add(2 * time.Minute)

		_, err := testutils.Collect(f.runner.Run(testutils.TestContext(), userID, sessionID,
			answer(requestID, toolconfirmation.ToolConfirmation{Confirmed: true}),
			runner.WithInvocationID(events[0].InvocationID)))
		assert.ErrorIs(t, err, runner.ErrInvocationNotFound)
		assert.ErrorIs(t, err, checkpoint.ErrExpired)
	})
}

func TestNew_Validation(t *testing.T) {
	m := testutils.NewMockModel()
	a, err := llmagent.New(llmagent.Config{Name: "a", Model: m})
	require.NoError(t, err)
	dup, err := llmagent.New(llmagent.Config{Name: "a", Model: m})
	require.NoError(t, err)
	parent, err := workflowagent.NewSequential(workflowagent.SequentialConfig{Name: "p", SubAgents: []agent.Agent{a}})
	require.NoError(t, err)
	root, err := workflowagent.NewSequential(workflowagent.SequentialConfig{Name: "root", SubAgents: []agent.Agent{parent, dup}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     runner.Config
		wantErr string
	}{
		{"missing app", runner.Config{SessionService: session.InMemoryService()}, "app is nil"},
		{"missing sessions", runner.Config{App: &app.App{Name: "x", RootAgent: a}}, "session service is required"},
		{"duplicate names", runner.Config{App: &app.App{Name: "x", RootAgent: root}, SessionService: session.InMemoryService()}, "duplicate agent name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.New(tt.cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunner_RoutesToLastTransferableAgent(t *testing.T) {
	rootModel := testutils.NewMockModel(testutils.TextResponse("from root"))
	helperModel := testutils.NewMockModel(testutils.TextResponse("from helper"))
	helper, err := llmagent.New(llmagent.Config{Name: "helper", Model: helperModel})
	require.NoError(t, err)
	root, err := llmagent.New(llmagent.Config{Name: "root", Model: rootModel, SubAgents: []agent.Agent{helper}})
	require.NoError(t, err)
	f := newFixture(t, root, false, runner.Config{})

	// Seed history as if helper answered the previous turn.
	created, err := f.sessions.Create(testutils.TestContext(), &session.CreateRequest{AppName: "test_app", UserID: userID, SessionID: sessionID})
	require.NoError(t, err)
	sess := created.Session
	prev := agent.NewEvent("e-prev")
	prev.Author = "helper"
	prev.Content = genai.NewContentFromText("earlier", genai.RoleModel)
	require.NoError(t, f.sessions.AppendEvent(testutils.TestContext(), sess, prev))

	events := f.run(genai.NewContentFromText("next", genai.RoleUser))
	assert.Equal(t, []testutils.SimplifiedEvent{{Author: "helper", Value: "from helper"}}, testutils.Simplify(events))
	assert.Zero(t, rootModel.Calls())
}

func TestRunner_WorkflowRootTakesNewTurns(t *testing.T) {
	m := testutils.NewMockModel(testutils.TextResponse("one"), testutils.TextResponse("two"))
	a, err := llmagent.New(llmagent.Config{Name: "a", Model: m})
	require.NoError(t, err)
	root, err := workflowagent.NewSequential(workflowagent.SequentialConfig{Name: "root", SubAgents: []agent.Agent{a}})
	require.NoError(t, err)
	f := newFixture(t, root, false, runner.Config{})

	f.run(genai.NewContentFromText("first", genai.RoleUser))
	events := f.run(genai.NewContentFromText("second", genai.RoleUser))
	assert.Equal(t, []testutils.SimplifiedEvent{{Author: "a", Value: "two"}}, testutils.Simplify(events))
	// The user events are persisted but never yielded.
	assert.Equal(t, 4, f.session().Events().Len())
}

type recordingPlugin struct {
	calls    []string
	rewrite  bool
	shortcut *genai.Content
}

func (p *recordingPlugin) Name() string { return "recorder" }

func (p *recordingPlugin) OnUserMessage(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	p.calls = append(p.calls, "user_message")
	if p.rewrite {
		return genai.NewContentFromText("rewritten", genai.RoleUser), nil
	}
	return nil, nil
}

func (p *recordingPlugin) BeforeRun(ctx agent.InvocationContext) (*genai.Content, error) {
	p.calls = append(p.calls, "before_run")
	return p.shortcut, nil
}

func (p *recordingPlugin) OnEvent(ctx agent.InvocationContext, ev *agent.Event) (*agent.Event, error) {
	p.calls = append(p.calls, "event")
	ev.CustomMetadata = map[string]any{"seen": true}
	return nil, nil
}

func (p *recordingPlugin) AfterRun(ctx agent.InvocationContext) {
	p.calls = append(p.calls, "after_run")
}

var _ interface {
	plugin.UserMessageCallback
	plugin.BeforeRunCallback
	plugin.EventCallback
	plugin.AfterRunCallback
} = (*recordingPlugin)(nil)

func TestRunner_Plugins(t *testing.T) {
	t.Run("lifecycle", func(t *testing.T) {
		m := testutils.NewMockModel(testutils.TextResponse("hi"))
		root, err := llmagent.New(llmagent.Config{Name: "root", Model: m})
		require.NoError(t, err)
		p := &recordingPlugin{rewrite: true}
		f := newFixture(t, nil, false, runner.Config{App: &app.App{Name: "test_app", RootAgent: root, Plugins: []plugin.Plugin{p}}})

		events := f.run(genai.NewContentFromText("original", genai.RoleUser))
		require.Len(t, events, 1)
		assert.Equal(t, map[string]any{"seen": true}, events[0].CustomMetadata)
		assert.Equal(t, []string{"user_message", "before_run", "event", "after_run"}, p.calls)

		first := f.session().Events().At(0)
		assert.Equal(t, "rewritten", first.TextContent())
		last := m.Requests()[0].Contents
		assert.Equal(t, "rewritten", last[len(last)-1].Parts[0].Text)
	})

	t.Run("before run short-circuits", func(t *testing.T) {
		m := testutils.NewMockModel()
		root, err := llmagent.New(llmagent.Config{Name: "root", Model: m})
		require.NoError(t, err)
		p := &recordingPlugin{shortcut: genai.NewContentFromText("blocked", genai.RoleModel)}
		f := newFixture(t, nil, false, runner.Config{App: &app.App{Name: "test_app", RootAgent: root, Plugins: []plugin.Plugin{p}}})

		events := f.run(genai.NewContentFromText("original", genai.RoleUser))
		assert.Equal(t, []testutils.SimplifiedEvent{{Author: "root", Value: "blocked"}}, testutils.Simplify(events))
		assert.Zero(t, m.Calls())
		assert.Equal(t, []string{"user_message", "before_run"}, p.calls)
		assert.Equal(t, 2, f.session().Events().Len())
	})
}

func TestRunner_SaveInputBlobsAsArtifacts(t *testing.T) {
	m := testutils.NewMockModel(testutils.TextResponse("got it"))
	root, err := llmagent.New(llmagent.Config{Name: "root", Model: m})
	require.NoError(t, err)
	artifacts := artifact.NewInMemoryService()
	f := newFixture(t, root, false, runner.Config{ArtifactService: artifacts})

	msg := testutils.UserContent(
		genai.NewPartFromText("see attachment"),
		genai.NewPartFromBytes([]byte("PNGDATA"), "image/png"),
	)
	events := f.run(msg, runner.WithRunConfig(agent.RunConfig{SaveInputBlobsAsArtifacts: true}))
	require.Len(t, events, 1)

	name := "artifact_" + events[0].InvocationID + "_1"
	part, err := artifacts.Load(testutils.TestContext(), artifact.Key{AppName: "test_app", UserID: userID, SessionID: sessionID, Filename: name}, artifact.Latest)
	require.NoError(t, err)
	require.NotNil(t, part)
	require.NotNil(t, part.InlineData)
	assert.Equal(t, []byte("PNGDATA"), part.InlineData.Data)

	contents := m.Requests()[0].Contents
	parts := contents[len(contents)-1].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Uploaded file: "+name+". It is saved into artifacts", parts[1].Text)
	assert.Equal(t, "see attachment", msg.Parts[0].Text, "caller content is not modified")
	assert.NotNil(t, msg.Parts[1].InlineData)
}

func TestRunner_ClearsTempState(t *testing.T) {
	m := testutils.NewMockModel(testutils.TextResponse("done"))
	root, err := llmagent.New(llmagent.Config{
		Name:  "root",
		Model: m,
		BeforeAgentCallbacks: []agent.BeforeAgentCallback{func(ctx agent.CallbackContext) (*genai.Content, error) {
			return nil, ctx.State().Set("temp:scratch", 1)
		}},
	})
	require.NoError(t, err)
	f := newFixture(t, root, false, runner.Config{})

	f.run(query())
	_, err = f.session().State().Get("temp:scratch")
	assert.ErrorIs(t, err, session.ErrStateKeyNotExist)
}
