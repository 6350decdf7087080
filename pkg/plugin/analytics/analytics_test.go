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

package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

type memorySink struct {
	rows []Row
	err  error
}

func (s *memorySink) Insert(ctx context.Context, row Row) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

type fakeTool struct{ name, description string }

func (t fakeTool) Name() string        { return t.name }
func (t fakeTool) Description() string { return t.description }
func (t fakeTool) IsLongRunning() bool { return false }

type fakeToolContext struct {
	agent.CallbackContext
	actions agent.EventActions
}

func (c *fakeToolContext) FunctionCallID() string                                 { return "call-1" }
func (c *fakeToolContext) Actions() *agent.EventActions                           { return &c.actions }
func (c *fakeToolContext) ToolConfirmation() *toolconfirmation.ToolConfirmation   { return nil }
func (c *fakeToolContext) RequestConfirmation(hint string, payload any) error     { return nil }
func (c *fakeToolContext) CredentialService() auth.CredentialService              { return nil }
func (c *fakeToolContext) RequestCredential(cfg *auth.AuthConfig) error           { return nil }
func (c *fakeToolContext) AuthResponse(cfg *auth.AuthConfig) *auth.AuthCredential { return nil }

var _ tool.Context = (*fakeToolContext)(nil)

type fixture struct {
	plugin *Plugin
	sink   *memorySink
	inv    agent.InvocationContext
	cb     agent.CallbackContext
	tc     tool.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	created, err := session.InMemoryService().Create(ctx, &session.CreateRequest{
		AppName: "app", UserID: "user-456", SessionID: "session-123",
	})
	require.NoError(t, err)

	ag, err := agent.New(agent.Config{
		Name: "MyTestAgent",
		Run: func(agent.InvocationContext) iter.Seq2[*agent.Event, error] {
			return func(func(*agent.Event, error) bool) {}
		},
	})
	require.NoError(t, err)

	inv := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
		Agent:        ag,
		Session:      created.Session,
		InvocationID: "inv-789",
	})
	cb := agent.NewCallbackContext(inv, &agent.EventActions{})

	sink := &memorySink{}
	p, err := New(Config{Sink: sink})
	require.NoError(t, err)

	return &fixture{plugin: p, sink: sink, inv: inv, cb: cb, tc: &fakeToolContext{CallbackContext: cb}}
}

func (f *fixture) entry(t *testing.T, eventType string) Row {
	t.Helper()
	require.Len(t, f.sink.rows, 1)
	row := f.sink.rows[0]
	assert.Equal(t, eventType, row.EventType)
	assert.Equal(t, "MyTestAgent", row.Agent)
	assert.Equal(t, "session-123", row.SessionID)
	assert.Equal(t, "inv-789", row.InvocationID)
	assert.Equal(t, "user-456", row.UserID)
	assert.False(t, row.Timestamp.IsZero())
	return row
}

func TestPlugin_OnUserMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugin.OnUserMessage(f.inv, &genai.Content{Parts: []*genai.Part{{Text: "What is up?"}}})
	require.NoError(t, err)

	row := f.entry(t, EventUserMessageReceived)
	require.NotNil(t, row.Content)
	assert.Equal(t, "User Content: text: 'What is up?'", *row.Content)
}

func TestPlugin_OnEvent(t *testing.T) {
	tests := []struct {
		name      string
		content   *genai.Content
		eventType string
		ts        time.Time
		check     func(t *testing.T, parts []map[string]any)
	}{
		{
			name: "tool call",
			content: &genai.Content{Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{Name: "get_weather", Args: map[string]any{"location": "Paris"}},
			}}},
			eventType: EventToolCall,
			ts:        time.Date(2025, 10, 22, 10, 0, 0, 0, time.UTC),
			check: func(t *testing.T, parts []map[string]any) {
				call := parts[0]["function_call"].(map[string]any)
				assert.Equal(t, "get_weather", call["name"])
				assert.Equal(t, map[string]any{"location": "Paris"}, call["args"])
			},
		},
		{
			name:      "model response",
			content:   &genai.Content{Parts: []*genai.Part{{Text: "Hello there!"}}},
			eventType: EventModelResponse,
			ts:        time.Date(2025, 10, 22, 11, 0, 0, 0, time.UTC),
			check: func(t *testing.T, parts []map[string]any) {
				assert.Equal(t, "Hello there!", parts[0]["text"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ev := agent.NewEvent("inv-789")
			ev.Author = "MyTestAgent"
			ev.Content = tt.content
			ev.Timestamp = tt.ts

			_, err := f.plugin.OnEvent(f.inv, ev)
			require.NoError(t, err)

			row := f.entry(t, tt.eventType)
			assert.True(t, tt.ts.Equal(row.Timestamp))
			assert.Equal(t, "2025-10-22T", row.Timestamp.UTC().Format(TimestampLayout)[:11])

			var parts []map[string]any
			require.NoError(t, json.Unmarshal([]byte(*row.Content), &parts))
			tt.check(t, parts)
		})
	}
}

func TestPlugin_OnEventSkips(t *testing.T) {
	f := newFixture(t)

	user := agent.NewEvent("inv-789")
	user.Author = agent.AuthorUser
	user.Content = genai.NewContentFromText("hi", genai.RoleUser)

	partial := agent.NewEvent("inv-789")
	partial.Author = "MyTestAgent"
	partial.Partial = true
	partial.Content = genai.NewContentFromText("chunk", genai.RoleModel)

	state := agent.NewEvent("inv-789")
	state.Author = "MyTestAgent"
	state.Actions.EndOfAgent = true

	for _, ev := range []*agent.Event{user, partial, state} {
		_, err := f.plugin.OnEvent(f.inv, ev)
		require.NoError(t, err)
	}
	assert.Empty(t, f.sink.rows)
}

func TestPlugin_RunCallbacks(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugin.BeforeRun(f.inv)
	require.NoError(t, err)
	row := f.entry(t, EventInvocationStarting)
	assert.Nil(t, row.Content)

	f.sink.rows = nil
	f.plugin.AfterRun(f.inv)
	row = f.entry(t, EventInvocationCompleted)
	assert.Nil(t, row.Content)
}

func TestPlugin_AgentCallbacks(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugin.BeforeAgent(f.cb)
	require.NoError(t, err)
	assert.Equal(t, "Agent Name: MyTestAgent", *f.entry(t, EventAgentStarting).Content)

	f.sink.rows = nil
	_, err = f.plugin.AfterAgent(f.cb)
	require.NoError(t, err)
	assert.Equal(t, "Agent Name: MyTestAgent", *f.entry(t, EventAgentCompleted).Content)
}

func TestPlugin_BeforeModel(t *testing.T) {
	f := newFixture(t)
	req := &model.Request{
		Model:    "gemini-pro",
		Contents: []*genai.Content{genai.NewContentFromText("Prompt", genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](0.5),
			TopP:              genai.Ptr[float32](0.9),
			MaxOutputTokens:   100,
			SystemInstruction: genai.NewContentFromText("Be helpful", genai.RoleUser),
		},
		Tools: map[string]any{"my_tool": fakeTool{name: "my_tool"}},
	}

	_, err := f.plugin.BeforeModel(f.cb, req)
	require.NoError(t, err)

	content := *f.entry(t, EventLLMRequest).Content
	assert.Contains(t, content, "Model: gemini-pro")
	assert.Contains(t, content, "Prompt: user: text: 'Prompt'")
	assert.Contains(t, content, "System Prompt: Be helpful")
	assert.Contains(t, content, "Params: {temperature=0.5, top_p=0.9, max_output_tokens=100}")
	assert.Contains(t, content, "Available Tools: [my_tool]")
}

func TestPlugin_AfterModel(t *testing.T) {
	tests := []struct {
		name string
		resp *model.Response
		want []string
	}{
		{
			name: "text response",
			resp: &model.Response{
				Content: genai.NewContentFromText("Model response", genai.RoleModel),
				UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
					PromptTokenCount: 10,
					TotalTokenCount:  15,
				},
			},
			want: []string{
				"Tool Name: text_response, text: 'Model response'",
				"Token Usage: {prompt: 10, candidates: N/A, total: 15}",
			},
		},
		{
			name: "tool call",
			resp: &model.Response{Content: &genai.Content{Parts: []*genai.Part{{
				FunctionCall: &genai.FunctionCall{Name: "tool1", Args: map[string]any{}},
			}}}},
			want: []string{"Tool Name: tool1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.plugin.AfterModel(f.cb, tt.resp)
			require.NoError(t, err)

			row := f.entry(t, EventLLMResponse)
			for _, w := range tt.want {
				assert.Contains(t, *row.Content, w)
			}
			assert.Nil(t, row.ErrorMessage)
		})
	}
}

func TestPlugin_ToolCallbacks(t *testing.T) {
	f := newFixture(t)
	tl := fakeTool{name: "MyTool", description: "Does something"}
	args := map[string]any{"param": "value"}

	_, err := f.plugin.BeforeTool(f.tc, tl, args)
	require.NoError(t, err)
	content := *f.entry(t, EventToolStarting).Content
	assert.Contains(t, content, "Tool Name: MyTool")
	assert.Contains(t, content, "Description: Does something")
	assert.Contains(t, content, `Arguments: {"param":"value"}`)

	f.sink.rows = nil
	_, err = f.plugin.AfterTool(f.tc, tl, args, map[string]any{"status": "success"})
	require.NoError(t, err)
	content = *f.entry(t, EventToolCompleted).Content
	assert.Contains(t, content, "Tool Name: MyTool")
	assert.Contains(t, content, `Result: {"status":"success"}`)
}

func TestPlugin_ErrorCallbacks(t *testing.T) {
	f := newFixture(t)
	_, err := f.plugin.OnModelError(f.cb, &model.Request{}, errors.New("LLM failed"))
	require.NoError(t, err)
	row := f.entry(t, EventLLMError)
	assert.Nil(t, row.Content)
	assert.Equal(t, "LLM failed", *row.ErrorMessage)

	f.sink.rows = nil
	_, err = f.plugin.OnToolError(f.tc, fakeTool{name: "MyTool"}, map[string]any{"param": "value"}, errors.New("Tool timed out"))
	require.NoError(t, err)
	row = f.entry(t, EventToolError)
	assert.Equal(t, "Tool Name: MyTool", *row.Content)
	assert.Equal(t, "Tool timed out", *row.ErrorMessage)
}

func TestPlugin_InsertErrorIsLogged(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.sink.err = errors.New("quota exceeded")
	f.plugin.logger = slog.New(slog.NewTextHandler(&buf, nil))

	_, err := f.plugin.OnUserMessage(f.inv, genai.NewContentFromText("Test", genai.RoleUser))
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Failed to insert analytics row")
	assert.Contains(t, buf.String(), "quota exceeded")
}

func TestPlugin_Truncation(t *testing.T) {
	f := newFixture(t)
	f.plugin.maxLen = 20

	_, err := f.plugin.OnUserMessage(f.inv, genai.NewContentFromText(strings.Repeat("x", 100), genai.RoleUser))
	require.NoError(t, err)

	content := *f.entry(t, EventUserMessageReceived).Content
	assert.Equal(t, 20+len(truncatedSuffix), len(content))
	assert.True(t, strings.HasSuffix(content, truncatedSuffix))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"unlimited", "hello", 0, "hello"},
		{"ascii", "hello world", 5, "hello" + truncatedSuffix},
		{"inside two-byte rune", "aaaaé", 5, "aaaa" + truncatedSuffix},
		{"after two-byte rune", "aaaaéb", 6, "aaaaé" + truncatedSuffix},
		{"inside four-byte rune", "ab😀cd", 4, "ab" + truncatedSuffix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestPlugin_TruncationKeepsRunes(t *testing.T) {
	f := newFixture(t)
	f.plugin.maxLen = 20

	_, err := f.plugin.OnUserMessage(f.inv, genai.NewContentFromText(strings.Repeat("é", 50), genai.RoleUser))
	require.NoError(t, err)

	content := *f.entry(t, EventUserMessageReceived).Content
	assert.True(t, utf8.ValidString(content))
	assert.True(t, strings.HasSuffix(content, truncatedSuffix))
	assert.LessOrEqual(t, len(content), 20+len(truncatedSuffix))
}

func TestNew_RequiresSink(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
