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

package builder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/config"
	"github.com/kadirpekel/agentkit/pkg/observability"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/testutils"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/functiontool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

func parse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func build(t *testing.T, cfg *config.Config, opts Options) *Built {
	t.Helper()
	b, err := Build(context.Background(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func run(t *testing.T, b *Built, msg *genai.Content) []*agent.Event {
	t.Helper()
	events, err := testutils.Collect(b.Runner.Run(testutils.TestContext(), "user", "session", msg, b.RunOptions()...))
	require.NoError(t, err)
	return events
}

type noArgs struct{}

func TestBuild_SequentialTree(t *testing.T) {
	cfg := parse(t, `
app:
  name: pipeline_app
agents:
  pipeline:
    type: sequential
    sub_agents: [first, second]
  first:
    output_key: draft
  second:
    instruction: Polish {draft}.
`)
	m := testutils.NewMockModel(testutils.TextResponse("draft text"), testutils.TextResponse("final text"))
	b := build(t, cfg, Options{Model: m})

	assert.Equal(t, "pipeline_app", b.Runner.AppName())
	assert.False(t, b.App.Resumable())
	assert.Nil(t, b.Checkpoints)

	events := run(t, b, genai.NewContentFromText("go", genai.RoleUser))
	assert.Equal(t, []testutils.SimplifiedEvent{
		{Author: "first", Value: "draft text"},
		{Author: "second", Value: "final text"},
	}, testutils.Simplify(events))
	assert.Equal(t, 2, m.Calls())
}

func TestBuild_LoopWithExitTool(t *testing.T) {
	cfg := parse(t, `
agents:
  refine:
    type: loop
    max_iterations: 5
    sub_agents: [worker]
  worker:
    tools: [exit_loop]
`)
	m := testutils.NewMockModel(testutils.FunctionCallResponse("exit_loop"))
	b := build(t, cfg, Options{Model: m})

	events := run(t, b, genai.NewContentFromText("go", genai.RoleUser))
	require.Len(t, events, 2)
	assert.True(t, events[1].Actions.Escalate)
	assert.Equal(t, 1, m.Calls())
}

func TestBuild_Errors(t *testing.T) {
	m := testutils.NewMockModel()

	_, err := Build(context.Background(), nil, Options{})
	require.EqualError(t, err, "config is required")

	cfg := parse(t, "agents:\n  a:\n    tools: [nope]\n")
	_, err = Build(context.Background(), cfg, Options{Model: m})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `agent "a": unknown tool "nope"`)

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	cfg = parse(t, "agents:\n  a:\n")
	_, err = Build(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create gemini model")
}

func TestBuild_ResumableConfirmation(t *testing.T) {
	cfg := parse(t, `
app:
  resumable: true
agents:
  assistant:
    tools: [delete_file]
checkpoint:
  enabled: true
observability:
  tracing:
    enabled: true
    exporter: memory
`)
	deleteFile, err := functiontool.New(functiontool.Config{
		Name:                "delete_file",
		Description:         "deletes a file",
		RequireConfirmation: true,
	}, func(tool.Context, noArgs) (map[string]any, error) {
		return map[string]any{"deleted": true}, nil
	})
	require.NoError(t, err)

	m := testutils.NewMockModel(testutils.FunctionCallResponse("delete_file"), testutils.TextResponse("deleted"))
	b := build(t, cfg, Options{Model: m, Tools: []tool.Tool{deleteFile}})
	require.True(t, b.App.Resumable())
	require.NotNil(t, b.Checkpoints)

	events := run(t, b, genai.NewContentFromText("delete it", genai.RoleUser))
	var requestID string
	for _, ev := range events {
		for _, call := range ev.FunctionCalls() {
			if toolconfirmation.IsRequest(call) {
				requestID = call.ID
			}
		}
	}
	require.NotEmpty(t, requestID)

	pending, err := b.Runner.PendingInvocations(testutils.TestContext(), "user")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resp := toolconfirmation.NewResponse(requestID, toolconfirmation.ToolConfirmation{Confirmed: true})
	events = run(t, b, testutils.UserContent(&genai.Part{FunctionResponse: resp}))
	require.NotEmpty(t, events)
	assert.Equal(t, 2, m.Calls())

	exp := b.Observability.MemoryExporter()
	require.NotNil(t, exp)
	assert.Len(t, exp.SpansByName(observability.SpanInvocation), 2)
}

func TestBuild_SQLiteSessions(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "agentkit.db")
	cfg := parse(t, `
agents:
  assistant:
sessions:
  backend: sql
  driver: sqlite
  dsn: `+dsn+`
checkpoint:
  enabled: true
  store: sql
`)
	m := testutils.NewMockModel(testutils.TextResponse("hello"))
	b := build(t, cfg, Options{Model: m})

	run(t, b, genai.NewContentFromText("hi", genai.RoleUser))

	resp, err := b.Sessions.List(context.Background(), &session.ListRequest{AppName: "agentkit", UserID: "user"})
	require.NoError(t, err)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "session", resp.Sessions[0].ID())
}
