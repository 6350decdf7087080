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

package agenttool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent/llmagent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/testutils"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/agenttool"
)

func callHelper(request string) *model.Response {
	return &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{
		FunctionCall: &genai.FunctionCall{Name: "helper", Args: map[string]any{"request": request}},
	}}}}
}

func TestAgentTool(t *testing.T) {
	childModel := testutils.NewMockModel(testutils.TextResponse("child answer"))
	helper, err := llmagent.New(llmagent.Config{
		Name:        "helper",
		Description: "answers questions",
		Model:       childModel,
		OutputKey:   "helper_output",
	})
	require.NoError(t, err)

	helperTool := agenttool.New(helper, nil)
	assert.Equal(t, "helper", helperTool.Name())
	assert.Equal(t, []string{"request"}, helperTool.Declaration().ParametersJsonSchema.(map[string]any)["required"])

	rootModel := testutils.NewMockModel(callHelper("what is up"), testutils.TextResponse("done"))
	root, err := llmagent.New(llmagent.Config{Name: "root", Model: rootModel, Tools: []tool.Tool{helperTool}})
	require.NoError(t, err)

	ctx := testutils.TestContext()
	svc := session.InMemoryService()
	created, err := svc.Create(ctx, &session.CreateRequest{AppName: "app", UserID: "u", State: map[string]any{"topic": "go", "_adk_internal": 1}})
	require.NoError(t, err)

	events, err := testutils.RunAgent(ctx, svc, created.Session, root, "e-1", false)
	require.NoError(t, err)
	require.Len(t, events, 3)

	resp := events[1].FunctionResponses()
	require.Len(t, resp, 1)
	assert.Equal(t, map[string]any{"result": "child answer"}, resp[0].Response)
	assert.Equal(t, "child answer", events[1].Actions.StateDelta["helper_output"])
	assert.Equal(t, "done", events[2].TextContent())

	// The child saw the request as its user turn and none of the parent's history.
	req := childModel.Requests()[0]
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "what is up", req.Contents[0].Parts[0].Text)

	got, err := created.Session.State().Get("helper_output")
	require.NoError(t, err)
	assert.Equal(t, "child answer", got)
}

func TestAgentTool_SkipSummarization(t *testing.T) {
	helper, err := llmagent.New(llmagent.Config{Name: "helper", Model: testutils.NewMockModel(testutils.TextResponse("child answer"))})
	require.NoError(t, err)

	rootModel := testutils.NewMockModel(callHelper("q"))
	root, err := llmagent.New(llmagent.Config{
		Name:  "root",
		Model: rootModel,
		Tools: []tool.Tool{agenttool.New(helper, &agenttool.Config{SkipSummarization: true})},
	})
	require.NoError(t, err)

	ctx := testutils.TestContext()
	svc := session.InMemoryService()
	created, err := svc.Create(ctx, &session.CreateRequest{AppName: "app", UserID: "u"})
	require.NoError(t, err)

	events, err := testutils.RunAgent(ctx, svc, created.Session, root, "e-1", false)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].Actions.SkipSummarization)
	assert.Equal(t, 1, rootModel.Calls())
}

func TestAgentTool_RejectsMissingRequest(t *testing.T) {
	helper, err := llmagent.New(llmagent.Config{Name: "helper", Model: testutils.NewMockModel()})
	require.NoError(t, err)
	root, err := llmagent.New(llmagent.Config{
		Name:  "root",
		Model: testutils.NewMockModel(testutils.FunctionCallResponse("helper"), testutils.TextResponse("sorry")),
		Tools: []tool.Tool{agenttool.New(helper, nil)},
	})
	require.NoError(t, err)

	ctx := testutils.TestContext()
	svc := session.InMemoryService()
	created, err := svc.Create(ctx, &session.CreateRequest{AppName: "app", UserID: "u"})
	require.NoError(t, err)

	events, err := testutils.RunAgent(ctx, svc, created.Session, root, "e-1", false)
	require.NoError(t, err)
	require.Len(t, events, 3)
	resp := events[1].FunctionResponses()
	require.Len(t, resp, 1)
	assert.Contains(t, resp[0].Response["error"], "request parameter must be a string")
}
