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

package filetool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent/llmagent"
	"github.com/kadirpekel/agentkit/pkg/app"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/runner"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/testutils"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		path    string
		wantErr string
	}{
		{path: "a.txt"},
		{path: "dir/../b.txt"},
		{path: "", wantErr: "path is required"},
		{path: "/etc/passwd", wantErr: "absolute paths"},
		{path: "../out.txt", wantErr: "escapes the root"},
		{path: "dir/../../out.txt", wantErr: "escapes the root"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := resolve(root, tt.path)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, root, filepath.Dir(got))
		})
	}
}

func TestReadFile(t *testing.T) {
	cfg := Config{Root: t.TempDir()}.withDefaults()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, "f.txt"), []byte("one\ntwo\nthree"), 0o644))

	got, err := readFile(cfg, ReadFileArgs{Path: "f.txt"})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", got["content"])
	assert.Equal(t, 3, got["total_lines"])

	got, err = readFile(cfg, ReadFileArgs{Path: "f.txt", StartLine: 2, EndLine: 9})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", got["content"])

	_, err = readFile(cfg, ReadFileArgs{Path: "f.txt", StartLine: 4})
	assert.ErrorContains(t, err, "exceeds file length")
	_, err = readFile(cfg, ReadFileArgs{Path: "f.txt", StartLine: 3, EndLine: 2})
	assert.ErrorContains(t, err, "invalid range")
	_, err = readFile(cfg, ReadFileArgs{Path: "missing.txt"})
	assert.Error(t, err)

	small := cfg
	small.MaxFileSize = 2
	_, err = readFile(small, ReadFileArgs{Path: "f.txt"})
	assert.ErrorContains(t, err, "file too large")
}

func TestWriteFile(t *testing.T) {
	cfg := Config{Root: t.TempDir()}.withDefaults()

	assert.False(t, exists(cfg, "sub/new.txt"))
	got, err := writeFile(cfg, WriteFileArgs{Path: "sub/new.txt", Content: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "created", got["action"])
	assert.True(t, exists(cfg, "sub/new.txt"))

	got, err = writeFile(cfg, WriteFileArgs{Path: "sub/new.txt", Content: "v2", Backup: true})
	require.NoError(t, err)
	assert.Equal(t, "overwritten", got["action"])
	assert.Equal(t, true, got["backed_up"])

	data, err := os.ReadFile(filepath.Join(cfg.Root, "sub", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	data, err = os.ReadFile(filepath.Join(cfg.Root, "sub", "new.txt.bak"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	assert.False(t, exists(cfg, "../escape.txt"))
}

func TestNew(t *testing.T) {
	tools, err := New(Config{})
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "read_file", tools[0].Name())
	assert.Equal(t, "write_file", tools[1].Name())
}

func writeCall(path, content string) *model.Response {
	return &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{
		FunctionCall: &genai.FunctionCall{Name: "write_file", Args: map[string]any{"path": path, "content": content}},
	}}}}
}

func TestWriteFile_OverwriteNeedsConfirmation(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("keep me"), 0o644))

	write, err := NewWriteFile(Config{Root: root})
	require.NoError(t, err)
	m := testutils.NewMockModel(
		writeCall("fresh.txt", "hello"),
		writeCall("notes.txt", "replaced"),
		testutils.TextResponse("done"),
	)
	ag, err := llmagent.New(llmagent.Config{Name: "writer", Model: m, Tools: []tool.Tool{write}})
	require.NoError(t, err)
	r, err := runner.New(runner.Config{App: &app.App{Name: "files", RootAgent: ag}, SessionService: session.InMemoryService()})
	require.NoError(t, err)
	ctx := testutils.TestContext()

	events, err := testutils.Collect(r.Run(ctx, "u", "s", genai.NewContentFromText("write", genai.RoleUser)))
	require.NoError(t, err)

	var request *genai.FunctionCall
	for _, ev := range events {
		for _, c := range ev.LongRunningFunctionCalls() {
			if toolconfirmation.IsRequest(c) {
				request = c
			}
		}
	}
	require.NotNil(t, request, "overwrite should ask for confirmation")
	fresh, err := os.ReadFile(filepath.Join(root, "fresh.txt"))
	require.NoError(t, err, "new files are written without asking")
	assert.Equal(t, "hello", string(fresh))
	data, _ := os.ReadFile(target)
	assert.Equal(t, "keep me", string(data))

	answer := &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{
		FunctionResponse: toolconfirmation.NewResponse(request.ID, toolconfirmation.ToolConfirmation{Confirmed: true}),
	}}}
	_, err = testutils.Collect(r.Run(ctx, "u", "s", answer))
	require.NoError(t, err)
	data, _ = os.ReadFile(target)
	assert.Equal(t, "replaced", string(data))
	assert.Equal(t, 3, m.Calls())
}
