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

package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/artifact"
	"github.com/kadirpekel/agentkit/pkg/builder"
	"github.com/kadirpekel/agentkit/pkg/config"
	"github.com/kadirpekel/agentkit/pkg/testutils"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/functiontool"
)

const testConfig = `
app:
  name: cli_test
agents:
  assistant:
    type: llm
    instruction: Help the user.
    tools: [delete_file]
`

type noArgs struct{}

func deleteTool(t *testing.T) tool.Tool {
	t.Helper()
	tl, err := functiontool.New(functiontool.Config{
		Name:                "delete_file",
		Description:         "deletes a file",
		RequireConfirmation: true,
	}, func(ctx tool.Context, _ noArgs) (map[string]any, error) {
		return map[string]any{"deleted": true}, nil
	})
	require.NoError(t, err)
	return tl
}

const resumableConfig = `
app:
  name: cli_resumable
  resumable: true
agents:
  pipeline:
    type: sequential
    sub_agents: [cleaner, reporter]
  cleaner:
    instruction: Clean up.
    tools: [delete_file]
  reporter:
    instruction: Report.
`

func newChat(t *testing.T, m *testutils.MockModel, input string) (*chat, *bytes.Buffer) {
	t.Helper()
	return newChatFromConfig(t, testConfig, m, input)
}

func newChatFromConfig(t *testing.T, text string, m *testutils.MockModel, input string) (*chat, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Parse([]byte(text))
	require.NoError(t, err)
	b, err := builder.Build(testutils.TestContext(), cfg, builder.Options{Model: m, Tools: []tool.Tool{deleteTool(t)}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(testutils.TestContext()) })

	out := &bytes.Buffer{}
	return &chat{
		runner:    b.Runner,
		opts:      b.RunOptions(),
		userID:    "u1",
		sessionID: "s1",
		in:        bufio.NewReader(strings.NewReader(input)),
		out:       out,
	}, out
}

func TestChat_Confirmation(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []string
		absent string
	}{
		{
			name:   "approve",
			answer: "y",
			want:   []string{"[approval] delete_file()", "Approve? [y/N]", `[assistant] <- delete_file: {"deleted":true}`, "[assistant] done"},
		},
		{
			name:   "deny",
			answer: "no",
			want:   []string{"[approval] delete_file()", "[assistant] done"},
			absent: `{"deleted":true}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutils.NewMockModel(testutils.FunctionCallResponse("delete_file"), testutils.TextResponse("done"))
			c, out := newChat(t, m, "delete the file\n"+tt.answer+"\n/quit\n")

			require.NoError(t, c.loop(testutils.TestContext()))
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
			if tt.absent != "" {
				assert.NotContains(t, out.String(), tt.absent)
			}
			assert.Equal(t, 2, m.Calls())
		})
	}
}

func TestChat_ResumesPausedInvocation(t *testing.T) {
	m := testutils.NewMockModel(
		testutils.FunctionCallResponse("delete_file"),
		testutils.TextResponse("cleaned"),
		testutils.TextResponse("report ready"),
	)
	c, out := newChatFromConfig(t, resumableConfig, m, "clean up\ny\n/quit\n")
	require.True(t, c.runner.Resumable())

	require.NoError(t, c.loop(testutils.TestContext()))
	assert.Contains(t, out.String(), `[cleaner] <- delete_file: {"deleted":true}`)
	assert.Contains(t, out.String(), "[cleaner] cleaned")
	assert.Contains(t, out.String(), "[reporter] report ready", "the sequence continues after approval")
	assert.Equal(t, 3, m.Calls())
}

func TestChat_AutoApproveAndEOF(t *testing.T) {
	m := testutils.NewMockModel(testutils.FunctionCallResponse("delete_file"), testutils.TextResponse("done"))
	c, out := newChat(t, m, "delete the file")
	c.autoApprove = true

	require.NoError(t, c.loop(testutils.TestContext()))
	assert.Contains(t, out.String(), "approved (--yes)")
	assert.Contains(t, out.String(), `{"deleted":true}`)
}

func TestChat_ClosedInputDenies(t *testing.T) {
	m := testutils.NewMockModel(testutils.FunctionCallResponse("delete_file"), testutils.TextResponse("skipped"))
	c, out := newChat(t, m, "")

	require.NoError(t, c.send(testutils.TestContext(), genai.NewContentFromText("delete the file", genai.RoleUser)))
	assert.NotContains(t, out.String(), `{"deleted":true}`)
	assert.Contains(t, out.String(), "[assistant] skipped")
}

func TestRunCmd_OneShot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: oneshot
agents:
  assistant:
    instruction: Greet.
`), 0o644))

	out := &bytes.Buffer{}
	env := &runEnv{
		ctx:   testutils.TestContext(),
		in:    bufio.NewReader(strings.NewReader("")),
		out:   out,
		model: testutils.NewMockModel(testutils.TextResponse("hello there")),
	}
	cmd := &RunCmd{User: "u1", Message: "hi"}
	require.NoError(t, cmd.Run(&CLI{Config: path, LogLevel: "error"}, env))
	assert.Equal(t, "[assistant] hello there\n", out.String())
}

func TestResolveLogSettings(t *testing.T) {
	cfg := config.LoggerConfig{Level: "warn", Format: "json", File: "cfg.log"}
	tests := []struct {
		name             string
		flagLevel        string
		env              map[string]string
		cfg              config.LoggerConfig
		wantLevel, wantF string
		wantFormat       string
	}{
		{name: "defaults", wantLevel: "info", wantFormat: "simple"},
		{name: "config", cfg: cfg, wantLevel: "warn", wantF: "cfg.log", wantFormat: "json"},
		{name: "env over config", cfg: cfg, env: map[string]string{LogLevelEnvVar: "debug", LogFileEnvVar: "env.log"}, wantLevel: "debug", wantF: "env.log", wantFormat: "json"},
		{name: "flag over env", flagLevel: "error", env: map[string]string{LogLevelEnvVar: "debug"}, wantLevel: "error", wantFormat: "simple"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{LogLevelEnvVar, LogFileEnvVar, LogFormatEnvVar} {
				t.Setenv(k, tt.env[k])
			}
			level, file, format := resolveLogSettings(tt.flagLevel, "", "", tt.cfg)
			assert.Equal(t, tt.wantLevel, level)
			assert.Equal(t, tt.wantF, file)
			assert.Equal(t, tt.wantFormat, format)
		})
	}
}

func TestInitLogger_Invalid(t *testing.T) {
	_, err := initLogger("loud", "", "", config.LoggerConfig{})
	assert.ErrorContains(t, err, "invalid log level")
	_, err = initLogger("info", "", "fancy", config.LoggerConfig{})
	assert.ErrorContains(t, err, "invalid log format")
}

func TestArtifactCommands(t *testing.T) {
	svc := artifact.NewInMemoryService()
	out := &bytes.Buffer{}
	env := &runEnv{ctx: testutils.TestContext(), out: out}
	scope := ArtifactScope{User: "u1", Session: "s1"}
	key := scope.key("app", "notes.txt")

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("first"), 0o644))
	require.NoError(t, putArtifact(env, svc, key, src, ""))
	require.NoError(t, os.WriteFile(src, []byte("second"), 0o644))
	require.NoError(t, putArtifact(env, svc, key, src, ""))
	assert.Contains(t, out.String(), "saved notes.txt version 1 (text/plain; charset=utf-8, 6 bytes)")

	out.Reset()
	require.NoError(t, listArtifacts(env, svc, scope, "app"))
	assert.Equal(t, "notes.txt\n", out.String())

	out.Reset()
	require.NoError(t, listVersions(env, svc, key))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "VERSION"))
	assert.True(t, strings.HasPrefix(lines[1], "0 "))

	out.Reset()
	require.NoError(t, catArtifact(env, svc, key, artifact.Latest))
	assert.Equal(t, "second", out.String())

	out.Reset()
	require.NoError(t, catArtifact(env, svc, key, 0))
	assert.Equal(t, "first", out.String())

	assert.ErrorContains(t, catArtifact(env, svc, key, 7), "not found")
}

func TestCLI_Parse(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(src, []byte{1, 2}, 0o644))

	tests := []struct {
		name    string
		args    []string
		command string
		check   func(t *testing.T, cli *CLI)
	}{
		{
			name:    "run",
			args:    []string{"run", "-m", "hi", "--yes"},
			command: "run",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "hi", cli.Run.Message)
				assert.True(t, cli.Run.Yes)
				assert.Equal(t, "user", cli.Run.User)
			},
		},
		{
			name:    "artifacts put",
			args:    []string{"artifacts", "put", "--session", "s1", "blob.bin", src},
			command: "artifacts put <filename> <path>",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, "s1", cli.Artifacts.Put.Session)
				assert.Equal(t, "blob.bin", cli.Artifacts.Put.Filename)
			},
		},
		{
			name:    "artifacts cat default version",
			args:    []string{"-c", "x.yaml", "artifacts", "cat", "user:profile"},
			command: "artifacts cat <filename>",
			check: func(t *testing.T, cli *CLI) {
				assert.Equal(t, artifact.Latest, cli.Artifacts.Cat.Version)
				assert.Equal(t, "x.yaml", filepath.Base(cli.Config))
			},
		},
		{
			name:    "validate watch",
			args:    []string{"validate", "--watch"},
			command: "validate",
			check:   func(t *testing.T, cli *CLI) { assert.True(t, cli.Validate.Watch) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli CLI
			parser, err := kong.New(&cli)
			require.NoError(t, err)
			kctx, err := parser.Parse(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.command, kctx.Command())
			tt.check(t, &cli)
		})
	}
}

func TestVersionCmd(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, (&VersionCmd{}).Run(&runEnv{out: out}))
	assert.True(t, strings.HasPrefix(out.String(), "agentkit version "))
}
