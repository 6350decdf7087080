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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
app:
  name: support
  root: coordinator
  resumable: true
logger:
  level: debug
  format: json
model:
  api_key: ${TEST_AGENTKIT_KEY}
  temperature: ${TEST_AGENTKIT_TEMP:-0.5}
agents:
  coordinator:
    type: loop
    max_iterations: 3
    sub_agents: [triage, resolver]
  triage:
    instruction: Classify the request.
    output_key: category
  resolver:
    instruction: Resolve the request.
    tools: [delete_file, exit_loop]
sessions:
  backend: sql
  driver: sqlite
  dsn: ${TEST_AGENTKIT_DSN:-./agentkit.db}
artifacts:
  backend: s3
  bucket: artifacts
checkpoint:
  enabled: true
  store: sql
  timeout: 3600
analytics:
  enabled: true
  driver: postgres
  dsn: postgres://localhost/events
observability:
  tracing:
    enabled: true
    exporter: stdout
    timeout: 5s
`

func TestParse_Full(t *testing.T) {
	t.Setenv("TEST_AGENTKIT_KEY", "secret")

	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "support", cfg.App.Name)
	assert.True(t, cfg.App.Resumable)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Model.Name)
	assert.Equal(t, "secret", cfg.Model.APIKey)
	assert.Equal(t, 0.5, cfg.Model.Temperature)

	require.Len(t, cfg.Agents, 3)
	coord := cfg.Agents["coordinator"]
	assert.Equal(t, "coordinator", coord.Name)
	assert.Equal(t, AgentTypeLoop, coord.Type)
	assert.Equal(t, uint(3), coord.MaxIterations)
	assert.Equal(t, []string{"triage", "resolver"}, coord.SubAgents)
	assert.Equal(t, AgentTypeLLM, cfg.Agents["triage"].Type)
	assert.Equal(t, "category", cfg.Agents["triage"].OutputKey)
	assert.Equal(t, []string{"delete_file", "exit_loop"}, cfg.Agents["resolver"].Tools)

	assert.Equal(t, "./agentkit.db", cfg.Sessions.DSN)
	assert.Equal(t, "us-east-1", cfg.Artifacts.Region)
	assert.True(t, cfg.Checkpoint.IsEnabled())
	assert.Equal(t, time.Hour, cfg.Checkpoint.GetTimeout())
	assert.Equal(t, "agent_events", cfg.Analytics.Table)
	assert.Equal(t, 500, cfg.Analytics.MaxContentLength)
	assert.Equal(t, 5*time.Second, cfg.Observability.Tracing.Timeout)
	assert.Equal(t, "agentkit", cfg.Observability.Tracing.ServiceName)
}

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte("agents:\n  assistant:\n"))
	require.NoError(t, err)
	assert.Equal(t, "agentkit", cfg.App.Name)
	assert.Equal(t, "assistant", cfg.App.Root, "a single root is picked up")
	assert.Equal(t, BackendMemory, cfg.Sessions.Backend)
	assert.Equal(t, BackendMemory, cfg.Artifacts.Backend)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Checkpoint.IsEnabled())
	assert.Equal(t, FilesConfig{Root: ".", MaxFileSize: 1 << 20}, cfg.Files)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "invalid yaml", yaml: "agents: [", wantErr: "invalid YAML"},
		{name: "unknown key", yaml: "agents:\n  a:\n    colour: red\n", wantErr: "colour"},
		{name: "no agents", yaml: "app:\n  name: x\n", wantErr: "at least one agent is required"},
		{name: "negative file size", yaml: "files:\n  max_file_size: -1\nagents:\n  a:\n", wantErr: "files: max_file_size must be non-negative"},
		{
			name:    "two roots",
			yaml:    "agents:\n  a:\n  b:\n",
			wantErr: "app.root is required when the tree has several roots (a, b)",
		},
		{name: "unknown root", yaml: "app:\n  root: c\nagents:\n  a:\n", wantErr: `root agent "c" is not defined`},
		{
			name:    "undefined sub-agent",
			yaml:    "agents:\n  a:\n    type: sequential\n    sub_agents: [b]\n",
			wantErr: `sub-agent "b" is not defined`,
		},
		{
			name:    "shared sub-agent",
			yaml:    "app:\n  root: r\nagents:\n  r:\n    type: sequential\n    sub_agents: [a, b]\n  a:\n    sub_agents: [c]\n  b:\n    sub_agents: [c]\n  c:\n",
			wantErr: `agent "c" is a sub-agent of both "a" and "b"`,
		},
		{
			name:    "cycle",
			yaml:    "app:\n  root: r\nagents:\n  r:\n  a:\n    sub_agents: [b]\n  b:\n    sub_agents: [a]\n",
			wantErr: "is not reachable from root",
		},
		{name: "dotted name", yaml: "agents:\n  a.b:\n", wantErr: "must not contain '.'"},
		{name: "reserved name", yaml: "agents:\n  user:\n", wantErr: `"user" is reserved`},
		{name: "bad type", yaml: "agents:\n  a:\n    type: graph\n", wantErr: `invalid type "graph"`},
		{
			name:    "empty workflow",
			yaml:    "agents:\n  a:\n    type: parallel\n",
			wantErr: "parallel agents need at least one sub-agent",
		},
		{
			name:    "iterations on llm",
			yaml:    "agents:\n  a:\n    max_iterations: 2\n",
			wantErr: "max_iterations is only valid for loop agents",
		},
		{
			name:    "sql sessions without dsn",
			yaml:    "agents:\n  a:\nsessions:\n  backend: sql\n  driver: mysql\n",
			wantErr: "sessions: dsn is required",
		},
		{
			name:    "s3 without bucket",
			yaml:    "agents:\n  a:\nartifacts:\n  backend: s3\n",
			wantErr: "artifacts: bucket is required",
		},
		{
			name:    "sql checkpoints need sql sessions",
			yaml:    "agents:\n  a:\ncheckpoint:\n  store: sql\n",
			wantErr: "the sql store requires the sql session backend",
		},
		{
			name:    "analytics driver",
			yaml:    "agents:\n  a:\nanalytics:\n  enabled: true\n  driver: bigquery\n  dsn: x\n",
			wantErr: `unsupported driver "bigquery"`,
		},
		{name: "log level", yaml: "agents:\n  a:\nlogger:\n  level: loud\n", wantErr: "logger:"},
		{name: "provider", yaml: "agents:\n  a:\nmodel:\n  provider: acme\n", wantErr: `unsupported provider "acme"`},
		{name: "fractional integer", yaml: "agents:\n  a:\nfiles:\n  max_file_size: 1.7\n", wantErr: "1.7 is not an integer"},
		{
			name:    "fractional iterations",
			yaml:    "agents:\n  a:\n    type: loop\n    max_iterations: 2.5\n    sub_agents: [b]\n  b:\n",
			wantErr: "2.5 is not an integer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_AGENTKIT_SET", "value")
	t.Setenv("TEST_AGENTKIT_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"${TEST_AGENTKIT_SET}", "value"},
		{"x-${TEST_AGENTKIT_SET}-y", "x-value-y"},
		{"${TEST_AGENTKIT_UNSET}", ""},
		{"${TEST_AGENTKIT_UNSET:-fallback}", "fallback"},
		{"${TEST_AGENTKIT_EMPTY:-fallback}", "fallback"},
		{"${TEST_AGENTKIT_SET:-fallback}", "value"},
		{"$TEST_AGENTKIT_SET", "$TEST_AGENTKIT_SET"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnv(tt.in))
		})
	}
}

func TestExpandData_Retypes(t *testing.T) {
	t.Setenv("TEST_AGENTKIT_PORT", "8080")
	t.Setenv("TEST_AGENTKIT_ON", "true")

	got := expandData(map[string]any{
		"port":  "${TEST_AGENTKIT_PORT}",
		"on":    []any{"${TEST_AGENTKIT_ON}"},
		"fixed": "8080",
	})
	assert.Equal(t, map[string]any{"port": 8080, "on": []any{true}, "fixed": "8080"}, got)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_AGENTKIT_APP=from-dotenv\n"), 0o600))
	path := filepath.Join(dir, "agentkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: ${TEST_AGENTKIT_APP}\nagents:\n  a:\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TEST_AGENTKIT_APP") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.App.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  a:\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config, err error) {
			if err == nil {
				changes <- cfg
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: reloaded\nagents:\n  a:\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "reloaded", cfg.App.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	cancel()
	require.NoError(t, <-done)
}
