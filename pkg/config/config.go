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

// Package config loads the YAML configuration of an agentkit application.
//
// A configuration describes the agent tree and the services the runner is
// wired with:
//
//	app:
//	  name: support
//	  root: coordinator
//	  resumable: true
//	model:
//	  provider: gemini
//	  name: gemini-2.0-flash
//	  api_key: ${GEMINI_API_KEY}
//	agents:
//	  coordinator:
//	    type: sequential
//	    sub_agents: [triage, resolver]
//	  triage:
//	    instruction: Classify the request.
//	  resolver:
//	    instruction: Resolve the request.
//	    tools: [read_file, write_file]
//	files:
//	  root: ./workspace
//	sessions:
//	  backend: sql
//	  driver: sqlite
//	  dsn: ./agentkit.db
//
// Values may reference environment variables as ${VAR} or ${VAR:-default}.
// Every section has SetDefaults and Validate; Load applies both.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/checkpoint"
	"github.com/kadirpekel/agentkit/pkg/logger"
	"github.com/kadirpekel/agentkit/pkg/observability"
)

// Agent types.
const (
	AgentTypeLLM        = "llm"
	AgentTypeSequential = "sequential"
	AgentTypeParallel   = "parallel"
	AgentTypeLoop       = "loop"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendS3     = "s3"
)

// Config is the root configuration.
type Config struct {
	App           AppConfig               `yaml:"app"`
	Logger        LoggerConfig            `yaml:"logger,omitempty"`
	Model         ModelConfig             `yaml:"model,omitempty"`
	Agents        map[string]*AgentConfig `yaml:"agents"`
	Sessions      SessionsConfig          `yaml:"sessions,omitempty"`
	Artifacts     ArtifactsConfig         `yaml:"artifacts,omitempty"`
	Checkpoint    checkpoint.Config       `yaml:"checkpoint,omitempty"`
	Analytics     AnalyticsConfig         `yaml:"analytics,omitempty"`
	Observability observability.Config    `yaml:"observability,omitempty"`
	Files         FilesConfig             `yaml:"files,omitempty"`
}

// AppConfig names the application and its root agent.
type AppConfig struct {
	// Name is the application name sessions are stored under.
	// Default: "agentkit"
	Name string `yaml:"name,omitempty"`

	// Root names the root agent. May be omitted when exactly one agent
	// is not a sub-agent of another.
	Root string `yaml:"root,omitempty"`

	// Resumable lets paused invocations be continued by id.
	Resumable bool `yaml:"resumable,omitempty"`

	// SaveInputBlobs stores inline data of user messages as artifacts.
	SaveInputBlobs bool `yaml:"save_input_blobs,omitempty"`
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Default: "info"
	Level string `yaml:"level,omitempty"`

	// Format is one of simple, verbose, json. Default: "simple"
	Format string `yaml:"format,omitempty"`

	// File redirects logs to a file when set.
	File string `yaml:"file,omitempty"`
}

// ModelConfig selects the model shared by LLM agents.
type ModelConfig struct {
	// Provider is the model backend. Default: "gemini"
	Provider string `yaml:"provider,omitempty"`

	// Name is the provider model name. Default: "gemini-2.0-flash"
	Name string `yaml:"name,omitempty"`

	// APIKey defaults to the provider's environment variable.
	APIKey string `yaml:"api_key,omitempty"`

	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// AgentConfig describes one node of the agent tree. The node name is its
// key in Config.Agents.
type AgentConfig struct {
	// Name is filled from the map key.
	Name string `yaml:"-"`

	// Type is llm, sequential, parallel or loop. Default: "llm"
	Type string `yaml:"type,omitempty"`

	Description string `yaml:"description,omitempty"`

	// Instruction is the system instruction of llm agents.
	Instruction string `yaml:"instruction,omitempty"`

	// Tools names the tools of llm agents.
	Tools []string `yaml:"tools,omitempty"`

	// SubAgents names the children of this agent.
	SubAgents []string `yaml:"sub_agents,omitempty"`

	// MaxIterations bounds loop agents. 0 loops until a sub-agent
	// escalates.
	MaxIterations uint `yaml:"max_iterations,omitempty"`

	// OutputKey stores the final text of llm agents in session state.
	OutputKey string `yaml:"output_key,omitempty"`

	// DisallowTransfer hides the transfer tool from llm agents.
	DisallowTransfer bool `yaml:"disallow_transfer,omitempty"`
}

// SessionsConfig selects the session store.
type SessionsConfig struct {
	// Backend is memory or sql. Default: "memory"
	Backend string `yaml:"backend,omitempty"`

	// Driver is postgres, mysql or sqlite.
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// ArtifactsConfig selects the artifact store.
type ArtifactsConfig struct {
	// Backend is memory or s3. Default: "memory"
	Backend string `yaml:"backend,omitempty"`

	Bucket          string `yaml:"bucket,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// AnalyticsConfig configures the analytics plugin writing lifecycle rows
// to a SQL table.
type AnalyticsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Driver  string `yaml:"driver,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`

	// Table defaults to "agent_events".
	Table string `yaml:"table,omitempty"`

	// MaxContentLength truncates the content column. Default: 500
	MaxContentLength int `yaml:"max_content_length,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.App.SetDefaults()
	c.Logger.SetDefaults()
	c.Model.SetDefaults()
	for name, ag := range c.Agents {
		if ag == nil {
			ag = &AgentConfig{}
			c.Agents[name] = ag
		}
		ag.Name = name
		ag.SetDefaults()
	}
	if c.App.Root == "" {
		if roots := c.roots(); len(roots) == 1 {
			c.App.Root = roots[0]
		}
	}
	c.Sessions.SetDefaults()
	c.Artifacts.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Analytics.SetDefaults()
	c.Observability.SetDefaults()
	c.Files.SetDefaults()
}

// Validate checks every section and the shape of the agent tree.
func (c *Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	check("app", c.App.Validate())
	check("logger", c.Logger.Validate())
	check("model", c.Model.Validate())
	check("agents", c.validateAgents())
	check("sessions", c.Sessions.Validate())
	check("artifacts", c.Artifacts.Validate())
	check("checkpoint", c.Checkpoint.Validate())
	if c.Checkpoint.Store == BackendSQL && c.Sessions.Backend != BackendSQL {
		errs = append(errs, errors.New("checkpoint: the sql store requires the sql session backend"))
	}
	check("analytics", c.Analytics.Validate())
	check("observability", c.Observability.Validate())
	check("files", c.Files.Validate())
	return errors.Join(errs...)
}

// roots returns, sorted, the agents no other agent lists as a sub-agent.
func (c *Config) roots() []string {
	children := make(map[string]bool)
	for _, ag := range c.Agents {
		for _, sub := range ag.SubAgents {
			children[sub] = true
		}
	}
	var roots []string
	for name := range c.Agents {
		if !children[name] {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

func (c *Config) validateAgents() error {
	if len(c.Agents) == 0 {
		return errors.New("at least one agent is required")
	}
	if c.App.Root == "" {
		return fmt.Errorf("app.root is required when the tree has several roots (%s)", strings.Join(c.roots(), ", "))
	}
	if _, ok := c.Agents[c.App.Root]; !ok {
		return fmt.Errorf("root agent %q is not defined", c.App.Root)
	}

	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	parent := make(map[string]string)
	for _, name := range names {
		ag := c.Agents[name]
		if err := ag.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		for _, sub := range ag.SubAgents {
			if _, ok := c.Agents[sub]; !ok {
				return fmt.Errorf("agent %q: sub-agent %q is not defined", name, sub)
			}
			if p, ok := parent[sub]; ok {
				return fmt.Errorf("agent %q is a sub-agent of both %q and %q", sub, p, name)
			}
			parent[sub] = name
		}
	}
	if p, ok := parent[c.App.Root]; ok {
		return fmt.Errorf("root agent %q is a sub-agent of %q", c.App.Root, p)
	}

	// Every agent must be reachable from the root; anything else is either
	// a second root or part of a cycle.
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, sub := range c.Agents[name].SubAgents {
			walk(sub)
		}
	}
	walk(c.App.Root)
	for _, name := range names {
		if !seen[name] {
			return fmt.Errorf("agent %q is not reachable from root %q", name, c.App.Root)
		}
	}
	return nil
}

func (c *AppConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "agentkit"
	}
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = logger.FormatSimple
	}
}

func (c *LoggerConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return err
	}
	if !logger.ValidFormat(c.Format) {
		return fmt.Errorf("invalid format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}

// SetDefaults fills in the provider's default model and reads the API key
// from the provider's environment variable.
func (c *ModelConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Name == "" && c.Provider == "gemini" {
		c.Name = "gemini-2.0-flash"
	}
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.Provider)
	}
}

func (c *ModelConfig) Validate() error {
	if c.Provider != "gemini" {
		return fmt.Errorf("unsupported provider %q (supported: gemini)", c.Provider)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return errors.New("max_tokens must be non-negative")
	}
	return nil
}

// ProviderAPIKey returns the API key of provider from the environment.
func ProviderAPIKey(provider string) string {
	switch provider {
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func (c *AgentConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = AgentTypeLLM
	}
}

func (c *AgentConfig) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("name is required")
	case strings.Contains(c.Name, "."):
		return errors.New("name must not contain '.'")
	case c.Name == "user":
		return errors.New(`name "user" is reserved`)
	}
	switch c.Type {
	case AgentTypeLLM:
		if c.MaxIterations != 0 {
			return errors.New("max_iterations is only valid for loop agents")
		}
	case AgentTypeSequential, AgentTypeParallel, AgentTypeLoop:
		if len(c.SubAgents) == 0 {
			return fmt.Errorf("%s agents need at least one sub-agent", c.Type)
		}
		if len(c.Tools) > 0 || c.Instruction != "" {
			return fmt.Errorf("%s agents take no tools or instruction", c.Type)
		}
		if c.MaxIterations != 0 && c.Type != AgentTypeLoop {
			return errors.New("max_iterations is only valid for loop agents")
		}
	default:
		return fmt.Errorf("invalid type %q (valid: llm, sequential, parallel, loop)", c.Type)
	}
	seen := make(map[string]bool, len(c.SubAgents))
	for _, sub := range c.SubAgents {
		if sub == c.Name {
			return errors.New("agent lists itself as a sub-agent")
		}
		if seen[sub] {
			return fmt.Errorf("duplicate sub-agent %q", sub)
		}
		seen[sub] = true
	}
	return nil
}

func (c *SessionsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
}

func (c *SessionsConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendSQL:
		return validateSQL(c.Driver, c.DSN)
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
}

func validateSQL(driver, dsn string) error {
	switch driver {
	case "postgres", "mysql", "sqlite", "sqlite3":
	case "":
		return errors.New("driver is required")
	default:
		return fmt.Errorf("unsupported driver %q (supported: postgres, mysql, sqlite)", driver)
	}
	if dsn == "" {
		return errors.New("dsn is required")
	}
	return nil
}

func (c *ArtifactsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Backend == BackendS3 && c.Region == "" {
		c.Region = "us-east-1"
	}
}

func (c *ArtifactsConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendS3:
		if c.Bucket == "" {
			return errors.New("bucket is required for the s3 backend")
		}
		if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
			return errors.New("access_key_id and secret_access_key must be set together")
		}
		return nil
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, s3)", c.Backend)
	}
}

func (c *AnalyticsConfig) SetDefaults() {
	if c.Table == "" {
		c.Table = "agent_events"
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = 500
	}
}

func (c *AnalyticsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validateSQL(c.Driver, c.DSN)
}

// FilesConfig configures the built-in read_file and write_file tools.
type FilesConfig struct {
	// Root is the directory the tools are confined to. Default: "."
	Root string `yaml:"root,omitempty"`

	// MaxFileSize caps reads and writes in bytes. Default: 1 MiB
	MaxFileSize int64 `yaml:"max_file_size,omitempty"`

	// ConfirmWrites asks before every write, not only before overwrites.
	ConfirmWrites bool `yaml:"confirm_writes,omitempty"`
}

func (c *FilesConfig) SetDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1 << 20
	}
}

func (c *FilesConfig) Validate() error {
	if c.MaxFileSize < 0 {
		return errors.New("max_file_size must be non-negative")
	}
	return nil
}
