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

// Package builder turns a configuration into a ready Runner: it builds the
// agent tree, opens the session and artifact stores, and registers the
// checkpoint, analytics, observability and logging plugins.
//
//	cfg, _ := config.Load("agentkit.yaml")
//	b, err := builder.Build(ctx, cfg, builder.Options{
//	    Tools: []tool.Tool{deleteFile},
//	})
//	defer b.Close(ctx)
//	for ev, err := range b.Runner.Run(ctx, "user", "s1", msg, b.RunOptions()...) {
//	    ...
//	}
package builder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/agent/llmagent"
	"github.com/kadirpekel/agentkit/pkg/agent/workflowagent"
	"github.com/kadirpekel/agentkit/pkg/app"
	"github.com/kadirpekel/agentkit/pkg/artifact"
	"github.com/kadirpekel/agentkit/pkg/artifact/s3artifact"
	"github.com/kadirpekel/agentkit/pkg/checkpoint"
	"github.com/kadirpekel/agentkit/pkg/config"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/model/gemini"
	"github.com/kadirpekel/agentkit/pkg/observability"
	"github.com/kadirpekel/agentkit/pkg/plugin"
	"github.com/kadirpekel/agentkit/pkg/plugin/analytics"
	"github.com/kadirpekel/agentkit/pkg/plugin/logplugin"
	"github.com/kadirpekel/agentkit/pkg/runner"
	"github.com/kadirpekel/agentkit/pkg/session"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/controltool"
	"github.com/kadirpekel/agentkit/pkg/tool/filetool"
)

// Options supplies what a configuration cannot express.
type Options struct {
	// Model replaces the configured model when set.
	Model model.LLM

	// Tools can be referenced by name from agent configurations, next to
	// the built-in read_file, write_file, exit_loop and escalate.
	Tools []tool.Tool

	// Plugins are registered after the configured ones.
	Plugins []plugin.Plugin

	// Logger is used by the log plugin. Defaults to slog.Default().
	Logger *slog.Logger
}

// Built is a runner with the services it was wired with.
type Built struct {
	Runner        *runner.Runner
	App           *app.App
	Sessions      session.Service
	Artifacts     artifact.Service
	Checkpoints   *checkpoint.Manager
	Observability *observability.Manager

	runConfig agent.RunConfig
	closers   []func(context.Context) error
}

// RunOptions returns the run options implied by the configuration.
func (b *Built) RunOptions() []runner.RunOption {
	return []runner.RunOption{runner.WithRunConfig(b.runConfig)}
}

// Close releases everything Build opened, in reverse order.
func (b *Built) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Built) onClose(fn func(context.Context) error) { b.closers = append(b.closers, fn) }

// Build wires a runner from cfg. On error everything opened so far is
// closed again.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *Built, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &Built{runConfig: agent.RunConfig{SaveInputBlobsAsArtifacts: cfg.App.SaveInputBlobs}}
	defer func() {
		if err != nil {
			err = errors.Join(err, b.Close(ctx))
		}
	}()

	var db *sql.DB
	if db, err = b.openSessions(ctx, cfg.Sessions); err != nil {
		return nil, err
	}
	if b.Artifacts, err = OpenArtifacts(ctx, cfg.Artifacts); err != nil {
		return nil, err
	}
	if cfg.Checkpoint.IsEnabled() {
		if b.Checkpoints, err = openCheckpoints(ctx, &cfg.Checkpoint, cfg.Sessions.Driver, db); err != nil {
			return nil, err
		}
	}

	root, err := buildAgents(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	plugins, err := b.buildPlugins(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	b.App = &app.App{Name: cfg.App.Name, RootAgent: root, Plugins: plugins}
	if cfg.App.Resumable {
		b.App.ResumabilityConfig = &app.ResumabilityConfig{IsResumable: true}
	}
	b.Runner, err = runner.New(runner.Config{
		App:               b.App,
		SessionService:    b.Sessions,
		ArtifactService:   b.Artifacts,
		CheckpointManager: b.Checkpoints,
	})
	if err != nil {
		return nil, err
	}
	b.onClose(b.Runner.Close)
	return b, nil
}

// openSessions returns the database of the sql backend, or nil.
func (b *Built) openSessions(ctx context.Context, cfg config.SessionsConfig) (*sql.DB, error) {
	if cfg.Backend != config.BackendSQL {
		b.Sessions = session.InMemoryService()
		return nil, nil
	}
	svc, err := session.OpenSQLService(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	b.onClose(func(context.Context) error { return svc.Close() })
	b.Sessions = svc
	slog.Debug("Opened SQL session store", "driver", cfg.Driver)
	return svc.DB(), nil
}

// OpenArtifacts opens the artifact store cfg selects.
func OpenArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (artifact.Service, error) {
	if cfg.Backend != config.BackendS3 {
		return artifact.NewInMemoryService(), nil
	}
	svc, err := s3artifact.New(ctx, s3artifact.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		Prefix:          cfg.Prefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 artifact store: %w", err)
	}
	return svc, nil
}

func openCheckpoints(ctx context.Context, cfg *checkpoint.Config, driver string, db *sql.DB) (*checkpoint.Manager, error) {
	if cfg.Store != config.BackendSQL {
		return checkpoint.NewManager(cfg, checkpoint.NewMemoryStore()), nil
	}
	if db == nil {
		return nil, errors.New("sql checkpoint store requires the sql session backend")
	}
	store, err := checkpoint.NewSQLStore(ctx, db, driver)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewManager(cfg, store), nil
}

func (b *Built) buildPlugins(ctx context.Context, cfg *config.Config, opts Options) ([]plugin.Plugin, error) {
	obs, err := observability.NewManager(ctx, cfg.Observability)
	if err != nil {
		return nil, err
	}
	b.Observability = obs
	b.onClose(obs.Shutdown)

	plugins := []plugin.Plugin{logplugin.New(opts.Logger), obs.Plugin()}
	if cfg.Analytics.Enabled {
		sink, err := analytics.NewSQLSink(analytics.SQLSinkConfig{
			Driver: cfg.Analytics.Driver,
			DSN:    cfg.Analytics.DSN,
			Table:  cfg.Analytics.Table,
		})
		if err != nil {
			return nil, err
		}
		p, err := analytics.New(analytics.Config{Sink: sink, MaxContentLength: cfg.Analytics.MaxContentLength, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return append(plugins, opts.Plugins...), nil
}

func buildModel(ctx context.Context, cfg config.ModelConfig) (model.LLM, error) {
	gcfg := gemini.Config{APIKey: cfg.APIKey, Model: cfg.Name, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	llm, err := gemini.New(ctx, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.Provider, err)
	}
	return llm, nil
}

func toolIndex(files config.FilesConfig, extra []tool.Tool) (map[string]tool.Tool, error) {
	builtin, err := filetool.New(filetool.Config{Root: files.Root, MaxFileSize: files.MaxFileSize, ConfirmWrites: files.ConfirmWrites})
	if err != nil {
		return nil, err
	}
	builtin = append(builtin, controltool.ExitLoop(), controltool.Escalate())
	index := map[string]tool.Tool{}
	for _, t := range builtin {
		index[t.Name()] = t
	}
	for _, t := range extra {
		if t == nil {
			return nil, errors.New("nil tool")
		}
		index[t.Name()] = t
	}
	return index, nil
}

// buildAgents builds the tree bottom-up from the root. The model is only
// created when some agent needs one.
func buildAgents(ctx context.Context, cfg *config.Config, opts Options) (agent.Agent, error) {
	tools, err := toolIndex(cfg.Files, opts.Tools)
	if err != nil {
		return nil, err
	}
	llm := opts.Model
	var build func(name string) (agent.Agent, error)
	build = func(name string) (agent.Agent, error) {
		ac := cfg.Agents[name]
		subs := make([]agent.Agent, 0, len(ac.SubAgents))
		for _, sub := range ac.SubAgents {
			a, err := build(sub)
			if err != nil {
				return nil, err
			}
			subs = append(subs, a)
		}
		switch ac.Type {
		case config.AgentTypeSequential:
			return workflowagent.NewSequential(workflowagent.SequentialConfig{Name: name, Description: ac.Description, SubAgents: subs})
		case config.AgentTypeParallel:
			return workflowagent.NewParallel(workflowagent.ParallelConfig{Name: name, Description: ac.Description, SubAgents: subs})
		case config.AgentTypeLoop:
			return workflowagent.NewLoop(workflowagent.LoopConfig{Name: name, Description: ac.Description, SubAgents: subs, MaxIterations: ac.MaxIterations})
		}

		agentTools := make([]tool.Tool, 0, len(ac.Tools))
		for _, tn := range ac.Tools {
			t, ok := tools[tn]
			if !ok {
				return nil, fmt.Errorf("agent %q: unknown tool %q", name, tn)
			}
			agentTools = append(agentTools, t)
		}
		if llm == nil {
			if llm, err = buildModel(ctx, cfg.Model); err != nil {
				return nil, err
			}
		}
		return llmagent.New(llmagent.Config{
			Name:             name,
			Description:      ac.Description,
			Model:            llm,
			Instruction:      ac.Instruction,
			Tools:            agentTools,
			SubAgents:        subs,
			OutputKey:        ac.OutputKey,
			DisallowTransfer: ac.DisallowTransfer,
		})
	}
	return build(cfg.App.Root)
}
