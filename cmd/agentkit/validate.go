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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kadirpekel/agentkit/pkg/config"
)

// ValidateCmd checks a configuration file.
type ValidateCmd struct {
	Watch bool `help:"Keep watching the file and re-validate on every change."`
}

func (c *ValidateCmd) Run(cli *CLI, env *runEnv) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	summarize(env.out, cli.Config, cfg)
	if !c.Watch {
		return nil
	}
	fmt.Fprintf(env.out, "Watching %s for changes (Ctrl+C to stop)\n", cli.Config)
	return config.Watch(env.ctx, cli.Config, func(cfg *config.Config, err error) {
		if err != nil {
			fmt.Fprintf(env.out, "✗ %v\n", err)
			return
		}
		summarize(env.out, cli.Config, cfg)
	})
}

func summarize(w io.Writer, path string, cfg *config.Config) {
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  app:       %s (resumable: %t)\n", cfg.App.Name, cfg.App.Resumable)
	fmt.Fprintf(w, "  root:      %s\n", cfg.App.Root)
	fmt.Fprintf(w, "  agents:    %s\n", strings.Join(names, ", "))
	fmt.Fprintf(w, "  sessions:  %s\n", cfg.Sessions.Backend)
	fmt.Fprintf(w, "  artifacts: %s\n", cfg.Artifacts.Backend)
}
