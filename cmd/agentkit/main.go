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

// Command agentkit runs and inspects agentkit applications.
//
// Usage:
//
//	agentkit run --config agentkit.yaml
//	agentkit run -m "clean up the temp dir" --yes
//	agentkit validate --watch
//	agentkit artifacts ls --session s1
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/agentkit/pkg/config"
	"github.com/kadirpekel/agentkit/pkg/model"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

// CLI defines the command-line interface.
type CLI struct {
	Run       RunCmd       `cmd:"" help:"Start an interactive session with the root agent."`
	Validate  ValidateCmd  `cmd:"" help:"Validate the configuration file."`
	Artifacts ArtifactsCmd `cmd:"" help:"Inspect and manage stored artifacts."`
	Version   VersionCmd   `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"agentkit.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

// runEnv carries what commands need besides their flags.
type runEnv struct {
	ctx context.Context
	in  *bufio.Reader
	out io.Writer
	// interactive is set when stdin is a terminal.
	interactive bool
	// model overrides the configured model. Tests set it.
	model model.LLM
}

// load reads the config file and installs the logger it describes.
func (c *CLI) load() (*config.Config, func(), error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	cleanup, err := initLogger(c.LogLevel, c.LogFile, c.LogFormat, cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(env *runEnv) error {
	_, err := fmt.Fprintf(env.out, "agentkit version %s\n", resolveVersion())
	return err
}

func resolveVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agentkit"),
		kong.Description("Run agent trees with resumable human-in-the-loop tool confirmation."),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &runEnv{
		ctx:         ctx,
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: isTerminal(os.Stdin),
	}
	if _, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, config.LoggerConfig{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kctx.FatalIfErrorf(kctx.Run(&cli, env))
}
