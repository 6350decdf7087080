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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/a2abridge"
	"github.com/kadirpekel/agentkit/pkg/builder"
	"github.com/kadirpekel/agentkit/pkg/observability"
)

// RunCmd starts a session with the root agent.
type RunCmd struct {
	User    string `help:"User id of the session." default:"user"`
	Session string `help:"Session id to continue (default: a new session)."`
	Message string `short:"m" help:"Send one message, answer its confirmations and exit."`
	Yes     bool   `short:"y" help:"Approve every tool confirmation without prompting."`
	Serve   string `help:"Also serve the agent over A2A JSON-RPC on this address (e.g. :8080)." placeholder:"ADDR"`
}

func (c *RunCmd) Run(cli *CLI, env *runEnv) error {
	cfg, cleanup, err := cli.load()
	if err != nil {
		return err
	}
	defer cleanup()

	built, err := builder.Build(env.ctx, cfg, builder.Options{Model: env.model})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := built.Close(ctx); err != nil {
			slog.Warn("Shutdown failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(env.ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if built.Observability != nil {
		g.Go(func() error { return built.Observability.ServeMetrics(ctx) })
	}
	if c.Serve != "" {
		ln, err := net.Listen("tcp", c.Serve)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", c.Serve, err)
		}
		handler, err := a2aHandler(built, "http://"+ln.Addr().String())
		if err != nil {
			_ = ln.Close()
			return err
		}
		g.Go(func() error { return serveHTTP(ctx, ln, handler) })
		fmt.Fprintf(env.out, "A2A endpoint:  http://%s/\nAgent card:    http://%s%s\n", ln.Addr(), ln.Addr(), a2abridge.AgentCardPath)
	}

	sessionID := c.Session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ch := &chat{
		runner:      built.Runner,
		opts:        built.RunOptions(),
		userID:      c.User,
		sessionID:   sessionID,
		in:          env.in,
		out:         env.out,
		interactive: env.interactive,
		autoApprove: c.Yes,
	}
	if c.Message != "" {
		err = ch.send(ctx, genai.NewContentFromText(c.Message, genai.RoleUser))
	} else {
		err = ch.loop(ctx)
	}
	cancel()
	return errors.Join(err, g.Wait())
}

// a2aHandler exposes the root agent of built over A2A.
func a2aHandler(built *builder.Built, baseURL string) (http.Handler, error) {
	exec, err := a2abridge.NewExecutor(built.Runner, built.Sessions, built.RunOptions()...)
	if err != nil {
		return nil, err
	}
	root := built.App.RootAgent
	card := a2abridge.NewAgentCard(a2abridge.CardConfig{
		Name:        root.Name(),
		Description: root.Description(),
		URL:         baseURL,
		Version:     resolveVersion(),
	})
	var opts []a2abridge.HandlerOption
	if obs := built.Observability; obs != nil {
		opts = append(opts, a2abridge.WithMiddleware(observability.HTTPMiddleware(obs.Tracer(), obs.Metrics())))
	}
	return a2abridge.Handler(exec, card, opts...), nil
}

// serveHTTP serves h on ln until ctx is done.
func serveHTTP(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
