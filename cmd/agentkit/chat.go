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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/runner"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// chat drives a conversation with a runner over a line-oriented terminal.
type chat struct {
	runner    *runner.Runner
	opts      []runner.RunOption
	userID    string
	sessionID string

	in          *bufio.Reader
	out         io.Writer
	interactive bool
	// autoApprove confirms every request without prompting.
	autoApprove bool
}

// loop reads messages until EOF or /quit.
func (c *chat) loop(ctx context.Context) error {
	fmt.Fprintf(c.out, "Session %s with %s. Type /quit to exit.\n", c.sessionID, c.runner.AppName())
	for {
		if c.interactive {
			fmt.Fprint(c.out, "> ")
		}
		line, readErr := c.in.ReadString('\n')
		line = strings.TrimSpace(line)
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		default:
			if err := c.send(ctx, genai.NewContentFromText(line, genai.RoleUser)); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// send runs msg and keeps answering confirmation requests until the
// invocation stops asking.
func (c *chat) send(ctx context.Context, msg *genai.Content) error {
	opts := c.opts
	for msg != nil {
		var (
			requests     []*genai.FunctionCall
			invocationID string
		)
		for ev, err := range c.runner.Run(ctx, c.userID, c.sessionID, msg, opts...) {
			if err != nil {
				return err
			}
			c.print(ev)
			for _, call := range ev.LongRunningFunctionCalls() {
				if toolconfirmation.IsRequest(call) {
					requests = append(requests, call)
					invocationID = ev.InvocationID
				}
			}
		}
		// Answers continue the paused invocation of a resumable app.
		opts = c.opts
		if c.runner.Resumable() && invocationID != "" {
			opts = append(slices.Clip(c.opts), runner.WithInvocationID(invocationID))
		}
		msg = nil
		if len(requests) > 0 {
			msg = c.confirm(requests)
		}
	}
	return nil
}

// confirm asks about each request and returns the answers as one message.
func (c *chat) confirm(requests []*genai.FunctionCall) *genai.Content {
	parts := make([]*genai.Part, 0, len(requests))
	for _, req := range requests {
		ok := c.ask(req)
		parts = append(parts, &genai.Part{
			FunctionResponse: toolconfirmation.NewResponse(req.ID, toolconfirmation.ToolConfirmation{Confirmed: ok}),
		})
	}
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

func (c *chat) ask(req *genai.FunctionCall) bool {
	name := "tool"
	args := ""
	if original, err := toolconfirmation.OriginalCall(req); err == nil {
		name = original.Name
		args = compactJSON(original.Args)
	}
	fmt.Fprintf(c.out, "\n[approval] %s(%s)\n", name, args)
	if tc, err := toolconfirmation.RequestedConfirmation(req); err == nil && tc.Hint != "" {
		fmt.Fprintf(c.out, "  %s\n", tc.Hint)
	}
	if c.autoApprove {
		fmt.Fprintln(c.out, "  approved (--yes)")
		return true
	}
	fmt.Fprint(c.out, "Approve? [y/N]: ")
	answer, err := c.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(c.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "approve":
		return true
	}
	return false
}

// print writes the parts of ev worth showing.
func (c *chat) print(ev *agent.Event) {
	if ev == nil || ev.Partial || ev.Author == agent.AuthorUser {
		return
	}
	if ev.ErrorCode != "" || ev.ErrorMessage != "" {
		fmt.Fprintf(c.out, "[%s] error: %s\n", ev.Author, strings.TrimSpace(ev.ErrorCode+" "+ev.ErrorMessage))
	}
	if ev.Content == nil {
		return
	}
	for _, p := range ev.Content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.FunctionCall != nil:
			if !toolconfirmation.IsRequest(p.FunctionCall) {
				fmt.Fprintf(c.out, "[%s] -> %s(%s)\n", ev.Author, p.FunctionCall.Name, compactJSON(p.FunctionCall.Args))
			}
		case p.FunctionResponse != nil:
			if !toolconfirmation.IsResponse(p.FunctionResponse) {
				fmt.Fprintf(c.out, "[%s] <- %s: %s\n", ev.Author, p.FunctionResponse.Name, compactJSON(p.FunctionResponse.Response))
			}
		case p.Text != "":
			fmt.Fprintf(c.out, "[%s] %s\n", ev.Author, p.Text)
		}
	}
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
