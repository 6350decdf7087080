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

package a2abridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/checkpoint"
	"github.com/kadirpekel/agentkit/pkg/runner"
	"github.com/kadirpekel/agentkit/pkg/session"
)

// DefaultUserID is used when a message carries no "user_id" metadata.
const DefaultUserID = "a2a_user"

// Executor serves a Runner over A2A. The A2A context id is the session id.
type Executor struct {
	runner   *runner.Runner
	sessions session.Service
	opts     []runner.RunOption
}

// NewExecutor returns an executor running r. sessions must be the service
// r was built with; it is read to resolve plain-text approvals.
func NewExecutor(r *runner.Runner, sessions session.Service, opts ...runner.RunOption) (*Executor, error) {
	if r == nil {
		return nil, errors.New("runner is required")
	}
	if sessions == nil {
		return nil, errors.New("session service is required")
	}
	return &Executor{runner: r, sessions: sessions, opts: opts}, nil
}

// eventWriter is the part of eventqueue.Queue the executor writes to.
type eventWriter interface {
	Write(ctx context.Context, event a2a.Event) error
}

// Execute implements a2asrv.AgentExecutor.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	return e.execute(ctx, reqCtx, reqCtx.StoredTask == nil, queue)
}

func (e *Executor) execute(ctx context.Context, reqCtx *a2asrv.RequestContext, newTask bool, w eventWriter) error {
	msg := reqCtx.Message
	if msg == nil {
		return errors.New("message not provided")
	}
	userID := DefaultUserID
	if uid, ok := msg.Metadata["user_id"].(string); ok && uid != "" {
		userID = uid
	}
	sessionID := reqCtx.ContextID

	if newTask {
		if err := w.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)); err != nil {
			return fmt.Errorf("failed to write submitted event: %w", err)
		}
	}

	p := NewProcessor(reqCtx)
	content, err := e.content(ctx, msg, userID, sessionID)
	if err != nil {
		return w.Write(ctx, p.Failed(err))
	}
	if err := w.Write(ctx, a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)); err != nil {
		return err
	}

	opts, err := e.runOptions(ctx, userID, sessionID, content)
	if err != nil {
		return w.Write(ctx, p.Failed(err))
	}

	slog.Debug("Executing A2A request", "session_id", sessionID, "user_id", userID, "task_id", string(reqCtx.TaskID))
	for ev, err := range e.runner.Run(ctx, userID, sessionID, content, opts...) {
		if err != nil {
			return w.Write(ctx, p.Failed(fmt.Errorf("agent run failed: %w", err)))
		}
		out, err := p.Process(ev)
		if err != nil {
			return w.Write(ctx, p.Failed(err))
		}
		if out != nil {
			if err := w.Write(ctx, out); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
	for _, ev := range p.Terminal() {
		if err := w.Write(ctx, ev); err != nil {
			return fmt.Errorf("failed to write terminal event: %w", err)
		}
	}
	return nil
}

// runOptions resumes the paused invocation content answers when the app
// is resumable.
func (e *Executor) runOptions(ctx context.Context, userID, sessionID string, content *genai.Content) ([]runner.RunOption, error) {
	if !e.runner.Resumable() {
		return e.opts, nil
	}
	id, err := e.runner.AnsweredInvocation(ctx, userID, sessionID, content)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return e.opts, nil
	}
	slog.Debug("Resuming paused invocation", "session_id", sessionID, "invocation_id", id)
	return append(slices.Clip(e.opts), runner.WithInvocationID(id)), nil
}

// content converts msg, turning an approval into confirmation responses
// for the calls the session is waiting on.
func (e *Executor) content(ctx context.Context, msg *a2a.Message, userID, sessionID string) (*genai.Content, error) {
	approval := ExtractApproval(msg)
	if approval == nil {
		return ToGenAIContent(msg)
	}
	var pending []string
	if approval.RequestID == "" {
		var err error
		if pending, err = e.pendingRequests(ctx, userID, sessionID); err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			return nil, errors.New("approval received but no tool confirmation is pending")
		}
	}
	return ConfirmationContent(approval, pending), nil
}

// pendingRequests lists unanswered confirmation requests of the last
// invocation of the session.
func (e *Executor) pendingRequests(ctx context.Context, userID, sessionID string) ([]string, error) {
	resp, err := e.sessions.Get(ctx, &session.GetRequest{AppName: e.runner.AppName(), UserID: userID, SessionID: sessionID})
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	events := resp.Session.Events()
	if events.Len() == 0 {
		return nil, nil
	}
	last := events.At(events.Len() - 1).InvocationID
	var ids []string
	for _, c := range checkpoint.PendingCalls(events, last) {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
