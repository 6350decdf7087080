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

// Package runner provides the orchestration layer for agent execution.
//
// The Runner manages agent execution within sessions, handling:
//   - Session creation and retrieval
//   - Agent selection based on session history
//   - Event streaming and persistence
//   - Pausing and resuming invocations of resumable apps
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/app"
	"github.com/kadirpekel/agentkit/pkg/artifact"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/checkpoint"
	"github.com/kadirpekel/agentkit/pkg/plugin"
	"github.com/kadirpekel/agentkit/pkg/session"
)

// ErrInvocationNotFound is returned when a resume names an invocation the
// session has no events for, or whose pause expired.
var ErrInvocationNotFound = errors.New("invocation not found")

// Config contains the configuration for creating a Runner.
type Config struct {
	// App is the application to run.
	App *app.App

	// SessionService manages session lifecycle (source of truth).
	SessionService session.Service

	// ArtifactService manages artifact storage (optional).
	ArtifactService artifact.Service

	// CredentialService persists tool credentials (optional).
	CredentialService auth.CredentialService

	// CheckpointManager indexes paused invocations (optional).
	CheckpointManager *checkpoint.Manager
}

// Runner orchestrates agent execution within sessions.
type Runner struct {
	appName           string
	rootAgent         agent.Agent
	resumable         bool
	sessionService    session.Service
	artifactService   artifact.Service
	credentialService auth.CredentialService
	checkpointManager *checkpoint.Manager
	plugins           *plugin.Manager
	tree              *agentTree
}

// New creates a new Runner.
func New(cfg Config) (*Runner, error) {
	if err := cfg.App.Validate(); err != nil {
		return nil, err
	}
	if cfg.SessionService == nil {
		return nil, fmt.Errorf("session service is required")
	}

	tree, err := buildAgentTree(cfg.App.RootAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent tree: %w", err)
	}
	plugins, err := plugin.NewManager(cfg.App.Plugins...)
	if err != nil {
		return nil, fmt.Errorf("failed to register plugins: %w", err)
	}

	return &Runner{
		appName:           cfg.App.Name,
		rootAgent:         cfg.App.RootAgent,
		resumable:         cfg.App.Resumable(),
		sessionService:    cfg.SessionService,
		artifactService:   cfg.ArtifactService,
		credentialService: cfg.CredentialService,
		checkpointManager: cfg.CheckpointManager,
		plugins:           plugins,
		tree:              tree,
	}, nil
}

// RunOption customizes a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	invocationID string
	runConfig    agent.RunConfig
}

// WithInvocationID resumes the paused invocation id instead of starting a
// new one. The app must be resumable.
func WithInvocationID(id string) RunOption {
	return func(o *runOptions) { o.invocationID = id }
}

// WithRunConfig sets the runtime configuration of the invocation.
func WithRunConfig(cfg agent.RunConfig) RunOption {
	return func(o *runOptions) { o.runConfig = cfg }
}

// invocation is what prepare resolved for one Run.
type invocation struct {
	id       string
	agent    agent.Agent
	branch   string
	resuming bool
}

// Run executes the agent for the given user input, yielding events.
//
// Each non-partial event is persisted before it is yielded, so the agent
// that produced it sees it in its history once it continues. A message
// answering a function call is routed to the agent that issued the call;
// other messages go to the last agent that may take the conversation over,
// or to the root.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, msg *genai.Content, opts ...RunOption) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		var o runOptions
		for _, opt := range opts {
			opt(&o)
		}

		sess, err := r.getOrCreateSession(ctx, userID, sessionID)
		if err != nil {
			yield(nil, err)
			return
		}
		inv, err := r.prepare(ctx, sess, msg, o.invocationID)
		if err != nil {
			yield(nil, err)
			return
		}

		// Clear temp keys after the invocation completes.
		defer r.clearTempState(sess)

		var resume *agent.ResumeState
		if inv.resuming {
			resume = agent.RebuildResumeState(sess.Events(), inv.id)
		}
		invCtx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
			Artifacts:         agent.NewArtifacts(r.artifactService, r.appName, userID, sess.ID()),
			CredentialService: r.credentialService,
			Plugins:           r.plugins,
			Session:           sess,
			Agent:             inv.agent,
			Branch:            inv.branch,
			UserContent:       msg,
			RunConfig:         &o.runConfig,
			InvocationID:      inv.id,
			Resumable:         r.resumable,
			Resume:            resume,
		})

		slog.Debug("Starting invocation",
			"invocation_id", inv.id,
			"session_id", sess.ID(),
			"agent", inv.agent.Name(),
			"branch", inv.branch,
			"resume", inv.resuming)

		if msg != nil {
			replaced, err := r.plugins.OnUserMessage(invCtx, msg)
			if err != nil {
				yield(nil, err)
				return
			}
			if replaced != nil {
				msg = replaced
			}
			if msg, err = r.saveInputBlobs(invCtx, msg); err != nil {
				yield(nil, err)
				return
			}
			if err := r.appendUserMessage(ctx, sess, msg, inv); err != nil {
				yield(nil, err)
				return
			}
		}

		content, err := r.plugins.BeforeRun(invCtx)
		if err != nil {
			yield(nil, err)
			return
		}
		if content != nil {
			ev := agent.NewEvent(inv.id)
			ev.Author = inv.agent.Name()
			ev.Branch = inv.branch
			ev.Content = content
			if err := r.sessionService.AppendEvent(ctx, sess, ev); err != nil {
				yield(nil, fmt.Errorf("failed to persist event: %w", err))
				return
			}
			yield(ev, nil)
			return
		}

		if !r.runAgent(invCtx, sess, inv, yield) {
			return
		}
		r.plugins.AfterRun(invCtx)

		if r.resumable {
			key := checkpoint.Key{AppName: r.appName, UserID: userID, SessionID: sess.ID(), InvocationID: inv.id}
			if err := r.checkpointManager.Sync(ctx, key, sess.Events()); err != nil {
				slog.Warn("Failed to index paused invocation",
					"invocation_id", inv.id,
					"error", err)
			}
		}
	}
}

// runAgent streams the events of the invocation. It returns false when
// the consumer stopped early.
func (r *Runner) runAgent(invCtx agent.InvocationContext, sess session.Session, inv *invocation, yield func(*agent.Event, error) bool) bool {
	for event, err := range inv.agent.Run(invCtx) {
		if err != nil {
			if !yield(event, err) {
				return false
			}
			continue
		}

		replaced, err := r.plugins.OnEvent(invCtx, event)
		if err != nil {
			if !yield(nil, err) {
				return false
			}
			continue
		}
		if replaced != nil {
			event = replaced
		}

		// Persist non-partial events
		if !event.Partial {
			if err := r.sessionService.AppendEvent(invCtx, sess, event); err != nil {
				yield(nil, fmt.Errorf("failed to persist event: %w", err))
				return false
			}
		}

		if !yield(event, nil) {
			return false
		}
	}
	return true
}

// prepare resolves the invocation id and the agent to run.
func (r *Runner) prepare(ctx context.Context, sess session.Session, msg *genai.Content, invocationID string) (*invocation, error) {
	if invocationID != "" {
		if err := r.checkResumable(ctx, sess, invocationID); err != nil {
			return nil, err
		}
		return &invocation{id: invocationID, agent: r.rootAgent, resuming: true}, nil
	}

	inv := &invocation{id: agent.NewInvocationID(), agent: r.rootAgent}
	if n, branch, ok := r.findCallOwner(sess, msg); ok {
		inv.agent, inv.branch = n.agent, branch
		slog.Debug("Routing function response to caller",
			"agent", n.agent.Name(),
			"path", n.path())
		return inv, nil
	}
	inv.agent = r.findAgentToRun(sess)
	return inv, nil
}

func (r *Runner) checkResumable(ctx context.Context, sess session.Session, invocationID string) error {
	if !r.resumable {
		return fmt.Errorf("app %q is not resumable; cannot resume invocation %s", r.appName, invocationID)
	}
	found := false
	for ev := range sess.Events().All() {
		if ev.InvocationID == invocationID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrInvocationNotFound, invocationID)
	}
	if !r.IsCheckpointEnabled() {
		return nil
	}
	key := checkpoint.Key{AppName: r.appName, UserID: sess.UserID(), SessionID: sess.ID(), InvocationID: invocationID}
	_, err := r.checkpointManager.Lookup(ctx, key)
	switch {
	case err == nil, errors.Is(err, checkpoint.ErrNotFound):
		// Session events decide; a completed invocation resumes to nothing.
		return nil
	case errors.Is(err, checkpoint.ErrExpired):
		return fmt.Errorf("%w: %s: %w", ErrInvocationNotFound, invocationID, err)
	default:
		return fmt.Errorf("failed to look up invocation %s: %w", invocationID, err)
	}
}

// findCallOwner locates the agent that issued the call answered by the
// first function response of msg that matches one.
func (r *Runner) findCallOwner(sess session.Session, msg *genai.Content) (*treeNode, string, bool) {
	for _, resp := range functionResponses(msg) {
		ev := findCallEvent(sess.Events(), resp.ID)
		if ev == nil {
			slog.Debug("No function call matches response", "response_id", resp.ID, "name", resp.Name)
			continue
		}
		if n := r.tree.lookup(ev.Author); n != nil {
			return n, ev.Branch, true
		}
	}
	return nil, "", false
}

// findAgentToRun determines which agent should handle the next request
// based on session history.
func (r *Runner) findAgentToRun(sess session.Session) agent.Agent {
	events := sess.Events()
	for i := events.Len() - 1; i >= 0; i-- {
		event := events.At(i)
		if event == nil || event.Author == agent.AuthorUser {
			continue
		}

		n := r.tree.lookup(event.Author)
		if n == nil {
			slog.Debug("Event from unknown agent",
				"agent", event.Author,
				"event_id", event.ID)
			continue
		}
		if r.tree.transferable(n) {
			return n.agent
		}
		break
	}
	return r.rootAgent
}

// appendUserMessage persists msg. Function responses are placed on the
// branch of the call they answer so only that branch sees them; when they
// span branches the message is split into one event per branch.
func (r *Runner) appendUserMessage(ctx context.Context, sess session.Session, msg *genai.Content, inv *invocation) error {
	var (
		order  []string
		groups = make(map[string][]*genai.Part)
	)
	for _, part := range msg.Parts {
		if part == nil {
			continue
		}
		branch := inv.branch
		if part.FunctionResponse != nil {
			if ev := findCallEvent(sess.Events(), part.FunctionResponse.ID); ev != nil {
				branch = ev.Branch
			}
		}
		if _, ok := groups[branch]; !ok {
			order = append(order, branch)
		}
		groups[branch] = append(groups[branch], part)
	}

	for _, branch := range order {
		event := agent.NewEvent(inv.id)
		event.Author = agent.AuthorUser
		event.Branch = branch
		event.Content = &genai.Content{Role: genai.RoleUser, Parts: groups[branch]}
		if err := r.sessionService.AppendEvent(ctx, sess, event); err != nil {
			return fmt.Errorf("failed to persist user message: %w", err)
		}
	}
	return nil
}

// saveInputBlobs stores inline data of msg as artifacts when the run asks
// for it, replacing each blob with a note naming the artifact.
func (r *Runner) saveInputBlobs(ctx agent.InvocationContext, msg *genai.Content) (*genai.Content, error) {
	if !ctx.RunConfig().SaveInputBlobsAsArtifacts || ctx.Artifacts() == nil {
		return msg, nil
	}
	out := &genai.Content{Role: msg.Role, Parts: make([]*genai.Part, len(msg.Parts))}
	for i, part := range msg.Parts {
		out.Parts[i] = part
		if part == nil || part.InlineData == nil {
			continue
		}
		name := fmt.Sprintf("artifact_%s_%d", ctx.InvocationID(), i)
		if _, err := ctx.Artifacts().Save(ctx, name, part); err != nil {
			return nil, fmt.Errorf("failed to save input blob %s: %w", name, err)
		}
		out.Parts[i] = genai.NewPartFromText(fmt.Sprintf("Uploaded file: %s. It is saved into artifacts", name))
	}
	return out, nil
}

// clearTempState removes all temp: prefixed keys from session state.
func (r *Runner) clearTempState(sess session.Session) {
	state := sess.State()
	if clearable, ok := state.(agent.TempClearable); ok {
		clearable.ClearTempKeys()
	}
}

func (r *Runner) getOrCreateSession(ctx context.Context, userID, sessionID string) (session.Session, error) {
	resp, err := r.sessionService.Get(ctx, &session.GetRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err == nil && resp != nil {
		return resp.Session, nil
	}
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	createResp, err := r.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
		State:     make(map[string]any),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return createResp.Session, nil
}

// PendingInvocations lists the paused invocations of a user that have not
// expired. It is empty when no checkpoint manager is enabled.
func (r *Runner) PendingInvocations(ctx context.Context, userID string) ([]*checkpoint.PausedInvocation, error) {
	return r.checkpointManager.ListPending(ctx, r.appName, userID)
}

// AnsweredInvocation returns the id of the invocation that issued the call
// answered by the first matching function response of msg, or "" when msg
// answers none. Clients of resumable apps pass it to WithInvocationID so the
// paused invocation continues instead of a new one starting.
func (r *Runner) AnsweredInvocation(ctx context.Context, userID, sessionID string, msg *genai.Content) (string, error) {
	resps := functionResponses(msg)
	if len(resps) == 0 {
		return "", nil
	}
	resp, err := r.sessionService.Get(ctx, &session.GetRequest{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if errors.Is(err, session.ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	for _, fr := range resps {
		if ev := findCallEvent(resp.Session.Events(), fr.ID); ev != nil {
			return ev.InvocationID, nil
		}
	}
	return "", nil
}

// FindAgent searches for an agent by name in the runner's agent tree.
func (r *Runner) FindAgent(name string) agent.Agent {
	if n := r.tree.lookup(name); n != nil {
		return n.agent
	}
	return nil
}

// ListAgents returns all agents in the runner's agent tree.
func (r *Runner) ListAgents() []agent.Agent {
	return agent.ListAgents(r.rootAgent)
}

// RootAgent returns the root agent.
func (r *Runner) RootAgent() agent.Agent {
	return r.rootAgent
}

// AppName returns the application name.
func (r *Runner) AppName() string {
	return r.appName
}

// Resumable reports whether invocations pause on long-running calls.
func (r *Runner) Resumable() bool {
	return r.resumable
}

// Close releases plugin resources.
func (r *Runner) Close(ctx context.Context) error {
	return r.plugins.Close(ctx)
}

// IsCheckpointEnabled returns whether paused invocations are indexed.
func (r *Runner) IsCheckpointEnabled() bool {
	return r.checkpointManager.IsEnabled()
}

func functionResponses(msg *genai.Content) []*genai.FunctionResponse {
	if msg == nil {
		return nil
	}
	var out []*genai.FunctionResponse
	for _, p := range msg.Parts {
		if p != nil && p.FunctionResponse != nil {
			out = append(out, p.FunctionResponse)
		}
	}
	return out
}

// findCallEvent returns the latest agent event carrying a function call
// with id.
func findCallEvent(events agent.Events, id string) *agent.Event {
	if id == "" {
		return nil
	}
	for i := events.Len() - 1; i >= 0; i-- {
		ev := events.At(i)
		if ev == nil || ev.Author == agent.AuthorUser {
			continue
		}
		for _, c := range ev.FunctionCalls() {
			if c.ID == id {
				return ev
			}
		}
	}
	return nil
}
