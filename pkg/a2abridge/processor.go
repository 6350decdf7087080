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
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// Processor translates the events of one invocation into A2A task
// events. Content streams into a single artifact; the task ends as
// input-required when a long-running call is left unanswered, failed when
// an event carries an error, and completed otherwise.
//
// A Processor is not safe for concurrent use.
type Processor struct {
	task       a2a.TaskInfoProvider
	artifactID a2a.ArtifactID
	actions    agent.EventActions
	pending    []string
	hints      []string
	failure    string
}

// NewProcessor returns a processor emitting events for task.
func NewProcessor(task a2a.TaskInfoProvider) *Processor {
	return &Processor{task: task}
}

// Process returns the artifact update for ev, or nil when ev carries
// nothing to show. Partial events are skipped; their final form follows.
func (p *Processor) Process(ev *agent.Event) (*a2a.TaskArtifactUpdateEvent, error) {
	if ev == nil || ev.Partial {
		return nil, nil
	}
	p.actions.Escalate = p.actions.Escalate || ev.Actions.Escalate
	if ev.Actions.TransferToAgent != "" {
		p.actions.TransferToAgent = ev.Actions.TransferToAgent
	}
	if ev.ErrorCode != "" || ev.ErrorMessage != "" {
		p.failure = strings.TrimSpace(ev.ErrorCode + " " + ev.ErrorMessage)
	}
	p.trackPending(ev)

	parts, err := ToA2AParts(ev.Content, ev.LongRunningToolIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to convert event %s: %w", ev.ID, err)
	}
	if len(parts) == 0 {
		return nil, nil
	}

	var out *a2a.TaskArtifactUpdateEvent
	if p.artifactID == "" {
		out = a2a.NewArtifactEvent(p.task, parts...)
		p.artifactID = out.Artifact.ID
	} else {
		out = a2a.NewArtifactUpdateEvent(p.task, p.artifactID, parts...)
	}
	out.Metadata = eventMeta(ev)
	return out, nil
}

// trackPending keeps the unanswered long-running calls in issue order.
func (p *Processor) trackPending(ev *agent.Event) {
	for _, r := range ev.FunctionResponses() {
		for i, id := range p.pending {
			if id == r.ID {
				p.pending = append(p.pending[:i], p.pending[i+1:]...)
				p.hints = append(p.hints[:i], p.hints[i+1:]...)
				break
			}
		}
	}
	for _, call := range ev.LongRunningFunctionCalls() {
		hint := ""
		if toolconfirmation.IsRequest(call) {
			if tc, err := toolconfirmation.RequestedConfirmation(call); err == nil {
				hint = tc.Hint
			}
		}
		p.pending = append(p.pending, call.ID)
		p.hints = append(p.hints, hint)
	}
}

// Pending returns the ids of long-running calls still waiting for the
// client.
func (p *Processor) Pending() []string {
	return append([]string(nil), p.pending...)
}

func eventMeta(ev *agent.Event) map[string]any {
	meta := map[string]any{metaKeyEventID: ev.ID, metaKeyAuthor: ev.Author}
	if ev.Branch != "" {
		meta[metaKeyBranch] = ev.Branch
	}
	return meta
}

// Terminal returns the events closing the task: the last artifact chunk,
// if any artifact was sent, then the final status.
func (p *Processor) Terminal() []a2a.Event {
	var out []a2a.Event
	if p.artifactID != "" {
		ev := a2a.NewArtifactUpdateEvent(p.task, p.artifactID)
		ev.LastChunk = true
		out = append(out, ev)
	}

	var status *a2a.TaskStatusUpdateEvent
	switch {
	case p.failure != "":
		status = p.Failed(fmt.Errorf("%s", p.failure))
	case len(p.pending) > 0:
		var msg *a2a.Message
		if text := strings.TrimSpace(strings.Join(p.hints, "\n")); text != "" {
			msg = a2a.NewMessageForTask(a2a.MessageRoleAgent, p.task, a2a.TextPart{Text: text})
		}
		status = a2a.NewStatusUpdateEvent(p.task, a2a.TaskStateInputRequired, msg)
		status.Final = true
		ids := make([]any, len(p.pending))
		for i, id := range p.pending {
			ids[i] = id
		}
		status.Metadata = map[string]any{metaKeyPending: ids}
	default:
		status = a2a.NewStatusUpdateEvent(p.task, a2a.TaskStateCompleted, nil)
		status.Final = true
	}
	status.Metadata = p.actionsMeta(status.Metadata)
	return append(out, status)
}

// Failed returns a final failed status carrying cause.
func (p *Processor) Failed(cause error) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, p.task, a2a.TextPart{Text: cause.Error()})
	ev := a2a.NewStatusUpdateEvent(p.task, a2a.TaskStateFailed, msg)
	ev.Final = true
	return ev
}

func (p *Processor) actionsMeta(meta map[string]any) map[string]any {
	if !p.actions.Escalate && p.actions.TransferToAgent == "" {
		return meta
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	if p.actions.Escalate {
		meta[metaKeyEscalate] = true
	}
	if p.actions.TransferToAgent != "" {
		meta[metaKeyTransfer] = p.actions.TransferToAgent
	}
	return meta
}
