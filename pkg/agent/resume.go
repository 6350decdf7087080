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

package agent

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ResumeState tracks, per agent, the execution state and end-of-agent
// markers of one invocation. It is rebuilt from session events when a paused
// invocation is resumed and updated as agents emit state events.
//
// Safe for concurrent use by parallel branches.
type ResumeState struct {
	mu     sync.Mutex
	states map[string]json.RawMessage
	ended  map[string]bool
}

// NewResumeState returns an empty state.
func NewResumeState() *ResumeState {
	return &ResumeState{
		states: make(map[string]json.RawMessage),
		ended:  make(map[string]bool),
	}
}

// RebuildResumeState replays the events of invocationID.
func RebuildResumeState(events Events, invocationID string) *ResumeState {
	rs := NewResumeState()
	for ev := range events.All() {
		if ev.InvocationID == invocationID {
			rs.Observe(ev)
		}
	}
	return rs
}

// Observe records the state carried by ev.
func (rs *ResumeState) Observe(ev *Event) {
	if ev == nil || ev.Author == AuthorUser {
		return
	}
	if ev.Actions.AgentState == nil && !ev.Actions.EndOfAgent {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if ev.Actions.AgentState != nil {
		rs.states[ev.Author] = ev.Actions.AgentState
	}
	if ev.Actions.EndOfAgent {
		rs.ended[ev.Author] = true
		delete(rs.states, ev.Author)
	}
}

// AgentState returns the last state recorded for name, or nil.
func (rs *ResumeState) AgentState(name string) json.RawMessage {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.states[name]
}

// Ended reports whether name completed in this invocation.
func (rs *ResumeState) Ended(name string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.ended[name]
}

// Reset forgets everything recorded for the named agents, so they run again
// from the start. Loop agents reset their subtree between iterations.
func (rs *ResumeState) Reset(names ...string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, n := range names {
		delete(rs.states, n)
		delete(rs.ended, n)
	}
}

// LoadAgentState decodes the state recorded for the current agent into v.
// It reports false when nothing was recorded.
func LoadAgentState(ctx InvocationContext, v any) (bool, error) {
	raw := ctx.Resume().AgentState(ctx.AgentName())
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode state of agent %q: %w", ctx.AgentName(), err)
	}
	return true, nil
}

// NewAgentStateEvent returns the event recording state for the current
// agent. The caller yields it; the state becomes visible once the event is
// observed.
func NewAgentStateEvent(ctx InvocationContext, state any) (*Event, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state of agent %q: %w", ctx.AgentName(), err)
	}
	ev := NewEvent(ctx.InvocationID())
	ev.Author = ctx.AgentName()
	ev.Branch = ctx.Branch()
	ev.Actions.AgentState = data
	return ev, nil
}

// NewEndOfAgentEvent returns the event marking the current agent completed.
func NewEndOfAgentEvent(ctx InvocationContext) *Event {
	ev := NewEvent(ctx.InvocationID())
	ev.Author = ctx.AgentName()
	ev.Branch = ctx.Branch()
	ev.Actions.EndOfAgent = true
	return ev
}

// ShouldPause reports whether ev suspends its branch: the app is resumable
// and ev carries a long-running function call.
func ShouldPause(ctx InvocationContext, ev *Event) bool {
	return ctx.Resumable() && ev != nil && len(ev.LongRunningFunctionCalls()) > 0
}

// ChildBranch returns the branch a parallel child runs on.
func ChildBranch(ctx InvocationContext, child string) string {
	if ctx.Branch() == "" {
		return ctx.AgentName() + "." + child
	}
	return ctx.Branch() + "." + child
}

// EventVisible reports whether an event on eventBranch is part of the
// history of an agent running on branch. Root events and events of
// ancestor branches are visible; sibling branches are not.
func EventVisible(branch, eventBranch string) bool {
	if branch == "" || eventBranch == "" || branch == eventBranch {
		return true
	}
	return len(branch) > len(eventBranch) &&
		branch[:len(eventBranch)] == eventBranch &&
		branch[len(eventBranch)] == '.'
}

// RestoreSince rebuilds what the named agents recorded in invocationID
// after the latest state event of author on branch. Composite agents that
// run children more than once per invocation call it on resume so markers
// of earlier rounds do not carry over.
func (rs *ResumeState) RestoreSince(events Events, invocationID, author, branch string, names []string) {
	start := -1
	for i := events.Len() - 1; i >= 0; i-- {
		ev := events.At(i)
		if ev.InvocationID == invocationID && ev.Author == author && ev.Branch == branch && ev.Actions.AgentState != nil {
			start = i
			break
		}
	}
	rs.Reset(names...)
	if start < 0 {
		return
	}
	member := make(map[string]bool, len(names))
	for _, n := range names {
		member[n] = true
	}
	for i := start + 1; i < events.Len(); i++ {
		if ev := events.At(i); ev.InvocationID == invocationID && member[ev.Author] {
			rs.Observe(ev)
		}
	}
}
