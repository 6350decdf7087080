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

// Package testutils provides scripted models and event helpers for tests.
package testutils

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/session"
)

// EndOfAgent is the placeholder SimplifiedEvent.Value of an end-of-agent
// marker.
const EndOfAgent = "<end_of_agent>"

// TestContext returns a context that expires after five seconds.
func TestContext() context.Context {
	return TestContextWithTimeout(5 * time.Second)
}

// TestContextWithTimeout returns a context that expires after timeout.
func TestContextWithTimeout(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	_ = cancel // expires on its own
	return ctx
}

// MockModel replays scripted responses, one per GenerateContent call, and
// records the requests it received. Safe for concurrent use.
type MockModel struct {
	mu        sync.Mutex
	name      string
	responses []*model.Response
	next      int
	requests  []*model.Request

	// Err, when set, is returned by every call.
	Err error
}

// NewMockModel creates a model replaying responses in order.
func NewMockModel(responses ...*model.Response) *MockModel {
	return &MockModel{name: "mock-model", responses: responses}
}

func (m *MockModel) Name() string { return m.name }

// GenerateContent yields the next scripted response. Running out of
// responses is an error. When stream is set the text of the response is
// first yielded as a partial chunk.
func (m *MockModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		m.mu.Lock()
		m.requests = append(m.requests, req)
		if m.Err != nil {
			err := m.Err
			m.mu.Unlock()
			yield(nil, err)
			return
		}
		if m.next >= len(m.responses) {
			n := len(m.responses)
			m.mu.Unlock()
			yield(nil, fmt.Errorf("mock model: no response left (%d scripted)", n))
			return
		}
		resp := m.responses[m.next]
		m.next++
		m.mu.Unlock()

		if stream && resp.Content != nil {
			var text []*genai.Part
			for _, p := range resp.Content.Parts {
				if p != nil && p.Text != "" {
					text = append(text, genai.NewPartFromText(p.Text))
				}
			}
			if len(text) > 0 {
				chunk := &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: text}, Partial: true}
				if !yield(chunk, nil) {
					return
				}
			}
		}
		final := *resp
		final.Partial = false
		final.TurnComplete = true
		yield(&final, nil)
	}
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Calls returns the number of GenerateContent calls.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ model.LLM = (*MockModel)(nil)

// TextResponse is a model response with one text part.
func TextResponse(text string) *model.Response {
	return &model.Response{Content: genai.NewContentFromText(text, genai.RoleModel)}
}

// FunctionCallResponse is a model response calling each named tool with
// empty arguments.
func FunctionCallResponse(names ...string) *model.Response {
	parts := make([]*genai.Part, 0, len(names))
	for _, n := range names {
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: n, Args: map[string]any{}}})
	}
	return &model.Response{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}
}

// UserContent wraps parts in user content.
func UserContent(parts ...*genai.Part) *genai.Content {
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

// SimplifiedEvent is the author and the salient payload of an event.
//
// Value is the text of text events, the single *genai.Part of call or
// response events, the decoded JSON of agent state events, or EndOfAgent.
type SimplifiedEvent struct {
	Author string
	Value  any
}

// Simplify reduces events to comparable values. Function call and
// response ids are cleared so scripted expectations need not know them.
func Simplify(events []*agent.Event) []SimplifiedEvent {
	var out []SimplifiedEvent
	for _, ev := range events {
		if ev == nil || ev.Partial {
			continue
		}
		switch {
		case ev.Actions.EndOfAgent:
			out = append(out, SimplifiedEvent{ev.Author, EndOfAgent})
		case ev.Actions.AgentState != nil:
			out = append(out, SimplifiedEvent{ev.Author, string(ev.Actions.AgentState)})
		case ev.Content == nil:
		default:
			for _, p := range ev.Content.Parts {
				switch {
				case p == nil:
				case p.FunctionCall != nil:
					fc := *p.FunctionCall
					fc.ID = ""
					out = append(out, SimplifiedEvent{ev.Author, &genai.Part{FunctionCall: &fc}})
				case p.FunctionResponse != nil:
					fr := *p.FunctionResponse
					fr.ID = ""
					out = append(out, SimplifiedEvent{ev.Author, &genai.Part{FunctionResponse: &fr}})
				case p.Text != "":
					out = append(out, SimplifiedEvent{ev.Author, p.Text})
				}
			}
		}
	}
	return out
}

// Collect drains an event iterator, stopping at the first error.
func Collect(seq iter.Seq2[*agent.Event, error]) ([]*agent.Event, error) {
	var events []*agent.Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// RunAgent runs ag as the root of invocationID against sess, appending every
// event to svc as the runner does. Resumability state is rebuilt from the
// session, so calling it again with the same id resumes the invocation.
func RunAgent(ctx context.Context, svc session.Service, sess session.Session, ag agent.Agent, invocationID string, resumable bool) ([]*agent.Event, error) {
	ictx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
		Session:      sess,
		Agent:        ag,
		InvocationID: invocationID,
		Resumable:    resumable,
		Resume:       agent.RebuildResumeState(sess.Events(), invocationID),
	})
	var events []*agent.Event
	for ev, err := range ag.Run(ictx) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		if err := svc.AppendEvent(ctx, sess, ev); err != nil {
			return events, err
		}
	}
	return events, nil
}
