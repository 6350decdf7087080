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

package llmagent

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/auth"
	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// visibleEvents returns the session events an agent on branch can see, in
// order.
func visibleEvents(ctx agent.InvocationContext) []*agent.Event {
	sess := ctx.Session()
	if sess == nil {
		return nil
	}
	var out []*agent.Event
	for ev := range sess.Events().All() {
		if agent.EventVisible(ctx.Branch(), ev.Branch) {
			out = append(out, ev)
		}
	}
	return out
}

// buildContents converts the visible history into model contents.
//
// Processing pipeline:
//  1. Skip partial events and events without content
//  2. Drop confirmation and credential request/response parts
//  3. Drop function responses superseded by a later response with the
//     same id (a re-run after a confirmation replaces the pending error)
//  4. Present messages of other agents as user context
func (a *llmAgent) buildContents(ctx agent.InvocationContext) []*genai.Content {
	events := visibleEvents(ctx)
	if a.includeContents == IncludeContentsNone {
		events = currentTurn(events)
	}

	latestResponse := make(map[string]int)
	for i, ev := range events {
		for _, r := range ev.FunctionResponses() {
			if r.ID != "" {
				latestResponse[r.ID] = i
			}
		}
	}

	var contents []*genai.Content
	for i, ev := range events {
		if ev.Partial || ev.Content == nil {
			continue
		}
		var parts []*genai.Part
		for _, p := range ev.Content.Parts {
			if p == nil || isProtocolPart(p) {
				continue
			}
			if r := p.FunctionResponse; r != nil && r.ID != "" && latestResponse[r.ID] != i {
				continue
			}
			parts = append(parts, p)
		}
		if len(parts) == 0 {
			continue
		}

		if ev.Author != agent.AuthorUser && ev.Author != a.Name() {
			if c := foreignContent(ev.Author, parts); c != nil {
				contents = append(contents, c)
			}
			continue
		}

		role := ev.Content.Role
		if role == "" {
			role = genai.RoleModel
			if ev.Author == agent.AuthorUser {
				role = genai.RoleUser
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// currentTurn keeps the events from the latest user message on.
func currentTurn(events []*agent.Event) []*agent.Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Author == agent.AuthorUser {
			return events[i:]
		}
	}
	return events
}

// isProtocolPart reports whether p belongs to the client protocol rather
// than the conversation.
func isProtocolPart(p *genai.Part) bool {
	if c := p.FunctionCall; c != nil {
		return toolconfirmation.IsRequest(c) || c.Name == auth.RequestCredentialFunctionCallName
	}
	if r := p.FunctionResponse; r != nil {
		return toolconfirmation.IsResponse(r) || r.Name == auth.RequestCredentialFunctionCallName
	}
	return false
}

// foreignContent rewrites another agent's parts as user context so the
// model does not mistake them for its own turns.
func foreignContent(author string, parts []*genai.Part) *genai.Content {
	out := []*genai.Part{genai.NewPartFromText("For context:")}
	for _, p := range parts {
		switch {
		case p.Thought:
		case p.FunctionCall != nil:
			out = append(out, genai.NewPartFromText(fmt.Sprintf(
				"[%s] called tool `%s` with parameters: %s", author, p.FunctionCall.Name, compactJSON(p.FunctionCall.Args))))
		case p.FunctionResponse != nil:
			out = append(out, genai.NewPartFromText(fmt.Sprintf(
				"[%s] `%s` tool returned result: %s", author, p.FunctionResponse.Name, compactJSON(p.FunctionResponse.Response))))
		case p.Text != "":
			out = append(out, genai.NewPartFromText(fmt.Sprintf("[%s] said: %s", author, p.Text)))
		}
	}
	if len(out) == 1 {
		return nil
	}
	return &genai.Content{Role: genai.RoleUser, Parts: out}
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
