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

package model

import (
	"strings"

	"google.golang.org/genai"
)

// StreamingAggregator aggregates partial streaming responses.
//
// It accumulates content from partial responses and produces:
//   - partial responses for real-time display (Partial=true)
//   - one aggregated response for session persistence (Partial=false)
//
// Usage:
//
//	agg := model.NewStreamingAggregator()
//	for chunk := range provider.Stream(ctx, req) {
//	    if resp := agg.Add(chunk); resp != nil {
//	        yield(resp, nil)
//	    }
//	}
//	if final := agg.Close(); final != nil {
//	    yield(final, nil)
//	}
type StreamingAggregator struct {
	text     strings.Builder
	thought  strings.Builder
	calls    []*genai.Part
	seen     map[string]bool
	usage    *genai.GenerateContentResponseUsageMetadata
	finish   genai.FinishReason
	sig      []byte
	received bool
}

// NewStreamingAggregator creates a new streaming aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{seen: make(map[string]bool)}
}

// Add folds one chunk into the aggregate and returns the partial response
// to forward, or nil when the chunk carried nothing displayable.
func (s *StreamingAggregator) Add(chunk *Response) *Response {
	if chunk == nil {
		return nil
	}
	s.received = true
	if chunk.UsageMetadata != nil {
		s.usage = chunk.UsageMetadata
	}
	if chunk.FinishReason != "" {
		s.finish = chunk.FinishReason
	}
	if chunk.Content == nil {
		return nil
	}

	var display []*genai.Part
	for _, p := range chunk.Content.Parts {
		if p == nil {
			continue
		}
		if len(p.ThoughtSignature) > 0 {
			s.sig = p.ThoughtSignature
		}
		switch {
		case p.FunctionCall != nil:
			key := p.FunctionCall.ID
			if key == "" {
				key = p.FunctionCall.Name
			}
			if s.seen[key] {
				continue
			}
			s.seen[key] = true
			s.calls = append(s.calls, p)
		case p.Thought && p.Text != "":
			s.thought.WriteString(p.Text)
			display = append(display, p)
		case p.Text != "":
			s.text.WriteString(p.Text)
			display = append(display, p)
		}
	}
	if len(display) == 0 {
		return nil
	}
	return &Response{
		Content: &genai.Content{Role: genai.RoleModel, Parts: display},
		Partial: true,
	}
}

// Close returns the aggregated response, or nil if no chunk was added.
func (s *StreamingAggregator) Close() *Response {
	if !s.received {
		return nil
	}
	var parts []*genai.Part
	if s.thought.Len() > 0 {
		parts = append(parts, &genai.Part{Text: s.thought.String(), Thought: true, ThoughtSignature: s.sig})
	}
	if s.text.Len() > 0 {
		parts = append(parts, genai.NewPartFromText(s.text.String()))
	}
	parts = append(parts, s.calls...)

	resp := &Response{
		Partial:       false,
		TurnComplete:  true,
		UsageMetadata: s.usage,
		FinishReason:  s.finish,
	}
	if len(parts) > 0 {
		resp.Content = &genai.Content{Role: genai.RoleModel, Parts: parts}
	}
	return resp
}
