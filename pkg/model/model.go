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

// Package model defines the LLM interface agents talk to.
//
// The interface is deliberately small:
//   - Unified GenerateContent method with stream boolean parameter
//   - Returns iter.Seq2[*Response, error] for both streaming and non-streaming
//   - Streaming uses Partial flag to distinguish chunks from the aggregated response
//
// Requests and responses are expressed in genai content types; no wire
// format is implied by this package.
package model

import (
	"context"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// GenerateContent produces responses for the given request.
	//
	// When stream=false it yields exactly one Response with Partial=false.
	// When stream=true it yields partial Responses followed by one
	// aggregated Response with Partial=false.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]
}

// Request contains the input for an LLM call.
type Request struct {
	// Model overrides the model name, if set.
	Model string

	// Contents is the conversation history.
	Contents []*genai.Content

	// Config carries generation settings, the system instruction and the
	// function declarations.
	Config *genai.GenerateContentConfig

	// Tools indexes the tools declared in Config by name. Values are
	// tool.Tool; kept untyped to avoid an import cycle.
	Tools map[string]any
}

// AppendInstructions adds text to the system instruction.
func (r *Request) AppendInstructions(instructions ...string) {
	var parts []string
	for _, s := range instructions {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return
	}
	if r.Config == nil {
		r.Config = &genai.GenerateContentConfig{}
	}
	if r.Config.SystemInstruction == nil {
		r.Config.SystemInstruction = &genai.Content{Role: genai.RoleUser}
	}
	r.Config.SystemInstruction.Parts = append(r.Config.SystemInstruction.Parts,
		genai.NewPartFromText(strings.Join(parts, "\n\n")))
}

// AppendFunctionDeclarations declares functions to the model.
func (r *Request) AppendFunctionDeclarations(decls ...*genai.FunctionDeclaration) {
	if len(decls) == 0 {
		return
	}
	if r.Config == nil {
		r.Config = &genai.GenerateContentConfig{}
	}
	for _, t := range r.Config.Tools {
		if t != nil && t.FunctionDeclarations != nil {
			t.FunctionDeclarations = append(t.FunctionDeclarations, decls...)
			return
		}
	}
	r.Config.Tools = append(r.Config.Tools, &genai.Tool{FunctionDeclarations: decls})
}

// SystemInstructionText returns the system instruction as plain text.
func (r *Request) SystemInstructionText() string {
	if r == nil || r.Config == nil || r.Config.SystemInstruction == nil {
		return ""
	}
	var texts []string
	for _, p := range r.Config.SystemInstruction.Parts {
		if p != nil && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// Response contains the result of an LLM call.
type Response struct {
	// Content is the generated content (text, function calls, etc.)
	Content *genai.Content

	// Partial indicates whether this is a streaming chunk (true) or the
	// aggregated final response (false).
	Partial bool

	// TurnComplete indicates whether the model has finished its turn.
	TurnComplete bool

	UsageMetadata *genai.GenerateContentResponseUsageMetadata
	FinishReason  genai.FinishReason

	// ErrorCode for provider-specific errors.
	ErrorCode string

	// ErrorMessage for provider-specific error messages.
	ErrorMessage string

	CustomMetadata map[string]any
}

// TextContent extracts the non-thought text of a response.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Content.Parts {
		if p != nil && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns the function calls requested by the model.
func (r *Response) FunctionCalls() []*genai.FunctionCall {
	if r == nil || r.Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, p := range r.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// HasToolCalls returns whether the response contains function calls.
func (r *Response) HasToolCalls() bool {
	return len(r.FunctionCalls()) > 0
}
