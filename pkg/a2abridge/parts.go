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
	"encoding/base64"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"
)

// Metadata keys carried on A2A parts and events.
const (
	// MetaKeyType tags data parts holding function calls or responses.
	MetaKeyType = "agentkit_type"

	// MetaKeyLongRunning marks function call parts the client must answer.
	MetaKeyLongRunning = "agentkit_long_running"

	metaKeyEscalate = "agentkit_escalate"
	metaKeyTransfer = "agentkit_transfer_to_agent"
	metaKeyAuthor   = "agentkit_author"
	metaKeyBranch   = "agentkit_branch"
	metaKeyEventID  = "agentkit_event_id"
	metaKeyPending  = "agentkit_pending_call_ids"

	typeFunctionCall     = "function_call"
	typeFunctionResponse = "function_response"
)

// ToA2AParts converts content parts. Function calls and responses become
// data parts tagged with MetaKeyType; calls whose id is in longRunning are
// additionally tagged with MetaKeyLongRunning. Thoughts are dropped.
func ToA2AParts(content *genai.Content, longRunning []string) ([]a2a.Part, error) {
	if content == nil {
		return nil, nil
	}
	lr := make(map[string]bool, len(longRunning))
	for _, id := range longRunning {
		lr[id] = true
	}

	var parts []a2a.Part
	for _, p := range content.Parts {
		switch {
		case p == nil || p.Thought:
		case p.FunctionCall != nil:
			fc := p.FunctionCall
			meta := map[string]any{MetaKeyType: typeFunctionCall}
			if lr[fc.ID] {
				meta[MetaKeyLongRunning] = true
			}
			parts = append(parts, a2a.DataPart{
				Data:     map[string]any{"id": fc.ID, "name": fc.Name, "args": fc.Args},
				Metadata: meta,
			})
		case p.FunctionResponse != nil:
			fr := p.FunctionResponse
			parts = append(parts, a2a.DataPart{
				Data:     map[string]any{"id": fr.ID, "name": fr.Name, "response": fr.Response},
				Metadata: map[string]any{MetaKeyType: typeFunctionResponse},
			})
		case p.InlineData != nil:
			parts = append(parts, a2a.FilePart{File: a2a.FileBytes{
				FileMeta: a2a.FileMeta{MimeType: p.InlineData.MIMEType, Name: p.InlineData.DisplayName},
				Bytes:    base64.StdEncoding.EncodeToString(p.InlineData.Data),
			}})
		case p.FileData != nil:
			parts = append(parts, a2a.FilePart{File: a2a.FileURI{
				FileMeta: a2a.FileMeta{MimeType: p.FileData.MIMEType, Name: p.FileData.DisplayName},
				URI:      p.FileData.FileURI,
			}})
		case p.Text != "":
			parts = append(parts, a2a.TextPart{Text: p.Text})
		}
	}
	return parts, nil
}

// ToGenAIContent converts an A2A message. Untagged data parts are passed
// to the model as JSON text.
func ToGenAIContent(msg *a2a.Message) (*genai.Content, error) {
	if msg == nil {
		return nil, nil
	}
	role := genai.RoleUser
	if msg.Role == a2a.MessageRoleAgent {
		role = genai.RoleModel
	}
	content := &genai.Content{Role: role}
	for _, part := range msg.Parts {
		p, err := toGenAIPart(part)
		if err != nil {
			return nil, err
		}
		if p != nil {
			content.Parts = append(content.Parts, p)
		}
	}
	return content, nil
}

func toGenAIPart(part a2a.Part) (*genai.Part, error) {
	switch v := part.(type) {
	case a2a.TextPart:
		return genai.NewPartFromText(v.Text), nil
	case a2a.DataPart:
		return dataToGenAI(v.Data, v.Metadata)
	case a2a.FilePart:
		switch f := v.File.(type) {
		case a2a.FileBytes:
			data, err := base64.StdEncoding.DecodeString(f.Bytes)
			if err != nil {
				return nil, fmt.Errorf("invalid file bytes: %w", err)
			}
			return &genai.Part{InlineData: &genai.Blob{MIMEType: f.MimeType, DisplayName: f.Name, Data: data}}, nil
		case a2a.FileURI:
			return &genai.Part{FileData: &genai.FileData{MIMEType: f.MimeType, DisplayName: f.Name, FileURI: f.URI}}, nil
		default:
			return nil, fmt.Errorf("unsupported file content %T", f)
		}
	default:
		return nil, fmt.Errorf("unsupported part type %T", part)
	}
}

func dataToGenAI(data, meta map[string]any) (*genai.Part, error) {
	typ, _ := meta[MetaKeyType].(string)
	id, _ := data["id"].(string)
	name, _ := data["name"].(string)
	switch typ {
	case typeFunctionCall:
		args, _ := data["args"].(map[string]any)
		return &genai.Part{FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args}}, nil
	case typeFunctionResponse:
		if id == "" || name == "" {
			return nil, fmt.Errorf("function response needs an id and a name")
		}
		resp, _ := data["response"].(map[string]any)
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: id, Name: name, Response: resp}}, nil
	default:
		text, err := marshalText(data)
		if err != nil {
			return nil, err
		}
		return genai.NewPartFromText(text), nil
	}
}
