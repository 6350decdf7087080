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
	"encoding/json"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/toolconfirmation"
)

// Approval is a tool confirmation decision sent by a client that does not
// speak function responses.
type Approval struct {
	Confirmed bool

	// RequestID is the confirmation request answered. Empty answers every
	// pending request.
	RequestID string

	Payload any
}

// ExtractApproval finds an approval in msg. Two forms are accepted:
//
//   - a data part {"type": "tool_approval", "decision": "approve"|"deny",
//     "tool_call_id": "...", "payload": ...}
//   - a single text part "approve", "approved", "deny", "denied" or "reject"
func ExtractApproval(msg *a2a.Message) *Approval {
	if msg == nil {
		return nil
	}
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.DataPart:
			if t, _ := p.Data["type"].(string); t != "tool_approval" {
				continue
			}
			decision, _ := p.Data["decision"].(string)
			confirmed, ok := parseDecision(decision)
			if !ok {
				continue
			}
			id, _ := p.Data["tool_call_id"].(string)
			return &Approval{Confirmed: confirmed, RequestID: id, Payload: p.Data["payload"]}
		case a2a.TextPart:
			if len(msg.Parts) != 1 {
				continue
			}
			if confirmed, ok := parseDecision(p.Text); ok {
				return &Approval{Confirmed: confirmed}
			}
		}
	}
	return nil
}

func parseDecision(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "yes":
		return true, true
	case "deny", "denied", "reject", "rejected", "no":
		return false, true
	}
	return false, false
}

// ConfirmationContent turns an approval into confirmation responses, one
// per answered request id among pending.
func ConfirmationContent(a *Approval, pending []string) *genai.Content {
	ids := pending
	if a.RequestID != "" {
		ids = []string{a.RequestID}
	}
	content := &genai.Content{Role: genai.RoleUser}
	for _, id := range ids {
		tc := toolconfirmation.ToolConfirmation{Confirmed: a.Confirmed, Payload: a.Payload}
		content.Parts = append(content.Parts, &genai.Part{FunctionResponse: toolconfirmation.NewResponse(id, tc)})
	}
	return content
}

func marshalText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
