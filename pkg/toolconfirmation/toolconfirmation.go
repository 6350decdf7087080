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


// Package toolconfirmation defines the human-in-the-loop confirmation
// protocol shared by tools, agents and the runner.
//
// A tool that needs approval causes the agent to emit a synthetic function
// call named FunctionCallName. Its arguments carry the original call and a
// ToolConfirmation describing what is being approved:
//
//	{
//	    "originalFunctionCall": {"name": "...", "id": "...", "args": {...}},
//	    "toolConfirmation":     {"hint": "...", "confirmed": false, "payload": ...}
//	}
//
// The client answers with a function response of the same name and id whose
// response is {"confirmed": bool, "payload": ...}.
package toolconfirmation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// FunctionCallName is the reserved name of confirmation request calls.
const FunctionCallName = "adk_request_confirmation"

const (
	argOriginalCall = "originalFunctionCall"
	argConfirmation = "toolConfirmation"
)

// ErrMissingFunctionCallID is returned when a confirmation is requested for a
// call that carries no id. Such a request can never be answered.
var ErrMissingFunctionCallID = errors.New("function call id is required to request tool confirmation")

// ToolConfirmation is the approval record exchanged with the client.
type ToolConfirmation struct {
	// Hint is shown to the human deciding.
	Hint string `json:"hint"`

	// Confirmed reports whether the call was approved.
	Confirmed bool `json:"confirmed"`

	// Payload carries optional structured data supplied with the decision.
	Payload any `json:"payload,omitempty"`
}

// ToMap renders the confirmation in its wire shape.
func (tc ToolConfirmation) ToMap() map[string]any {
	m := map[string]any{
		"hint":      tc.Hint,
		"confirmed": tc.Confirmed,
	}
	if tc.Payload != nil {
		m["payload"] = tc.Payload
	}
	return m
}

// DefaultHint is the hint used when a tool requires confirmation without
// providing one.
func DefaultHint(toolName string) string {
	return fmt.Sprintf("Please approve or reject the tool call %s() by responding with a FunctionResponse with an expected ToolConfirmation payload.", toolName)
}

// PendingResponse is returned to the model for a call awaiting a decision.
func PendingResponse() map[string]any {
	return map[string]any{"error": "This tool call requires confirmation, please approve or reject."}
}

// RejectedResponse is returned to the model for a rejected call.
func RejectedResponse() map[string]any {
	return map[string]any{"error": "This tool call is rejected."}
}

// NewRequestCall builds the synthetic confirmation call for original.
// The returned call has a fresh unique id.
func NewRequestCall(original *genai.FunctionCall, tc ToolConfirmation) (*genai.FunctionCall, error) {
	if original == nil || original.ID == "" {
		return nil, ErrMissingFunctionCallID
	}
	args := original.Args
	if args == nil {
		args = map[string]any{}
	}
	return &genai.FunctionCall{
		ID:   "adk-" + uuid.NewString(),
		Name: FunctionCallName,
		Args: map[string]any{
			argOriginalCall: map[string]any{
				"name": original.Name,
				"id":   original.ID,
				"args": args,
			},
			argConfirmation: tc.ToMap(),
		},
	}, nil
}

type wireCall struct {
	Name string         `json:"name"`
	ID   string         `json:"id"`
	Args map[string]any `json:"args"`
}

// OriginalCall extracts the call a confirmation request was issued for.
func OriginalCall(request *genai.FunctionCall) (*genai.FunctionCall, error) {
	if request == nil || request.Name != FunctionCallName {
		return nil, fmt.Errorf("not a %s call", FunctionCallName)
	}
	raw, ok := request.Args[argOriginalCall]
	if !ok {
		return nil, fmt.Errorf("%s call has no %s", FunctionCallName, argOriginalCall)
	}
	var wc wireCall
	if err := remarshal(raw, &wc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", argOriginalCall, err)
	}
	if wc.ID == "" {
		return nil, ErrMissingFunctionCallID
	}
	return &genai.FunctionCall{ID: wc.ID, Name: wc.Name, Args: wc.Args}, nil
}

// RequestedConfirmation extracts the ToolConfirmation carried by a request call.
func RequestedConfirmation(request *genai.FunctionCall) (ToolConfirmation, error) {
	var tc ToolConfirmation
	if request == nil {
		return tc, fmt.Errorf("nil function call")
	}
	raw, ok := request.Args[argConfirmation]
	if !ok {
		return tc, fmt.Errorf("%s call has no %s", FunctionCallName, argConfirmation)
	}
	if err := remarshal(raw, &tc); err != nil {
		return tc, fmt.Errorf("decode %s: %w", argConfirmation, err)
	}
	return tc, nil
}

// ParseResponse decodes the client's decision. Both the direct form
// {"confirmed": ..., "payload": ...} and the wrapped form
// {"response": "<json>"} are accepted.
func ParseResponse(resp *genai.FunctionResponse) (ToolConfirmation, error) {
	var tc ToolConfirmation
	if resp == nil {
		return tc, fmt.Errorf("nil function response")
	}
	if wrapped, ok := resp.Response["response"].(string); ok && len(resp.Response) == 1 {
		if err := json.Unmarshal([]byte(wrapped), &tc); err != nil {
			return tc, fmt.Errorf("decode wrapped confirmation: %w", err)
		}
		return tc, nil
	}
	if err := remarshal(resp.Response, &tc); err != nil {
		return tc, fmt.Errorf("decode confirmation: %w", err)
	}
	return tc, nil
}

// NewResponse builds the client-side answer to a confirmation request.
func NewResponse(requestID string, tc ToolConfirmation) *genai.FunctionResponse {
	resp := map[string]any{"confirmed": tc.Confirmed}
	if tc.Payload != nil {
		resp["payload"] = tc.Payload
	}
	return &genai.FunctionResponse{ID: requestID, Name: FunctionCallName, Response: resp}
}

// IsRequest reports whether call is a confirmation request.
func IsRequest(call *genai.FunctionCall) bool {
	return call != nil && call.Name == FunctionCallName
}

// IsResponse reports whether resp answers a confirmation request.
func IsResponse(resp *genai.FunctionResponse) bool {
	return resp != nil && resp.Name == FunctionCallName
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
