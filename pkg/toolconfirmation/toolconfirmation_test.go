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


package toolconfirmation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewRequestCall(t *testing.T) {
	original := &genai.FunctionCall{ID: "call-1", Name: "delete_file"}
	req, err := NewRequestCall(original, ToolConfirmation{Hint: "sure?", Payload: map[string]any{"n": 1}})
	require.NoError(t, err)

	assert.Equal(t, FunctionCallName, req.Name)
	assert.True(t, strings.HasPrefix(req.ID, "adk-"))
	assert.Equal(t, map[string]any{
		"originalFunctionCall": map[string]any{
			"name": "delete_file",
			"id":   "call-1",
			"args": map[string]any{},
		},
		"toolConfirmation": map[string]any{
			"hint":      "sure?",
			"confirmed": false,
			"payload":   map[string]any{"n": 1},
		},
	}, req.Args)

	other, err := NewRequestCall(original, ToolConfirmation{})
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, other.ID)
	_, hasPayload := other.Args["toolConfirmation"].(map[string]any)["payload"]
	assert.False(t, hasPayload)
}

func TestNewRequestCall_MissingID(t *testing.T) {
	_, err := NewRequestCall(&genai.FunctionCall{Name: "x"}, ToolConfirmation{})
	assert.True(t, errors.Is(err, ErrMissingFunctionCallID))
}

func TestOriginalCall(t *testing.T) {
	original := &genai.FunctionCall{ID: "call-1", Name: "sum", Args: map[string]any{"a": 1.0}}
	req, err := NewRequestCall(original, ToolConfirmation{Hint: "h"})
	require.NoError(t, err)

	got, err := OriginalCall(req)
	require.NoError(t, err)
	assert.Equal(t, original, got)

	tc, err := RequestedConfirmation(req)
	require.NoError(t, err)
	assert.Equal(t, "h", tc.Hint)
	assert.False(t, tc.Confirmed)

	broken := &genai.FunctionCall{Name: FunctionCallName, Args: map[string]any{
		"originalFunctionCall": map[string]any{"name": "sum"},
	}}
	_, err = OriginalCall(broken)
	assert.ErrorIs(t, err, ErrMissingFunctionCallID)

	_, err = OriginalCall(&genai.FunctionCall{Name: "sum"})
	assert.Error(t, err)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		want     ToolConfirmation
		wantErr  bool
	}{
		{
			name:     "direct",
			response: map[string]any{"confirmed": true},
			want:     ToolConfirmation{Confirmed: true},
		},
		{
			name:     "direct with payload",
			response: map[string]any{"confirmed": true, "payload": map[string]any{"k": "v"}},
			want:     ToolConfirmation{Confirmed: true, Payload: map[string]any{"k": "v"}},
		},
		{
			name:     "wrapped",
			response: map[string]any{"response": `{"confirmed": false}`},
			want:     ToolConfirmation{Confirmed: false},
		},
		{
			name:     "wrapped invalid",
			response: map[string]any{"response": `{not json`},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(&genai.FunctionResponse{Name: FunctionCallName, Response: tt.response})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse("adk-1", ToolConfirmation{Confirmed: true, Payload: "x"})
	assert.True(t, IsResponse(resp))
	assert.Equal(t, "adk-1", resp.ID)
	assert.Equal(t, map[string]any{"confirmed": true, "payload": "x"}, resp.Response)
}

func TestFixedResponses(t *testing.T) {
	assert.Equal(t, map[string]any{"error": "This tool call is rejected."}, RejectedResponse())
	assert.Equal(t, map[string]any{"error": "This tool call requires confirmation, please approve or reject."}, PendingResponse())
	assert.Equal(t,
		"Please approve or reject the tool call transfer() by responding with a FunctionResponse with an expected ToolConfirmation payload.",
		DefaultHint("transfer"))
}
