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

// Package gemini implements the model.LLM interface for Google Gemini models
// on top of the official google.golang.org/genai SDK.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/model"
)

// Config contains configuration for the Gemini model.
type Config struct {
	// APIKey is the Google AI API key.
	APIKey string

	// Model is the model name (e.g., "gemini-2.0-flash").
	Model string

	MaxTokens   int
	Temperature float64
}

type geminiModel struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a new Gemini model instance.
func New(ctx context.Context, cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiModel{client: client, name: cfg.Model, config: cfg}, nil
}

func (m *geminiModel) Name() string {
	return m.name
}

func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	name := m.name
	if req.Model != "" {
		name = req.Model
	}
	config := m.buildConfig(req.Config)

	if stream {
		return func(yield func(*model.Response, error) bool) {
			agg := model.NewStreamingAggregator()
			for genResp, err := range m.client.Models.GenerateContentStream(ctx, name, req.Contents, config) {
				if err != nil {
					yield(nil, fmt.Errorf("gemini streaming error: %w", err))
					return
				}
				if partial := agg.Add(convertResponse(genResp)); partial != nil {
					if !yield(partial, nil) {
						return
					}
				}
			}
			if final := agg.Close(); final != nil {
				yield(final, nil)
			}
		}
	}

	return func(yield func(*model.Response, error) bool) {
		genResp, err := m.client.Models.GenerateContent(ctx, name, req.Contents, config)
		if err != nil {
			yield(nil, fmt.Errorf("gemini generation failed: %w", err))
			return
		}
		resp := convertResponse(genResp)
		if resp.Content == nil && resp.ErrorCode == "" {
			yield(nil, fmt.Errorf("empty response from Gemini"))
			return
		}
		yield(resp, nil)
	}
}

// buildConfig applies model defaults on a copy of the request config.
func (m *geminiModel) buildConfig(cfg *genai.GenerateContentConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{}
	if cfg != nil {
		c := *cfg
		out = &c
	}
	if out.Temperature == nil && m.config.Temperature > 0 {
		out.Temperature = genai.Ptr(float32(m.config.Temperature))
	}
	if out.MaxOutputTokens == 0 && m.config.MaxTokens > 0 {
		out.MaxOutputTokens = int32(m.config.MaxTokens)
	}
	return out
}

func convertResponse(genResp *genai.GenerateContentResponse) *model.Response {
	resp := &model.Response{TurnComplete: true}
	if genResp == nil {
		return resp
	}
	resp.UsageMetadata = genResp.UsageMetadata
	if len(genResp.Candidates) == 0 {
		if genResp.PromptFeedback != nil && genResp.PromptFeedback.BlockReason != "" {
			resp.ErrorCode = string(genResp.PromptFeedback.BlockReason)
			resp.ErrorMessage = genResp.PromptFeedback.BlockReasonMessage
		}
		return resp
	}
	candidate := genResp.Candidates[0]
	resp.FinishReason = candidate.FinishReason
	if candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonStop {
		resp.ErrorCode = string(candidate.FinishReason)
		resp.ErrorMessage = candidate.FinishMessage
	}
	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p != nil && p.FunctionCall != nil && p.FunctionCall.ID == "" {
				p.FunctionCall.ID = stableFunctionCallID(p.FunctionCall)
			}
		}
		resp.Content = candidate.Content
		if resp.Content.Role == "" {
			resp.Content.Role = genai.RoleModel
		}
		if resp.ErrorCode == string(genai.FinishReasonMaxTokens) {
			resp.ErrorCode, resp.ErrorMessage = "", ""
		}
	}
	return resp
}

// stableFunctionCallID derives an id from name and args so the same call
// repeated across streaming chunks keeps its id.
func stableFunctionCallID(fc *genai.FunctionCall) string {
	data, _ := json.Marshal(map[string]any{"name": fc.Name, "args": fc.Args})
	hash := sha256.Sum256(data)
	return fmt.Sprintf("adk-%x", hash[:16])
}

var _ model.LLM = (*geminiModel)(nil)
