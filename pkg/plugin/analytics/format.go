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

package analytics

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/model"
)

const truncatedSuffix = "...[TRUNCATED]"

// truncate caps s at max bytes, cutting on a rune boundary.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedSuffix
}

// formatContent renders content parts as "text: 'hi' | function_call: f".
func formatContent(c *genai.Content) string {
	if c == nil {
		return "None"
	}
	var parts []string
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			parts = append(parts, "function_call: "+p.FunctionCall.Name)
		case p.FunctionResponse != nil:
			parts = append(parts, "function_response: "+p.FunctionResponse.Name)
		case p.InlineData != nil:
			parts = append(parts, "inline_data: "+p.InlineData.MIMEType)
		case p.Text != "":
			parts = append(parts, fmt.Sprintf("text: '%s'", p.Text))
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, " | ")
}

// partsJSON renders content parts as a JSON list of single-key objects.
func partsJSON(c *genai.Content) string {
	var out []map[string]any
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			out = append(out, map[string]any{"function_call": map[string]any{
				"id": p.FunctionCall.ID, "name": p.FunctionCall.Name, "args": p.FunctionCall.Args,
			}})
		case p.FunctionResponse != nil:
			out = append(out, map[string]any{"function_response": map[string]any{
				"id": p.FunctionResponse.ID, "name": p.FunctionResponse.Name, "response": p.FunctionResponse.Response,
			}})
		case p.Text != "":
			out = append(out, map[string]any{"text": p.Text})
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(data)
}

func formatArgs(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}

func formatRequest(req *model.Request) string {
	var sections []string
	sections = append(sections, "Model: "+valueOr(req.Model, "default"))

	var prompt []string
	for _, c := range req.Contents {
		if c != nil {
			prompt = append(prompt, c.Role+": "+formatContent(c))
		}
	}
	sections = append(sections, "Prompt: "+strings.Join(prompt, " | "))
	sections = append(sections, "System Prompt: "+valueOr(req.SystemInstructionText(), "Empty"))

	if params := formatParams(req.Config); params != "" {
		sections = append(sections, "Params: {"+params+"}")
	}

	if len(req.Tools) > 0 {
		names := make([]string, 0, len(req.Tools))
		for name := range req.Tools {
			names = append(names, name)
		}
		slices.Sort(names)
		sections = append(sections, "Available Tools: ["+strings.Join(names, ", ")+"]")
	}
	return strings.Join(sections, " | ")
}

func formatParams(cfg *genai.GenerateContentConfig) string {
	if cfg == nil {
		return ""
	}
	var params []string
	if cfg.Temperature != nil {
		params = append(params, fmt.Sprintf("temperature=%g", *cfg.Temperature))
	}
	if cfg.TopP != nil {
		params = append(params, fmt.Sprintf("top_p=%g", *cfg.TopP))
	}
	if cfg.TopK != nil {
		params = append(params, fmt.Sprintf("top_k=%g", *cfg.TopK))
	}
	if cfg.MaxOutputTokens > 0 {
		params = append(params, fmt.Sprintf("max_output_tokens=%d", cfg.MaxOutputTokens))
	}
	return strings.Join(params, ", ")
}

func formatResponse(resp *model.Response) string {
	var sections []string
	if resp.Content != nil {
		for _, p := range resp.Content.Parts {
			switch {
			case p == nil:
			case p.FunctionCall != nil:
				sections = append(sections, "Tool Name: "+p.FunctionCall.Name)
			case p.Text != "":
				sections = append(sections, fmt.Sprintf("Tool Name: text_response, text: '%s'", p.Text))
			}
		}
	}
	if len(sections) == 0 {
		sections = append(sections, "Tool Name: none")
	}
	if u := resp.UsageMetadata; u != nil {
		candidates := "N/A"
		if u.CandidatesTokenCount > 0 {
			candidates = fmt.Sprint(u.CandidatesTokenCount)
		}
		sections = append(sections, fmt.Sprintf("Token Usage: {prompt: %d, candidates: %s, total: %d}",
			u.PromptTokenCount, candidates, u.TotalTokenCount))
	}
	return strings.Join(sections, " | ")
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
