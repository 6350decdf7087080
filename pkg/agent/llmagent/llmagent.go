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

// Package llmagent provides an LLM-based agent implementation.
//
// LLM agents use language models to generate responses and can invoke tools
// to perform actions. They support:
//   - Instruction templates resolved from session state
//   - Tool calling, including tools that ask a human for confirmation
//   - Pausing and resuming on long-running calls in resumable apps
//   - Sub-agent transfer
//   - Callbacks and plugin hooks around model and tool calls
//
// # Usage
//
//	agent, err := llmagent.New(llmagent.Config{
//	    Name:        "assistant",
//	    Model:       myModel,
//	    Instruction: "You are a helpful assistant.",
//	    Tools:       []tool.Tool{searchTool, calculatorTool},
//	})
package llmagent

import (
	"fmt"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/agent"
	"github.com/kadirpekel/agentkit/pkg/instruction"
	"github.com/kadirpekel/agentkit/pkg/model"
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/controltool"
)

// Config contains the configuration for an LLM agent.
type Config struct {
	// Name must be unique within the agent tree.
	Name string

	// Description helps LLMs decide when to delegate to this agent.
	Description string

	// Model is the LLM to use for generation.
	Model model.LLM

	// Instruction guides the agent's behavior.
	// Supports template placeholders like {variable} resolved from state.
	Instruction string

	// InstructionProvider allows dynamic instruction generation.
	// Takes precedence over Instruction if set.
	InstructionProvider InstructionProvider

	// EnableStreaming requests partial responses from the model. Streaming
	// is also enabled by RunConfig.StreamingMode.
	EnableStreaming bool

	// GenerateConfig contains LLM generation settings. It is copied for
	// every request.
	GenerateConfig *genai.GenerateContentConfig

	// Tools available to the agent.
	Tools []tool.Tool

	// Toolsets provide dynamic tool resolution.
	Toolsets []tool.Toolset

	// SubAgents can receive transferred control. A transfer_to_<name>
	// tool is declared for each of them.
	SubAgents []agent.Agent

	// DisallowTransfer hides the transfer tools.
	DisallowTransfer bool

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
	BeforeModelCallbacks []BeforeModelCallback
	AfterModelCallbacks  []AfterModelCallback
	BeforeToolCallbacks  []BeforeToolCallback
	AfterToolCallbacks   []AfterToolCallback

	// IncludeContents controls conversation history inclusion.
	IncludeContents IncludeContents

	// OutputKey saves the agent's final text to session state under this
	// key.
	OutputKey string

	// Reasoning configures the model/tool loop.
	// When nil, defaults are applied (100 max iterations).
	Reasoning *ReasoningConfig
}

// ReasoningConfig configures the model/tool loop.
type ReasoningConfig struct {
	// MaxIterations is a safety limit. The loop normally ends on a final
	// response. Default: 100.
	MaxIterations int

	// EnableExitTool adds the exit_loop tool for explicit termination.
	EnableExitTool bool

	// EnableEscalateTool adds the escalate tool for parent delegation.
	EnableEscalateTool bool

	// CompletionInstruction replaces the generated guidelines for the
	// control tools.
	CompletionInstruction string
}

// InstructionProvider generates instructions dynamically.
type InstructionProvider func(ctx agent.ReadonlyContext) (string, error)

// BeforeModelCallback runs before an LLM call.
// Return non-nil Response to skip the actual LLM call.
type BeforeModelCallback func(ctx agent.CallbackContext, req *model.Request) (*model.Response, error)

// AfterModelCallback runs after an LLM call. err is the model error, if
// any. Return non-nil Response to replace the LLM response.
type AfterModelCallback func(ctx agent.CallbackContext, resp *model.Response, err error) (*model.Response, error)

// BeforeToolCallback runs before tool execution.
// Return non-nil result to skip actual tool execution.
type BeforeToolCallback func(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error)

// AfterToolCallback runs after tool execution.
// Return non-nil result to replace the tool result.
type AfterToolCallback func(ctx tool.Context, t tool.Tool, args, result map[string]any, err error) (map[string]any, error)

// IncludeContents controls conversation history handling.
type IncludeContents string

const (
	// IncludeContentsDefault includes the branch-visible history.
	IncludeContentsDefault IncludeContents = "default"

	// IncludeContentsNone only uses the current turn.
	IncludeContentsNone IncludeContents = "none"
)

// llmAgent implements agent.Agent with LLM capabilities.
type llmAgent struct {
	agent.Agent

	model               model.LLM
	instruction         string
	instructionProvider InstructionProvider
	enableStreaming     bool
	generateConfig      *genai.GenerateContentConfig
	tools               []tool.Tool
	toolsets            []tool.Toolset
	disallowTransfer    bool

	beforeModelCallbacks []BeforeModelCallback
	afterModelCallbacks  []AfterModelCallback
	beforeToolCallbacks  []BeforeToolCallback
	afterToolCallbacks   []AfterToolCallback

	includeContents IncludeContents
	outputKey       string
	reasoning       ReasoningConfig
}

// New creates a new LLM-based agent.
func New(cfg Config) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent %q: model is required", cfg.Name)
	}

	reasoning := ReasoningConfig{}
	if cfg.Reasoning != nil {
		reasoning = *cfg.Reasoning
	}
	if reasoning.MaxIterations <= 0 {
		reasoning.MaxIterations = 100
	}

	a := &llmAgent{
		model:                cfg.Model,
		instruction:          cfg.Instruction,
		instructionProvider:  cfg.InstructionProvider,
		enableStreaming:      cfg.EnableStreaming,
		generateConfig:       cfg.GenerateConfig,
		tools:                cfg.Tools,
		toolsets:             cfg.Toolsets,
		disallowTransfer:     cfg.DisallowTransfer,
		beforeModelCallbacks: cfg.BeforeModelCallbacks,
		afterModelCallbacks:  cfg.AfterModelCallbacks,
		beforeToolCallbacks:  cfg.BeforeToolCallbacks,
		afterToolCallbacks:   cfg.AfterToolCallbacks,
		includeContents:      cfg.IncludeContents,
		outputKey:            cfg.OutputKey,
		reasoning:            reasoning,
	}

	base, err := agent.New(agent.Config{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		Run:                  a.run,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
	})
	if err != nil {
		return nil, err
	}
	a.Agent = base
	return a, nil
}

// AllowsTransfer reports whether a later turn may be handed to this agent
// directly instead of starting again at the root.
func (a *llmAgent) AllowsTransfer() bool { return !a.disallowTransfer }

func (a *llmAgent) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return newFlow(a).Run(ctx)
}

// instructions resolves the system instruction for one request.
func (a *llmAgent) instructions(ctx agent.ReadonlyContext) ([]string, error) {
	var out []string

	text := a.instruction
	if a.instructionProvider != nil {
		s, err := a.instructionProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("instruction provider: %w", err)
		}
		text = s
	}
	text, err := instruction.InjectState(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("resolve instruction of agent %q: %w", a.Name(), err)
	}
	out = append(out, text)

	if s := a.transferInstruction(); s != "" {
		out = append(out, s)
	}
	if s := a.completionInstruction(); s != "" {
		out = append(out, s)
	}
	return out, nil
}

func (a *llmAgent) transferInstruction() string {
	if a.disallowTransfer || len(a.SubAgents()) == 0 {
		return ""
	}
	s := "## Delegation\nYou can hand the conversation to one of these agents by calling its transfer tool:"
	for _, sub := range a.SubAgents() {
		s += fmt.Sprintf("\n- `%s`: %s", controltool.TransferToolName(sub.Name()), sub.Description())
	}
	return s
}

// completionInstruction generates guidelines for the control tools.
func (a *llmAgent) completionInstruction() string {
	if a.reasoning.CompletionInstruction != "" {
		return a.reasoning.CompletionInstruction
	}
	var s string
	if a.reasoning.EnableExitTool {
		s += "\n- Call `exit_loop` when your task is complete and you have a final answer"
	}
	if a.reasoning.EnableEscalateTool {
		s += "\n- Call `escalate` if you need help, are stuck, or the task is outside your capabilities"
	}
	if s == "" {
		return ""
	}
	return "## Completion Guidelines" + s
}

// controlTools returns the tools derived from the reasoning config and the
// sub-agents.
func (a *llmAgent) controlTools() []tool.Tool {
	var tools []tool.Tool
	if a.reasoning.EnableExitTool {
		tools = append(tools, controltool.ExitLoop())
	}
	if a.reasoning.EnableEscalateTool {
		tools = append(tools, controltool.Escalate())
	}
	if !a.disallowTransfer {
		for _, sub := range a.SubAgents() {
			tools = append(tools, controltool.TransferTo(sub.Name(), sub.Description()))
		}
	}
	return tools
}

// resolveTools indexes every tool available for one step. Toolsets that
// fail are skipped; duplicate names are an error.
func (a *llmAgent) resolveTools(ctx agent.ReadonlyContext) (map[string]tool.Tool, []tool.Tool, error) {
	all := append(a.controlTools(), a.tools...)
	for _, ts := range a.toolsets {
		tools, err := ts.Tools(ctx)
		if err != nil {
			slog.Warn("Toolset failed to provide tools",
				"toolset", ts.Name(),
				"agent", a.Name(),
				"error", err)
			continue
		}
		all = append(all, tools...)
	}

	byName := make(map[string]tool.Tool, len(all))
	for _, t := range all {
		if _, dup := byName[t.Name()]; dup {
			return nil, nil, fmt.Errorf("agent %q: duplicate tool %q", a.Name(), t.Name())
		}
		byName[t.Name()] = t
	}
	return byName, all, nil
}
