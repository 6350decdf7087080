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

// Package controltool provides control flow tools for agent trees.
//
// These tools let a model steer execution through EventActions flags:
//   - exit_loop: stop the enclosing loop agent
//   - escalate: hand the problem to a parent agent
//   - transfer_to_<agent>: run another agent next
package controltool

import (
	"github.com/kadirpekel/agentkit/pkg/tool"
	"github.com/kadirpekel/agentkit/pkg/tool/functiontool"
)

type exitLoopArgs struct{}

// ExitLoop creates a tool that stops the enclosing loop agent. The call sets
// Escalate, which loop agents treat as termination, and SkipSummarization.
//
// Usage in instruction:
//
//	Call `exit_loop` when your task is complete and you have a final answer.
func ExitLoop() tool.CallableTool {
	return mustNew(functiontool.New(
		functiontool.Config{
			Name:        "exit_loop",
			Description: "Exits the loop. Call this when your task is complete and you have a final answer to provide.",
		},
		func(ctx tool.Context, _ exitLoopArgs) (map[string]any, error) {
			ctx.Actions().Escalate = true
			ctx.Actions().SkipSummarization = true
			return map[string]any{
				"status":  "completed",
				"message": "Task marked as complete. Exiting loop.",
			}, nil
		},
	))
}

type escalateArgs struct {
	Reason string `json:"reason" jsonschema:"required,description=Why you are escalating (what help you need or what you're stuck on)"`
}

// Escalate creates a tool that escalates to a parent agent.
//
// Usage in instruction:
//
//	Call `escalate` if you need help, are stuck, or the task is outside your capabilities.
func Escalate() tool.CallableTool {
	return mustNew(functiontool.New(
		functiontool.Config{
			Name:        "escalate",
			Description: "Escalates to a higher-level agent. Call this when you need help, are stuck, or the task is outside your capabilities.",
		},
		func(ctx tool.Context, args escalateArgs) (map[string]any, error) {
			reason := args.Reason
			if reason == "" {
				reason = "No reason provided"
			}
			ctx.Actions().Escalate = true
			ctx.Actions().SkipSummarization = true
			return map[string]any{
				"status":    "escalated",
				"reason":    reason,
				"message":   "Escalating to parent agent.",
				"escalated": true,
			}, nil
		},
	))
}

type transferArgs struct {
	Request string `json:"request" jsonschema:"required,description=What you want the agent to do"`
}

// TransferTo creates a tool that transfers control to agentName. The LLM
// agent runs the named sub-agent after the tool responds.
func TransferTo(agentName, description string) tool.CallableTool {
	if description == "" {
		description = "Transfers control to the " + agentName + " agent."
	}
	return mustNew(functiontool.New(
		functiontool.Config{
			Name:        TransferToolName(agentName),
			Description: description,
		},
		func(ctx tool.Context, args transferArgs) (map[string]any, error) {
			ctx.Actions().TransferToAgent = agentName
			ctx.Actions().SkipSummarization = true
			return map[string]any{
				"status":         "transferred",
				"transferred_to": agentName,
				"request":        args.Request,
				"message":        "Transferring to " + agentName + " agent.",
			}, nil
		},
	))
}

// TransferToolName returns the name of the transfer tool for agentName.
func TransferToolName(agentName string) string {
	return "transfer_to_" + agentName
}

// the argument types above are static; schema generation cannot fail.
func mustNew(t tool.CallableTool, err error) tool.CallableTool {
	if err != nil {
		panic(err)
	}
	return t
}
