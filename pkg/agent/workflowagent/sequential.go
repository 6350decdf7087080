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

package workflowagent

import (
	"github.com/kadirpekel/agentkit/pkg/agent"
)

// SequentialConfig defines the configuration for a SequentialAgent.
type SequentialConfig struct {
	// Name is the agent name.
	Name string

	// Description describes what the agent does.
	Description string

	// SubAgents are the agents to run in sequence.
	SubAgents []agent.Agent

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
}

// NewSequential creates a SequentialAgent.
//
// SequentialAgent executes its sub-agents once, in the order they are listed,
// on its own branch. It is a LoopAgent with MaxIterations=1 whose resumable
// state only names the current sub-agent.
//
// A sub-agent that pauses pauses the sequence: later sub-agents start only
// after it completed on resume.
//
// Example:
//
//	stage1, _ := llmagent.New(llmagent.Config{Name: "stage1", ...})
//	stage2, _ := llmagent.New(llmagent.Config{Name: "stage2", ...})
//
//	pipeline, _ := workflowagent.NewSequential(workflowagent.SequentialConfig{
//	    Name:      "pipeline",
//	    SubAgents: []agent.Agent{stage1, stage2},
//	})
func NewSequential(cfg SequentialConfig) (agent.Agent, error) {
	return newLoop(LoopConfig{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		MaxIterations:        1,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
	}, true)
}
