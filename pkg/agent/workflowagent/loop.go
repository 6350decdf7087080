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
	"fmt"
	"iter"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

// LoopConfig defines the configuration for a LoopAgent.
type LoopConfig struct {
	// Name is the agent name.
	Name string

	// Description describes what the agent does.
	Description string

	// SubAgents are the agents to run in each iteration.
	SubAgents []agent.Agent

	// MaxIterations is the maximum number of iterations.
	// If 0, runs indefinitely until any sub-agent escalates.
	MaxIterations uint

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
}

// loopState is the resumable state of a loop agent.
type loopState struct {
	CurrentSubAgent string `json:"current_sub_agent"`
	TimesLooped     uint   `json:"times_looped"`
}

// sequentialState is the resumable state of a sequential agent.
type sequentialState struct {
	CurrentSubAgent string `json:"current_sub_agent"`
}

// NewLoop creates a LoopAgent.
//
// LoopAgent repeatedly runs its sub-agents in sequence for a specified number
// of iterations or until a termination condition is met (escalate action).
//
// In resumable apps the loop records which sub-agent is running and how many
// iterations completed, so a paused loop continues at the paused sub-agent.
//
// Example:
//
//	reviewer, _ := llmagent.New(llmagent.Config{...})
//	improver, _ := llmagent.New(llmagent.Config{...})
//
//	refiner, _ := workflowagent.NewLoop(workflowagent.LoopConfig{
//	    Name:          "refiner",
//	    Description:   "Iteratively refines output",
//	    SubAgents:     []agent.Agent{reviewer, improver},
//	    MaxIterations: 3,
//	})
func NewLoop(cfg LoopConfig) (agent.Agent, error) {
	return newLoop(cfg, false)
}

func newLoop(cfg LoopConfig, sequential bool) (agent.Agent, error) {
	l := &loop{maxIterations: cfg.MaxIterations, sequential: sequential}
	return agent.New(agent.Config{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		Run:                  l.run,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
	})
}

type loop struct {
	maxIterations uint
	sequential    bool
}

func (l *loop) state(sub string, times uint) any {
	if l.sequential {
		return sequentialState{CurrentSubAgent: sub}
	}
	return loopState{CurrentSubAgent: sub, TimesLooped: times}
}

// resumePoint returns the sub-agent index and iteration to start from.
func (l *loop) resumePoint(ctx agent.InvocationContext) (int, uint, bool, error) {
	if !ctx.Resumable() {
		return 0, 0, false, nil
	}
	var st loopState
	ok, err := agent.LoadAgentState(ctx, &st)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	for i, sub := range ctx.Agent().SubAgents() {
		if sub.Name() == st.CurrentSubAgent {
			return i, st.TimesLooped, true, nil
		}
	}
	return 0, 0, false, fmt.Errorf("agent %q: saved state names unknown sub-agent %q", ctx.AgentName(), st.CurrentSubAgent)
}

func (l *loop) run(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		subAgents := ctx.Agent().SubAgents()
		if len(subAgents) == 0 {
			l.finish(ctx, yield)
			return
		}
		start, times, resumed, err := l.resumePoint(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if resumed && ctx.Session() != nil {
			ctx.Resume().RestoreSince(ctx.Session().Events(), ctx.InvocationID(), ctx.AgentName(), ctx.Branch(), subtree(subAgents[start]))
		}

		for l.maxIterations == 0 || times < l.maxIterations {
			for i := start; i < len(subAgents); i++ {
				sub := subAgents[i]
				if ctx.Resumable() && !(resumed && i == start) {
					ctx.Resume().Reset(subtree(sub)...)
					ev, err := agent.NewAgentStateEvent(ctx, l.state(sub.Name(), times))
					if err != nil {
						yield(nil, err)
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
				resumed = false

				escalated := false
				for ev, err := range sub.Run(agent.ForAgent(ctx, sub, ctx.Branch())) {
					if !yield(ev, err) || err != nil {
						return
					}
					if ev != nil && ev.Actions.Escalate {
						escalated = true
					}
				}
				if ctx.Ended() {
					return
				}
				if ctx.Resumable() && !ctx.Resume().Ended(sub.Name()) {
					// paused
					return
				}
				if escalated {
					l.finish(ctx, yield)
					return
				}
			}
			start = 0
			times++
		}
		l.finish(ctx, yield)
	}
}

func (l *loop) finish(ctx agent.InvocationContext, yield func(*agent.Event, error) bool) {
	if ctx.Resumable() {
		yield(agent.NewEndOfAgentEvent(ctx), nil)
	}
}

// subtree lists the names of a and its descendants.
func subtree(a agent.Agent) []string {
	var names []string
	for _, n := range agent.ListAgents(a) {
		names = append(names, n.Name())
	}
	return names
}
