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
	"context"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentkit/pkg/agent"
)

// ParallelConfig defines the configuration for a ParallelAgent.
type ParallelConfig struct {
	// Name is the agent name.
	Name string

	// Description describes what the agent does.
	Description string

	// SubAgents are the agents to run in parallel.
	SubAgents []agent.Agent

	BeforeAgentCallbacks []agent.BeforeAgentCallback
	AfterAgentCallbacks  []agent.AfterAgentCallback
}

// NewParallel creates a ParallelAgent.
//
// ParallelAgent runs its sub-agents in parallel in an isolated manner.
// All sub-agents receive the same input and run simultaneously, each on the
// branch "<parent>.<child>".
//
// Events are yielded one at a time; a sub-agent waits until its event has
// been consumed before it continues, so history written by the consumer is
// visible to the sub-agent's next step.
//
// Example:
//
//	voter1, _ := llmagent.New(llmagent.Config{Name: "voter1", ...})
//	voter2, _ := llmagent.New(llmagent.Config{Name: "voter2", ...})
//
//	voters, _ := workflowagent.NewParallel(workflowagent.ParallelConfig{
//	    Name:      "voters",
//	    SubAgents: []agent.Agent{voter1, voter2},
//	})
func NewParallel(cfg ParallelConfig) (agent.Agent, error) {
	return agent.New(agent.Config{
		Name:                 cfg.Name,
		Description:          cfg.Description,
		SubAgents:            cfg.SubAgents,
		BeforeAgentCallbacks: cfg.BeforeAgentCallbacks,
		Run:                  runParallel,
		AfterAgentCallbacks:  cfg.AfterAgentCallbacks,
	})
}

// result holds an event or error from a sub-agent. The sub-agent blocks
// until ack is closed.
type result struct {
	event *agent.Event
	err   error
	ack   chan struct{}
}

func runParallel(ctx agent.InvocationContext) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		if ctx.Resumable() {
			if ctx.Resume().AgentState(ctx.AgentName()) == nil {
				ev, err := agent.NewAgentStateEvent(ctx, struct{}{})
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(ev, nil) {
					return
				}
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		var (
			errGroup, errGroupCtx = errgroup.WithContext(runCtx)
			results               = make(chan result)
		)

		curAgent := ctx.Agent()
		for _, subAgent := range curAgent.SubAgents() {
			subCtx := agent.ForAgentWithContext(errGroupCtx, ctx, subAgent, agent.ChildBranch(ctx, subAgent.Name()))
			errGroup.Go(func() error {
				if err := runSubAgent(subCtx, subAgent, results); err != nil {
					return fmt.Errorf("failed to run sub-agent %q: %w", subAgent.Name(), err)
				}
				return nil
			})
		}

		// Close results channel when all goroutines complete
		go func() {
			_ = errGroup.Wait()
			close(results)
		}()
		defer func() {
			cancel()
			for range results {
			}
		}()

		for res := range results {
			if res.err != nil {
				yield(nil, res.err)
				return
			}
			if !yield(res.event, nil) {
				return
			}
			close(res.ack)
		}

		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		if !ctx.Resumable() {
			return
		}
		for _, sub := range curAgent.SubAgents() {
			if !ctx.Resume().Ended(sub.Name()) {
				// at least one branch is paused
				return
			}
		}
		yield(agent.NewEndOfAgentEvent(ctx), nil)
	}
}

func runSubAgent(ctx agent.InvocationContext, ag agent.Agent, results chan<- result) error {
	for event, err := range ag.Run(ctx) {
		res := result{event: event, err: err, ack: make(chan struct{})}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case results <- res:
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-res.ack:
		}
	}
	return nil
}
