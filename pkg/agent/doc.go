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

// Package agent defines the agent abstraction, the contexts agents run in
// and the events they emit.
//
// # Agents
//
// An Agent has a name, a description, sub-agents and a Run method that
// yields events:
//
//	type Agent interface {
//	    Name() string
//	    Description() string
//	    SubAgents() []Agent
//	    Run(InvocationContext) iter.Seq2[*Event, error]
//	}
//
// New builds an agent from a RunFunc plus optional before and after
// callbacks. The llmagent and workflowagent subpackages build on it.
//
// # Contexts
//
//   - InvocationContext: everything an agent needs during one invocation
//   - CallbackContext: state writes that land on the next event's delta
//   - ReadonlyContext: identity of the invocation, for tools and providers
//
// # Resumability
//
// In a resumable app an agent that issued a long-running call (a tool
// confirmation, a credential request) stops without an end-of-agent
// marker. ResumeState, rebuilt from the session with RebuildResumeState,
// tells each agent of a later run under the same invocation id whether it
// already finished and what state it checkpointed.
//
//	resume := agent.RebuildResumeState(sess.Events(), invocationID)
//	if resume.Ended("agent1") {
//	    // skip
//	}
package agent
