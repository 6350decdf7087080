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

// Package workflowagent provides agents that orchestrate other agents
// without a model of their own.
//
// # SequentialAgent
//
// Runs sub-agents once, in order, on the parent's branch.
//
// # ParallelAgent
//
// Runs sub-agents concurrently, each on its own "<parent>.<child>" branch.
// Branches do not see each other's events.
//
// # LoopAgent
//
// Runs sub-agents in order for N iterations or until one escalates.
//
// # Resumability
//
// In resumable apps each workflow agent records its progress in state
// events (Event.Actions.AgentState) and marks completion with an
// end-of-agent event. A sub-agent that pauses on a long-running call
// suspends its parent; when the invocation is resumed, completed sub-agents
// are skipped, paused branches that were not answered stay paused, and a
// workflow agent completes once all of its sub-agents did.
package workflowagent
