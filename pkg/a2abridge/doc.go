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

// Package a2abridge exposes a runner over the A2A protocol.
//
// Agent events become artifact updates of the A2A task; function calls and
// responses travel as data parts tagged with MetaKeyType. A paused
// invocation ends the task in the input-required state, listing the calls
// waiting for an answer. The client answers a tool confirmation either
// with a function_response data part addressed to the request, or with a
// tool_approval data part or a plain "approve" / "deny" text, which the
// executor turns into confirmation responses.
//
//	exec, _ := a2abridge.NewExecutor(r, sessions)
//	handler := a2asrv.NewHandler(exec)
//	http.Handle("/a2a", a2asrv.NewJSONRPCHandler(handler))
package a2abridge
