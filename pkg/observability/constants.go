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

package observability

// Span attribute keys.
const (
	AttrAppName        = "agentkit.app"
	AttrUserID         = "agentkit.user_id"
	AttrSessionID      = "agentkit.session_id"
	AttrInvocationID   = "agentkit.invocation_id"
	AttrAgentName      = "agentkit.agent"
	AttrBranch         = "agentkit.branch"
	AttrToolName       = "agentkit.tool"
	AttrFunctionCallID = "agentkit.function_call_id"
	AttrToolArgs       = "agentkit.tool.args"
	AttrToolResult     = "agentkit.tool.result"
	AttrLLMModel       = "llm.model"
	AttrTokensInput    = "llm.tokens.input"
	AttrTokensOutput   = "llm.tokens.output"
	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"
)

// Span names.
const (
	SpanInvocation    = "agentkit.invocation"
	SpanAgentRun      = "agentkit.agent_run"
	SpanLLMCall       = "agentkit.llm_call"
	SpanToolExecution = "agentkit.tool_execution"
	SpanHTTPRequest   = "http.request"
)

const (
	DefaultServiceName    = "agentkit"
	DefaultOTLPEndpoint   = "localhost:4317"
	DefaultMetricsAddress = ":9464"
	DefaultMetricsPath    = "/metrics"

	instrumentationName = "github.com/kadirpekel/agentkit"
)
