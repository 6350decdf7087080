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

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records agent runtime measurements. The zero-value pointer is
// not usable; a disabled Metrics records into a no-op meter.
type Metrics struct {
	invocations      metric.Int64Counter
	invocationTime   metric.Float64Histogram
	agentRuns        metric.Int64Counter
	llmCalls         metric.Int64Counter
	llmErrors        metric.Int64Counter
	llmDuration      metric.Float64Histogram
	llmInputTokens   metric.Int64Counter
	llmOutputTokens  metric.Int64Counter
	toolCalls        metric.Int64Counter
	toolErrors       metric.Int64Counter
	toolDuration     metric.Float64Histogram
	confirmRequested metric.Int64Counter
	confirmAnswered  metric.Int64Counter
	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram

	handler  http.Handler
	shutdown func(context.Context) error
}

// newPrometheusMetrics exports through a dedicated Prometheus registry.
func newPrometheusMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		m, err := newMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName), cfg.Namespace)
		if err != nil {
			return nil, err
		}
		m.handler = http.NotFoundHandler()
		return m, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, errors.Join(errors.New("failed to create prometheus exporter"), err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m, err := newMetrics(provider.Meter(instrumentationName), cfg.Namespace)
	if err != nil {
		return nil, err
	}
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	m.shutdown = provider.Shutdown
	return m, nil
}

// newMetrics creates the instruments on meter. Names are prefixed with
// namespace and an underscore.
func newMetrics(meter metric.Meter, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultServiceName
	}
	name := func(s string) string { return namespace + "_" + s }

	m := &Metrics{shutdown: func(context.Context) error { return nil }}
	var errs []error
	counter := func(dst *metric.Int64Counter, n, desc string) {
		c, err := meter.Int64Counter(name(n), metric.WithDescription(desc))
		errs = append(errs, err)
		*dst = c
	}
	histogram := func(dst *metric.Float64Histogram, n, desc string) {
		h, err := meter.Float64Histogram(name(n), metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		*dst = h
	}

	counter(&m.invocations, "invocations", "Invocations started")
	histogram(&m.invocationTime, "invocation_duration", "Invocation duration")
	counter(&m.agentRuns, "agent_runs", "Agent runs started")
	counter(&m.llmCalls, "llm_calls", "Model calls")
	counter(&m.llmErrors, "llm_errors", "Failed model calls")
	histogram(&m.llmDuration, "llm_duration", "Model call duration")
	counter(&m.llmInputTokens, "llm_tokens_input", "Prompt tokens sent to models")
	counter(&m.llmOutputTokens, "llm_tokens_output", "Tokens generated by models")
	counter(&m.toolCalls, "tool_calls", "Tool calls")
	counter(&m.toolErrors, "tool_errors", "Failed tool calls")
	histogram(&m.toolDuration, "tool_duration", "Tool call duration")
	counter(&m.confirmRequested, "confirmations_requested", "Tool confirmations requested from clients")
	counter(&m.confirmAnswered, "confirmations_answered", "Tool confirmations answered by clients")
	counter(&m.httpRequests, "http_requests", "HTTP requests served")
	histogram(&m.httpDuration, "http_request_duration", "HTTP request duration")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the Prometheus exposition format, or 404 when metrics are
// disabled.
func (m *Metrics) Handler() http.Handler {
	if m.handler == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// RecordInvocationStart counts a started invocation of app.
func (m *Metrics) RecordInvocationStart(ctx context.Context, app string) {
	m.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("app", app)))
}

// RecordInvocationEnd records how long an invocation run took.
func (m *Metrics) RecordInvocationEnd(ctx context.Context, app string, d time.Duration) {
	m.invocationTime.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("app", app)))
}

// RecordAgentRun counts a started agent run.
func (m *Metrics) RecordAgentRun(ctx context.Context, agentName string) {
	m.agentRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agentName)))
}

// RecordLLMCall records one model call.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, d time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, d.Seconds(), attrs)
	if inputTokens > 0 {
		m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if outputTokens > 0 {
		m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordToolCall records one tool call.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

// RecordConfirmationRequested counts a confirmation asked for tool.
func (m *Metrics) RecordConfirmationRequested(ctx context.Context, tool string) {
	m.confirmRequested.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordConfirmationAnswered counts a client decision.
func (m *Metrics) RecordConfirmationAnswered(ctx context.Context, confirmed bool) {
	m.confirmAnswered.Add(ctx, 1, metric.WithAttributes(attribute.Bool("confirmed", confirmed)))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}
