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
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// MemoryExporter keeps finished spans in memory, oldest first, for
// inspection in tests and from the CLI.
//
// Safe for concurrent use.
type MemoryExporter struct {
	mu      sync.RWMutex
	spans   []*SpanRecord
	maxSize int
}

// SpanRecord is a finished span.
type SpanRecord struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	DurationMs   float64           `json:"duration_ms"`
	Attributes   map[string]string `json:"attributes"`
	Status       string            `json:"status"`
	StatusMsg    string            `json:"status_message,omitempty"`
}

// NewMemoryExporter returns an exporter retaining the last 1000 spans.
func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{maxSize: 1000}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *MemoryExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range spans {
		e.spans = append(e.spans, record(s))
	}
	if over := len(e.spans) - e.maxSize; over > 0 {
		e.spans = append([]*SpanRecord(nil), e.spans[over:]...)
	}
	return nil
}

func record(span sdktrace.ReadOnlySpan) *SpanRecord {
	r := &SpanRecord{
		TraceID:    span.SpanContext().TraceID().String(),
		SpanID:     span.SpanContext().SpanID().String(),
		Name:       span.Name(),
		DurationMs: float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1e3,
		Attributes: make(map[string]string, len(span.Attributes())),
		Status:     span.Status().Code.String(),
		StatusMsg:  span.Status().Description,
	}
	if span.Parent().HasSpanID() {
		r.ParentSpanID = span.Parent().SpanID().String()
	}
	for _, attr := range span.Attributes() {
		r.Attributes[string(attr.Key)] = attr.Value.Emit()
	}
	return r
}

// Shutdown implements sdktrace.SpanExporter.
func (e *MemoryExporter) Shutdown(ctx context.Context) error {
	return nil
}

// Spans returns the retained spans, oldest first.
func (e *MemoryExporter) Spans() []*SpanRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*SpanRecord(nil), e.spans...)
}

// SpansByName returns the retained spans called name.
func (e *MemoryExporter) SpansByName(name string) []*SpanRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*SpanRecord
	for _, s := range e.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Reset drops every retained span.
func (e *MemoryExporter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = nil
}

var _ sdktrace.SpanExporter = (*MemoryExporter)(nil)
