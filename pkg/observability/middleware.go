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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMiddleware traces each request and records its status and latency.
// Either tracer or metrics may be nil. Metrics are labelled with the matched
// route pattern when there is one, so path parameters don't explode series.
func HTTPMiddleware(tracer trace.Tracer, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if tracer != nil {
				var span trace.Span
				ctx, span = tracer.Start(ctx, SpanHTTPRequest,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						attribute.String(AttrHTTPMethod, r.Method),
						attribute.String(AttrHTTPPath, r.URL.Path),
					))
				defer span.End()
			}

			rec := &statusRecorder{ResponseWriter: w}
			req := r.WithContext(ctx)
			next.ServeHTTP(rec, req)
			status := rec.status()

			if tracer != nil {
				span := trace.SpanFromContext(ctx)
				span.SetAttributes(attribute.Int(AttrHTTPStatusCode, status))
				if status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
			}
			if metrics != nil {
				metrics.RecordHTTPRequest(ctx, r.Method, routePattern(req), status, time.Since(start))
			}
		})
	}
}

// statusRecorder remembers the first status code written. Unwrap lets
// http.ResponseController reach the flusher and hijacker underneath.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working for callers that type-assert.
func (w *statusRecorder) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusRecorder) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// routePattern prefers the chi route, then the net/http mux pattern, then
// the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}
