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
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracer provider and metrics built from a Config.
type Manager struct {
	config  Config
	tracing *tracing
	metrics *Metrics
	plugin  *Plugin
}

// NewManager builds tracing and metrics from cfg after applying defaults.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}
	t, err := newTracing(ctx, cfg.Tracing, nil)
	if err != nil {
		return nil, err
	}
	m, err := newPrometheusMetrics(cfg.Metrics)
	if err != nil {
		return nil, errors.Join(err, t.shutdown(ctx))
	}
	mgr := &Manager{config: cfg, tracing: t, metrics: m}
	mgr.plugin = NewPlugin(mgr.Tracer(), m, cfg.Tracing.CapturePayloads)
	return mgr, nil
}

// Plugin returns the runner plugin feeding this manager.
func (m *Manager) Plugin() *Plugin { return m.plugin }

func (m *Manager) Tracer() trace.Tracer { return m.tracing.provider.Tracer(instrumentationName) }

func (m *Manager) Metrics() *Metrics { return m.metrics }

// MemoryExporter returns the in-process span exporter, or nil unless the
// memory exporter is configured.
func (m *Manager) MemoryExporter() *MemoryExporter { return m.tracing.memory }

// MetricsHandler serves the Prometheus exposition format.
func (m *Manager) MetricsHandler() http.Handler {
	return HTTPMiddleware(m.Tracer(), nil)(m.metrics.Handler())
}

// ServeMetrics listens on the configured metrics address until ctx is
// done. It returns nil immediately when metrics are disabled.
func (m *Manager) ServeMetrics(ctx context.Context) error {
	if !m.config.Metrics.Enabled {
		return nil
	}
	ln, err := net.Listen("tcp", m.config.Metrics.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Metrics.Address, err)
	}
	return m.serve(ctx, ln)
}

func (m *Manager) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.Metrics.Endpoint, m.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving metrics", "address", ln.Addr().String(), "path", m.config.Metrics.Endpoint)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Shutdown flushes pending spans and stops both providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	return errors.Join(m.tracing.shutdown(ctx), m.metrics.shutdown(ctx))
}
