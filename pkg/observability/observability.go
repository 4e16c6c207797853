// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry tracing and Prometheus metrics
// for the memory service. Both concerns are disabled by default; a zero
// Manager is safe to use everywhere and records nothing.
package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "engram"

// Span and attribute names shared across the boundary and pipelines.
const (
	SpanHTTPRequest   = "http.request"
	SpanToolExecution = "tool.execution"
	SpanQuery         = "memory.query"
	SpanCapture       = "memory.capture"

	AttrHTTPMethod     = "http.method"
	AttrHTTPPath       = "http.path"
	AttrHTTPStatusCode = "http.status_code"
	AttrToolName       = "tool.name"
	AttrErrorType      = "error.type"
)

// Config configures tracing and metrics.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures the trace exporter. When enabled, spans are
// written to stderr in OTLP debug form; sampling_rate bounds the volume.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Manager owns the tracer provider and the metrics recorder. The zero
// value is a no-op manager.
type Manager struct {
	cfg            Config
	tracerProvider trace.TracerProvider
	metrics        *Metrics
	mu             sync.RWMutex
}

// NewManager creates an uninitialized manager from config.
func NewManager(cfg Config) *Manager {
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Metrics.Endpoint == "" {
		cfg.Metrics.Endpoint = "/metrics"
	}
	return &Manager{cfg: cfg}
}

// NoopManager returns a manager with both concerns disabled.
func NoopManager() *Manager {
	return NewManager(Config{})
}

// Initialize builds the tracer provider and metric instruments.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := initTracerProvider(ctx, m.cfg.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := initMetrics(m.cfg.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	setGlobalMetrics(metrics)
	return nil
}

// Tracer returns a named tracer. Safe before Initialize.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// Metrics returns the metrics recorder, nil when disabled or uninitialized.
func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsEnabled reports whether the scrape endpoint should be mounted.
func (m *Manager) MetricsEnabled() bool {
	return m.cfg.Metrics.Enabled
}

// MetricsEndpoint returns the scrape path.
func (m *Manager) MetricsEndpoint() string {
	return m.cfg.Metrics.Endpoint
}

// MetricsHandler serves the Prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and stops the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sd, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return sd.Shutdown(ctx)
	}
	return nil
}
