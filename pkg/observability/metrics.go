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

package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the service's operational counters. A nil receiver is a
// no-op, so call sites never need to guard.
type Metrics struct {
	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	queryDuration metric.Float64Histogram
	queryResults  metric.Int64Histogram

	captureSuggestions metric.Int64Counter

	llmDuration metric.Float64Histogram
	llmErrors   metric.Int64Counter

	maintenanceDuration metric.Float64Histogram
	maintenanceErrors   metric.Int64Counter
}

func initMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	m := &Metrics{}
	instruments := []struct {
		hist *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.httpDuration, "engram_http_request_duration_seconds", "HTTP request duration in seconds"},
		{&m.toolDuration, "engram_tool_execution_duration_seconds", "Tool execution duration in seconds"},
		{&m.queryDuration, "engram_query_duration_seconds", "Retrieval pipeline duration in seconds"},
		{&m.llmDuration, "engram_llm_request_duration_seconds", "Generative provider request duration in seconds"},
		{&m.maintenanceDuration, "engram_maintenance_task_duration_seconds", "Maintenance task duration in seconds"},
	}
	for _, in := range instruments {
		h, err := meter.Float64Histogram(in.name, metric.WithDescription(in.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", in.name, err)
		}
		*in.hist = h
	}

	counters := []struct {
		ctr  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.httpRequests, "engram_http_requests_total", "Total HTTP requests"},
		{&m.toolCalls, "engram_tool_calls_total", "Total tool executions"},
		{&m.toolErrors, "engram_tool_errors_total", "Total tool execution errors"},
		{&m.captureSuggestions, "engram_capture_suggestions_total", "Total capture suggestions by disposition"},
		{&m.llmErrors, "engram_llm_errors_total", "Total generative provider errors"},
		{&m.maintenanceErrors, "engram_maintenance_task_errors_total", "Total maintenance task errors"},
	}
	for _, in := range counters {
		c, err := meter.Int64Counter(in.name, metric.WithDescription(in.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", in.name, err)
		}
		*in.ctr = c
	}

	m.queryResults, err = meter.Int64Histogram(
		"engram_query_results",
		metric.WithDescription("Result count per query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engram_query_results: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one boundary request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

// RecordQuery records one retrieval pipeline run.
func (m *Metrics) RecordQuery(ctx context.Context, duration time.Duration, results int) {
	if m == nil {
		return
	}
	m.queryDuration.Record(ctx, duration.Seconds())
	m.queryResults.Record(ctx, int64(results))
}

// RecordCaptureSuggestion records one capture decision.
// Disposition is one of stored, queued, discarded, approved, rejected.
func (m *Metrics) RecordCaptureSuggestion(ctx context.Context, disposition string) {
	if m == nil {
		return
	}
	m.captureSuggestions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("disposition", disposition)))
}

// RecordLLMCall records one generative provider round trip.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// RecordMaintenanceTask records one maintenance task run.
func (m *Metrics) RecordMaintenanceTask(ctx context.Context, task string, duration time.Duration, errs int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("task", task))
	m.maintenanceDuration.Record(ctx, duration.Seconds(), attrs)
	if errs > 0 {
		m.maintenanceErrors.Add(ctx, int64(errs), attrs)
	}
}

func setGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, nil when disabled.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
