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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNoopManagerIsSafe(t *testing.T) {
	m := NoopManager()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.Metrics() != nil {
		t.Error("expected nil metrics when disabled")
	}
	if m.MetricsEnabled() {
		t.Error("metrics should be disabled by default")
	}

	// Nil recorder must accept every call.
	var metrics *Metrics
	metrics.RecordHTTPRequest(context.Background(), "GET", "/v1/tools", 200, time.Millisecond)
	metrics.RecordToolExecution(context.Background(), "memory_query", time.Millisecond, nil)
	metrics.RecordQuery(context.Background(), time.Millisecond, 3)
	metrics.RecordCaptureSuggestion(context.Background(), "stored")
	metrics.RecordLLMCall(context.Background(), "test-model", time.Millisecond, nil)
	metrics.RecordMaintenanceTask(context.Background(), "librarian", time.Millisecond, 1)

	tracer := m.Tracer("test")
	_, span := tracer.Start(context.Background(), SpanToolExecution)
	span.End()

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestManagerDefaults(t *testing.T) {
	m := NewManager(Config{Metrics: MetricsConfig{Enabled: true}})
	if m.MetricsEndpoint() != "/metrics" {
		t.Errorf("default endpoint = %q, want /metrics", m.MetricsEndpoint())
	}
	if !m.MetricsEnabled() {
		t.Error("metrics should report enabled")
	}
}

func TestHTTPMiddlewarePreservesStatus(t *testing.T) {
	handler := HTTPMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tools", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
