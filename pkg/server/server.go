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

// Package server exposes the tool registry over HTTP. The surface is a
// list-and-execute protocol: GET /v1/tools enumerates the registry,
// POST /v1/tools/{name} dispatches one call, and GET /v1/openapi.json
// publishes the contract. The same registry also backs an MCP stdio
// transport for editor and agent integrations.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/observability"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/toolkit"
)

// Server is the HTTP boundary of the memory service.
type Server struct {
	cfg        config.ServerConfig
	registry   *toolkit.Registry
	dispatcher *toolkit.Dispatcher
	policy     scope.Policy
	sanitizer  *memerr.Sanitizer
	obs        *observability.Manager
	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithObservability attaches the tracing and metrics manager.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) { s.obs = obs }
}

// WithProductionErrors redacts paths, addresses, and connection strings
// from error messages before they cross the boundary.
func WithProductionErrors() Option {
	return func(s *Server) { s.sanitizer = memerr.NewSanitizer(true) }
}

// New creates the server over a populated tool registry. The write policy
// is derived from the configured permissions mode.
func New(cfg config.ServerConfig, registry *toolkit.Registry, opts ...Option) *Server {
	cfg.SetDefaults()
	mode, _ := scope.ParsePolicyMode(cfg.Permissions)

	s := &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: toolkit.NewDispatcher(registry),
		policy:     scope.Policy{Mode: mode},
		sanitizer:  memerr.NewSanitizer(false),
		obs:        observability.NoopManager(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns the listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Handler builds the complete route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.HTTPMiddleware(s.obs.Tracer("engram.http"), s.obs.Metrics()))
	r.Use(loggingMiddleware)

	// Public endpoints. The contract document and liveness probe stay
	// reachable without credentials.
	r.Get("/health", s.handleHealth)
	r.Get("/v1/openapi.json", s.handleOpenAPI)
	if s.obs.MetricsEnabled() {
		r.Get(s.obs.MetricsEndpoint(), s.obs.MetricsHandler().ServeHTTP)
	}

	r.Group(func(g chi.Router) {
		g.Use(s.authMiddleware)
		g.Get("/v1/tools", s.handleListTools)
		g.Post("/v1/tools/{name}", s.handleExecuteTool)
	})

	return r
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.Address(), "permissions", s.cfg.Permissions)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// loggingMiddleware emits one structured line per request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
