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

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
)

// maxBodyBytes bounds a single tool call payload.
const maxBodyBytes = 4 << 20

// toolError is the wire form of a failed call.
type toolError struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// toolResponse is the execute envelope.
type toolResponse struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *toolError `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	descriptors := s.registry.Descriptors()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": descriptors,
		"count": len(descriptors),
	})
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if _, ok := s.registry.Get(name); !ok {
		s.writeError(w, memerr.NotFound("tool", name))
		return
	}

	params, err := decodeParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.checkPermissions(r, name, params); err != nil {
		s.writeError(w, err)
		return
	}

	start := time.Now()
	data, err := s.dispatcher.Execute(r.Context(), name, params)
	s.obs.Metrics().RecordToolExecution(r.Context(), name, time.Since(start), err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{Success: true, Data: data})
}

// decodeParams reads the JSON body. An empty body is a call with no
// parameters; a body with any other declared media type is rejected.
func decodeParams(r *http.Request) (map[string]any, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return nil, memerr.New(memerr.CodeValidation).
			Message("unsupported media type %q, expected application/json", ct).
			With("unsupportedMediaType", true).
			Build()
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, memerr.New(memerr.CodeValidation).
			Message("failed to read request body").
			Cause(err).
			Build()
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, memerr.New(memerr.CodeValidation).
			Message("request body is not a JSON object").
			Cause(err).
			Build()
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// Actions that mutate state. Tools without actions are looked up under
// their bare name.
var writeOperations = map[string]bool{
	"add": true, "update": true, "learn": true, "promote": true,
	"record": true, "resolve": true, "approve": true, "reject": true,
	"complete": true, "create": true, "deactivate": true, "delete": true,
	"memory_remember": true, "memory_quickstart": true, "memory_onboard": true,
}

// destructiveOperation reports whether the call removes data or creates a
// project. These always go through the admin gate outside permissive mode.
func destructiveOperation(tool, action string) bool {
	switch tool {
	case "memory_project":
		return action == "create"
	case "memory_tool", "memory_guideline", "memory_knowledge", "memory_task":
		return action == "deactivate"
	case "graph_node", "graph_edge":
		return action == "delete"
	}
	return false
}

// checkPermissions applies the write policy for the authenticated caller.
func (s *Server) checkPermissions(r *http.Request, tool string, params map[string]any) error {
	info := authFrom(r.Context())

	action, _ := params["action"].(string)
	sc := scope.GlobalScope
	if raw, ok := params["scope"].(string); ok && raw != "" {
		parsed, err := scope.Parse(raw)
		if err != nil {
			return err
		}
		sc = parsed
	}

	if destructiveOperation(tool, action) {
		return s.policy.CheckDestructive(sc, info.admin)
	}
	if writeOperations[action] || writeOperations[tool] {
		return s.policy.CheckWrite(sc, info.admin)
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(code memerr.Code) int {
	switch code {
	case memerr.CodeNotFound:
		return http.StatusNotFound
	case memerr.CodeValidation, memerr.CodeMissingAction,
		memerr.CodeInvalidAction, memerr.CodeInvalidActionType:
		return http.StatusBadRequest
	case memerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case memerr.CodePermissionDenied:
		return http.StatusForbidden
	case memerr.CodeConflict, memerr.CodeFileLocked:
		return http.StatusConflict
	case memerr.CodeSizeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case memerr.CodeRateLimited:
		return http.StatusTooManyRequests
	case memerr.CodeNotImplemented:
		return http.StatusNotImplemented
	case memerr.CodeServiceUnavailable, memerr.CodeCircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var me *memerr.Error
	if !errors.As(err, &me) {
		me = memerr.Internal(err)
	}
	me = s.sanitizer.Sanitize(me)

	status := statusFor(me.Code)
	// Media type mismatches share the validation code but not the status.
	if me.Context != nil {
		if v, ok := me.Context["unsupportedMediaType"].(bool); ok && v {
			status = http.StatusUnsupportedMediaType
		}
	}
	if status >= 500 {
		slog.Error("tool call failed", "code", me.Code, "error", err)
	}

	writeJSON(w, status, toolResponse{
		Success: false,
		Error: &toolError{
			Message: me.Msg,
			Code:    string(me.Code),
			Details: me.Context,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
