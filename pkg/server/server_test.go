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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/toolkit"
)

func echoHandler(ctx context.Context, params map[string]any) (any, error) {
	return params, nil
}

func testRegistry(t *testing.T) *toolkit.Registry {
	t.Helper()
	reg := toolkit.NewRegistry()

	tools := []*toolkit.Tool{
		{
			Name:        "memory_health",
			Description: "Service health",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return map[string]any{"status": "ok"}, nil
			},
		},
		{
			Name:        "memory_note",
			Description: "Scratch notes",
			Actions: []toolkit.Action{
				{Name: "add", Description: "Add a note", Handler: echoHandler},
				{Name: "list", Description: "List notes", Handler: echoHandler},
			},
		},
		{
			Name:        "memory_project",
			Description: "Project management",
			Actions: []toolkit.Action{
				{Name: "create", Description: "Create a project", Handler: echoHandler},
				{Name: "list", Description: "List projects", Handler: echoHandler},
			},
		},
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name, err)
		}
	}
	return reg
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg, testRegistry(t)).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type wireError struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

type wireResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   *wireError     `json:"error"`
}

func call(t *testing.T, ts *httptest.Server, method, path, body string, headers map[string]string) (*http.Response, wireResponse) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" && headers["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var wire wireResponse
	_ = json.NewDecoder(resp.Body).Decode(&wire)
	return resp, wire
}

func TestListTools(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	resp, err := http.Get(ts.URL + "/v1/tools")
	if err != nil {
		t.Fatalf("GET /v1/tools: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Tools []toolkit.Descriptor `json:"tools"`
		Count int                  `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 3 || len(body.Tools) != 3 {
		t.Errorf("count = %d, tools = %d, want 3", body.Count, len(body.Tools))
	}
	for _, d := range body.Tools {
		if d.Name == "memory_note" && !d.HasActions {
			t.Error("memory_note should report hasActions")
		}
	}
}

func TestExecuteSimpleTool(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	resp, wire := call(t, ts, http.MethodPost, "/v1/tools/memory_health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !wire.Success || wire.Data["status"] != "ok" {
		t.Errorf("unexpected envelope: %+v", wire)
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	tests := []struct {
		name       string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown tool",
			path:       "/v1/tools/memory_nope",
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "non-json media type",
			path:       "/v1/tools/memory_note",
			body:       "action=add",
			headers:    map[string]string{"Content-Type": "text/plain"},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   "VALIDATION",
		},
		{
			name:       "malformed body",
			path:       "/v1/tools/memory_note",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION",
		},
		{
			name:       "missing action",
			path:       "/v1/tools/memory_note",
			body:       "{}",
			wantStatus: http.StatusBadRequest,
			wantCode:   "MISSING_ACTION",
		},
		{
			name:       "unknown action",
			path:       "/v1/tools/memory_note",
			body:       `{"action":"zap"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ACTION",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, wire := call(t, ts, http.MethodPost, tt.path, tt.body, tt.headers)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if wire.Success || wire.Error == nil {
				t.Fatalf("expected error envelope, got %+v", wire)
			}
			if wire.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", wire.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestMissingActionListsValidActions(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	_, wire := call(t, ts, http.MethodPost, "/v1/tools/memory_note", "{}", nil)
	if wire.Error == nil {
		t.Fatal("expected error envelope")
	}
	actions, ok := wire.Error.Details["validActions"].([]any)
	if !ok || len(actions) != 2 {
		t.Fatalf("validActions = %v", wire.Error.Details["validActions"])
	}
	if actions[0] != "add" || actions[1] != "list" {
		t.Errorf("validActions = %v, want sorted [add list]", actions)
	}
}

func TestAuthChannels(t *testing.T) {
	cfg := config.ServerConfig{APIKey: "standard-key", AdminKey: "admin-key"}
	ts := newTestServer(t, cfg)

	// No credential.
	resp, wire := call(t, ts, http.MethodPost, "/v1/tools/memory_health", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credential: status = %d, want 401", resp.StatusCode)
	}
	if wire.Error == nil || wire.Error.Code != "UNAUTHORIZED" {
		t.Errorf("no credential: envelope = %+v", wire)
	}

	// Wrong credential.
	resp, _ = call(t, ts, http.MethodPost, "/v1/tools/memory_health", "",
		map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong credential: status = %d, want 401", resp.StatusCode)
	}

	// Bearer channel.
	resp, _ = call(t, ts, http.MethodPost, "/v1/tools/memory_health", "",
		map[string]string{"Authorization": "Bearer standard-key"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer: status = %d, want 200", resp.StatusCode)
	}

	// X-API-Key channel.
	resp, _ = call(t, ts, http.MethodPost, "/v1/tools/memory_health", "",
		map[string]string{"X-API-Key": "standard-key"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("x-api-key: status = %d, want 200", resp.StatusCode)
	}

	// Contract document stays public.
	public, err := http.Get(ts.URL + "/v1/openapi.json")
	if err != nil {
		t.Fatalf("GET openapi: %v", err)
	}
	public.Body.Close()
	if public.StatusCode != http.StatusOK {
		t.Errorf("openapi: status = %d, want 200", public.StatusCode)
	}
}

func TestWritePolicy(t *testing.T) {
	cfg := config.ServerConfig{
		APIKey:      "standard-key",
		AdminKey:    "admin-key",
		Permissions: "standard",
	}
	ts := newTestServer(t, cfg)
	asStandard := map[string]string{"X-API-Key": "standard-key"}
	asAdmin := map[string]string{"X-API-Key": "admin-key"}

	// Standard credentials may write at project scope.
	resp, _ := call(t, ts, http.MethodPost, "/v1/tools/memory_note",
		`{"action":"add","scope":"project:demo"}`, asStandard)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("project write: status = %d, want 200", resp.StatusCode)
	}

	// Global writes need admin.
	resp, wire := call(t, ts, http.MethodPost, "/v1/tools/memory_note",
		`{"action":"add"}`, asStandard)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("global write: status = %d, want 403", resp.StatusCode)
	}
	if wire.Error == nil || wire.Error.Code != "PERMISSION_DENIED" {
		t.Errorf("global write envelope = %+v", wire)
	}

	// Project creation is destructive-gated.
	resp, _ = call(t, ts, http.MethodPost, "/v1/tools/memory_project",
		`{"action":"create","scope":"project:demo"}`, asStandard)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("project create as standard: status = %d, want 403", resp.StatusCode)
	}
	resp, _ = call(t, ts, http.MethodPost, "/v1/tools/memory_project",
		`{"action":"create","scope":"project:demo"}`, asAdmin)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("project create as admin: status = %d, want 200", resp.StatusCode)
	}

	// Reads pass with standard credentials at any scope.
	resp, _ = call(t, ts, http.MethodPost, "/v1/tools/memory_note",
		`{"action":"list"}`, asStandard)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("read: status = %d, want 200", resp.StatusCode)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	reg := testRegistry(t)
	doc := buildOpenAPIDocument(reg)

	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v, want 3.0.3", doc["openapi"])
	}

	components := doc["components"].(map[string]any)
	schemes := components["securitySchemes"].(map[string]any)
	if _, ok := schemes["bearerAuth"]; !ok {
		t.Error("missing bearerAuth scheme")
	}
	apiKey := schemes["apiKeyAuth"].(map[string]any)
	if apiKey["name"] != "X-API-Key" {
		t.Errorf("apiKeyAuth name = %v", apiKey["name"])
	}

	paths := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/tools"]; !ok {
		t.Error("missing /v1/tools path")
	}
	notePath, ok := paths["/v1/tools/memory_note"].(map[string]any)
	if !ok {
		t.Fatal("missing /v1/tools/memory_note path")
	}

	// Round-trip through JSON so jsonschema values flatten to maps.
	raw, err := json.Marshal(notePath)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	post := flat["post"].(map[string]any)
	body := post["requestBody"].(map[string]any)
	content := body["content"].(map[string]any)
	schema := content["application/json"].(map[string]any)["schema"].(map[string]any)
	oneOf, ok := schema["oneOf"].([]any)
	if !ok || len(oneOf) != 2 {
		t.Fatalf("oneOf = %v, want two action variants", schema["oneOf"])
	}
}

func TestDestructiveOperationTable(t *testing.T) {
	tests := []struct {
		tool   string
		action string
		want   bool
	}{
		{"memory_project", "create", true},
		{"memory_project", "list", false},
		{"memory_tool", "deactivate", true},
		{"memory_guideline", "deactivate", true},
		{"memory_knowledge", "update", false},
		{"memory_task", "deactivate", true},
		{"graph_node", "delete", true},
		{"graph_edge", "delete", true},
		{"graph_edge", "add", false},
		{"memory_query", "search", false},
	}
	for _, tt := range tests {
		if got := destructiveOperation(tt.tool, tt.action); got != tt.want {
			t.Errorf("destructiveOperation(%s, %s) = %v, want %v", tt.tool, tt.action, got, tt.want)
		}
	}
}
