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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/engram"
	"github.com/kadirpekel/engram/pkg/toolkit"
)

// handleOpenAPI publishes the tool surface as an OpenAPI 3.0.3 document.
// The document is generated from the live registry so it never drifts
// from the deployed tool set.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := buildOpenAPIDocument(s.registry)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		slog.Error("failed to encode openapi document", "error", err)
	}
}

func buildOpenAPIDocument(registry *toolkit.Registry) map[string]any {
	errorSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean", "enum": []bool{false}},
			"error": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
					"code":    map[string]any{"type": "string"},
					"details": map[string]any{"type": "object"},
				},
				"required": []string{"message", "code"},
			},
		},
	}

	paths := map[string]any{
		"/v1/tools": map[string]any{
			"get": map[string]any{
				"operationId": "listTools",
				"summary":     "List available tools",
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Tool descriptors",
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"tools": map[string]any{"type": "array"},
										"count": map[string]any{"type": "integer"},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	for _, desc := range registry.Descriptors() {
		tool, ok := registry.Get(desc.Name)
		if !ok {
			continue
		}
		paths["/v1/tools/"+desc.Name] = map[string]any{
			"post": map[string]any{
				"operationId": "execute_" + desc.Name,
				"summary":     desc.Description,
				"requestBody": map[string]any{
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": requestSchema(tool),
						},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Successful execution",
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"success": map[string]any{"type": "boolean"},
										"data":    map[string]any{},
									},
								},
							},
						},
					},
					"default": map[string]any{
						"description": "Execution failure",
						"content": map[string]any{
							"application/json": map[string]any{"schema": errorSchema},
						},
					},
				},
			},
		}
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "engram memory service",
			"description": "Scoped, versioned, searchable agent memory exposed as a list-and-execute tool protocol.",
			"version":     engram.Version,
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
				"apiKeyAuth": map[string]any{
					"type": "apiKey",
					"in":   "header",
					"name": "X-API-Key",
				},
			},
		},
		"security": []any{
			map[string]any{"bearerAuth": []any{}},
			map[string]any{"apiKeyAuth": []any{}},
		},
	}
}

// requestSchema builds the request body schema for one tool. Action tools
// become a oneOf over their action payloads, each pinned to its action
// name; simple tools use their parameter prototype directly.
func requestSchema(t *toolkit.Tool) any {
	schemas := toolkit.ParamSchema(t)
	if !t.HasActions() {
		return schemas[""]
	}

	var oneOf []any
	for _, action := range t.ActionNames() {
		oneOf = append(oneOf, map[string]any{
			"allOf": []any{
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{
							"type": "string",
							"enum": []string{action},
						},
					},
					"required": []string{"action"},
				},
				schemas[action],
			},
			"title": fmt.Sprintf("%s %s", t.Name, action),
		})
	}
	return map[string]any{"oneOf": oneOf}
}
