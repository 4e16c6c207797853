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

package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
)

// openapiDocument is the subset of an OpenAPI 3.x document the importer
// reads. Everything else in the document is ignored.
type openapiDocument struct {
	OpenAPI string                                 `json:"openapi"`
	Info    openapiInfo                            `json:"info"`
	Paths   map[string]map[string]openapiOperation `json:"paths"`
}

type openapiInfo struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

type openapiOperation struct {
	OperationID string              `json:"operationId"`
	Summary     string              `json:"summary"`
	Description string              `json:"description"`
	Tags        []string            `json:"tags"`
	Parameters  []openapiParameter  `json:"parameters"`
	RequestBody *openapiRequestBody `json:"requestBody"`
}

type openapiParameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"`
	Required    bool           `json:"required"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

type openapiRequestBody struct {
	Content map[string]struct {
		Schema map[string]any `json:"schema"`
	} `json:"content"`
}

var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// ImportOpenAPI converts the operations of an OpenAPI 3.x document into
// tool entries at the target scope, then imports them through the normal
// conflict pipeline.
func (s *Service) ImportOpenAPI(ctx context.Context, data []byte, opts Options) (*Report, error) {
	var doc openapiDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, memerr.New(memerr.CodeValidation).
			Message("payload is not a valid OpenAPI document").
			Cause(err).
			Build()
	}
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		return nil, memerr.Validation("unsupported OpenAPI version %q (only 3.x)", doc.OpenAPI)
	}
	if len(doc.Paths) == 0 {
		return nil, memerr.Validation("OpenAPI document has no paths")
	}

	entries := openapiEntries(doc)
	return s.importEntries(ctx, entries, opts)
}

// openapiEntries flattens paths into tool entries in deterministic order.
func openapiEntries(doc openapiDocument) []*entry.Entry {
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []*entry.Entry
	for _, p := range paths {
		item := doc.Paths[p]
		for _, method := range httpMethods {
			op, ok := item[method]
			if !ok {
				continue
			}
			out = append(out, operationEntry(doc, p, method, op))
		}
	}
	return out
}

func operationEntry(doc openapiDocument, path, method string, op openapiOperation) *entry.Entry {
	name := op.OperationID
	if name == "" {
		name = fmt.Sprintf("%s %s", strings.ToUpper(method), path)
	}

	desc := op.Summary
	if desc == "" {
		desc = op.Description
	}
	if desc == "" {
		desc = fmt.Sprintf("%s %s from %s", strings.ToUpper(method), path, doc.Info.Title)
	}

	params := map[string]any{
		"method": strings.ToUpper(method),
		"path":   path,
	}
	for _, p := range op.Parameters {
		key := p.In + ":" + p.Name
		spec := map[string]any{"required": p.Required}
		if p.Description != "" {
			spec["description"] = p.Description
		}
		if p.Schema != nil {
			spec["schema"] = p.Schema
		}
		params[key] = spec
	}
	if op.RequestBody != nil {
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			params["body"] = media.Schema
		}
	}

	category := ""
	if len(op.Tags) > 0 {
		category = op.Tags[0]
	}

	return &entry.Entry{
		Kind:     entry.KindTool,
		Name:     name,
		Category: category,
		Content: entry.Content{
			Description: desc,
			Parameters:  params,
		},
		Tags: op.Tags,
	}
}
