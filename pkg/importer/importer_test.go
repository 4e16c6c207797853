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
	"path/filepath"
	"testing"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	repos := make(map[entry.Kind]*repository.Entries, len(entry.Kinds))
	for _, kind := range entry.Kinds {
		repos[kind] = repository.NewEntries(store, kind)
	}
	return New(repos, repository.NewScopeResolver(store))
}

func toolDoc(names ...string) []byte {
	doc := Document{}
	for _, name := range names {
		doc.Entries = append(doc.Entries, &entry.Entry{
			Kind:    entry.KindTool,
			Scope:   scope.GlobalScope,
			Name:    name,
			Content: entry.Content{Description: "imported tool " + name},
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func TestImportJSONCreates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportJSON(ctx, toolDoc("alpha", "beta"), Options{})
	if err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}
	if report.Total != 2 || report.Created != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want 2 created", report)
	}

	got, err := svc.repos[entry.KindTool].GetByIdentity(ctx, scope.GlobalScope, "alpha")
	if err != nil {
		t.Fatalf("GetByIdentity() error = %v", err)
	}
	if got.CreatedBy != "import" {
		t.Errorf("CreatedBy = %q, want import", got.CreatedBy)
	}
}

func TestImportConflictStrategies(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Service {
		svc := newTestService(t)
		if _, err := svc.ImportJSON(ctx, toolDoc("alpha"), Options{}); err != nil {
			t.Fatalf("seed import error = %v", err)
		}
		return svc
	}

	t.Run("skip leaves the existing entry", func(t *testing.T) {
		svc := seed(t)
		report, err := svc.ImportJSON(ctx, toolDoc("alpha"), Options{Strategy: StrategySkip})
		if err != nil {
			t.Fatalf("ImportJSON() error = %v", err)
		}
		if report.Skipped != 1 || report.Created != 0 {
			t.Errorf("report = %+v, want 1 skipped", report)
		}
	})

	t.Run("error records the conflict and continues", func(t *testing.T) {
		svc := seed(t)
		report, err := svc.ImportJSON(ctx, toolDoc("alpha", "gamma"), Options{Strategy: StrategyError})
		if err != nil {
			t.Fatalf("ImportJSON() error = %v", err)
		}
		if report.Failed != 1 || report.Created != 1 {
			t.Errorf("report = %+v, want 1 failed and 1 created", report)
		}
		if len(report.Errors) != 1 {
			t.Fatalf("Errors = %v, want one entry", report.Errors)
		}
	})

	t.Run("update produces a new version", func(t *testing.T) {
		svc := seed(t)
		report, err := svc.ImportJSON(ctx, toolDoc("alpha"), Options{Strategy: StrategyUpdate})
		if err != nil {
			t.Fatalf("ImportJSON() error = %v", err)
		}
		if report.Updated != 1 {
			t.Errorf("report = %+v, want 1 updated", report)
		}
		got, err := svc.repos[entry.KindTool].GetByIdentity(ctx, scope.GlobalScope, "alpha")
		if err != nil {
			t.Fatalf("GetByIdentity() error = %v", err)
		}
		if got.CurrentVersion != 2 {
			t.Errorf("version = %d, want 2", got.CurrentVersion)
		}
	})

	t.Run("replace deactivates and recreates", func(t *testing.T) {
		svc := seed(t)
		report, err := svc.ImportJSON(ctx, toolDoc("alpha"), Options{Strategy: StrategyReplace})
		if err != nil {
			t.Fatalf("ImportJSON() error = %v", err)
		}
		if report.Replaced != 1 {
			t.Errorf("report = %+v, want 1 replaced", report)
		}
		got, err := svc.repos[entry.KindTool].GetByIdentity(ctx, scope.GlobalScope, "alpha")
		if err != nil {
			t.Fatalf("GetByIdentity() error = %v", err)
		}
		if got.CurrentVersion != 1 {
			t.Errorf("version = %d, want fresh entry at 1", got.CurrentVersion)
		}
	})
}

func TestImportScopeRemap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc := Document{Entries: []*entry.Entry{{
		Kind:    entry.KindTool,
		Scope:   scope.Scope{Type: scope.Project, ID: "old"},
		Name:    "alpha",
		Content: entry.Content{Description: "d"},
	}}}
	data, _ := json.Marshal(doc)

	report, err := svc.ImportJSON(ctx, data, Options{
		ScopeRemap: map[string]string{"project:old": "project:new"},
	})
	if err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("report = %+v", report)
	}

	newScope := scope.Scope{Type: scope.Project, ID: "new"}
	if _, err := svc.repos[entry.KindTool].GetByIdentity(ctx, newScope, "alpha"); err != nil {
		t.Errorf("entry not found at remapped scope: %v", err)
	}
	oldScope := scope.Scope{Type: scope.Project, ID: "old"}
	if _, err := svc.repos[entry.KindTool].GetByIdentity(ctx, oldScope, "alpha"); !memerr.IsCode(err, memerr.CodeNotFound) {
		t.Errorf("entry still at old scope, err = %v", err)
	}
}

func TestImportCapRejectsWholeBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	names := make([]string, 4)
	for i := range names {
		names[i] = fmt.Sprintf("tool-%d", i)
	}
	_, err := svc.ImportJSON(ctx, toolDoc(names...), Options{MaxEntries: 3})
	if !memerr.IsCode(err, memerr.CodeSizeLimitExceeded) {
		t.Fatalf("error = %v, want SIZE_LIMIT_EXCEEDED", err)
	}

	got, err := svc.repos[entry.KindTool].List(ctx, entry.ListFilter{Scope: scope.GlobalScope}, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("cap rejection wrote %d entries, want none", len(got))
	}
}

func TestImportBadEntryDoesNotStopBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc := Document{Entries: []*entry.Entry{
		{Kind: "bogus", Name: "x", Content: entry.Content{Description: "d"}},
		{Kind: entry.KindTool, Scope: scope.GlobalScope, Name: "", Content: entry.Content{Description: "d"}},
		{Kind: entry.KindTool, Scope: scope.GlobalScope, Name: "ok", Content: entry.Content{Description: "d"}},
	}}
	data, _ := json.Marshal(doc)

	report, err := svc.ImportJSON(ctx, data, Options{})
	if err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}
	if report.Created != 1 || report.Failed != 2 {
		t.Errorf("report = %+v, want 1 created and 2 failed", report)
	}
}

func TestUnimplementedFormats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.ImportYAML(ctx, nil, Options{}); !memerr.IsCode(err, memerr.CodeNotImplemented) {
		t.Errorf("ImportYAML error = %v, want NOT_IMPLEMENTED", err)
	}
	if _, err := svc.ImportMarkdown(ctx, nil, Options{}); !memerr.IsCode(err, memerr.CodeNotImplemented) {
		t.Errorf("ImportMarkdown error = %v, want NOT_IMPLEMENTED", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	doc := Document{Entries: []*entry.Entry{
		{Kind: entry.KindTool, Scope: scope.GlobalScope, Name: "alpha", Content: entry.Content{Description: "d"}},
		{Kind: entry.KindGuideline, Scope: scope.GlobalScope, Name: "style", Priority: 50, Content: entry.Content{Body: "keep functions short"}},
		{Kind: entry.KindKnowledge, Scope: scope.GlobalScope, Name: "fact", Content: entry.Content{Body: "the build runs nightly", Confidence: 0.9}},
	}}
	data, _ := json.Marshal(doc)
	if _, err := svc.ImportJSON(ctx, data, Options{}); err != nil {
		t.Fatalf("ImportJSON() error = %v", err)
	}

	exported, err := svc.ExportJSON(ctx, ExportOptions{Scope: scope.GlobalScope})
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	// Re-importing the export into a fresh store must reproduce every
	// identity.
	other := newTestService(t)
	report, err := other.ImportJSON(ctx, exported, Options{})
	if err != nil {
		t.Fatalf("round-trip ImportJSON() error = %v", err)
	}
	if report.Created != 3 || report.Failed != 0 {
		t.Fatalf("round-trip report = %+v, want 3 created", report)
	}
	g, err := other.repos[entry.KindGuideline].GetByIdentity(ctx, scope.GlobalScope, "style")
	if err != nil {
		t.Fatalf("GetByIdentity() error = %v", err)
	}
	if g.Priority != 50 || g.Content.Body != "keep functions short" {
		t.Errorf("guideline = %+v", g)
	}
}

func TestImportOpenAPI(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	spec := `{
	  "openapi": "3.0.3",
	  "info": {"title": "Billing API", "version": "1.0.0"},
	  "paths": {
	    "/invoices": {
	      "get": {
	        "operationId": "listInvoices",
	        "summary": "List invoices",
	        "tags": ["billing"],
	        "parameters": [
	          {"name": "status", "in": "query", "schema": {"type": "string"}}
	        ]
	      },
	      "post": {
	        "operationId": "createInvoice",
	        "summary": "Create an invoice",
	        "tags": ["billing"],
	        "requestBody": {
	          "content": {
	            "application/json": {"schema": {"type": "object"}}
	          }
	        }
	      }
	    },
	    "/invoices/{id}": {
	      "delete": {"summary": "Delete an invoice"}
	    }
	  }
	}`

	report, err := svc.ImportOpenAPI(ctx, []byte(spec), Options{
		DefaultScope: scope.Scope{Type: scope.Project, ID: "billing"},
	})
	if err != nil {
		t.Fatalf("ImportOpenAPI() error = %v", err)
	}
	if report.Created != 3 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 3 created", report)
	}

	sc := scope.Scope{Type: scope.Project, ID: "billing"}
	got, err := svc.repos[entry.KindTool].GetByIdentity(ctx, sc, "createInvoice")
	if err != nil {
		t.Fatalf("GetByIdentity() error = %v", err)
	}
	if got.Category != "billing" || got.Content.Description != "Create an invoice" {
		t.Errorf("tool = %+v", got)
	}
	if got.Content.Parameters["method"] != "POST" || got.Content.Parameters["path"] != "/invoices" {
		t.Errorf("parameters = %+v", got.Content.Parameters)
	}

	// An operation without an operationId falls back to "METHOD path".
	if _, err := svc.repos[entry.KindTool].GetByIdentity(ctx, sc, "DELETE /invoices/{id}"); err != nil {
		t.Errorf("fallback-named tool missing: %v", err)
	}
}

func TestImportOpenAPIRejectsNonThree(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ImportOpenAPI(context.Background(), []byte(`{"swagger": "2.0", "paths": {"/a": {}}}`), Options{})
	if !memerr.IsCode(err, memerr.CodeValidation) {
		t.Fatalf("error = %v, want VALIDATION", err)
	}
}
