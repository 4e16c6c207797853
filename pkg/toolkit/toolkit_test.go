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

package toolkit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/engram/pkg/capture"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/graph"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/query"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/session"
	"github.com/kadirpekel/engram/pkg/storage"
	"github.com/kadirpekel/engram/pkg/tasks"
)

func newFixture(t *testing.T) (*Registry, *Dispatcher, Deps) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "toolkit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	resolver := repository.NewScopeResolver(store)
	repos := make(map[entry.Kind]*repository.Entries, len(entry.Kinds))
	for _, k := range entry.Kinds {
		repos[k] = repository.NewEntries(store, k, repository.WithPolicy(scope.Policy{Mode: scope.Permissive}))
	}

	deps := Deps{
		Store:     store,
		Repos:     repos,
		Projects:  repository.NewProjects(store),
		Conflicts: repository.NewConflicts(store),
		Resolver:  resolver,
		Query:     query.NewService(repos, resolver, query.Options{}),
		Capture:   capture.NewPipeline(repos, capture.PipelineOptions{}),
		Sessions:  session.NewSessions(store),
		Episodes:  session.NewEpisodes(store),
		Tasks:     tasks.NewTasks(store),
		Evidence:  tasks.NewEvidence(store),
		Graph:     graph.New(store),
		AgentID:   "test-agent",
	}
	reg, err := NewMemoryRegistry(deps)
	if err != nil {
		t.Fatalf("NewMemoryRegistry() error = %v", err)
	}
	return reg, NewDispatcher(reg), deps
}

func TestRegistryCoversToolFamilies(t *testing.T) {
	reg, _, _ := newFixture(t)

	want := []string{
		"memory_health", "memory_project", "memory_tool", "memory_guideline",
		"memory_knowledge", "memory_experience", "memory_query", "memory_conflict",
		"memory_remember", "memory_suggest", "memory_observe", "memory_quickstart",
		"memory_task", "memory_evidence", "graph_node", "graph_edge",
		"memory_onboard", "memory_context",
	}
	for _, name := range want {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if reg.Count() != len(want) {
		t.Errorf("registered tools = %d, want %d", reg.Count(), len(want))
	}

	// The operation surface counts one per action plus one per simple tool.
	ops := 0
	for _, d := range reg.Descriptors() {
		if d.HasActions {
			ops += len(d.Actions)
		} else {
			ops++
		}
	}
	if ops < 42 {
		t.Errorf("operations = %d, want at least 42", ops)
	}
}

func TestDispatcherActionValidation(t *testing.T) {
	_, d, _ := newFixture(t)
	ctx := context.Background()

	if _, err := d.Execute(ctx, "no_such_tool", nil); !memerr.IsCode(err, memerr.CodeNotFound) {
		t.Errorf("unknown tool error = %v, want NOT_FOUND", err)
	}

	_, err := d.Execute(ctx, "memory_tool", map[string]any{})
	if !memerr.IsCode(err, memerr.CodeMissingAction) {
		t.Fatalf("missing action error = %v, want MISSING_ACTION", err)
	}
	var me *memerr.Error
	if !asMemErr(err, &me) || me.Context["validActions"] == nil {
		t.Errorf("missing action context = %+v, want validActions", me)
	}

	if _, err := d.Execute(ctx, "memory_tool", map[string]any{"action": 7}); !memerr.IsCode(err, memerr.CodeInvalidActionType) {
		t.Errorf("wrong-typed action error = %v, want INVALID_ACTION_TYPE", err)
	}

	_, err = d.Execute(ctx, "memory_tool", map[string]any{"action": "explode"})
	if !memerr.IsCode(err, memerr.CodeInvalidAction) {
		t.Fatalf("unknown action error = %v, want INVALID_ACTION", err)
	}
	if asMemErr(err, &me) && me.Context["providedAction"] != "explode" {
		t.Errorf("invalid action context = %+v, want providedAction=explode", me.Context)
	}

	// Simple tools ignore a supplied action.
	if _, err := d.Execute(ctx, "memory_health", map[string]any{"action": "whatever"}); err != nil {
		t.Errorf("simple tool with action error = %v", err)
	}
}

func asMemErr(err error, target **memerr.Error) bool {
	e, ok := err.(*memerr.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestEntryToolLifecycle(t *testing.T) {
	_, d, _ := newFixture(t)
	ctx := context.Background()

	res, err := d.Execute(ctx, "memory_tool", map[string]any{
		"action": "add", "name": "foo", "description": "bar",
	})
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	created := res.(*entry.Entry)
	if created.Name != "foo" || created.CurrentVersion != 1 || !created.IsActive {
		t.Errorf("created = %+v, want foo/v1/active", created)
	}

	res, err = d.Execute(ctx, "memory_tool", map[string]any{"action": "list"})
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	listing := res.(map[string]any)
	if listing["count"] != 1 {
		t.Errorf("count = %v, want 1", listing["count"])
	}

	res, err = d.Execute(ctx, "memory_tool", map[string]any{
		"action": "update", "id": created.ID, "description": "sharper",
	})
	if err != nil {
		t.Fatalf("update error = %v", err)
	}
	if updated := res.(*entry.Entry); updated.CurrentVersion != 2 || updated.Content.Description != "sharper" {
		t.Errorf("updated = %+v, want v2 with new description", updated)
	}

	if _, err := d.Execute(ctx, "memory_tool", map[string]any{"action": "deactivate", "id": created.ID}); err != nil {
		t.Fatalf("deactivate error = %v", err)
	}
	res, _ = d.Execute(ctx, "memory_tool", map[string]any{"action": "list"})
	if res.(map[string]any)["count"] != 0 {
		t.Errorf("count after deactivate = %v, want 0", res.(map[string]any)["count"])
	}
}

func TestExperiencePromotion(t *testing.T) {
	_, d, _ := newFixture(t)
	ctx := context.Background()

	res, err := d.Execute(ctx, "memory_experience", map[string]any{
		"action":   "learn",
		"title":    "retry with backoff on flaky registry",
		"scenario": "npm install fails intermittently in CI",
		"outcome":  "3 retries with exponential backoff fixed it",
		"trajectory": []any{
			map[string]any{"action": "retry", "tool": "shell"},
		},
	})
	if err != nil {
		t.Fatalf("learn error = %v", err)
	}
	exp := res.(*entry.Entry)
	if exp.Level != entry.LevelCase {
		t.Errorf("level = %s, want case default", exp.Level)
	}

	res, err = d.Execute(ctx, "memory_experience", map[string]any{
		"action": "promote", "id": exp.ID, "toolName": "ci_retry",
	})
	if err != nil {
		t.Fatalf("promote error = %v", err)
	}
	tool := res.(map[string]any)["tool"].(*entry.Entry)
	if tool.Kind != entry.KindTool || tool.PromotedFromID != exp.ID {
		t.Errorf("promoted tool = %+v", tool)
	}

	// A second promotion conflicts.
	if _, err := d.Execute(ctx, "memory_experience", map[string]any{
		"action": "promote", "id": exp.ID,
	}); !memerr.IsCode(err, memerr.CodeConflict) {
		t.Errorf("re-promote error = %v, want CONFLICT", err)
	}
}

func TestQueryToolSearch(t *testing.T) {
	_, d, _ := newFixture(t)
	ctx := context.Background()

	if _, err := d.Execute(ctx, "memory_knowledge", map[string]any{
		"action": "add", "name": "sqlite wal", "content": "sqlite uses write ahead logging for concurrency",
	}); err != nil {
		t.Fatalf("add knowledge error = %v", err)
	}

	res, err := d.Execute(ctx, "memory_query", map[string]any{
		"action": "search", "query": "write ahead logging",
	})
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	resp := res.(query.Response)
	if len(resp.Results) != 1 || resp.Results[0].Entry.Name != "sqlite wal" {
		t.Errorf("results = %+v, want the wal entry", resp.Results)
	}

	if _, err := d.Execute(ctx, "memory_query", map[string]any{
		"action": "search", "types": []any{"spellbook"},
		"query": "x",
	}); !memerr.IsCode(err, memerr.CodeValidation) {
		t.Errorf("bad type error = %v, want VALIDATION", err)
	}
}

func TestRememberExplicitType(t *testing.T) {
	_, d, deps := newFixture(t)
	ctx := context.Background()

	res, err := d.Execute(ctx, "memory_remember", map[string]any{
		"content": "Use prepared statements for all SQL to avoid injection.",
		"type":    "guideline",
	})
	if err != nil {
		t.Fatalf("remember error = %v", err)
	}
	if res.(map[string]any)["stored"] != true {
		t.Errorf("result = %v, want stored=true", res)
	}

	list, err := deps.Repos[entry.KindGuideline].List(ctx, entry.ListFilter{Scope: scope.GlobalScope}, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("guidelines = %d, want 1", len(list))
	}
}

// A user correction following an assistant turn must flow through trigger
// detection and auto-store the extracted rule.
func TestObserveFeedsCapture(t *testing.T) {
	_, d, deps := newFixture(t)
	ctx := context.Background()

	if _, err := d.Execute(ctx, "memory_observe", map[string]any{
		"sessionId": "s1",
		"role":      "assistant",
		"content":   "I committed the change without running the formatter.",
	}); err != nil {
		t.Fatalf("observe (assistant) error = %v", err)
	}
	res, err := d.Execute(ctx, "memory_observe", map[string]any{
		"sessionId": "s1",
		"content":   "no, always run gofmt before committing changes",
	})
	if err != nil {
		t.Fatalf("observe (correction) error = %v", err)
	}
	if res.(map[string]any)["observed"] != true {
		t.Errorf("result = %v, want observed=true", res)
	}

	list, err := deps.Repos[entry.KindGuideline].List(ctx, entry.ListFilter{Scope: scope.GlobalScope}, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("guidelines = %d, want 1 auto-stored from the correction", len(list))
	}

	if _, err := d.Execute(ctx, "memory_observe", map[string]any{"content": "x"}); !memerr.IsCode(err, memerr.CodeValidation) {
		t.Errorf("observe without sessionId error = %v, want VALIDATION", err)
	}
}

func TestTaskAndEvidenceTools(t *testing.T) {
	_, d, _ := newFixture(t)
	ctx := context.Background()

	res, err := d.Execute(ctx, "memory_task", map[string]any{
		"action": "add", "title": "ship exporter",
	})
	if err != nil {
		t.Fatalf("add task error = %v", err)
	}
	task := res.(*tasks.Task)

	if _, err := d.Execute(ctx, "memory_evidence", map[string]any{
		"action": "record", "taskId": task.ID, "kind": "test", "summary": "all green",
	}); err != nil {
		t.Fatalf("record evidence error = %v", err)
	}

	res, err = d.Execute(ctx, "memory_task", map[string]any{"action": "complete", "id": task.ID})
	if err != nil {
		t.Fatalf("complete error = %v", err)
	}
	if done := res.(*tasks.Task); done.Status != tasks.StatusDone {
		t.Errorf("status = %s, want done", done.Status)
	}

	res, err = d.Execute(ctx, "memory_evidence", map[string]any{"action": "list", "taskId": task.ID})
	if err != nil {
		t.Fatalf("list evidence error = %v", err)
	}
	if res.(map[string]any)["count"] != 1 {
		t.Errorf("evidence count = %v, want 1", res.(map[string]any)["count"])
	}
}

func TestGraphTools(t *testing.T) {
	_, d, _ := newFixture(t)
	ctx := context.Background()

	mk := func(label string) *graph.Node {
		res, err := d.Execute(ctx, "graph_node", map[string]any{"action": "add", "label": label})
		if err != nil {
			t.Fatalf("add node %q error = %v", label, err)
		}
		return res.(*graph.Node)
	}
	a, b := mk("api"), mk("db")

	if _, err := d.Execute(ctx, "graph_edge", map[string]any{
		"action": "add", "from": a.ID, "to": b.ID, "type": "reads",
	}); err != nil {
		t.Fatalf("add edge error = %v", err)
	}

	res, err := d.Execute(ctx, "graph_node", map[string]any{"action": "get", "id": a.ID})
	if err != nil {
		t.Fatalf("get node error = %v", err)
	}
	neighbors := res.(map[string]any)["neighbors"].([]*graph.Node)
	if len(neighbors) != 1 || neighbors[0].Label != "db" {
		t.Errorf("neighbors = %+v, want [db]", neighbors)
	}
}

func TestQuickstartSeedsProject(t *testing.T) {
	_, d, deps := newFixture(t)
	ctx := context.Background()

	res, err := d.Execute(ctx, "memory_quickstart", map[string]any{"name": "acme"})
	if err != nil {
		t.Fatalf("quickstart error = %v", err)
	}
	seeded := res.(map[string]any)["seeded"].([]string)
	if len(seeded) != 3 {
		t.Errorf("seeded = %v, want 3 guidelines", seeded)
	}

	proj, err := deps.Projects.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get project: %v", err)
	}
	list, err := deps.Repos[entry.KindGuideline].List(ctx, entry.ListFilter{
		Scope: scope.Scope{Type: scope.Project, ID: proj.ID},
	}, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Errorf("guidelines in project scope = %d, want 3", len(list))
	}

	// Re-running is idempotent: existing names conflict and are skipped.
	res, err = d.Execute(ctx, "memory_quickstart", map[string]any{"name": "acme"})
	if err != nil {
		t.Fatalf("second quickstart error = %v", err)
	}
	if seeded := res.(map[string]any)["seeded"].([]string); len(seeded) != 0 {
		t.Errorf("second run seeded = %v, want none", seeded)
	}
}

func TestParamSchemaReflectsActions(t *testing.T) {
	reg, _, _ := newFixture(t)

	tool, _ := reg.Get("memory_tool")
	schemas := ParamSchema(tool)
	if len(schemas) != 5 {
		t.Fatalf("schemas = %d, want one per action", len(schemas))
	}
	add, ok := schemas["add"]
	if !ok || add == nil {
		t.Fatal("no schema for the add action")
	}

	health, _ := reg.Get("memory_health")
	if s := ParamSchema(health); s[""] == nil {
		t.Error("simple tool schema missing")
	}
}
