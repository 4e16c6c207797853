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

package tasksync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/storage"
	"github.com/kadirpekel/engram/pkg/tasks"
)

// fakeAdapter serves canned pages and can fail on demand.
type fakeAdapter struct {
	pages []Page
	err   error
	calls int
}

func (f *fakeAdapter) QueryDatabase(ctx context.Context, cursor string) (*Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	idx := 0
	if cursor != "" {
		for i, p := range f.pages[:len(f.pages)-1] {
			if p.NextCursor == cursor {
				idx = i + 1
			}
		}
	}
	page := f.pages[idx]
	return &page, nil
}

func remoteItem(id, title, status string, edited time.Time) Item {
	return Item{
		ID:         id,
		LastEdited: edited,
		Fields: map[string]any{
			"title":    title,
			"status":   status,
			"priority": float64(2),
			"assignee": "ada",
		},
	}
}

func newTestSyncer(t *testing.T, adapter Adapter, cfg config.SyncAdapterConfig) (*Syncer, *tasks.Tasks, *tasks.Evidence) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	taskRepo := tasks.NewTasks(store)
	evidence := tasks.NewEvidence(store)
	return NewSyncer("tracker", adapter, taskRepo, evidence, cfg), taskRepo, evidence
}

func TestMapStatus(t *testing.T) {
	cases := map[string]tasks.Status{
		"Done":        tasks.StatusDone,
		"In Progress": tasks.StatusInProgress,
		"in_progress": tasks.StatusInProgress,
		"Blocked":     tasks.StatusBlocked,
		"Review":      tasks.StatusReview,
		"Backlog":     tasks.StatusBacklog,
		"Cancelled":   tasks.StatusWontDo,
		"open":        tasks.StatusOpen,
		"Triage":      tasks.StatusOpen,
		"":            tasks.StatusOpen,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSyncCreatesTasks(t *testing.T) {
	edited := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{
			remoteItem("p1", "Fix login", "In Progress", edited),
			remoteItem("p2", "Write docs", "Backlog", edited),
		},
	}}}
	syncer, taskRepo, _ := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})
	ctx := context.Background()

	res, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Created != 2 || res.Items != 2 || res.Pages != 1 {
		t.Errorf("result = %+v, want 2 created", res)
	}

	got, err := taskRepo.ByExternalID(ctx, "tracker:p1")
	if err != nil {
		t.Fatalf("ByExternalID() error = %v", err)
	}
	if got.Title != "Fix login" || got.Status != tasks.StatusInProgress || got.Priority != 2 || got.Assignee != "ada" {
		t.Errorf("task = %+v", got)
	}
	if got.Metadata["remotePageId"] != "p1" || got.Metadata["syncAdapter"] != "tracker" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if got.Metadata["remoteLastEdited"] != edited.Format(time.RFC3339) {
		t.Errorf("remoteLastEdited = %v", got.Metadata["remoteLastEdited"])
	}
}

func TestSyncPagination(t *testing.T) {
	edited := time.Now().UTC()
	adapter := &fakeAdapter{pages: []Page{
		{Items: []Item{remoteItem("p1", "one", "open", edited)}, NextCursor: "c2", HasMore: true},
		{Items: []Item{remoteItem("p2", "two", "open", edited)}},
	}}
	syncer, _, _ := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})

	res, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Pages != 2 || res.Created != 2 {
		t.Errorf("result = %+v, want 2 pages and 2 created", res)
	}
}

func TestSyncUpdateAndUnchanged(t *testing.T) {
	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{remoteItem("p1", "Fix login", "open", first)},
	}}}
	syncer, taskRepo, _ := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})
	ctx := context.Background()

	if _, err := syncer.Sync(ctx); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	// Same last-edited timestamp: no write.
	res, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if res.Unchanged != 1 || res.Updated != 0 {
		t.Errorf("result = %+v, want 1 unchanged", res)
	}

	// Remote edit: status and title move, version bumps.
	adapter.pages[0].Items[0] = remoteItem("p1", "Fix login flow", "Done", first.Add(time.Hour))
	res, err = syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("third Sync() error = %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("result = %+v, want 1 updated", res)
	}
	got, err := taskRepo.ByExternalID(ctx, "tracker:p1")
	if err != nil {
		t.Fatalf("ByExternalID() error = %v", err)
	}
	if got.Title != "Fix login flow" || got.Status != tasks.StatusDone || got.Version != 2 {
		t.Errorf("task = %+v", got)
	}
}

func TestSyncSoftDeletesAbsent(t *testing.T) {
	edited := time.Now().UTC()
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{remoteItem("p1", "keep", "open", edited)},
	}}}
	syncer, taskRepo, _ := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})
	ctx := context.Background()

	// A task this adapter owns but the remote no longer returns.
	stale, err := taskRepo.Create(ctx, &tasks.Task{ExternalID: "tracker:gone", Title: "stale"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// A foreign task is left alone.
	if _, err := taskRepo.Create(ctx, &tasks.Task{ExternalID: "other:x", Title: "foreign"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Deactivated != 1 {
		t.Errorf("result = %+v, want 1 deactivated", res)
	}

	if _, err := taskRepo.Get(ctx, stale.ID); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	active, err := taskRepo.List(ctx, tasks.ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for _, task := range active {
		if task.ID == stale.ID {
			t.Errorf("stale task still active")
		}
	}
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	edited := time.Now().UTC()
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{remoteItem("p1", "new", "open", edited)},
	}}}
	syncer, taskRepo, evidence := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http", DryRun: true})
	ctx := context.Background()

	res, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !res.DryRun || res.Created != 1 {
		t.Errorf("result = %+v, want dry-run with 1 would-be create", res)
	}

	got, err := taskRepo.List(ctx, tasks.ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("dry run created %d tasks", len(got))
	}
	recs, err := evidence.ByKind(ctx, "sync", 0)
	if err != nil {
		t.Fatalf("ByKind() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("dry run wrote %d evidence records", len(recs))
	}
}

func TestSyncRecordsEvidence(t *testing.T) {
	edited := time.Now().UTC()
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{remoteItem("p1", "one", "open", edited)},
	}}}
	syncer, _, evidence := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})
	ctx := context.Background()

	if _, err := syncer.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	recs, err := evidence.ByKind(ctx, "sync", 0)
	if err != nil {
		t.Fatalf("ByKind() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("evidence records = %d, want 1", len(recs))
	}
	if recs[0].Data["created"] != float64(1) {
		t.Errorf("evidence data = %+v", recs[0].Data)
	}
}

func TestSyncFailureStillRecordsEvidence(t *testing.T) {
	adapter := &fakeAdapter{err: errors.New("remote down")}
	syncer, _, evidence := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})
	ctx := context.Background()

	if _, err := syncer.Sync(ctx); err == nil {
		t.Fatal("Sync() succeeded, want error")
	}
	recs, err := evidence.ByKind(ctx, "sync", 0)
	if err != nil {
		t.Fatalf("ByKind() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("evidence records = %d, want 1", len(recs))
	}
	if recs[0].Data["error"] == nil {
		t.Errorf("evidence data = %+v, want error detail", recs[0].Data)
	}
}

func TestFieldMappingOverride(t *testing.T) {
	edited := time.Now().UTC()
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{{
			ID:         "p1",
			LastEdited: edited,
			Fields: map[string]any{
				"Name":   "Mapped title",
				"State":  "Review",
				"Owner":  "grace",
				"Weight": "7",
			},
		}},
	}}}
	cfg := config.SyncAdapterConfig{Type: "http", FieldMapping: map[string]string{
		"title":    "Name",
		"status":   "State",
		"assignee": "Owner",
		"priority": "Weight",
	}}
	syncer, taskRepo, _ := newTestSyncer(t, adapter, cfg)
	ctx := context.Background()

	if _, err := syncer.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	got, err := taskRepo.ByExternalID(ctx, "tracker:p1")
	if err != nil {
		t.Fatalf("ByExternalID() error = %v", err)
	}
	if got.Title != "Mapped title" || got.Status != tasks.StatusReview || got.Assignee != "grace" || got.Priority != 7 {
		t.Errorf("task = %+v", got)
	}
}

func TestSyncMissingTitleIsItemError(t *testing.T) {
	edited := time.Now().UTC()
	adapter := &fakeAdapter{pages: []Page{{
		Items: []Item{
			{ID: "p1", LastEdited: edited, Fields: map[string]any{"status": "open"}},
			remoteItem("p2", "good", "open", edited),
		},
	}}}
	syncer, _, _ := newTestSyncer(t, adapter, config.SyncAdapterConfig{Type: "http"})

	res, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Failed != 1 || res.Created != 1 {
		t.Errorf("result = %+v, want 1 failed and 1 created", res)
	}
}

func TestNewAdapterUnknownType(t *testing.T) {
	_, err := NewAdapter(config.SyncAdapterConfig{Type: "carrier-pigeon"})
	if err == nil {
		t.Fatal("NewAdapter() succeeded, want error")
	}
}

func TestNewHTTPAdapterValidation(t *testing.T) {
	if _, err := NewAdapter(config.SyncAdapterConfig{Type: "http"}); err == nil {
		t.Error("missing base_url accepted")
	}
	if _, err := NewAdapter(config.SyncAdapterConfig{Type: "http", BaseURL: "http://x"}); err == nil {
		t.Error("missing database accepted")
	}
	a, err := NewAdapter(config.SyncAdapterConfig{Type: "http", BaseURL: "http://x/", Database: "db"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if a == nil {
		t.Fatal("adapter is nil")
	}
}
