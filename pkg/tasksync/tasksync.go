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

// Package tasksync mirrors an external task database into the local task
// store. Adapters only fetch pages; all mapping, conflict, and lifecycle
// decisions live in the Syncer so every adapter behaves the same way.
//
// Remote calls go through a circuit breaker; an open breaker halts the
// pass. Every pass that touches the store leaves an evidence record,
// including failed passes.
package tasksync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/engram/pkg/breaker"
	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/tasks"
)

// Item is one remote task row. Fields carries the remote properties keyed
// by their remote names; the field mapping picks the ones that matter.
type Item struct {
	ID         string
	Fields     map[string]any
	LastEdited time.Time
}

// Page is one page of remote results.
type Page struct {
	Items      []Item
	NextCursor string
	HasMore    bool
}

// Adapter is the pluggable remote source. QueryDatabase fetches one page;
// an empty cursor starts from the beginning.
type Adapter interface {
	QueryDatabase(ctx context.Context, cursor string) (*Page, error)
}

// NewAdapter constructs the adapter a config section names.
func NewAdapter(cfg config.SyncAdapterConfig) (Adapter, error) {
	switch cfg.Type {
	case "http":
		return newHTTPAdapter(cfg)
	}
	return nil, memerr.NotImplemented(fmt.Sprintf("sync adapter type %q", cfg.Type))
}

// mapStatus folds remote status labels onto the local workflow. Unknown
// labels land on open rather than failing the item.
func mapStatus(s string) tasks.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done":
		return tasks.StatusDone
	case "in progress", "in_progress":
		return tasks.StatusInProgress
	case "blocked":
		return tasks.StatusBlocked
	case "review":
		return tasks.StatusReview
	case "backlog":
		return tasks.StatusBacklog
	case "cancelled", "wont_do":
		return tasks.StatusWontDo
	case "open":
		return tasks.StatusOpen
	}
	return tasks.StatusOpen
}

// defaultMapping maps task fields to identically named remote fields.
var defaultMapping = map[string]string{
	"title":       "title",
	"description": "description",
	"status":      "status",
	"priority":    "priority",
	"assignee":    "assignee",
}

// Result summarizes one sync pass.
type Result struct {
	Adapter     string   `json:"adapter"`
	Pages       int      `json:"pages"`
	Items       int      `json:"items"`
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Unchanged   int      `json:"unchanged"`
	Deactivated int      `json:"deactivated"`
	Failed      int      `json:"failed"`
	DryRun      bool     `json:"dryRun,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Syncer drives one adapter against the task store.
type Syncer struct {
	name     string
	adapter  Adapter
	tasks    *tasks.Tasks
	evidence *tasks.Evidence
	mapping  map[string]string
	dryRun   bool
	br       *breaker.Breaker

	// lastSync is zero until the first successful pass. Absent-item
	// soft deletion only runs on full passes, before a watermark exists.
	lastSync time.Time
}

// NewSyncer wires an adapter to the task store. The name prefixes external
// ids so several adapters can share one store.
func NewSyncer(name string, adapter Adapter, taskRepo *tasks.Tasks, evidence *tasks.Evidence, cfg config.SyncAdapterConfig) *Syncer {
	mapping := make(map[string]string, len(defaultMapping))
	for field, remote := range defaultMapping {
		mapping[field] = remote
	}
	for field, remote := range cfg.FieldMapping {
		mapping[field] = remote
	}
	return &Syncer{
		name:     name,
		adapter:  adapter,
		tasks:    taskRepo,
		evidence: evidence,
		mapping:  mapping,
		dryRun:   cfg.DryRun,
		br:       breaker.New(breaker.Settings{Name: "sync:" + name}),
	}
}

// Sync runs one full pass. The returned Result is valid even when err is
// non-nil; it covers the work done before the failure.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	res := &Result{Adapter: s.name, DryRun: s.dryRun}
	seen := make(map[string]bool)

	cursor := ""
	for {
		var page *Page
		err := s.br.Do(func() error {
			p, err := s.adapter.QueryDatabase(ctx, cursor)
			page = p
			return err
		})
		if err != nil {
			s.record(ctx, res, err)
			return res, err
		}
		res.Pages++
		res.Items += len(page.Items)

		for _, item := range page.Items {
			externalID := s.name + ":" + item.ID
			seen[externalID] = true
			if err := s.applyItem(ctx, externalID, item, res); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
			}
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if s.lastSync.IsZero() {
		if err := s.deactivateAbsent(ctx, seen, res); err != nil {
			s.record(ctx, res, err)
			return res, err
		}
	}

	s.record(ctx, res, nil)
	if !s.dryRun {
		s.lastSync = time.Now().UTC()
	}
	return res, nil
}

func (s *Syncer) applyItem(ctx context.Context, externalID string, item Item, res *Result) error {
	title := s.stringField(item, "title")
	if title == "" {
		return memerr.Validation("remote item has no title field %q", s.mapping["title"])
	}
	status := mapStatus(s.stringField(item, "status"))
	description := s.stringField(item, "description")
	assignee := s.stringField(item, "assignee")
	priority := s.intField(item, "priority")
	lastEdited := item.LastEdited.UTC().Format(time.RFC3339)

	existing, err := s.tasks.ByExternalID(ctx, externalID)
	switch {
	case memerr.IsCode(err, memerr.CodeNotFound):
		res.Created++
		if s.dryRun {
			return nil
		}
		_, err := s.tasks.Create(ctx, &tasks.Task{
			ExternalID:  externalID,
			Title:       title,
			Description: description,
			Status:      status,
			Priority:    priority,
			Assignee:    assignee,
			Metadata:    s.remoteMetadata(item.ID, lastEdited),
		})
		return err
	case err != nil:
		return err
	}

	if meta, ok := existing.Metadata["remoteLastEdited"].(string); ok && meta == lastEdited {
		res.Unchanged++
		return nil
	}

	res.Updated++
	if s.dryRun {
		return nil
	}
	_, err = s.tasks.Update(ctx, existing.ID, tasks.Patch{
		Title:       &title,
		Description: &description,
		Status:      &status,
		Priority:    &priority,
		Assignee:    &assignee,
		Metadata:    s.remoteMetadata(item.ID, lastEdited),
	})
	return err
}

// deactivateAbsent soft-deletes local tasks this adapter owns that the
// remote no longer returns.
func (s *Syncer) deactivateAbsent(ctx context.Context, seen map[string]bool, res *Result) error {
	local, err := s.tasks.List(ctx, tasks.ListFilter{})
	if err != nil {
		return err
	}
	prefix := s.name + ":"
	for _, t := range local {
		if !strings.HasPrefix(t.ExternalID, prefix) || seen[t.ExternalID] {
			continue
		}
		res.Deactivated++
		if s.dryRun {
			continue
		}
		if err := s.tasks.Deactivate(ctx, t.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) remoteMetadata(pageID, lastEdited string) map[string]any {
	return map[string]any{
		"syncAdapter":      s.name,
		"remotePageId":     pageID,
		"remoteLastEdited": lastEdited,
	}
}

// record appends the pass evidence. Dry runs write nothing.
func (s *Syncer) record(ctx context.Context, res *Result, passErr error) {
	if s.dryRun {
		return
	}
	summary := fmt.Sprintf("sync %s: %d created, %d updated, %d unchanged, %d deactivated, %d failed",
		s.name, res.Created, res.Updated, res.Unchanged, res.Deactivated, res.Failed)
	data := map[string]any{
		"adapter":     res.Adapter,
		"pages":       res.Pages,
		"items":       res.Items,
		"created":     res.Created,
		"updated":     res.Updated,
		"unchanged":   res.Unchanged,
		"deactivated": res.Deactivated,
		"failed":      res.Failed,
	}
	if passErr != nil {
		summary = fmt.Sprintf("sync %s failed: %v", s.name, passErr)
		data["error"] = passErr.Error()
	}
	if _, err := s.evidence.Record(ctx, &tasks.EvidenceRecord{
		Kind:    "sync",
		Summary: summary,
		Data:    data,
	}); err != nil {
		slog.Warn("failed to record sync evidence", "adapter", s.name, "error", err)
	}
}

func (s *Syncer) stringField(item Item, field string) string {
	v, ok := item.Fields[s.mapping[field]]
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

func (s *Syncer) intField(item Item, field string) int {
	v, ok := item.Fields[s.mapping[field]]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case float64:
		return int(x)
	case string:
		n, err := strconv.Atoi(x)
		if err == nil {
			return n
		}
	}
	return 0
}
