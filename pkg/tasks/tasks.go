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

// Package tasks persists work items and their evidence trail. Tasks come
// from agents directly or from an external tracker through the sync
// adapter; either way they share one status workflow.
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Status is the task workflow state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusWontDo     Status = "wont_do"
)

// Valid reports whether s is a known workflow state.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusBacklog, StatusInProgress, StatusBlocked,
		StatusReview, StatusDone, StatusWontDo:
		return true
	}
	return false
}

// Task is one tracked work item.
type Task struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId,omitempty"`
	ExternalID  string         `json:"externalId,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      Status         `json:"status"`
	Priority    int            `json:"priority,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Version     int            `json:"version"`
	IsActive    bool           `json:"isActive"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Patch carries partial task updates. Nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *int
	Assignee    *string
	Metadata    map[string]any
}

// ListFilter narrows List.
type ListFilter struct {
	ProjectID       string
	Status          Status
	IncludeInactive bool
	Limit           int
}

// Tasks persists task rows. Every update bumps the version.
type Tasks struct {
	store *storage.Store
}

func NewTasks(store *storage.Store) *Tasks {
	return &Tasks{store: store}
}

// Create inserts a task. Status defaults to open.
func (t *Tasks) Create(ctx context.Context, task *Task) (*Task, error) {
	if task.Title == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("task title is required").Field("title").Build()
	}
	if task.Status == "" {
		task.Status = StatusOpen
	}
	if !task.Status.Valid() {
		return nil, memerr.New(memerr.CodeValidation).
			Message("unknown task status %q", task.Status).Field("status").Build()
	}

	now := time.Now().UTC()
	task.ID = uuid.NewString()
	task.Version = 1
	task.IsActive = true
	task.CreatedAt = now
	task.UpdatedAt = now

	meta, err := marshalJSON(task.Metadata)
	if err != nil {
		return nil, err
	}
	err = t.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO tasks (id, project_id, external_id, title, description, status, priority, assignee, metadata, version, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 1, ?, ?)`,
			task.ID, nullable(task.ProjectID), task.ExternalID, task.Title, task.Description,
			string(task.Status), task.Priority, task.Assignee, meta, now, now)
		if err != nil {
			return memerr.Database("insert task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns a task by id, active or not.
func (t *Tasks) Get(ctx context.Context, id string) (*Task, error) {
	row := t.store.DB().QueryRowContext(ctx, taskSelect+" WHERE id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, memerr.NotFound("task", id)
	}
	if err != nil {
		return nil, memerr.Database("get task", err)
	}
	return task, nil
}

// ByExternalID returns the task mirroring a remote item, if any.
func (t *Tasks) ByExternalID(ctx context.Context, externalID string) (*Task, error) {
	row := t.store.DB().QueryRowContext(ctx, taskSelect+" WHERE external_id = ?", externalID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, memerr.NotFound("task", externalID)
	}
	if err != nil {
		return nil, memerr.Database("get task by external id", err)
	}
	return task, nil
}

// List returns tasks, newest first. Inactive rows are hidden unless asked for.
func (t *Tasks) List(ctx context.Context, f ListFilter) ([]*Task, error) {
	q := taskSelect + " WHERE 1=1"
	var args []any
	if !f.IncludeInactive {
		q += " AND is_active = 1"
	}
	if f.ProjectID != "" {
		q += " AND project_id = ?"
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := t.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list tasks", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, memerr.Database("scan task", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Update applies a patch and bumps the version.
func (t *Tasks) Update(ctx context.Context, id string, patch Patch) (*Task, error) {
	task, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, memerr.New(memerr.CodeValidation).
				Message("unknown task status %q", *patch.Status).Field("status").Build()
		}
		task.Status = *patch.Status
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	if patch.Metadata != nil {
		task.Metadata = patch.Metadata
	}
	task.Version++
	task.UpdatedAt = time.Now().UTC()

	meta, err := marshalJSON(task.Metadata)
	if err != nil {
		return nil, err
	}
	err = t.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, assignee = ?, metadata = ?, version = ?, updated_at = ?
WHERE id = ?`,
			task.Title, task.Description, string(task.Status), task.Priority,
			task.Assignee, meta, task.Version, task.UpdatedAt, task.ID)
		if err != nil {
			return memerr.Database("update task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Deactivate soft-deletes a task. The row and its evidence stay queryable.
func (t *Tasks) Deactivate(ctx context.Context, id string) error {
	return t.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE tasks SET is_active = 0, version = version + 1, updated_at = ? WHERE id = ? AND is_active = 1",
			time.Now().UTC(), id)
		if err != nil {
			return memerr.Database("deactivate task", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("task", id)
		}
		return nil
	})
}

const taskSelect = `
SELECT id, ifnull(project_id,''), external_id, title, description, status, priority, assignee, metadata, version, is_active, created_at, updated_at
FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var status, meta string
	if err := row.Scan(&task.ID, &task.ProjectID, &task.ExternalID, &task.Title,
		&task.Description, &status, &task.Priority, &task.Assignee, &meta,
		&task.Version, &task.IsActive, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &task.Metadata)
	}
	return &task, nil
}

func marshalJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", memerr.Internal(err)
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
