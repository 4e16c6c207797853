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

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/tasks"
)

type taskParams struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	Status      string         `json:"status"`
	Priority    *int           `json:"priority"`
	Assignee    *string        `json:"assignee"`
	Metadata    map[string]any `json:"metadata"`
	Limit       int            `json:"limit"`
}

type evidenceParams struct {
	TaskID  string         `json:"taskId"`
	Kind    string         `json:"kind"`
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data"`
	Limit   int            `json:"limit"`
}

func registerTaskTools(reg *Registry, deps Deps) error {
	if err := reg.Register(&Tool{
		Name:        "memory_task",
		Description: "Track work items with a status workflow",
		Actions: []Action{
			{Name: "add", Description: "Create a task", Params: taskParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p taskParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				task := &tasks.Task{
					ProjectID: p.ProjectID,
					Title:     p.Title,
					Status:    tasks.Status(p.Status),
					Metadata:  p.Metadata,
				}
				if p.Description != nil {
					task.Description = *p.Description
				}
				if p.Priority != nil {
					task.Priority = *p.Priority
				}
				if p.Assignee != nil {
					task.Assignee = *p.Assignee
				}
				return deps.Tasks.Create(ctx, task)
			}},
			{Name: "update", Description: "Patch a task", Params: taskParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p taskParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				if p.ID == "" {
					return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "id").Field("id").Build()
				}
				patch := tasks.Patch{
					Description: p.Description,
					Priority:    p.Priority,
					Assignee:    p.Assignee,
					Metadata:    p.Metadata,
				}
				if p.Title != "" {
					patch.Title = &p.Title
				}
				if p.Status != "" {
					st := tasks.Status(p.Status)
					patch.Status = &st
				}
				return deps.Tasks.Update(ctx, p.ID, patch)
			}},
			{Name: "list", Description: "List tasks by project and status", Params: taskParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p taskParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				list, err := deps.Tasks.List(ctx, tasks.ListFilter{
					ProjectID: p.ProjectID,
					Status:    tasks.Status(p.Status),
					Limit:     p.Limit,
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"tasks": list, "count": len(list)}, nil
			}},
			{Name: "get", Description: "Fetch a task by id", Params: taskParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				return deps.Tasks.Get(ctx, id)
			}},
			{Name: "complete", Description: "Mark a task done", Params: taskParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				st := tasks.StatusDone
				return deps.Tasks.Update(ctx, id, tasks.Patch{Status: &st})
			}},
			{Name: "deactivate", Description: "Soft-delete a task", Params: taskParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				if err := deps.Tasks.Deactivate(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "isActive": false}, nil
			}},
		},
	}); err != nil {
		return err
	}

	return reg.Register(&Tool{
		Name:        "memory_evidence",
		Description: "Append and read task evidence records",
		Actions: []Action{
			{Name: "record", Description: "Append an evidence record", Params: evidenceParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p evidenceParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				return deps.Evidence.Record(ctx, &tasks.EvidenceRecord{
					TaskID:  p.TaskID,
					Kind:    p.Kind,
					Summary: p.Summary,
					Data:    p.Data,
				})
			}},
			{Name: "list", Description: "List evidence for a task", Params: evidenceParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p evidenceParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				if p.TaskID == "" {
					return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "taskId").Field("taskId").Build()
				}
				recs, err := deps.Evidence.ForTask(ctx, p.TaskID, p.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"evidence": recs, "count": len(recs)}, nil
			}},
		},
	})
}
