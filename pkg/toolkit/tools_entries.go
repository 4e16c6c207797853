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

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/repository"
)

// entryParams covers add and update for the versioned entry families.
// Kind-specific fields are ignored by the kinds they do not apply to.
type entryParams struct {
	scopeParams

	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`

	// Tool.
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Examples    []string       `json:"examples"`

	// Guideline and knowledge.
	Content   string `json:"content"`
	Rationale string `json:"rationale"`
	Priority  *int   `json:"priority"`

	// Knowledge.
	Source     string   `json:"source"`
	Confidence *float64 `json:"confidence"`

	ExpectedVersion int `json:"expectedVersion"`
}

type listParams struct {
	scopeParams

	Category        string `json:"category"`
	Tags            []string `json:"tags"`
	Level           string `json:"level"`
	IncludeInactive bool   `json:"includeInactive"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
}

type idParams struct {
	ID             string `json:"id"`
	IncludeHistory bool   `json:"includeHistory"`
}

func (p entryParams) content(kind entry.Kind) entry.Content {
	switch kind {
	case entry.KindTool:
		return entry.Content{Description: p.Description, Parameters: p.Parameters, Examples: p.Examples}
	case entry.KindKnowledge:
		c := entry.Content{Body: p.Content, Rationale: p.Rationale, Source: p.Source}
		if p.Confidence != nil {
			c.Confidence = *p.Confidence
		}
		return c
	default:
		return entry.Content{Body: p.Content, Rationale: p.Rationale}
	}
}

// hasContent reports whether the call supplied any content field, so
// update knows whether to produce a new content version.
func (p entryParams) hasContent() bool {
	return p.Description != "" || p.Parameters != nil || p.Examples != nil ||
		p.Content != "" || p.Rationale != "" || p.Source != "" || p.Confidence != nil
}

func registerEntryTools(reg *Registry, deps Deps) error {
	families := []struct {
		tool string
		kind entry.Kind
		desc string
	}{
		{"memory_tool", entry.KindTool, "Manage remembered tool definitions"},
		{"memory_guideline", entry.KindGuideline, "Manage behavioral guidelines"},
		{"memory_knowledge", entry.KindKnowledge, "Manage knowledge entries"},
	}
	for _, f := range families {
		repo := deps.Repos[f.kind]
		if err := reg.Register(&Tool{
			Name:        f.tool,
			Description: f.desc,
			Actions: []Action{
				{Name: "add", Description: "Create an entry", Params: entryParams{}, Handler: addEntry(deps, repo, f.kind)},
				{Name: "update", Description: "Patch an entry, producing a new version", Params: entryParams{}, Handler: updateEntry(deps, repo)},
				{Name: "list", Description: "List entries in a scope chain", Params: listParams{}, Handler: listEntries(deps, repo)},
				{Name: "get", Description: "Fetch an entry by id", Params: idParams{}, Handler: getEntry(repo)},
				{Name: "deactivate", Description: "Soft-delete an entry", Params: idParams{}, Handler: deactivateEntry(deps, repo)},
			},
		}); err != nil {
			return err
		}
	}
	if err := registerExperienceTool(reg, deps); err != nil {
		return err
	}
	return registerConflictTool(reg, deps)
}

func addEntry(deps Deps, repo *repository.Entries, kind entry.Kind) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p entryParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}
		e := &entry.Entry{
			Kind:      kind,
			Scope:     sc,
			Name:      p.Name,
			Category:  p.Category,
			Content:   p.content(kind),
			Tags:      p.Tags,
			CreatedBy: deps.agent(),
		}
		if p.Priority != nil {
			e.Priority = *p.Priority
		}
		return repo.Create(ctx, e, false)
	}
}

func updateEntry(deps Deps, repo *repository.Entries) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p entryParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "id").Field("id").Build()
		}

		patch := entry.Patch{
			Priority:        p.Priority,
			Tags:            p.Tags,
			ExpectedVersion: p.ExpectedVersion,
		}
		if p.Name != "" {
			patch.Name = &p.Name
		}
		if p.Category != "" {
			patch.Category = &p.Category
		}
		if p.hasContent() {
			// Merge over the current content so a single-field update does
			// not blank the rest.
			current, err := repo.GetByID(ctx, p.ID, false)
			if err != nil {
				return nil, err
			}
			merged := mergeContent(current.Content, p)
			patch.Content = &merged
		}
		return repo.Update(ctx, p.ID, patch, deps.agent())
	}
}

func mergeContent(base entry.Content, p entryParams) entry.Content {
	if p.Description != "" {
		base.Description = p.Description
	}
	if p.Parameters != nil {
		base.Parameters = p.Parameters
	}
	if p.Examples != nil {
		base.Examples = p.Examples
	}
	if p.Content != "" {
		base.Body = p.Content
	}
	if p.Rationale != "" {
		base.Rationale = p.Rationale
	}
	if p.Source != "" {
		base.Source = p.Source
	}
	if p.Confidence != nil {
		base.Confidence = *p.Confidence
	}
	return base
}

func listEntries(deps Deps, repo *repository.Entries) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p listParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}
		entries, err := repo.List(ctx, entry.ListFilter{
			Scope:           sc,
			Inherit:         p.inherit(),
			IncludeInactive: p.IncludeInactive,
			Category:        p.Category,
			Tags:            p.Tags,
			Level:           entry.ExperienceLevel(p.Level),
			Limit:           p.Limit,
			Offset:          p.Offset,
		}, deps.Resolver)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entries": entries, "count": len(entries)}, nil
	}
}

func getEntry(repo *repository.Entries) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p idParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "id").Field("id").Build()
		}
		e, err := repo.GetByID(ctx, p.ID, true)
		if err != nil {
			return nil, err
		}
		if !p.IncludeHistory {
			return e, nil
		}
		history, err := repo.GetHistory(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entry": e, "history": history}, nil
	}
}

func deactivateEntry(deps Deps, repo *repository.Entries) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		id, err := requireString(params, "id")
		if err != nil {
			return nil, err
		}
		if err := repo.Deactivate(ctx, id, deps.agent()); err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "isActive": false}, nil
	}
}

// experienceParams covers learn and promote.
type experienceParams struct {
	scopeParams

	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Level      string                 `json:"level"`
	Category   string                 `json:"category"`
	Scenario   string                 `json:"scenario"`
	Content    string                 `json:"content"`
	Outcome    string                 `json:"outcome"`
	Trajectory []entry.TrajectoryStep `json:"trajectory"`
	Tags       []string               `json:"tags"`

	// Promote.
	ToolName        string `json:"toolName"`
	ToolDescription string `json:"toolDescription"`
}

func registerExperienceTool(reg *Registry, deps Deps) error {
	repo := deps.Repos[entry.KindExperience]
	return reg.Register(&Tool{
		Name:        "memory_experience",
		Description: "Record and promote learned experiences",
		Actions: []Action{
			{Name: "learn", Description: "Store an experience with its trajectory", Params: experienceParams{}, Handler: learnExperience(deps, repo)},
			{Name: "list", Description: "List experiences in a scope chain", Params: listParams{}, Handler: listEntries(deps, repo)},
			{Name: "get", Description: "Fetch an experience by id", Params: idParams{}, Handler: getEntry(repo)},
			{Name: "promote", Description: "Promote an experience into a tool entry", Params: experienceParams{}, Handler: promoteExperience(deps, repo)},
		},
	})
}

func learnExperience(deps Deps, repo *repository.Entries) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p experienceParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}
		e := &entry.Entry{
			Kind:       entry.KindExperience,
			Scope:      sc,
			Name:       p.Title,
			Category:   p.Category,
			Level:      entry.ExperienceLevel(p.Level),
			Content:    entry.Content{Scenario: p.Scenario, Body: p.Content, Outcome: p.Outcome},
			Trajectory: p.Trajectory,
			Tags:       p.Tags,
			CreatedBy:  deps.agent(),
		}
		return repo.Create(ctx, e, false)
	}
}

// promoteExperience lifts a proven experience into a tool entry and links
// the two through the promotion fields.
func promoteExperience(deps Deps, repo *repository.Entries) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p experienceParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "id").Field("id").Build()
		}
		exp, err := repo.GetByID(ctx, p.ID, false)
		if err != nil {
			return nil, err
		}
		if exp.PromotedToToolID != "" {
			return nil, memerr.Conflict("experience %q is already promoted", exp.Name)
		}

		name := p.ToolName
		if name == "" {
			name = exp.Name
		}
		desc := p.ToolDescription
		if desc == "" {
			desc = exp.Content.Scenario
		}
		if desc == "" {
			desc = exp.Content.Body
		}

		tool := &entry.Entry{
			Kind:           entry.KindTool,
			Scope:          exp.Scope,
			Name:           name,
			Category:       exp.Category,
			Content:        entry.Content{Description: desc, Examples: []string{exp.Content.Outcome}},
			PromotedFromID: exp.ID,
			CreatedBy:      deps.agent(),
		}
		created, err := deps.Repos[entry.KindTool].Create(ctx, tool, false)
		if err != nil {
			return nil, err
		}
		if err := repo.SetPromotion(ctx, exp.ID, created.ID); err != nil {
			return nil, err
		}
		return map[string]any{"experience": exp.ID, "tool": created}, nil
	}
}

type conflictParams struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Resolution string `json:"resolution"`
	Ignore     bool   `json:"ignore"`
}

func registerConflictTool(reg *Registry, deps Deps) error {
	return reg.Register(&Tool{
		Name:        "memory_conflict",
		Description: "Review and resolve detected entry conflicts",
		Actions: []Action{
			{Name: "list", Description: "List conflicts by state", Params: conflictParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p conflictParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				conflicts, err := deps.Conflicts.List(ctx, repository.ConflictState(p.State))
				if err != nil {
					return nil, err
				}
				return map[string]any{"conflicts": conflicts, "count": len(conflicts)}, nil
			}},
			{Name: "resolve", Description: "Mark a conflict resolved or ignored", Params: conflictParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p conflictParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				if p.ID == "" {
					return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "id").Field("id").Build()
				}
				if err := deps.Conflicts.Resolve(ctx, p.ID, p.Resolution, p.Ignore); err != nil {
					return nil, err
				}
				return map[string]any{"id": p.ID, "resolved": true}, nil
			}},
		},
	})
}
