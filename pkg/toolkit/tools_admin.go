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
	"time"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
)

type projectParams struct {
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

type onboardParams struct {
	Project     string         `json:"project"`
	Description string         `json:"description"`
	Language    string         `json:"language"`
	Framework   string         `json:"framework"`
	Repository  string         `json:"repository"`
	Extra       map[string]any `json:"extra"`
}

type contextParams struct {
	scopeParams

	SessionID    string `json:"sessionId"`
	EntriesLimit int    `json:"entriesLimit"`
}

func registerAdminTools(reg *Registry, deps Deps) error {
	if err := reg.Register(&Tool{
		Name:        "memory_health",
		Description: "Report service component health",
		Handler:     healthCheck(deps),
	}); err != nil {
		return err
	}
	if err := reg.Register(&Tool{
		Name:        "memory_project",
		Description: "Manage project scopes",
		Actions: []Action{
			{Name: "create", Description: "Create a project", Params: projectParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p projectParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				proj := &repository.Project{Name: p.Name, Metadata: p.Metadata}
				if p.Description != nil {
					proj.Description = *p.Description
				}
				return deps.Projects.Create(ctx, proj)
			}},
			{Name: "list", Description: "List projects", Handler: func(ctx context.Context, params map[string]any) (any, error) {
				projects, err := deps.Projects.List(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"projects": projects, "count": len(projects)}, nil
			}},
			{Name: "get", Description: "Fetch a project by id or name", Params: projectParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				name, err := requireString(params, "name")
				if err != nil {
					return nil, err
				}
				return deps.Projects.Get(ctx, name)
			}},
			{Name: "update", Description: "Update project description or metadata", Params: projectParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p projectParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				if p.Name == "" {
					return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "name").Field("name").Build()
				}
				return deps.Projects.Update(ctx, p.Name, p.Description, p.Metadata)
			}},
		},
	}); err != nil {
		return err
	}
	if err := reg.Register(&Tool{
		Name:        "memory_quickstart",
		Description: "Seed a project scope with starter guidelines",
		Params:      projectParams{},
		Handler:     quickstart(deps),
	}); err != nil {
		return err
	}
	if err := reg.Register(&Tool{
		Name:        "memory_onboard",
		Description: "Record project metadata for future context",
		Params:      onboardParams{},
		Handler:     onboard(deps),
	}); err != nil {
		return err
	}
	return reg.Register(&Tool{
		Name:        "memory_context",
		Description: "Bundle session state and top entries for a scope",
		Params:      contextParams{},
		Handler:     contextBundle(deps),
	})
}

func healthCheck(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		health := map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		if err := deps.Store.DB().PingContext(ctx); err != nil {
			health["status"] = "degraded"
			health["database"] = "unreachable"
		} else {
			health["database"] = "ok"
		}
		if deps.Embedder != nil {
			health["embedder"] = deps.Embedder.IsAvailable(ctx)
		}
		if deps.Generator != nil {
			health["generator"] = deps.Generator.IsAvailable(ctx)
		}
		if deps.Capture != nil {
			health["classificationQueue"] = deps.Capture.Queue().Len()
		}
		if deps.Query != nil {
			health["queryCache"] = deps.Query.CacheStats()
		}
		return health, nil
	}
}

// starterGuidelines are seeded by quickstart into a fresh project scope.
var starterGuidelines = []struct {
	name, body string
	priority   int
}{
	{"record-decisions", "Record significant decisions with their rationale as knowledge entries.", 80},
	{"learn-from-failures", "After a failed approach, store an experience describing what was tried and why it failed.", 70},
	{"prefer-project-scope", "Store project-specific conventions at project scope, not global.", 60},
}

func quickstart(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		name, err := requireString(params, "name")
		if err != nil {
			return nil, err
		}
		proj, err := deps.Projects.Get(ctx, name)
		if memerr.IsCode(err, memerr.CodeNotFound) {
			proj, err = deps.Projects.Create(ctx, &repository.Project{Name: name})
		}
		if err != nil {
			return nil, err
		}

		sc := scope.Scope{Type: scope.Project, ID: proj.ID}
		repo := deps.Repos[entry.KindGuideline]
		var seeded []string
		for _, g := range starterGuidelines {
			_, err := repo.Create(ctx, &entry.Entry{
				Kind:      entry.KindGuideline,
				Scope:     sc,
				Name:      g.name,
				Category:  "workflow",
				Priority:  g.priority,
				Content:   entry.Content{Body: g.body},
				CreatedBy: deps.agent(),
			}, false)
			if memerr.IsCode(err, memerr.CodeConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			seeded = append(seeded, g.name)
		}
		return map[string]any{"project": proj, "seeded": seeded}, nil
	}
}

func onboard(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p onboardParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.Project == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "project").Field("project").Build()
		}

		meta := map[string]any{}
		for k, v := range p.Extra {
			meta[k] = v
		}
		if p.Language != "" {
			meta["language"] = p.Language
		}
		if p.Framework != "" {
			meta["framework"] = p.Framework
		}
		if p.Repository != "" {
			meta["repository"] = p.Repository
		}

		proj, err := deps.Projects.Get(ctx, p.Project)
		if memerr.IsCode(err, memerr.CodeNotFound) {
			proj, err = deps.Projects.Create(ctx, &repository.Project{Name: p.Project})
		}
		if err != nil {
			return nil, err
		}

		var desc *string
		if p.Description != "" {
			desc = &p.Description
		}
		return deps.Projects.Update(ctx, proj.ID, desc, meta)
	}
}

// contextBundle assembles the working context an agent loads at session
// start: the session, its recent episodes, and the top entries per kind.
func contextBundle(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p contextParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}
		limit := p.EntriesLimit
		if limit <= 0 {
			limit = 5
		}

		bundle := map[string]any{"scope": sc.String()}

		if p.SessionID != "" && deps.Sessions != nil {
			if sess, err := deps.Sessions.Get(ctx, p.SessionID); err == nil {
				bundle["session"] = sess
			}
		}
		if deps.Episodes != nil {
			if episodes, err := deps.Episodes.ByScope(ctx, sc, "", 5); err == nil {
				bundle["recentEpisodes"] = episodes
			}
		}

		entries := map[string]any{}
		for kind, repo := range deps.Repos {
			list, err := repo.List(ctx, entry.ListFilter{
				Scope:   sc,
				Inherit: p.inherit(),
				Limit:   limit,
			}, deps.Resolver)
			if err != nil {
				continue
			}
			entries[string(kind)] = list
		}
		bundle["entries"] = entries
		return bundle, nil
	}
}
