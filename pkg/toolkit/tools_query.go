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

	"github.com/kadirpekel/engram/pkg/capture"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/query"
	"github.com/kadirpekel/engram/pkg/session"
)

type queryParams struct {
	scopeParams

	Query     string   `json:"query"`
	Types     []string `json:"types"`
	Tags      []string `json:"tags"`
	RelatedTo string   `json:"relatedTo"`
	Limit     int      `json:"limit"`
	// Format "markdown" adds a token-budgeted digest to the response.
	Format      string `json:"format"`
	TokenBudget int    `json:"tokenBudget"`

	EnableExpansion     bool `json:"enableExpansion"`
	EnableHyDE          bool `json:"enableHyde"`
	EnableDecomposition bool `json:"enableDecomposition"`
	DisableRewrite      bool `json:"disableRewrite"`
}

type rememberParams struct {
	scopeParams

	Content   string `json:"content"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	SessionID string `json:"sessionId"`
}

type suggestParams struct {
	ID string `json:"id"`
}

type observeParams struct {
	scopeParams

	SessionID   string `json:"sessionId"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	HasError    bool   `json:"hasError"`
	ToolSuccess bool   `json:"toolSuccess"`
	// EndOfSession clears the capture window and cooldown afterwards.
	EndOfSession bool `json:"endOfSession"`
}

func registerQueryTools(reg *Registry, deps Deps) error {
	if err := reg.Register(&Tool{
		Name:        "memory_query",
		Description: "Search memory with hybrid retrieval",
		Actions: []Action{
			{Name: "search", Description: "Run a scoped hybrid search", Params: queryParams{}, Handler: searchMemory(deps)},
		},
	}); err != nil {
		return err
	}
	if err := reg.Register(&Tool{
		Name:        "memory_observe",
		Description: "Feed a conversation message through passive capture",
		Params:      observeParams{},
		Handler:     observeMessage(deps),
	}); err != nil {
		return err
	}
	if err := reg.Register(&Tool{
		Name:        "memory_remember",
		Description: "Store a free-form learning, classified or routed as given",
		Params:      rememberParams{},
		Handler:     rememberText(deps),
	}); err != nil {
		return err
	}
	return reg.Register(&Tool{
		Name:        "memory_suggest",
		Description: "Review pending capture suggestions",
		Actions: []Action{
			{Name: "list", Description: "List pending suggestions", Handler: func(ctx context.Context, params map[string]any) (any, error) {
				pending := deps.Capture.Router().Pending()
				return map[string]any{"suggestions": pending, "count": len(pending)}, nil
			}},
			{Name: "approve", Description: "Approve a suggestion and store it", Params: suggestParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				return deps.Capture.Router().Approve(ctx, id)
			}},
			{Name: "reject", Description: "Discard a suggestion", Params: suggestParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				if err := deps.Capture.Router().Reject(id); err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "rejected": true}, nil
			}},
		},
	})
}

func searchMemory(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p queryParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}
		kinds := make([]entry.Kind, 0, len(p.Types))
		for _, t := range p.Types {
			k, err := entry.ParseKind(t)
			if err != nil {
				return nil, memerr.New(memerr.CodeValidation).Message("%s", err).Field("types").Build()
			}
			kinds = append(kinds, k)
		}
		return deps.Query.Query(ctx, query.Request{
			Text:        p.Query,
			Scope:       sc,
			Inherit:     p.inherit(),
			Kinds:       kinds,
			Tags:        p.Tags,
			RelatedTo:   p.RelatedTo,
			Limit:       p.Limit,
			Format:      p.Format,
			TokenBudget: p.TokenBudget,
			Flags: query.Flags{
				EnableExpansion:     p.EnableExpansion,
				EnableHyDE:          p.EnableHyDE,
				EnableDecomposition: p.EnableDecomposition,
				DisableRewrite:      p.DisableRewrite,
			},
		})
	}
}

// rememberText stores content directly when a type is given; otherwise it
// runs the capture extractor so routing follows the usual confidence rules.
func rememberText(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p rememberParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.Content == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "content").Field("content").Build()
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}

		if p.Type != "" {
			kind, err := entry.ParseKind(p.Type)
			if err != nil {
				return nil, memerr.New(memerr.CodeValidation).Message("%s", err).Field("type").Build()
			}
			title := p.Title
			if title == "" {
				title = capture.TitleFor(p.Content)
			}
			e, err := deps.Capture.Router().Store(ctx, capture.Suggestion{
				Kind:       kind,
				Title:      title,
				Content:    p.Content,
				Confidence: 1.0,
				Trigger:    "explicit",
			}, sc, p.SessionID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"stored": true, "entry": e}, nil
		}

		deps.Capture.ObserveText(ctx, p.SessionID, sc, p.Content)
		pending := deps.Capture.Router().Pending()
		return map[string]any{"stored": false, "pendingSuggestions": len(pending)}, nil
	}
}

// observeMessage is the ingestion point for the passive learning loop.
// Each call pushes one message into the session's sliding window and runs
// trigger detection over it; routing follows the confidence rules.
func observeMessage(deps Deps) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var p observeParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		if p.SessionID == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "sessionId").Field("sessionId").Build()
		}
		if p.Content == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "content").Field("content").Build()
		}
		role := session.Role(p.Role)
		if p.Role == "" {
			role = session.RoleUser
		}
		if !role.Valid() {
			return nil, memerr.New(memerr.CodeValidation).Message("invalid role %q", p.Role).Field("role").Build()
		}
		sc, err := p.resolveScope()
		if err != nil {
			return nil, err
		}

		deps.Capture.ObserveMessage(ctx, p.SessionID, sc, capture.WindowMessage{
			Role:        role,
			Content:     p.Content,
			HasError:    p.HasError,
			ToolSuccess: p.ToolSuccess,
		})
		if p.EndOfSession {
			deps.Capture.EndSession(p.SessionID)
		}
		return map[string]any{
			"observed":           true,
			"pendingSuggestions": len(deps.Capture.Router().Pending()),
		}, nil
	}
}
