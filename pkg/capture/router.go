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

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/observability"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
)

// PendingSuggestion is a capture candidate awaiting operator approval.
type PendingSuggestion struct {
	ID         string      `json:"id"`
	Suggestion Suggestion  `json:"suggestion"`
	Scope      scope.Scope `json:"scope"`
	SessionID  string      `json:"sessionId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Router commits auto-store suggestions through the repositories and
// parks the rest for operator review.
type Router struct {
	repos map[entry.Kind]*repository.Entries

	mu      sync.Mutex
	pending map[string]*PendingSuggestion
}

func NewRouter(repos map[entry.Kind]*repository.Entries) *Router {
	return &Router{repos: repos, pending: make(map[string]*PendingSuggestion)}
}

// Store writes a suggestion as an entry immediately.
func (r *Router) Store(ctx context.Context, s Suggestion, sc scope.Scope, sessionID string) (*entry.Entry, error) {
	repo, ok := r.repos[s.Kind]
	if !ok {
		return nil, memerr.Validation("no repository for kind %q", s.Kind)
	}
	e := &entry.Entry{
		Kind:      s.Kind,
		Scope:     sc,
		Name:      s.Title,
		Content:   contentFor(s),
		CreatedBy: "capture",
	}
	created, err := repo.Create(ctx, e, false)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Suggest parks a suggestion for operator review and returns its id.
func (r *Router) Suggest(s Suggestion, sc scope.Scope, sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The content hash deduplicates resubmissions of the same fragment.
	for id, p := range r.pending {
		if p.Suggestion.Hash == s.Hash {
			return id
		}
	}

	id := uuid.NewString()
	r.pending[id] = &PendingSuggestion{
		ID:         id,
		Suggestion: s,
		Scope:      sc,
		SessionID:  sessionID,
		CreatedAt:  time.Now().UTC(),
	}
	return id
}

// Pending lists suggestions awaiting review, unordered.
func (r *Router) Pending() []PendingSuggestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingSuggestion, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, *p)
	}
	return out
}

// Approve commits a pending suggestion as a repository write.
func (r *Router) Approve(ctx context.Context, id string) (*entry.Entry, error) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, memerr.NotFound("suggestion", id)
	}
	e, err := r.Store(ctx, p.Suggestion, p.Scope, p.SessionID)
	if err != nil {
		return nil, err
	}
	observability.GetGlobalMetrics().RecordCaptureSuggestion(ctx, "approved")
	return e, nil
}

// Reject discards a pending suggestion.
func (r *Router) Reject(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return memerr.NotFound("suggestion", id)
	}
	delete(r.pending, id)
	observability.GetGlobalMetrics().RecordCaptureSuggestion(context.Background(), "rejected")
	return nil
}

// Clear drops every pending suggestion and returns how many were dropped.
func (r *Router) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.pending)
	r.pending = make(map[string]*PendingSuggestion)
	return n
}

func contentFor(s Suggestion) entry.Content {
	switch s.Kind {
	case entry.KindTool:
		return entry.Content{Description: s.Content}
	case entry.KindExperience:
		return entry.Content{Scenario: s.Content}
	default:
		return entry.Content{Body: s.Content}
	}
}
