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

package query

import (
	"context"
	"sort"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

// hydrate loads full entries for the fused hits, preserving fused order,
// and truncates to the request limit. Hits are fetched in one batched
// read per kind. Entries that vanished between candidate generation and
// hydration are skipped, as is anything outside the scope chain:
// producers pre-filter on scope, but the relational producer can surface
// neighbors from sibling scopes, so the chain check here is the
// authoritative one.
func (s *Service) hydrate(ctx context.Context, pc *pipelineContext) error {
	idsByKind := make(map[entry.Kind][]string)
	for _, h := range pc.fused {
		if _, ok := s.repos[h.kind]; ok {
			idsByKind[h.kind] = append(idsByKind[h.kind], h.entryID)
		}
	}
	loaded := make(map[entry.Kind]map[string]*entry.Entry, len(idsByKind))
	for kind, ids := range idsByKind {
		batch, err := s.repos[kind].GetByIDs(ctx, ids)
		if err != nil {
			return err
		}
		loaded[kind] = batch
	}

	type hydrated struct {
		res  Result
		prod producer
	}
	rows := make([]hydrated, 0, pc.req.Limit)
	for _, h := range pc.fused {
		e, ok := loaded[h.kind][h.entryID]
		if !ok {
			continue
		}
		if !scope.Contains(pc.chain, e.Scope) {
			continue
		}
		rows = append(rows, hydrated{
			res:  Result{Entry: e, Score: h.score, Producers: h.producers},
			prod: h.bestProducer,
		})
		if len(rows) == pc.req.Limit {
			break
		}
	}

	// Exact score ties break on producer priority, then on recency, which
	// was unknown at fusion time.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].res.Score != rows[j].res.Score {
			return rows[i].res.Score > rows[j].res.Score
		}
		if rows[i].prod != rows[j].prod {
			return rows[i].prod < rows[j].prod
		}
		return rows[i].res.Entry.UpdatedAt.After(rows[j].res.Entry.UpdatedAt)
	})

	pc.results = make([]Result, len(rows))
	for i, r := range rows {
		pc.results[i] = r.res
	}
	return nil
}
