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
	"regexp"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/repository"
)

// candidateFactor bounds each producer's result list at limit*candidateFactor
// so fusion has enough overlap to work with without unbounded scans.
const candidateFactor = 4

// vectorWeightFloor skips embedding low-weight query variants. Decomposed
// sub-queries still run lexically but are not worth an embedding call each.
const vectorWeightFloor = 0.6

var uuidPattern = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// generateCandidates runs the three producers. Producer failures are soft:
// they mark the pipeline degraded and the remaining producers still
// contribute.
func (s *Service) generateCandidates(ctx context.Context, pc *pipelineContext) error {
	bound := pc.req.Limit * candidateFactor

	if err := s.lexicalCandidates(ctx, pc, bound); err != nil {
		s.log.Warn("lexical producer failed", "error", err)
		pc.degraded = true
	}
	if err := s.vectorCandidates(ctx, pc, bound); err != nil {
		s.log.Warn("vector producer failed", "error", err)
		pc.degraded = true
	}
	if err := s.relationalCandidates(ctx, pc, bound); err != nil {
		s.log.Warn("relational producer failed", "error", err)
		pc.degraded = true
	}
	return nil
}

// lexicalCandidates runs every query variant against the per-kind FTS
// indexes. Rank is the 1-based position in each variant's result list.
func (s *Service) lexicalCandidates(ctx context.Context, pc *pipelineContext, bound int) error {
	var firstErr error
	for _, q := range pc.queries {
		for _, kind := range pc.kinds {
			repo, ok := s.repos[kind]
			if !ok {
				continue
			}
			hits, err := repo.Search(ctx, q.Text, pc.chain, bound)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for i, h := range hits {
				pc.candidates = append(pc.candidates, candidate{
					entryID:  h.EntryID,
					kind:     kind,
					producer: producerLexical,
					rank:     i + 1,
					weight:   q.Weight,
				})
			}
		}
	}
	return firstErr
}

// vectorCandidates embeds query variants above the weight floor and
// searches the vector index per kind. Skipped entirely when no embedder
// is configured.
func (s *Service) vectorCandidates(ctx context.Context, pc *pipelineContext, bound int) error {
	if s.embed == nil || s.vectors == nil {
		return nil
	}
	if !s.embed.IsAvailable(ctx) {
		pc.degraded = true
		return nil
	}

	var firstErr error
	for _, q := range pc.queries {
		if q.Weight < vectorWeightFloor {
			continue
		}
		res, err := s.embed.Embed(ctx, q.Text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, kind := range pc.kinds {
			hits, err := s.vectors.Search(ctx, kind, res.Vector, bound, pc.chain)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for i, h := range hits {
				pc.candidates = append(pc.candidates, candidate{
					entryID:  h.EntryID,
					kind:     kind,
					producer: producerVector,
					rank:     i + 1,
					weight:   q.Weight,
				})
			}
		}
	}
	return firstErr
}

// relationalCandidates seeds from explicit tags, an explicit related-to
// entry id, and any entry ids mentioned in the query text, then expands
// one hop through the relation graph.
func (s *Service) relationalCandidates(ctx context.Context, pc *pipelineContext, bound int) error {
	var seeds []repository.Ref

	if s.tags != nil && len(pc.req.Tags) > 0 {
		for _, kind := range pc.kinds {
			ids, err := s.tags.EntriesWithTags(ctx, kind, pc.req.Tags)
			if err != nil {
				return err
			}
			for _, id := range ids {
				seeds = append(seeds, repository.Ref{Kind: kind, ID: id})
			}
		}
	}

	ids := uuidPattern.FindAllString(pc.req.Text, -1)
	if pc.req.RelatedTo != "" {
		ids = append(ids, pc.req.RelatedTo)
	}
	for _, id := range ids {
		if ref, ok := s.resolveRef(ctx, id, pc.kinds); ok {
			seeds = append(seeds, ref)
		}
	}

	if len(seeds) == 0 || s.relations == nil {
		return nil
	}

	refs, err := s.relations.Neighborhood(ctx, seeds, 1)
	if err != nil {
		return err
	}
	// Tag and id seeds are themselves candidates, ahead of their
	// neighbors.
	all := append(seeds, refs...)

	rank := 0
	seen := make(map[string]bool, len(all))
	for _, ref := range all {
		if seen[ref.ID] || !kindRequested(pc.kinds, ref.Kind) {
			continue
		}
		seen[ref.ID] = true
		rank++
		if rank > bound {
			break
		}
		pc.candidates = append(pc.candidates, candidate{
			entryID:  ref.ID,
			kind:     ref.Kind,
			producer: producerRelational,
			rank:     rank,
			weight:   weightOriginal,
		})
	}
	return nil
}

// resolveRef finds which requested kind an entry id belongs to. Hits in
// other kinds are ignored so the relational producer stays scope-safe on
// kind as well.
func (s *Service) resolveRef(ctx context.Context, id string, kinds []entry.Kind) (repository.Ref, bool) {
	for _, kind := range kinds {
		repo, ok := s.repos[kind]
		if !ok {
			continue
		}
		if _, err := repo.GetByID(ctx, id, false); err == nil {
			return repository.Ref{Kind: kind, ID: id}, true
		}
	}
	return repository.Ref{}, false
}

func kindRequested(kinds []entry.Kind, k entry.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
