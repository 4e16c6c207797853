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

import "sort"

// rrfK is the reciprocal-rank-fusion smoothing constant. 60 is the value
// from the original RRF paper and keeps top ranks from dominating.
const rrfK = 60

// fuse merges the producer result lists with weighted reciprocal-rank
// fusion: each contribution adds weight/(rrfK+rank). Ties break on
// producer priority (lexical over vector over relational); the remaining
// updatedAt tie-break happens after hydration when timestamps are known.
func fuse(pc *pipelineContext) {
	byID := make(map[string]*fusedHit)
	var order []string

	for _, c := range pc.candidates {
		h, ok := byID[c.entryID]
		if !ok {
			h = &fusedHit{entryID: c.entryID, kind: c.kind, bestProducer: c.producer}
			byID[c.entryID] = h
			order = append(order, c.entryID)
		}
		h.score += c.weight / float64(rrfK+c.rank)
		if c.producer < h.bestProducer {
			h.bestProducer = c.producer
		}
		if !containsString(h.producers, c.producer.String()) {
			h.producers = append(h.producers, c.producer.String())
		}
	}

	fused := make([]fusedHit, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].bestProducer != fused[j].bestProducer {
			return fused[i].bestProducer < fused[j].bestProducer
		}
		return fused[i].entryID < fused[j].entryID
	})
	pc.fused = fused
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Reranker reorders fused hits before hydration. The default
// implementation preserves the fused order so results stay deterministic;
// a model-backed reranker can be plugged in without touching the
// pipeline.
type Reranker interface {
	Rerank(queryText string, hits []fusedHit) []fusedHit
}

type noopReranker struct{}

func (noopReranker) Rerank(_ string, hits []fusedHit) []fusedHit { return hits }
