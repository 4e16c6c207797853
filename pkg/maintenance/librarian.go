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

package maintenance

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/repository"
)

// Quality gate weights. Fixed by contract; the gate's dispositions must
// be reproducible across runs.
const (
	weightSimilarity  = 0.40
	weightPatternSize = 0.20
	weightOutcome     = 0.25
	weightContent     = 0.15

	// neutralOutcome scores groups whose experiences carry no outcomes.
	neutralOutcome = 0.7
)

// Disposition is the quality gate verdict for a pattern group.
type Disposition string

const (
	AutoPromote Disposition = "auto_promote"
	Review      Disposition = "review"
	Reject      Disposition = "reject"
)

// PatternGroup is a cluster of experiences sharing an action pattern.
type PatternGroup struct {
	Experiences          []*entry.Entry `json:"experiences"`
	Exemplar             *entry.Entry   `json:"exemplar"`
	EmbeddingSimilarity  float64        `json:"embeddingSimilarity"`
	TrajectorySimilarity float64        `json:"trajectorySimilarity"`
	Confidence           float64        `json:"confidence"`
	SuggestedPattern     string         `json:"suggestedPattern"`
	CommonActions        []string       `json:"commonActions"`
	SuccessRate          float64        `json:"successRate"`

	// Filled by the quality gate.
	AdjustedConfidence float64     `json:"adjustedConfidence"`
	Disposition        Disposition `json:"disposition"`
}

// Librarian is the pattern-detection pass: cluster similar experiences,
// gate cluster quality, and persist review recommendations.
type Librarian struct {
	experiences     *repository.Entries
	recommendations *repository.Recommendations
	embed           embedder.Embedder

	// Thresholds; zero values are replaced by the catalog defaults.
	EmbeddingThreshold  float64
	TrajectoryThreshold float64
	AutoPromoteAt       float64
	ReviewAt            float64
	MinPatternSize      int
	MinExperiences      int
	MaxExperiences      int
	ExpirationDays      int
}

func NewLibrarian(experiences *repository.Entries, recs *repository.Recommendations, embed embedder.Embedder) *Librarian {
	return &Librarian{
		experiences:         experiences,
		recommendations:     recs,
		embed:               embed,
		EmbeddingThreshold:  0.75,
		TrajectoryThreshold: 0.75,
		AutoPromoteAt:       0.9,
		ReviewAt:            0.7,
		MinPatternSize:      2,
		MinExperiences:      3,
		MaxExperiences:      200,
		ExpirationDays:      30,
	}
}

func (l *Librarian) Name() string { return "librarian" }

func (l *Librarian) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}

	exps, err := l.experiences.List(ctx, entry.ListFilter{Scope: in.Scope, Limit: l.MaxExperiences}, nil)
	if err != nil {
		res.Executed = true
		res.addError("list experiences: %v", err)
		return res
	}
	if len(exps) < l.MinExperiences {
		return res
	}
	res.Executed = true

	groups := l.detectPatterns(ctx, exps, &res)
	res.Details["patternGroups"] = len(groups)

	autoPromoted, recommended := 0, 0
	for i := range groups {
		l.gate(&groups[i])
		switch groups[i].Disposition {
		case AutoPromote:
			autoPromoted++
		case Review:
			if in.DryRun {
				recommended++
				continue
			}
			if err := l.recommend(ctx, &groups[i], in); err != nil {
				res.addError("recommend %q: %v", groups[i].SuggestedPattern, err)
				continue
			}
			recommended++
		}
	}
	res.Details["autoPromoted"] = autoPromoted
	res.Details["recommendations"] = recommended
	return res
}

// detectPatterns clusters experiences by pairwise similarity: both the
// embedding similarity and the trajectory similarity must clear their
// thresholds for two experiences to co-cluster.
func (l *Librarian) detectPatterns(ctx context.Context, exps []*entry.Entry, res *TaskResult) []PatternGroup {
	vectors := l.embedAll(ctx, exps, res)

	n := len(exps)
	assigned := make([]bool, n)
	var groups []PatternGroup

	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}
		members := []int{i}
		var embSum, trajSum float64
		pairs := 0

		for j := i + 1; j < n; j++ {
			if assigned[j] {
				continue
			}
			traj := trajectorySimilarity(exps[i].Trajectory, exps[j].Trajectory)
			emb := 1.0 // treated as matching when embeddings are unavailable
			if vectors != nil {
				emb = cosine(vectors[i], vectors[j])
			}
			if traj >= l.TrajectoryThreshold && emb >= l.EmbeddingThreshold {
				members = append(members, j)
				trajSum += traj
				embSum += emb
				pairs++
			}
		}
		if len(members) < l.MinPatternSize {
			continue
		}
		for _, m := range members {
			assigned[m] = true
		}

		group := PatternGroup{Exemplar: exps[i]}
		for _, m := range members {
			group.Experiences = append(group.Experiences, exps[m])
		}
		if pairs > 0 {
			group.TrajectorySimilarity = trajSum / float64(pairs)
			group.EmbeddingSimilarity = embSum / float64(pairs)
		}
		group.CommonActions = commonActions(group.Experiences)
		group.SuccessRate = successRate(group.Experiences)
		group.SuggestedPattern = suggestedPattern(group.Exemplar, group.CommonActions)
		group.Confidence = (group.TrajectorySimilarity + group.EmbeddingSimilarity) / 2
		groups = append(groups, group)
	}
	return groups
}

func (l *Librarian) embedAll(ctx context.Context, exps []*entry.Entry, res *TaskResult) [][]float32 {
	if l.embed == nil || !l.embed.IsAvailable(ctx) {
		return nil
	}
	texts := make([]string, len(exps))
	for i, e := range exps {
		texts[i] = e.Name + "\n" + e.Content.SearchText()
	}
	results, err := l.embed.EmbedBatch(ctx, texts)
	if err != nil {
		res.addError("embed experiences: %v", err)
		return nil
	}
	vectors := make([][]float32, len(results))
	for i, r := range results {
		vectors[i] = r.Vector
	}
	return vectors
}

// gate computes the four weighted checks and the disposition.
func (l *Librarian) gate(g *PatternGroup) {
	similarity := (g.EmbeddingSimilarity + g.TrajectorySimilarity) / 2

	// Pattern size saturates at 5 members.
	size := float64(len(g.Experiences)) / 5
	if size > 1 {
		size = 1
	}

	outcome := neutralOutcome
	if hasOutcomes(g.Experiences) {
		outcome = g.SuccessRate
	}

	content := contentQuality(g.Experiences)

	g.AdjustedConfidence = weightSimilarity*similarity +
		weightPatternSize*size +
		weightOutcome*outcome +
		weightContent*content

	switch {
	case g.AdjustedConfidence >= l.AutoPromoteAt && len(g.Experiences) >= l.MinPatternSize:
		g.Disposition = AutoPromote
	case g.AdjustedConfidence >= l.ReviewAt:
		g.Disposition = Review
	default:
		g.Disposition = Reject
	}
}

func (l *Librarian) recommend(ctx context.Context, g *PatternGroup, in TaskInput) error {
	ids := make([]string, len(g.Experiences))
	for i, e := range g.Experiences {
		ids[i] = e.ID
	}
	expires := time.Now().UTC().AddDate(0, 0, l.ExpirationDays)
	_, err := l.recommendations.Create(ctx, &repository.Recommendation{
		Scope:               in.Scope,
		Type:                "pattern_promotion",
		Title:               "Promote pattern: " + g.SuggestedPattern,
		Pattern:             g.SuggestedPattern,
		Applicability:       strings.Join(g.CommonActions, " -> "),
		Rationale:           fmt.Sprintf("%d similar experiences, %.0f%% success", len(g.Experiences), g.SuccessRate*100),
		Confidence:          g.AdjustedConfidence,
		SourceExperienceIDs: ids,
		AnalysisRunID:       in.RunID,
		CreatedBy:           "librarian",
		ExpiresAt:           &expires,
	})
	return err
}

// trajectorySimilarity is the longest common subsequence over
// (action, tool) tuples, normalized by the longer trajectory.
func trajectorySimilarity(a, b []entry.TrajectoryStep) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(lcsSteps(a, b)) / float64(longest)
}

func lcsSteps(a, b []entry.TrajectoryStep) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1].Action == b[j-1].Action && a[i-1].Tool == b[j-1].Tool {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// commonActions returns actions present in every member's trajectory, in
// exemplar order.
func commonActions(exps []*entry.Entry) []string {
	if len(exps) == 0 {
		return nil
	}
	var out []string
	for _, step := range exps[0].Trajectory {
		inAll := true
		for _, e := range exps[1:] {
			if !hasAction(e.Trajectory, step.Action) {
				inAll = false
				break
			}
		}
		if inAll && !contains(out, step.Action) {
			out = append(out, step.Action)
		}
	}
	return out
}

func hasAction(steps []entry.TrajectoryStep, action string) bool {
	for _, s := range steps {
		if s.Action == action {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func successRate(exps []*entry.Entry) float64 {
	used, succeeded := 0, 0
	for _, e := range exps {
		used += e.UseCount
		succeeded += e.SuccessCount
	}
	if used == 0 {
		return 0
	}
	return float64(succeeded) / float64(used)
}

func hasOutcomes(exps []*entry.Entry) bool {
	for _, e := range exps {
		if e.UseCount > 0 || e.Content.Outcome != "" {
			return true
		}
	}
	return false
}

// contentQuality scores how fleshed-out the member experiences are:
// scenario, outcome, and trajectory each count.
func contentQuality(exps []*entry.Entry) float64 {
	if len(exps) == 0 {
		return 0
	}
	var sum float64
	for _, e := range exps {
		var score float64
		if e.Content.Scenario != "" || e.Content.Body != "" {
			score += 0.4
		}
		if e.Content.Outcome != "" {
			score += 0.3
		}
		if len(e.Trajectory) >= 2 {
			score += 0.3
		}
		sum += score
	}
	return sum / float64(len(exps))
}

func suggestedPattern(exemplar *entry.Entry, actions []string) string {
	if len(actions) > 0 {
		return strings.Join(actions, " -> ")
	}
	return exemplar.Name
}
