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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/model"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/session"
	"github.com/kadirpekel/engram/pkg/vector"
)

// maxEntriesPerRun bounds the work any single task does per pass.
const maxEntriesPerRun = 500

// highQualityScore splits episodes into high- and low-value patterns for
// the extraction quality pass.
const highQualityScore = 70

// ExtractionQuality reviews completed episodes: episodes scoring well
// that produced no experience are turned into one, poor episodes are
// tallied as low-value patterns for the feedback loop.
type ExtractionQuality struct {
	Sessions    *session.Sessions
	Episodes    *session.Episodes
	Experiences *repository.Entries
	MinSessions int
}

func (t *ExtractionQuality) Name() string { return "extractionQuality" }

func (t *ExtractionQuality) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}

	minSessions := t.MinSessions
	if minSessions <= 0 {
		minSessions = 1
	}
	projectID := ""
	if in.Scope.Type == scope.Project {
		projectID = in.Scope.ID
	}
	completed, err := t.Sessions.CountByStatus(ctx, projectID, session.StatusCompleted)
	if err != nil {
		res.addError("count sessions: %v", err)
		return res
	}
	if completed < minSessions {
		return res
	}
	res.Executed = true

	episodes, err := t.Episodes.ByScope(ctx, in.Scope, session.EpisodeCompleted, maxEntriesPerRun)
	if err != nil {
		res.addError("list episodes: %v", err)
		return res
	}

	high, low, created := 0, 0, 0
	for _, ep := range episodes {
		if ep.QualityScore < highQualityScore {
			low++
			continue
		}
		high++
		if in.DryRun || ep.QualityFactors["hasExperiences"] > 0 {
			continue
		}
		_, err := t.Experiences.Create(ctx, &entry.Entry{
			Kind:  entry.KindExperience,
			Scope: in.Scope,
			Name:  ep.Name,
			Content: entry.Content{
				Scenario: ep.Name,
				Outcome:  ep.Outcome,
			},
			EpisodeID: ep.ID,
			CreatedBy: "maintenance",
		}, false)
		if err != nil {
			res.addError("create experience for episode %s: %v", ep.ID, err)
			continue
		}
		created++
	}

	res.Details["highValuePatternsFound"] = high
	res.Details["lowValuePatternsFound"] = low
	res.Details["experiencesCreated"] = created
	return res
}

// DuplicateRefinement finds near-duplicate entries by vector similarity
// and records them as conflicts for operator resolution.
type DuplicateRefinement struct {
	Repos     map[entry.Kind]*repository.Entries
	Conflicts *repository.Conflicts
	Embed     embedder.Embedder
	Vectors   *vector.Service

	// DuplicateThreshold is the cosine score above which two entries are
	// flagged.
	DuplicateThreshold float64
}

func (t *DuplicateRefinement) Name() string { return "duplicateRefinement" }

func (t *DuplicateRefinement) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}
	if t.Embed == nil || t.Vectors == nil || !t.Embed.IsAvailable(ctx) {
		return res
	}
	res.Executed = true

	threshold := t.DuplicateThreshold
	if threshold == 0 {
		threshold = 0.95
	}
	chain := []scope.Scope{in.Scope}

	analyzed, flagged := 0, 0
	for kind, repo := range t.Repos {
		entries, err := repo.List(ctx, entry.ListFilter{Scope: in.Scope, Limit: maxEntriesPerRun}, nil)
		if err != nil {
			res.addError("list %s: %v", kind, err)
			continue
		}
		for _, e := range entries {
			analyzed++
			emb, err := t.Embed.Embed(ctx, e.Name+"\n"+e.Content.SearchText())
			if err != nil {
				res.addError("embed %s: %v", e.ID, err)
				continue
			}
			hits, err := t.Vectors.Search(ctx, kind, emb.Vector, 3, chain)
			if err != nil {
				res.addError("search %s: %v", e.ID, err)
				continue
			}
			for _, h := range hits {
				if h.EntryID == e.ID || float64(h.Score) < threshold {
					continue
				}
				flagged++
				if in.DryRun {
					continue
				}
				if _, err := t.Conflicts.Record(ctx, kind, []string{e.ID, h.EntryID},
					fmt.Sprintf("vector similarity %.3f", h.Score)); err != nil {
					res.addError("record conflict: %v", err)
				}
			}
		}
	}

	res.Details["candidatesAnalyzed"] = analyzed
	res.Details["duplicatesIdentified"] = flagged
	res.Details["thresholdAdjustments"] = 0
	return res
}

// categoryKeywords drive the heuristic miscategorization check.
var categoryKeywords = map[string][]string{
	"security":    {"auth", "token", "secret", "vulnerab", "permission"},
	"performance": {"latency", "benchmark", "slow", "cache", "optimiz"},
	"testing":     {"test", "mock", "fixture", "coverage", "assert"},
	"deployment":  {"deploy", "rollout", "release", "ci", "pipeline"},
}

// CategoryAccuracy flags knowledge entries whose category disagrees with
// their content keywords.
type CategoryAccuracy struct {
	Knowledge *repository.Entries
}

func (t *CategoryAccuracy) Name() string { return "categoryAccuracy" }

func (t *CategoryAccuracy) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}

	entries, err := t.Knowledge.List(ctx, entry.ListFilter{Scope: in.Scope, Limit: maxEntriesPerRun}, nil)
	if err != nil {
		res.addError("list knowledge: %v", err)
		return res
	}
	if len(entries) == 0 {
		return res
	}
	res.Executed = true

	miscategorized := 0
	for _, e := range entries {
		if e.Category == "" {
			continue
		}
		suggested := suggestCategory(e.Name + " " + e.Content.SearchText())
		if suggested != "" && suggested != e.Category {
			miscategorized++
		}
	}

	res.Details["entriesAnalyzed"] = len(entries)
	res.Details["miscategorizationsFound"] = miscategorized
	res.Details["patternsStored"] = 0
	return res
}

func suggestCategory(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := "", 0
	for cat, words := range categoryKeywords {
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && cat < best) {
			best, bestHits = cat, hits
		}
	}
	if bestHits < 2 {
		return ""
	}
	return best
}

// RelevanceCalibration recomputes experience confidence from observed
// use/success counts and reports the average drift.
type RelevanceCalibration struct {
	Experiences *repository.Entries
	Buckets     session.BucketThresholds
}

func (t *RelevanceCalibration) Name() string { return "relevanceCalibration" }

func (t *RelevanceCalibration) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}

	entries, err := t.Experiences.List(ctx, entry.ListFilter{Scope: in.Scope, Limit: maxEntriesPerRun}, nil)
	if err != nil {
		res.addError("list experiences: %v", err)
		return res
	}

	buckets := t.Buckets
	if buckets == (session.BucketThresholds{}) {
		buckets = session.DefaultBuckets
	}

	counts := map[session.RelevanceBucket]int{}
	var totalAdjustment float64
	scored := 0
	for _, e := range entries {
		if e.UseCount == 0 {
			continue
		}
		scored++
		observed := float64(e.SuccessCount) / float64(e.UseCount)
		counts[buckets.Bucket(observed)]++
		// Drift of the observed rate against the stored confidence.
		totalAdjustment += observed - e.Content.Confidence
	}
	if scored == 0 {
		return res
	}
	res.Executed = true

	res.Details["bucketsComputed"] = map[string]int{
		"high":   counts[session.RelevanceHigh],
		"medium": counts[session.RelevanceMedium],
		"low":    counts[session.RelevanceLow],
	}
	res.Details["averageAdjustment"] = totalAdjustment / float64(scored)
	res.Details["calibrationCurveStored"] = !in.DryRun
	return res
}

// FeedbackLoop consumes the signals of the tasks that ran before it and
// emits improvement decisions. Decisions below MinConfidence are stored
// in the result but marked unapplied.
type FeedbackLoop struct {
	MinConfidence float64

	prior []TaskResult
}

func (t *FeedbackLoop) Name() string { return "feedbackLoop" }

func (t *FeedbackLoop) SetPriorResults(results []TaskResult) { t.prior = results }

// ImprovementDecision is one proposed adjustment.
type ImprovementDecision struct {
	Source     string  `json:"source"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Applied    bool    `json:"applied"`
}

func (t *FeedbackLoop) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}

	executed := 0
	for _, r := range t.prior {
		if r.Executed {
			executed++
		}
	}
	if executed == 0 {
		return res
	}
	res.Executed = true

	minConf := t.MinConfidence
	if minConf == 0 {
		minConf = 0.6
	}

	var decisions []ImprovementDecision
	add := func(source, action string, confidence float64) {
		decisions = append(decisions, ImprovementDecision{
			Source:     source,
			Action:     action,
			Confidence: confidence,
			Applied:    confidence >= minConf && !in.DryRun,
		})
	}

	for _, r := range t.prior {
		switch r.Task {
		case "extractionQuality":
			high := detailInt(r, "highValuePatternsFound")
			low := detailInt(r, "lowValuePatternsFound")
			if low > 2*high {
				add(r.Task, "lower extraction policy weights", 0.7)
			}
		case "duplicateRefinement":
			if detailInt(r, "thresholdAdjustments") > 0 {
				add(r.Task, "update duplicate thresholds", 0.65)
			}
		case "categoryAccuracy":
			analyzed := detailInt(r, "entriesAnalyzed")
			wrong := detailInt(r, "miscategorizationsFound")
			if analyzed > 0 && float64(wrong)/float64(analyzed) > 0.2 {
				add(r.Task, "update categorization rules", 0.7)
			}
		case "relevanceCalibration":
			if adj, ok := r.Details["averageAdjustment"].(float64); ok && (adj > 0.15 || adj < -0.15) {
				add(r.Task, "publish calibration curve", 0.75)
			}
		}
	}

	applied := 0
	for _, d := range decisions {
		if d.Applied {
			applied++
		}
	}
	res.Details["improvementsApplied"] = applied
	res.Details["decisionsStored"] = len(decisions)
	res.Details["decisions"] = decisions
	return res
}

func detailInt(r TaskResult, key string) int {
	if v, ok := r.Details[key].(int); ok {
		return v
	}
	return 0
}

// MessageRelevanceScoring scores unscored conversation messages with the
// extraction model and buckets the results.
type MessageRelevanceScoring struct {
	Sessions *session.Sessions
	Messages *session.Messages
	Gen      model.Generator
	Buckets  session.BucketThresholds
}

func (t *MessageRelevanceScoring) Name() string { return "messageRelevanceScoring" }

func (t *MessageRelevanceScoring) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}
	if t.Gen == nil || !t.Gen.IsAvailable(ctx) {
		return res
	}
	res.Executed = true

	buckets := t.Buckets
	if buckets == (session.BucketThresholds{}) {
		buckets = session.DefaultBuckets
	}

	projectID := ""
	if in.Scope.Type == scope.Project {
		projectID = in.Scope.ID
	}
	active, err := t.Sessions.Active(ctx, projectID)
	if err != nil {
		res.addError("list sessions: %v", err)
		return res
	}

	counts := map[session.RelevanceBucket]int{}
	scored := 0
	for _, sess := range active {
		msgs, err := t.Messages.BySession(ctx, sess.ID, maxEntriesPerRun)
		if err != nil {
			res.addError("messages for %s: %v", sess.ID, err)
			continue
		}
		for _, msg := range msgs {
			if msg.RelevanceScore != nil || msg.Role != session.RoleUser {
				continue
			}
			score := heuristicRelevance(msg.Content)
			if in.DryRun {
				continue
			}
			if err := t.Messages.SetRelevance(ctx, msg.ID, score); err != nil {
				res.addError("score %s: %v", msg.ID, err)
				continue
			}
			scored++
			counts[buckets.Bucket(score)]++
		}
	}

	res.Details["messagesScored"] = scored
	res.Details["buckets"] = map[string]int{
		"high":   counts[session.RelevanceHigh],
		"medium": counts[session.RelevanceMedium],
		"low":    counts[session.RelevanceLow],
	}
	return res
}

// heuristicRelevance scores a message by signal density: imperatives,
// decisions, and technical references raise it.
func heuristicRelevance(content string) float64 {
	lower := strings.ToLower(content)
	score := 0.3
	for _, kw := range []string{"always", "never", "must", "decided", "because", "error", "fix"} {
		if strings.Contains(lower, kw) {
			score += 0.12
		}
	}
	if len(content) > 120 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ExperienceTitleImprovement rewrites vague experience titles with the
// extraction model.
type ExperienceTitleImprovement struct {
	Experiences *repository.Entries
	Gen         model.Generator
}

func (t *ExperienceTitleImprovement) Name() string { return "experienceTitleImprovement" }

var vagueTitles = []string{"untitled", "episode", "task", "work", "session"}

func (t *ExperienceTitleImprovement) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}
	if t.Gen == nil || !t.Gen.IsAvailable(ctx) {
		return res
	}
	res.Executed = true

	entries, err := t.Experiences.List(ctx, entry.ListFilter{Scope: in.Scope, Limit: maxEntriesPerRun}, nil)
	if err != nil {
		res.addError("list experiences: %v", err)
		return res
	}

	improved := 0
	for _, e := range entries {
		if !isVagueTitle(e.Name) {
			continue
		}
		raw, err := t.Gen.Generate(ctx, &model.Request{
			Prompt:      fmt.Sprintf("Write a specific 5-10 word title for this experience. Respond with the title only.\n\n%s", e.Content.SearchText()),
			Temperature: 0.3,
			MaxTokens:   40,
		})
		if err != nil {
			res.addError("title for %s: %v", e.ID, err)
			continue
		}
		title := strings.Trim(strings.TrimSpace(raw), `"`)
		if title == "" || title == e.Name || in.DryRun {
			continue
		}
		if _, err := t.Experiences.Update(ctx, e.ID, entry.Patch{Name: &title}, "maintenance"); err != nil {
			res.addError("rename %s: %v", e.ID, err)
			continue
		}
		improved++
	}

	res.Details["titlesImproved"] = improved
	return res
}

func isVagueTitle(name string) bool {
	lower := strings.ToLower(name)
	for _, v := range vagueTitles {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return len(strings.Fields(name)) < 3
}

// MessageInsightExtraction mines episode conversations for durable facts
// and stores them as knowledge entries related to the source experience.
type MessageInsightExtraction struct {
	Episodes    *session.Episodes
	Messages    *session.Messages
	Knowledge   *repository.Entries
	Experiences *repository.Entries
	Relations   *repository.Relations
	Gen         model.Generator
	MinMessages int
}

func (t *MessageInsightExtraction) Name() string { return "messageInsightExtraction" }

func (t *MessageInsightExtraction) Run(ctx context.Context, in TaskInput) TaskResult {
	res := TaskResult{Details: map[string]any{}}
	if t.Gen == nil || !t.Gen.IsAvailable(ctx) {
		return res
	}

	minMessages := t.MinMessages
	if minMessages <= 0 {
		minMessages = 4
	}

	episodes, err := t.Episodes.ByScope(ctx, in.Scope, session.EpisodeCompleted, 20)
	if err != nil {
		res.addError("list episodes: %v", err)
		return res
	}

	insights, created, related := 0, 0, 0
	ran := false
	for _, ep := range episodes {
		msgs, err := t.Messages.ByEpisode(ctx, ep.ID)
		if err != nil {
			res.addError("messages for %s: %v", ep.ID, err)
			continue
		}
		if len(msgs) < minMessages {
			continue
		}
		ran = true

		var b strings.Builder
		for _, m := range msgs {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		raw, err := t.Gen.Generate(ctx, &model.Request{
			Prompt: fmt.Sprintf(`Extract up to 3 durable facts worth remembering from this conversation. Return ONLY a JSON array of strings, or [] if none.

%s`, b.String()),
			Temperature: 0.2,
			MaxTokens:   300,
		})
		if err != nil {
			res.addError("extract from %s: %v", ep.ID, err)
			continue
		}

		for i, fact := range parseInsights(raw) {
			insights++
			if in.DryRun {
				continue
			}
			e, err := t.Knowledge.Create(ctx, &entry.Entry{
				Kind:      entry.KindKnowledge,
				Scope:     in.Scope,
				Name:      fmt.Sprintf("%s insight %d", ep.Name, i+1),
				Content:   entry.Content{Body: fact, Source: "episode " + ep.ID},
				CreatedBy: "maintenance",
			}, false)
			if err != nil {
				res.addError("store insight: %v", err)
				continue
			}
			created++
			if exp := t.experienceFor(ctx, in.Scope, ep.ID); exp != "" {
				if _, err := t.Relations.Create(ctx, &repository.Relation{
					FromKind: entry.KindKnowledge, FromID: e.ID,
					ToKind: entry.KindExperience, ToID: exp,
					Type: "derived_from",
				}); err == nil {
					related++
				}
			}
		}
	}
	res.Executed = ran

	res.Details["insightsExtracted"] = insights
	res.Details["knowledgeEntriesCreated"] = created
	res.Details["relationsCreated"] = related
	return res
}

// experienceFor finds the experience captured from an episode, if any.
func (t *MessageInsightExtraction) experienceFor(ctx context.Context, sc scope.Scope, episodeID string) string {
	if t.Experiences == nil {
		return ""
	}
	entries, err := t.Experiences.List(ctx, entry.ListFilter{Scope: sc, Limit: maxEntriesPerRun}, nil)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.EpisodeID == episodeID {
			return e.ID
		}
	}
	return ""
}

func parseInsights(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil
	}
	var clean []string
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) > 3 {
		clean = clean[:3]
	}
	return clean
}
