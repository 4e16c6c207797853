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
	"math"
	"testing"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

type stubTask struct {
	name string
	run  func(ctx context.Context, in TaskInput) TaskResult
}

func (s *stubTask) Name() string { return s.name }
func (s *stubTask) Run(ctx context.Context, in TaskInput) TaskResult {
	return s.run(ctx, in)
}

func TestRunnerIsolatesPanics(t *testing.T) {
	panicky := &stubTask{name: "boom", run: func(context.Context, TaskInput) TaskResult {
		panic("exploded")
	}}
	healthy := &stubTask{name: "ok", run: func(context.Context, TaskInput) TaskResult {
		return TaskResult{Executed: true}
	}}

	results := NewRunner(panicky, healthy).Run(context.Background(), scope.GlobalScope, false)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if len(results[0].Errors) != 1 || results[0].Task != "boom" {
		t.Errorf("panic result = %+v, want one error for task boom", results[0])
	}
	if !results[1].Executed || len(results[1].Errors) != 0 {
		t.Errorf("healthy task was affected by the panic: %+v", results[1])
	}
}

type priorRecorder struct {
	stubTask
	seen []TaskResult
}

func (p *priorRecorder) SetPriorResults(results []TaskResult) { p.seen = results }

func TestRunnerFeedsPriorResults(t *testing.T) {
	first := &stubTask{name: "first", run: func(context.Context, TaskInput) TaskResult {
		return TaskResult{Executed: true, Details: map[string]any{"marker": 1}}
	}}
	second := &priorRecorder{stubTask: stubTask{name: "second", run: func(context.Context, TaskInput) TaskResult {
		return TaskResult{Executed: true}
	}}}

	NewRunner(first, second).Run(context.Background(), scope.GlobalScope, false)
	if len(second.seen) != 1 || second.seen[0].Task != "first" {
		t.Fatalf("prior results = %+v, want the first task's result", second.seen)
	}
}

func TestRunnerSharesRunID(t *testing.T) {
	var ids []string
	record := func(ctx context.Context, in TaskInput) TaskResult {
		ids = append(ids, in.RunID)
		return TaskResult{}
	}
	NewRunner(&stubTask{name: "a", run: record}, &stubTask{name: "b", run: record}).
		Run(context.Background(), scope.GlobalScope, false)
	if len(ids) != 2 || ids[0] == "" || ids[0] != ids[1] {
		t.Errorf("run ids = %v, want two identical non-empty ids", ids)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(NewRunner(), func() []scope.Scope { return nil })
	if err := s.Start("not a cron spec"); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(NewRunner(), func() []scope.Scope { return nil })
	if err := s.Start("0 5 * * *"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}

func steps(actions ...string) []entry.TrajectoryStep {
	out := make([]entry.TrajectoryStep, len(actions))
	for i, a := range actions {
		out[i] = entry.TrajectoryStep{Action: a, Tool: "shell"}
	}
	return out
}

func TestTrajectorySimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []entry.TrajectoryStep
		want float64
	}{
		{"identical", steps("read", "edit", "test"), steps("read", "edit", "test"), 1.0},
		{"disjoint", steps("read", "edit"), steps("deploy", "verify"), 0.0},
		{"subsequence", steps("read", "edit", "test", "commit"), steps("read", "test"), 0.5},
		{"empty", nil, steps("read"), 0.0},
		{"tool mismatch breaks match", steps("read"), []entry.TrajectoryStep{{Action: "read", Tool: "browser"}}, 0.0},
	}
	for _, tt := range tests {
		if got := trajectorySimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: similarity = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-6 {
		t.Errorf("parallel = %v, want 1", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-6 {
		t.Errorf("orthogonal = %v, want 0", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("length mismatch = %v, want 0", got)
	}
}

func experience(name string, traj []entry.TrajectoryStep) *entry.Entry {
	return &entry.Entry{
		Kind:       entry.KindExperience,
		Name:       name,
		Content:    entry.Content{Scenario: name},
		Trajectory: traj,
	}
}

func TestLibrarianDefaults(t *testing.T) {
	l := NewLibrarian(nil, nil, nil)
	if l.EmbeddingThreshold != 0.75 {
		t.Errorf("EmbeddingThreshold = %v, want 0.75", l.EmbeddingThreshold)
	}
	if l.TrajectoryThreshold != 0.75 {
		t.Errorf("TrajectoryThreshold = %v, want 0.75", l.TrajectoryThreshold)
	}
	if l.AutoPromoteAt != 0.9 || l.ReviewAt != 0.7 || l.MinPatternSize != 2 {
		t.Errorf("gate defaults = %v/%v/%d, want 0.9/0.7/2", l.AutoPromoteAt, l.ReviewAt, l.MinPatternSize)
	}
}

func TestLibrarianClustersOnBothThresholds(t *testing.T) {
	l := NewLibrarian(nil, nil, nil)

	shared := steps("reproduce", "bisect", "fix", "test")
	exps := []*entry.Entry{
		experience("flaky timeout in sync worker", shared),
		experience("flaky timeout in batch worker", shared),
		experience("write release notes", steps("draft", "review")),
	}

	var res TaskResult
	groups := l.detectPatterns(context.Background(), exps, &res)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if len(g.Experiences) != 2 {
		t.Errorf("group size = %d, want 2", len(g.Experiences))
	}
	// No embedder configured: embedding similarity defaults to a match.
	if g.EmbeddingSimilarity != 1.0 || g.TrajectorySimilarity != 1.0 {
		t.Errorf("similarities = %v/%v, want 1/1", g.EmbeddingSimilarity, g.TrajectorySimilarity)
	}
	if g.SuggestedPattern != "reproduce -> bisect -> fix -> test" {
		t.Errorf("pattern = %q", g.SuggestedPattern)
	}
}

func TestLibrarianTrajectoryBelowThresholdSplits(t *testing.T) {
	l := NewLibrarian(nil, nil, nil)

	// Two of four steps shared: similarity 0.5, below the 0.75 threshold.
	exps := []*entry.Entry{
		experience("a", steps("read", "edit", "test", "commit")),
		experience("b", steps("read", "test", "deploy", "verify")),
		experience("c", steps("plan", "design")),
	}

	var res TaskResult
	if groups := l.detectPatterns(context.Background(), exps, &res); len(groups) != 0 {
		t.Fatalf("groups = %d, want 0", len(groups))
	}
}

func TestQualityGateDispositions(t *testing.T) {
	l := NewLibrarian(nil, nil, nil)

	rich := &entry.Entry{
		Content:      entry.Content{Scenario: "s", Outcome: "fixed"},
		Trajectory:   steps("a", "b"),
		UseCount:     10,
		SuccessCount: 10,
	}
	plain := &entry.Entry{Content: entry.Content{Scenario: "s"}, Trajectory: steps("a", "b")}

	tests := []struct {
		name     string
		group    PatternGroup
		wantConf float64
		want     Disposition
	}{
		{
			// 0.40*1 + 0.20*1 + 0.25*1 + 0.15*1 = 1.0
			name: "perfect cluster auto promotes",
			group: PatternGroup{
				Experiences:          []*entry.Entry{rich, rich, rich, rich, rich},
				EmbeddingSimilarity:  1.0,
				TrajectorySimilarity: 1.0,
				SuccessRate:          1.0,
			},
			wantConf: 1.0,
			want:     AutoPromote,
		},
		{
			// 0.40*0.9 + 0.20*0.4 + 0.25*0.7 + 0.15*0.7 = 0.72
			name: "decent cluster goes to review",
			group: PatternGroup{
				Experiences:          []*entry.Entry{plain, plain},
				EmbeddingSimilarity:  1.0,
				TrajectorySimilarity: 0.8,
			},
			wantConf: 0.72,
			want:     Review,
		},
		{
			// 0.40*0.775 + 0.20*0.4 + 0.25*0.2 + 0.15*0.7 = 0.545
			name: "failing cluster rejected",
			group: PatternGroup{
				Experiences: []*entry.Entry{
					{Content: entry.Content{Scenario: "s"}, Trajectory: steps("a", "b"), UseCount: 5, SuccessCount: 1},
					plain,
				},
				EmbeddingSimilarity:  0.8,
				TrajectorySimilarity: 0.75,
				SuccessRate:          0.2,
			},
			wantConf: 0.545,
			want:     Reject,
		},
	}
	for _, tt := range tests {
		l.gate(&tt.group)
		if math.Abs(tt.group.AdjustedConfidence-tt.wantConf) > 1e-9 {
			t.Errorf("%s: adjusted = %v, want %v", tt.name, tt.group.AdjustedConfidence, tt.wantConf)
		}
		if tt.group.Disposition != tt.want {
			t.Errorf("%s: disposition = %s, want %s", tt.name, tt.group.Disposition, tt.want)
		}
	}
}

func TestFeedbackLoopDecisionRules(t *testing.T) {
	fl := &FeedbackLoop{MinConfidence: 0.7}
	fl.SetPriorResults([]TaskResult{
		{Task: "extractionQuality", Executed: true, Details: map[string]any{
			"highValuePatternsFound": 1, "lowValuePatternsFound": 5,
		}},
		{Task: "duplicateRefinement", Executed: true, Details: map[string]any{
			"thresholdAdjustments": 1,
		}},
		{Task: "categoryAccuracy", Executed: true, Details: map[string]any{
			"entriesAnalyzed": 10, "miscategorizationsFound": 3,
		}},
		{Task: "relevanceCalibration", Executed: true, Details: map[string]any{
			"averageAdjustment": 0.2,
		}},
	})

	res := fl.Run(context.Background(), TaskInput{Scope: scope.GlobalScope})
	if !res.Executed {
		t.Fatal("feedback loop did not execute")
	}
	if got := res.Details["decisionsStored"]; got != 4 {
		t.Errorf("decisionsStored = %v, want 4", got)
	}
	// The duplicate-threshold decision sits at 0.65, below MinConfidence:
	// stored but not applied.
	if got := res.Details["improvementsApplied"]; got != 3 {
		t.Errorf("improvementsApplied = %v, want 3", got)
	}
	decisions := res.Details["decisions"].([]ImprovementDecision)
	for _, d := range decisions {
		if d.Source == "duplicateRefinement" && d.Applied {
			t.Errorf("low-confidence decision was applied: %+v", d)
		}
	}
}

func TestFeedbackLoopSkipsWhenNothingRan(t *testing.T) {
	fl := &FeedbackLoop{}
	fl.SetPriorResults([]TaskResult{{Task: "librarian", Executed: false}})
	if res := fl.Run(context.Background(), TaskInput{}); res.Executed {
		t.Fatal("feedback loop executed with no prior signals")
	}
}

func TestFeedbackLoopDryRunStoresUnapplied(t *testing.T) {
	fl := &FeedbackLoop{MinConfidence: 0.6}
	fl.SetPriorResults([]TaskResult{
		{Task: "relevanceCalibration", Executed: true, Details: map[string]any{
			"averageAdjustment": -0.3,
		}},
	})
	res := fl.Run(context.Background(), TaskInput{DryRun: true})
	if got := res.Details["improvementsApplied"]; got != 0 {
		t.Errorf("improvementsApplied = %v, want 0 in dry run", got)
	}
	if got := res.Details["decisionsStored"]; got != 1 {
		t.Errorf("decisionsStored = %v, want 1", got)
	}
}

func TestSuggestCategory(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"rotate the auth token before the secret expires", "security"},
		{"benchmark showed cache misses cause slow latency", "performance"},
		{"general onboarding notes", ""},
	}
	for _, tt := range tests {
		if got := suggestCategory(tt.text); got != tt.want {
			t.Errorf("suggestCategory(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestHeuristicRelevance(t *testing.T) {
	low := heuristicRelevance("ok")
	high := heuristicRelevance("always run the tests first because the fix must not regress the error path")
	if low >= high {
		t.Errorf("low %v >= high %v", low, high)
	}
	if high > 1 {
		t.Errorf("score %v exceeds 1", high)
	}
}

func TestParseInsights(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"clean array", `["a", "b"]`, 2},
		{"fenced", "```json\n[\"a\"]\n```", 1},
		{"capped at three", `["a","b","c","d"]`, 3},
		{"empty array", `[]`, 0},
		{"garbage", "no insights here", 0},
	}
	for _, tt := range tests {
		if got := parseInsights(tt.raw); len(got) != tt.want {
			t.Errorf("%s: %d insights, want %d", tt.name, len(got), tt.want)
		}
	}
}
