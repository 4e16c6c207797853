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
	"path/filepath"
	"testing"
	"time"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/session"
	"github.com/kadirpekel/engram/pkg/storage"
)

func user(content string) WindowMessage {
	return WindowMessage{Role: session.RoleUser, Content: content}
}

func assistant(content string) WindowMessage {
	return WindowMessage{Role: session.RoleAssistant, Content: content}
}

func TestTriggerUserCorrection(t *testing.T) {
	d := NewTriggerDetector(0.5)

	got := d.Detect([]WindowMessage{
		assistant("I renamed the module to utils."),
		user("no, I meant rename the package directory"),
	})
	if len(got) == 0 {
		t.Fatal("expected a USER_CORRECTION trigger")
	}
	if got[0].Type != TriggerUserCorrection {
		t.Errorf("type = %s, want USER_CORRECTION", got[0].Type)
	}
	if got[0].Confidence != ConfidenceHigh {
		t.Errorf("leading correction phrase should score high, got %s (%.2f)", got[0].Confidence, got[0].Score)
	}
}

func TestTriggerIsolatedUserMessage(t *testing.T) {
	d := NewTriggerDetector(0.5)
	if got := d.Detect([]WindowMessage{user("no, that's wrong")}); got != nil {
		t.Errorf("isolated user message should detect nothing, got %v", got)
	}
}

func TestTriggerEnthusiasmNegation(t *testing.T) {
	d := NewTriggerDetector(0.5)

	window := []WindowMessage{
		assistant("Done, switched to table-driven tests."),
		user("perfect, exactly what I wanted!"),
	}
	found := false
	for _, tr := range d.Detect(window) {
		if tr.Type == TriggerEnthusiasm {
			found = true
		}
	}
	if !found {
		t.Error("positive verdict should trigger ENTHUSIASM")
	}

	// Negation inside the 30-char look-back suppresses the phrase.
	negated := []WindowMessage{
		assistant("Done."),
		user("this is not great at all"),
	}
	for _, tr := range d.Detect(negated) {
		if tr.Type == TriggerEnthusiasm {
			t.Error("negated positive phrase should not trigger ENTHUSIASM")
		}
	}

	// Question indicators suppress as well.
	question := []WindowMessage{
		assistant("Done."),
		user("great, but does it handle unicode?"),
	}
	for _, tr := range d.Detect(question) {
		if tr.Type == TriggerEnthusiasm {
			t.Error("question should not trigger ENTHUSIASM")
		}
	}
}

func TestTriggerErrorRecovery(t *testing.T) {
	d := NewTriggerDetector(0.5)
	got := d.Detect([]WindowMessage{
		{Role: session.RoleTool, Content: "exit status 1", HasError: true},
		user("retry with the vendored toolchain"),
		{Role: session.RoleTool, Content: "ok", ToolSuccess: true},
	})
	found := false
	for _, tr := range got {
		if tr.Type == TriggerErrorRecovery {
			found = true
			if tr.Confidence != ConfidenceHigh {
				t.Errorf("tool-flagged recovery should be high, got %s", tr.Confidence)
			}
		}
	}
	if !found {
		t.Fatal("expected ERROR_RECOVERY")
	}
}

func TestTriggerRepeatedRequest(t *testing.T) {
	d := NewTriggerDetector(0.5)
	window := []WindowMessage{
		user("please format the generated code with gofumpt"),
		assistant("ok"),
		user("format the generated code with gofumpt please"),
		assistant("ok"),
		user("again: format the generated code with gofumpt"),
	}
	found := false
	for _, tr := range d.Detect(window) {
		if tr.Type == TriggerRepeatedRequest {
			found = true
		}
	}
	if !found {
		t.Error("thrice-repeated request should trigger REPEATED_REQUEST")
	}
}

// The canonical auto-store check: an imperative rule is extracted as
// exactly one guideline above the auto-store threshold.
func TestExtractorAutoStoreGuideline(t *testing.T) {
	x := NewExtractor()
	got := x.Extract("Always use TypeScript strict mode", TriggerUserCorrection)
	if len(got) != 1 {
		t.Fatalf("got %d suggestions, want 1", len(got))
	}
	s := got[0]
	if s.Kind != entry.KindGuideline {
		t.Errorf("kind = %s, want guideline", s.Kind)
	}
	if s.Confidence < 0.85 {
		t.Errorf("confidence = %.2f, want >= 0.85", s.Confidence)
	}
	if s.Title == "" || s.Hash == "" {
		t.Errorf("title/hash must be derivable from content: %+v", s)
	}
}

func TestExtractorShortTextDiscarded(t *testing.T) {
	x := NewExtractor()
	if got := x.Extract("ok then", ""); got != nil {
		t.Errorf("trivial text should extract nothing, got %v", got)
	}
}

func TestExtractorHashStable(t *testing.T) {
	x := NewExtractor()
	a := x.Extract("Always run migrations before deploys", "")
	b := x.Extract("always   run migrations before deploys", "")
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("extractions: %d, %d", len(a), len(b))
	}
	if a[0].Hash != b[0].Hash {
		t.Error("hash should normalize whitespace and case")
	}
}

func TestBoosterDiminishingReturns(t *testing.T) {
	b := NewBooster()

	// Two signals for knowledge: decision-explicit (0.15) and
	// comparison-performance (0.10). Adjusted = 0.5 + 0.15 + 0.10*0.6.
	text := "we decided to keep sqlite because it benchmarks faster here"
	got := b.Boost(entry.KindKnowledge, 0.5, text)
	want := 0.5 + 0.15 + 0.10*diminishFactor
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Boost() = %.4f, want %.4f", got, want)
	}

	// The same text boosts nothing for tools.
	if got := b.Boost(entry.KindTool, 0.5, "we decided to do it"); got != 0.5 {
		t.Errorf("inapplicable signals changed confidence: %.2f", got)
	}

	// Caps apply after stacking.
	if got := b.Boost(entry.KindGuideline, 0.95, "always prefer X instead of Y because it is safer, we decided"); got > 0.98 {
		t.Errorf("boost exceeded catalog cap: %.3f", got)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(QueueOptions{Capacity: 2, Interval: time.Hour, Classify: func(context.Context, string) (*Classification, error) {
		return &Classification{Kind: "none"}, nil
	}})

	first := q.Enqueue("first", QueueContext{})
	q.Enqueue("second", QueueContext{})
	q.Enqueue("third", QueueContext{})

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	status, ok := q.Status(first)
	if !ok || status != QueueStale {
		t.Errorf("oldest item status = %s, want stale", status)
	}
}

func TestQueueDisabledNoop(t *testing.T) {
	q := NewQueue(QueueOptions{Disabled: true})
	if id := q.Enqueue("anything", QueueContext{}); id != "" {
		t.Errorf("disabled enqueue returned id %q, want empty", id)
	}
	if q.Len() != 0 {
		t.Errorf("disabled queue holds %d items", q.Len())
	}
}

func TestQueueCompletionCallback(t *testing.T) {
	done := make(chan QueuedClassification, 1)
	q := NewQueue(QueueOptions{
		Capacity: 4,
		Interval: 5 * time.Millisecond,
		Classify: func(_ context.Context, text string) (*Classification, error) {
			return &Classification{Kind: "guideline", Confidence: 0.9, AutoStore: true}, nil
		},
		OnComplete: func(item QueuedClassification, result *Classification, err error) {
			done <- item
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	id := q.Enqueue("Always pin dependency versions in CI", QueueContext{SessionID: "s1"})
	select {
	case item := <-done:
		if item.ID != id || item.Status != QueueCompleted {
			t.Errorf("completion item = %+v", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind string
		wantConf float64
	}{
		{"clean", `{"type": "guideline", "confidence": 0.9}`, "guideline", 0.9},
		{"fenced", "```json\n{\"type\": \"knowledge\", \"confidence\": 0.72}\n```", "knowledge", 0.72},
		{"prose wrapped", `Sure. {"type": "tool", "confidence": 0.8} as requested`, "tool", 0.8},
		{"out of range clamped", `{"type": "guideline", "confidence": 1.7}`, "guideline", 0},
		{"unknown kind", `{"type": "poem", "confidence": 0.9}`, "none", 0.9},
		{"garbage", `not json at all`, "none", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseClassification(tt.raw)
			if got.Kind != tt.wantKind || got.Confidence != tt.wantConf {
				t.Errorf("parseClassification() = {%s %.2f}, want {%s %.2f}",
					got.Kind, got.Confidence, tt.wantKind, tt.wantConf)
			}
		})
	}
}

func newTestRepos(t *testing.T) (map[entry.Kind]*repository.Entries, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repos := make(map[entry.Kind]*repository.Entries, len(entry.Kinds))
	for _, k := range entry.Kinds {
		repos[k] = repository.NewEntries(store, k, repository.WithPolicy(scope.Policy{Mode: scope.Permissive}))
	}
	return repos, store
}

func TestRouterSuggestionLifecycle(t *testing.T) {
	repos, _ := newTestRepos(t)
	r := NewRouter(repos)
	ctx := context.Background()

	sug := Suggestion{
		Kind:       entry.KindGuideline,
		Title:      "prefer table driven tests",
		Content:    "Prefer table driven tests for parser code",
		Confidence: 0.75,
		Hash:       "abc123",
	}
	id := r.Suggest(sug, scope.GlobalScope, "s1")
	if id == "" {
		t.Fatal("Suggest returned empty id")
	}
	// Same hash resubmission reuses the pending slot.
	if dup := r.Suggest(sug, scope.GlobalScope, "s1"); dup != id {
		t.Errorf("duplicate hash created a second suggestion")
	}
	if len(r.Pending()) != 1 {
		t.Fatalf("pending = %d, want 1", len(r.Pending()))
	}

	e, err := r.Approve(ctx, id)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if e.Kind != entry.KindGuideline || e.CreatedBy != "capture" {
		t.Errorf("approved entry = %+v", e)
	}
	if _, err := r.Approve(ctx, id); err == nil {
		t.Error("second approve of the same id should fail")
	}

	r.Suggest(Suggestion{Kind: entry.KindKnowledge, Title: "x", Content: "y", Hash: "other"}, scope.GlobalScope, "")
	if n := r.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
}

func TestPipelineAutoStoreEndToEnd(t *testing.T) {
	repos, store := newTestRepos(t)
	sessions := session.NewSessions(store)
	ctx := context.Background()

	sess, err := sessions.Open(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	p := NewPipeline(repos, PipelineOptions{Sessions: sessions, Cooldown: time.Millisecond})
	p.ObserveMessage(ctx, sess.ID, scope.GlobalScope, assistant("Using loose mode for now."))
	p.ObserveMessage(ctx, sess.ID, scope.GlobalScope, user("no, always use TypeScript strict mode"))

	list, err := repos[entry.KindGuideline].List(ctx, entry.ListFilter{Scope: scope.GlobalScope}, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("stored %d guidelines, want exactly 1", len(list))
	}
	if list[0].CreatedBy != "capture" {
		t.Errorf("CreatedBy = %q, want capture", list[0].CreatedBy)
	}
}

func TestPipelineCooldownSuppresses(t *testing.T) {
	repos, _ := newTestRepos(t)
	p := NewPipeline(repos, PipelineOptions{Cooldown: time.Hour})
	ctx := context.Background()

	p.ObserveMessage(ctx, "s1", scope.GlobalScope, assistant("done"))
	p.ObserveMessage(ctx, "s1", scope.GlobalScope, user("no, always run the linter before commit"))
	// Second correction lands inside the cooldown window.
	p.ObserveMessage(ctx, "s1", scope.GlobalScope, assistant("done"))
	p.ObserveMessage(ctx, "s1", scope.GlobalScope, user("no, always squash fixup commits too"))

	list, err := repos[entry.KindGuideline].List(ctx, entry.ListFilter{Scope: scope.GlobalScope}, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("cooldown should have suppressed the second capture, stored %d", len(list))
	}
}
