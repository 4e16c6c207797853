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

package session

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	sessions := NewSessions(store)
	ctx := context.Background()

	sess, err := sessions.Open(ctx, "", "refactor run")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.Status != StatusActive {
		t.Errorf("status = %s, want active", sess.Status)
	}

	open, err := sessions.IsOpen(ctx, sess.ID)
	if err != nil || !open {
		t.Errorf("IsOpen() = %v, %v, want true", open, err)
	}

	ended, err := sessions.End(ctx, sess.ID, true)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusCompleted || ended.EndedAt == nil {
		t.Errorf("ended = %+v", ended)
	}

	// Ending twice is NOT_FOUND against the active-session predicate.
	if _, err := sessions.End(ctx, sess.ID, true); !memerr.IsCode(err, memerr.CodeNotFound) {
		t.Errorf("double End() = %v, want NOT_FOUND", err)
	}
}

func TestEpisodeStateMachine(t *testing.T) {
	store := openTestStore(t)
	sessions := NewSessions(store)
	episodes := NewEpisodes(store)
	ctx := context.Background()

	sess, err := sessions.Open(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	ep, err := episodes.Create(ctx, sess.ID, "fix flaky test", scope.GlobalScope, "work")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ep.Status != EpisodePending {
		t.Errorf("status = %s, want pending", ep.Status)
	}

	// Completing before starting is a conflict.
	if _, err := episodes.Complete(ctx, ep.ID, "success", false); !memerr.IsCode(err, memerr.CodeConflict) {
		t.Errorf("Complete(pending) = %v, want CONFLICT", err)
	}

	started, err := episodes.Start(ctx, ep.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started.Status != EpisodeRunning || started.StartedAt == nil {
		t.Errorf("started = %+v", started)
	}
	if _, err := episodes.Start(ctx, ep.ID); !memerr.IsCode(err, memerr.CodeConflict) {
		t.Errorf("double Start() = %v, want CONFLICT", err)
	}

	done, err := episodes.Complete(ctx, ep.ID, "success", false)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.Status != EpisodeCompleted || done.Outcome != "success" {
		t.Errorf("done = %+v", done)
	}
}

func TestEventOrderingAndDescription(t *testing.T) {
	store := openTestStore(t)
	sessions := NewSessions(store)
	episodes := NewEpisodes(store)
	ctx := context.Background()

	sess, _ := sessions.Open(ctx, "", "")
	ep, _ := episodes.Create(ctx, sess.ID, "", scope.GlobalScope, "")

	for _, name := range []string{"first", "second", "third"} {
		if _, err := episodes.AppendEvent(ctx, ep.ID, "checkpoint", name, nil, ""); err != nil {
			t.Fatalf("AppendEvent(%s) error = %v", name, err)
		}
	}
	events, err := episodes.Events(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Errorf("event[%d].Seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"semantic summary wins",
			Event{SemanticSummary: "refined the query plan",
				Data: map[string]any{"action": "update", "entryName": "x"}},
			"refined the query plan"},
		{"entry reference",
			Event{Data: map[string]any{"action": "update", "entryName": "deploy-script"}},
			"update: deploy-script"},
		{"tool fallback",
			Event{Data: map[string]any{"action": "list", "toolName": "memory_query"}},
			"Tool memory_query with action list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Description(); got != tt.want {
				t.Errorf("Description() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQualityScore(t *testing.T) {
	store := openTestStore(t)
	sessions := NewSessions(store)
	episodes := NewEpisodes(store)
	ctx := context.Background()

	sess, _ := sessions.Open(ctx, "", "")
	ep, _ := episodes.Create(ctx, sess.ID, "", scope.GlobalScope, "work")
	if _, err := episodes.Start(ctx, ep.ID); err != nil {
		t.Fatal(err)
	}

	summaries := []string{"", "reached the checkpoint", ""}
	for _, s := range summaries {
		if _, err := episodes.AppendEvent(ctx, ep.ID, "checkpoint", "step", nil, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := episodes.SetMetadata(ctx, ep.ID, map[string]any{"nameEnriched": true}); err != nil {
		t.Fatal(err)
	}

	done, err := episodes.Complete(ctx, ep.ID, "success", false)
	if err != nil {
		t.Fatal(err)
	}
	if done.QualityScore != 65 {
		t.Errorf("qualityScore = %d, want 65", done.QualityScore)
	}
	want := map[string]float64{
		"hasEvents":         0.25,
		"hasSemanticEvents": 0.25,
		"nameEnriched":      0.15,
		"messagesLinked":    0,
		"messagesScored":    0,
		"hasExperiences":    0,
	}
	for k, v := range want {
		if got := done.QualityFactors[k]; math.Abs(got-v) > 1e-9 {
			t.Errorf("factor %s = %v, want %v", k, got, v)
		}
	}
}

func TestQualityScoreBounds(t *testing.T) {
	if got := Score(map[string]float64{}); got != 0 {
		t.Errorf("empty factors score = %d, want 0", got)
	}
	all := map[string]float64{
		"hasEvents":         0.25,
		"hasSemanticEvents": 0.25,
		"nameEnriched":      0.15,
		"messagesLinked":    0.10,
		"messagesScored":    0.10,
		"hasExperiences":    0.15,
	}
	if got := Score(all); got != 100 {
		t.Errorf("full factors score = %d, want 100", got)
	}
}

func TestMessagesAndRelevance(t *testing.T) {
	store := openTestStore(t)
	sessions := NewSessions(store)
	episodes := NewEpisodes(store)
	messages := NewMessages(store)
	ctx := context.Background()

	sess, _ := sessions.Open(ctx, "", "")
	ep, _ := episodes.Create(ctx, sess.ID, "", scope.GlobalScope, "")

	msg, err := messages.Append(ctx, sess.ID, "", RoleUser, "please fix the build", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := messages.Append(ctx, sess.ID, "", Role("robot"), "x", nil); !memerr.IsCode(err, memerr.CodeValidation) {
		t.Errorf("bad role = %v, want VALIDATION", err)
	}

	if err := messages.LinkEpisode(ctx, msg.ID, ep.ID); err != nil {
		t.Fatalf("LinkEpisode() error = %v", err)
	}
	if err := messages.SetRelevance(ctx, msg.ID, 0.9); err != nil {
		t.Fatalf("SetRelevance() error = %v", err)
	}
	if err := messages.SetRelevance(ctx, msg.ID, 1.5); !memerr.IsCode(err, memerr.CodeValidation) {
		t.Errorf("out-of-range relevance = %v, want VALIDATION", err)
	}

	linked, err := messages.ByEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 1 || linked[0].RelevanceScore == nil || *linked[0].RelevanceScore != 0.9 {
		t.Errorf("linked = %+v", linked)
	}
}

func TestRelevanceBuckets(t *testing.T) {
	tests := []struct {
		score float64
		want  RelevanceBucket
	}{
		{0.95, RelevanceHigh},
		{0.8, RelevanceHigh},
		{0.79, RelevanceMedium},
		{0.5, RelevanceMedium},
		{0.49, RelevanceLow},
		{0, RelevanceLow},
	}
	for _, tt := range tests {
		if got := DefaultBuckets.Bucket(tt.score); got != tt.want {
			t.Errorf("Bucket(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
