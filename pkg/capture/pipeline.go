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
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/logger"
	"github.com/kadirpekel/engram/pkg/observability"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/vector"
)

// windowSize bounds the per-session sliding window the trigger detector
// sees.
const windowSize = 10

// regexAutoStoreThreshold is the extractor's direct-store cutoff; below
// it, non-trivial text goes to the classifier queue.
const (
	regexAutoStoreThreshold = 0.85
	queueThreshold          = 0.4
)

// SessionChecker reports whether a session is still open. Late-arriving
// classification results for ended sessions are skipped.
type SessionChecker interface {
	IsOpen(ctx context.Context, sessionID string) (bool, error)
}

// Pipeline is the capture orchestrator. Capture errors never propagate to
// the caller; they are logged and the pipeline continues.
type Pipeline struct {
	detector  *TriggerDetector
	extractor *Extractor
	queue     *Queue
	router    *Router
	sessions  SessionChecker

	embed   embedder.Embedder
	vectors *vector.Service

	cooldown time.Duration

	mu       sync.Mutex
	windows  map[string][]WindowMessage
	lastFire map[string]time.Time

	log *slog.Logger
}

// PipelineOptions wires the pipeline. Classifier may be nil, which
// disables the queue path; Embedder/Vectors may be nil, which skips
// indexing.
type PipelineOptions struct {
	Sessions   SessionChecker
	Classifier *Classifier
	Embedder   embedder.Embedder
	Vectors    *vector.Service

	MinConfidenceScore float64
	Cooldown           time.Duration
	QueueSize          int
	QueueInterval      time.Duration
}

func NewPipeline(repos map[entry.Kind]*repository.Entries, opts PipelineOptions) *Pipeline {
	if opts.MinConfidenceScore == 0 {
		opts.MinConfidenceScore = 0.5
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = 5 * time.Second
	}

	p := &Pipeline{
		detector:  NewTriggerDetector(opts.MinConfidenceScore),
		extractor: NewExtractor(),
		router:    NewRouter(repos),
		sessions:  opts.Sessions,
		embed:     opts.Embedder,
		vectors:   opts.Vectors,
		cooldown:  opts.Cooldown,
		windows:   make(map[string][]WindowMessage),
		lastFire:  make(map[string]time.Time),
		log:       logger.GetLogger(),
	}

	var classify func(ctx context.Context, text string) (*Classification, error)
	if opts.Classifier != nil {
		classify = opts.Classifier.Classify
	}
	p.queue = NewQueue(QueueOptions{
		Capacity:   opts.QueueSize,
		Interval:   opts.QueueInterval,
		Disabled:   opts.Classifier == nil,
		Classify:   classify,
		OnComplete: p.onClassified,
	})
	return p
}

// Start launches the classifier drain worker.
func (p *Pipeline) Start(ctx context.Context) { p.queue.Start(ctx) }

// Stop halts background work.
func (p *Pipeline) Stop() { p.queue.Stop() }

// Router exposes the suggestion review API.
func (p *Pipeline) Router() *Router { return p.router }

// Queue exposes the classification queue, primarily for status probes.
func (p *Pipeline) Queue() *Queue { return p.queue }

// ObserveMessage feeds one conversation message through the loop:
// window update, trigger detection under cooldown, extraction, routing.
func (p *Pipeline) ObserveMessage(ctx context.Context, sessionID string, sc scope.Scope, msg WindowMessage) {
	window := p.pushWindow(sessionID, msg)

	triggers := p.detector.Detect(window)
	if len(triggers) == 0 {
		return
	}
	if !p.clearCooldown(sessionID) {
		// Detected but not forwarded inside the cooldown window.
		return
	}

	for _, trig := range triggers {
		for _, sug := range p.extractor.Extract(trig.ExtractedContent, trig.Type) {
			p.route(ctx, sug, sc, sessionID)
		}
	}
}

// ObserveText runs extraction directly over raw text, outside trigger
// detection. Used by boundary calls that hand over explicit fragments.
func (p *Pipeline) ObserveText(ctx context.Context, sessionID string, sc scope.Scope, text string) {
	for _, sug := range p.extractor.Extract(text, "") {
		p.route(ctx, sug, sc, sessionID)
	}
}

func (p *Pipeline) route(ctx context.Context, sug Suggestion, sc scope.Scope, sessionID string) {
	metrics := observability.GetGlobalMetrics()
	switch {
	case sug.Confidence >= regexAutoStoreThreshold:
		e, err := p.router.Store(ctx, sug, sc, sessionID)
		if err != nil {
			p.log.Warn("capture auto-store failed", "title", sug.Title, "error", err)
			return
		}
		metrics.RecordCaptureSuggestion(ctx, "stored")
		p.index(ctx, e)
	case sug.Confidence >= queueThreshold:
		metrics.RecordCaptureSuggestion(ctx, "queued")
		p.queue.Enqueue(sug.Content, QueueContext{
			SessionID: sessionID,
			Scope:     sc.String(),
			Trigger:   sug.Trigger,
		})
	default:
		// Below queueThreshold: no entry, no suggestion, no version.
		metrics.RecordCaptureSuggestion(ctx, "discarded")
	}
}

// onClassified handles queue completions, which may arrive after later
// messages or after the session ended.
func (p *Pipeline) onClassified(item QueuedClassification, result *Classification, err error) {
	if err != nil || result == nil {
		return
	}
	kind, ok := result.EntryKind()
	if !ok {
		return
	}

	ctx := context.Background()
	if p.sessions != nil && item.Context.SessionID != "" {
		open, err := p.sessions.IsOpen(ctx, item.Context.SessionID)
		if err != nil || !open {
			return
		}
	}

	sc, err := scope.Parse(item.Context.Scope)
	if err != nil {
		sc = scope.GlobalScope
	}
	title := result.Title
	if title == "" {
		title = TitleFor(item.Text)
	}
	sug := Suggestion{
		Kind:       kind,
		Title:      title,
		Content:    item.Text,
		Confidence: result.Confidence,
		Trigger:    item.Context.Trigger,
		Hash:       contentHash(kind, item.Text),
	}

	switch {
	case result.AutoStore:
		e, err := p.router.Store(ctx, sug, sc, item.Context.SessionID)
		if err != nil {
			p.log.Warn("classified auto-store failed", "title", sug.Title, "error", err)
			return
		}
		observability.GetGlobalMetrics().RecordCaptureSuggestion(ctx, "stored")
		p.index(ctx, e)
	case result.Suggest:
		p.router.Suggest(sug, sc, item.Context.SessionID)
	}
}

// index embeds and upserts a stored entry into the vector service.
// Best-effort: search degrades to lexical on failure.
func (p *Pipeline) index(ctx context.Context, e *entry.Entry) {
	if p.embed == nil || p.vectors == nil || !p.embed.IsAvailable(ctx) {
		return
	}
	res, err := p.embed.Embed(ctx, e.Name+"\n"+e.Content.SearchText())
	if err != nil {
		p.log.Warn("capture embedding failed", "entry", e.ID, "error", err)
		return
	}
	if err := p.vectors.Upsert(ctx, e.Kind, e.ID, res.Vector, e.Scope); err != nil {
		p.log.Warn("capture vector upsert failed", "entry", e.ID, "error", err)
	}
}

func (p *Pipeline) pushWindow(sessionID string, msg WindowMessage) []WindowMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := append(p.windows[sessionID], msg)
	if len(w) > windowSize {
		w = w[len(w)-windowSize:]
	}
	p.windows[sessionID] = w
	out := make([]WindowMessage, len(w))
	copy(out, w)
	return out
}

// clearCooldown reports whether this session may fire and records the
// firing time when it may.
func (p *Pipeline) clearCooldown(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if last, ok := p.lastFire[sessionID]; ok && now.Sub(last) < p.cooldown {
		return false
	}
	p.lastFire[sessionID] = now
	return true
}

// EndSession drops per-session detector state.
func (p *Pipeline) EndSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.windows, sessionID)
	delete(p.lastFire, sessionID)
}
