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

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/logger"
)

// QueueStatus is the lifecycle of a queued classification.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	// QueueStale marks an item dropped to make room for newer work.
	QueueStale QueueStatus = "stale"
)

// QueuedClassification is one unit of classifier work.
type QueuedClassification struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Context QueueContext `json:"context"`
	Status  QueueStatus  `json:"status"`
}

// QueueContext carries provenance so completion callbacks can route the
// result.
type QueueContext struct {
	SessionID string      `json:"sessionId"`
	Scope     string      `json:"scope,omitempty"`
	Trigger   TriggerType `json:"trigger,omitempty"`
}

// CompletionFunc fires exactly once per item reaching a terminal state.
type CompletionFunc func(item QueuedClassification, result *Classification, err error)

// Queue is a bounded single-process FIFO drained by one background
// worker. When full, the oldest pending item is dropped and marked stale.
// A disabled queue accepts enqueues as no-ops returning an empty id.
type Queue struct {
	mu       sync.Mutex
	items    []*QueuedClassification
	statuses map[string]QueueStatus

	capacity int
	interval time.Duration
	disabled bool

	classify   func(ctx context.Context, text string) (*Classification, error)
	onComplete CompletionFunc

	log  *slog.Logger
	stop chan struct{}
	done chan struct{}
}

// QueueOptions configures the queue. Classify is required unless the
// queue is disabled.
type QueueOptions struct {
	Capacity   int
	Interval   time.Duration
	Disabled   bool
	Classify   func(ctx context.Context, text string) (*Classification, error)
	OnComplete CompletionFunc
}

func NewQueue(opts QueueOptions) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Queue{
		statuses:   make(map[string]QueueStatus),
		capacity:   opts.Capacity,
		interval:   opts.Interval,
		disabled:   opts.Disabled,
		classify:   opts.Classify,
		onComplete: opts.OnComplete,
		log:        logger.GetLogger(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Enqueue adds work. On a full queue exactly the oldest pending item is
// dropped first.
func (q *Queue) Enqueue(text string, qctx QueueContext) string {
	if q.disabled {
		return ""
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.statuses[dropped.ID] = QueueStale
		q.log.Warn("classification queue full, dropped oldest", "droppedId", dropped.ID)
	}

	item := &QueuedClassification{
		ID:      uuid.NewString(),
		Text:    text,
		Context: qctx,
		Status:  QueuePending,
	}
	q.items = append(q.items, item)
	q.statuses[item.ID] = QueuePending
	return item.ID
}

// Status reports the last known status of an item, including stale and
// terminal states after the item left the queue.
func (q *Queue) Status(id string) (QueueStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.statuses[id]
	return s, ok
}

// Len is the number of items waiting or processing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start launches the drain worker. No-op for a disabled queue.
func (q *Queue) Start(ctx context.Context) {
	if q.disabled {
		close(q.done)
		return
	}
	go q.drain(ctx)
}

// Stop halts the worker and waits for it to exit.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *Queue) drain(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.processNext(ctx)
		}
	}
}

func (q *Queue) processNext(ctx context.Context) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	item := q.items[0]
	q.items = q.items[1:]
	item.Status = QueueProcessing
	q.statuses[item.ID] = QueueProcessing
	q.mu.Unlock()

	result, err := q.classify(ctx, item.Text)

	status := QueueCompleted
	if err != nil {
		status = QueueFailed
		q.log.Warn("classification failed", "id", item.ID, "error", err)
	}
	q.mu.Lock()
	item.Status = status
	q.statuses[item.ID] = status
	q.mu.Unlock()

	if q.onComplete != nil {
		q.onComplete(*item, result, err)
	}
}
