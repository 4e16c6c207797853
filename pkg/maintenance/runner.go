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

// Package maintenance runs the scheduled passes that improve the store:
// pattern detection over experiences, duplicate refinement, relevance
// recalibration, and the feedback loop that ties their signals together.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kadirpekel/engram/pkg/logger"
	"github.com/kadirpekel/engram/pkg/observability"
	"github.com/kadirpekel/engram/pkg/scope"
)

// TaskInput targets one task run at one scope.
type TaskInput struct {
	Scope  scope.Scope
	DryRun bool
	RunID  string
}

// TaskResult is the typed outcome every task returns. Executed=false
// means a precondition was not met; Errors collects per-item failures
// without aborting the run.
type TaskResult struct {
	Task       string         `json:"task"`
	Executed   bool           `json:"executed"`
	DurationMs int64          `json:"durationMs"`
	Errors     []string       `json:"errors,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func (r *TaskResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Task is one maintenance pass.
type Task interface {
	Name() string
	Run(ctx context.Context, in TaskInput) TaskResult
}

// resultAware tasks see the results of the tasks that ran before them in
// the same scope pass. The feedback loop consumes these signals.
type resultAware interface {
	SetPriorResults(results []TaskResult)
}

// Runner executes the task catalog sequentially for a scope. Different
// scopes may run concurrently; tasks within one scope share the run id
// and see each other's results through the feedback loop.
type Runner struct {
	tasks []Task
	log   *slog.Logger
}

func NewRunner(tasks ...Task) *Runner {
	return &Runner{tasks: tasks, log: logger.GetLogger()}
}

// Run executes all tasks for one scope. A task failure is isolated into
// its result; the run always completes.
func (r *Runner) Run(ctx context.Context, sc scope.Scope, dryRun bool) []TaskResult {
	runID := uuid.NewString()
	results := make([]TaskResult, 0, len(r.tasks))

	for _, task := range r.tasks {
		if aware, ok := task.(resultAware); ok {
			aware.SetPriorResults(results)
		}
		start := time.Now()
		res := r.runIsolated(ctx, task, TaskInput{Scope: sc, DryRun: dryRun, RunID: runID})
		res.Task = task.Name()
		res.DurationMs = time.Since(start).Milliseconds()
		results = append(results, res)
		observability.GetGlobalMetrics().RecordMaintenanceTask(ctx, task.Name(), time.Since(start), len(res.Errors))

		r.log.Info("maintenance task finished",
			"task", task.Name(), "scope", sc.String(), "runId", runID,
			"executed", res.Executed, "durationMs", res.DurationMs, "errors", len(res.Errors))
	}
	return results
}

func (r *Runner) runIsolated(ctx context.Context, task Task, in TaskInput) (res TaskResult) {
	defer func() {
		if p := recover(); p != nil {
			res.Executed = true
			res.Errors = append(res.Errors, fmt.Sprintf("panic: %v", p))
		}
	}()
	return task.Run(ctx, in)
}

// Scheduler fires maintenance runs on a cron expression.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	scopes func() []scope.Scope
	log    *slog.Logger
}

// NewScheduler builds a scheduler. scopes is called at fire time so newly
// created projects are picked up without a restart.
func NewScheduler(runner *Runner, scopes func() []scope.Scope) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		scopes: scopes,
		log:    logger.GetLogger(),
	}
}

// Start registers the schedule and launches the cron loop.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		for _, sc := range s.scopes() {
			sc := sc
			go func() {
				s.runner.Run(ctx, sc, false)
			}()
		}
	})
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.log.Info("maintenance scheduler started", "schedule", spec)
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
