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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

// EpisodeStatus is the episode lifecycle state.
type EpisodeStatus string

const (
	EpisodePending   EpisodeStatus = "pending"
	EpisodeRunning   EpisodeStatus = "running"
	EpisodeCompleted EpisodeStatus = "completed"
	EpisodeFailed    EpisodeStatus = "failed"
)

// Episode is one unit of work within a session.
type Episode struct {
	ID             string             `json:"id"`
	SessionID      string             `json:"sessionId"`
	Name           string             `json:"name"`
	Scope          scope.Scope        `json:"scope"`
	TriggerType    string             `json:"triggerType,omitempty"`
	Status         EpisodeStatus      `json:"status"`
	Outcome        string             `json:"outcome,omitempty"`
	QualityScore   int                `json:"qualityScore"`
	QualityFactors map[string]float64 `json:"qualityFactors,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	StartedAt      *time.Time         `json:"startedAt,omitempty"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// Event is an ordered entry in an episode's trace.
type Event struct {
	ID              string         `json:"id"`
	EpisodeID       string         `json:"episodeId"`
	Seq             int            `json:"seq"`
	Type            string         `json:"eventType"`
	Message         string         `json:"message,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	SemanticSummary string         `json:"semanticSummary,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Description is the durable human-readable form of an event. A semantic
// summary wins when present; otherwise the description is derived from the
// event data.
func (e *Event) Description() string {
	if e.SemanticSummary != "" {
		return e.SemanticSummary
	}
	action, _ := e.Data["action"].(string)
	if name, ok := e.Data["entryName"].(string); ok && name != "" {
		return fmt.Sprintf("%s: %s", action, name)
	}
	tool, _ := e.Data["toolName"].(string)
	return fmt.Sprintf("Tool %s with action %s", tool, action)
}

// Episodes is the episode repository and state machine.
type Episodes struct {
	store *storage.Store
}

func NewEpisodes(store *storage.Store) *Episodes {
	return &Episodes{store: store}
}

// Create records a pending episode under the session.
func (r *Episodes) Create(ctx context.Context, sessionID, name string, sc scope.Scope, triggerType string) (*Episode, error) {
	if err := sc.Validate(); err != nil {
		return nil, memerr.Validation("%s", err.Error())
	}
	ep := &Episode{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Name:        name,
		Scope:       sc,
		TriggerType: triggerType,
		Status:      EpisodePending,
		Metadata:    map[string]any{},
		CreatedAt:   time.Now().UTC(),
	}
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return memerr.NotFound("session", sessionID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO episodes (id, session_id, name, scope_type, scope_id,
				trigger_type, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ep.ID, ep.SessionID, ep.Name, ep.Scope.Type, nullable(ep.Scope.ID),
			ep.TriggerType, ep.Status, ep.CreatedAt)
		return err
	})
	if err != nil {
		if memerr.CodeOf(err) != memerr.CodeUnknown {
			return nil, err
		}
		return nil, memerr.Database("create episode", err)
	}
	return ep, nil
}

// Start transitions pending -> running.
func (r *Episodes) Start(ctx context.Context, id string) (*Episode, error) {
	now := time.Now().UTC()
	err := r.transition(ctx, id, EpisodePending, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE episodes SET status = ?, started_at = ? WHERE id = ?`,
			EpisodeRunning, now, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Complete transitions running -> completed|failed and computes the
// quality score from the episode's recorded trace.
func (r *Episodes) Complete(ctx context.Context, id, outcome string, failed bool) (*Episode, error) {
	status := EpisodeCompleted
	if failed {
		status = EpisodeFailed
	}
	now := time.Now().UTC()
	err := r.transition(ctx, id, EpisodeRunning, func(tx *sql.Tx) error {
		factors, err := r.qualityFactorsInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		score := Score(factors)
		factorsJSON, err := json.Marshal(factors)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE episodes SET status = ?, outcome = ?, quality_score = ?,
				quality_factors = ?, completed_at = ?
			WHERE id = ?`,
			status, outcome, score, string(factorsJSON), now, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// transition runs apply only if the episode is currently in the required
// state.
func (r *Episodes) transition(ctx context.Context, id string, from EpisodeStatus, apply func(tx *sql.Tx) error) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var current EpisodeStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM episodes WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return memerr.NotFound("episode", id)
		}
		if err != nil {
			return err
		}
		if current != from {
			return memerr.New(memerr.CodeConflict).
				Message("episode %s is %s, expected %s", id, current, from).
				With("status", string(current)).
				Build()
		}
		return apply(tx)
	})
}

// AppendEvent appends an event with the next sequence number. Events for
// one episode are strictly ordered by arrival.
func (r *Episodes) AppendEvent(ctx context.Context, episodeID, eventType, message string, data map[string]any, semanticSummary string) (*Event, error) {
	if eventType == "" {
		return nil, memerr.Validation("eventType is required")
	}
	dataJSON, err := json.Marshal(orEmptyMap(data))
	if err != nil {
		return nil, memerr.Validation("event data is not serializable: %v", err)
	}
	ev := &Event{
		ID:              uuid.NewString(),
		EpisodeID:       episodeID,
		Type:            eventType,
		Message:         message,
		Data:            data,
		SemanticSummary: semanticSummary,
		CreatedAt:       time.Now().UTC(),
	}
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM episodes WHERE id = ?`, episodeID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return memerr.NotFound("episode", episodeID)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT ifnull(MAX(seq), 0) + 1 FROM episode_events WHERE episode_id = ?`,
			episodeID).Scan(&ev.Seq); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO episode_events (id, episode_id, seq, event_type, message,
				data, semantic_summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.EpisodeID, ev.Seq, ev.Type, ev.Message,
			string(dataJSON), ev.SemanticSummary, ev.CreatedAt)
		return err
	})
	if err != nil {
		if memerr.CodeOf(err) != memerr.CodeUnknown {
			return nil, err
		}
		return nil, memerr.Database("append event", err)
	}
	return ev, nil
}

// Events returns the episode's events in sequence order.
func (r *Episodes) Events(ctx context.Context, episodeID string) ([]Event, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, episode_id, seq, event_type, message, data, semantic_summary, created_at
		FROM episode_events WHERE episode_id = ? ORDER BY seq`, episodeID)
	if err != nil {
		return nil, memerr.Database("list events", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var dataJSON string
		if err := rows.Scan(&ev.ID, &ev.EpisodeID, &ev.Seq, &ev.Type,
			&ev.Message, &dataJSON, &ev.SemanticSummary, &ev.CreatedAt); err != nil {
			return nil, memerr.Database("scan event", err)
		}
		if dataJSON != "" && dataJSON != "{}" {
			_ = json.Unmarshal([]byte(dataJSON), &ev.Data)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Get returns an episode by id.
func (r *Episodes) Get(ctx context.Context, id string) (*Episode, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, session_id, name, scope_type, ifnull(scope_id, ''), trigger_type,
			status, outcome, quality_score, quality_factors, metadata,
			started_at, completed_at, created_at
		FROM episodes WHERE id = ?`, id)
	return scanEpisode(row, id)
}

// BySession returns the session's episodes, oldest first.
func (r *Episodes) BySession(ctx context.Context, sessionID string) ([]*Episode, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, session_id, name, scope_type, ifnull(scope_id, ''), trigger_type,
			status, outcome, quality_score, quality_factors, metadata,
			started_at, completed_at, created_at
		FROM episodes WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, memerr.Database("list episodes", err)
	}
	defer rows.Close()
	var out []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// ByScope returns episodes for a scope, newest first, optionally filtered
// by status. Maintenance passes read completed episodes through this.
func (r *Episodes) ByScope(ctx context.Context, sc scope.Scope, status EpisodeStatus, limit int) ([]*Episode, error) {
	q := `SELECT id, session_id, name, scope_type, ifnull(scope_id, ''), trigger_type,
			status, outcome, quality_score, quality_factors, metadata,
			started_at, completed_at, created_at
		FROM episodes WHERE scope_type = ? AND ifnull(scope_id, '') = ?`
	args := []any{string(sc.Type), sc.ID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list episodes by scope", err)
	}
	defer rows.Close()
	var out []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// SetMetadata merges keys into the episode metadata. Enrichment passes use
// it to flag nameEnriched.
func (r *Episodes) SetMetadata(ctx context.Context, id string, patch map[string]any) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM episodes WHERE id = ?`, id).Scan(&raw)
		if err == sql.ErrNoRows {
			return memerr.NotFound("episode", id)
		}
		if err != nil {
			return err
		}
		meta := map[string]any{}
		_ = json.Unmarshal([]byte(raw), &meta)
		for k, v := range patch {
			meta[k] = v
		}
		merged, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE episodes SET metadata = ? WHERE id = ?`, string(merged), id)
		return err
	})
}

func scanEpisode(row rowScanner, id string) (*Episode, error) {
	var ep Episode
	var factorsJSON, metaJSON string
	var started, completed sql.NullTime
	err := row.Scan(&ep.ID, &ep.SessionID, &ep.Name, &ep.Scope.Type, &ep.Scope.ID,
		&ep.TriggerType, &ep.Status, &ep.Outcome, &ep.QualityScore,
		&factorsJSON, &metaJSON, &started, &completed, &ep.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, memerr.NotFound("episode", id)
	}
	if err != nil {
		return nil, memerr.Database("scan episode", err)
	}
	_ = json.Unmarshal([]byte(factorsJSON), &ep.QualityFactors)
	_ = json.Unmarshal([]byte(metaJSON), &ep.Metadata)
	if started.Valid {
		t := started.Time
		ep.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		ep.CompletedAt = &t
	}
	return &ep, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
