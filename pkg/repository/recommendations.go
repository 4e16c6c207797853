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

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Recommendation is a review-disposition proposal produced by maintenance
// analysis, held for an operator decision until it expires.
type Recommendation struct {
	ID                  string      `json:"id"`
	Scope               scope.Scope `json:"scope"`
	Type                string      `json:"type"`
	Title               string      `json:"title"`
	Pattern             string      `json:"pattern"`
	Applicability       string      `json:"applicability,omitempty"`
	Rationale           string      `json:"rationale,omitempty"`
	Confidence          float64     `json:"confidence"`
	SourceExperienceIDs []string    `json:"sourceExperienceIds"`
	AnalysisRunID       string      `json:"analysisRunId"`
	Status              string      `json:"status"`
	CreatedBy           string      `json:"createdBy"`
	ExpiresAt           *time.Time  `json:"expiresAt,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
}

// Recommendations persists maintenance recommendations.
type Recommendations struct {
	store *storage.Store
}

func NewRecommendations(store *storage.Store) *Recommendations {
	return &Recommendations{store: store}
}

// Create persists a pending recommendation.
func (r *Recommendations) Create(ctx context.Context, rec *Recommendation) (*Recommendation, error) {
	if rec.Title == "" || rec.Pattern == "" {
		return nil, memerr.Validation("recommendation requires a title and pattern")
	}
	rec.ID = uuid.NewString()
	rec.Status = "pending"
	rec.CreatedAt = time.Now().UTC()

	ids, err := json.Marshal(rec.SourceExperienceIDs)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO recommendations (
    id, scope_type, scope_id, rec_type, title, pattern, applicability,
    rationale, confidence, source_experience_ids, analysis_run_id, status,
    created_by, expires_at, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, string(rec.Scope.Type), nullableScopeID(rec.Scope), rec.Type,
			rec.Title, rec.Pattern, rec.Applicability, rec.Rationale, rec.Confidence,
			string(ids), rec.AnalysisRunID, rec.Status, rec.CreatedBy, rec.ExpiresAt, rec.CreatedAt)
		if err != nil {
			return memerr.Database("insert recommendation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPending returns unexpired pending recommendations for a scope.
func (r *Recommendations) ListPending(ctx context.Context, sc scope.Scope) ([]*Recommendation, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
SELECT id, scope_type, ifnull(scope_id,''), rec_type, title, pattern, applicability,
       rationale, confidence, source_experience_ids, analysis_run_id, status,
       created_by, expires_at, created_at
FROM recommendations
WHERE scope_type = ? AND ifnull(scope_id,'') = ? AND status = 'pending'
  AND (expires_at IS NULL OR expires_at > ?)
ORDER BY confidence DESC`,
		string(sc.Type), sc.ID, time.Now().UTC())
	if err != nil {
		return nil, memerr.Database("list recommendations", err)
	}
	defer rows.Close()

	var out []*Recommendation
	for rows.Next() {
		var (
			rec       Recommendation
			scopeType string
			scopeID   string
			idsJSON   string
			expires   sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &scopeType, &scopeID, &rec.Type, &rec.Title, &rec.Pattern,
			&rec.Applicability, &rec.Rationale, &rec.Confidence, &idsJSON,
			&rec.AnalysisRunID, &rec.Status, &rec.CreatedBy, &expires, &rec.CreatedAt); err != nil {
			return nil, memerr.Database("scan recommendation", err)
		}
		rec.Scope = scope.Scope{Type: scope.Type(scopeType), ID: scopeID}
		_ = json.Unmarshal([]byte(idsJSON), &rec.SourceExperienceIDs)
		if expires.Valid {
			t := expires.Time
			rec.ExpiresAt = &t
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SetStatus moves a recommendation through its workflow
// (pending → accepted | rejected | expired).
func (r *Recommendations) SetStatus(ctx context.Context, id, status string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE recommendations SET status = ? WHERE id = ?", status, id)
		if err != nil {
			return memerr.Database("update recommendation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("recommendation", id)
		}
		return nil
	})
}

// Decision is a feedback-loop improvement decision, stored whether or not
// it was applied.
type Decision struct {
	ID           string         `json:"id"`
	RunID        string         `json:"runId"`
	Task         string         `json:"task"`
	DecisionType string         `json:"decisionType"`
	Payload      map[string]any `json:"payload,omitempty"`
	Confidence   float64        `json:"confidence"`
	Applied      bool           `json:"applied"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// RecordDecision persists a feedback-loop decision.
func (r *Recommendations) RecordDecision(ctx context.Context, d *Decision) error {
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now().UTC()
	payload, err := marshalMeta(d.Payload)
	if err != nil {
		return err
	}
	applied := 0
	if d.Applied {
		applied = 1
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO improvement_decisions (id, run_id, task, decision_type, payload, confidence, applied, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.RunID, d.Task, d.DecisionType, payload, d.Confidence, applied, d.CreatedAt)
		if err != nil {
			return memerr.Database("insert decision", err)
		}
		return nil
	})
}
