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

package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// EvidenceRecord is an append-only fact about a task or a sync pass:
// a test run, a sync summary, a review note. Records are never updated.
type EvidenceRecord struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId,omitempty"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Evidence persists evidence rows.
type Evidence struct {
	store *storage.Store
}

func NewEvidence(store *storage.Store) *Evidence {
	return &Evidence{store: store}
}

// Record appends an evidence row. TaskID may be empty for records that
// describe a whole pass rather than one task.
func (e *Evidence) Record(ctx context.Context, rec *EvidenceRecord) (*EvidenceRecord, error) {
	if rec.Kind == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("evidence kind is required").Field("kind").Build()
	}
	if rec.Summary == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("evidence summary is required").Field("summary").Build()
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	data, err := marshalJSON(rec.Data)
	if err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO evidence (id, task_id, kind, summary, data, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, nullable(rec.TaskID), rec.Kind, rec.Summary, data, rec.CreatedAt)
		if err != nil {
			return memerr.Database("insert evidence", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ForTask returns a task's evidence, newest first.
func (e *Evidence) ForTask(ctx context.Context, taskID string, limit int) ([]*EvidenceRecord, error) {
	q := "SELECT id, ifnull(task_id,''), kind, summary, data, created_at FROM evidence WHERE task_id = ? ORDER BY created_at DESC"
	args := []any{taskID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return e.query(ctx, q, args...)
}

// ByKind returns evidence of one kind across tasks, newest first.
func (e *Evidence) ByKind(ctx context.Context, kind string, limit int) ([]*EvidenceRecord, error) {
	q := "SELECT id, ifnull(task_id,''), kind, summary, data, created_at FROM evidence WHERE kind = ? ORDER BY created_at DESC"
	args := []any{kind}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return e.query(ctx, q, args...)
}

func (e *Evidence) query(ctx context.Context, q string, args ...any) ([]*EvidenceRecord, error) {
	rows, err := e.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list evidence", err)
	}
	defer rows.Close()

	var out []*EvidenceRecord
	for rows.Next() {
		var rec EvidenceRecord
		var data string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Kind, &rec.Summary, &data, &rec.CreatedAt); err != nil {
			return nil, memerr.Database("scan evidence", err)
		}
		if data != "" {
			_ = json.Unmarshal([]byte(data), &rec.Data)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
