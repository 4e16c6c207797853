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

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// ConflictState tracks the resolution workflow.
type ConflictState string

const (
	ConflictOpen     ConflictState = "open"
	ConflictResolved ConflictState = "resolved"
	ConflictIgnored  ConflictState = "ignored"
)

// Conflict is a deferred-resolution record: the store detects clashes and
// surfaces them; an explicit workflow resolves them.
type Conflict struct {
	ID         string        `json:"id"`
	EntryKind  entry.Kind    `json:"entryKind"`
	EntryIDs   []string      `json:"entryIds"`
	Reason     string        `json:"reason"`
	State      ConflictState `json:"state"`
	Resolution string        `json:"resolution,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

// Conflicts persists conflict records.
type Conflicts struct {
	store *storage.Store
}

func NewConflicts(store *storage.Store) *Conflicts {
	return &Conflicts{store: store}
}

// Record creates an open conflict.
func (c *Conflicts) Record(ctx context.Context, kind entry.Kind, entryIDs []string, reason string) (*Conflict, error) {
	if len(entryIDs) == 0 || reason == "" {
		return nil, memerr.Validation("conflict requires involved entries and a reason")
	}
	conflict := &Conflict{
		ID:        uuid.NewString(),
		EntryKind: kind,
		EntryIDs:  entryIDs,
		Reason:    reason,
		State:     ConflictOpen,
		CreatedAt: time.Now().UTC(),
	}
	idsJSON, err := json.Marshal(entryIDs)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO conflicts (id, entry_kind, entry_ids, reason, state, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			conflict.ID, string(kind), string(idsJSON), reason, string(ConflictOpen), conflict.CreatedAt)
		if err != nil {
			return memerr.Database("insert conflict", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflict, nil
}

// Resolve closes a conflict with a resolution note.
func (c *Conflicts) Resolve(ctx context.Context, id, resolution string, ignore bool) error {
	state := ConflictResolved
	if ignore {
		state = ConflictIgnored
	}
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE conflicts SET state = ?, resolution = ?, resolved_at = ? WHERE id = ? AND state = 'open'`,
			string(state), resolution, time.Now().UTC(), id)
		if err != nil {
			return memerr.Database("resolve conflict", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("conflict", id)
		}
		return nil
	})
}

// List returns conflicts, optionally filtered by state.
func (c *Conflicts) List(ctx context.Context, state ConflictState) ([]Conflict, error) {
	q := "SELECT id, entry_kind, entry_ids, reason, state, resolution, created_at, resolved_at FROM conflicts"
	var args []any
	if state != "" {
		q += " WHERE state = ?"
		args = append(args, string(state))
	}
	q += " ORDER BY created_at DESC"

	rows, err := c.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list conflicts", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var (
			cf       Conflict
			kind     string
			idsJSON  string
			st       string
			resolved sql.NullTime
		)
		if err := rows.Scan(&cf.ID, &kind, &idsJSON, &cf.Reason, &st, &cf.Resolution, &cf.CreatedAt, &resolved); err != nil {
			return nil, memerr.Database("scan conflict", err)
		}
		cf.EntryKind = entry.Kind(kind)
		cf.State = ConflictState(st)
		if err := json.Unmarshal([]byte(idsJSON), &cf.EntryIDs); err != nil {
			return nil, memerr.Internal(err)
		}
		if resolved.Valid {
			t := resolved.Time
			cf.ResolvedAt = &t
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}
