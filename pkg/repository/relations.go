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
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Relation is a directed typed edge between entries. Relations can form
// cycles; traversal is depth-bounded with a visited set.
type Relation struct {
	ID        string     `json:"id"`
	FromKind  entry.Kind `json:"fromKind"`
	FromID    string     `json:"fromId"`
	ToKind    entry.Kind `json:"toKind"`
	ToID      string     `json:"toId"`
	Type      string     `json:"relationType"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Relations persists the entry relation graph.
type Relations struct {
	store *storage.Store
}

func NewRelations(store *storage.Store) *Relations {
	return &Relations{store: store}
}

// Create inserts an edge. Duplicate (from, to, type) triples are rejected
// with CONFLICT.
func (r *Relations) Create(ctx context.Context, rel *Relation) (*Relation, error) {
	if !rel.FromKind.Valid() || !rel.ToKind.Valid() {
		return nil, memerr.Validation("relation requires valid entry kinds")
	}
	if rel.FromID == "" || rel.ToID == "" || rel.Type == "" {
		return nil, memerr.Validation("relation requires from, to, and a relation type")
	}

	rel.ID = uuid.NewString()
	rel.CreatedAt = time.Now().UTC()

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO entry_relations (id, from_kind, from_id, to_kind, to_id, relation_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rel.ID, string(rel.FromKind), rel.FromID, string(rel.ToKind), rel.ToID, rel.Type, rel.CreatedAt)
		if err != nil {
			if isIdentityViolation(err) {
				return memerr.Conflict("relation already exists")
			}
			return memerr.Database("insert relation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// Delete removes an edge by id.
func (r *Relations) Delete(ctx context.Context, id string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM entry_relations WHERE id = ?", id)
		if err != nil {
			return memerr.Database("delete relation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("relation", id)
		}
		return nil
	})
}

// From returns outgoing edges of an entry.
func (r *Relations) From(ctx context.Context, kind entry.Kind, id string) ([]Relation, error) {
	return r.query(ctx,
		"SELECT id, from_kind, from_id, to_kind, to_id, relation_type, created_at FROM entry_relations WHERE from_kind = ? AND from_id = ?",
		string(kind), id)
}

// To returns incoming edges of an entry.
func (r *Relations) To(ctx context.Context, kind entry.Kind, id string) ([]Relation, error) {
	return r.query(ctx,
		"SELECT id, from_kind, from_id, to_kind, to_id, relation_type, created_at FROM entry_relations WHERE to_kind = ? AND to_id = ?",
		string(kind), id)
}

// Ref identifies an entry endpoint in the graph.
type Ref struct {
	Kind entry.Kind
	ID   string
}

// Neighborhood expands the graph out to depth steps from the seed refs,
// following edges in both directions. Cycles are handled by the visited
// set; the seeds themselves are not returned.
func (r *Relations) Neighborhood(ctx context.Context, seeds []Ref, depth int) ([]Ref, error) {
	if depth <= 0 {
		depth = 1
	}
	visited := map[Ref]bool{}
	for _, s := range seeds {
		visited[s] = true
	}

	frontier := seeds
	var out []Ref
	for step := 0; step < depth && len(frontier) > 0; step++ {
		var next []Ref
		for _, ref := range frontier {
			outgoing, err := r.From(ctx, ref.Kind, ref.ID)
			if err != nil {
				return nil, err
			}
			incoming, err := r.To(ctx, ref.Kind, ref.ID)
			if err != nil {
				return nil, err
			}
			for _, rel := range outgoing {
				n := Ref{Kind: rel.ToKind, ID: rel.ToID}
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
					out = append(out, n)
				}
			}
			for _, rel := range incoming {
				n := Ref{Kind: rel.FromKind, ID: rel.FromID}
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
					out = append(out, n)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (r *Relations) query(ctx context.Context, q string, args ...any) ([]Relation, error) {
	rows, err := r.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("query relations", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var rel Relation
		var fromKind, toKind string
		if err := rows.Scan(&rel.ID, &fromKind, &rel.FromID, &toKind, &rel.ToID, &rel.Type, &rel.CreatedAt); err != nil {
			return nil, memerr.Database("scan relation", err)
		}
		rel.FromKind = entry.Kind(fromKind)
		rel.ToKind = entry.Kind(toKind)
		out = append(out, rel)
	}
	return out, rows.Err()
}
