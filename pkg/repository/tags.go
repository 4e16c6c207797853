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
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Tags manages the global tag table and the entry↔tag association.
// Tag names are normalized to lowercase; tags are shared by all referencing
// entries and orphans are pruned by maintenance.
type Tags struct {
	store *storage.Store
}

func NewTags(store *storage.Store) *Tags {
	return &Tags{store: store}
}

func normalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Set replaces the tag set of an entry.
func (t *Tags) Set(ctx context.Context, kind entry.Kind, entryID string, names []string) error {
	return t.store.WithTx(ctx, func(tx *sql.Tx) error {
		return t.setInTx(ctx, tx, kind, entryID, names)
	})
}

func (t *Tags) setInTx(ctx context.Context, tx *sql.Tx, kind entry.Kind, entryID string, names []string) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entry_tags WHERE entry_kind = ? AND entry_id = ?",
		string(kind), entryID); err != nil {
		return memerr.Database("clear tags", err)
	}
	for _, name := range names {
		name = normalizeTag(name)
		if name == "" {
			continue
		}
		tagID, err := t.ensureInTx(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO entry_tags (entry_kind, entry_id, tag_id) VALUES (?, ?, ?)`,
			string(kind), entryID, tagID); err != nil {
			return memerr.Database("tag entry", err)
		}
	}
	return nil
}

func (t *Tags) ensureInTx(ctx context.Context, tx *sql.Tx, name string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", memerr.Database("lookup tag", err)
	}
	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx, "INSERT INTO tags (id, name) VALUES (?, ?)", id, name); err != nil {
		return "", memerr.Database("insert tag", err)
	}
	return id, nil
}

// ForEntry returns the sorted tag names of an entry.
func (t *Tags) ForEntry(ctx context.Context, kind entry.Kind, entryID string) ([]string, error) {
	rows, err := t.store.DB().QueryContext(ctx, `
SELECT tg.name FROM entry_tags et JOIN tags tg ON tg.id = et.tag_id
WHERE et.entry_kind = ? AND et.entry_id = ? ORDER BY tg.name`,
		string(kind), entryID)
	if err != nil {
		return nil, memerr.Database("list entry tags", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, memerr.Database("scan tag", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// EntriesWithTags returns ids of entries of the given kind carrying any of
// the tags.
func (t *Tags) EntriesWithTags(ctx context.Context, kind entry.Kind, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(names))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{string(kind)}
	for _, n := range names {
		args = append(args, normalizeTag(n))
	}

	rows, err := t.store.DB().QueryContext(ctx, `
SELECT DISTINCT et.entry_id FROM entry_tags et JOIN tags tg ON tg.id = et.tag_id
WHERE et.entry_kind = ? AND tg.name IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, memerr.Database("entries by tag", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memerr.Database("scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneOrphans deletes tags no entry references. Returns the count removed.
func (t *Tags) PruneOrphans(ctx context.Context) (int, error) {
	var n int64
	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM entry_tags)")
		if err != nil {
			return memerr.Database("prune tags", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}
