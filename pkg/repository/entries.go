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

// Package repository implements typed persistence over the storage engine:
// the versioned entry repositories plus the shared tag, relation, lock, and
// conflict stores.
//
// Every content mutation writes a new immutable version row and repoints
// current_version atomically in one transaction, together with an audit
// record and the full-text index row for the kind.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Entries is the repository for one entry kind.
type Entries struct {
	store  *storage.Store
	kind   entry.Kind
	policy scope.Policy
	locks  *FileLocks
	tags   *Tags
	bus    *InvalidationBus
}

// EntriesOption configures an Entries repository.
type EntriesOption func(*Entries)

// WithPolicy sets the write policy (default: standard).
func WithPolicy(p scope.Policy) EntriesOption {
	return func(e *Entries) { e.policy = p }
}

// WithFileLocks enables FILE_LOCKED enforcement on updates.
func WithFileLocks(l *FileLocks) EntriesOption {
	return func(e *Entries) { e.locks = l }
}

// WithInvalidationBus publishes mutations for cache invalidation.
func WithInvalidationBus(b *InvalidationBus) EntriesOption {
	return func(e *Entries) { e.bus = b }
}

// WithTags wires the tag store so reads hydrate tag names.
func WithTags(t *Tags) EntriesOption {
	return func(e *Entries) { e.tags = t }
}

// NewEntries creates a repository for the given kind.
func NewEntries(store *storage.Store, kind entry.Kind, opts ...EntriesOption) *Entries {
	e := &Entries{
		store:  store,
		kind:   kind,
		policy: scope.Policy{Mode: scope.Standard},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind returns the entry kind this repository serves.
func (r *Entries) Kind() entry.Kind { return r.kind }

func (r *Entries) publish(sc scope.Scope, id string) {
	if r.bus != nil {
		r.bus.Publish(Mutation{Kind: r.kind, Scope: sc, EntryID: id})
	}
}

func ftsTable(kind entry.Kind) string { return "fts_" + string(kind) }

// Create inserts a new entry with version 1.
func (r *Entries) Create(ctx context.Context, e *entry.Entry, admin bool) (*entry.Entry, error) {
	e.Kind = r.kind
	if err := e.ValidateForCreate(); err != nil {
		return nil, memerr.New(memerr.CodeValidation).Message("%s", err.Error()).Resource(string(r.kind)).Build()
	}
	if err := r.policy.CheckWrite(e.Scope, admin); err != nil {
		return nil, err
	}
	if e.CreatedBy == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("createdBy is required").Field("createdBy").Build()
	}

	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.IsActive = true
	e.CurrentVersion = 1
	e.CreatedAt = now
	e.UpdatedAt = now

	contentJSON, err := json.Marshal(e.Content)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	trajectoryJSON, err := json.Marshal(orEmptySteps(e.Trajectory))
	if err != nil {
		return nil, memerr.Internal(err)
	}
	versionID := uuid.NewString()

	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO entries (
    id, kind, scope_type, scope_id, name, category, priority, level,
    is_active, current_version_id, current_version, trajectory,
    promoted_from_id, episode_id, created_by, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, 1, ?, ?, ?, ?, ?, ?)`,
			e.ID, string(r.kind), string(e.Scope.Type), nullableScopeID(e.Scope),
			e.Name, e.Category, e.Priority, string(e.Level),
			versionID, string(trajectoryJSON), e.PromotedFromID, e.EpisodeID,
			e.CreatedBy, now, now)
		if err != nil {
			if isIdentityViolation(err) {
				return memerr.New(memerr.CodeConflict).
					Message("active %s %q already exists at scope %s", r.kind, e.Name, e.Scope).
					Resource(string(r.kind)).Identifier(e.Name).
					Suggestion("update the existing entry or choose a different name").
					Build()
			}
			return memerr.Database("insert entry", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO entry_versions (id, entry_id, version, content, created_by, created_at)
VALUES (?, ?, 1, ?, ?, ?)`,
			versionID, e.ID, string(contentJSON), e.CreatedBy, now); err != nil {
			return memerr.Database("insert version", err)
		}

		if err := r.writeFTS(ctx, tx, e.ID, e.Name, e.Content); err != nil {
			return err
		}
		if err := writeAudit(ctx, tx, r.kind, e.ID, 1, "create", e.CreatedBy); err != nil {
			return err
		}
		if r.tags != nil && len(e.Tags) > 0 {
			if err := r.tags.setInTx(ctx, tx, r.kind, e.ID, e.Tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(e.Scope, e.ID)
	return e, nil
}

// Update applies a patch, producing a new version atomically. ExpectedVersion
// (when non-zero) enables optimistic concurrency.
func (r *Entries) Update(ctx context.Context, id string, patch entry.Patch, agent string) (*entry.Entry, error) {
	if agent == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("agent is required").Field("agent").Build()
	}

	var updated *entry.Entry
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.getInTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if patch.ExpectedVersion != 0 && patch.ExpectedVersion != cur.CurrentVersion {
			return memerr.New(memerr.CodeConflict).
				Message("version mismatch: expected %d, current %d", patch.ExpectedVersion, cur.CurrentVersion).
				Resource(string(r.kind)).Identifier(id).
				With("expectedVersion", patch.ExpectedVersion).
				With("currentVersion", cur.CurrentVersion).
				Build()
		}
		if r.locks != nil {
			if err := r.checkLocks(ctx, tx, cur, agent); err != nil {
				return err
			}
		}

		applyPatch(cur, patch)

		now := time.Now().UTC()
		versionID := uuid.NewString()
		cur.CurrentVersion++
		cur.UpdatedAt = now

		contentJSON, err := json.Marshal(cur.Content)
		if err != nil {
			return memerr.Internal(err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO entry_versions (id, entry_id, version, content, created_by, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			versionID, id, cur.CurrentVersion, string(contentJSON), agent, now); err != nil {
			return memerr.Database("insert version", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE entries SET name = ?, category = ?, priority = ?, level = ?,
    current_version_id = ?, current_version = ?, updated_at = ?
WHERE id = ?`,
			cur.Name, cur.Category, cur.Priority, string(cur.Level),
			versionID, cur.CurrentVersion, now, id); err != nil {
			if isIdentityViolation(err) {
				return memerr.Conflict("active %s %q already exists at scope %s", r.kind, cur.Name, cur.Scope)
			}
			return memerr.Database("update entry", err)
		}

		if err := r.writeFTS(ctx, tx, id, cur.Name, cur.Content); err != nil {
			return err
		}
		if err := writeAudit(ctx, tx, r.kind, id, cur.CurrentVersion, "update", agent); err != nil {
			return err
		}
		if r.tags != nil && patch.Tags != nil {
			if err := r.tags.setInTx(ctx, tx, r.kind, id, patch.Tags); err != nil {
				return err
			}
			cur.Tags = patch.Tags
		}

		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(updated.Scope, id)
	return updated, nil
}

func applyPatch(e *entry.Entry, patch entry.Patch) {
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.Category != nil {
		e.Category = *patch.Category
	}
	if patch.Priority != nil {
		e.Priority = *patch.Priority
	}
	if patch.Level != nil {
		e.Level = *patch.Level
	}
	if patch.Content != nil {
		e.Content = *patch.Content
	}
}

// checkLocks enforces FILE_LOCKED when the entry references a path another
// agent holds a live lock on.
func (r *Entries) checkLocks(ctx context.Context, tx *sql.Tx, e *entry.Entry, agent string) error {
	for _, candidate := range []string{e.Content.Source, e.Name} {
		if !strings.Contains(candidate, "/") {
			continue
		}
		lock, err := r.locks.getInTx(ctx, tx, candidate)
		if err != nil {
			return err
		}
		if lock != nil && lock.LockedBy != agent && lock.ExpiresAt.After(time.Now()) {
			return memerr.New(memerr.CodeFileLocked).
				Message("file %s is locked by %s", candidate, lock.LockedBy).
				With("filePath", candidate).
				With("lockedBy", lock.LockedBy).
				With("expiresAt", lock.ExpiresAt).
				Build()
		}
	}
	return nil
}

// GetByID returns the entry, hidden when inactive unless includeInactive.
func (r *Entries) GetByID(ctx context.Context, id string, includeInactive bool) (*entry.Entry, error) {
	var e *entry.Entry
	err := r.readTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = r.getInTx(ctx, tx, id, includeInactive)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.hydrateTags(ctx, e)
	return e, nil
}

// GetByIDs returns the active entries for the given ids in one read,
// keyed by id. Missing or inactive ids are absent from the map, not an
// error.
func (r *Entries) GetByIDs(ctx context.Context, ids []string) (map[string]*entry.Entry, error) {
	out := make(map[string]*entry.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(r.kind))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.queryEntries(ctx, `
SELECT `+entryColumns+` FROM entries
WHERE kind = ? AND id IN (`+placeholders[:len(placeholders)-1]+`) AND is_active = 1`, args...)
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		r.hydrateTags(ctx, e)
		out[e.ID] = e
	}
	return out, nil
}

// GetByIdentity returns the active entry at (scope, name).
func (r *Entries) GetByIdentity(ctx context.Context, sc scope.Scope, name string) (*entry.Entry, error) {
	rows, err := r.queryEntries(ctx, `
SELECT `+entryColumns+` FROM entries
WHERE kind = ? AND scope_type = ? AND ifnull(scope_id,'') = ? AND name = ? AND is_active = 1`,
		string(r.kind), string(sc.Type), sc.ID, name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, memerr.NotFound(string(r.kind), name)
	}
	r.hydrateTags(ctx, rows[0])
	return rows[0], nil
}

// List returns entries for the filter. With Inherit set the scope chain is
// walked and narrower active entries shadow broader ones on identity
// collisions; a narrower inactive entry does not shadow a broader active
// one.
func (r *Entries) List(ctx context.Context, f entry.ListFilter, resolver scope.Resolver) ([]*entry.Entry, error) {
	chain := scope.Chain(f.Scope, f.Inherit, resolver)

	var all []*entry.Entry
	seen := map[string]bool{} // identity key -> already produced by narrower scope
	for _, sc := range chain {
		scoped, err := r.listScope(ctx, sc, f)
		if err != nil {
			return nil, err
		}
		for _, e := range scoped {
			if seen[e.Name] {
				continue
			}
			if !e.IsActive {
				// Inactive entries are listed only when requested, and
				// never shadow broader active entries.
				if f.IncludeInactive {
					all = append(all, e)
				} else {
					slog.Debug("inactive entry does not shadow broader scope",
						"kind", r.kind, "name", e.Name, "scope", sc.String())
				}
				continue
			}
			seen[e.Name] = true
			all = append(all, e)
		}
	}

	sortEntries(r.kind, chain, all)

	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return []*entry.Entry{}, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	for _, e := range all {
		r.hydrateTags(ctx, e)
	}
	return all, nil
}

func (r *Entries) listScope(ctx context.Context, sc scope.Scope, f entry.ListFilter) ([]*entry.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM entries WHERE kind = ? AND scope_type = ? AND ifnull(scope_id,'') = ?`
	args := []any{string(r.kind), string(sc.Type), sc.ID}
	if !f.IncludeInactive {
		q += " AND is_active = 1"
	}
	if f.Category != "" {
		q += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Level != "" {
		q += " AND level = ?"
		args = append(args, string(f.Level))
	}
	q += " ORDER BY updated_at DESC"
	return r.queryEntries(ctx, q, args...)
}

// sortEntries orders merged results: narrower scope first, then the
// kind-specific signal, then recency.
func sortEntries(kind entry.Kind, chain []scope.Scope, entries []*entry.Entry) {
	pos := map[string]int{}
	for i, sc := range chain {
		pos[sc.String()] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if pa, pb := pos[a.Scope.String()], pos[b.Scope.String()]; pa != pb {
			return pa < pb
		}
		switch kind {
		case entry.KindGuideline:
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
		case entry.KindKnowledge:
			if a.Content.Confidence != b.Content.Confidence {
				return a.Content.Confidence > b.Content.Confidence
			}
		case entry.KindExperience:
			au, bu := lastUsed(a), lastUsed(b)
			if !au.Equal(bu) {
				return au.After(bu)
			}
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}

func lastUsed(e *entry.Entry) time.Time {
	if e.LastUsedAt != nil {
		return *e.LastUsedAt
	}
	return time.Time{}
}

// GetHistory returns all versions of an entry, oldest first.
func (r *Entries) GetHistory(ctx context.Context, id string) ([]entry.Version, error) {
	if _, err := r.GetByID(ctx, id, true); err != nil {
		return nil, err
	}
	rows, err := r.store.DB().QueryContext(ctx, `
SELECT id, entry_id, version, content, created_by, created_at
FROM entry_versions WHERE entry_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, memerr.Database("list versions", err)
	}
	defer rows.Close()

	var versions []entry.Version
	for rows.Next() {
		var v entry.Version
		var contentJSON string
		if err := rows.Scan(&v.ID, &v.EntryID, &v.Number, &contentJSON, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, memerr.Database("scan version", err)
		}
		if err := json.Unmarshal([]byte(contentJSON), &v.Content); err != nil {
			return nil, memerr.Internal(err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Deactivate soft-deletes an entry. The version history is preserved.
func (r *Entries) Deactivate(ctx context.Context, id, agent string) error {
	return r.setActive(ctx, id, agent, false)
}

// Reactivate restores a soft-deleted entry. If another active entry now
// holds the same identity this fails with CONFLICT; the caller must go
// through the conflict workflow.
func (r *Entries) Reactivate(ctx context.Context, id, agent string) error {
	return r.setActive(ctx, id, agent, true)
}

func (r *Entries) setActive(ctx context.Context, id, agent string, active bool) error {
	var sc scope.Scope
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.getInTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		sc = cur.Scope
		if cur.IsActive == active {
			return nil
		}

		flag := 0
		if active {
			flag = 1
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE entries SET is_active = ?, updated_at = ? WHERE id = ?",
			flag, time.Now().UTC(), id); err != nil {
			if isIdentityViolation(err) {
				return memerr.New(memerr.CodeConflict).
					Message("another active %s %q exists at scope %s", r.kind, cur.Name, cur.Scope).
					Suggestion("resolve via the conflict workflow before reactivating").
					Build()
			}
			return memerr.Database("set active", err)
		}

		// Inactive entries leave the full-text index; reactivation re-adds.
		if active {
			if err := r.writeFTS(ctx, tx, id, cur.Name, cur.Content); err != nil {
				return err
			}
		} else if _, err := tx.ExecContext(ctx, "DELETE FROM "+ftsTable(r.kind)+" WHERE entry_id = ?", id); err != nil {
			return memerr.Database("delete fts", err)
		}

		action := "deactivate"
		if active {
			action = "reactivate"
		}
		return writeAudit(ctx, tx, r.kind, id, cur.CurrentVersion, action, agent)
	})
	if err != nil {
		return err
	}
	r.publish(sc, id)
	return nil
}

// RecordUse bumps experience usage counters.
func (r *Entries) RecordUse(ctx context.Context, id string, success bool) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		successInc := 0
		if success {
			successInc = 1
		}
		res, err := tx.ExecContext(ctx, `
UPDATE entries SET use_count = use_count + 1, success_count = success_count + ?, last_used_at = ?
WHERE id = ? AND kind = ?`, successInc, time.Now().UTC(), id, string(r.kind))
		if err != nil {
			return memerr.Database("record use", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound(string(r.kind), id)
		}
		return nil
	})
}

// SetPromotion records experience promotion links.
func (r *Entries) SetPromotion(ctx context.Context, id, toolID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE entries SET promoted_to_tool_id = ?, updated_at = ? WHERE id = ?",
			toolID, time.Now().UTC(), id)
		if err != nil {
			return memerr.Database("set promotion", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound(string(r.kind), id)
		}
		return nil
	})
}

// Search runs a full-text query against this kind's index for the given
// scope chain. Returns (entry id, bm25 rank) pairs, best first.
func (r *Entries) Search(ctx context.Context, text string, chain []scope.Scope, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return nil, nil
	}

	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}

	rows, err := r.store.DB().QueryContext(ctx, `
SELECT f.entry_id, bm25(`+ftsTable(r.kind)+`) AS rank, e.scope_type, ifnull(e.scope_id,'')
FROM `+ftsTable(r.kind)+` f
JOIN entries e ON e.id = f.entry_id
WHERE `+ftsTable(r.kind)+` MATCH ? AND e.is_active = 1
ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, memerr.Database("fts search", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var scopeType, scopeID string
		if err := rows.Scan(&h.EntryID, &h.Rank, &scopeType, &scopeID); err != nil {
			return nil, memerr.Database("scan hit", err)
		}
		sc := scope.Scope{Type: scope.Type(scopeType), ID: scopeID}
		if !scope.Contains(chain, sc) {
			continue
		}
		h.Scope = sc
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchHit is one full-text match.
type SearchHit struct {
	EntryID string
	Rank    float64 // bm25: lower is better
	Scope   scope.Scope
}

// ftsQuery turns free text into a safe FTS5 OR-query of quoted terms.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// ----------------------------------------------------------------------------
// Row plumbing
// ----------------------------------------------------------------------------

const entryColumns = `
    id, kind, scope_type, ifnull(scope_id,''), name, category, priority, level,
    is_active, current_version, use_count, success_count, last_used_at,
    trajectory, promoted_to_tool_id, promoted_from_id, episode_id,
    created_by, created_at, updated_at,
    (SELECT content FROM entry_versions v
       WHERE v.entry_id = entries.id AND v.version = entries.current_version)`

func (r *Entries) queryEntries(ctx context.Context, q string, args ...any) ([]*entry.Entry, error) {
	rows, err := r.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("query entries", err)
	}
	defer rows.Close()

	var out []*entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*entry.Entry, error) {
	var (
		e              entry.Entry
		kind           string
		scopeType      string
		scopeID        string
		level          string
		isActive       int
		lastUsedAt     sql.NullTime
		trajectoryJSON string
		contentJSON    sql.NullString
	)
	err := row.Scan(
		&e.ID, &kind, &scopeType, &scopeID, &e.Name, &e.Category, &e.Priority, &level,
		&isActive, &e.CurrentVersion, &e.UseCount, &e.SuccessCount, &lastUsedAt,
		&trajectoryJSON, &e.PromotedToToolID, &e.PromotedFromID, &e.EpisodeID,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &contentJSON)
	if err != nil {
		return nil, memerr.Database("scan entry", err)
	}

	e.Kind = entry.Kind(kind)
	e.Scope = scope.Scope{Type: scope.Type(scopeType), ID: scopeID}
	e.Level = entry.ExperienceLevel(level)
	e.IsActive = isActive == 1
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		e.LastUsedAt = &t
	}
	if trajectoryJSON != "" {
		if err := json.Unmarshal([]byte(trajectoryJSON), &e.Trajectory); err != nil {
			return nil, memerr.Internal(err)
		}
	}
	if contentJSON.Valid && contentJSON.String != "" {
		if err := json.Unmarshal([]byte(contentJSON.String), &e.Content); err != nil {
			return nil, memerr.Internal(err)
		}
	}
	return &e, nil
}

func (r *Entries) getInTx(ctx context.Context, tx *sql.Tx, id string, includeInactive bool) (*entry.Entry, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ? AND kind = ?", id, string(r.kind))
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no rows") {
			return nil, memerr.NotFound(string(r.kind), id)
		}
		return nil, err
	}
	if !e.IsActive && !includeInactive {
		return nil, memerr.NotFound(string(r.kind), id)
	}
	return e, nil
}

// readTx runs fn in a read-only transaction context. Reads share the single
// connection, so a plain transaction keeps snapshot consistency.
func (r *Entries) readTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return memerr.Database("begin read", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Entries) writeFTS(ctx context.Context, tx *sql.Tx, id, name string, c entry.Content) error {
	table := ftsTable(r.kind)
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE entry_id = ?", id); err != nil {
		return memerr.Database("replace fts", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO "+table+" (entry_id, name, content) VALUES (?, ?, ?)",
		id, name, c.SearchText()); err != nil {
		return memerr.Database("insert fts", err)
	}
	return nil
}

func (r *Entries) hydrateTags(ctx context.Context, e *entry.Entry) {
	if r.tags == nil || e == nil {
		return
	}
	tags, err := r.tags.ForEntry(ctx, r.kind, e.ID)
	if err != nil {
		slog.Warn("tag hydration failed", "entry", e.ID, "error", err)
		return
	}
	e.Tags = tags
}

func writeAudit(ctx context.Context, tx *sql.Tx, kind entry.Kind, id string, version int, action, agent string) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_log (entry_kind, entry_id, version, action, agent, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		string(kind), id, version, action, agent, time.Now().UTC()); err != nil {
		return memerr.Database("audit", err)
	}
	return nil
}

func nullableScopeID(sc scope.Scope) any {
	if sc.Type == scope.Global {
		return nil
	}
	return sc.ID
}

func orEmptySteps(steps []entry.TrajectoryStep) []entry.TrajectoryStep {
	if steps == nil {
		return []entry.TrajectoryStep{}
	}
	return steps
}

func isIdentityViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed")
}
