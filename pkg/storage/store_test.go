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

package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)
	// Second run is a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var n int
	if err := s.DB().QueryRow("SELECT count(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != len(migrations) {
		t.Errorf("applied %d migrations, want %d", n, len(migrations))
	}
}

func TestSchemaIdentityInvariant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(id, scopeType string, scopeID any) error {
		return s.WithTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO entries (id, kind, scope_type, scope_id, name, created_by, created_at, updated_at)
VALUES (?, 'tool', ?, ?, 'dup', 'tester', ?, ?)`, id, scopeType, scopeID, now, now)
			return err
		})
	}

	if err := insert("e1", "global", nil); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Same active identity must violate the partial unique index.
	if err := insert("e2", "global", nil); err == nil {
		t.Error("duplicate active identity should fail")
	}
	// Global scope with a scope id violates the CHECK constraint.
	if err := insert("e3", "global", "p1"); err == nil {
		t.Error("global scope with scope_id should fail")
	}
	// Same name in a different scope is fine.
	if err := insert("e4", "project", "p1"); err != nil {
		t.Errorf("distinct scope insert: %v", err)
	}
}

func TestIntegrityAndBackup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.IntegrityCheck(ctx); err != nil {
		t.Fatalf("IntegrityCheck() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := s.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	// Overwriting an existing snapshot is refused.
	if err := s.BackupTo(ctx, dest); err == nil {
		t.Error("BackupTo() over existing file should fail")
	}

	restored, err := Open(dest)
	if err != nil {
		t.Fatalf("Open(backup) error = %v", err)
	}
	defer restored.Close()
	if err := restored.IntegrityCheck(ctx); err != nil {
		t.Errorf("backup integrity: %v", err)
	}
}

func TestFTSRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO fts_knowledge (entry_id, name, content) VALUES ('k1', 'alpha notes', 'the alpha keyword lives here')")
		return err
	})
	if err != nil {
		t.Fatalf("insert fts row: %v", err)
	}

	var id string
	err = s.DB().QueryRowContext(ctx,
		"SELECT entry_id FROM fts_knowledge WHERE fts_knowledge MATCH 'alpha' ORDER BY rank LIMIT 1").Scan(&id)
	if err != nil {
		t.Fatalf("fts match: %v", err)
	}
	if id != "k1" {
		t.Errorf("fts match = %q, want k1", id)
	}
}
