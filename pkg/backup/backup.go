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

// Package backup manages database snapshots. Backups are plain database
// files in a directory beside the primary store; every created file is
// integrity-checked before it counts, and restores always leave a safety
// copy of the file they replace.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

const (
	// backupTimeFormat produces filesystem-safe timestamps.
	backupTimeFormat = "2006-01-02T15-04-05"

	// safetyFileName is the pre-restore copy of the primary database.
	safetyFileName = "pre-restore-safety.db"

	// DefaultKeep is how many backups Cleanup retains by default.
	DefaultKeep = 5
)

// customNamePattern is the only shape accepted for caller-chosen names.
var customNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Info describes one backup file.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager creates, restores, lists, and prunes backups for one store.
type Manager struct {
	store *storage.Store
	dir   string
}

// New creates a manager writing into dir. The directory is created on
// first use.
func New(store *storage.Store, dir string) *Manager {
	return &Manager{store: store, dir: dir}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Create writes a new backup. An empty name yields a timestamped file;
// a custom name must match [A-Za-z0-9._-]+ and must not contain "..".
// The engine-level snapshot is attempted first; on failure the WAL is
// checkpointed and the primary file copied. Either way the result is
// integrity-checked and deleted if the check fails.
func (m *Manager) Create(ctx context.Context, name string) (Info, error) {
	filename, err := backupFileName(name)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return Info{}, memerr.Database("backup dir", err)
	}
	dest := filepath.Join(m.dir, filename)

	if err := m.store.BackupTo(ctx, dest); err != nil {
		if memerr.IsCode(err, memerr.CodeConflict) {
			return Info{}, err
		}
		slog.Warn("engine backup failed, falling back to file copy", "error", err)
		if err := m.copyBackup(ctx, dest); err != nil {
			return Info{}, err
		}
	}

	if err := verifyBackup(ctx, dest); err != nil {
		if rmErr := os.Remove(dest); rmErr != nil {
			slog.Error("failed to remove corrupt backup", "path", dest, "error", rmErr)
		}
		return Info{}, memerr.New(memerr.CodeDatabaseError).
			Message("backup failed verification and was deleted").
			Cause(err).
			With("filename", filename).
			Build()
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return Info{}, memerr.Database("backup stat", err)
	}
	info := Info{Name: filename, Path: dest, SizeBytes: stat.Size(), CreatedAt: stat.ModTime()}
	slog.Info("backup created", "file", filename, "bytes", info.SizeBytes)
	return info, nil
}

// copyBackup checkpoints the WAL and copies the primary file byte for byte.
func (m *Manager) copyBackup(ctx context.Context, dest string) error {
	if m.store.Path() == ":memory:" {
		return memerr.Validation("cannot file-copy an in-memory database")
	}
	if err := m.store.Checkpoint(ctx); err != nil {
		return err
	}
	if err := copyFile(m.store.Path(), dest); err != nil {
		return memerr.Database("backup copy", err)
	}
	return nil
}

// Restore replaces the primary database file with the named backup. The
// name may not be absolute or contain path separators or "..". The
// current primary is copied to pre-restore-safety.db first. The store
// must be reopened by the caller afterwards.
func (m *Manager) Restore(ctx context.Context, filename string) (string, error) {
	if err := validateRestoreName(filename); err != nil {
		return "", err
	}
	src := filepath.Join(m.dir, filename)
	if _, err := os.Stat(src); err != nil {
		return "", memerr.NotFound("backup", filename)
	}
	if err := verifyBackup(ctx, src); err != nil {
		return "", memerr.New(memerr.CodeDatabaseError).
			Message("backup failed verification, refusing to restore").
			Cause(err).
			With("filename", filename).
			Build()
	}

	primary := m.store.Path()
	safety := filepath.Join(m.dir, safetyFileName)
	if err := m.store.Checkpoint(ctx); err != nil {
		return "", err
	}
	if err := copyFile(primary, safety); err != nil {
		return "", memerr.Database("safety copy", err)
	}
	if err := copyFile(src, primary); err != nil {
		return "", memerr.Database("restore copy", err)
	}

	// Stale WAL or SHM files would shadow the restored content.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(primary + suffix); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove stale sidecar file", "path", primary+suffix, "error", err)
		}
	}

	slog.Info("database restored", "from", filename, "safety", safety)
	return safety, nil
}

// List returns backups newest first. The safety copy is not listed.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, memerr.Database("backup list", err)
	}

	var backups []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") || e.Name() == safetyFileName {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Name:      e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			SizeBytes: fi.Size(),
			CreatedAt: fi.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Cleanup deletes all but the keep newest backups. A keep of zero deletes
// everything. Individual deletion failures are logged and skipped; the
// returned count is the number actually deleted.
func (m *Manager) Cleanup(keep int) (int, error) {
	if keep < 0 {
		return 0, memerr.Validation("keep must be non-negative, got %d", keep)
	}
	backups, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			slog.Warn("failed to delete backup", "file", b.Name, "error", err)
			continue
		}
		deleted++
	}
	slog.Info("backups pruned", "kept", keep, "deleted", deleted)
	return deleted, nil
}

// backupFileName resolves the target filename for Create.
func backupFileName(name string) (string, error) {
	if name == "" {
		return fmt.Sprintf("memory-backup-%s.db", time.Now().Format(backupTimeFormat)), nil
	}
	if strings.Contains(name, "..") || !customNamePattern.MatchString(name) {
		return "", memerr.New(memerr.CodeValidation).
			Message("invalid backup name %q", name).
			Suggestion("use only letters, digits, dot, underscore, and hyphen").
			Build()
	}
	if !strings.HasSuffix(name, ".db") {
		name += ".db"
	}
	return name, nil
}

// validateRestoreName rejects anything that could escape the backup dir.
func validateRestoreName(filename string) error {
	if filename == "" {
		return memerr.Validation("backup filename is required")
	}
	if filepath.IsAbs(filename) ||
		strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) {
		return memerr.New(memerr.CodeValidation).
			Message("invalid backup filename %q", filename).
			Suggestion("pass a bare filename from listBackups").
			Build()
	}
	return nil
}

// verifyBackup opens the file read-only and runs the integrity check.
func verifyBackup(ctx context.Context, path string) error {
	s, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.IntegrityCheck(ctx)
}

// copyFile copies src to dst, truncating dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
