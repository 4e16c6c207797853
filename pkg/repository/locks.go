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

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// FileLock is an advisory per-path lock. At most one active lock per path.
type FileLock struct {
	FilePath  string    `json:"filePath"`
	LockedBy  string    `json:"lockedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FileLocks persists advisory file locks.
type FileLocks struct {
	store *storage.Store
}

func NewFileLocks(store *storage.Store) *FileLocks {
	return &FileLocks{store: store}
}

// Acquire takes the lock for path. An unexpired lock held by another agent
// fails with FILE_LOCKED; re-acquiring one's own lock extends it.
func (l *FileLocks) Acquire(ctx context.Context, path, agent string, ttl time.Duration) (*FileLock, error) {
	if path == "" || agent == "" {
		return nil, memerr.Validation("file lock requires a path and an agent")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	lock := &FileLock{FilePath: path, LockedBy: agent, ExpiresAt: time.Now().UTC().Add(ttl)}
	err := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := l.getInTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if existing != nil && existing.LockedBy != agent && existing.ExpiresAt.After(time.Now()) {
			return memerr.New(memerr.CodeFileLocked).
				Message("file %s is locked by %s", path, existing.LockedBy).
				With("filePath", path).
				With("lockedBy", existing.LockedBy).
				With("expiresAt", existing.ExpiresAt).
				Build()
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO file_locks (file_path, locked_by, expires_at) VALUES (?, ?, ?)
ON CONFLICT(file_path) DO UPDATE SET locked_by = excluded.locked_by, expires_at = excluded.expires_at`,
			path, agent, lock.ExpiresAt)
		if err != nil {
			return memerr.Database("acquire lock", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Release drops the lock if held by agent.
func (l *FileLocks) Release(ctx context.Context, path, agent string) error {
	return l.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM file_locks WHERE file_path = ? AND locked_by = ?", path, agent)
		if err != nil {
			return memerr.Database("release lock", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("file_lock", path)
		}
		return nil
	})
}

// Get returns the live lock for path, or nil.
func (l *FileLocks) Get(ctx context.Context, path string) (*FileLock, error) {
	var lock *FileLock
	tx, err := l.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, memerr.Database("begin", err)
	}
	defer tx.Rollback()
	lock, err = l.getInTx(ctx, tx, path)
	if err != nil {
		return nil, err
	}
	if lock != nil && !lock.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return lock, nil
}

func (l *FileLocks) getInTx(ctx context.Context, tx *sql.Tx, path string) (*FileLock, error) {
	var lock FileLock
	err := tx.QueryRowContext(ctx,
		"SELECT file_path, locked_by, expires_at FROM file_locks WHERE file_path = ?", path).
		Scan(&lock.FilePath, &lock.LockedBy, &lock.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Database("get lock", err)
	}
	return &lock, nil
}

// Sweep deletes expired locks. Returns the count removed.
func (l *FileLocks) Sweep(ctx context.Context) (int, error) {
	var n int64
	err := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM file_locks WHERE expires_at <= ?", time.Now().UTC())
		if err != nil {
			return memerr.Database("sweep locks", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}
