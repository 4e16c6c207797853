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

// Package storage wraps the embedded SQLite engine: connection setup,
// schema migration, full-text virtual tables, and the transaction helper
// every repository runs mutations through.
//
// The engine runs single-writer with write-ahead logging. Serialization
// conflicts (SQLITE_BUSY) are retried with exponential backoff and jitter
// before surfacing as CONFLICT.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/engram/pkg/memerr"
)

const (
	// busyTimeoutMs bounds how long a single statement waits for the
	// writer before SQLITE_BUSY surfaces to the retry loop.
	busyTimeoutMs = 5000

	// maxTxRetries bounds the serialization-conflict retry loop.
	maxTxRetries = 5
)

// Store owns the database handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path. Use ":memory:" for tests.
// The binary must be built with -tags sqlite_fts5 so the driver includes
// the fts5 module the schema depends on.
func Open(path string) (*Store, error) {
	if !fts5Compiled {
		return nil, memerr.New(memerr.CodeDatabaseError).
			Message("this binary was built without SQLite FTS5 support").
			Suggestion("rebuild with: go build -tags sqlite_fts5 (the Makefile targets set the tag)").
			Build()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, memerr.Database("open", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_synchronous=NORMAL", path, busyTimeoutMs)
	if path == ":memory:" {
		// A shared cache keeps one logical database across pooled conns.
		dsn = "file::memory:?mode=memory&cache=shared&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, memerr.Database("open", err)
	}

	// Single-writer engine: one connection avoids writer contention across
	// the pool entirely.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, memerr.Database("ping", err)
	}

	slog.Debug("opened database", "path", path)
	return &Store{db: db, path: path}, nil
}

// DB exposes the raw handle for read paths.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path (":memory:" for ephemeral stores).
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn in an immediate transaction, retrying serialization
// conflicts with exponential backoff and full jitter. Exhaustion surfaces
// CONFLICT carrying the last cause.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     20 * time.Millisecond,
		RandomizationFactor: 1.0,
		Multiplier:          2.0,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      10 * time.Second,
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}, maxTxRetries), ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			lastErr = err
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			lastErr = err
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)

	if err == nil {
		return nil
	}
	if isBusy(lastErr) {
		return memerr.New(memerr.CodeConflict).
			Message("write serialization retries exhausted").
			Cause(lastErr).Build()
	}
	return lastErr
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IntegrityCheck runs PRAGMA integrity_check and fails unless the result is
// "ok".
func (s *Store) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return memerr.Database("integrity_check", err)
	}
	if result != "ok" {
		return memerr.New(memerr.CodeDatabaseError).
			Message("integrity check failed: %s", result).Build()
	}
	return nil
}

// Checkpoint truncates the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return memerr.Database("checkpoint", err)
	}
	return nil
}

// BackupTo writes a consistent snapshot to destPath using VACUUM INTO,
// which is safe under WAL without blocking readers.
func (s *Store) BackupTo(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return memerr.Conflict("backup target already exists: %s", filepath.Base(destPath))
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return memerr.Database("backup", err)
	}
	return nil
}
