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

// Package session records the conversational traces that produce memory
// entries: sessions, their episodes, and the messages exchanged within
// them. Sessions outlive their episodes; ending a session does not delete
// recorded history.
package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusEnded     Status = "ended"
)

// Session groups episodes and conversation messages for one agent run.
type Session struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId,omitempty"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Sessions is the session repository.
type Sessions struct {
	store *storage.Store
}

func NewSessions(store *storage.Store) *Sessions {
	return &Sessions{store: store}
}

// Open creates a new active session. projectID may be empty for sessions
// not pinned to a project.
func (s *Sessions) Open(ctx context.Context, projectID, name string) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Status:    StatusActive,
		StartedAt: time.Now().UTC(),
	}
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, project_id, name, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ID, nullable(sess.ProjectID), sess.Name, sess.Status, sess.StartedAt)
		return err
	})
	if err != nil {
		return nil, memerr.Database("create session", err)
	}
	return sess, nil
}

// Get returns a session by id.
func (s *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	row := s.store.DB().QueryRowContext(ctx, `
		SELECT id, ifnull(project_id, ''), name, status, started_at, ended_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// End closes the session. completed marks a normal finish, otherwise the
// session is recorded as ended (abandoned or interrupted).
func (s *Sessions) End(ctx context.Context, id string, completed bool) (*Session, error) {
	status := StatusEnded
	if completed {
		status = StatusCompleted
	}
	now := time.Now().UTC()
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, ended_at = ?
			WHERE id = ? AND status = ?`,
			status, now, id, StatusActive)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerr.NotFound("session", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Active returns open sessions, newest first, optionally filtered by
// project.
func (s *Sessions) Active(ctx context.Context, projectID string) ([]*Session, error) {
	q := `SELECT id, ifnull(project_id, ''), name, status, started_at, ended_at
		FROM sessions WHERE status = ?`
	args := []any{StatusActive}
	if projectID != "" {
		q += ` AND project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY started_at DESC`
	rows, err := s.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list sessions", err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CountByStatus counts sessions with the given status, optionally
// restricted to a project.
func (s *Sessions) CountByStatus(ctx context.Context, projectID string, status Status) (int, error) {
	q := `SELECT count(*) FROM sessions WHERE status = ?`
	args := []any{string(status)}
	if projectID != "" {
		q += ` AND project_id = ?`
		args = append(args, projectID)
	}
	var n int
	if err := s.store.DB().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, memerr.Database("count sessions", err)
	}
	return n, nil
}

// IsOpen reports whether the session exists and is still active. Late
// classification callbacks use it to skip results for ended sessions.
func (s *Sessions) IsOpen(ctx context.Context, id string) (bool, error) {
	var status Status
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, memerr.Database("check session", err)
	}
	return status == StatusActive, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Name, &sess.Status,
		&sess.StartedAt, &ended)
	if err == sql.ErrNoRows {
		return nil, memerr.NotFound("session", "")
	}
	if err != nil {
		return nil, memerr.Database("scan session", err)
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
