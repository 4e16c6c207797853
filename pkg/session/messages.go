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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Message is one turn of conversation recorded under a session.
type Message struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"sessionId"`
	EpisodeID      string         `json:"episodeId,omitempty"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	RelevanceScore *float64       `json:"relevanceScore,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"timestamp"`
}

// RelevanceBucket classifies a scored message.
type RelevanceBucket string

const (
	RelevanceHigh   RelevanceBucket = "high"
	RelevanceMedium RelevanceBucket = "medium"
	RelevanceLow    RelevanceBucket = "low"
)

// BucketThresholds are the lower bounds of the high and medium buckets.
type BucketThresholds struct {
	High   float64
	Medium float64
}

// DefaultBuckets matches the relevance-scoring maintenance pass defaults.
var DefaultBuckets = BucketThresholds{High: 0.8, Medium: 0.5}

// Bucket classifies score against the thresholds.
func (t BucketThresholds) Bucket(score float64) RelevanceBucket {
	switch {
	case score >= t.High:
		return RelevanceHigh
	case score >= t.Medium:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// Messages is the conversation message repository.
type Messages struct {
	store *storage.Store
}

func NewMessages(store *storage.Store) *Messages {
	return &Messages{store: store}
}

// Append stores a message at the tail of the session's conversation.
// episodeID may be empty for messages outside any episode.
func (m *Messages) Append(ctx context.Context, sessionID, episodeID string, role Role, content string, metadata map[string]any) (*Message, error) {
	if !role.Valid() {
		return nil, memerr.Validation("invalid message role %q", role)
	}
	if content == "" {
		return nil, memerr.Validation("message content is required")
	}
	metaJSON, err := json.Marshal(orEmptyMap(metadata))
	if err != nil {
		return nil, memerr.Validation("message metadata is not serializable: %v", err)
	}
	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		EpisodeID: episodeID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return memerr.NotFound("session", sessionID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (id, session_id, episode_id, role,
				content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, nullable(msg.EpisodeID), msg.Role,
			msg.Content, string(metaJSON), msg.CreatedAt)
		return err
	})
	if err != nil {
		if memerr.CodeOf(err) != memerr.CodeUnknown {
			return nil, err
		}
		return nil, memerr.Database("append message", err)
	}
	return msg, nil
}

// LinkEpisode attaches a stored message to an episode.
func (m *Messages) LinkEpisode(ctx context.Context, messageID, episodeID string) error {
	return m.exec(ctx, "link message",
		`UPDATE conversation_messages SET episode_id = ? WHERE id = ?`,
		episodeID, messageID)
}

// SetRelevance records a relevance score on a message.
func (m *Messages) SetRelevance(ctx context.Context, messageID string, score float64) error {
	if score < 0 || score > 1 {
		return memerr.Validation("relevance score must be 0-1, got %v", score)
	}
	return m.exec(ctx, "score message",
		`UPDATE conversation_messages SET relevance_score = ? WHERE id = ?`,
		score, messageID)
}

func (m *Messages) exec(ctx context.Context, op, query string, args ...any) error {
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return memerr.Database(op, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerr.NotFound("message", "")
		}
		return nil
	})
}

// BySession returns the session's messages in arrival order.
func (m *Messages) BySession(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	q := `SELECT id, session_id, ifnull(episode_id, ''), role, content,
			relevance_score, metadata, created_at
		FROM conversation_messages WHERE session_id = ? ORDER BY created_at, id`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return m.query(ctx, q, args...)
}

// ByEpisode returns messages linked to the episode in arrival order.
func (m *Messages) ByEpisode(ctx context.Context, episodeID string) ([]*Message, error) {
	return m.query(ctx, `
		SELECT id, session_id, ifnull(episode_id, ''), role, content,
			relevance_score, metadata, created_at
		FROM conversation_messages WHERE episode_id = ? ORDER BY created_at, id`,
		episodeID)
}

func (m *Messages) query(ctx context.Context, q string, args ...any) ([]*Message, error) {
	rows, err := m.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list messages", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		var msg Message
		var score sql.NullFloat64
		var metaJSON string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.EpisodeID, &msg.Role,
			&msg.Content, &score, &metaJSON, &msg.CreatedAt); err != nil {
			return nil, memerr.Database("scan message", err)
		}
		if score.Valid {
			v := score.Float64
			msg.RelevanceScore = &v
		}
		if metaJSON != "" && metaJSON != "{}" {
			_ = json.Unmarshal([]byte(metaJSON), &msg.Metadata)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}
