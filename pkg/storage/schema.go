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
	"log/slog"
	"time"

	"github.com/kadirpekel/engram/pkg/memerr"
)

// migrations is the ordered migration list. Append only; never edit an
// applied migration.
var migrations = []string{
	// 1: core entities.
	`
CREATE TABLE IF NOT EXISTS organizations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    organization_id TEXT REFERENCES organizations(id),
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    name TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    level TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    current_version_id TEXT,
    current_version INTEGER NOT NULL DEFAULT 0,
    use_count INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    last_used_at TIMESTAMP,
    trajectory TEXT NOT NULL DEFAULT '[]',
    promoted_to_tool_id TEXT NOT NULL DEFAULT '',
    promoted_from_id TEXT NOT NULL DEFAULT '',
    episode_id TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    CHECK ((scope_type = 'global') = (scope_id IS NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_identity
    ON entries(kind, scope_type, ifnull(scope_id, ''), name) WHERE is_active = 1;
CREATE INDEX IF NOT EXISTS idx_entries_scope ON entries(scope_type, scope_id);
CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind, is_active);

CREATE TABLE IF NOT EXISTS entry_versions (
    id TEXT PRIMARY KEY,
    entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (entry_id, version)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_kind TEXT NOT NULL,
    entry_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    action TEXT NOT NULL,
    agent TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entry ON audit_log(entry_kind, entry_id);
`,
	// 2: tags and relations.
	`
CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS entry_tags (
    entry_kind TEXT NOT NULL,
    entry_id TEXT NOT NULL,
    tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (entry_kind, entry_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_entry_tags_tag ON entry_tags(tag_id);

CREATE TABLE IF NOT EXISTS entry_relations (
    id TEXT PRIMARY KEY,
    from_kind TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_kind TEXT NOT NULL,
    to_id TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (from_kind, from_id, to_kind, to_id, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON entry_relations(from_kind, from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON entry_relations(to_kind, to_id);
`,
	// 3: sessions, episodes, messages.
	`
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    project_id TEXT,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    scope_type TEXT NOT NULL DEFAULT 'global',
    scope_id TEXT,
    trigger_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    outcome TEXT NOT NULL DEFAULT '',
    quality_score INTEGER NOT NULL DEFAULT 0,
    quality_factors TEXT NOT NULL DEFAULT '{}',
    metadata TEXT NOT NULL DEFAULT '{}',
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);

CREATE TABLE IF NOT EXISTS episode_events (
    id TEXT PRIMARY KEY,
    episode_id TEXT NOT NULL REFERENCES episodes(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL DEFAULT '{}',
    semantic_summary TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    UNIQUE (episode_id, seq)
);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    episode_id TEXT,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    relevance_score REAL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_episode ON conversation_messages(episode_id);
`,
	// 4: locks, conflicts, recommendations, improvement decisions.
	`
CREATE TABLE IF NOT EXISTS file_locks (
    file_path TEXT PRIMARY KEY,
    locked_by TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
    id TEXT PRIMARY KEY,
    entry_kind TEXT NOT NULL,
    entry_ids TEXT NOT NULL,
    reason TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'open',
    resolution TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS recommendations (
    id TEXT PRIMARY KEY,
    scope_type TEXT NOT NULL,
    scope_id TEXT,
    rec_type TEXT NOT NULL,
    title TEXT NOT NULL,
    pattern TEXT NOT NULL,
    applicability TEXT NOT NULL DEFAULT '',
    rationale TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL,
    source_experience_ids TEXT NOT NULL DEFAULT '[]',
    analysis_run_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_by TEXT NOT NULL,
    expires_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_scope ON recommendations(scope_type, scope_id, status);

CREATE TABLE IF NOT EXISTS improvement_decisions (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    task TEXT NOT NULL,
    decision_type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    confidence REAL NOT NULL,
    applied INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
`,
	// 5: tasks, evidence, graph.
	`
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    project_id TEXT,
    external_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    priority INTEGER NOT NULL DEFAULT 0,
    assignee TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    version INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_external ON tasks(external_id);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status);

CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    task_id TEXT,
    kind TEXT NOT NULL,
    summary TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_task ON evidence(task_id);

CREATE TABLE IF NOT EXISTS graph_nodes (
    id TEXT PRIMARY KEY,
    scope_type TEXT NOT NULL DEFAULT 'global',
    scope_id TEXT,
    label TEXT NOT NULL,
    node_kind TEXT NOT NULL DEFAULT '',
    properties TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_edges (
    id TEXT PRIMARY KEY,
    scope_type TEXT NOT NULL DEFAULT 'global',
    scope_id TEXT,
    from_node TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
    to_node TEXT NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
    edge_type TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    UNIQUE (from_node, to_node, edge_type)
);
`,
	// 6: full-text virtual tables, one per entry kind. Repositories keep
	// these in sync inside the mutation transaction.
	`
CREATE VIRTUAL TABLE IF NOT EXISTS fts_tool USING fts5(entry_id UNINDEXED, name, content);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_guideline USING fts5(entry_id UNINDEXED, name, content);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_knowledge USING fts5(entry_id UNINDEXED, name, content);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_experience USING fts5(entry_id UNINDEXED, name, content);
`,
}

// Migrate applies pending migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`); err != nil {
		return memerr.New(memerr.CodeMigrationError).Message("migration table").Cause(err).Build()
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT ifnull(max(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return memerr.New(memerr.CodeMigrationError).Message("read migration version").Cause(err).Build()
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if err := s.applyMigration(ctx, version, migrations[i]); err != nil {
			return err
		}
		slog.Info("applied migration", "version", version)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, ddl string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memerr.New(memerr.CodeMigrationError).Message("begin migration %d", version).Cause(err).Build()
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		_ = tx.Rollback()
		return memerr.New(memerr.CodeMigrationError).Message("apply migration %d", version).Cause(err).Build()
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return memerr.New(memerr.CodeMigrationError).Message("record migration %d", version).Cause(err).Build()
	}
	if err := tx.Commit(); err != nil {
		return memerr.New(memerr.CodeMigrationError).Message("commit migration %d", version).Cause(err).Build()
	}
	return nil
}
