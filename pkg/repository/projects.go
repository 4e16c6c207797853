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
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Project is a scope anchor: project-scoped entries reference its id.
type Project struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Projects persists project rows.
type Projects struct {
	store *storage.Store
}

func NewProjects(store *storage.Store) *Projects {
	return &Projects{store: store}
}

// Create inserts a project. Names are unique.
func (p *Projects) Create(ctx context.Context, proj *Project) (*Project, error) {
	if proj.Name == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("project name is required").Field("name").Build()
	}
	now := time.Now().UTC()
	proj.ID = uuid.NewString()
	proj.CreatedAt = now
	proj.UpdatedAt = now

	meta, err := marshalMeta(proj.Metadata)
	if err != nil {
		return nil, err
	}
	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO projects (id, organization_id, name, description, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			proj.ID, nullableString(proj.OrganizationID), proj.Name, proj.Description, meta, now, now)
		if err != nil {
			if isIdentityViolation(err) {
				return memerr.Conflict("project %q already exists", proj.Name)
			}
			return memerr.Database("insert project", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proj, nil
}

// Get returns a project by id or name.
func (p *Projects) Get(ctx context.Context, idOrName string) (*Project, error) {
	row := p.store.DB().QueryRowContext(ctx, `
SELECT id, ifnull(organization_id,''), name, description, metadata, created_at, updated_at
FROM projects WHERE id = ? OR name = ?`, idOrName, idOrName)
	proj, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, memerr.NotFound("project", idOrName)
	}
	if err != nil {
		return nil, memerr.Database("get project", err)
	}
	return proj, nil
}

// List returns all projects, newest first.
func (p *Projects) List(ctx context.Context) ([]*Project, error) {
	rows, err := p.store.DB().QueryContext(ctx, `
SELECT id, ifnull(organization_id,''), name, description, metadata, created_at, updated_at
FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, memerr.Database("list projects", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, memerr.Database("scan project", err)
		}
		out = append(out, proj)
	}
	return out, rows.Err()
}

// Update rewrites description and metadata.
func (p *Projects) Update(ctx context.Context, idOrName string, description *string, metadata map[string]any) (*Project, error) {
	proj, err := p.Get(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if description != nil {
		proj.Description = *description
	}
	if metadata != nil {
		proj.Metadata = metadata
	}
	proj.UpdatedAt = time.Now().UTC()

	meta, err := marshalMeta(proj.Metadata)
	if err != nil {
		return nil, err
	}
	err = p.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE projects SET description = ?, metadata = ?, updated_at = ? WHERE id = ?",
			proj.Description, meta, proj.UpdatedAt, proj.ID)
		if err != nil {
			return memerr.Database("update project", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proj, nil
}

func scanProject(row rowScanner) (*Project, error) {
	var proj Project
	var meta string
	if err := row.Scan(&proj.ID, &proj.OrganizationID, &proj.Name, &proj.Description,
		&meta, &proj.CreatedAt, &proj.UpdatedAt); err != nil {
		return nil, err
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &proj.Metadata)
	}
	return &proj, nil
}

func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", memerr.Internal(err)
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
