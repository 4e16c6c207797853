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
	"log/slog"

	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

// ScopeResolver resolves parent scope links from persisted rows: a session
// belongs to a project, a project to an organization. Agent scopes carry no
// parent row and fall through to global.
type ScopeResolver struct {
	store *storage.Store
}

func NewScopeResolver(store *storage.Store) *ScopeResolver {
	return &ScopeResolver{store: store}
}

// Parent implements scope.Resolver.
func (r *ScopeResolver) Parent(s scope.Scope) (scope.Scope, bool) {
	ctx := context.Background()
	switch s.Type {
	case scope.Session:
		var projectID sql.NullString
		err := r.store.DB().QueryRowContext(ctx,
			"SELECT project_id FROM sessions WHERE id = ?", s.ID).Scan(&projectID)
		if err == nil && projectID.Valid && projectID.String != "" {
			return scope.Scope{Type: scope.Project, ID: projectID.String}, true
		}
		if err != nil && err != sql.ErrNoRows {
			slog.Warn("scope resolution failed", "scope", s.String(), "error", err)
		}
		return scope.GlobalScope, true
	case scope.Project:
		var orgID sql.NullString
		err := r.store.DB().QueryRowContext(ctx,
			"SELECT organization_id FROM projects WHERE id = ? OR name = ?", s.ID, s.ID).Scan(&orgID)
		if err == nil && orgID.Valid && orgID.String != "" {
			return scope.Scope{Type: scope.Organization, ID: orgID.String}, true
		}
		if err != nil && err != sql.ErrNoRows {
			slog.Warn("scope resolution failed", "scope", s.String(), "error", err)
		}
		return scope.GlobalScope, true
	case scope.Agent, scope.Organization:
		return scope.GlobalScope, true
	default:
		return scope.GlobalScope, false
	}
}
