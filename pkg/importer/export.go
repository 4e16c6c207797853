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

package importer

import (
	"context"
	"encoding/json"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

// ExportOptions configures one export call.
type ExportOptions struct {
	Scope scope.Scope

	// Inherit includes entries visible from ancestor scopes, with narrower
	// active entries shadowing broader ones.
	Inherit bool

	// Kinds restricts the export; empty means all kinds.
	Kinds []entry.Kind

	// IncludeInactive includes deactivated entries.
	IncludeInactive bool
}

// ExportJSON writes the selected entries as an import Document so that a
// later ImportJSON of the output reproduces them.
func (s *Service) ExportJSON(ctx context.Context, opts ExportOptions) ([]byte, error) {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = entry.Kinds
	}

	doc := Document{Entries: []*entry.Entry{}}
	for _, kind := range kinds {
		repo, ok := s.repos[kind]
		if !ok {
			continue
		}
		entries, err := repo.List(ctx, entry.ListFilter{
			Scope:           opts.Scope,
			Inherit:         opts.Inherit,
			IncludeInactive: opts.IncludeInactive,
		}, s.resolver)
		if err != nil {
			return nil, err
		}
		doc.Entries = append(doc.Entries, entries...)
	}

	return json.MarshalIndent(doc, "", "  ")
}
