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

package toolkit

import (
	"github.com/kadirpekel/engram/pkg/capture"
	"github.com/kadirpekel/engram/pkg/embedder"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/graph"
	"github.com/kadirpekel/engram/pkg/model"
	"github.com/kadirpekel/engram/pkg/query"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/session"
	"github.com/kadirpekel/engram/pkg/storage"
	"github.com/kadirpekel/engram/pkg/tasks"
)

// Deps carries everything the memory tool families need. Nil optional
// dependencies degrade the affected tools instead of failing registration.
type Deps struct {
	Store    *storage.Store
	Repos    map[entry.Kind]*repository.Entries
	Projects *repository.Projects
	Conflicts *repository.Conflicts
	Resolver scope.Resolver

	Query   *query.Service
	Capture *capture.Pipeline

	Sessions *session.Sessions
	Episodes *session.Episodes

	Tasks    *tasks.Tasks
	Evidence *tasks.Evidence
	Graph    *graph.Graph

	Embedder  embedder.Embedder
	Generator model.Generator

	// AgentID stamps CreatedBy on writes that arrive through the tool
	// surface without their own agent identity.
	AgentID string
}

func (d Deps) agent() string {
	if d.AgentID == "" {
		return "agent"
	}
	return d.AgentID
}

// NewMemoryRegistry builds the full tool registry for the memory service.
func NewMemoryRegistry(deps Deps) (*Registry, error) {
	reg := NewRegistry()
	for _, register := range []func(*Registry, Deps) error{
		registerAdminTools,
		registerEntryTools,
		registerQueryTools,
		registerTaskTools,
		registerGraphTools,
	} {
		if err := register(reg, deps); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
