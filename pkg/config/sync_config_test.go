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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncAdapterConfig(t *testing.T) {
	cfg, err := LoadFromString(`
sync:
  adapters:
    tracker:
      type: http
      base_url: https://tasks.example.com/v1
      token: secret
      database: eng-board
      dry_run: true
      field_mapping:
        title: Name
        status: State
`)
	require.NoError(t, err)
	require.Len(t, cfg.Sync.Adapters, 1)

	adapter := cfg.Sync.Adapters["tracker"]
	assert.Equal(t, "http", adapter.Type)
	assert.Equal(t, "https://tasks.example.com/v1", adapter.BaseURL)
	assert.Equal(t, "eng-board", adapter.Database)
	assert.True(t, adapter.DryRun)
	assert.Equal(t, "Name", adapter.FieldMapping["title"])
	assert.Equal(t, "State", adapter.FieldMapping["status"])
}

func TestSyncAdapterRequiresType(t *testing.T) {
	_, err := LoadFromString(`
sync:
  adapters:
    tracker:
      base_url: https://tasks.example.com/v1
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracker")
}
