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

//go:build !sqlite_fts5

package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kadirpekel/engram/pkg/memerr"
)

// Runs only in an untagged build, where the driver lacks the fts5 module.
func TestOpenRefusesWithoutFTS5(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err == nil {
		t.Fatal("Open() expected error in a build without FTS5")
	}
	if !memerr.IsCode(err, memerr.CodeDatabaseError) {
		t.Errorf("Open() error code = %v, want DATABASE_ERROR", err)
	}
	if !strings.Contains(err.Error(), "sqlite_fts5") {
		t.Errorf("Open() error = %q, want mention of the sqlite_fts5 build tag", err)
	}
}
