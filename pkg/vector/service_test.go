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

package vector

import (
	"context"
	"testing"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

func unit(dim, hot int) []float32 {
	vec := make([]float32, dim)
	vec[hot] = 1
	return vec
}

func TestUpsertAndSearch(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	ctx := context.Background()

	if err := svc.Upsert(ctx, entry.KindKnowledge, "a", unit(8, 0), scope.GlobalScope); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := svc.Upsert(ctx, entry.KindKnowledge, "b", unit(8, 1), scope.GlobalScope); err != nil {
		t.Fatal(err)
	}

	hits, err := svc.Search(ctx, entry.KindKnowledge, unit(8, 0), 1, nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].EntryID != "a" {
		t.Errorf("hits = %+v, want exact match on a", hits)
	}
}

func TestSearchScopeFilter(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	projectA := scope.Scope{Type: scope.Project, ID: "A"}
	projectB := scope.Scope{Type: scope.Project, ID: "B"}

	if err := svc.Upsert(ctx, entry.KindKnowledge, "in-a", unit(8, 0), projectA); err != nil {
		t.Fatal(err)
	}
	if err := svc.Upsert(ctx, entry.KindKnowledge, "in-b", unit(8, 0), projectB); err != nil {
		t.Fatal(err)
	}

	chain := scope.Chain(projectA, true, nil)
	hits, err := svc.Search(ctx, entry.KindKnowledge, unit(8, 0), 10, chain)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].EntryID != "in-a" {
		t.Errorf("hits = %+v, want only the in-chain entry", hits)
	}
}

func TestDelete(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := svc.Upsert(ctx, entry.KindTool, "gone", unit(4, 2), scope.GlobalScope); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, entry.KindTool, "gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	hits, err := svc.Search(ctx, entry.KindTool, unit(4, 2), 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits after delete = %+v, want none", hits)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := svc.Upsert(ctx, entry.KindTool, "t1", unit(4, 0), scope.GlobalScope); err != nil {
		t.Fatal(err)
	}
	hits, err := svc.Search(ctx, entry.KindGuideline, unit(4, 0), 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("guideline search returned tool vectors: %+v", hits)
	}
}
