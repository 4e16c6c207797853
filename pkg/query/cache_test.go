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

package query

import (
	"testing"
	"time"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

func TestFingerprintStableUnderReordering(t *testing.T) {
	chain := []scope.Scope{{Type: scope.Project, ID: "p1"}, scope.GlobalScope}

	a := fingerprint(Request{Text: "deploy steps", Kinds: []entry.Kind{entry.KindTool, entry.KindKnowledge}, Tags: []string{"ops", "ci"}, Limit: 5},
		chain, []entry.Kind{entry.KindTool, entry.KindKnowledge})
	b := fingerprint(Request{Text: " deploy steps ", Kinds: []entry.Kind{entry.KindKnowledge, entry.KindTool}, Tags: []string{"ci", "ops"}, Limit: 5},
		chain, []entry.Kind{entry.KindKnowledge, entry.KindTool})
	if a != b {
		t.Errorf("fingerprint not canonical: %q != %q", a, b)
	}

	c := fingerprint(Request{Text: "deploy steps", Limit: 6}, chain, []entry.Kind{entry.KindTool})
	if a == c {
		t.Error("different requests produced the same fingerprint")
	}

	wantPrefix := "project:p1>global|"
	if len(a) < len(wantPrefix) || a[:len(wantPrefix)] != wantPrefix {
		t.Errorf("fingerprint %q does not start with scope chain prefix %q", a, wantPrefix)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := newResultCache(2, time.Minute)
	c.put("a|1", Response{Strategy: "direct"})
	c.put("b|2", Response{Strategy: "direct"})

	// Touch a so b is the eviction candidate.
	if _, ok := c.get("a|1"); !ok {
		t.Fatal("a|1 missing before eviction")
	}
	c.put("c|3", Response{Strategy: "direct"})

	if _, ok := c.get("b|2"); ok {
		t.Error("b|2 should have been evicted as least recently used")
	}
	if _, ok := c.get("a|1"); !ok {
		t.Error("a|1 should have survived eviction")
	}
	if _, ok := c.get("c|3"); !ok {
		t.Error("c|3 should be present")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newResultCache(8, 10*time.Millisecond)
	c.put("k|1", Response{})
	if _, ok := c.get("k|1"); !ok {
		t.Fatal("entry missing immediately after put")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("k|1"); ok {
		t.Error("entry should have expired")
	}
}

func TestCacheInvalidateScope(t *testing.T) {
	c := newResultCache(8, time.Minute)
	c.put("project:p1>global|aaa", Response{})
	c.put("project:p2>global|bbb", Response{})
	c.put("session:s1>project:p1>global|ccc", Response{})

	// A mutation at project p1 evicts every chain that includes p1.
	c.invalidateScope(scope.Scope{Type: scope.Project, ID: "p1"})
	if _, ok := c.get("project:p1>global|aaa"); ok {
		t.Error("p1 query should be invalidated")
	}
	if _, ok := c.get("session:s1>project:p1>global|ccc"); ok {
		t.Error("session query inheriting p1 should be invalidated")
	}
	if _, ok := c.get("project:p2>global|bbb"); !ok {
		t.Error("p2 query should be untouched")
	}

	// A global mutation clears everything that inherits globals.
	c.invalidateScope(scope.GlobalScope)
	if c.len() != 0 {
		t.Errorf("global invalidation left %d entries", c.len())
	}
}

func TestCacheInvalidateByPrefix(t *testing.T) {
	c := newResultCache(8, time.Minute)
	c.put("project:p1>global|aaa", Response{})
	c.put("project:p1>global|bbb", Response{})
	c.put("project:p2>global|ccc", Response{})

	c.invalidateByPrefix("project:p1")
	if c.len() != 1 {
		t.Fatalf("len = %d, want 1", c.len())
	}
	if _, ok := c.get("project:p2>global|ccc"); !ok {
		t.Error("non-matching prefix should survive")
	}
}

func TestCacheByteAccounting(t *testing.T) {
	c := newResultCache(2, time.Minute)
	if got := c.memoryBytes(); got != 0 {
		t.Fatalf("memoryBytes() = %d on an empty cache, want 0", got)
	}

	c.put("a|1", Response{Strategy: "direct"})
	one := c.memoryBytes()
	if one <= 0 {
		t.Fatalf("memoryBytes() = %d after one put, want > 0", one)
	}

	c.put("b|2", Response{Strategy: "direct"})
	two := c.memoryBytes()
	if two <= one {
		t.Errorf("memoryBytes() = %d after two puts, want > %d", two, one)
	}

	// Re-putting a key replaces its accounted size rather than adding.
	c.put("a|1", Response{Strategy: "hybrid"})
	if c.len() != 2 {
		t.Fatalf("len() = %d after re-put, want 2", c.len())
	}

	// Eviction at capacity releases the evicted entry's bytes.
	c.put("c|3", Response{Strategy: "direct"})
	if c.len() != 2 {
		t.Fatalf("len() = %d after eviction, want 2", c.len())
	}

	c.invalidate(func(string) bool { return true })
	if got := c.memoryBytes(); got != 0 {
		t.Errorf("memoryBytes() = %d after full invalidation, want 0", got)
	}
}
