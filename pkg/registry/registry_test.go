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

package registry

import (
	"reflect"
	"testing"
)

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	if err := r.Register("a", 1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("a", 2); err == nil {
		t.Error("Register() duplicate should fail")
	}
	if err := r.Register("", 3); err == nil {
		t.Error("Register() empty name should fail")
	}

	got, ok := r.Get("a")
	if !ok || got != 1 {
		t.Errorf("Get(a) = %v, %v", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	r := NewBaseRegistry[string]()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(n, n); err != nil {
			t.Fatalf("Register(%s) error = %v", n, err)
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestBaseRegistry_RemoveAndCount(t *testing.T) {
	r := NewBaseRegistry[int]()
	_ = r.Register("x", 1)
	_ = r.Register("y", 2)

	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if err := r.Remove("x"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := r.Remove("x"); err == nil {
		t.Error("Remove() twice should fail")
	}

	r.Clear()
	if r.Count() != 0 {
		t.Errorf("Count() after Clear = %d", r.Count())
	}
}
