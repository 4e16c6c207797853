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

package scope

import (
	"testing"

	"github.com/kadirpekel/engram/pkg/memerr"
)

// mapResolver resolves parent links from a static table.
type mapResolver map[string]Scope

func (m mapResolver) Parent(s Scope) (Scope, bool) {
	p, ok := m[s.String()]
	return p, ok
}

func TestScopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr bool
	}{
		{"global without id", Scope{Type: Global}, false},
		{"global with id", Scope{Type: Global, ID: "x"}, true},
		{"project with id", Scope{Type: Project, ID: "p1"}, false},
		{"project without id", Scope{Type: Project}, true},
		{"bogus type", Scope{Type: "universe", ID: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.scope.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChain(t *testing.T) {
	resolver := mapResolver{
		"session:s1": {Type: Agent, ID: "a1"},
		"agent:a1":   {Type: Project, ID: "p1"},
		"project:p1": {Type: Organization, ID: "o1"},
	}

	tests := []struct {
		name    string
		scope   Scope
		inherit bool
		want    []Scope
	}{
		{
			name:    "no inherit returns only requested scope",
			scope:   Scope{Type: Project, ID: "p1"},
			inherit: false,
			want:    []Scope{{Type: Project, ID: "p1"}},
		},
		{
			name:    "full walk from session",
			scope:   Scope{Type: Session, ID: "s1"},
			inherit: true,
			want: []Scope{
				{Type: Session, ID: "s1"},
				{Type: Agent, ID: "a1"},
				{Type: Project, ID: "p1"},
				{Type: Organization, ID: "o1"},
				{Type: Global},
			},
		},
		{
			name:    "unknown parent skips to global",
			scope:   Scope{Type: Project, ID: "orphan"},
			inherit: true,
			want: []Scope{
				{Type: Project, ID: "orphan"},
				{Type: Global},
			},
		},
		{
			name:    "global chain is itself",
			scope:   GlobalScope,
			inherit: true,
			want:    []Scope{{Type: Global}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chain(tt.scope, tt.inherit, resolver)
			if len(got) != len(tt.want) {
				t.Fatalf("Chain() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("Chain()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChainNarrowestFirst(t *testing.T) {
	chain := Chain(Scope{Type: Agent, ID: "a"}, true, nil)
	for i := 1; i < len(chain); i++ {
		if !chain[i-1].Type.Narrower(chain[i].Type) && chain[i-1].Type != chain[i].Type {
			// Each step must move broader.
			if rank[chain[i-1].Type] < rank[chain[i].Type] {
				t.Errorf("chain not ordered narrowest-first: %v", chain)
			}
		}
	}
	if !Contains(chain, GlobalScope) {
		t.Error("every inheriting chain ends at global")
	}
}

func TestPolicy(t *testing.T) {
	project := Scope{Type: Project, ID: "p"}
	global := GlobalScope

	tests := []struct {
		name     string
		mode     PolicyMode
		scope    Scope
		admin    bool
		wantCode memerr.Code
	}{
		{"permissive allows global write", Permissive, global, false, ""},
		{"standard allows project write", Standard, project, false, ""},
		{"standard denies global write", Standard, global, false, memerr.CodePermissionDenied},
		{"standard admin writes global", Standard, global, true, ""},
		{"strict denies all non-admin", Strict, project, false, memerr.CodePermissionDenied},
		{"strict admin allowed", Strict, project, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Policy{Mode: tt.mode}.CheckWrite(tt.scope, tt.admin)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("CheckWrite() = %v, want nil", err)
				}
				return
			}
			if !memerr.IsCode(err, tt.wantCode) {
				t.Errorf("CheckWrite() = %v, want code %v", err, tt.wantCode)
			}
		})
	}
}
