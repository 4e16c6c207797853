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

// Package scope models the five-level scope hierarchy that every memory
// entry lives under: global → organization → project → agent → session.
//
// A scope chain is the ordered list of scopes a query considers under
// inheritance, narrowest first. Narrower scopes shadow broader ones on
// identity collisions.
package scope

import (
	"fmt"
	"strings"
)

// Type is a scope level. The ordering is contractual: broader levels have
// smaller rank.
type Type string

const (
	Global       Type = "global"
	Organization Type = "organization"
	Project      Type = "project"
	Agent        Type = "agent"
	Session      Type = "session"
)

// rank orders scope types from broadest (0) to narrowest.
var rank = map[Type]int{
	Global:       0,
	Organization: 1,
	Project:      2,
	Agent:        3,
	Session:      4,
}

// Valid reports whether t is one of the five scope levels.
func (t Type) Valid() bool {
	_, ok := rank[t]
	return ok
}

// Narrower reports whether t is strictly narrower than other.
func (t Type) Narrower(other Type) bool {
	return rank[t] > rank[other]
}

// ParseType parses a scope type string.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid scope type %q (valid: global, organization, project, agent, session)", s)
	}
	return t, nil
}

// Scope identifies a single scope instance. ID is empty iff Type is global.
type Scope struct {
	Type Type   `json:"scopeType" yaml:"scope_type"`
	ID   string `json:"scopeId,omitempty" yaml:"scope_id,omitempty"`
}

// GlobalScope is the root of every chain.
var GlobalScope = Scope{Type: Global}

// Validate enforces the scope_id invariant: NULL iff global.
func (s Scope) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("invalid scope type %q", s.Type)
	}
	if s.Type == Global && s.ID != "" {
		return fmt.Errorf("global scope must not carry a scope id")
	}
	if s.Type != Global && s.ID == "" {
		return fmt.Errorf("%s scope requires a scope id", s.Type)
	}
	return nil
}

func (s Scope) String() string {
	if s.Type == Global {
		return string(Global)
	}
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

// Parse is the inverse of String: "global" or "<type>:<id>".
func Parse(s string) (Scope, error) {
	if s == string(Global) {
		return GlobalScope, nil
	}
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return Scope{}, fmt.Errorf("invalid scope %q, want <type>:<id>", s)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Scope{}, err
	}
	sc := Scope{Type: t, ID: id}
	return sc, sc.Validate()
}

// Equal reports scope identity.
func (s Scope) Equal(other Scope) bool {
	return s.Type == other.Type && s.ID == other.ID
}

// Resolver looks up parent scope instances. The session repository knows a
// session's agent, the project repository knows a project's organization,
// and so on. Missing links simply shorten the chain toward global.
type Resolver interface {
	// Parent returns the parent scope of s, or ok=false when the link is
	// unknown (the chain then skips to global).
	Parent(s Scope) (parent Scope, ok bool)
}

// Chain computes the scope chain for a request, narrowest to broadest.
//
// With inherit=false the chain contains only the requested scope. Otherwise
// the chain walks parent links up to (and always including) global.
func Chain(s Scope, inherit bool, resolver Resolver) []Scope {
	if err := s.Validate(); err != nil {
		return []Scope{GlobalScope}
	}
	if !inherit {
		return []Scope{s}
	}

	chain := []Scope{s}
	cur := s
	for cur.Type != Global {
		parent, ok := parentOf(cur, resolver)
		if !ok {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}
	if chain[len(chain)-1].Type != Global {
		chain = append(chain, GlobalScope)
	}
	return chain
}

func parentOf(s Scope, resolver Resolver) (Scope, bool) {
	if resolver != nil {
		if p, ok := resolver.Parent(s); ok {
			return p, true
		}
	}
	// Without a resolver link the only safe parent is global.
	return GlobalScope, s.Type != Global
}

// Contains reports whether target appears in the chain. Query results must
// never include entries outside the chain.
func Contains(chain []Scope, target Scope) bool {
	for _, s := range chain {
		if s.Equal(target) {
			return true
		}
	}
	return false
}
