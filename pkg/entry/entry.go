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

// Package entry defines the four versioned entry kinds the memory store
// persists: tools, guidelines, knowledge, and experiences.
//
// Every user-visible mutation of an entry produces an immutable version row;
// the entry row only carries identity, scope, and the current-version
// pointer. Version numbers are a contiguous 1..N per entry.
package entry

import (
	"fmt"
	"time"

	"github.com/kadirpekel/engram/pkg/scope"
)

// Kind discriminates the four entry kinds.
type Kind string

const (
	KindTool       Kind = "tool"
	KindGuideline  Kind = "guideline"
	KindKnowledge  Kind = "knowledge"
	KindExperience Kind = "experience"
)

// Kinds lists all entry kinds in canonical order.
var Kinds = []Kind{KindTool, KindGuideline, KindKnowledge, KindExperience}

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTool, KindGuideline, KindKnowledge, KindExperience:
		return true
	}
	return false
}

// ParseKind parses an entry kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("invalid entry kind %q (valid: tool, guideline, knowledge, experience)", s)
	}
	return k, nil
}

// ExperienceLevel is the abstraction ladder for experiences.
type ExperienceLevel string

const (
	LevelCase      ExperienceLevel = "case"
	LevelPattern   ExperienceLevel = "pattern"
	LevelPrinciple ExperienceLevel = "principle"
)

func (l ExperienceLevel) Valid() bool {
	switch l {
	case LevelCase, LevelPattern, LevelPrinciple:
		return true
	}
	return false
}

// TrajectoryStep is one ordered step of an experience's action sequence.
type TrajectoryStep struct {
	Action string `json:"action"`
	Tool   string `json:"tool,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Content is the versioned payload of an entry. Which fields are meaningful
// depends on the kind; the rest stay zero and are omitted from storage.
type Content struct {
	// Tool.
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Examples    []string       `json:"examples,omitempty"`

	// Guideline and knowledge.
	Body      string `json:"content,omitempty"`
	Rationale string `json:"rationale,omitempty"`

	// Knowledge.
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"` // 0..1

	// Experience.
	Scenario string `json:"scenario,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// SearchText returns the text the full-text index covers for this content.
func (c Content) SearchText() string {
	out := c.Description
	for _, p := range []string{c.Body, c.Rationale, c.Scenario, c.Outcome} {
		if p != "" {
			if out != "" {
				out += "\n"
			}
			out += p
		}
	}
	return out
}

// Version is an immutable snapshot of an entry's content.
type Version struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"entryId"`
	Number    int       `json:"version"`
	Content   Content   `json:"content"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is the materialized view of an entry row joined with its current
// version.
type Entry struct {
	ID    string      `json:"id"`
	Kind  Kind        `json:"kind"`
	Scope scope.Scope `json:"scope"`

	// Name is the identity key: tool/guideline name, knowledge/experience
	// title.
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`

	// Priority applies to guidelines (0-100).
	Priority int `json:"priority,omitempty"`

	// Level applies to experiences.
	Level ExperienceLevel `json:"level,omitempty"`

	IsActive       bool    `json:"isActive"`
	CurrentVersion int     `json:"version"`
	Content        Content `json:"content"`

	// Experience usage statistics.
	UseCount     int        `json:"useCount,omitempty"`
	SuccessCount int        `json:"successCount,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
	Trajectory   []TrajectoryStep `json:"trajectory,omitempty"`

	// Promotion links for experiences.
	PromotedToToolID string `json:"promotedToToolId,omitempty"`
	PromotedFromID   string `json:"promotedFromId,omitempty"`

	// EpisodeID links an experience back to the episode it was learned in.
	EpisodeID string `json:"episodeId,omitempty"`

	Tags []string `json:"tags,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidateForCreate checks required fields per kind before the first version
// is written.
func (e *Entry) ValidateForCreate() error {
	if err := e.Scope.Validate(); err != nil {
		return err
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid entry kind %q", e.Kind)
	}
	if e.Name == "" {
		return fmt.Errorf("%s requires a name", e.Kind)
	}
	switch e.Kind {
	case KindTool:
		if e.Content.Description == "" {
			return fmt.Errorf("tool %q requires a description", e.Name)
		}
	case KindGuideline:
		if e.Content.Body == "" {
			return fmt.Errorf("guideline %q requires content", e.Name)
		}
		if e.Priority < 0 || e.Priority > 100 {
			return fmt.Errorf("guideline priority must be 0-100, got %d", e.Priority)
		}
	case KindKnowledge:
		if e.Content.Body == "" {
			return fmt.Errorf("knowledge %q requires content", e.Name)
		}
		if e.Content.Confidence < 0 || e.Content.Confidence > 1 {
			return fmt.Errorf("knowledge confidence must be 0-1, got %v", e.Content.Confidence)
		}
	case KindExperience:
		if e.Level == "" {
			e.Level = LevelCase
		}
		if !e.Level.Valid() {
			return fmt.Errorf("invalid experience level %q", e.Level)
		}
		if e.Content.Body == "" && e.Content.Scenario == "" {
			return fmt.Errorf("experience %q requires content or scenario", e.Name)
		}
	}
	return nil
}

// Patch is a partial update applied by Update. Nil fields are left
// untouched; any non-nil field produces a new version.
type Patch struct {
	Name     *string  `json:"name,omitempty"`
	Category *string  `json:"category,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Level    *ExperienceLevel `json:"level,omitempty"`
	Content  *Content `json:"content,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// ExpectedVersion enables optimistic concurrency: when non-zero, the
	// update fails with CONFLICT if the current version differs.
	ExpectedVersion int `json:"expectedVersion,omitempty"`
}

// ListFilter selects entries for list operations.
type ListFilter struct {
	Scope           scope.Scope
	Inherit         bool
	IncludeInactive bool
	Category        string
	Tags            []string
	Level           ExperienceLevel
	Limit           int
	Offset          int
}
