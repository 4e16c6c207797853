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

// Package importer moves entries in and out of the store in bulk. Imports
// are tolerant: one bad entry is recorded and the batch continues. The
// entry cap is hard; a document over the cap is rejected before any write.
package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/repository"
	"github.com/kadirpekel/engram/pkg/scope"
)

// ConflictStrategy decides what happens when an imported entry collides
// with an existing active identity at the same scope.
type ConflictStrategy string

const (
	StrategyUpdate  ConflictStrategy = "update"
	StrategySkip    ConflictStrategy = "skip"
	StrategyError   ConflictStrategy = "error"
	StrategyReplace ConflictStrategy = "replace"
)

// DefaultMaxEntries caps a single import call.
const DefaultMaxEntries = 10000

// ParseStrategy validates a strategy string; empty defaults to skip.
func ParseStrategy(s string) (ConflictStrategy, error) {
	switch ConflictStrategy(s) {
	case StrategyUpdate, StrategySkip, StrategyError, StrategyReplace:
		return ConflictStrategy(s), nil
	case "":
		return StrategySkip, nil
	}
	return "", memerr.Validation("invalid conflict strategy %q (valid: update, skip, error, replace)", s)
}

// Options configures one import call.
type Options struct {
	Strategy ConflictStrategy

	// ScopeRemap rewrites scope strings before entries land, e.g.
	// {"project:old-name": "project:new-name"}.
	ScopeRemap map[string]string

	// DefaultScope applies to entries without a scope of their own and to
	// OpenAPI operations. Zero value means global.
	DefaultScope scope.Scope

	// MaxEntries caps the batch; zero means DefaultMaxEntries.
	MaxEntries int

	// CreatedBy stamps imported entries; defaults to "import".
	CreatedBy string
}

func (o Options) maxEntries() int {
	if o.MaxEntries <= 0 {
		return DefaultMaxEntries
	}
	return o.MaxEntries
}

func (o Options) createdBy() string {
	if o.CreatedBy == "" {
		return "import"
	}
	return o.CreatedBy
}

// Report summarizes one import call.
type Report struct {
	Total    int      `json:"total"`
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Replaced int      `json:"replaced"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *Report) fail(i int, name string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("entry %d (%s): %v", i, name, err))
}

// Document is the JSON import/export envelope.
type Document struct {
	Entries []*entry.Entry `json:"entries"`
}

// Service runs imports and exports over the per-kind repositories.
type Service struct {
	repos    map[entry.Kind]*repository.Entries
	resolver scope.Resolver
}

// New creates the import/export service.
func New(repos map[entry.Kind]*repository.Entries, resolver scope.Resolver) *Service {
	return &Service{repos: repos, resolver: resolver}
}

// ImportJSON imports a Document payload.
func (s *Service) ImportJSON(ctx context.Context, data []byte, opts Options) (*Report, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, memerr.New(memerr.CodeValidation).
			Message("import payload is not a valid entry document").
			Cause(err).
			Build()
	}
	return s.importEntries(ctx, doc.Entries, opts)
}

// ImportYAML is reserved; the format is not implemented.
func (s *Service) ImportYAML(ctx context.Context, data []byte, opts Options) (*Report, error) {
	return nil, memerr.NotImplemented("YAML import")
}

// ImportMarkdown is reserved; the format is not implemented.
func (s *Service) ImportMarkdown(ctx context.Context, data []byte, opts Options) (*Report, error) {
	return nil, memerr.NotImplemented("markdown import")
}

func (s *Service) importEntries(ctx context.Context, entries []*entry.Entry, opts Options) (*Report, error) {
	if len(entries) > opts.maxEntries() {
		return nil, memerr.New(memerr.CodeSizeLimitExceeded).
			Message("import of %d entries exceeds the cap of %d", len(entries), opts.maxEntries()).
			With("maxEntries", opts.maxEntries()).
			Build()
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategySkip
	}

	report := &Report{Total: len(entries)}
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e == nil {
			report.fail(i, "", memerr.Validation("entry is null"))
			continue
		}
		if err := s.importOne(ctx, e, strategy, opts, report, i); err != nil {
			report.fail(i, e.Name, err)
		}
	}
	return report, nil
}

func (s *Service) importOne(ctx context.Context, e *entry.Entry, strategy ConflictStrategy, opts Options, report *Report, i int) error {
	if !e.Kind.Valid() {
		return memerr.Validation("invalid entry kind %q", string(e.Kind))
	}
	repo, ok := s.repos[e.Kind]
	if !ok {
		return memerr.Validation("no repository for kind %q", string(e.Kind))
	}

	sc, err := s.targetScope(e.Scope, opts)
	if err != nil {
		return err
	}

	incoming := *e
	incoming.ID = ""
	incoming.Scope = sc
	incoming.CreatedBy = opts.createdBy()

	existing, err := repo.GetByIdentity(ctx, sc, e.Name)
	switch {
	case memerr.IsCode(err, memerr.CodeNotFound):
		if _, err := repo.Create(ctx, &incoming, true); err != nil {
			return err
		}
		report.Created++
		return nil
	case err != nil:
		return err
	}

	switch strategy {
	case StrategySkip:
		report.Skipped++
		return nil
	case StrategyError:
		return memerr.Conflict("entry %q already exists at %s", e.Name, sc.String())
	case StrategyUpdate:
		content := incoming.Content
		patch := entry.Patch{
			Content: &content,
			Tags:    incoming.Tags,
		}
		if incoming.Category != "" {
			patch.Category = &incoming.Category
		}
		if incoming.Priority != 0 {
			patch.Priority = &incoming.Priority
		}
		if _, err := repo.Update(ctx, existing.ID, patch, opts.createdBy()); err != nil {
			return err
		}
		report.Updated++
		return nil
	case StrategyReplace:
		if err := repo.Deactivate(ctx, existing.ID, opts.createdBy()); err != nil {
			return err
		}
		if _, err := repo.Create(ctx, &incoming, true); err != nil {
			return err
		}
		report.Replaced++
		return nil
	}
	return memerr.Validation("invalid conflict strategy %q", string(strategy))
}

// targetScope applies the remap table, then the default.
func (s *Service) targetScope(sc scope.Scope, opts Options) (scope.Scope, error) {
	if (sc == scope.Scope{}) {
		sc = opts.DefaultScope
	}
	if (sc == scope.Scope{}) {
		sc = scope.GlobalScope
	}
	if mapped, ok := opts.ScopeRemap[sc.String()]; ok {
		parsed, err := scope.Parse(mapped)
		if err != nil {
			return scope.Scope{}, memerr.New(memerr.CodeValidation).
				Message("scope remap target %q is invalid", mapped).
				Cause(err).
				Build()
		}
		sc = parsed
	}
	if err := sc.Validate(); err != nil {
		return scope.Scope{}, memerr.Validation("%v", err)
	}
	return sc, nil
}
