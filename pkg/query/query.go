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

// Package query implements the retrieval pipeline: parse -> rewrite ->
// generate_candidates -> fuse -> rerank -> hydrate -> format, with a
// fingerprinted result cache in front.
package query

import (
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/scope"
)

// Intent classifies what the caller is trying to do with the query.
type Intent string

const (
	IntentLookup    Intent = "lookup"
	IntentHowTo     Intent = "how_to"
	IntentDebug     Intent = "debug"
	IntentExplore   Intent = "explore"
	IntentCompare   Intent = "compare"
	IntentConfigure Intent = "configure"
)

// QuerySource identifies where a rewritten query variant came from.
type QuerySource string

const (
	SourceOriginal      QuerySource = "original"
	SourceExpansion     QuerySource = "expansion"
	SourceHyDE          QuerySource = "hyde"
	SourceDecomposition QuerySource = "decomposition"
)

// SearchQuery is one weighted query variant produced by the rewrite
// stage.
type SearchQuery struct {
	Text   string      `json:"text"`
	Weight float64     `json:"weight"` // in (0, 1]
	Source QuerySource `json:"source"`
}

// Flags are the per-request rewrite feature switches.
type Flags struct {
	EnableExpansion     bool `json:"enableExpansion,omitempty"`
	EnableHyDE          bool `json:"enableHyde,omitempty"`
	EnableDecomposition bool `json:"enableDecomposition,omitempty"`
	DisableRewrite      bool `json:"disableRewrite,omitempty"`
}

// Request is one retrieval call.
type Request struct {
	Text    string       `json:"query"`
	Scope   scope.Scope  `json:"scope"`
	Inherit bool         `json:"inherit"`
	Kinds   []entry.Kind `json:"types,omitempty"`
	Tags    []string     `json:"tags,omitempty"`
	// RelatedTo seeds the relational producer with an entry id.
	RelatedTo string `json:"relatedTo,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Flags     Flags  `json:"flags,omitempty"`
	// Format selects the response rendering: "json" (default) returns
	// structured results only, "markdown" additionally renders a digest
	// for prompt injection, truncated to TokenBudget tokens when set.
	Format      string `json:"format,omitempty"`
	TokenBudget int    `json:"tokenBudget,omitempty"`
}

// Result is one retrieved entry with its fused score.
type Result struct {
	Entry     *entry.Entry `json:"entry"`
	Score     float64      `json:"score"`
	Producers []string     `json:"producers"`
}

// Response is the formatted pipeline output.
type Response struct {
	Results  []Result `json:"results"`
	Intent   Intent   `json:"intent"`
	Strategy string   `json:"strategy"`
	Markdown string   `json:"markdown,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Cached   bool     `json:"cached,omitempty"`
}

// pipelineContext is the shared state the stages operate on.
type pipelineContext struct {
	req      Request
	chain    []scope.Scope
	kinds    []entry.Kind
	queries  []SearchQuery
	intent   Intent
	strategy string

	candidates []candidate
	fused      []fusedHit
	results    []Result
	degraded   bool
}

// candidate is one producer hit before fusion.
type candidate struct {
	entryID  string
	kind     entry.Kind
	producer producer
	rank     int     // 1-based within its producer result list
	weight   float64 // producer weight x query weight
}

type producer int

// Producer priority for fusion tie-breaks, highest first.
const (
	producerLexical producer = iota
	producerVector
	producerRelational
)

func (p producer) String() string {
	switch p {
	case producerLexical:
		return "lexical"
	case producerVector:
		return "vector"
	case producerRelational:
		return "relational"
	}
	return "unknown"
}

// fusedHit is one entry after reciprocal-rank fusion.
type fusedHit struct {
	entryID   string
	kind      entry.Kind
	score     float64
	producers []string
	// best (lowest) producer value among contributors, for tie-breaks
	bestProducer producer
}
