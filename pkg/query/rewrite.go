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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/engram/pkg/logger"
	"github.com/kadirpekel/engram/pkg/model"
)

// Per-source variant weights. The original query always dominates so
// rewrite failures degrade to plain retrieval rather than distorting it.
const (
	weightOriginal      = 1.0
	weightHyDE          = 0.8
	weightExpansion     = 0.6
	weightDecomposition = 0.5
)

const maxVariantsPerSource = 5

// rewriter produces weighted query variants and classifies intent. The
// generator is optional; without one only the original query is emitted.
type rewriter struct {
	gen model.Generator
	log *slog.Logger
}

func newRewriter(gen model.Generator) *rewriter {
	return &rewriter{gen: gen, log: logger.GetLogger()}
}

// run fills pc.queries, pc.intent, and pc.strategy. Rewrite failures are
// soft: they log, mark the pipeline degraded, and leave the original
// query in place.
func (r *rewriter) run(ctx context.Context, pc *pipelineContext) error {
	text := sanitizeInput(pc.req.Text)
	pc.intent = detectIntent(text)
	pc.queries = []SearchQuery{{Text: text, Weight: weightOriginal, Source: SourceOriginal}}

	f := pc.req.Flags
	if f.DisableRewrite || text == "" || r.gen == nil {
		pc.strategy = "direct"
		return nil
	}

	var applied []string

	if f.EnableExpansion {
		variants, err := r.expand(ctx, text)
		if err != nil {
			r.log.Warn("query expansion failed", "error", err)
			pc.degraded = true
		} else if len(variants) > 0 {
			applied = append(applied, "expansion")
			for _, v := range variants {
				pc.queries = append(pc.queries, SearchQuery{Text: v, Weight: weightExpansion, Source: SourceExpansion})
			}
		}
	}

	if f.EnableHyDE {
		doc, err := r.hypothetical(ctx, text)
		if err != nil {
			r.log.Warn("hyde generation failed", "error", err)
			pc.degraded = true
		} else if doc != "" {
			applied = append(applied, "hyde")
			pc.queries = append(pc.queries, SearchQuery{Text: doc, Weight: weightHyDE, Source: SourceHyDE})
		}
	}

	if f.EnableDecomposition {
		parts, err := r.decompose(ctx, text)
		if err != nil {
			r.log.Warn("query decomposition failed", "error", err)
			pc.degraded = true
		} else {
			for _, p := range parts {
				pc.queries = append(pc.queries, SearchQuery{Text: p, Weight: weightDecomposition, Source: SourceDecomposition})
			}
			if len(parts) > 0 {
				applied = append(applied, "decomposition")
			}
		}
	}

	pc.strategy = deriveStrategy(applied)
	return nil
}

// deriveStrategy names the rewrite technique that was actually applied.
// HyDE combined with expansion is the hybrid strategy; a single technique
// keeps its own name; nothing applied means direct retrieval.
func deriveStrategy(applied []string) string {
	hasExpansion, hasHyDE := false, false
	for _, a := range applied {
		switch a {
		case "expansion":
			hasExpansion = true
		case "hyde":
			hasHyDE = true
		}
	}
	switch {
	case hasExpansion && hasHyDE:
		return "hybrid"
	case len(applied) == 1:
		return applied[0]
	case len(applied) > 1:
		return "hybrid"
	}
	return "direct"
}

// expand asks the model for alternative phrasings of the query.
func (r *rewriter) expand(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`Generate 3 alternative phrasings of this search query. Vary the terminology and specificity but preserve the meaning.

Query: %s

Return ONLY a JSON array of strings, no other text.
Example: ["phrasing one", "phrasing two", "phrasing three"]`, text)

	resp, err := r.gen.Generate(ctx, &model.Request{
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}
	return parseStringArray(resp, maxVariantsPerSource), nil
}

// hypothetical generates a document that would answer the query. Matching
// the embedding of an answer against stored answers outperforms matching
// the question itself.
func (r *rewriter) hypothetical(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`Write a short, factual passage that would directly answer this question. Write as if you are the documentation being searched for. Do not mention the question.

Question: %s

Passage:`, text)

	resp, err := r.gen.Generate(ctx, &model.Request{
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// decompose splits a multi-part question into independent sub-queries.
func (r *rewriter) decompose(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(`Split this question into independent sub-questions, one per distinct thing it asks. If it asks a single thing, return an empty array.

Question: %s

Return ONLY a JSON array of strings, no other text.`, text)

	resp, err := r.gen.Generate(ctx, &model.Request{
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}
	return parseStringArray(resp, maxVariantsPerSource), nil
}

// parseStringArray extracts a JSON string array from model output. Models
// wrap JSON in prose and markdown fences often enough that a strict parse
// is not viable: it first tries the bracketed region, then falls back to
// quoted-string extraction line by line.
func parseStringArray(resp string, max int) []string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start >= 0 && end > start {
		var arr []string
		if err := json.Unmarshal([]byte(resp[start:end+1]), &arr); err == nil {
			return capStrings(arr, max)
		}
	}

	// Fallback: pull quoted strings out of the raw text.
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		first := strings.Index(line, `"`)
		last := strings.LastIndex(line, `"`)
		if first >= 0 && last > first {
			if s := strings.TrimSpace(line[first+1 : last]); s != "" {
				out = append(out, s)
			}
		}
	}
	return capStrings(out, max)
}

func capStrings(in []string, max int) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// intentPhrases maps leading phrases and keywords to intents. First match
// in table order wins; the table is ordered most-specific first.
var intentPhrases = []struct {
	intent  Intent
	phrases []string
}{
	{IntentDebug, []string{"error", "fail", "failing", "broken", "crash", "panic", "not working", "why is", "why does", "fix "}},
	{IntentHowTo, []string{"how do i", "how to", "how can i", "steps to", "guide for", "walk me through"}},
	{IntentCompare, []string{" vs ", " versus ", "difference between", "compare", "better than", "or should i"}},
	{IntentConfigure, []string{"config", "configure", "setting", "settings", "setup", "set up", "enable", "disable", "option for"}},
	{IntentExplore, []string{"what are", "list all", "show me", "everything about", "overview of", "tell me about"}},
}

// detectIntent classifies a query by phrase heuristics. Unmatched queries
// default to lookup, the most common case.
func detectIntent(text string) Intent {
	t := " " + strings.ToLower(text) + " "
	for _, row := range intentPhrases {
		for _, p := range row.phrases {
			if strings.Contains(t, p) {
				return row.intent
			}
		}
	}
	return IntentLookup
}
