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

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/engram/pkg/breaker"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/model"
)

// Classification is the classifier verdict for a text fragment.
type Classification struct {
	Kind             string  `json:"type"` // entry kind or "none"
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty"`
	Title            string  `json:"title,omitempty"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
	AutoStore        bool    `json:"autoStore"`
	Suggest          bool    `json:"suggest"`
}

// EntryKind returns the classified kind, or false for "none" or an
// unknown label.
func (c *Classification) EntryKind() (entry.Kind, bool) {
	k := entry.Kind(c.Kind)
	return k, k.Valid()
}

// Classifier routes text fragments to entry kinds through a model behind
// a circuit breaker.
type Classifier struct {
	gen     model.Generator
	brk     *breaker.Breaker
	minLen  int
	autoAt  float64
	suggest float64
}

// ClassifierOptions configures thresholds; zero values take the defaults
// that match the config section.
type ClassifierOptions struct {
	MinLength          int
	AutoStoreThreshold float64
	SuggestThreshold   float64
}

func NewClassifier(gen model.Generator, opts ClassifierOptions) *Classifier {
	if opts.MinLength <= 0 {
		opts.MinLength = 20
	}
	if opts.AutoStoreThreshold == 0 {
		opts.AutoStoreThreshold = 0.85
	}
	if opts.SuggestThreshold == 0 {
		opts.SuggestThreshold = 0.70
	}
	return &Classifier{
		gen:     gen,
		brk:     breaker.New(breaker.Settings{Name: "classifier"}),
		minLen:  opts.MinLength,
		autoAt:  opts.AutoStoreThreshold,
		suggest: opts.SuggestThreshold,
	}
}

const classifierPrompt = `Classify this text fragment into exactly one memory category.

Categories:
- guideline: a rule, convention, or policy the team should follow
- knowledge: a fact, constraint, or piece of domain information
- tool: a command, script, or utility worth remembering
- experience: a problem-solving episode with an outcome
- none: not worth remembering

Text: %s

Respond with ONLY a JSON object:
{"type": "<category>", "confidence": <0.0-1.0>, "title": "<short title>", "reasoning": "<one sentence>"}`

// Classify returns the verdict for text. Short text or an unavailable
// backend returns type=none with zero confidence rather than an error.
func (c *Classifier) Classify(ctx context.Context, text string) (*Classification, error) {
	start := time.Now()
	none := func() *Classification {
		return &Classification{Kind: "none", ProcessingTimeMs: time.Since(start).Milliseconds()}
	}

	text = strings.TrimSpace(text)
	if len(text) < c.minLen {
		return none(), nil
	}
	if c.gen == nil || !c.gen.IsAvailable(ctx) {
		return none(), nil
	}

	var raw string
	err := c.brk.Do(func() error {
		var genErr error
		raw, genErr = c.gen.Generate(ctx, &model.Request{
			Prompt:      fmt.Sprintf(classifierPrompt, text),
			Temperature: 0.1,
			MaxTokens:   200,
		})
		return genErr
	})
	if err != nil {
		return nil, err
	}

	result := parseClassification(raw)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	result.AutoStore = result.Confidence >= c.autoAt
	result.Suggest = !result.AutoStore && result.Confidence >= c.suggest
	return result, nil
}

// parseClassification tolerates markdown fences and surrounding prose and
// clamps out-of-range confidence to zero.
func parseClassification(raw string) *Classification {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return &Classification{Kind: "none"}
	}

	var out Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return &Classification{Kind: "none"}
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		out.Confidence = 0
	}
	if _, ok := out.EntryKind(); !ok {
		out.Kind = "none"
	}
	return &out
}
