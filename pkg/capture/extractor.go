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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/kadirpekel/engram/pkg/entry"
)

// Suggestion is one extracted capture candidate. Hash deduplicates
// semantically identical fragments across triggers.
type Suggestion struct {
	Kind       entry.Kind  `json:"type"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	Confidence float64     `json:"confidence"`
	Trigger    TriggerType `json:"trigger,omitempty"`
	Hash       string      `json:"hash"`
}

// extractRule is one regex pattern mapping matched text to a kind with a
// base confidence.
type extractRule struct {
	kind       entry.Kind
	pattern    *regexp.Regexp
	confidence float64
}

// Rules are ordered strongest first; the first match per sentence wins.
var extractRules = []extractRule{
	// Imperative rules. Leading always/never is a policy statement.
	{entry.KindGuideline, regexp.MustCompile(`(?i)^\s*(always|never)\b.{8,}`), 0.9},
	{entry.KindGuideline, regexp.MustCompile(`(?i)\b(always|never)\s+\w.{6,}`), 0.85},
	{entry.KindGuideline, regexp.MustCompile(`(?i)^\s*(don't|do not|avoid|prefer|must|use)\b.{8,}`), 0.75},
	{entry.KindGuideline, regexp.MustCompile(`(?i)\b(from now on|going forward|as a rule)\b.{8,}`), 0.8},
	// Commands worth remembering as tools.
	{entry.KindTool, regexp.MustCompile("(?i)\\b(run|use)\\s+`[^`]{3,}`"), 0.7},
	{entry.KindTool, regexp.MustCompile(`(?i)\bthe\s+\S+\s+(command|script|tool)\b.{6,}`), 0.6},
	// Recovered outcomes become experiences.
	{entry.KindExperience, regexp.MustCompile(`(?i)\b(the fix was|fixed (it|this) by|turned out|solved (it|this) by)\b.{6,}`), 0.7},
	// Declarative facts.
	{entry.KindKnowledge, regexp.MustCompile(`(?i)\b(note that|keep in mind|remember that|it turns out)\b.{8,}`), 0.7},
	{entry.KindKnowledge, regexp.MustCompile(`(?i)\b\w[\w\s]{2,40}\b(is|are|requires|depends on)\b.{10,}`), 0.5},
}

// Extractor turns trigger text into suggestions with regex rules, then
// boosts confidence from signal patterns in the surrounding text.
type Extractor struct {
	booster *Booster
	// MinLength discards fragments too short to mean anything.
	MinLength int
}

func NewExtractor() *Extractor {
	return &Extractor{booster: NewBooster(), MinLength: 12}
}

// Extract returns zero or more suggestions for the text. The trigger type
// is carried through for provenance; it does not change the rules.
func (x *Extractor) Extract(text string, trigger TriggerType) []Suggestion {
	text = strings.TrimSpace(text)
	if len(text) < x.MinLength {
		return nil
	}

	var out []Suggestion
	seen := make(map[string]bool)
	for _, sentence := range splitSentences(text) {
		for _, rule := range extractRules {
			if !rule.pattern.MatchString(sentence) {
				continue
			}
			h := contentHash(rule.kind, sentence)
			if seen[h] {
				break
			}
			seen[h] = true
			out = append(out, Suggestion{
				Kind:       rule.kind,
				Title:      TitleFor(sentence),
				Content:    sentence,
				Confidence: x.booster.Boost(rule.kind, rule.confidence, text),
				Trigger:    trigger,
				Hash:       h,
			})
			break
		}
	}
	return out
}

func splitSentences(text string) []string {
	parts := regexp.MustCompile(`[.!?\n]+`).Split(text, -1)
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TitleFor clips a sentence to a stable identity-friendly title.
func TitleFor(sentence string) string {
	words := strings.Fields(sentence)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if len(title) > 60 {
		title = title[:60]
	}
	return strings.TrimRight(title, " ,:;-")
}

func contentHash(kind entry.Kind, content string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + norm))
	return hex.EncodeToString(sum[:8])
}
