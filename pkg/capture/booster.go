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
	"regexp"
	"sort"

	"github.com/kadirpekel/engram/pkg/entry"
)

// signalPattern is one catalog entry: a textual signal that raises
// confidence for the kinds it applies to, capped at maxConfidence.
type signalPattern struct {
	name          string
	pattern       *regexp.Regexp
	appliesTo     []entry.Kind
	boost         float64
	maxConfidence float64
}

var signalCatalog = []signalPattern{
	{
		name:          "decision-explicit",
		pattern:       regexp.MustCompile(`(?i)\b(we decided|decision:|we chose|we're going with)\b`),
		appliesTo:     []entry.Kind{entry.KindGuideline, entry.KindKnowledge},
		boost:         0.15,
		maxConfidence: 0.95,
	},
	{
		name:          "rule-imperative",
		pattern:       regexp.MustCompile(`(?i)^\s*(always|never|must)\b`),
		appliesTo:     []entry.Kind{entry.KindGuideline},
		boost:         0.1,
		maxConfidence: 0.98,
	},
	{
		name:          "comparison-performance",
		pattern:       regexp.MustCompile(`(?i)\b(faster|slower|cheaper|outperforms|benchmark)\b`),
		appliesTo:     []entry.Kind{entry.KindKnowledge, entry.KindExperience},
		boost:         0.1,
		maxConfidence: 0.9,
	},
	{
		name:          "preference-with-reason",
		pattern:       regexp.MustCompile(`(?i)\b(prefer|instead of|rather than)\b.*\b(because|since)\b`),
		appliesTo:     []entry.Kind{entry.KindGuideline, entry.KindKnowledge},
		boost:         0.12,
		maxConfidence: 0.95,
	},
	{
		name:          "evidence-tests",
		pattern:       regexp.MustCompile(`(?i)\b(tests? pass|verified|confirmed|reproduced)\b`),
		appliesTo:     []entry.Kind{entry.KindExperience, entry.KindKnowledge},
		boost:         0.1,
		maxConfidence: 0.92,
	},
	{
		name:          "version-specific",
		pattern:       regexp.MustCompile(`\bv?\d+\.\d+(\.\d+)?\b`),
		appliesTo:     []entry.Kind{entry.KindKnowledge, entry.KindTool},
		boost:         0.05,
		maxConfidence: 0.9,
	},
}

// diminishFactor scales the i-th strongest boost by diminishFactor^(i-1)
// so stacked weak signals cannot outweigh one strong one.
const diminishFactor = 0.6

// Booster adjusts extraction confidence from signal patterns in the
// source text.
type Booster struct {
	catalog []signalPattern
}

func NewBooster() *Booster {
	return &Booster{catalog: signalCatalog}
}

// Boost returns the adjusted confidence for a suggestion of the given
// kind extracted from text.
func (b *Booster) Boost(kind entry.Kind, confidence float64, text string) float64 {
	var boosts []float64
	maxCap := 1.0
	for _, sig := range b.catalog {
		if !appliesTo(sig.appliesTo, kind) || !sig.pattern.MatchString(text) {
			continue
		}
		boosts = append(boosts, sig.boost)
		if sig.maxConfidence < maxCap {
			maxCap = sig.maxConfidence
		}
	}
	if len(boosts) == 0 {
		return confidence
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(boosts)))
	factor := 1.0
	adjusted := confidence
	for _, bst := range boosts {
		adjusted += bst * factor
		factor *= diminishFactor
	}
	if adjusted > maxCap {
		adjusted = maxCap
	}
	return adjusted
}

func appliesTo(kinds []entry.Kind, k entry.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
