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

// Package capture implements the autonomous learning loop: trigger
// detection over conversation traffic, regex extraction, a bounded
// classification queue, and confidence-based routing into the
// repositories.
package capture

import (
	"strings"

	"github.com/kadirpekel/engram/pkg/session"
)

// TriggerType names a capture-worthy observation.
type TriggerType string

const (
	TriggerUserCorrection  TriggerType = "USER_CORRECTION"
	TriggerEnthusiasm      TriggerType = "ENTHUSIASM"
	TriggerErrorRecovery   TriggerType = "ERROR_RECOVERY"
	TriggerRepeatedRequest TriggerType = "REPEATED_REQUEST"
)

// Confidence is the coarse trigger confidence level.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func confidenceFor(score float64) Confidence {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// Trigger is one detection emitted by the detector.
type Trigger struct {
	Type             TriggerType `json:"type"`
	Confidence       Confidence  `json:"confidence"`
	Score            float64     `json:"score"`
	Reason           string      `json:"reason"`
	ExtractedContent string      `json:"extractedContent"`
}

// WindowMessage is one message in the detector's sliding window, carrying
// the tool-outcome flags the conversation recorder annotates.
type WindowMessage struct {
	Role        session.Role
	Content     string
	HasError    bool
	ToolSuccess bool
}

// TriggerDetector is a stateless analyzer over a sliding window of recent
// messages. The newest message is the last element of the window.
type TriggerDetector struct {
	// MinScore drops detections scoring below it.
	MinScore float64
	// RepeatThreshold and RepeatCount control REPEATED_REQUEST: the new
	// message must exceed the similarity threshold against at least
	// RepeatCount prior user messages.
	RepeatThreshold float64
	RepeatCount     int
}

func NewTriggerDetector(minScore float64) *TriggerDetector {
	return &TriggerDetector{MinScore: minScore, RepeatThreshold: 0.6, RepeatCount: 2}
}

var correctionPhrases = []string{
	"no,", "no.", "actually", "i meant", "that's wrong", "that is wrong",
	"wrong", "not what i", "instead", "don't do that", "stop doing",
}

var enthusiasmPhrases = []string{
	"perfect", "great", "excellent", "awesome", "love it", "exactly",
	"that's it", "nice", "brilliant", "works perfectly",
}

var successPhrases = []string{
	"that worked", "it works", "fixed", "works now", "solved", "passing now",
}

// negationLookback is how far before a positive phrase a negation
// suppresses an enthusiasm detection.
const negationLookback = 30

var negations = []string{"not ", "n't ", "never ", "no "}

// Detect analyzes the window and returns every trigger that clears the
// minimum score. Returns nil for an isolated user message with no prior
// assistant turn.
func (d *TriggerDetector) Detect(window []WindowMessage) []Trigger {
	if len(window) == 0 {
		return nil
	}
	last := window[len(window)-1]
	if last.Role != session.RoleUser && !last.ToolSuccess && !containsAny(strings.ToLower(last.Content), successPhrases) {
		return nil
	}

	var out []Trigger
	add := func(t Trigger) {
		if t.Score >= d.MinScore {
			t.Confidence = confidenceFor(t.Score)
			out = append(out, t)
		}
	}

	if t, ok := d.detectCorrection(window); ok {
		add(t)
	}
	if t, ok := d.detectEnthusiasm(last); ok {
		add(t)
	}
	if t, ok := d.detectErrorRecovery(window); ok {
		add(t)
	}
	if t, ok := d.detectRepeatedRequest(window); ok {
		add(t)
	}
	return out
}

// detectCorrection requires an assistant turn directly before the user
// message containing a correction phrase.
func (d *TriggerDetector) detectCorrection(window []WindowMessage) (Trigger, bool) {
	last := window[len(window)-1]
	if last.Role != session.RoleUser || len(window) < 2 {
		return Trigger{}, false
	}
	prev := window[len(window)-2]
	if prev.Role != session.RoleAssistant {
		return Trigger{}, false
	}

	lower := strings.ToLower(last.Content)
	for _, phrase := range correctionPhrases {
		if strings.Contains(lower, phrase) {
			score := 0.7
			if strings.HasPrefix(lower, phrase) {
				score = 0.85
			}
			return Trigger{
				Type:             TriggerUserCorrection,
				Score:            score,
				Reason:           "correction phrase " + strings.TrimRight(phrase, ",. "),
				ExtractedContent: last.Content,
			}, true
		}
	}
	return Trigger{}, false
}

// detectEnthusiasm scores positive phrases, boosted by exclamations and
// end-of-message position, suppressed by question marks or a negation
// within the look-back distance.
func (d *TriggerDetector) detectEnthusiasm(last WindowMessage) (Trigger, bool) {
	if last.Role != session.RoleUser {
		return Trigger{}, false
	}
	lower := strings.ToLower(last.Content)
	if strings.Contains(lower, "?") {
		return Trigger{}, false
	}

	for _, phrase := range enthusiasmPhrases {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		if negatedBefore(lower, idx) {
			continue
		}

		score := 0.55
		score += 0.1 * float64(min(strings.Count(last.Content, "!"), 3))
		// Phrase in the trailing quarter of the message reads as a
		// verdict rather than an aside.
		if idx >= len(lower)*3/4 {
			score += 0.1
		}
		if score > 1 {
			score = 1
		}
		return Trigger{
			Type:             TriggerEnthusiasm,
			Score:            score,
			Reason:           "positive phrase " + phrase,
			ExtractedContent: last.Content,
		}, true
	}
	return Trigger{}, false
}

func negatedBefore(lower string, idx int) bool {
	start := idx - negationLookback
	if start < 0 {
		start = 0
	}
	segment := lower[start:idx]
	for _, n := range negations {
		if strings.Contains(segment, n) {
			return true
		}
	}
	return false
}

// detectErrorRecovery fires when a prior message carries an error and the
// newest one signals success, either by tool flag or verbally.
func (d *TriggerDetector) detectErrorRecovery(window []WindowMessage) (Trigger, bool) {
	last := window[len(window)-1]
	success := last.ToolSuccess || containsAny(strings.ToLower(last.Content), successPhrases)
	if !success {
		return Trigger{}, false
	}
	for i := len(window) - 2; i >= 0; i-- {
		if window[i].HasError {
			score := 0.75
			if last.ToolSuccess {
				score = 0.85
			}
			return Trigger{
				Type:             TriggerErrorRecovery,
				Score:            score,
				Reason:           "recovery after error",
				ExtractedContent: last.Content,
			}, true
		}
	}
	return Trigger{}, false
}

// detectRepeatedRequest compares the new user message against prior user
// messages with token-set similarity.
func (d *TriggerDetector) detectRepeatedRequest(window []WindowMessage) (Trigger, bool) {
	last := window[len(window)-1]
	if last.Role != session.RoleUser {
		return Trigger{}, false
	}

	matches := 0
	for _, m := range window[:len(window)-1] {
		if m.Role != session.RoleUser {
			continue
		}
		if tokenSimilarity(last.Content, m.Content) >= d.RepeatThreshold {
			matches++
		}
	}
	if matches < d.RepeatCount {
		return Trigger{}, false
	}
	return Trigger{
		Type:             TriggerRepeatedRequest,
		Score:            0.7,
		Reason:           "request repeated across the session",
		ExtractedContent: last.Content,
	}, true
}

// tokenSimilarity is the Jaccard index over lowercased word sets.
func tokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(w, ".,!?:;\"'")] = true
	}
	delete(out, "")
	return out
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
