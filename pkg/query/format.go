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
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/engram/pkg/entry"
)

// Response formats accepted by Request.Format.
const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// CountTokens measures text against the cl100k_base encoding. When the
// encoding cannot be loaded (offline environments) it falls back to the
// chars/4 approximation so budgeting still works, just coarser.
func CountTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})
	if tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(tokenizer.Encode(text, nil, nil))
}

// FormatMarkdown renders results as a markdown digest for prompt
// injection, stopping before the token budget is exceeded. A budget of 0
// means unlimited. At least one result is always included so a single
// oversized entry cannot blank the digest.
func FormatMarkdown(results []Result, tokenBudget int) string {
	var b strings.Builder
	used := 0
	for i, r := range results {
		block := formatEntry(r.Entry)
		cost := CountTokens(block)
		if tokenBudget > 0 && i > 0 && used+cost > tokenBudget {
			break
		}
		b.WriteString(block)
		b.WriteString("\n")
		used += cost
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatEntry(e *entry.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### [%s] %s\n", e.Kind, e.Name)
	switch e.Kind {
	case entry.KindTool:
		b.WriteString(e.Content.Description)
	case entry.KindGuideline:
		if e.Priority > 0 {
			fmt.Fprintf(&b, "Priority %d. ", e.Priority)
		}
		b.WriteString(e.Content.Body)
	case entry.KindKnowledge:
		b.WriteString(e.Content.Body)
		if e.Content.Source != "" {
			fmt.Fprintf(&b, "\nSource: %s", e.Content.Source)
		}
	case entry.KindExperience:
		if e.Content.Scenario != "" {
			fmt.Fprintf(&b, "Scenario: %s\n", e.Content.Scenario)
		}
		if e.Content.Outcome != "" {
			fmt.Fprintf(&b, "Outcome: %s", e.Content.Outcome)
		}
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(e.Tags, ", "))
	}
	b.WriteString("\n")
	return b.String()
}
