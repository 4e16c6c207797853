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

import "strings"

// sanitizeInput strips prompt-injection attempts from user queries before
// they are embedded into rewrite prompts. Queries flow into LLM prompts
// verbatim, so role prefixes, instruction overrides, and delimiter attacks
// are removed first.
func sanitizeInput(input string) string {
	sanitized := input

	rolePrefixes := []string{
		"SYSTEM:", "System:", "system:",
		"USER:", "User:", "user:",
		"ASSISTANT:", "Assistant:", "assistant:",
	}
	for _, prefix := range rolePrefixes {
		sanitized = strings.ReplaceAll(sanitized, prefix, "")
	}

	overrides := []string{
		"ignore previous instructions",
		"ignore all previous instructions",
		"disregard previous instructions",
		"forget previous instructions",
		"new instructions:",
		"override:",
	}
	lower := strings.ToLower(sanitized)
	for _, phrase := range overrides {
		for {
			idx := strings.Index(lower, phrase)
			if idx < 0 {
				break
			}
			sanitized = sanitized[:idx] + sanitized[idx+len(phrase):]
			lower = strings.ToLower(sanitized)
		}
	}

	delimiters := []string{"---", "===", "***", "```"}
	for _, delim := range delimiters {
		sanitized = strings.ReplaceAll(sanitized, delim, "")
	}

	return strings.TrimSpace(sanitized)
}
