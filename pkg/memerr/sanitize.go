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

package memerr

import (
	"regexp"
	"strings"
)

// Patterns redacted from user-visible messages when running in production
// mode. Paths and addresses leak deployment details; connection strings can
// leak credentials.
var (
	absPathPattern    = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[\w.~-]+){2,}`)
	ipPattern         = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	connStringPattern = regexp.MustCompile(`\b\w+://[^\s"']+`)
	stackFramePattern = regexp.MustCompile(`(?m)^\s*(?:goroutine \d+.*|[\w./]+\.\w+\(.*\)|\s+[\w/.-]+\.go:\d+.*)$`)
)

// Sanitizer rewrites error messages before they cross the boundary.
type Sanitizer struct {
	production bool
}

// NewSanitizer returns a sanitizer. In non-production mode messages pass
// through unchanged so local debugging keeps full detail.
func NewSanitizer(production bool) *Sanitizer {
	return &Sanitizer{production: production}
}

// Message returns the redacted form of msg.
func (s *Sanitizer) Message(msg string) string {
	if !s.production {
		return msg
	}
	msg = connStringPattern.ReplaceAllString(msg, "[redacted-url]")
	msg = absPathPattern.ReplaceAllString(msg, "[redacted-path]")
	msg = ipPattern.ReplaceAllString(msg, "[redacted-addr]")
	msg = stackFramePattern.ReplaceAllString(msg, "")
	return strings.TrimSpace(msg)
}

// Sanitize returns a copy of err safe for emission. Context values pass
// through untouched; only the message is rewritten.
func (s *Sanitizer) Sanitize(err *Error) *Error {
	if err == nil || !s.production {
		return err
	}
	out := &Error{Code: err.Code, Msg: s.Message(err.Msg), Context: err.Context}
	return out
}
