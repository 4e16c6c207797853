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
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBuilder(t *testing.T) {
	err := New(CodeInvalidAction).
		Message("unknown action %q", "frobnicate").
		With("providedAction", "frobnicate").
		ValidActions([]string{"add", "list"}).
		Build()

	if err.Code != CodeInvalidAction {
		t.Errorf("Code = %v, want %v", err.Code, CodeInvalidAction)
	}
	if err.Context["providedAction"] != "frobnicate" {
		t.Errorf("missing providedAction context")
	}
	actions, ok := err.Context["validActions"].([]string)
	if !ok || len(actions) != 2 {
		t.Errorf("validActions = %v", err.Context["validActions"])
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"direct", NotFound("tool", "t-1"), CodeNotFound},
		{"wrapped", fmt.Errorf("outer: %w", Conflict("clash")), CodeConflict},
		{"plain", errors.New("boom"), CodeUnknown},
		{"nil-context builder", Validation("missing name"), CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(Validation("bad")) {
		t.Error("validation errors must never be retried")
	}
	if !Retryable(New(CodeTimeout).Message("deadline").Build()) {
		t.Error("timeouts are retryable")
	}
	if !Retryable(New(CodeServiceUnavailable).Message("down").Build()) {
		t.Error("service unavailable is retryable")
	}
	if Retryable(New(CodeCircuitBreakerOpen).Message("open").Build()) {
		t.Error("circuit-open bypasses retry")
	}
}

func TestSanitizer(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		in         string
		mustHide   []string
	}{
		{
			name:       "production hides paths",
			production: true,
			in:         "open /var/lib/engram/memory.db: permission denied",
			mustHide:   []string{"/var/lib/engram"},
		},
		{
			name:       "production hides connection strings",
			production: true,
			in:         "dial postgres://user:pw@db.internal:5432/mem failed",
			mustHide:   []string{"user:pw"},
		},
		{
			name:       "production hides addresses",
			production: true,
			in:         "connect 10.0.12.3:6333: refused",
			mustHide:   []string{"10.0.12.3"},
		},
		{
			name:       "development passes through",
			production: false,
			in:         "open /var/lib/engram/memory.db failed",
			mustHide:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSanitizer(tt.production)
			got := s.Message(tt.in)
			for _, h := range tt.mustHide {
				if strings.Contains(got, h) {
					t.Errorf("Message() = %q still contains %q", got, h)
				}
			}
			if tt.mustHide == nil && got != tt.in {
				t.Errorf("Message() = %q, want unchanged", got)
			}
		})
	}
}
