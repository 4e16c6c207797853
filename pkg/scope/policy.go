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

package scope

import (
	"fmt"

	"github.com/kadirpekel/engram/pkg/memerr"
)

// PolicyMode is the process-wide write policy.
type PolicyMode string

const (
	// Permissive allows any credential to write at any scope.
	Permissive PolicyMode = "permissive"
	// Standard allows standard credentials to write at project scope and
	// narrower; global and organization writes require admin.
	Standard PolicyMode = "standard"
	// Strict requires admin credentials for all writes.
	Strict PolicyMode = "strict"
)

func ParsePolicyMode(s string) (PolicyMode, error) {
	switch PolicyMode(s) {
	case Permissive, Standard, Strict:
		return PolicyMode(s), nil
	case "":
		return Standard, nil
	default:
		return "", fmt.Errorf("invalid permissions mode %q (valid: permissive, standard, strict)", s)
	}
}

// Policy gates writes and destructive operations by scope.
type Policy struct {
	Mode PolicyMode
}

// CheckWrite returns PERMISSION_DENIED when the mode forbids a write at the
// given scope for a non-admin caller.
func (p Policy) CheckWrite(s Scope, admin bool) error {
	if admin {
		return nil
	}
	switch p.Mode {
	case Permissive:
		return nil
	case Strict:
		return memerr.New(memerr.CodePermissionDenied).
			Message("writes require admin credentials in strict mode").
			With("scope", s.String()).
			Suggestion("authenticate with the admin key or relax the permissions mode").
			Build()
	default: // Standard
		if s.Type == Global || s.Type == Organization {
			return memerr.New(memerr.CodePermissionDenied).
				Message("%s-scope writes require admin credentials", s.Type).
				With("scope", s.String()).
				Build()
		}
		return nil
	}
}

// CheckDestructive gates deactivations, purges, and project creation.
// Only permissive mode lets non-admin callers through.
func (p Policy) CheckDestructive(s Scope, admin bool) error {
	if admin || p.Mode == Permissive {
		return nil
	}
	return memerr.New(memerr.CodePermissionDenied).
		Message("destructive operations require admin credentials").
		With("scope", s.String()).
		Build()
}
