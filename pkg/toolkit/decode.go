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

package toolkit

import (
	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
)

// decode maps raw call params onto a typed parameter struct. Field names
// follow the json tags; numeric widening is allowed because JSON numbers
// arrive as float64.
func decode(params map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return memerr.Internal(err)
	}
	if err := dec.Decode(params); err != nil {
		return memerr.New(memerr.CodeValidation).
			Message("invalid parameters: %v", err).Build()
	}
	return nil
}

// scopeParams is the scope fragment shared by most tool families.
type scopeParams struct {
	Scope   string `json:"scope"`
	Inherit *bool  `json:"inherit"`
}

// resolveScope parses the scope parameter, defaulting to global.
func (p scopeParams) resolveScope() (scope.Scope, error) {
	if p.Scope == "" {
		return scope.GlobalScope, nil
	}
	sc, err := scope.Parse(p.Scope)
	if err != nil {
		return scope.Scope{}, memerr.New(memerr.CodeValidation).
			Message("%s", err).Field("scope").Build()
	}
	return sc, nil
}

func (p scopeParams) inherit() bool {
	if p.Inherit == nil {
		return true
	}
	return *p.Inherit
}

// requireString extracts a mandatory string parameter.
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", memerr.New(memerr.CodeValidation).
			Message("parameter %q is required", key).Field(key).Build()
	}
	return v, nil
}
