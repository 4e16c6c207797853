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
	"github.com/invopop/jsonschema"
)

// ParamSchema reflects a tool's parameter struct into a JSON schema for
// the OpenAPI document. Action-based tools get one schema per action,
// keyed by action name; simple tools get a single entry under "".
func ParamSchema(t *Tool) map[string]*jsonschema.Schema {
	out := map[string]*jsonschema.Schema{}
	if !t.HasActions() {
		out[""] = reflectParams(t.Params)
		return out
	}
	for _, a := range t.Actions {
		out[a.Name] = reflectParams(a.Params)
	}
	return out
}

func reflectParams(prototype any) *jsonschema.Schema {
	if prototype == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	r := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	return r.Reflect(prototype)
}
