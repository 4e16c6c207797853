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

// Package toolkit is the RPC tool surface. Tools are values in a registry,
// not types: registering a new tool is a data change. Action-based tools
// dispatch on a required "action" parameter; simple tools ignore it.
package toolkit

import (
	"context"
	"sort"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/registry"
)

// HandlerFunc executes one tool call. The returned value is serialized
// into the success envelope as-is.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Action is one operation of an action-based tool.
type Action struct {
	Name        string
	Description string
	Params      any // prototype struct for schema generation, may be nil
	Handler     HandlerFunc
}

// Tool is a registered capability. Either Handler (simple tool) or
// Actions (action-based tool) is set, never both.
type Tool struct {
	Name        string
	Description string
	Params      any // prototype for simple tools
	Handler     HandlerFunc
	Actions     []Action
}

// HasActions reports whether the tool dispatches on an action parameter.
func (t *Tool) HasActions() bool { return len(t.Actions) > 0 }

// ActionNames returns the accepted actions in sorted order.
func (t *Tool) ActionNames() []string {
	names := make([]string, len(t.Actions))
	for i, a := range t.Actions {
		names[i] = a.Name
	}
	sort.Strings(names)
	return names
}

func (t *Tool) action(name string) (Action, bool) {
	for _, a := range t.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// Descriptor is the list() projection of a tool.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	HasActions  bool     `json:"hasActions"`
	Actions     []string `json:"actions,omitempty"`
}

// Registry holds the tool set behind the dispatcher.
type Registry struct {
	base *registry.BaseRegistry[*Tool]
}

func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[*Tool]()}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t *Tool) error {
	return r.base.Register(t.Name, t)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	return r.base.Get(name)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int { return r.base.Count() }

// Descriptors returns all tools in name order.
func (r *Registry) Descriptors() []Descriptor {
	tools := r.base.List()
	out := make([]Descriptor, len(tools))
	for i, t := range tools {
		out[i] = Descriptor{
			Name:        t.Name,
			Description: t.Description,
			HasActions:  t.HasActions(),
		}
		if t.HasActions() {
			out[i].Actions = t.ActionNames()
		}
	}
	return out
}

// Dispatcher routes execute calls to registered tools.
type Dispatcher struct {
	reg *Registry
}

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Execute runs a tool call. Simple tools ignore any action parameter;
// action-based tools validate it before dispatch.
func (d *Dispatcher) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	tool, ok := d.reg.Get(name)
	if !ok {
		return nil, memerr.NotFound("tool", name)
	}
	if params == nil {
		params = map[string]any{}
	}

	if !tool.HasActions() {
		return tool.Handler(ctx, params)
	}

	raw, present := params["action"]
	if !present {
		return nil, memerr.New(memerr.CodeMissingAction).
			Message("tool %s requires an action", name).
			ValidActions(tool.ActionNames()).Build()
	}
	actionName, ok := raw.(string)
	if !ok {
		return nil, memerr.New(memerr.CodeInvalidActionType).
			Message("action must be a string").
			ValidActions(tool.ActionNames()).Build()
	}
	action, ok := tool.action(actionName)
	if !ok {
		return nil, memerr.New(memerr.CodeInvalidAction).
			Message("unknown action %q for tool %s", actionName, name).
			With("providedAction", actionName).
			ValidActions(tool.ActionNames()).Build()
	}
	return action.Handler(ctx, params)
}
