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
	"context"

	"github.com/kadirpekel/engram/pkg/graph"
	"github.com/kadirpekel/engram/pkg/memerr"
)

type nodeParams struct {
	scopeParams

	ID         string         `json:"id"`
	Label      *string        `json:"label"`
	Kind       string         `json:"kind"`
	Properties map[string]any `json:"properties"`
	Limit      int            `json:"limit"`
}

type edgeParams struct {
	scopeParams

	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	NodeID     string         `json:"nodeId"`
}

func registerGraphTools(reg *Registry, deps Deps) error {
	if err := reg.Register(&Tool{
		Name:        "graph_node",
		Description: "Manage knowledge-graph nodes",
		Actions: []Action{
			{Name: "add", Description: "Create a node", Params: nodeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p nodeParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				sc, err := p.resolveScope()
				if err != nil {
					return nil, err
				}
				label := ""
				if p.Label != nil {
					label = *p.Label
				}
				return deps.Graph.CreateNode(ctx, &graph.Node{
					Scope:      sc,
					Label:      label,
					Kind:       p.Kind,
					Properties: p.Properties,
				})
			}},
			{Name: "get", Description: "Fetch a node with its neighbors", Params: nodeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				node, err := deps.Graph.GetNode(ctx, id)
				if err != nil {
					return nil, err
				}
				neighbors, err := deps.Graph.Neighbors(ctx, id)
				if err != nil {
					return nil, err
				}
				return map[string]any{"node": node, "neighbors": neighbors}, nil
			}},
			{Name: "list", Description: "List nodes in a scope", Params: nodeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p nodeParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				sc, err := p.resolveScope()
				if err != nil {
					return nil, err
				}
				nodes, err := deps.Graph.ListNodes(ctx, sc, p.Kind, p.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"nodes": nodes, "count": len(nodes)}, nil
			}},
			{Name: "update", Description: "Update a node's label or properties", Params: nodeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p nodeParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				if p.ID == "" {
					return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "id").Field("id").Build()
				}
				return deps.Graph.UpdateNode(ctx, p.ID, p.Label, p.Properties)
			}},
			{Name: "delete", Description: "Delete a node and its edges", Params: nodeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				if err := deps.Graph.DeleteNode(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "deleted": true}, nil
			}},
		},
	}); err != nil {
		return err
	}

	return reg.Register(&Tool{
		Name:        "graph_edge",
		Description: "Manage knowledge-graph edges",
		Actions: []Action{
			{Name: "add", Description: "Connect two nodes", Params: edgeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p edgeParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				sc, err := p.resolveScope()
				if err != nil {
					return nil, err
				}
				return deps.Graph.CreateEdge(ctx, &graph.Edge{
					Scope:      sc,
					From:       p.From,
					To:         p.To,
					Type:       p.Type,
					Properties: p.Properties,
				})
			}},
			{Name: "list", Description: "List edges touching a node", Params: edgeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				var p edgeParams
				if err := decode(params, &p); err != nil {
					return nil, err
				}
				if p.NodeID == "" {
					return nil, memerr.New(memerr.CodeValidation).Message("parameter %q is required", "nodeId").Field("nodeId").Build()
				}
				edges, err := deps.Graph.Edges(ctx, p.NodeID, p.Type)
				if err != nil {
					return nil, err
				}
				return map[string]any{"edges": edges, "count": len(edges)}, nil
			}},
			{Name: "delete", Description: "Remove an edge", Params: edgeParams{}, Handler: func(ctx context.Context, params map[string]any) (any, error) {
				id, err := requireString(params, "id")
				if err != nil {
					return nil, err
				}
				if err := deps.Graph.DeleteEdge(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "deleted": true}, nil
			}},
		},
	})
}
