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

// Package graph stores free-form knowledge-graph nodes and edges. Unlike
// entry relations, which link versioned entries, graph elements are
// scoped records of their own and may describe anything an agent wants
// to connect.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/engram/pkg/memerr"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/storage"
)

// Node is one graph vertex.
type Node struct {
	ID         string         `json:"id"`
	Scope      scope.Scope    `json:"scope"`
	Label      string         `json:"label"`
	Kind       string         `json:"kind,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Edge is a directed typed connection between two nodes. Edges carry
// their own scope independent of their endpoints.
type Edge struct {
	ID         string         `json:"id"`
	Scope      scope.Scope    `json:"scope"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Graph persists nodes and edges.
type Graph struct {
	store *storage.Store
}

func New(store *storage.Store) *Graph {
	return &Graph{store: store}
}

// CreateNode inserts a vertex.
func (g *Graph) CreateNode(ctx context.Context, n *Node) (*Node, error) {
	if strings.TrimSpace(n.Label) == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("node label is required").Field("label").Build()
	}
	if err := n.Scope.Validate(); err != nil {
		return nil, memerr.New(memerr.CodeValidation).Message("%s", err).Field("scope").Build()
	}

	now := time.Now().UTC()
	n.ID = uuid.NewString()
	n.CreatedAt = now
	n.UpdatedAt = now
	props, err := marshalProps(n.Properties)
	if err != nil {
		return nil, err
	}

	err = g.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO graph_nodes (id, scope_type, scope_id, label, node_kind, properties, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, string(n.Scope.Type), nullable(n.Scope.ID), n.Label, n.Kind, props, now, now)
		if err != nil {
			return memerr.Database("insert graph node", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetNode returns a vertex by id.
func (g *Graph) GetNode(ctx context.Context, id string) (*Node, error) {
	row := g.store.DB().QueryRowContext(ctx, `
SELECT id, scope_type, ifnull(scope_id,''), label, node_kind, properties, created_at, updated_at
FROM graph_nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, memerr.NotFound("graph node", id)
	}
	if err != nil {
		return nil, memerr.Database("get graph node", err)
	}
	return n, nil
}

// ListNodes returns vertices in a scope, optionally filtered by kind.
func (g *Graph) ListNodes(ctx context.Context, sc scope.Scope, kind string, limit int) ([]*Node, error) {
	q := `
SELECT id, scope_type, ifnull(scope_id,''), label, node_kind, properties, created_at, updated_at
FROM graph_nodes WHERE scope_type = ? AND ifnull(scope_id,'') = ?`
	args := []any{string(sc.Type), sc.ID}
	if kind != "" {
		q += " AND node_kind = ?"
		args = append(args, kind)
	}
	q += " ORDER BY created_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := g.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list graph nodes", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, memerr.Database("scan graph node", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNode rewrites label and properties.
func (g *Graph) UpdateNode(ctx context.Context, id string, label *string, properties map[string]any) (*Node, error) {
	n, err := g.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if label != nil {
		if strings.TrimSpace(*label) == "" {
			return nil, memerr.New(memerr.CodeValidation).Message("node label is required").Field("label").Build()
		}
		n.Label = *label
	}
	if properties != nil {
		n.Properties = properties
	}
	n.UpdatedAt = time.Now().UTC()

	props, err := marshalProps(n.Properties)
	if err != nil {
		return nil, err
	}
	err = g.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE graph_nodes SET label = ?, properties = ?, updated_at = ? WHERE id = ?",
			n.Label, props, n.UpdatedAt, n.ID)
		if err != nil {
			return memerr.Database("update graph node", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNode removes a vertex; attached edges cascade.
func (g *Graph) DeleteNode(ctx context.Context, id string) error {
	return g.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM graph_nodes WHERE id = ?", id)
		if err != nil {
			return memerr.Database("delete graph node", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("graph node", id)
		}
		return nil
	})
}

// CreateEdge inserts a connection. Both endpoints must exist; duplicate
// (from, to, type) triples conflict.
func (g *Graph) CreateEdge(ctx context.Context, e *Edge) (*Edge, error) {
	if e.From == "" || e.To == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("edge endpoints are required").Field("from").Build()
	}
	if e.Type == "" {
		return nil, memerr.New(memerr.CodeValidation).Message("edge type is required").Field("type").Build()
	}
	if err := e.Scope.Validate(); err != nil {
		return nil, memerr.New(memerr.CodeValidation).Message("%s", err).Field("scope").Build()
	}
	for _, id := range []string{e.From, e.To} {
		if _, err := g.GetNode(ctx, id); err != nil {
			return nil, err
		}
	}

	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	props, err := marshalProps(e.Properties)
	if err != nil {
		return nil, err
	}

	err = g.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO graph_edges (id, scope_type, scope_id, from_node, to_node, edge_type, properties, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, string(e.Scope.Type), nullable(e.Scope.ID), e.From, e.To, e.Type, props, e.CreatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return memerr.Conflict("edge %s -[%s]-> %s already exists", e.From, e.Type, e.To)
			}
			return memerr.Database("insert graph edge", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Edges returns connections touching a node, in both directions.
func (g *Graph) Edges(ctx context.Context, nodeID string, edgeType string) ([]*Edge, error) {
	q := `
SELECT id, scope_type, ifnull(scope_id,''), from_node, to_node, edge_type, properties, created_at
FROM graph_edges WHERE (from_node = ? OR to_node = ?)`
	args := []any{nodeID, nodeID}
	if edgeType != "" {
		q += " AND edge_type = ?"
		args = append(args, edgeType)
	}
	q += " ORDER BY created_at DESC"

	rows, err := g.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerr.Database("list graph edges", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, memerr.Database("scan graph edge", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEdge removes one connection.
func (g *Graph) DeleteEdge(ctx context.Context, id string) error {
	return g.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM graph_edges WHERE id = ?", id)
		if err != nil {
			return memerr.Database("delete graph edge", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return memerr.NotFound("graph edge", id)
		}
		return nil
	})
}

// Neighbors returns the nodes directly connected to nodeID.
func (g *Graph) Neighbors(ctx context.Context, nodeID string) ([]*Node, error) {
	edges, err := g.Edges(ctx, nodeID, "")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{nodeID: true}
	var out []*Node
	for _, e := range edges {
		for _, id := range []string{e.From, e.To} {
			if seen[id] {
				continue
			}
			seen[id] = true
			n, err := g.GetNode(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	var n Node
	var scopeType, props string
	if err := row.Scan(&n.ID, &scopeType, &n.Scope.ID, &n.Label, &n.Kind,
		&props, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Scope.Type = scope.Type(scopeType)
	if props != "" {
		_ = json.Unmarshal([]byte(props), &n.Properties)
	}
	return &n, nil
}

func scanEdge(row interface{ Scan(...any) error }) (*Edge, error) {
	var e Edge
	var scopeType, props string
	if err := row.Scan(&e.ID, &scopeType, &e.Scope.ID, &e.From, &e.To, &e.Type,
		&props, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Scope.Type = scope.Type(scopeType)
	if props != "" {
		_ = json.Unmarshal([]byte(props), &e.Properties)
	}
	return &e, nil
}

func marshalProps(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", memerr.Internal(err)
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
