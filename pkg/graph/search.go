// Copyright 2025 The repograph Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dgraph "github.com/dominikbraun/graph"
)

// Subgraph is a self-contained slice of the graph: every edge's endpoints
// are present in Nodes.
type Subgraph struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	IsPartial bool   `json:"is_partial"`
}

// NodeDetail is one node together with everything touching it.
type NodeDetail struct {
	Node     Node   `json:"node"`
	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`
}

// Query reads the graph for interactive exploration. It never mutates.
type Query struct {
	store Store
}

// NewQuery wraps a store for read access.
func NewQuery(store Store) *Query {
	return &Query{store: store}
}

// InitialSubgraph returns a repository's entry view: the Repository node,
// its files up to maxFiles, and the edges among the included nodes. When the
// file list is truncated IsPartial is set so callers know to drill in rather
// than treat the result as the whole repository.
func (q *Query) InitialSubgraph(ctx context.Context, repo string, maxFiles int) (*Subgraph, error) {
	repoRef := NodeRef{Label: LabelRepository, Key: repo}
	repoNode, err := q.store.GetNode(ctx, LabelRepository, repo)
	if err != nil {
		return nil, fmt.Errorf("load repository %s: %w", repo, err)
	}
	if repoNode == nil {
		return nil, fmt.Errorf("repository %s not found", repo)
	}

	contains, err := q.store.EdgesFrom(ctx, repoRef, EdgeContains)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", repo, err)
	}
	sort.Slice(contains, func(i, j int) bool { return contains[i].To.Key < contains[j].To.Key })

	sub := &Subgraph{Nodes: []Node{*repoNode}}
	if maxFiles > 0 && len(contains) > maxFiles {
		contains = contains[:maxFiles]
		sub.IsPartial = true
	}

	for _, e := range contains {
		n, err := q.store.GetNode(ctx, e.To.Label, e.To.Key)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		sub.Nodes = append(sub.Nodes, *n)
		sub.Edges = append(sub.Edges, e)
	}
	return sub, nil
}

// NodeInfo returns one node with its full edge fan-in and fan-out.
func (q *Query) NodeInfo(ctx context.Context, ref NodeRef) (*NodeDetail, error) {
	n, err := q.store.GetNode(ctx, ref.Label, ref.Key)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("node %s %s not found", ref.Label, ref.Key)
	}
	out, err := q.store.EdgesFrom(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	in, err := q.store.EdgesTo(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	return &NodeDetail{Node: *n, Outgoing: out, Incoming: in}, nil
}

// Search finds nodes whose key contains the query substring, case
// insensitively. label narrows the search when non-empty.
func (q *Query) Search(ctx context.Context, label Label, query string, limit int) ([]Node, error) {
	if limit <= 0 {
		limit = 50
	}
	if label != "" {
		return q.store.FindNodes(ctx, label, query, limit)
	}

	var results []Node
	for _, l := range []Label{LabelRepository, LabelFile, LabelModule, LabelClass, LabelFunction, LabelVariable, LabelExport} {
		if len(results) >= limit {
			break
		}
		found, err := q.store.FindNodes(ctx, l, query, limit-len(results))
		if err != nil {
			return nil, err
		}
		results = append(results, found...)
	}
	return results, nil
}

// Neighborhood expands around a node by breadth-first traversal up to depth
// hops, following edges in both directions so callers and callees are both
// reachable. The returned subgraph includes every edge whose endpoints were
// both visited.
func (q *Query) Neighborhood(ctx context.Context, start NodeRef, depth int) (*Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}
	startNode, err := q.store.GetNode(ctx, start.Label, start.Key)
	if err != nil {
		return nil, err
	}
	if startNode == nil {
		return nil, fmt.Errorf("node %s %s not found", start.Label, start.Key)
	}

	edges, err := q.store.AllEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	g := dgraph.New(dgraph.StringHash, dgraph.Directed())
	for _, e := range edges {
		_ = g.AddVertex(hashRef(e.From))
		_ = g.AddVertex(hashRef(e.To))
		// Both directions so BFS reaches predecessors too.
		_ = g.AddEdge(hashRef(e.From), hashRef(e.To))
		_ = g.AddEdge(hashRef(e.To), hashRef(e.From))
	}
	_ = g.AddVertex(hashRef(start))

	visited := map[string]struct{}{}
	err = dgraph.BFSWithDepth(g, hashRef(start), func(hash string, d int) bool {
		if d > depth {
			return true
		}
		visited[hash] = struct{}{}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("traverse from %s %s: %w", start.Label, start.Key, err)
	}

	sub := &Subgraph{}
	hashes := make([]string, 0, len(visited))
	for h := range visited {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		ref, ok := unhashRef(h)
		if !ok {
			continue
		}
		n, err := q.store.GetNode(ctx, ref.Label, ref.Key)
		if err != nil {
			return nil, err
		}
		if n != nil {
			sub.Nodes = append(sub.Nodes, *n)
		}
	}
	for _, e := range edges {
		if _, a := visited[hashRef(e.From)]; !a {
			continue
		}
		if _, b := visited[hashRef(e.To)]; !b {
			continue
		}
		sub.Edges = append(sub.Edges, e)
	}
	return sub, nil
}

// hashRef flattens a node reference for traversal. Labels never contain the
// separator, so the mapping is reversible.
func hashRef(ref NodeRef) string {
	return string(ref.Label) + "\x1f" + ref.Key
}

func unhashRef(hash string) (NodeRef, bool) {
	label, key, ok := strings.Cut(hash, "\x1f")
	if !ok {
		return NodeRef{}, false
	}
	return NodeRef{Label: Label(label), Key: key}, true
}
