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
	"log/slog"
)

// DeleteStats summarizes one repository deletion.
type DeleteStats struct {
	Files    int `json:"files"`
	Entities int `json:"entities"`
	Shared   int `json:"shared"`
}

// DeleteRepository removes a repository's subgraph: its Files, the entities
// declared or exported exclusively by those files, and the Repository node
// itself, detaching every edge touching a deleted node.
//
// Nodes reachable from files outside the repository survive, as do Module
// nodes and forward-reference Function nodes, which carry no ownership edges
// and may be shared across repositories.
func DeleteRepository(ctx context.Context, store Store, repo string, logger *slog.Logger) (*DeleteStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	repoRef := NodeRef{Label: LabelRepository, Key: repo}

	contains, err := store.EdgesFrom(ctx, repoRef, EdgeContains)
	if err != nil {
		return nil, fmt.Errorf("list repository files: %w", err)
	}

	fileSet := make(map[NodeRef]struct{}, len(contains))
	for _, e := range contains {
		if e.To.Label == LabelFile {
			fileSet[e.To] = struct{}{}
		}
	}

	// Candidates are everything the repository's files declare or export.
	candidates := make(map[NodeRef]struct{})
	for fileRef := range fileSet {
		for _, typ := range []EdgeType{EdgeDeclares, EdgeExports} {
			out, err := store.EdgesFrom(ctx, fileRef, typ)
			if err != nil {
				return nil, fmt.Errorf("list %s edges of %s: %w", typ, fileRef.Key, err)
			}
			for _, e := range out {
				candidates[e.To] = struct{}{}
			}
		}
	}

	stats := &DeleteStats{Files: len(fileSet)}

	// A candidate is exclusive when no file outside the repository also
	// declares or exports it.
	toDelete := make([]NodeRef, 0, len(candidates)+len(fileSet)+1)
	for cand := range candidates {
		exclusive := true
		for _, typ := range []EdgeType{EdgeDeclares, EdgeExports} {
			in, err := store.EdgesTo(ctx, cand, typ)
			if err != nil {
				return nil, fmt.Errorf("list owners of %s %s: %w", cand.Label, cand.Key, err)
			}
			for _, e := range in {
				if _, ours := fileSet[e.From]; !ours {
					exclusive = false
					break
				}
			}
			if !exclusive {
				break
			}
		}
		if exclusive {
			toDelete = append(toDelete, cand)
			stats.Entities++
		} else {
			stats.Shared++
		}
	}

	for fileRef := range fileSet {
		toDelete = append(toDelete, fileRef)
	}
	toDelete = append(toDelete, repoRef)

	if err := store.DeleteNodes(ctx, toDelete); err != nil {
		return nil, fmt.Errorf("delete repository %s: %w", repo, err)
	}

	logger.Info("graph.delete.complete",
		"repo", repo,
		"files", stats.Files,
		"entities", stats.Entities,
		"shared_kept", stats.Shared,
	)
	return stats, nil
}
