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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/pkg/normalize"
)

func record(path string, mutate func(*normalize.NormalizedFile)) *normalize.NormalizedFile {
	rec := &normalize.NormalizedFile{
		File: normalize.FileDesc{Path: path, Language: "javascript", ModuleType: normalize.ModuleESM},
	}
	if mutate != nil {
		mutate(rec)
	}
	return rec
}

func fn(path, qualified string, calls ...string) normalize.Function {
	name := qualified
	scope := normalize.GlobalScope
	if i := lastDot(qualified); i >= 0 {
		name = qualified[i+1:]
		scope = qualified[:i]
	}
	return normalize.Function{
		ID:    normalize.FunctionID(path, qualified),
		Name:  name,
		Scope: scope,
		Calls: calls,
	}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

type memSource struct {
	records []*normalize.NormalizedFile
}

func (m *memSource) NormalizedRecords(_ context.Context, _ string) ([]*normalize.NormalizedFile, error) {
	return m.records, nil
}

func TestLinker_ImportFullIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := &memSource{records: []*normalize.NormalizedFile{
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/a.js", "f", "g")}
			r.Exports = []normalize.Export{{Name: "f", Kind: "function"}}
		}),
		record("src/b.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/b.js", "g")}
			r.Exports = []normalize.Export{{Name: "g", Kind: "function"}}
		}),
	}}
	linker := NewLinker(store, src, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := linker.ImportFull(ctx, "demo")
	require.NoError(t, err)
	nodes1, edges1, err := store.Counts(ctx)
	require.NoError(t, err)

	_, err = linker.ImportFull(ctx, "demo")
	require.NoError(t, err)
	nodes2, edges2, err := store.Counts(ctx)
	require.NoError(t, err)

	assert.Equal(t, nodes1, nodes2, "second full import must not grow the node set")
	assert.Equal(t, edges1, edges2, "second full import must not grow the edge set")
}

func TestLinker_CallResolvedByNameAcrossFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// a.js calls g with no import of b.js; resolution falls back to the
	// batch-wide name index.
	records := []*normalize.NormalizedFile{
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/a.js", "f", "g")}
		}),
		record("src/b.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/b.js", "g")}
		}),
	}
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := linker.ImportDelta(ctx, "demo", records)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CallsByName)
	assert.Zero(t, stats.EdgesSkipped)

	calls, err := store.EdgesFrom(ctx, NodeRef{Label: LabelFunction, Key: "src/a.js::f"}, EdgeCalls)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "src/b.js::g", calls[0].To.Key, "f should link to g's declared node, not a bare name")
}

func TestLinker_CallResolvedThroughImportTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Both files declare parse. The import table must win over the
	// name index, which would pick src/a.js::parse lexicographically.
	records := []*normalize.NormalizedFile{
		record("src/main.js", func(r *normalize.NormalizedFile) {
			r.Imports = []normalize.Import{{Source: "./z/util.js", Kind: normalize.ImportLocal, Symbols: []string{"parse"}}}
			r.Entities.Functions = []normalize.Function{fn("src/main.js", "run", "parse")}
		}),
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/a.js", "parse")}
		}),
		record("src/z/util.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/z/util.js", "parse")}
		}),
	}
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := linker.ImportDelta(ctx, "demo", records)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CallsByImport)

	calls, err := store.EdgesFrom(ctx, NodeRef{Label: LabelFunction, Key: "src/main.js::run"}, EdgeCalls)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "src/z/util.js::parse", calls[0].To.Key)
}

func TestLinker_ThisCallsResolveToOwnClass(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []*normalize.NormalizedFile{
		record("src/svc.js", func(r *normalize.NormalizedFile) {
			r.Entities.Classes = []normalize.Class{{Name: "UserService", Methods: []string{"find", "load"}}}
			r.Entities.Functions = []normalize.Function{
				fn("src/svc.js", "UserService.find", "this.load"),
				fn("src/svc.js", "UserService.load"),
			}
		}),
	}
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := linker.ImportDelta(ctx, "demo", records)
	require.NoError(t, err)

	calls, err := store.EdgesFrom(ctx, NodeRef{Label: LabelFunction, Key: "src/svc.js::UserService.find"}, EdgeCalls)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "src/svc.js::UserService.load", calls[0].To.Key)

	methods, err := store.EdgesFrom(ctx, NodeRef{Label: LabelClass, Key: "UserService"}, EdgeHasMethod)
	require.NoError(t, err)
	assert.Len(t, methods, 2, "class should link to both its method functions")
}

func TestLinker_UnresolvedCallCreatesForwardReference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []*normalize.NormalizedFile{
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/a.js", "f", "mystery")}
		}),
	}
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	stats, err := linker.ImportDelta(ctx, "demo", records)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CallsForwardRef)
	assert.Zero(t, stats.EdgesSkipped, "forward reference node should let the edge land")

	n, err := store.GetNode(ctx, LabelFunction, "mystery")
	require.NoError(t, err)
	require.NotNil(t, n, "unresolved callee should exist as a bare-name node")
	assert.Equal(t, "true", n.Properties["forwardRef"])
}

func TestLinker_ImportEdgeTargets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []*normalize.NormalizedFile{
		record("src/app.js", func(r *normalize.NormalizedFile) {
			r.Imports = []normalize.Import{
				{Source: "./util", Kind: normalize.ImportLocal, Symbols: []string{"x"}},
				{Source: "express", Kind: normalize.ImportExternal},
				{Source: "@/config", Kind: normalize.ImportAlias},
			}
		}),
		record("src/util.js", nil),
	}
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := linker.ImportDelta(ctx, "demo", records)
	require.NoError(t, err)

	imports, err := store.EdgesFrom(ctx, NodeRef{Label: LabelFile, Key: "src/app.js"}, EdgeImports)
	require.NoError(t, err)
	require.Len(t, imports, 3)

	targets := map[string]Label{}
	for _, e := range imports {
		targets[e.To.Key] = e.To.Label
	}
	assert.Equal(t, LabelFile, targets["src/util.js"], "relative import should resolve to the sibling file")
	assert.Equal(t, LabelModule, targets["express"])
	assert.Equal(t, LabelModule, targets["@/config"])
}

func TestLinker_RecordOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()

	build := func(records []*normalize.NormalizedFile) (int, int) {
		store := newTestStore(t)
		linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		_, err := linker.ImportDelta(ctx, "demo", records)
		require.NoError(t, err)
		nodes, edges, err := store.Counts(ctx)
		require.NoError(t, err)
		return nodes, edges
	}

	a := record("src/a.js", func(r *normalize.NormalizedFile) {
		r.Imports = []normalize.Import{{Source: "./b", Kind: normalize.ImportLocal, Symbols: []string{"g"}}}
		r.Entities.Functions = []normalize.Function{fn("src/a.js", "f", "g")}
	})
	b := record("src/b.js", func(r *normalize.NormalizedFile) {
		r.Entities.Functions = []normalize.Function{fn("src/b.js", "g")}
		r.Exports = []normalize.Export{{Name: "g", Kind: "function"}}
	})

	n1, e1 := build([]*normalize.NormalizedFile{a, b})
	n2, e2 := build([]*normalize.NormalizedFile{b, a})

	assert.Equal(t, n1, n2, "node count must not depend on record order")
	assert.Equal(t, e1, e2, "edge count must not depend on record order")
}

func TestLinker_ForwardReferenceConvergesOnLaterImport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// First batch only knows the caller.
	_, err := linker.ImportDelta(ctx, "demo", []*normalize.NormalizedFile{
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/a.js", "f", "g")}
		}),
	})
	require.NoError(t, err)

	// Second batch brings the definition. Re-importing the caller in the
	// same batch rewrites the call edge against the declared node.
	_, err = linker.ImportDelta(ctx, "demo", []*normalize.NormalizedFile{
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/a.js", "f", "g")}
		}),
		record("src/b.js", func(r *normalize.NormalizedFile) {
			r.Entities.Functions = []normalize.Function{fn("src/b.js", "g")}
		}),
	})
	require.NoError(t, err)

	calls, err := store.EdgesFrom(ctx, NodeRef{Label: LabelFunction, Key: "src/a.js::f"}, EdgeCalls)
	require.NoError(t, err)
	require.Len(t, calls, 1, "the forward reference edge should be replaced, not accumulated")
	assert.Equal(t, "src/b.js::g", calls[0].To.Key, "re-linking should target the declared function")
}

func TestLinker_RemovedImportDisappearsOnRelink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	linker := NewLinker(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := linker.ImportDelta(ctx, "demo", []*normalize.NormalizedFile{
		record("src/a.js", func(r *normalize.NormalizedFile) {
			r.Imports = []normalize.Import{{Source: "express", Kind: normalize.ImportExternal}}
		}),
	})
	require.NoError(t, err)

	// The edit dropped the import; relinking must not keep the old edge.
	_, err = linker.ImportDelta(ctx, "demo", []*normalize.NormalizedFile{record("src/a.js", nil)})
	require.NoError(t, err)

	imports, err := store.EdgesFrom(ctx, NodeRef{Label: LabelFile, Key: "src/a.js"}, EdgeImports)
	require.NoError(t, err)
	assert.Empty(t, imports)
}
