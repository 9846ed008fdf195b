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
	"path"
	"sort"
	"strings"

	"github.com/repograph/repograph/pkg/normalize"
)

// RecordSource supplies the complete persisted normalized record set for a
// repository, used by full (reconciliation) imports.
type RecordSource interface {
	NormalizedRecords(ctx context.Context, repo string) ([]*normalize.NormalizedFile, error)
}

// Linker turns batches of normalized records into idempotent graph upserts.
type Linker struct {
	store  Store
	source RecordSource
	logger *slog.Logger
}

// NewLinker creates a linker. source may be nil if ImportFull is never used.
func NewLinker(store Store, source RecordSource, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: store, source: source, logger: logger}
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Files           int `json:"files"`
	NodesUpserted   int `json:"nodes_upserted"`
	EdgesUpserted   int `json:"edges_upserted"`
	EdgesSkipped    int `json:"edges_skipped"`
	CallsByName     int `json:"calls_by_name"`
	CallsByImport   int `json:"calls_by_import"`
	CallsForwardRef int `json:"calls_forward_ref"`
}

// ImportFull re-derives the repository's entire subgraph from the persisted
// normalized set. It is idempotent: running it twice converges to the same
// graph, which is also the recovery path after a crash mid-import.
func (l *Linker) ImportFull(ctx context.Context, repo string) (*ImportStats, error) {
	if l.source == nil {
		return nil, fmt.Errorf("import full: no record source configured")
	}
	records, err := l.source.NormalizedRecords(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("load normalized records: %w", err)
	}
	return l.ImportDelta(ctx, repo, records)
}

// ImportDelta links a batch of normalized records into the graph.
//
// Two passes, strictly ordered: pass one upserts every node named by the
// batch (order independent, rerunnable), pass two upserts edges. Each file's
// node work and edge work is its own transaction, so a crash mid-import
// leaves a graph consistent at file granularity, repairable by ImportFull.
func (l *Linker) ImportDelta(ctx context.Context, repo string, records []*normalize.NormalizedFile) (*ImportStats, error) {
	stats := &ImportStats{Files: len(records)}
	idx := buildBatchIndex(records)

	// Import targets are resolved once and reused by both passes so the
	// node a pass-1 upsert creates is the node the pass-2 edge points at.
	targets := make([][]NodeRef, len(records))
	for i, rec := range records {
		targets[i] = make([]NodeRef, len(rec.Imports))
		for j, imp := range rec.Imports {
			targets[i][j] = l.resolveImportTarget(ctx, rec.File.Path, imp, idx)
		}
	}

	// Pass 1: nodes.
	if err := l.store.UpsertNodes(ctx, []Node{{
		Label: LabelRepository,
		Key:   repo,
	}}); err != nil {
		return stats, err
	}
	stats.NodesUpserted++

	for i, rec := range records {
		nodes := recordNodes(rec, targets[i])
		if err := l.store.UpsertNodes(ctx, nodes); err != nil {
			return stats, fmt.Errorf("pass1 %s: %w", rec.File.Path, err)
		}
		stats.NodesUpserted += len(nodes)
	}

	l.logger.Info("linker.pass1.complete", "repo", repo, "files", len(records), "nodes", stats.NodesUpserted)

	// Pass 2: edges. Runs only after every node exists, because edge
	// upserts match on node existence and silently skip otherwise.
	for i, rec := range records {
		edges, forwardRefs := l.recordEdges(repo, rec, targets[i], idx, stats)

		// Re-importing a file replaces its outgoing edges, so imports or
		// calls removed from the source disappear from the graph instead
		// of accumulating. Caller-level deletes also retire forward
		// reference edges once the real definition is importable.
		fileRef := NodeRef{Label: LabelFile, Key: rec.File.Path}
		if err := l.store.DeleteEdgesFrom(ctx, fileRef, ""); err != nil {
			return stats, fmt.Errorf("refresh %s: %w", rec.File.Path, err)
		}
		for _, fn := range rec.Entities.Functions {
			callerRef := NodeRef{Label: LabelFunction, Key: fn.ID}
			if err := l.store.DeleteEdgesFrom(ctx, callerRef, EdgeCalls); err != nil {
				return stats, fmt.Errorf("refresh calls of %s: %w", fn.ID, err)
			}
		}

		if len(forwardRefs) > 0 {
			// Call targets that resolved nowhere are merged by bare name
			// so the edge still lands; a later import of the defining file
			// converges on the same node.
			if err := l.store.UpsertNodes(ctx, forwardRefs); err != nil {
				return stats, fmt.Errorf("pass2 forward refs %s: %w", rec.File.Path, err)
			}
			stats.NodesUpserted += len(forwardRefs)
		}

		skipped, err := l.store.UpsertEdges(ctx, edges)
		if err != nil {
			return stats, fmt.Errorf("pass2 %s: %w", rec.File.Path, err)
		}
		stats.EdgesUpserted += len(edges) - skipped
		stats.EdgesSkipped += skipped
	}

	l.logger.Info("linker.pass2.complete",
		"repo", repo,
		"edges", stats.EdgesUpserted,
		"edges_skipped", stats.EdgesSkipped,
		"calls_by_import", stats.CallsByImport,
		"calls_by_name", stats.CallsByName,
		"calls_forward_ref", stats.CallsForwardRef,
	)

	return stats, nil
}

// batchIndex is the per-batch lookup structure used for import and call
// resolution. Read-only after construction.
type batchIndex struct {
	files       map[string]struct{}
	funcIDs     map[string]struct{}
	funcsByFile map[string]map[string]string // file -> simple name -> id
	funcsByName map[string][]string          // simple name -> ids, sorted
	importedSym map[string]map[string]string // file -> local symbol -> local target path ("" external)
}

func buildBatchIndex(records []*normalize.NormalizedFile) *batchIndex {
	idx := &batchIndex{
		files:       make(map[string]struct{}),
		funcIDs:     make(map[string]struct{}),
		funcsByFile: make(map[string]map[string]string),
		funcsByName: make(map[string][]string),
		importedSym: make(map[string]map[string]string),
	}

	for _, rec := range records {
		idx.files[rec.File.Path] = struct{}{}
		byName := make(map[string]string, len(rec.Entities.Functions))
		for _, fn := range rec.Entities.Functions {
			idx.funcIDs[fn.ID] = struct{}{}
			if _, dup := byName[fn.Name]; !dup {
				byName[fn.Name] = fn.ID
			}
			idx.funcsByName[fn.Name] = append(idx.funcsByName[fn.Name], fn.ID)
		}
		idx.funcsByFile[rec.File.Path] = byName
	}

	// Deterministic by-name fallback regardless of record order.
	for name := range idx.funcsByName {
		sort.Strings(idx.funcsByName[name])
	}

	for _, rec := range records {
		syms := make(map[string]string)
		for _, imp := range rec.Imports {
			target := ""
			if imp.Kind == normalize.ImportLocal {
				target = resolveRelative(rec.File.Path, imp.Source, idx.files)
			}
			for _, s := range imp.Symbols {
				syms[s] = target
			}
		}
		idx.importedSym[rec.File.Path] = syms
	}

	return idx
}

// resolveRelative resolves a relative import against the importing file's
// directory, trying the extension and index-file candidates source authors
// omit. Falls back to the cleaned join when nothing matches.
func resolveRelative(fromPath, source string, known map[string]struct{}) string {
	base := path.Clean(path.Join(path.Dir(fromPath), source))
	candidates := []string{
		base,
		base + ".js", base + ".jsx", base + ".ts", base + ".tsx",
		base + "/index.js", base + "/index.ts",
	}
	for _, c := range candidates {
		if _, ok := known[c]; ok {
			return c
		}
	}
	return base
}

// resolveImportTarget picks the node an IMPORTS edge points at: a File node
// for local imports, a Module node for alias and external imports. Local
// targets missing from the batch are checked against the store so delta
// imports link against files imported earlier.
func (l *Linker) resolveImportTarget(ctx context.Context, fromPath string, imp normalize.Import, idx *batchIndex) NodeRef {
	if imp.Kind != normalize.ImportLocal {
		return NodeRef{Label: LabelModule, Key: imp.Source}
	}

	resolved := resolveRelative(fromPath, imp.Source, idx.files)
	if _, inBatch := idx.files[resolved]; !inBatch {
		base := path.Clean(path.Join(path.Dir(fromPath), imp.Source))
		for _, c := range []string{base, base + ".js", base + ".jsx", base + ".ts", base + ".tsx", base + "/index.js", base + "/index.ts"} {
			if n, err := l.store.GetNode(ctx, LabelFile, c); err == nil && n != nil {
				return NodeRef{Label: LabelFile, Key: c}
			}
		}
	}
	return NodeRef{Label: LabelFile, Key: resolved}
}

// recordNodes builds the pass-1 node set for one record.
func recordNodes(rec *normalize.NormalizedFile, importTargets []NodeRef) []Node {
	nodes := []Node{{
		Label: LabelFile,
		Key:   rec.File.Path,
		Properties: map[string]string{
			"language":   rec.File.Language,
			"moduleType": rec.File.ModuleType,
		},
	}}

	for _, v := range rec.Entities.Variables {
		nodes = append(nodes, Node{
			Label:      LabelVariable,
			Key:        v.Name,
			Properties: map[string]string{"declarationKind": v.DeclarationKind, "valueType": v.ValueType},
		})
	}
	for _, c := range rec.Entities.Classes {
		nodes = append(nodes, Node{Label: LabelClass, Key: c.Name})
	}
	for _, fn := range rec.Entities.Functions {
		nodes = append(nodes, Node{
			Label:      LabelFunction,
			Key:        fn.ID,
			Properties: map[string]string{"name": fn.Name, "scope": fn.Scope, "file": rec.File.Path},
		})
	}
	for _, ex := range rec.Exports {
		props := map[string]string{"name": ex.Name, "kind": ex.Kind}
		if ex.IsDefault {
			props["isDefault"] = "true"
		}
		nodes = append(nodes, Node{Label: LabelExport, Key: ExportKey(ex.Name, ex.Kind), Properties: props})
	}
	for _, t := range importTargets {
		nodes = append(nodes, Node{Label: t.Label, Key: t.Key})
	}

	return nodes
}

// recordEdges builds the pass-2 edge set for one record, along with any
// forward-reference Function nodes needed by unresolved call targets.
func (l *Linker) recordEdges(repo string, rec *normalize.NormalizedFile, importTargets []NodeRef, idx *batchIndex, stats *ImportStats) ([]Edge, []Node) {
	fileRef := NodeRef{Label: LabelFile, Key: rec.File.Path}
	edges := []Edge{{
		Type: EdgeContains,
		From: NodeRef{Label: LabelRepository, Key: repo},
		To:   fileRef,
	}}

	for _, v := range rec.Entities.Variables {
		edges = append(edges, Edge{Type: EdgeDeclares, From: fileRef, To: NodeRef{Label: LabelVariable, Key: v.Name}})
	}
	for _, c := range rec.Entities.Classes {
		classRef := NodeRef{Label: LabelClass, Key: c.Name}
		edges = append(edges, Edge{Type: EdgeDeclares, From: fileRef, To: classRef})
		for _, m := range c.Methods {
			methodID := normalize.FunctionID(rec.File.Path, c.Name+"."+m)
			if _, ok := idx.funcIDs[methodID]; ok {
				edges = append(edges, Edge{Type: EdgeHasMethod, From: classRef, To: NodeRef{Label: LabelFunction, Key: methodID}})
			}
		}
	}
	for _, fn := range rec.Entities.Functions {
		edges = append(edges, Edge{Type: EdgeDeclares, From: fileRef, To: NodeRef{Label: LabelFunction, Key: fn.ID}})
	}
	for _, ex := range rec.Exports {
		edges = append(edges, Edge{Type: EdgeExports, From: fileRef, To: NodeRef{Label: LabelExport, Key: ExportKey(ex.Name, ex.Kind)}})
	}
	for _, t := range importTargets {
		edges = append(edges, Edge{Type: EdgeImports, From: fileRef, To: t})
	}

	var forwardRefs []Node
	seenForward := make(map[string]struct{})
	for _, fn := range rec.Entities.Functions {
		callerRef := NodeRef{Label: LabelFunction, Key: fn.ID}
		for _, call := range fn.Calls {
			target, forward := l.resolveCall(rec, fn, call, idx, stats)
			if forward {
				if _, dup := seenForward[target.Key]; !dup {
					seenForward[target.Key] = struct{}{}
					forwardRefs = append(forwardRefs, Node{
						Label:      LabelFunction,
						Key:        target.Key,
						Properties: map[string]string{"name": target.Key, "forwardRef": "true"},
					})
				}
			}
			edges = append(edges, Edge{
				Type:       EdgeCalls,
				From:       callerRef,
				To:         target,
				Properties: map[string]string{"callee": call},
			})
		}
	}

	return edges, forwardRefs
}

// resolveCall maps an extracted call name to a callee Function node.
//
// Resolution order: same-class self reference, same-file declaration, the
// caller file's import table, then bare-name matching across the batch.
// Anything still unresolved becomes a forward-reference node keyed by the
// bare callee name; two unrelated unresolved callees sharing a name share
// the node, which is the documented by-name merging behavior.
func (l *Linker) resolveCall(rec *normalize.NormalizedFile, caller normalize.Function, call string, idx *batchIndex, stats *ImportStats) (NodeRef, bool) {
	filePath := rec.File.Path

	// this.method -> method on the caller's class.
	if m, ok := strings.CutPrefix(call, "this."); ok {
		if caller.Scope != normalize.GlobalScope {
			root := caller.Scope
			if dot := strings.IndexByte(root, '.'); dot >= 0 {
				root = root[:dot]
			}
			id := normalize.FunctionID(filePath, root+"."+m)
			if _, ok := idx.funcIDs[id]; ok {
				return NodeRef{Label: LabelFunction, Key: id}, false
			}
		}
		return l.resolveByName(m, idx, stats)
	}

	// receiver.method -> follow the import table for the receiver.
	if recv, m, isMember := strings.Cut(call, "."); isMember {
		if recv != "unknown" {
			if target, imported := idx.importedSym[filePath][recv]; imported && target != "" {
				if id, ok := idx.funcsByFile[target][m]; ok {
					stats.CallsByImport++
					return NodeRef{Label: LabelFunction, Key: id}, false
				}
			}
			// Static-style call on a class declared in the same file.
			id := normalize.FunctionID(filePath, recv+"."+m)
			if _, ok := idx.funcIDs[id]; ok {
				return NodeRef{Label: LabelFunction, Key: id}, false
			}
		}
		return l.resolveByName(m, idx, stats)
	}

	// Bare identifier: same file first, then the import table.
	if id, ok := idx.funcsByFile[filePath][call]; ok {
		return NodeRef{Label: LabelFunction, Key: id}, false
	}
	if target, imported := idx.importedSym[filePath][call]; imported && target != "" {
		if id, ok := idx.funcsByFile[target][call]; ok {
			stats.CallsByImport++
			return NodeRef{Label: LabelFunction, Key: id}, false
		}
	}
	return l.resolveByName(call, idx, stats)
}

// resolveByName is the fallback: the lexicographically first function with a
// matching simple name anywhere in the batch, or a forward reference keyed by
// the bare name when there is none.
func (l *Linker) resolveByName(name string, idx *batchIndex, stats *ImportStats) (NodeRef, bool) {
	if name == "" || name == "unknown" {
		return NodeRef{Label: LabelFunction, Key: "unknown"}, true
	}
	if ids := idx.funcsByName[name]; len(ids) > 0 {
		stats.CallsByName++
		return NodeRef{Label: LabelFunction, Key: ids[0]}, false
	}
	stats.CallsForwardRef++
	return NodeRef{Label: LabelFunction, Key: name}, true
}
