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

package testutil

import (
	"context"
	"testing"

	"github.com/repograph/repograph/pkg/graph"
	"github.com/repograph/repograph/pkg/normalize"
	"github.com/repograph/repograph/pkg/storage"
)

// StateDB creates an in-memory ingestion database with migrations applied.
// The database is closed automatically when the test finishes.
func StateDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory state db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// GraphStore creates an in-memory graph store with schema applied.
// The store is closed automatically when the test finishes.
func GraphStore(t *testing.T) *graph.SQLStore {
	t.Helper()

	store, err := graph.OpenSQLStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory graph store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SeedFileRecord inserts a file record in the given lifecycle status.
// The status must be one of the storage.FileStatus* constants.
//
// Example:
//
//	db := testutil.StateDB(t)
//	testutil.SeedFileRecord(t, db, "acme/web", "src/a.js", storage.FileStatusProcessing)
func SeedFileRecord(t *testing.T, db *storage.DB, repo, path, status string) {
	t.Helper()

	ctx := context.Background()
	records := storage.NewFileRecordStore(db)
	if _, err := records.UpsertDiscovered(ctx, repo, path, "hash-"+path, 1, "file"); err != nil {
		t.Fatalf("failed to seed file record: %v", err)
	}

	switch status {
	case storage.FileStatusPending:
		// Discovery already leaves the record pending.
	case storage.FileStatusProcessing:
		if _, err := records.MarkProcessing(ctx, repo, path); err != nil {
			t.Fatalf("failed to mark record processing: %v", err)
		}
	case storage.FileStatusDone:
		if err := records.SetNormalized(ctx, repo, path, MinimalNormalizedFile(path)); err != nil {
			t.Fatalf("failed to mark record done: %v", err)
		}
	case storage.FileStatusFailed:
		if err := records.MarkFailed(ctx, repo, path, "seeded failure"); err != nil {
			t.Fatalf("failed to mark record failed: %v", err)
		}
	default:
		t.Fatalf("unknown file record status %q", status)
	}
}

// MinimalNormalizedFile builds the smallest valid normalized record for a
// JavaScript file at the given path.
func MinimalNormalizedFile(path string) *normalize.NormalizedFile {
	return &normalize.NormalizedFile{
		File: normalize.FileDesc{
			Path:       path,
			Language:   "javascript",
			ModuleType: "esm",
		},
	}
}

// SeedFunctionNode upserts a Function node keyed by the given function id
// ("<path>::<name>"), together with its containing File node.
//
// Example:
//
//	store := testutil.GraphStore(t)
//	testutil.SeedFunctionNode(t, store, "src/auth.js::handleAuth")
func SeedFunctionNode(t *testing.T, store graph.Store, id string) {
	t.Helper()

	path, name := splitFunctionID(id)
	nodes := []graph.Node{
		{Label: graph.LabelFile, Key: path, Properties: map[string]string{"path": path}},
		{Label: graph.LabelFunction, Key: id, Properties: map[string]string{"name": name}},
	}
	if err := store.UpsertNodes(context.Background(), nodes); err != nil {
		t.Fatalf("failed to seed function node: %v", err)
	}
}

func splitFunctionID(id string) (path, name string) {
	for i := 0; i+1 < len(id); i++ {
		if id[i] == ':' && id[i+1] == ':' {
			return id[:i], id[i+2:]
		}
	}
	return id, id
}
