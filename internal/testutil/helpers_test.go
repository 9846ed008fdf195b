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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/pkg/graph"
	"github.com/repograph/repograph/pkg/storage"
)

// TestStateDB verifies the in-memory state database comes up migrated.
func TestStateDB(t *testing.T) {
	db := StateDB(t)
	require.NotNil(t, db)

	records := storage.NewFileRecordStore(db)
	counts, err := records.CountByStatus(context.Background(), "acme/web")
	require.NoError(t, err)
	assert.Empty(t, counts, "Should start with no records")
}

// TestSeedFileRecord verifies every supported lifecycle status.
func TestSeedFileRecord(t *testing.T) {
	db := StateDB(t)
	records := storage.NewFileRecordStore(db)
	ctx := context.Background()

	SeedFileRecord(t, db, "acme/web", "a.js", storage.FileStatusPending)
	SeedFileRecord(t, db, "acme/web", "b.js", storage.FileStatusProcessing)
	SeedFileRecord(t, db, "acme/web", "c.js", storage.FileStatusDone)
	SeedFileRecord(t, db, "acme/web", "d.js", storage.FileStatusFailed)

	counts, err := records.CountByStatus(ctx, "acme/web")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[storage.FileStatusPending])
	assert.Equal(t, 1, counts[storage.FileStatusProcessing])
	assert.Equal(t, 1, counts[storage.FileStatusDone])
	assert.Equal(t, 1, counts[storage.FileStatusFailed])

	done, err := records.Get(ctx, "acme/web", "c.js")
	require.NoError(t, err)
	assert.NotEmpty(t, done.Normalized, "Done record should carry its normalized content")
}

// TestSeedFunctionNode verifies both nodes land in the graph store.
func TestSeedFunctionNode(t *testing.T) {
	store := GraphStore(t)
	ctx := context.Background()

	SeedFunctionNode(t, store, "src/auth.js::handleAuth")

	fn, err := store.GetNode(ctx, graph.LabelFunction, "src/auth.js::handleAuth")
	require.NoError(t, err)
	assert.Equal(t, "handleAuth", fn.Properties["name"])

	file, err := store.GetNode(ctx, graph.LabelFile, "src/auth.js")
	require.NoError(t, err)
	assert.Equal(t, "src/auth.js", file.Properties["path"])
}
