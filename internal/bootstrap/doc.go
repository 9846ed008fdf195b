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

// Package bootstrap handles repograph workspace initialization and setup.
//
// This internal package provides the core initialization logic for a
// repograph workspace. It creates the ingestion database (file records,
// sync statuses, job queue) and the graph database, runs the embedded
// migrations, and ensures all prerequisites are met before the pipeline
// can be used.
//
// # Initialization Workflow
//
// A typical workflow for setting up a new workspace:
//
//	// Initialize the workspace (creates databases and schema)
//	info, err := bootstrap.InitWorkspace(bootstrap.WorkspaceConfig{
//	    DataDir: ".repograph",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Workspace initialized at: %s\n", info.DataDir)
//
//	// Later, open the workspace for pipeline runs and queries
//	ws, err := bootstrap.OpenWorkspace(bootstrap.WorkspaceConfig{
//	    DataDir: ".repograph",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
//
// # Idempotency
//
// InitWorkspace is idempotent: calling it multiple times on the same
// directory is safe and will not corrupt existing data. Migrations are
// versioned and only applied once, which makes the function suitable for
// scripts and automated workflows.
//
// # Configuration
//
// WorkspaceConfig controls the initialization behavior:
//
//   - DataDir: Optional. Where to store the databases. Defaults to
//     .repograph in the current directory.
//   - Driver: Optional. Relational driver for ingestion state, one of
//     "sqlite3" or "pgx". Defaults to sqlite3.
//   - DSN: Required when Driver is "pgx". Ignored for sqlite3, where the
//     database lives at <DataDir>/state.db.
//
// The graph store is always SQLite, at <DataDir>/graph.db.
package bootstrap
