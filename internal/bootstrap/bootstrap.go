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

package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/repograph/repograph/pkg/graph"
	"github.com/repograph/repograph/pkg/storage"
)

// WorkspaceConfig holds configuration for initializing a workspace.
type WorkspaceConfig struct {
	// DataDir is the directory where the databases live.
	// Defaults to ".repograph" in the current directory.
	DataDir string

	// Driver is the relational driver for ingestion state:
	// storage.DriverSQLite or storage.DriverPostgres.
	// Defaults to sqlite3.
	Driver string

	// DSN is the connection string for the postgres driver. Ignored for
	// sqlite3, where the database file lives under DataDir.
	DSN string
}

// WorkspaceInfo holds information about an initialized workspace.
type WorkspaceInfo struct {
	DataDir   string
	Driver    string
	StateDSN  string
	GraphPath string
}

// Workspace bundles the open stores backing a repograph workspace.
type Workspace struct {
	DB    *storage.DB
	Graph *graph.SQLStore
	Info  WorkspaceInfo
}

// Close releases both stores. Safe to call once.
func (w *Workspace) Close() error {
	var firstErr error
	if w.Graph != nil {
		if err := w.Graph.Close(); err != nil {
			firstErr = err
		}
	}
	if w.DB != nil {
		if err := w.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *WorkspaceConfig) applyDefaults() error {
	if c.DataDir == "" {
		c.DataDir = ".repograph"
	}
	if c.Driver == "" {
		c.Driver = storage.DriverSQLite
	}
	switch c.Driver {
	case storage.DriverSQLite:
		if c.DSN == "" {
			c.DSN = filepath.Join(c.DataDir, "state.db")
		}
	case storage.DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for driver %q", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	return nil
}

// InitWorkspace initializes a new repograph workspace.
// This function is idempotent: calling it multiple times is safe.
//
// The function:
//  1. Creates the data directory if it doesn't exist
//  2. Opens the ingestion database and applies the embedded migrations
//  3. Opens the graph database and creates its schema
//
// The opened stores are closed again before returning; use OpenWorkspace
// to get live handles.
func InitWorkspace(config WorkspaceConfig, logger *slog.Logger) (*WorkspaceInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	logger.Info("bootstrap.workspace.init.start",
		"data_dir", config.DataDir,
		"driver", config.Driver,
	)

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	ws, err := OpenWorkspace(config, logger)
	if err != nil {
		return nil, err
	}
	info := ws.Info
	if err := ws.Close(); err != nil {
		return nil, fmt.Errorf("close workspace: %w", err)
	}

	logger.Info("bootstrap.workspace.init.success",
		"data_dir", info.DataDir,
		"graph_path", info.GraphPath,
	)
	return &info, nil
}

// OpenWorkspace opens an existing repograph workspace.
// Migrations are applied on open, so a workspace created by an older
// version is upgraded in place.
func OpenWorkspace(config WorkspaceConfig, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(config.DataDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace not found: %s (run 'repograph init' first)", config.DataDir)
	}

	db, err := storage.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	graphPath := filepath.Join(config.DataDir, "graph.db")
	store, err := graph.OpenSQLStore(graphPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	logger.Debug("bootstrap.workspace.open",
		"data_dir", config.DataDir,
		"driver", config.Driver,
	)

	return &Workspace{
		DB:    db,
		Graph: store,
		Info: WorkspaceInfo{
			DataDir:   config.DataDir,
			Driver:    config.Driver,
			StateDSN:  config.DSN,
			GraphPath: graphPath,
		},
	}, nil
}
