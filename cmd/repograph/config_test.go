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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/pkg/pipeline"
	"github.com/repograph/repograph/pkg/storage"
)

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig("myworkspace")
	cfg.Origin.BaseURL = "https://api.github.com"
	cfg.Repos = []pipeline.RepoConfig{
		{Name: "acme/web", Owner: "acme", Path: "/srv/checkouts/web"},
	}

	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "myworkspace", loaded.ProjectID)
	assert.Equal(t, "https://api.github.com", loaded.Origin.BaseURL)
	require.Len(t, loaded.Repos, 1)
	assert.Equal(t, "acme/web", loaded.Repos[0].Name)
	assert.Equal(t, "/srv/checkouts/web", loaded.Repos[0].Path)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project_id: bare\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "REPOGRAPH_ORIGIN_TOKEN", cfg.Origin.TokenEnv)
	assert.Equal(t, 1, cfg.Scheduler.Concurrency)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repograph init")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing project id",
			yaml:    "storage:\n  driver: sqlite3\n",
			wantErr: "project_id is required",
		},
		{
			name:    "pgx without dsn",
			yaml:    "project_id: x\nstorage:\n  driver: pgx\n",
			wantErr: "storage.dsn is required",
		},
		{
			name:    "repo without path",
			yaml:    "project_id: x\nrepos:\n  - name: acme/web\n",
			wantErr: "path is required",
		},
		{
			name:    "duplicate repo names",
			yaml:    "project_id: x\nrepos:\n  - name: a\n    path: .\n  - name: a\n    path: .\n",
			wantErr: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "project.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
