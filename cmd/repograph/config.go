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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/repograph/repograph/pkg/pipeline"
	"github.com/repograph/repograph/pkg/storage"
)

// Config is the .repograph/project.yaml configuration.
type Config struct {
	// ProjectID is the logical workspace identifier.
	ProjectID string `yaml:"project_id"`

	// Storage selects the relational backend for ingestion state.
	Storage StorageConfig `yaml:"storage"`

	// Origin configures the remote content source.
	Origin OriginConfig `yaml:"origin"`

	// Scheduler tunes the rate-limited fetch scheduler.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Repos are the repositories this workspace manages.
	Repos []pipeline.RepoConfig `yaml:"repos"`

	// AuditDir receives per-repository completion snapshots.
	// Empty disables audit output.
	AuditDir string `yaml:"audit_dir,omitempty"`
}

// StorageConfig selects and configures the relational backend.
type StorageConfig struct {
	// Driver is "sqlite3" (default) or "pgx".
	Driver string `yaml:"driver"`

	// DSN is the postgres connection string. Ignored for sqlite3.
	DSN string `yaml:"dsn,omitempty"`
}

// OriginConfig configures the remote content API.
type OriginConfig struct {
	// BaseURL of the origin API. Empty means repositories are read from
	// their local paths only.
	BaseURL string `yaml:"base_url,omitempty"`

	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `yaml:"token_env,omitempty"`
}

// SchedulerConfig tunes fetch pacing.
type SchedulerConfig struct {
	// Concurrency is the number of fetch workers. Defaults to 1.
	Concurrency int `yaml:"concurrency,omitempty"`
}

// ConfigDir returns the .repograph directory under dir.
func ConfigDir(dir string) string {
	return filepath.Join(dir, ".repograph")
}

// ConfigPath returns the project.yaml path under dir.
func ConfigPath(dir string) string {
	return filepath.Join(ConfigDir(dir), "project.yaml")
}

// DefaultConfig builds a configuration with sensible defaults for a
// workspace rooted at the current directory.
func DefaultConfig(projectID string) *Config {
	return &Config{
		ProjectID: projectID,
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
		},
		Origin: OriginConfig{
			TokenEnv: "REPOGRAPH_ORIGIN_TOKEN",
		},
		Scheduler: SchedulerConfig{
			Concurrency: 1,
		},
	}
}

// LoadConfig reads the configuration from path, or from
// ./.repograph/project.yaml when path is empty.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get current directory: %w", err)
		}
		path = ConfigPath(cwd)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the --config flag
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration not found at %s (run 'repograph init' first)", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes the configuration as YAML to path.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = storage.DriverSQLite
	}
	if cfg.Origin.TokenEnv == "" {
		cfg.Origin.TokenEnv = "REPOGRAPH_ORIGIN_TOKEN"
	}
	if cfg.Scheduler.Concurrency <= 0 {
		cfg.Scheduler.Concurrency = 1
	}
}

func validateConfig(cfg *Config) error {
	if cfg.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if cfg.Storage.Driver == storage.DriverPostgres && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for driver pgx")
	}
	seen := make(map[string]bool, len(cfg.Repos))
	for i, r := range cfg.Repos {
		if r.Name == "" {
			return fmt.Errorf("repos[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("repos[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.Path == "" {
			return fmt.Errorf("repos[%d] (%s): path is required", i, r.Name)
		}
	}
	return nil
}
