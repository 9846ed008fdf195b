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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/repograph/repograph/internal/bootstrap"
	"github.com/repograph/repograph/pkg/fetch"
	"github.com/repograph/repograph/pkg/pipeline"
	"github.com/repograph/repograph/pkg/scheduler"
)

// runtimeEnv bundles everything a command needs to run the pipeline.
type runtimeEnv struct {
	cfg       *Config
	workspace *bootstrap.Workspace
	sched     *scheduler.Scheduler
	pipe      *pipeline.Pipeline
	logger    *slog.Logger
}

// close releases the workspace stores. The scheduler, if started, must be
// stopped by the caller first.
func (e *runtimeEnv) close() {
	_ = e.workspace.Close()
}

// newLogger builds the CLI logger. Debug switches the level; output goes to
// stdout in slog text format.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// openRuntime loads the configuration, opens the workspace databases and
// assembles the pipeline. The scheduler is created but not started.
func openRuntime(configPath string, logger *slog.Logger) (*runtimeEnv, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	dataDir := configDataDir(configPath)
	ws, err := bootstrap.OpenWorkspace(bootstrap.WorkspaceConfig{
		DataDir: dataDir,
		Driver:  cfg.Storage.Driver,
		DSN:     cfg.Storage.DSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Options{
		Concurrency: cfg.Scheduler.Concurrency,
		Logger:      logger,
	})

	client := buildClient(cfg, logger)
	creds, err := buildCredentials(cfg)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	auditDir := cfg.AuditDir
	if auditDir != "" && !filepath.IsAbs(auditDir) {
		auditDir = filepath.Join(dataDir, auditDir)
	}

	pipe, err := pipeline.New(pipeline.Options{
		DB:          ws.DB,
		GraphStore:  ws.Graph,
		Scheduler:   sched,
		Client:      client,
		Credentials: creds,
		Repos:       cfg.Repos,
		AuditDir:    auditDir,
		Logger:      logger,
	})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}

	return &runtimeEnv{
		cfg:       cfg,
		workspace: ws,
		sched:     sched,
		pipe:      pipe,
		logger:    logger,
	}, nil
}

// configDataDir derives the workspace data directory from the --config flag,
// defaulting to ./.repograph.
func configDataDir(configPath string) string {
	if configPath != "" {
		return filepath.Dir(configPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ".repograph"
	}
	return ConfigDir(cwd)
}

// buildClient picks the origin: the HTTP API when a base URL is configured,
// otherwise the local checkouts named in the repo registry.
func buildClient(cfg *Config, logger *slog.Logger) fetch.Client {
	if cfg.Origin.BaseURL != "" {
		return fetch.NewHTTPClient(cfg.Origin.BaseURL, logger)
	}
	roots := make(map[string]string, len(cfg.Repos))
	for _, r := range cfg.Repos {
		roots[r.Name] = r.Path
	}
	return &fetch.LocalClient{Roots: roots}
}

func buildCredentials(cfg *Config) (fetch.CredentialResolver, error) {
	inner := &fetch.EnvResolver{Var: cfg.Origin.TokenEnv}
	cached, err := fetch.NewCachingResolver(inner, 0)
	if err != nil {
		return nil, fmt.Errorf("credential cache: %w", err)
	}
	return cached, nil
}
