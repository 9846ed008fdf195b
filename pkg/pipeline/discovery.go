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

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/repograph/repograph/internal/contract"
	"github.com/repograph/repograph/pkg/normalize"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/storage"
)

// RepoConfig describes one repository the pipeline manages.
type RepoConfig struct {
	// Name is the repository identifier used as the storage and graph key.
	Name string `yaml:"name"`

	// Owner is the origin namespace, e.g. the GitHub organization.
	Owner string `yaml:"owner"`

	// UserID selects whose credentials fetch this repository.
	UserID string `yaml:"user_id"`

	// Path is the local directory discovery walks. For remote-only
	// repositories it is the local mirror the webhook receiver maintains.
	Path string `yaml:"path"`

	// ExcludeGlobs are additional path patterns to skip.
	ExcludeGlobs []string `yaml:"exclude"`
}

// Directories never worth walking into.
var defaultSkipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"dist":         {},
	"build":        {},
	"coverage":     {},
	"vendor":       {},
	".next":        {},
}

// DiscoveryResult summarizes one discovery pass.
type DiscoveryResult struct {
	Discovered int            `json:"discovered"`
	Queued     int            `json:"queued"`
	Skipped    map[string]int `json:"skipped"`
}

// Discoverer walks repository trees and turns files into records and fetch
// jobs.
type Discoverer struct {
	records *storage.FileRecordStore
	queue   *queue.Queue
	logger  *slog.Logger
}

// NewDiscoverer wires a discoverer.
func NewDiscoverer(records *storage.FileRecordStore, q *queue.Queue, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	pipeMetrics.init()
	return &Discoverer{records: records, queue: q, logger: logger}
}

// Discover walks the repository and upserts a record per source file,
// enqueueing a fetch job for every record that is not already done.
// Unchanged files keep their done status and produce no job, which is what
// makes repeated generate runs incremental.
func (d *Discoverer) Discover(ctx context.Context, repo RepoConfig) (*DiscoveryResult, error) {
	start := time.Now()
	defer func() { pipeMetrics.discoverDuration.Observe(time.Since(start).Seconds()) }()

	root, err := filepath.Abs(repo.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat repository path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path %s is not a directory", root)
	}

	d.logger.Info("discovery.start", "repo", repo.Name, "root", root)
	result := &DiscoveryResult{Skipped: make(map[string]int)}

	err = filepath.WalkDir(root, func(full string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, full)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if _, skip := defaultSkipDirs[entry.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}

		if excluded(rel, repo.ExcludeGlobs) {
			result.Skipped["excluded"]++
			pipeMetrics.filesSkipped.Inc()
			return nil
		}
		if !normalize.Supported(rel) {
			result.Skipped["unsupported_language"]++
			pipeMetrics.filesSkipped.Inc()
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			return err
		}

		hash, err := hashFile(full)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}

		status, err := d.records.UpsertDiscovered(ctx, repo.Name, rel, hash, fi.Size(), contract.KindFile)
		if err != nil {
			return err
		}
		result.Discovered++
		pipeMetrics.filesDiscovered.Inc()

		if status == storage.FileStatusDone {
			result.Skipped["unchanged"]++
			return nil
		}

		job := contract.FileJob{
			Repo:        repo.Name,
			Owner:       repo.Owner,
			UserID:      repo.UserID,
			Path:        rel,
			ContentHash: hash,
			Size:        fi.Size(),
			Kind:        contract.KindFile,
		}
		if err := job.Validate(); err != nil {
			return err
		}
		if _, err := d.queue.Enqueue(ctx, queue.TopicFetch, job); err != nil {
			return err
		}
		result.Queued++
		pipeMetrics.jobsEnqueued.Inc()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	d.logger.Info("discovery.complete",
		"repo", repo.Name,
		"discovered", result.Discovered,
		"queued", result.Queued,
		"skipped", result.Skipped,
	)
	return result, nil
}

func excluded(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
