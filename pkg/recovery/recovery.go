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

// Package recovery reconciles durable state after crashes and stalls.
//
// The durable stores are the source of truth; the queue is merely the
// delivery mechanism. A sweep therefore rebuilds queue messages from file
// records instead of trusting whatever claims the queue still holds. Since
// delivery is at-least-once everywhere, re-enqueueing a job that is somehow
// still in flight is harmless.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/repograph/repograph/internal/contract"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/storage"
)

// StaleThreshold is how long a processing record may go untouched before it
// counts as abandoned by a dead worker.
const StaleThreshold = 5 * time.Minute

// RepoInfo resolves queue-rebuild context for a repository: the origin
// owner and the user whose credentials fetch it. ok is false for
// repositories no longer configured.
type RepoInfo func(repo string) (owner, userID string, ok bool)

// Sweeper scans for stuck work and puts it back on the queue.
type Sweeper struct {
	repos    *storage.RepoStatusStore
	records  *storage.FileRecordStore
	queue    *queue.Queue
	repoInfo RepoInfo
	logger   *slog.Logger
}

// NewSweeper wires a sweeper.
func NewSweeper(repos *storage.RepoStatusStore, records *storage.FileRecordStore, q *queue.Queue, info RepoInfo, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{repos: repos, records: records, queue: q, repoInfo: info, logger: logger}
}

// Sweep performs one reconciliation pass and returns how many jobs it
// re-enqueued. It covers three failure shapes: queue claims abandoned
// between claim and ack, file records stuck in processing, and repositories
// parked in rate_limited after the window has long passed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	requeued := 0

	for _, topic := range []string{queue.TopicFetch, queue.TopicNormalize} {
		n, err := s.queue.RequeueStale(ctx, topic, StaleThreshold)
		if err != nil {
			return requeued, err
		}
		requeued += int(n)
	}

	active, err := s.repos.InStates(ctx,
		storage.RepoStateSyncing, storage.RepoStateProcessing, storage.RepoStateRateLimited)
	if err != nil {
		return requeued, err
	}

	cutoff := time.Now().UTC().Add(-StaleThreshold)
	for _, repo := range active {
		if repo.State == storage.RepoStateRateLimited && repo.UpdatedAt.After(cutoff) {
			// Still inside the window; the scheduler owns this wait.
			continue
		}

		owner, userID, ok := s.repoInfo(repo.Repo)
		if !ok {
			s.logger.Warn("recovery.unknown_repo", "repo", repo.Repo)
			continue
		}

		stuck, err := s.records.Unfinished(ctx, repo.Repo, cutoff)
		if err != nil {
			return requeued, err
		}
		for _, rec := range stuck {
			job := contract.FileJob{
				Repo:        rec.Repo,
				Owner:       owner,
				UserID:      userID,
				Path:        rec.Path,
				ContentHash: rec.ContentHash,
				Size:        rec.Size,
				Kind:        rec.Kind,
			}
			if _, err := s.queue.Enqueue(ctx, queue.TopicFetch, job); err != nil {
				return requeued, err
			}
			requeued++
		}

		if len(stuck) > 0 {
			s.logger.Info("recovery.requeued", "repo", repo.Repo, "files", len(stuck))
			if repo.State == storage.RepoStateRateLimited {
				if err := s.repos.Set(ctx, repo.Repo, storage.RepoStateProcessing, "resumed after rate limit"); err != nil {
					return requeued, err
				}
			}
		}
	}

	return requeued, nil
}

// Worker runs sweeps on an interval. It is single-flight: a sweep that
// outlasts the interval simply delays the next one.
type Worker struct {
	sweeper  *Sweeper
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

// NewWorker creates a worker sweeping every interval, default 1 minute.
func NewWorker(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sweeper: sweeper, interval: interval, backoff: 5 * time.Second, logger: logger}
}

// Run blocks until ctx ends. Sweep failures are logged and retried after a
// short backoff; the worker itself never gives up.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("recovery.worker.start", "interval", w.interval)
	for {
		n, err := w.sweeper.Sweep(ctx)
		wait := w.interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("recovery.sweep.failed", "error", err)
			wait = w.backoff
		} else if n > 0 {
			w.logger.Info("recovery.sweep.complete", "requeued", n)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("recovery.worker.stop")
			return
		case <-time.After(wait):
		}
	}
}
