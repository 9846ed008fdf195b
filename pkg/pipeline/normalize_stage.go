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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/repograph/repograph/internal/contract"
	"github.com/repograph/repograph/pkg/graph"
	"github.com/repograph/repograph/pkg/normalize"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/storage"
)

// NormalizeStage consumes EnrichedJob messages, normalizes the stored raw
// content, and links the result into the graph.
type NormalizeStage struct {
	records    *storage.FileRecordStore
	repos      *storage.RepoStatusStore
	queue      *queue.Queue
	normalizer *normalize.Normalizer
	linker     *graph.Linker
	audit      *AuditWriter
	logger     *slog.Logger
}

// NewNormalizeStage wires the normalize stage. audit may be nil.
func NewNormalizeStage(records *storage.FileRecordStore, repos *storage.RepoStatusStore, q *queue.Queue, n *normalize.Normalizer, l *graph.Linker, audit *AuditWriter, logger *slog.Logger) *NormalizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	pipeMetrics.init()
	return &NormalizeStage{records: records, repos: repos, queue: q, normalizer: n, linker: l, audit: audit, logger: logger}
}

// Process handles one normalize delivery. Normalization never fails, so the
// only error paths are storage and graph writes; those leave the claim in
// place for redelivery. A redelivered message for a done record re-links
// the stored normalized output, which is an upsert and therefore harmless.
func (s *NormalizeStage) Process(ctx context.Context, msg *queue.Message) error {
	var job contract.EnrichedJob
	if err := msg.Decode(&job); err != nil {
		return s.reject(ctx, msg, fmt.Sprintf("undecodable payload: %v", err))
	}
	if err := job.Validate(); err != nil {
		return s.reject(ctx, msg, err.Error())
	}

	rec, err := s.records.Get(ctx, job.Repo, job.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return s.reject(ctx, msg, "no file record for message")
	}
	if err != nil {
		return err
	}

	start := time.Now()
	nf := s.normalizer.Normalize([]byte(rec.RawContent), job.Path)
	pipeMetrics.normalizeDuration.Observe(time.Since(start).Seconds())

	if err := s.records.SetNormalized(ctx, job.Repo, job.Path, nf); err != nil {
		return err
	}

	linkStart := time.Now()
	stats, err := s.linker.ImportDelta(ctx, job.Repo, []*normalize.NormalizedFile{nf})
	if err != nil {
		return fmt.Errorf("link %s/%s: %w", job.Repo, job.Path, err)
	}
	pipeMetrics.linkDuration.Observe(time.Since(linkStart).Seconds())
	pipeMetrics.filesNormalized.Inc()
	pipeMetrics.nodesUpserted.Add(float64(stats.NodesUpserted))
	pipeMetrics.edgesUpserted.Add(float64(stats.EdgesUpserted))
	pipeMetrics.edgesSkipped.Add(float64(stats.EdgesSkipped))

	if err := s.queue.Ack(ctx, msg.ID); err != nil {
		return err
	}

	return s.maybeFinishRepo(ctx, job.Repo)
}

// maybeFinishRepo marks the repository done once nothing is pending or
// processing, reconciles the graph against the complete normalized set, and
// writes the audit snapshot.
func (s *NormalizeStage) maybeFinishRepo(ctx context.Context, repo string) error {
	counts, err := s.records.CountByStatus(ctx, repo)
	if err != nil {
		return err
	}
	if counts[storage.FileStatusPending] > 0 || counts[storage.FileStatusProcessing] > 0 {
		return nil
	}

	// Per-file deltas could only resolve calls against files already
	// linked; with the whole set available, a full import settles every
	// forward reference that now has a definition.
	if stats, err := s.linker.ImportFull(ctx, repo); err != nil {
		return fmt.Errorf("reconcile %s: %w", repo, err)
	} else if stats.CallsForwardRef > 0 {
		s.logger.Debug("pipeline.reconcile.forward_refs_remaining", "repo", repo, "count", stats.CallsForwardRef)
	}

	msg := fmt.Sprintf("%d files indexed, %d failed", counts[storage.FileStatusDone], counts[storage.FileStatusFailed])
	if err := s.repos.Set(ctx, repo, storage.RepoStateDone, msg); err != nil {
		return err
	}
	s.logger.Info("pipeline.repo.done", "repo", repo, "files_done", counts[storage.FileStatusDone], "files_failed", counts[storage.FileStatusFailed])

	if s.audit != nil {
		files, err := s.records.NormalizedRecords(ctx, repo)
		if err != nil {
			s.logger.Warn("pipeline.audit.load_failed", "repo", repo, "error", err)
			return nil
		}
		if err := s.audit.Write(repo, counts, files); err != nil {
			// Losing the audit file never blocks indexing.
			s.logger.Warn("pipeline.audit.write_failed", "repo", repo, "error", err)
		}
	}
	return nil
}

func (s *NormalizeStage) reject(ctx context.Context, msg *queue.Message, reason string) error {
	if err := s.queue.PublishRetry(ctx, msg, reason); err != nil {
		return err
	}
	return s.queue.Ack(ctx, msg.ID)
}
