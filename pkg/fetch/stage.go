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

package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/repograph/repograph/internal/contract"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/storage"
)

// Stage consumes FileJob messages, fetches contents, and hands the result
// to the normalize topic.
type Stage struct {
	records *storage.FileRecordStore
	repos   *storage.RepoStatusStore
	queue   *queue.Queue
	client  Client
	creds   CredentialResolver
	logger  *slog.Logger
}

// NewStage wires the fetch stage.
func NewStage(records *storage.FileRecordStore, repos *storage.RepoStatusStore, q *queue.Queue, client Client, creds CredentialResolver, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{records: records, repos: repos, queue: q, client: client, creds: creds, logger: logger}
}

// Process handles one fetch delivery. The method is idempotent: a
// redelivered message for an already-done record acks without refetching.
//
// Returned errors mean the delivery was neither acked nor dead-lettered.
// Rate limit errors propagate unwrapped so the scheduler can read the reset
// hint; for everything else the claim stays in place and the stale-claim
// sweep redelivers later.
func (s *Stage) Process(ctx context.Context, msg *queue.Message) error {
	var job contract.FileJob
	if err := msg.Decode(&job); err != nil {
		return s.reject(ctx, msg, fmt.Sprintf("undecodable payload: %v", err))
	}
	if err := job.Validate(); err != nil {
		return s.reject(ctx, msg, err.Error())
	}

	claimed, err := s.records.MarkProcessing(ctx, job.Repo, job.Path)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("fetch.skip_done", "repo", job.Repo, "path", job.Path)
		return s.queue.Ack(ctx, msg.ID)
	}

	if job.Size > int64(contract.MaxFileBytes()) {
		if err := s.records.MarkFailed(ctx, job.Repo, job.Path,
			fmt.Sprintf("file size %d exceeds limit %d", job.Size, contract.MaxFileBytes())); err != nil {
			return err
		}
		s.logger.Warn("fetch.oversize", "repo", job.Repo, "path", job.Path, "size", job.Size)
		return s.queue.Ack(ctx, msg.ID)
	}

	token, err := s.creds.Token(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials for %s: %w", job.UserID, err)
	}

	content, err := s.client.FetchFile(ctx, FileRequest{
		Owner: job.Owner,
		Repo:  job.Repo,
		Path:  job.Path,
		Token: token,
	})
	switch {
	case err == nil:

	case IsRateLimit(err):
		// Release the claim and flag the repository; the scheduler pauses
		// and the job is picked up again after the window passes.
		if stateErr := s.repos.Set(ctx, job.Repo, storage.RepoStateRateLimited, err.Error()); stateErr != nil {
			s.logger.Error("fetch.mark_rate_limited_failed", "repo", job.Repo, "error", stateErr)
		}
		if reqErr := s.queue.Requeue(ctx, msg.ID); reqErr != nil {
			return reqErr
		}
		return err

	case IsPermanent(err):
		if failErr := s.records.MarkFailed(ctx, job.Repo, job.Path, err.Error()); failErr != nil {
			return failErr
		}
		return s.reject(ctx, msg, err.Error())

	default:
		// Transient. No local retry; the claim goes stale and the sweep
		// redelivers.
		s.logger.Warn("fetch.transient_error", "repo", job.Repo, "path", job.Path, "error", err)
		return err
	}

	if err := s.records.SetRawContent(ctx, job.Repo, job.Path, string(content)); err != nil {
		return err
	}

	next := contract.EnrichedJob{Repo: job.Repo, Path: job.Path, ContentHash: job.ContentHash}
	if _, err := s.queue.Enqueue(ctx, queue.TopicNormalize, next); err != nil {
		// The record keeps its raw content; redelivery of this message
		// skips the fetch via the done check only after normalization, so
		// leaving the claim is safe.
		return err
	}

	s.logger.Info("fetch.complete", "repo", job.Repo, "path", job.Path, "bytes", len(content))
	return s.queue.Ack(ctx, msg.ID)
}

// reject dead-letters the message and acks it.
func (s *Stage) reject(ctx context.Context, msg *queue.Message, reason string) error {
	if err := s.queue.PublishRetry(ctx, msg, reason); err != nil {
		return err
	}
	return s.queue.Ack(ctx, msg.ID)
}
