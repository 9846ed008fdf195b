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

	"github.com/repograph/repograph/pkg/fetch"
	"github.com/repograph/repograph/pkg/graph"
	"github.com/repograph/repograph/pkg/normalize"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/recovery"
	"github.com/repograph/repograph/pkg/scheduler"
	"github.com/repograph/repograph/pkg/storage"
)

// Options configure a Pipeline.
type Options struct {
	DB          *storage.DB
	GraphStore  graph.Store
	Scheduler   *scheduler.Scheduler
	Client      fetch.Client
	Credentials fetch.CredentialResolver
	Repos       []RepoConfig

	// AuditDir receives per-repository completion snapshots; empty
	// disables audit output.
	AuditDir string

	Logger *slog.Logger
}

// Pipeline owns the assembled stages and the repository registry.
type Pipeline struct {
	records    *storage.FileRecordStore
	repoStatus *storage.RepoStatusStore
	queue      *queue.Queue
	sched      *scheduler.Scheduler
	graphStore graph.Store
	linker     *graph.Linker
	discovery  *Discoverer
	fetchStage *fetch.Stage
	normStage  *NormalizeStage
	repos      map[string]RepoConfig
	logger     *slog.Logger
}

// New assembles a pipeline from its parts.
func New(opts Options) (*Pipeline, error) {
	if opts.DB == nil || opts.GraphStore == nil || opts.Scheduler == nil || opts.Client == nil {
		return nil, errors.New("pipeline: db, graph store, scheduler and client are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Credentials == nil {
		opts.Credentials = &fetch.EnvResolver{}
	}
	pipeMetrics.init()

	records := storage.NewFileRecordStore(opts.DB)
	repoStatus := storage.NewRepoStatusStore(opts.DB)
	q := queue.New(opts.DB, logger)
	linker := graph.NewLinker(opts.GraphStore, records, logger)

	var audit *AuditWriter
	if opts.AuditDir != "" {
		audit = NewAuditWriter(opts.AuditDir)
	}

	p := &Pipeline{
		records:    records,
		repoStatus: repoStatus,
		queue:      q,
		sched:      opts.Scheduler,
		graphStore: opts.GraphStore,
		linker:     linker,
		discovery:  NewDiscoverer(records, q, logger),
		fetchStage: fetch.NewStage(records, repoStatus, q, opts.Client, opts.Credentials, logger),
		normStage:  NewNormalizeStage(records, repoStatus, q, normalize.NewNormalizer(logger), linker, audit, logger),
		repos:      make(map[string]RepoConfig, len(opts.Repos)),
		logger:     logger,
	}
	for _, r := range opts.Repos {
		p.repos[r.Name] = r
	}
	return p, nil
}

// Queue exposes the durable queue for status commands.
func (p *Pipeline) Queue() *queue.Queue { return p.queue }

// Records exposes the file record store for status commands.
func (p *Pipeline) Records() *storage.FileRecordStore { return p.records }

// RepoStatus exposes the repository status store.
func (p *Pipeline) RepoStatus() *storage.RepoStatusStore { return p.repoStatus }

// Repo looks up a configured repository.
func (p *Pipeline) Repo(name string) (RepoConfig, bool) {
	r, ok := p.repos[name]
	return r, ok
}

// RepoInfo adapts the registry for the recovery sweeper.
func (p *Pipeline) RepoInfo() recovery.RepoInfo {
	return func(repo string) (string, string, bool) {
		r, ok := p.repos[repo]
		if !ok {
			return "", "", false
		}
		return r.Owner, r.UserID, true
	}
}

// Generate starts or refreshes a repository's index: discovery runs
// synchronously, fetch and normalize proceed through the consumers. With
// force every record is reset first so all files are refetched.
func (p *Pipeline) Generate(ctx context.Context, repoName string, force bool) (*DiscoveryResult, error) {
	repo, ok := p.repos[repoName]
	if !ok {
		return nil, fmt.Errorf("repository %s is not configured", repoName)
	}

	if force {
		n, err := p.records.ResetRepo(ctx, repoName)
		if err != nil {
			return nil, err
		}
		p.logger.Info("pipeline.generate.force_reset", "repo", repoName, "records", n)
	}

	if err := p.repoStatus.Set(ctx, repoName, storage.RepoStateSyncing, ""); err != nil {
		return nil, err
	}

	result, err := p.discovery.Discover(ctx, repo)
	if err != nil {
		if stateErr := p.repoStatus.Set(ctx, repoName, storage.RepoStateFailed, err.Error()); stateErr != nil {
			p.logger.Error("pipeline.generate.state_failed", "repo", repoName, "error", stateErr)
		}
		return nil, err
	}

	if result.Queued == 0 {
		if err := p.repoStatus.Set(ctx, repoName, storage.RepoStateDone, "nothing to do"); err != nil {
			return nil, err
		}
		return result, nil
	}

	msg := fmt.Sprintf("%d files queued", result.Queued)
	if err := p.repoStatus.Set(ctx, repoName, storage.RepoStateProcessing, msg); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a repository's subgraph and puts its file records back to
// pending, so a later Generate rebuilds the graph from scratch.
func (p *Pipeline) Delete(ctx context.Context, repoName string) (*graph.DeleteStats, error) {
	stats, err := graph.DeleteRepository(ctx, p.graphStore, repoName, p.logger)
	if err != nil {
		return nil, err
	}
	n, err := p.records.ResetRepo(ctx, repoName)
	if err != nil {
		return stats, err
	}
	p.logger.Info("pipeline.delete.records_reset", "repo", repoName, "records", n)
	if err := p.repoStatus.Delete(ctx, repoName); err != nil {
		return stats, err
	}
	return stats, nil
}

// Reimport rebuilds a repository's graph from the persisted normalized set,
// the manual reconciliation path.
func (p *Pipeline) Reimport(ctx context.Context, repoName string) (*graph.ImportStats, error) {
	return p.linker.ImportFull(ctx, repoName)
}

// consumerBackoff is the pause after a consumer-loop failure before the
// next dequeue attempt.
const consumerBackoff = 5 * time.Second

// backoff sleeps for the consumer backoff, returning early when ctx ends.
func backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(consumerBackoff):
	}
}

// RunFetchConsumer consumes fetch jobs until ctx ends. Each job runs as a
// scheduler task so origin pacing is enforced in exactly one place. Only
// context cancellation stops the loop; dequeue failures back off and
// continue.
func (p *Pipeline) RunFetchConsumer(ctx context.Context) {
	p.logger.Info("pipeline.fetch_consumer.start")
	for {
		msg, err := p.queue.Dequeue(ctx, queue.TopicFetch)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline.fetch_consumer.stop")
				return
			}
			p.logger.Warn("pipeline.fetch_consumer.dequeue_failed", "error", err)
			backoff(ctx)
			continue
		}

		future := p.sched.Submit(func(taskCtx context.Context) error {
			return p.fetchStage.Process(taskCtx, msg)
		})
		if err := future.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Rate-limited jobs were requeued by the stage; transient
			// failures keep their claim for the stale sweep. Either way
			// this consumer just moves on.
			p.logger.Warn("pipeline.fetch_consumer.task_failed", "job_id", msg.ID, "error", err)
			pipeMetrics.filesFailed.Inc()
			continue
		}
		pipeMetrics.filesFetched.Inc()
	}
}

// RunNormalizeConsumer consumes normalize jobs until ctx ends. Like the
// fetch consumer it survives dequeue failures with a backoff.
func (p *Pipeline) RunNormalizeConsumer(ctx context.Context) {
	p.logger.Info("pipeline.normalize_consumer.start")
	for {
		msg, err := p.queue.Dequeue(ctx, queue.TopicNormalize)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline.normalize_consumer.stop")
				return
			}
			p.logger.Warn("pipeline.normalize_consumer.dequeue_failed", "error", err)
			backoff(ctx)
			continue
		}
		if err := p.normStage.Process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("pipeline.normalize_consumer.task_failed", "job_id", msg.ID, "error", err)
		}
	}
}
