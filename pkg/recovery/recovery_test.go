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

package recovery

import (
	"context"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/internal/contract"
	"github.com/repograph/repograph/internal/testutil"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/storage"
)

type recoveryEnv struct {
	db      *storage.DB
	repos   *storage.RepoStatusStore
	records *storage.FileRecordStore
	queue   *queue.Queue
	sweeper *Sweeper
}

func newRecoveryEnv(t *testing.T) *recoveryEnv {
	t.Helper()
	db := testutil.StateDB(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &recoveryEnv{
		db:      db,
		repos:   storage.NewRepoStatusStore(db),
		records: storage.NewFileRecordStore(db),
		queue:   queue.New(db, logger),
	}
	info := func(repo string) (string, string, bool) {
		if repo == "demo" {
			return "acme", "u1", true
		}
		return "", "", false
	}
	env.sweeper = NewSweeper(env.repos, env.records, env.queue, info, logger)
	return env
}

// seedRecord inserts a file record and backdates it, so tests can age
// records without sleeping.
func seedRecord(t *testing.T, env *recoveryEnv, path string, age time.Duration, processing bool) {
	t.Helper()
	ctx := context.Background()
	_, err := env.records.UpsertDiscovered(ctx, "demo", path, "h-"+path, 10, contract.KindFile)
	require.NoError(t, err)
	if processing {
		_, err = env.records.MarkProcessing(ctx, "demo", path)
		require.NoError(t, err)
	}
	_, err = env.db.ExecContext(ctx,
		env.db.Rebind(`UPDATE file_records SET updated_at = ? WHERE repo = 'demo' AND path = ?`),
		time.Now().UTC().Add(-age), path)
	require.NoError(t, err)
}

// ageClaims backdates every in-flight queue claim past the threshold.
func ageClaims(t *testing.T, db *storage.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		db.Rebind(`UPDATE jobs SET dequeued_at = ? WHERE dequeued_at IS NOT NULL`),
		time.Now().UTC().Add(-2*StaleThreshold))
	require.NoError(t, err)
}

// ageRepoStatus backdates a repository's status row.
func ageRepoStatus(t *testing.T, db *storage.DB, repo string, age time.Duration) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		db.Rebind(`UPDATE repo_sync_status SET updated_at = ? WHERE repo = ?`),
		time.Now().UTC().Add(-age), repo)
	require.NoError(t, err)
}

func TestSweeper_RequeuesStaleProcessing(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	require.NoError(t, env.repos.Set(ctx, "demo", storage.RepoStateProcessing, ""))

	// Ten minutes stuck in processing: the worker that claimed it is dead.
	seedRecord(t, env, "src/stuck.js", 10*time.Minute, true)
	// One minute in processing: a live worker is on it.
	seedRecord(t, env, "src/live.js", time.Minute, true)

	n, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the stale record should be requeued")

	msg, err := env.queue.Dequeue(ctx, queue.TopicFetch)
	require.NoError(t, err)
	var job contract.FileJob
	require.NoError(t, msg.Decode(&job))
	assert.Equal(t, "src/stuck.js", job.Path)
	assert.Equal(t, "acme", job.Owner)
	assert.Equal(t, "u1", job.UserID)
	require.NoError(t, job.Validate())
}

func TestSweeper_RequeuesPendingOfActiveRepo(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	require.NoError(t, env.repos.Set(ctx, "demo", storage.RepoStateProcessing, ""))

	// Pending with no queue job left behind: the process died between the
	// record write and the enqueue.
	seedRecord(t, env, "src/orphan.js", time.Minute, false)

	n, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweeper_IgnoresDoneRepos(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()
	require.NoError(t, env.repos.Set(ctx, "demo", storage.RepoStateDone, ""))

	seedRecord(t, env, "src/old.js", time.Hour, true)

	n, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "completed repositories are not reconciled")
}

func TestSweeper_ReleasesAbandonedQueueClaims(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()

	_, err := env.queue.Enqueue(ctx, queue.TopicNormalize, contract.EnrichedJob{Repo: "demo", Path: "src/a.js"})
	require.NoError(t, err)
	_, err = env.queue.Dequeue(ctx, queue.TopicNormalize)
	require.NoError(t, err)

	// Claim is fresh, first sweep leaves it alone.
	n, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ageClaims(t, env.db)
	n, err = env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a claim past the threshold should be released")
}

func TestSweeper_ResumesRateLimitedRepoAfterWindow(t *testing.T) {
	env := newRecoveryEnv(t)
	ctx := context.Background()

	seedRecord(t, env, "src/a.js", 10*time.Minute, false)
	require.NoError(t, env.repos.Set(ctx, "demo", storage.RepoStateRateLimited, "resets soon"))

	// The status row is fresh, so the window may still be open.
	n, err := env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a fresh rate_limited repo stays parked")

	ageRepoStatus(t, env.db, "demo", 10*time.Minute)
	n, err = env.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err := env.repos.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStateProcessing, status.State)
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	env := newRecoveryEnv(t)
	worker := NewWorker(env.sweeper, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
