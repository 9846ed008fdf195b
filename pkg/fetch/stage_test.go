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
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/internal/contract"
	"github.com/repograph/repograph/internal/testutil"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/storage"
)

type fakeClient struct {
	content map[string]string
	err     error
	calls   int
}

func (c *fakeClient) FetchFile(_ context.Context, req FileRequest) ([]byte, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []byte(c.content[req.Path]), nil
}

type stageEnv struct {
	records *storage.FileRecordStore
	repos   *storage.RepoStatusStore
	queue   *queue.Queue
	client  *fakeClient
	stage   *Stage
}

func newStageEnv(t *testing.T) *stageEnv {
	t.Helper()
	db := testutil.StateDB(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &stageEnv{
		records: storage.NewFileRecordStore(db),
		repos:   storage.NewRepoStatusStore(db),
		queue:   queue.New(db, logger),
		client:  &fakeClient{content: map[string]string{}},
	}
	env.stage = NewStage(env.records, env.repos, env.queue, env.client, &EnvResolver{}, logger)
	return env
}

func (e *stageEnv) deliver(t *testing.T, job contract.FileJob) *queue.Message {
	t.Helper()
	ctx := context.Background()
	_, err := e.queue.Enqueue(ctx, queue.TopicFetch, job)
	require.NoError(t, err)
	msg, err := e.queue.Dequeue(ctx, queue.TopicFetch)
	require.NoError(t, err)
	return msg
}

func TestStage_FetchSuccess(t *testing.T) {
	env := newStageEnv(t)
	ctx := context.Background()
	env.client.content["src/a.js"] = "function f() {}"

	_, err := env.records.UpsertDiscovered(ctx, "demo", "src/a.js", "h1", 15, contract.KindFile)
	require.NoError(t, err)

	msg := env.deliver(t, contract.FileJob{Repo: "demo", Owner: "acme", Path: "src/a.js", ContentHash: "h1", Size: 15, Kind: contract.KindFile})
	require.NoError(t, env.stage.Process(ctx, msg))

	rec, err := env.records.Get(ctx, "demo", "src/a.js")
	require.NoError(t, err)
	assert.Equal(t, "function f() {}", rec.RawContent)
	assert.Equal(t, storage.FileStatusProcessing, rec.Status, "done belongs to the normalizer")

	next, err := env.queue.Dequeue(ctx, queue.TopicNormalize)
	require.NoError(t, err)
	var enriched contract.EnrichedJob
	require.NoError(t, next.Decode(&enriched))
	assert.Equal(t, "src/a.js", enriched.Path)

	pending, inflight, err := env.queue.Depth(ctx, queue.TopicFetch)
	require.NoError(t, err)
	assert.Zero(t, pending+inflight, "fetch delivery should be acked")
}

func TestStage_RedeliveryOfDoneRecordSkipsFetch(t *testing.T) {
	env := newStageEnv(t)
	ctx := context.Background()

	_, err := env.records.UpsertDiscovered(ctx, "demo", "src/a.js", "h1", 5, contract.KindFile)
	require.NoError(t, err)
	_, err = env.records.MarkProcessing(ctx, "demo", "src/a.js")
	require.NoError(t, err)
	require.NoError(t, env.records.SetNormalized(ctx, "demo", "src/a.js", nil))

	msg := env.deliver(t, contract.FileJob{Repo: "demo", Owner: "acme", Path: "src/a.js", Size: 5, Kind: contract.KindFile})
	require.NoError(t, env.stage.Process(ctx, msg))

	assert.Zero(t, env.client.calls, "done records must not be refetched")
}

func TestStage_RateLimitReleasesClaimAndFlagsRepo(t *testing.T) {
	env := newStageEnv(t)
	ctx := context.Background()
	env.client.err = &RateLimitError{RetryAfter: 45 * time.Second}

	_, err := env.records.UpsertDiscovered(ctx, "demo", "src/a.js", "h1", 5, contract.KindFile)
	require.NoError(t, err)

	msg := env.deliver(t, contract.FileJob{Repo: "demo", Owner: "acme", Path: "src/a.js", Size: 5, Kind: contract.KindFile})
	err = env.stage.Process(ctx, msg)
	require.True(t, IsRateLimit(err), "rate limit must propagate to the scheduler, got %v", err)

	status, err := env.repos.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStateRateLimited, status.State)

	pending, _, err := env.queue.Depth(ctx, queue.TopicFetch)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "job should be back on the queue for the retry")
}

func TestStage_PermanentFailureDeadLetters(t *testing.T) {
	env := newStageEnv(t)
	ctx := context.Background()
	env.client.err = &PermanentError{Status: 404, Reason: "file not found at origin"}

	_, err := env.records.UpsertDiscovered(ctx, "demo", "src/gone.js", "h1", 5, contract.KindFile)
	require.NoError(t, err)

	msg := env.deliver(t, contract.FileJob{Repo: "demo", Owner: "acme", Path: "src/gone.js", Size: 5, Kind: contract.KindFile})
	require.NoError(t, env.stage.Process(ctx, msg), "permanent failures are handled, not propagated")

	rec, err := env.records.Get(ctx, "demo", "src/gone.js")
	require.NoError(t, err)
	assert.Equal(t, storage.FileStatusFailed, rec.Status)

	dead, err := env.queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestStage_OversizeFileIsNotFetched(t *testing.T) {
	env := newStageEnv(t)
	ctx := context.Background()

	_, err := env.records.UpsertDiscovered(ctx, "demo", "dist/bundle.js", "h1", 1<<30, contract.KindFile)
	require.NoError(t, err)

	msg := env.deliver(t, contract.FileJob{Repo: "demo", Owner: "acme", Path: "dist/bundle.js", Size: 1 << 30, Kind: contract.KindFile})
	require.NoError(t, env.stage.Process(ctx, msg))

	assert.Zero(t, env.client.calls)
	rec, err := env.records.Get(ctx, "demo", "dist/bundle.js")
	require.NoError(t, err)
	assert.Equal(t, storage.FileStatusFailed, rec.Status)
}

func TestStage_InvalidJobDeadLetters(t *testing.T) {
	env := newStageEnv(t)
	ctx := context.Background()

	msg := env.deliver(t, contract.FileJob{Repo: "demo", Path: "../escape"})
	require.NoError(t, env.stage.Process(ctx, msg))

	dead, err := env.queue.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Zero(t, env.client.calls)
}
