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

package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/internal/testutil"
)

type testPayload struct {
	Path string `json:"path"`
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New(testutil.StateDB(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, TopicFetch, testPayload{Path: "src/a.js"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msg, err := q.Dequeue(ctx, TopicFetch)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, 1, msg.Attempts)

	var got testPayload
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, "src/a.js", got.Path)

	require.NoError(t, q.Ack(ctx, msg.ID))
	pending, inflight, err := q.Depth(ctx, TopicFetch)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, inflight)
}

func TestQueue_FIFOWithinTopic(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, TopicFetch, testPayload{Path: "src/a.js"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, TopicFetch, testPayload{Path: "src/b.js"})
	require.NoError(t, err)

	msg, err := q.Dequeue(ctx, TopicFetch)
	require.NoError(t, err)
	assert.Equal(t, first, msg.ID, "oldest job should be delivered first")
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	got := make(chan *Message, 1)
	go func() {
		msg, err := q.Dequeue(ctx, TopicNormalize)
		if err == nil {
			got <- msg
		}
	}()

	// Give the consumer time to park before producing.
	time.Sleep(50 * time.Millisecond)
	_, err := q.Enqueue(ctx, TopicNormalize, testPayload{Path: "src/a.js"})
	require.NoError(t, err)

	select {
	case msg := <-got:
		var p testPayload
		require.NoError(t, msg.Decode(&p))
		assert.Equal(t, "src/a.js", p.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("blocked consumer never woke after enqueue")
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx, TopicFetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_RequeueStale(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TopicFetch, testPayload{Path: "src/a.js"})
	require.NoError(t, err)
	msg, err := q.Dequeue(ctx, TopicFetch)
	require.NoError(t, err)

	// The claim is fresh, so a sweep with any threshold larger than its
	// age must leave it alone.
	n, err := q.RequeueStale(ctx, TopicFetch, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero threshold every claim is stale.
	n, err = q.RequeueStale(ctx, TopicFetch, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	again, err := q.Dequeue(ctx, TopicFetch)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID, "released job should be redelivered")
	assert.Equal(t, 2, again.Attempts)
}

func TestQueue_PublishRetry(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TopicFetch, testPayload{Path: "src/a.js"})
	require.NoError(t, err)
	msg, err := q.Dequeue(ctx, TopicFetch)
	require.NoError(t, err)

	require.NoError(t, q.PublishRetry(ctx, msg, "origin returned 500"))
	require.NoError(t, q.Ack(ctx, msg.ID))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)

	var env retryEnvelope
	require.NoError(t, dead[0].Decode(&env))
	assert.Equal(t, TopicFetch, env.SourceTopic)
	assert.Equal(t, "origin returned 500", env.Reason)
}
