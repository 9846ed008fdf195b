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

// Package queue is a durable at-least-once job queue backed by the shared
// relational store. Jobs survive process restarts; consumers must therefore
// treat every delivery as possibly repeated and keep their handlers
// idempotent.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/repograph/repograph/pkg/storage"
)

// Well-known topics. Fetch carries discovered files toward the origin
// fetcher, normalize carries fetched files toward the normalizer, retry is
// the dead-letter topic for operator inspection.
const (
	TopicFetch     = "fetch"
	TopicNormalize = "normalize"
	TopicRetry     = "retry"
)

// pollInterval bounds how stale a consumer can be when the enqueue
// notification is missed, e.g. after a restart with jobs already on disk.
const pollInterval = time.Second

// Message is one delivered job. Payload is the JSON given to Enqueue.
type Message struct {
	ID         string
	Topic      string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s message %s: %w", m.Topic, m.ID, err)
	}
	return nil
}

// retryEnvelope wraps a dead-lettered payload with its failure context.
type retryEnvelope struct {
	SourceTopic string          `json:"source_topic"`
	Reason      string          `json:"reason"`
	Payload     json.RawMessage `json:"payload"`
}

// Queue is safe for concurrent producers and consumers within one process.
// Across processes the timed poll provides delivery, just slower.
type Queue struct {
	db     *storage.DB
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// New creates a queue over an opened database.
func New(db *storage.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger, waiters: make(map[string][]chan struct{})}
}

// Enqueue persists a job and wakes one consumer of the topic. payload is
// JSON-encoded. Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", topic, err)
	}

	id := uuid.NewString()
	query := q.db.Rebind(`
		INSERT INTO jobs (id, topic, payload, enqueued_at) VALUES (?, ?, ?, ?)`)
	if _, err := q.db.ExecContext(ctx, query, id, topic, string(body), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", topic, err)
	}

	q.logger.Debug("queue.enqueue", "topic", topic, "job_id", id)
	q.notify(topic)
	return id, nil
}

// Dequeue blocks until a job on the topic is claimed or ctx ends. The claim
// stamps dequeued_at and bumps attempts; the job stays on disk until Ack so
// a crashed consumer's claim can be swept back by RequeueStale.
func (q *Queue) Dequeue(ctx context.Context, topic string) (*Message, error) {
	for {
		msg, err := q.tryClaim(ctx, topic)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		wake := q.addWaiter(topic)
		// A job may have landed between the failed claim and the waiter
		// registration; re-check before sleeping.
		msg, err = q.tryClaim(ctx, topic)
		if err != nil || msg != nil {
			q.removeWaiter(topic, wake)
			return msg, err
		}

		select {
		case <-ctx.Done():
			q.removeWaiter(topic, wake)
			return nil, ctx.Err()
		case <-wake:
		case <-time.After(pollInterval):
			q.removeWaiter(topic, wake)
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context, topic string) (*Message, error) {
	query := q.db.Rebind(`
		UPDATE jobs SET dequeued_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE topic = ? AND dequeued_at IS NULL
			ORDER BY enqueued_at, id LIMIT 1
		)
		RETURNING id, topic, payload, attempts, enqueued_at`)

	var msg Message
	var payload string
	err := q.db.QueryRowContext(ctx, query, time.Now().UTC(), topic).
		Scan(&msg.ID, &msg.Topic, &payload, &msg.Attempts, &msg.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s job: %w", topic, err)
	}
	msg.Payload = []byte(payload)
	return &msg, nil
}

// Ack removes a completed job.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, q.db.Rebind(`DELETE FROM jobs WHERE id = ?`), id); err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	return nil
}

// Requeue releases a claimed job for redelivery, keeping its attempt count.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	var topic string
	query := q.db.Rebind(`UPDATE jobs SET dequeued_at = NULL WHERE id = ? RETURNING topic`)
	err := q.db.QueryRowContext(ctx, query, id).Scan(&topic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", id, err)
	}
	q.notify(topic)
	return nil
}

// RequeueStale releases claims older than the threshold, the recovery path
// for consumers that died between claim and ack.
func (q *Queue) RequeueStale(ctx context.Context, topic string, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := q.db.Rebind(`
		UPDATE jobs SET dequeued_at = NULL
		WHERE topic = ? AND dequeued_at IS NOT NULL AND dequeued_at < ?`)
	res, err := q.db.ExecContext(ctx, query, topic, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale %s jobs: %w", topic, err)
	}
	n, err := res.RowsAffected()
	if n > 0 {
		q.logger.Info("queue.requeue_stale", "topic", topic, "jobs", n)
		q.notify(topic)
	}
	return n, err
}

// PublishRetry dead-letters a failed message to the retry topic, wrapped
// with its source topic and failure reason. Dead-lettered jobs are not
// consumed automatically; the queue command surfaces them.
func (q *Queue) PublishRetry(ctx context.Context, src *Message, reason string) error {
	env := retryEnvelope{SourceTopic: src.Topic, Reason: reason, Payload: src.Payload}
	if _, err := q.Enqueue(ctx, TopicRetry, env); err != nil {
		return err
	}
	q.logger.Warn("queue.dead_letter", "source_topic", src.Topic, "job_id", src.ID, "reason", reason)
	return nil
}

// Depth reports undelivered and in-flight job counts for a topic.
func (q *Queue) Depth(ctx context.Context, topic string) (pending, inflight int, err error) {
	query := q.db.Rebind(`
		SELECT
			COUNT(CASE WHEN dequeued_at IS NULL THEN 1 END),
			COUNT(CASE WHEN dequeued_at IS NOT NULL THEN 1 END)
		FROM jobs WHERE topic = ?`)
	if err := q.db.QueryRowContext(ctx, query, topic).Scan(&pending, &inflight); err != nil {
		return 0, 0, fmt.Errorf("queue depth %s: %w", topic, err)
	}
	return pending, inflight, nil
}

// DeadLetters lists the retry topic's contents, newest last.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := q.db.Rebind(`
		SELECT id, topic, payload, attempts, enqueued_at FROM jobs
		WHERE topic = ? ORDER BY enqueued_at LIMIT ?`)
	rows, err := q.db.QueryContext(ctx, query, TopicRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var payload string
		if err := rows.Scan(&msg.ID, &msg.Topic, &payload, &msg.Attempts, &msg.EnqueuedAt); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payload)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (q *Queue) addWaiter(topic string) chan struct{} {
	ch := make(chan struct{}, 1)
	q.mu.Lock()
	q.waiters[topic] = append(q.waiters[topic], ch)
	q.mu.Unlock()
	return ch
}

func (q *Queue) removeWaiter(topic string, ch chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ws := q.waiters[topic]
	for i, w := range ws {
		if w == ch {
			q.waiters[topic] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// notify wakes one waiter of the topic, if any.
func (q *Queue) notify(topic string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ws := q.waiters[topic]
	if len(ws) == 0 {
		return
	}
	ch := ws[0]
	q.waiters[topic] = ws[1:]
	select {
	case ch <- struct{}{}:
	default:
	}
}
