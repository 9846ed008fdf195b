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

// Package scheduler paces work against a rate-limited origin.
//
// Tasks run on a bounded worker pool. When a task reports a rate limit its
// future is rejected with that error and the scheduler pauses new starts
// for the origin-suggested window, so only later submissions wait it out;
// windows beyond the ceiling skip the pause entirely so callers are not
// held hostage by an hour-long quota reset. In-flight tasks are never
// interrupted by a pause.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/repograph/repograph/pkg/fetch"
)

// Task is one unit of origin-bound work.
type Task func(ctx context.Context) error

// Signal types emitted on the Signals channel.
const SignalRateLimit = "RATE_LIMIT"

// Signal notifies observers of scheduler state changes.
type Signal struct {
	Type    string
	ResetMS int64
}

// Future resolves when its task has finished.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task finished or ctx ended, returning the task's
// final error.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return f.err
	}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Options configure a Scheduler. Zero values take the documented defaults.
type Options struct {
	// Concurrency is the worker pool size, default 1. The default is
	// deliberate: most origins meter per token, so parallel fetches only
	// reach the quota faster.
	Concurrency int

	// DefaultDelay is the pause used when the origin gave no reset hint,
	// default 60s.
	DefaultDelay time.Duration

	// MaxDelay is the fail-fast ceiling, default 60s. Rate limits whose
	// window exceeds it fail the task instead of pausing.
	MaxDelay time.Duration

	Logger *slog.Logger
}

type submission struct {
	task   Task
	future *Future
}

// Scheduler runs tasks with rate limit aware pacing.
type Scheduler struct {
	opts    Options
	tasks   chan submission
	signals chan Signal
	logger  *slog.Logger

	mu          sync.Mutex
	pausedUntil time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler. Call Start before submitting.
func New(opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = 60 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	schedMetrics.init()
	return &Scheduler{
		opts:    opts,
		tasks:   make(chan submission, 256),
		signals: make(chan Signal, 16),
		logger:  opts.Logger,
	}
}

// Signals exposes scheduler state changes for observers such as the serve
// command's status output. Slow receivers drop signals rather than block
// the workers.
func (s *Scheduler) Signals() <-chan Signal {
	return s.signals
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.opts.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.logger.Info("scheduler.start", "concurrency", s.opts.Concurrency)
}

// Stop stops accepting work and waits for in-flight tasks. Queued but
// unstarted futures resolve with the stop error.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.started = false
	s.logger.Info("scheduler.stop")
}

// ErrStopped resolves futures whose task never ran because the scheduler
// shut down first.
var ErrStopped = errors.New("scheduler stopped before task ran")

// Submit queues a task. The returned future resolves with the task's
// outcome; rate-limited tasks are not rerun by the scheduler.
func (s *Scheduler) Submit(task Task) *Future {
	f := &Future{done: make(chan struct{})}
	s.tasks <- submission{task: task, future: f}
	return f
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case sub := <-s.tasks:
			sub.future.resolve(s.run(ctx, sub.task))
		}
	}
}

// drain resolves queued submissions after shutdown so no Wait hangs.
func (s *Scheduler) drain() {
	for {
		select {
		case sub := <-s.tasks:
			sub.future.resolve(ErrStopped)
		default:
			return
		}
	}
}

// run executes one task and maps its rate limit outcome onto scheduler
// state. A rate-limited task always fails with its original error; the
// pause only protects subsequent task starts. Redelivery of the underlying
// work is the queue's job, not this pool's.
func (s *Scheduler) run(ctx context.Context, task Task) error {
	if err := s.gate(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := task(ctx)
	schedMetrics.taskDuration.Observe(time.Since(start).Seconds())

	var rl *fetch.RateLimitError
	if !errors.As(err, &rl) {
		if err != nil {
			schedMetrics.tasksFailed.Inc()
		} else {
			schedMetrics.tasksCompleted.Inc()
		}
		return err
	}

	schedMetrics.rateLimitHits.Inc()
	schedMetrics.tasksFailed.Inc()
	delay := rl.Delay(s.opts.DefaultDelay)
	s.emit(Signal{Type: SignalRateLimit, ResetMS: delay.Milliseconds()})

	if delay > s.opts.MaxDelay {
		schedMetrics.rateLimitFast.Inc()
		s.logger.Warn("scheduler.rate_limit.fail_fast", "delay", delay, "ceiling", s.opts.MaxDelay)
		return err
	}

	s.pause(delay)
	return err
}

// pause blocks new task starts until the window passes. Overlapping rate
// limits extend the pause, never shorten it.
func (s *Scheduler) pause(d time.Duration) {
	until := time.Now().Add(d)
	s.mu.Lock()
	if until.After(s.pausedUntil) {
		s.pausedUntil = until
	}
	s.mu.Unlock()
	schedMetrics.pauseSeconds.Add(d.Seconds())
	s.logger.Info("scheduler.pause", "duration", d)
}

// gate waits out any active pause.
func (s *Scheduler) gate(ctx context.Context) error {
	for {
		s.mu.Lock()
		wait := time.Until(s.pausedUntil)
		s.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) emit(sig Signal) {
	select {
	case s.signals <- sig:
	default:
	}
}
