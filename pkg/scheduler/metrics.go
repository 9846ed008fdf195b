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

package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsScheduler holds Prometheus metrics for the task scheduler.
type metricsScheduler struct {
	once sync.Once

	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	rateLimitHits  prometheus.Counter
	rateLimitFast  prometheus.Counter
	pauseSeconds   prometheus.Counter

	taskDuration prometheus.Histogram
}

var schedMetrics metricsScheduler

func (m *metricsScheduler) init() {
	m.once.Do(func() {
		m.tasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_sched_tasks_completed_total", Help: "Tasks that finished without error"})
		m.tasksFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_sched_tasks_failed_total", Help: "Tasks that finished with an error"})
		m.rateLimitHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_sched_rate_limit_hits_total", Help: "Rate limit responses observed by tasks"})
		m.rateLimitFast = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_sched_rate_limit_fail_fast_total", Help: "Rate limits failed fast because the reset exceeded the delay ceiling"})
		m.pauseSeconds = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_sched_pause_seconds_total", Help: "Cumulative seconds the scheduler spent paused"})

		m.taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repograph_sched_task_seconds",
			Help:    "Task execution duration",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})

		prometheus.MustRegister(
			m.tasksCompleted, m.tasksFailed,
			m.rateLimitHits, m.rateLimitFast, m.pauseSeconds,
			m.taskDuration,
		)
	})
}
