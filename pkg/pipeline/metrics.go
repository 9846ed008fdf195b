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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsPipeline holds Prometheus metrics for the ingestion pipeline.
type metricsPipeline struct {
	once sync.Once

	// Discovery
	filesDiscovered prometheus.Counter
	filesSkipped    prometheus.Counter
	jobsEnqueued    prometheus.Counter

	// Consumers
	filesFetched    prometheus.Counter
	filesNormalized prometheus.Counter
	filesFailed     prometheus.Counter

	// Linker
	nodesUpserted prometheus.Counter
	edgesUpserted prometheus.Counter
	edgesSkipped  prometheus.Counter

	// Durations
	discoverDuration  prometheus.Histogram
	normalizeDuration prometheus.Histogram
	linkDuration      prometheus.Histogram
}

var pipeMetrics metricsPipeline

func (m *metricsPipeline) init() {
	m.once.Do(func() {
		m.filesDiscovered = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_files_discovered_total", Help: "Files found by discovery"})
		m.filesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_files_skipped_total", Help: "Files excluded during discovery"})
		m.jobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_jobs_enqueued_total", Help: "Fetch jobs placed on the queue"})

		m.filesFetched = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_files_fetched_total", Help: "Files retrieved from the origin"})
		m.filesNormalized = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_files_normalized_total", Help: "Files normalized and linked"})
		m.filesFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_files_failed_total", Help: "Files that ended in a failed record"})

		m.nodesUpserted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_nodes_upserted_total", Help: "Graph node upserts"})
		m.edgesUpserted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_edges_upserted_total", Help: "Graph edge upserts"})
		m.edgesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_pipe_edges_skipped_total", Help: "Edges skipped for missing endpoints"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.discoverDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repograph_pipe_discover_seconds", Help: "Discovery walk duration", Buckets: buckets})
		m.normalizeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repograph_pipe_normalize_seconds", Help: "Per-file normalization duration", Buckets: buckets})
		m.linkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repograph_pipe_link_seconds", Help: "Per-batch link duration", Buckets: buckets})

		prometheus.MustRegister(
			m.filesDiscovered, m.filesSkipped, m.jobsEnqueued,
			m.filesFetched, m.filesNormalized, m.filesFailed,
			m.nodesUpserted, m.edgesUpserted, m.edgesSkipped,
			m.discoverDuration, m.normalizeDuration, m.linkDuration,
		)
	})
}
