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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/repograph/repograph/internal/output"
	"github.com/repograph/repograph/internal/ui"
	"github.com/repograph/repograph/pkg/queue"
)

// TopicDepth is one topic's depth for JSON output.
type TopicDepth struct {
	Topic    string `json:"topic"`
	Pending  int    `json:"pending"`
	Inflight int    `json:"inflight"`
}

// QueueResult represents the queue state for JSON output.
type QueueResult struct {
	Topics      []TopicDepth    `json:"topics"`
	DeadLetters []queue.Message `json:"dead_letters,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// runQueue executes the 'queue' CLI command, showing job queue depth and
// optionally the dead-lettered messages.
//
// Flags:
//   - --dead-letters: Also list up to N dead-lettered messages (default: 0)
//   - --requeue-stale: Release claims older than the given duration
//
// Examples:
//
//	repograph queue
//	repograph queue --dead-letters 20
//	repograph queue --requeue-stale 5m
func runQueue(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	deadLetters := fs.Int("dead-letters", 0, "Also list up to N dead-lettered messages")
	requeueStale := fs.Duration("requeue-stale", 0, "Release claims older than this duration (0 = don't)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph queue [options]

Shows durable job queue depth per topic.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	env, err := openRuntime(configPath, newLogger(false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.close()

	ctx := context.Background()
	q := env.pipe.Queue()

	if *requeueStale > 0 {
		var released int64
		for _, topic := range []string{queue.TopicFetch, queue.TopicNormalize} {
			n, err := q.RequeueStale(ctx, topic, *requeueStale)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: requeue %s: %v\n", topic, err)
				os.Exit(1)
			}
			released += n
		}
		if !globals.JSON {
			ui.Successf("Released %d stale claims", released)
		}
	}

	result := &QueueResult{Timestamp: time.Now()}
	for _, topic := range []string{queue.TopicFetch, queue.TopicNormalize, queue.TopicRetry} {
		pending, inflight, err := q.Depth(ctx, topic)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: queue depth: %v\n", err)
			os.Exit(1)
		}
		result.Topics = append(result.Topics, TopicDepth{Topic: topic, Pending: pending, Inflight: inflight})
	}

	if *deadLetters > 0 {
		msgs, err := q.DeadLetters(ctx, *deadLetters)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: dead letters: %v\n", err)
			os.Exit(1)
		}
		result.DeadLetters = msgs
	}

	if globals.JSON {
		_ = output.JSON(result)
		return
	}
	printQueue(result)
}

// printQueue prints the queue state as a table to stdout.
func printQueue(result *QueueResult) {
	ui.Header("Job Queue")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tPENDING\tINFLIGHT")
	for _, t := range result.Topics {
		fmt.Fprintf(w, "%s\t%d\t%d\n", t.Topic, t.Pending, t.Inflight)
	}
	_ = w.Flush()

	if len(result.DeadLetters) == 0 {
		return
	}

	fmt.Println()
	ui.SubHeader("Dead Letters:")
	for _, msg := range result.DeadLetters {
		var envelope struct {
			SourceTopic string `json:"source_topic"`
			Reason      string `json:"reason"`
		}
		_ = json.Unmarshal(msg.Payload, &envelope)
		fmt.Printf("  %s  %s\n", ui.DimText(msg.ID), envelope.Reason)
		fmt.Printf("    from %s, enqueued %s\n",
			envelope.SourceTopic, msg.EnqueuedAt.Format(time.RFC3339))
	}
}
