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
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repograph/repograph/internal/output"
	"github.com/repograph/repograph/internal/ui"
	"github.com/repograph/repograph/pkg/pipeline"
	"github.com/repograph/repograph/pkg/storage"
)

// GenerateResult is the generate command's JSON output.
type GenerateResult struct {
	Repo       string         `json:"repo"`
	Discovered int            `json:"discovered"`
	Queued     int            `json:"queued"`
	Skipped    map[string]int `json:"skipped,omitempty"`
	Done       int            `json:"done"`
	Failed     int            `json:"failed"`
	State      string         `json:"state"`
	Duration   string         `json:"duration"`
}

// runGenerate executes the 'generate' CLI command, building the dependency
// graph for one repository.
//
// It discovers the repository's files, queues fetch jobs, and runs the fetch
// and normalize consumers in-process until every queued file has settled.
// Re-running the command is incremental: unchanged files are skipped, changed
// files are reprocessed and their edges refreshed.
//
// Flags:
//   - --force: Reset all file records and reprocess everything
//   - --debug: Enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//   - --timeout: Give up if the repository has not settled by then (default: 30m)
//
// Examples:
//
//	repograph generate acme/web             Incremental run
//	repograph generate acme/web --force     Reprocess everything
func runGenerate(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	force := fs.Bool("force", false, "Reset all file records and reprocess everything")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Give up if the repository has not settled by then")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph generate [options] <repo>

Builds the dependency graph for a configured repository.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: repository argument required\n")
		fs.Usage()
		os.Exit(1)
	}
	repoName := fs.Arg(0)

	logger := newLogger(*debug)
	env, err := openRuntime(configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.close()

	startMetricsEndpoint(*metricsAddr, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	env.sched.Start(ctx)
	defer env.sched.Stop()

	start := time.Now()
	disc, err := env.pipe.Generate(ctx, repoName, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if disc.Queued == 0 {
		finishGenerate(env, globals, repoName, disc, start)
		return
	}

	// Run the consumers in-process until the repository settles.
	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	go env.pipe.RunFetchConsumer(consumerCtx)
	go env.pipe.RunNormalizeConsumer(consumerCtx)

	if err := waitForRepo(ctx, env, globals, repoName, disc.Queued); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	finishGenerate(env, globals, repoName, disc, start)
}

// waitForRepo polls the sync status until the repository reaches a terminal
// state, driving the progress bar off the done/failed record counts.
func waitForRepo(ctx context.Context, env *runtimeEnv, globals GlobalFlags, repo string, queued int) error {
	bar := NewProgressBar(NewProgressConfig(globals), int64(queued), "linking "+repo)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("generate interrupted: %w", ctx.Err())
		case <-ticker.C:
		}

		status, err := env.pipe.RepoStatus().Get(ctx, repo)
		if err != nil {
			continue
		}
		if bar != nil {
			counts, err := env.pipe.Records().CountByStatus(ctx, repo)
			if err == nil {
				_ = bar.Set(counts[storage.FileStatusDone] + counts[storage.FileStatusFailed])
			}
		}

		switch status.State {
		case storage.RepoStateDone:
			if bar != nil {
				_ = bar.Finish()
			}
			return nil
		case storage.RepoStateFailed:
			if bar != nil {
				_ = bar.Finish()
			}
			return fmt.Errorf("generation failed: %s", status.Message)
		case storage.RepoStateRateLimited:
			if bar != nil {
				bar.Describe("rate limited, waiting on " + repo)
			}
		}
	}
}

func finishGenerate(env *runtimeEnv, globals GlobalFlags, repo string, disc *pipeline.DiscoveryResult, start time.Time) {
	ctx := context.Background()
	counts, _ := env.pipe.Records().CountByStatus(ctx, repo)
	state := "done"
	if status, err := env.pipe.RepoStatus().Get(ctx, repo); err == nil {
		state = status.State
	}

	result := &GenerateResult{
		Repo:       repo,
		Discovered: disc.Discovered,
		Queued:     disc.Queued,
		Skipped:    disc.Skipped,
		Done:       counts[storage.FileStatusDone],
		Failed:     counts[storage.FileStatusFailed],
		State:      state,
		Duration:   time.Since(start).Round(time.Millisecond).String(),
	}

	if globals.JSON {
		_ = output.JSON(result)
		return
	}

	fmt.Println()
	ui.Successf("Graph generated for %s", repo)
	fmt.Printf("  Discovered: %s\n", ui.CountText(result.Discovered))
	fmt.Printf("  Queued:     %s\n", ui.CountText(result.Queued))
	fmt.Printf("  Done:       %s\n", ui.CountText(result.Done))
	if result.Failed > 0 {
		ui.Warningf("%d files failed; see 'repograph queue --dead-letters'", result.Failed)
	}
	fmt.Printf("  Duration:   %s\n", result.Duration)
}

// startMetricsEndpoint exposes Prometheus metrics when addr is non-empty.
func startMetricsEndpoint(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
}
