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
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/repograph/repograph/internal/ui"
	"github.com/repograph/repograph/pkg/recovery"
)

// runServe executes the 'serve' CLI command, running the long-lived
// ingestion workers until interrupted.
//
// It starts the rate-limited scheduler, the fetch and normalize consumers,
// and the recovery worker that requeues stuck jobs. A startup sweep runs
// first so work abandoned by a previous process resumes immediately.
//
// Flags:
//   - --workers: Number of normalize consumers (default: 1; raising it is
//     only safe when no two consumers can touch the same repository)
//   - --sweep-interval: Recovery sweep interval (default: 1m)
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//   - --debug: Enable debug logging
//
// Examples:
//
//	repograph serve
//	repograph serve --metrics-addr :9090 --sweep-interval 30s
// serveFlags holds the parsed 'serve' options.
type serveFlags struct {
	workers       *int
	sweepInterval *time.Duration
	metricsAddr   *string
	debug         *bool
}

// newServeFlagSet defines the 'serve' flags. Workers defaults to one
// normalize consumer; the pipeline assumes a single writer per repository,
// so more consumers are only safe when repositories never share one.
func newServeFlagSet() (*flag.FlagSet, *serveFlags) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	return fs, &serveFlags{
		workers:       fs.Int("workers", 1, "Number of normalize consumers"),
		sweepInterval: fs.Duration("sweep-interval", time.Minute, "Recovery sweep interval"),
		metricsAddr:   fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)"),
		debug:         fs.Bool("debug", false, "Enable debug logging"),
	}
}

func runServe(args []string, configPath string, globals GlobalFlags) {
	fs, opts := newServeFlagSet()
	workers := opts.workers
	sweepInterval := opts.sweepInterval
	metricsAddr := opts.metricsAddr
	debug := opts.debug

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph serve [options]

Description:
  Run the long-lived ingestion workers. This command:
  1. Sweeps the queue and records for work abandoned by a previous process.
  2. Starts the rate-limited fetch scheduler and both queue consumers.
  3. Keeps a recovery worker requeueing stuck jobs on an interval.

  Trigger work from another terminal with 'repograph generate <repo>'.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  repograph serve
  repograph serve --metrics-addr :9090
  repograph serve --sweep-interval 30s
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

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

	env.sched.Start(ctx)
	defer env.sched.Stop()

	sweeper := recovery.NewSweeper(
		env.pipe.RepoStatus(),
		env.pipe.Records(),
		env.pipe.Queue(),
		env.pipe.RepoInfo(),
		logger,
	)

	// Startup sweep before the consumers begin pulling work.
	if recovered, err := sweeper.Sweep(ctx); err != nil {
		logger.Warn("serve.startup_sweep.error", "err", err)
	} else if recovered > 0 {
		logger.Info("serve.startup_sweep.complete", "recovered", recovered)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.pipe.RunFetchConsumer(ctx)
	}()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.pipe.RunNormalizeConsumer(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		recovery.NewWorker(sweeper, *sweepInterval, logger).Run(ctx)
	}()

	// Surface rate-limit pauses on the console.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-env.sched.Signals():
				if !globals.Quiet {
					ui.Warningf("Rate limited by origin; pausing fetches for %dms", sig.ResetMS)
				}
			}
		}
	}()

	if !globals.Quiet {
		ui.Success("repograph workers running")
		fmt.Println("Press Ctrl+C to stop.")
	}
	logger.Info("serve.start", "workers", *workers, "sweep_interval", *sweepInterval)

	<-ctx.Done()
	logger.Info("serve.shutdown")
	wg.Wait()
}
