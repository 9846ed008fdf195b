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

// Package main implements the repograph CLI for turning source repositories
// into a queryable dependency graph.
//
// Usage:
//
//	repograph init                      Create .repograph/project.yaml configuration
//	repograph generate <repo>           Discover, fetch, normalize and link a repository
//	repograph status [--json]           Show repository sync status and graph counts
//	repograph query <op> [args]         Inspect the graph (search, node, neighborhood)
//	repograph serve                     Run the long-lived ingestion workers
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/repograph/repograph/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags carries the flags every command respects.
type GlobalFlags struct {
	// JSON switches output to machine-readable JSON.
	JSON bool

	// Quiet suppresses progress output.
	Quiet bool

	// NoColor disables colored terminal output.
	NoColor bool
}

// main is the entry point for the repograph CLI.
//
// It parses global flags and dispatches to command handlers.
//
// Global flags:
//   - --version: Display version information and exit
//   - --config: Path to .repograph/project.yaml configuration file
//   - --json: Machine-readable output
//   - -q/--quiet: Suppress progress output
//   - --no-color: Disable colored output
//
// Commands:
//   - init: Create .repograph/project.yaml configuration
//   - generate: Run the pipeline for one repository
//   - delete: Remove a repository's subgraph and records
//   - serve: Run the long-lived ingestion workers
//   - status: Show sync status and graph counts
//   - queue: Show job queue depth and dead letters
//   - query: Inspect the graph
//   - completion: Generate shell completion script
func main() {
	// .env is optional; missing files are fine.
	_ = godotenv.Load()

	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to .repograph/project.yaml (default: ./.repograph/project.yaml)")
		jsonOut     = flag.Bool("json", false, "Output as JSON")
		quiet       = flag.Bool("q", false, "Suppress progress output")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repograph - repository dependency graphs

repograph ingests JavaScript and TypeScript repositories, normalizes each
file into a canonical description of its imports, exports and entities, and
links everything into a queryable cross-file dependency graph.

Usage:
  repograph <command> [options]

Commands:
  init          Create .repograph/project.yaml configuration
  generate      Discover, fetch, normalize and link a repository
  delete        Remove a repository's subgraph and records
  serve         Run the long-lived ingestion workers
  status        Show repository sync status and graph counts
  queue         Show job queue depth and dead letters
  query         Inspect the graph (search, node, neighborhood, subgraph)
  completion    Generate shell completion script (bash|zsh|fish)

Global Options:
  --config      Path to .repograph/project.yaml
  --json        Output as JSON
  -q            Suppress progress output
  --no-color    Disable colored output
  --version     Show version and exit

Examples:
  repograph init                          Create configuration interactively
  repograph generate acme/web             Build the graph for one repository
  repograph generate acme/web --force     Reprocess everything from scratch
  repograph status --json                 Output status as JSON
  repograph query search handleAuth       Find nodes by name
  repograph serve --metrics-addr :9090    Run workers with Prometheus metrics

Getting Started:
  1. Initialize configuration:   repograph init
  2. Build the graph:            repograph generate <repo>
  3. Check progress:             repograph status
  4. Explore:                    repograph query search <name>

Data Storage:
  Databases live in .repograph/ next to the configuration.

Environment Variables:
  REPOGRAPH_ORIGIN_TOKEN   Origin API token for remote fetching
  REPOGRAPH_MAX_FILE_BYTES Per-file size ceiling (default 2097152)

For detailed command help: repograph <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("repograph version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	globals := GlobalFlags{
		JSON:    *jsonOut,
		Quiet:   *quiet || *jsonOut,
		NoColor: *noColor,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs)
	case "generate":
		runGenerate(cmdArgs, *configPath, globals)
	case "delete":
		runDelete(cmdArgs, *configPath, globals)
	case "serve":
		runServe(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "queue":
		runQueue(cmdArgs, *configPath, globals)
	case "query":
		runQuery(cmdArgs, *configPath, globals)
	case "completion":
		runCompletion(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
