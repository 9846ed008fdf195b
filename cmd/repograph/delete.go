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
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/repograph/repograph/internal/output"
	"github.com/repograph/repograph/internal/ui"
)

// runDelete executes the 'delete' CLI command, removing a repository's
// subgraph and resetting its ingestion records to pending.
//
// Entities shared with other repositories survive; only nodes declared or
// exported exclusively by the deleted repository's files are removed.
// The operation is repeatable: deleting an already-deleted repository is
// a no-op.
//
// Flags:
//   - --yes: Skip the confirmation prompt
//
// Examples:
//
//	repograph delete acme/web
//	repograph delete acme/web --yes
func runDelete(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph delete [options] <repo>

Removes a repository's subgraph and resets its file records. Destructive!
Entities shared with other repositories are kept; a later 'generate'
rebuilds the graph from scratch.

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

	if !*yes {
		fmt.Printf("Delete all graph data and records for '%s'? [y/N]: ", repoName)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			os.Exit(0)
		}
	}

	logger := newLogger(false)
	env, err := openRuntime(configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.close()

	stats, err := env.pipe.Delete(context.Background(), repoName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if globals.JSON {
		_ = output.JSON(stats)
		return
	}

	ui.Successf("Deleted %s", repoName)
	fmt.Printf("  Files removed:    %s\n", ui.CountText(stats.Files))
	fmt.Printf("  Entities removed: %s\n", ui.CountText(stats.Entities))
	if stats.Shared > 0 {
		fmt.Printf("  Shared kept:      %s\n", ui.CountText(stats.Shared))
	}
}
