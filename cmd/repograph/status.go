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
	"os"
	"time"

	"github.com/repograph/repograph/internal/output"
	"github.com/repograph/repograph/internal/ui"
	"github.com/repograph/repograph/pkg/storage"
)

// RepoStatusResult is one repository's status for JSON output.
type RepoStatusResult struct {
	Repo    string         `json:"repo"`
	State   string         `json:"state"`
	Message string         `json:"message,omitempty"`
	Files   map[string]int `json:"files,omitempty"`
	Updated time.Time      `json:"updated_at,omitempty"`
}

// StatusResult represents the workspace status for JSON output.
type StatusResult struct {
	ProjectID string             `json:"project_id"`
	Nodes     int                `json:"nodes"`
	Edges     int                `json:"edges"`
	Repos     []RepoStatusResult `json:"repos"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// runStatus executes the 'status' CLI command, displaying per-repository
// sync state and overall graph counts.
//
// Flags:
//   - --json is read from the global flags
//
// Examples:
//
//	repograph status           Display formatted status
//	repograph status --json    Output as JSON for programmatic use
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph status

Shows repository sync status and graph counts.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	env, err := openRuntime(configPath, newLogger(false))
	if err != nil {
		if globals.JSON {
			_ = output.JSON(&StatusResult{Error: err.Error(), Timestamp: time.Now()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	defer env.close()

	ctx := context.Background()
	result := &StatusResult{
		ProjectID: env.cfg.ProjectID,
		Timestamp: time.Now(),
	}

	nodes, edges, err := env.workspace.Graph.Counts(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("graph counts: %v", err)
	}
	result.Nodes = nodes
	result.Edges = edges

	for _, repo := range env.cfg.Repos {
		entry := RepoStatusResult{Repo: repo.Name, State: "not started"}
		if status, err := env.pipe.RepoStatus().Get(ctx, repo.Name); err == nil {
			entry.State = status.State
			entry.Message = status.Message
			entry.Updated = status.UpdatedAt
		}
		if counts, err := env.pipe.Records().CountByStatus(ctx, repo.Name); err == nil && len(counts) > 0 {
			entry.Files = counts
		}
		result.Repos = append(result.Repos, entry)
	}

	if globals.JSON {
		_ = output.JSON(result)
		return
	}
	printStatus(result)
}

// printStatus prints the status result as formatted text to stdout.
func printStatus(result *StatusResult) {
	ui.Header("Repository Status")
	fmt.Printf("%s %s\n", ui.Label("Project ID:"), result.ProjectID)
	fmt.Printf("%s %s nodes, %s edges\n", ui.Label("Graph:"),
		ui.CountText(result.Nodes), ui.CountText(result.Edges))
	fmt.Println()

	if len(result.Repos) == 0 {
		fmt.Println("No repositories configured. Edit .repograph/project.yaml.")
		return
	}

	for _, repo := range result.Repos {
		fmt.Printf("%s  %s\n", ui.Label(repo.Repo), stateText(repo.State))
		if repo.Message != "" {
			fmt.Printf("  %s\n", ui.DimText(repo.Message))
		}
		if len(repo.Files) > 0 {
			fmt.Printf("  files: %s done, %s pending, %s processing, %s failed\n",
				ui.CountText(repo.Files[storage.FileStatusDone]),
				ui.CountText(repo.Files[storage.FileStatusPending]),
				ui.CountText(repo.Files[storage.FileStatusProcessing]),
				ui.CountText(repo.Files[storage.FileStatusFailed]),
			)
		}
	}

	if result.Error != "" {
		fmt.Println()
		ui.Warningf("%s", result.Error)
	}
}

func stateText(state string) string {
	switch state {
	case storage.RepoStateDone:
		return ui.Green.Sprint(state)
	case storage.RepoStateFailed:
		return ui.Red.Sprint(state)
	case storage.RepoStateRateLimited:
		return ui.Yellow.Sprint(state)
	default:
		return ui.Cyan.Sprint(state)
	}
}
