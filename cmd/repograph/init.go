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
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/repograph/repograph/internal/bootstrap"
	"github.com/repograph/repograph/pkg/pipeline"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive bool
	projectID, repoName   string
	repoOwner, repoPath   string
	originURL, storageDSN string
	driver                string
}

// runInit executes the 'init' CLI command, creating the .repograph/project.yaml
// configuration file and the workspace databases.
//
// It creates the configuration directory, generates a default configuration,
// optionally prompts the user for the first repository in interactive mode,
// and runs the schema migrations so the workspace is ready for 'generate'.
//
// Flags:
//   - --force: Overwrite existing configuration (default: false)
//   - -y: Non-interactive mode, use all defaults (default: false)
//   - --project-id: Workspace identifier (default: directory name)
//   - --repo: Name of the first repository to manage
//   - --owner: Origin namespace for the first repository
//   - --path: Local checkout path for the first repository
//   - --origin-url: Origin API base URL for remote fetching
//   - --driver: Relational driver, sqlite3 or pgx (default: sqlite3)
//   - --dsn: Postgres connection string (pgx driver only)
//
// Examples:
//
//	repograph init                                Interactive setup
//	repograph init -y                             Use all defaults
//	repograph init --repo acme/web --path .       Register the current checkout
func runInit(args []string) {
	flags := parseInitFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot get current directory: %v\n", err)
		os.Exit(1)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Use --force to overwrite.\n", configPath)
		os.Exit(1)
	}

	cfg := createInitConfig(cwd, flags)
	reader := bufio.NewReader(os.Stdin)

	if !flags.nonInteractive {
		runInteractiveConfig(reader, cfg)
	}

	saveInitConfig(cwd, configPath, cfg)
	initWorkspaceDatabases(cwd, cfg)
	printNextSteps()
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVar(&f.nonInteractive, "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.projectID, "project-id", "", "Workspace identifier")
	fs.StringVar(&f.repoName, "repo", "", "Name of the first repository to manage")
	fs.StringVar(&f.repoOwner, "owner", "", "Origin namespace for the first repository")
	fs.StringVar(&f.repoPath, "path", "", "Local checkout path for the first repository")
	fs.StringVar(&f.originURL, "origin-url", "", "Origin API base URL for remote fetching")
	fs.StringVar(&f.driver, "driver", "", "Relational driver: sqlite3 or pgx (default sqlite3)")
	fs.StringVar(&f.storageDSN, "dsn", "", "Postgres connection string (pgx driver only)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph init [options]

Creates .repograph/project.yaml and the workspace databases.

Examples:
  repograph init --repo acme/web --path . -y
  repograph init --origin-url https://api.github.com
  repograph init --driver pgx --dsn "postgres://localhost/repograph"

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func createInitConfig(cwd string, f initFlags) *Config {
	pid := f.projectID
	if pid == "" {
		pid = filepath.Base(cwd)
	}
	cfg := DefaultConfig(pid)
	if f.originURL != "" {
		cfg.Origin.BaseURL = f.originURL
	}
	if f.driver != "" {
		cfg.Storage.Driver = f.driver
	}
	if f.storageDSN != "" {
		cfg.Storage.DSN = f.storageDSN
	}
	if f.repoName != "" {
		path := f.repoPath
		if path == "" {
			path = "."
		}
		cfg.Repos = append(cfg.Repos, pipeline.RepoConfig{
			Name:  f.repoName,
			Owner: f.repoOwner,
			Path:  path,
		})
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, cfg *Config) {
	fmt.Println("repograph Workspace Configuration")
	fmt.Println("=================================")
	fmt.Println()

	cfg.ProjectID = prompt(reader, "Project ID", cfg.ProjectID)

	if len(cfg.Repos) == 0 {
		fmt.Println()
		fmt.Println("First repository (leave name empty to configure later)")
		name := prompt(reader, "Repository name (e.g. acme/web)", "")
		if name != "" {
			repo := pipeline.RepoConfig{Name: name}
			repo.Owner = prompt(reader, "Owner (origin namespace)", ownerFromName(name))
			repo.Path = prompt(reader, "Local checkout path", ".")
			cfg.Repos = append(cfg.Repos, repo)
		}
	}

	fmt.Println()
	fmt.Println("Origin API (leave empty for local-only ingestion)")
	cfg.Origin.BaseURL = prompt(reader, "Origin base URL", cfg.Origin.BaseURL)
	fmt.Println()
}

func saveInitConfig(cwd, configPath string, cfg *Config) {
	dir := ConfigDir(cwd)
	if err := os.MkdirAll(dir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create .repograph directory: %v\n", err)
		os.Exit(1)
	}
	if err := SaveConfig(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot save configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", configPath)
	addToGitignore(cwd)
}

func initWorkspaceDatabases(cwd string, cfg *Config) {
	_, err := bootstrap.InitWorkspace(bootstrap.WorkspaceConfig{
		DataDir: ConfigDir(cwd),
		Driver:  cfg.Storage.Driver,
		DSN:     cfg.Storage.DSN,
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot initialize workspace: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Workspace databases created")
}

func printNextSteps() {
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit .repograph/project.yaml if needed")
	fmt.Println("  2. Run 'repograph generate <repo>' to build the graph")
	fmt.Println("  3. Run 'repograph status' to verify ingestion")
}

func ownerFromName(name string) string {
	if i := strings.IndexByte(name, '/'); i > 0 {
		return name[:i]
	}
	return ""
}

// prompt displays an interactive prompt and reads user input from stdin.
//
// If the user presses Enter without providing input, the defaultValue is
// returned. This is used during interactive configuration setup.
func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// addToGitignore adds .repograph/ to the project's .gitignore file if not
// already present. If .gitignore does not exist or cannot be modified, the
// function silently returns.
func addToGitignore(dir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == ".repograph/" || line == ".repograph" || line == "/.repograph/" || line == "/.repograph" {
			return
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}

	_, _ = f.WriteString("\n# repograph workspace\n.repograph/\n")
	fmt.Println("Added .repograph/ to .gitignore")
}
