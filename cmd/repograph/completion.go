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
	"flag"
	"fmt"
	"os"

	"github.com/repograph/repograph/internal/errors"
)

// bashCompletionTemplate is the bash completion script for repograph.
//
// It provides command and flag completion for bash shells using the
// bash completion framework.
const bashCompletionTemplate = `#!/bin/bash

# Bash completion script for repograph
# Installation:
#   source <(repograph completion bash)
#   Or add to ~/.bashrc:
#   echo 'source <(repograph completion bash)' >> ~/.bashrc

_repograph_completion() {
    local cur prev commands
    commands="init generate delete serve status queue query completion"

    # Current word being completed
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    # Global flags
    if [[ ${cur} == -* ]] ; then
        COMPREPLY=( $(compgen -W "--version --config --json --no-color -q" -- ${cur}) )
        return 0
    fi

    # First argument: complete commands
    if [ $COMP_CWORD -eq 1 ]; then
        COMPREPLY=( $(compgen -W "${commands}" -- ${cur}) )
        return 0
    fi

    # Command-specific flag completion
    local cmd="${COMP_WORDS[1]}"
    case "${cmd}" in
        generate)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--force --debug --metrics-addr --timeout" -- ${cur}) )
            fi
            ;;
        delete)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--yes" -- ${cur}) )
            fi
            ;;
        serve)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--workers --sweep-interval --metrics-addr --debug" -- ${cur}) )
            fi
            ;;
        queue)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--dead-letters --requeue-stale" -- ${cur}) )
            fi
            ;;
        query)
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "search node neighborhood subgraph" -- ${cur}) )
            elif [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--label --limit --depth --max-files" -- ${cur}) )
            fi
            ;;
        completion)
            # Complete shell names for completion command
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            fi
            ;;
    esac
}

complete -F _repograph_completion repograph
`

// zshCompletionTemplate is the zsh completion script for repograph.
//
// It provides command and flag completion for zsh shells using the
// zsh completion system.
const zshCompletionTemplate = `#compdef repograph

# Zsh completion script for repograph
# Installation:
#   1. Ensure compinit is loaded (add to ~/.zshrc if not present):
#      autoload -U compinit; compinit
#   2. Save this script to a directory in your fpath:
#      repograph completion zsh > "${fpath[1]}/_repograph"
#   3. Reload completions:
#      rm -f ~/.zcompdump; compinit

_repograph() {
    local -a commands
    commands=(
        'init:Create .repograph/project.yaml configuration'
        'generate:Discover, fetch, normalize and link a repository'
        'delete:Remove a repository subgraph and records'
        'serve:Run the long-lived ingestion workers'
        'status:Show repository sync status and graph counts'
        'queue:Show job queue depth and dead letters'
        'query:Inspect the graph'
        'completion:Generate shell completion script'
    )

    _arguments -C \
        '(- *)--version[Show version and exit]' \
        '--config[Path to .repograph/project.yaml]:config file:_files -g "*.yaml"' \
        '--json[Output as JSON]' \
        '--no-color[Disable colored output]' \
        '-q[Suppress progress output]' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                generate)
                    _arguments \
                        '--force[Reset all file records and reprocess everything]' \
                        '--debug[Enable debug logging]' \
                        '--metrics-addr[Prometheus metrics address]:address:' \
                        '--timeout[Settle deadline]:duration:'
                    ;;
                delete)
                    _arguments \
                        '--yes[Skip confirmation prompt]'
                    ;;
                serve)
                    _arguments \
                        '--workers[Number of normalize consumers]:workers:' \
                        '--sweep-interval[Recovery sweep interval]:duration:' \
                        '--metrics-addr[Prometheus metrics address]:address:' \
                        '--debug[Enable debug logging]'
                    ;;
                queue)
                    _arguments \
                        '--dead-letters[List up to N dead-lettered messages]:count:' \
                        '--requeue-stale[Release claims older than duration]:duration:'
                    ;;
                query)
                    _arguments \
                        '--label[Restrict search to one node label]:label:' \
                        '--limit[Maximum search results]:limit:' \
                        '--depth[Neighborhood traversal depth]:depth:' \
                        '--max-files[Subgraph file cap]:count:' \
                        '1:operation:(search node neighborhood subgraph)'
                    ;;
                completion)
                    _arguments \
                        '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_repograph
`

// fishCompletionTemplate is the fish completion script for repograph.
//
// It provides command and flag completion for fish shells using the
// fish completion system.
const fishCompletionTemplate = `# Fish completion script for repograph
# Installation:
#   1. Load completions for current session:
#      repograph completion fish | source
#   2. Install permanently:
#      repograph completion fish > ~/.config/fish/completions/repograph.fish

# Commands
complete -c repograph -f -n "__fish_use_subcommand" -a "init" -d "Create .repograph/project.yaml configuration"
complete -c repograph -f -n "__fish_use_subcommand" -a "generate" -d "Discover, fetch, normalize and link a repository"
complete -c repograph -f -n "__fish_use_subcommand" -a "delete" -d "Remove a repository subgraph and records (destructive!)"
complete -c repograph -f -n "__fish_use_subcommand" -a "serve" -d "Run the long-lived ingestion workers"
complete -c repograph -f -n "__fish_use_subcommand" -a "status" -d "Show repository sync status and graph counts"
complete -c repograph -f -n "__fish_use_subcommand" -a "queue" -d "Show job queue depth and dead letters"
complete -c repograph -f -n "__fish_use_subcommand" -a "query" -d "Inspect the graph"
complete -c repograph -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion script"

# Global flags
complete -c repograph -l version -d "Show version and exit"
complete -c repograph -l config -d "Path to .repograph/project.yaml" -r
complete -c repograph -l json -d "Output as JSON"
complete -c repograph -l no-color -d "Disable colored output"

# generate command flags
complete -c repograph -n "__fish_seen_subcommand_from generate" -l force -d "Reset all file records and reprocess everything"
complete -c repograph -n "__fish_seen_subcommand_from generate" -l debug -d "Enable debug logging"
complete -c repograph -n "__fish_seen_subcommand_from generate" -l metrics-addr -d "Prometheus metrics address" -r
complete -c repograph -n "__fish_seen_subcommand_from generate" -l timeout -d "Settle deadline" -r

# delete command flags
complete -c repograph -n "__fish_seen_subcommand_from delete" -l yes -d "Skip confirmation prompt"

# serve command flags
complete -c repograph -n "__fish_seen_subcommand_from serve" -l workers -d "Number of normalize consumers" -r
complete -c repograph -n "__fish_seen_subcommand_from serve" -l sweep-interval -d "Recovery sweep interval" -r
complete -c repograph -n "__fish_seen_subcommand_from serve" -l metrics-addr -d "Prometheus metrics address" -r
complete -c repograph -n "__fish_seen_subcommand_from serve" -l debug -d "Enable debug logging"

# queue command flags
complete -c repograph -n "__fish_seen_subcommand_from queue" -l dead-letters -d "List up to N dead-lettered messages" -r
complete -c repograph -n "__fish_seen_subcommand_from queue" -l requeue-stale -d "Release claims older than duration" -r

# query command arguments
complete -c repograph -n "__fish_seen_subcommand_from query" -f -a "search" -d "Find nodes whose key contains text"
complete -c repograph -n "__fish_seen_subcommand_from query" -f -a "node" -d "Show one node with its edges"
complete -c repograph -n "__fish_seen_subcommand_from query" -f -a "neighborhood" -d "BFS around a node"
complete -c repograph -n "__fish_seen_subcommand_from query" -f -a "subgraph" -d "Repository overview projection"

# completion command arguments
complete -c repograph -n "__fish_seen_subcommand_from completion" -f -a "bash" -d "Generate bash completion script"
complete -c repograph -n "__fish_seen_subcommand_from completion" -f -a "zsh" -d "Generate zsh completion script"
complete -c repograph -n "__fish_seen_subcommand_from completion" -f -a "fish" -d "Generate fish completion script"
`

// runCompletion executes the 'completion' CLI command, generating
// shell-specific completion scripts for bash, zsh, or fish shells.
//
// The completion command outputs a shell-specific script to stdout that can
// be sourced to enable tab completion for repograph commands and flags.
//
// Usage:
//
//	repograph completion [bash|zsh|fish]
//
// Examples:
//
//	repograph completion bash                  Output bash completion script
//	source <(repograph completion bash)        Load bash completions in current shell
//	repograph completion fish | source         Load fish completions in current shell
func runCompletion(args []string) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph completion <shell>

Description:
  Generate shell completion scripts for bash, zsh, or fish.

Arguments:
  shell    Shell type: bash, zsh, or fish (required)

Examples:
  # Load bash completions in current shell
  source <(repograph completion bash)

  # Install bash completions permanently (Linux)
  repograph completion bash > /etc/bash_completion.d/repograph

  # Install zsh completions (macOS with Homebrew)
  repograph completion zsh > $(brew --prefix)/share/zsh/site-functions/_repograph

  # Install fish completions
  repograph completion fish > ~/.config/fish/completions/repograph.fish

Notes:
  After installing completions, restart your shell or source your rc file.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		errors.FatalError(errors.NewInputError(
			"Invalid arguments",
			"The completion command requires exactly one argument: the shell name",
			"Run 'repograph completion bash', 'repograph completion zsh', or 'repograph completion fish'",
		), false)
	}

	shell := fs.Arg(0)

	switch shell {
	case "bash":
		fmt.Print(bashCompletionTemplate)
	case "zsh":
		fmt.Print(zshCompletionTemplate)
	case "fish":
		fmt.Print(fishCompletionTemplate)
	default:
		errors.FatalError(errors.NewInputError(
			"Unsupported shell",
			fmt.Sprintf("Shell '%s' is not supported. Valid options: bash, zsh, fish", shell),
			"Run 'repograph completion bash', 'repograph completion zsh', or 'repograph completion fish'",
		), false)
	}
}
