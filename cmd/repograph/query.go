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
	"text/tabwriter"

	"github.com/repograph/repograph/internal/output"
	"github.com/repograph/repograph/pkg/graph"
)

// runQuery executes the 'query' CLI command, inspecting the generated graph.
//
// Operations:
//   - search <text>: Find nodes whose key contains text
//   - node <label> <key>: Show one node with its in and out edges
//   - neighborhood <label> <key>: BFS around a node
//   - subgraph <repo>: The repository's initial subgraph projection
//
// Flags:
//   - --label: Restrict search to one label (File, Function, Class, ...)
//   - --limit: Maximum search results (default: 25)
//   - --depth: Neighborhood traversal depth (default: 2)
//   - --max-files: Subgraph file cap (default: 100)
//
// Examples:
//
//	repograph query search handleAuth
//	repograph query search parse --label Function --json
//	repograph query node Function "src/auth.js::handleAuth"
//	repograph query neighborhood File src/auth.js --depth 3
//	repograph query subgraph acme/web
func runQuery(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	label := fs.String("label", "", "Restrict search to one node label")
	limit := fs.Int("limit", 25, "Maximum search results")
	depth := fs.Int("depth", 2, "Neighborhood traversal depth")
	maxFiles := fs.Int("max-files", 100, "Subgraph file cap")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repograph query [options] <operation> [args]

Operations:
  search <text>                Find nodes whose key contains text
  node <label> <key>           Show one node with its edges
  neighborhood <label> <key>   BFS around a node
  subgraph <repo>              Repository overview projection

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  repograph query search handleAuth
  repograph query node Function "src/auth.js::handleAuth"
  repograph query neighborhood File src/auth.js --depth 3
  repograph query subgraph acme/web --max-files 50
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: operation argument required\n")
		fs.Usage()
		os.Exit(1)
	}

	env, err := openRuntime(configPath, newLogger(false))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.close()

	ctx := context.Background()
	q := graph.NewQuery(env.workspace.Graph)

	switch fs.Arg(0) {
	case "search":
		if fs.NArg() < 2 {
			queryArgError(fs, "search needs a text argument")
		}
		nodes, err := q.Search(ctx, graph.Label(*label), fs.Arg(1), *limit)
		exitOnQueryError(err)
		if globals.JSON {
			_ = output.JSON(nodes)
			return
		}
		printNodes(nodes)

	case "node":
		if fs.NArg() < 3 {
			queryArgError(fs, "node needs label and key arguments")
		}
		detail, err := q.NodeInfo(ctx, graph.NodeRef{Label: graph.Label(fs.Arg(1)), Key: fs.Arg(2)})
		exitOnQueryError(err)
		if globals.JSON {
			_ = output.JSON(detail)
			return
		}
		printNodeDetail(detail)

	case "neighborhood":
		if fs.NArg() < 3 {
			queryArgError(fs, "neighborhood needs label and key arguments")
		}
		sub, err := q.Neighborhood(ctx, graph.NodeRef{Label: graph.Label(fs.Arg(1)), Key: fs.Arg(2)}, *depth)
		exitOnQueryError(err)
		if globals.JSON {
			_ = output.JSON(sub)
			return
		}
		printSubgraph(sub)

	case "subgraph":
		if fs.NArg() < 2 {
			queryArgError(fs, "subgraph needs a repo argument")
		}
		sub, err := q.InitialSubgraph(ctx, fs.Arg(1), *maxFiles)
		exitOnQueryError(err)
		if globals.JSON {
			_ = output.JSON(sub)
			return
		}
		printSubgraph(sub)

	default:
		fmt.Fprintf(os.Stderr, "Unknown query operation: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}
}

func queryArgError(fs *flag.FlagSet, msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	fs.Usage()
	os.Exit(1)
}

func exitOnQueryError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printNodes(nodes []graph.Node) {
	if len(nodes) == 0 {
		fmt.Println("No matches.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tKEY\tNAME")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", n.Label, n.Key, n.Properties["name"])
	}
	_ = w.Flush()
}

func printNodeDetail(detail *graph.NodeDetail) {
	fmt.Printf("%s %s\n", detail.Node.Label, detail.Node.Key)
	for k, v := range detail.Node.Properties {
		fmt.Printf("  %s: %s\n", k, v)
	}
	fmt.Println()
	fmt.Printf("Outgoing (%d):\n", len(detail.Outgoing))
	for _, e := range detail.Outgoing {
		fmt.Printf("  -[%s]-> %s %s\n", e.Type, e.To.Label, e.To.Key)
	}
	fmt.Printf("Incoming (%d):\n", len(detail.Incoming))
	for _, e := range detail.Incoming {
		fmt.Printf("  <-[%s]- %s %s\n", e.Type, e.From.Label, e.From.Key)
	}
}

func printSubgraph(sub *graph.Subgraph) {
	fmt.Printf("%d nodes, %d edges", len(sub.Nodes), len(sub.Edges))
	if sub.IsPartial {
		fmt.Print(" (truncated)")
	}
	fmt.Println()
	printNodes(sub.Nodes)
	if len(sub.Edges) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tFROM\tTO")
		for _, e := range sub.Edges {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Type, e.From.Key, e.To.Key)
		}
		_ = w.Flush()
	}
}
