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

package graph

import "fmt"

// Label is a node label. The natural unique key per label:
//
//	Repository  name
//	File        path
//	Module      name (import source)
//	Class       name
//	Function    id ("<path>::<qualifiedName>") or bare name for
//	            forward-reference call targets
//	Variable    name
//	Export      "<name>|<kind>"
type Label string

const (
	LabelRepository Label = "Repository"
	LabelFile       Label = "File"
	LabelModule     Label = "Module"
	LabelClass      Label = "Class"
	LabelFunction   Label = "Function"
	LabelVariable   Label = "Variable"
	LabelExport     Label = "Export"
)

// EdgeType is a relationship type between nodes.
type EdgeType string

const (
	EdgeContains  EdgeType = "CONTAINS"
	EdgeDeclares  EdgeType = "DECLARES"
	EdgeImports   EdgeType = "IMPORTS"
	EdgeExports   EdgeType = "EXPORTS"
	EdgeCalls     EdgeType = "CALLS"
	EdgeHasMethod EdgeType = "HAS_METHOD"
)

// Node is one graph node. Properties are flat string pairs; they ride along
// on upserts and the last write wins.
type Node struct {
	Label      Label             `json:"label"`
	Key        string            `json:"key"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NodeRef identifies a node without its properties.
type NodeRef struct {
	Label Label  `json:"label"`
	Key   string `json:"key"`
}

// Ref returns the node's identity.
func (n Node) Ref() NodeRef { return NodeRef{Label: n.Label, Key: n.Key} }

// Edge is one typed relationship, unique per (type, from, to).
type Edge struct {
	Type       EdgeType          `json:"type"`
	From       NodeRef           `json:"from"`
	To         NodeRef           `json:"to"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ExportKey builds the composite natural key for an Export node.
func ExportKey(name, kind string) string { return name + "|" + kind }

// WriteError wraps a transient graph store failure. Writes that fail this way
// are never silently dropped; the import is recoverable by rerunning a full
// import, which is idempotent.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("graph write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
