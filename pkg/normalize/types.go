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

package normalize

// ImportKind classifies where an import source points.
type ImportKind string

const (
	// ImportLocal is a relative import ("./util", "../lib/x").
	ImportLocal ImportKind = "local"

	// ImportAlias is a path-alias import ("@/components/x", "~/lib/x").
	ImportAlias ImportKind = "alias"

	// ImportExternal is anything else, typically a package name.
	ImportExternal ImportKind = "external"
)

// ModuleType describes the module system a file appears to use.
const (
	ModuleESM         = "esm"
	ModuleCommonJS    = "commonjs"
	ModuleScript      = "script"
	ModuleUnsupported = "unsupported"
)

// GlobalScope is the scope label for top-level declarations.
const GlobalScope = "global"

// FileDesc identifies the normalized file itself.
type FileDesc struct {
	Path       string `json:"path"`
	Language   string `json:"language"`
	ModuleType string `json:"moduleType"`
}

// Import is one import declaration (or require() binding).
type Import struct {
	Source  string     `json:"source"`
	Kind    ImportKind `json:"kind"`
	Symbols []string   `json:"symbols"`
}

// Export is one exported name.
type Export struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // "class", "function", "variable", "reexport"
	IsDefault bool   `json:"isDefault"`
}

// Class is a class declaration with its member names.
type Class struct {
	Name       string   `json:"name"`
	Methods    []string `json:"methods"`
	Properties []string `json:"properties"`
}

// Function is a function-shaped entity: a declaration, a method, or a
// function-valued variable initializer.
//
// ID is globally unique ("<path>::<qualifiedName>") and is the join key the
// graph linker uses. Calls holds the callee names observed in the body, in
// first-seen order, deduplicated.
type Function struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Scope  string   `json:"scope"`
	Params []string `json:"params"`
	Calls  []string `json:"calls"`
}

// Variable is a top-level or scoped variable declaration.
type Variable struct {
	Name            string `json:"name"`
	DeclarationKind string `json:"declarationKind"` // "const", "let", "var"
	ValueType       string `json:"valueType"`       // initializer node kind, "undefined" if none
}

// Entities groups the declared entities of a file.
type Entities struct {
	Classes   []Class    `json:"classes"`
	Functions []Function `json:"functions"`
	Variables []Variable `json:"variables"`
}

// NormalizedFile is the canonical per-file description produced by the
// normalizer and consumed by the graph linker.
type NormalizedFile struct {
	File     FileDesc `json:"file"`
	Imports  []Import `json:"imports"`
	Exports  []Export `json:"exports"`
	Entities Entities `json:"entities"`
}

// FunctionID builds the join key for a function declared in a file.
func FunctionID(path, qualifiedName string) string {
	return path + "::" + qualifiedName
}
