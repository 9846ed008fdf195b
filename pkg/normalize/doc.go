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

// Package normalize converts raw source files into canonical, language-agnostic
// per-file records.
//
// The normalizer parses JavaScript, TypeScript, and TSX sources with
// Tree-sitter and walks the resulting tree once, depth first, collecting:
//
//   - Imports, classified as local (relative path), alias (path-alias prefix),
//     or external (anything else), with the imported symbol names.
//   - Exports, including default exports, with the underlying declaration also
//     recorded as a class, function, or variable entity.
//   - Classes with their methods and properties. Arrow-function-valued class
//     properties are recorded as methods as well.
//   - Functions, including function-valued variable initializers, each with
//     the set of call-site names observed in its body.
//   - Variables with their declaration kind and initializer shape.
//
// The output is deterministic: normalizing the same bytes twice yields
// byte-identical records. Ordering is first-seen traversal order, there are no
// timestamps, and map-shaped data is avoided in favor of slices.
//
// Normalization never fails. Files in languages the normalizer does not
// understand produce an explicit "unsupported" record, and unrecognized parse
// node kinds are skipped rather than aborting the file. This keeps a single
// malformed or exotic file from stalling the ingestion pipeline.
package normalize
