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

// Package graph links normalized per-file records into a cross-file
// dependency graph and stores it durably.
//
// The model is small: nodes labeled Repository, File, Module, Class,
// Function, Variable, or Export, identified by a natural key per label, and
// edges typed CONTAINS, DECLARES, IMPORTS, EXPORTS, CALLS, or HAS_METHOD.
// Every write is an upsert by natural key, never an insert, which is the
// entire idempotence story: re-importing a repository reissues the same
// upserts and converges to the same graph.
//
// The Linker runs two passes over a batch of records. Pass one upserts every
// node and is order independent; pass two upserts edges and requires both
// endpoints to exist already, silently skipping edges whose endpoints are
// missing (the same semantics as a MATCH-then-MERGE in a graph query
// language). Passes therefore must run in order, all nodes before any edge.
//
// Call edges are resolved conservatively from name evidence: a callee is
// looked up first among the caller's own file declarations, then through the
// caller file's import table, and only then by bare name across the batch.
// A callee that resolves nowhere is created as a forward-reference Function
// node keyed by its bare name, so call targets that arrive in a later import
// still link up.
package graph
