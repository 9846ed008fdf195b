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

// Package pipeline assembles the ingestion stages into a running system.
//
// The flow is discovery -> fetch -> normalize -> link. Discovery writes
// file records and enqueues fetch jobs; the fetch consumer retrieves
// contents under the scheduler's pacing; the normalize consumer parses each
// file and links it into the graph. Every handoff goes through the durable
// queue and every stage is idempotent, so the pipeline can be killed at any
// point and resumed by the recovery sweeper.
package pipeline
