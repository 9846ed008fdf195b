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

// Package contract defines the job messages that flow between pipeline
// stages and their validation rules.
//
// Every message crossing the queue is one of these types. Producers
// validate before enqueueing, consumers validate after decoding, so a
// malformed message is rejected at the boundary where it appeared instead
// of half-processed downstream.
//
// # File Size Limits
//
// Files larger than the soft limit are recorded but not fetched, keeping a
// single pathological blob from stalling a worker:
//
//	limit := contract.MaxFileBytes()
//	if job.Size > int64(limit) { ... }
//
// The limit defaults to 2 MiB and can be raised via the
// REPOGRAPH_MAX_FILE_BYTES environment variable.
package contract
