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

// Package storage persists durable ingestion state: per-file records with
// their lifecycle status, per-repository sync status, and the job queue
// table, behind database/sql so the same code runs on SQLite and Postgres.
//
// All writes are upserts keyed on natural identifiers. The stores are the
// source of truth the recovery subsystem reconciles against, so every status
// transition is written before the corresponding in-memory work starts.
package storage
