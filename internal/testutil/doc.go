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

// Package testutil provides shared test fixtures for repograph packages.
//
// The helpers hand out in-memory SQLite instances of the two databases the
// system runs on (ingestion state and graph) with schema applied and cleanup
// registered, plus seeding helpers for the common fixtures.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    db := testutil.StateDB(t)
//	    store := testutil.GraphStore(t)
//
//	    testutil.SeedFileRecord(t, db, "acme/web", "src/a.js", "pending")
//	    testutil.SeedFunctionNode(t, store, "src/a.js::f")
//
//	    // Run your tests...
//	}
package testutil
