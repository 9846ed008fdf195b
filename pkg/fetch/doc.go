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

// Package fetch retrieves file contents from the repository origin.
//
// The stage owns no retry logic. Failures are classified into the error
// taxonomy and surfaced: rate limits go to the scheduler, which delays and
// retries the task; permanent failures are dead-lettered; everything else
// is requeued by the durable queue's stale-claim sweep. Keeping the retry
// decision out of this package is what lets the scheduler be the single
// authority on origin pacing.
package fetch
