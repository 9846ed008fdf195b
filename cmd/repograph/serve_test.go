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
	"testing"
	"time"
)

func TestServeFlagDefaults(t *testing.T) {
	fs, opts := newServeFlagSet()
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parsing empty args failed: %v", err)
	}

	// One normalize consumer by default: the pipeline's per-file edge
	// refresh assumes a single writer per repository.
	if *opts.workers != 1 {
		t.Errorf("workers default = %d, want 1", *opts.workers)
	}
	if *opts.sweepInterval != time.Minute {
		t.Errorf("sweep-interval default = %v, want 1m", *opts.sweepInterval)
	}
	if *opts.metricsAddr != "" {
		t.Errorf("metrics-addr default = %q, want disabled", *opts.metricsAddr)
	}
	if *opts.debug {
		t.Error("debug should default to off")
	}
}

func TestServeFlagOverrides(t *testing.T) {
	fs, opts := newServeFlagSet()
	if err := fs.Parse([]string{"--workers", "3", "--sweep-interval", "30s"}); err != nil {
		t.Fatalf("parsing args failed: %v", err)
	}
	if *opts.workers != 3 {
		t.Errorf("workers = %d, want 3", *opts.workers)
	}
	if *opts.sweepInterval != 30*time.Second {
		t.Errorf("sweep-interval = %v, want 30s", *opts.sweepInterval)
	}
}
