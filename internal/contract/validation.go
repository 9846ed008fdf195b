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

package contract

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultMaxFileBytes is the soft limit on fetched file size (2 MiB).
const DefaultMaxFileBytes = 2 * 1024 * 1024

// Job kinds carried by discovery.
const (
	KindFile = "file"
	KindDir  = "dir"
)

// MaxFileBytes returns the effective file size soft limit. Controlled via
// env REPOGRAPH_MAX_FILE_BYTES; falls back to DefaultMaxFileBytes.
func MaxFileBytes() int {
	if v := os.Getenv("REPOGRAPH_MAX_FILE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxFileBytes
}

// FileJob instructs the fetch stage to retrieve one file of a repository.
type FileJob struct {
	Repo        string `json:"repo"`
	Owner       string `json:"owner"`
	UserID      string `json:"user_id"`
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	Kind        string `json:"kind"`
}

// Validate checks the invariants every FileJob must satisfy before it may
// cross the queue.
func (j *FileJob) Validate() error {
	switch {
	case j.Repo == "":
		return fmt.Errorf("file job: repo is required")
	case j.Path == "":
		return fmt.Errorf("file job: path is required")
	case strings.HasPrefix(j.Path, "/"):
		return fmt.Errorf("file job: path %q must be repository relative", j.Path)
	case strings.Contains(j.Path, ".."):
		return fmt.Errorf("file job: path %q must not traverse upward", j.Path)
	case j.Size < 0:
		return fmt.Errorf("file job: size %d is negative", j.Size)
	case j.Kind != KindFile && j.Kind != KindDir:
		return fmt.Errorf("file job: kind %q must be %q or %q", j.Kind, KindFile, KindDir)
	}
	return nil
}

// EnrichedJob carries a fetched file toward normalization. Content is not
// embedded; the normalizer reads it from the file record store, so the
// message stays small regardless of file size.
type EnrichedJob struct {
	Repo        string `json:"repo"`
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

// Validate checks the invariants every EnrichedJob must satisfy.
func (j *EnrichedJob) Validate() error {
	switch {
	case j.Repo == "":
		return fmt.Errorf("enriched job: repo is required")
	case j.Path == "":
		return fmt.Errorf("enriched job: path is required")
	}
	return nil
}
