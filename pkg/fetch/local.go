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

package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"context"
)

// LocalClient serves file contents from a directory on disk, the origin for
// local-path repositories. It reports the same error taxonomy as the HTTP
// client so the stage treats both origins identically.
type LocalClient struct {
	// Roots maps repository identifiers to their directory roots.
	Roots map[string]string
}

// FetchFile reads one file from the repository's root directory.
func (c *LocalClient) FetchFile(_ context.Context, req FileRequest) ([]byte, error) {
	root, ok := c.Roots[req.Repo]
	if !ok {
		return nil, &PermanentError{Status: 404, Reason: fmt.Sprintf("no local root for repository %s", req.Repo)}
	}

	full := filepath.Join(root, filepath.FromSlash(req.Path))
	rel, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, &PermanentError{Status: 403, Reason: "path escapes repository root"}
	}

	body, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, &PermanentError{Status: 404, Reason: "file not found at origin"}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.Path, err)
	}
	return body, nil
}
