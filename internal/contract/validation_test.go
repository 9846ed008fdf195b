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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileJobValidate(t *testing.T) {
	valid := FileJob{Repo: "demo", Path: "src/a.js", Size: 10, Kind: KindFile}
	assert.NoError(t, valid.Validate())
	dir := FileJob{Repo: "demo", Path: "src/lib", Kind: KindDir}
	assert.NoError(t, dir.Validate())

	cases := []struct {
		name string
		job  FileJob
	}{
		{"missing repo", FileJob{Path: "src/a.js"}},
		{"missing path", FileJob{Repo: "demo"}},
		{"absolute path", FileJob{Repo: "demo", Path: "/etc/passwd"}},
		{"traversal path", FileJob{Repo: "demo", Path: "../secrets"}},
		{"negative size", FileJob{Repo: "demo", Path: "src/a.js", Size: -1, Kind: KindFile}},
		{"unknown kind", FileJob{Repo: "demo", Path: "src/a.js", Kind: "source"}},
		{"empty kind", FileJob{Repo: "demo", Path: "src/a.js"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.job.Validate())
		})
	}
}

func TestEnrichedJobValidate(t *testing.T) {
	valid := EnrichedJob{Repo: "demo", Path: "src/a.js"}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&EnrichedJob{Path: "src/a.js"}).Validate())
	assert.Error(t, (&EnrichedJob{Repo: "demo"}).Validate())
}

func TestMaxFileBytes(t *testing.T) {
	assert.Equal(t, DefaultMaxFileBytes, MaxFileBytes())

	t.Setenv("REPOGRAPH_MAX_FILE_BYTES", "1024")
	assert.Equal(t, 1024, MaxFileBytes())

	t.Setenv("REPOGRAPH_MAX_FILE_BYTES", "not-a-number")
	assert.Equal(t, DefaultMaxFileBytes, MaxFileBytes())
}
