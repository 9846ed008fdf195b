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

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/repograph/repograph/pkg/normalize"
)

// AuditRecord is the completion snapshot written per repository run. Files
// carries the full normalized set, the export shape downstream consumers
// read instead of the live database.
type AuditRecord struct {
	Repo        string                      `json:"repo"`
	StatusCount map[string]int              `json:"status_count"`
	Files       []*normalize.NormalizedFile `json:"files"`
	CompletedAt string                      `json:"completed_at"`
}

// AuditWriter persists run snapshots as JSON files, one per repository.
type AuditWriter struct {
	dir string
}

// NewAuditWriter writes snapshots under dir.
func NewAuditWriter(dir string) *AuditWriter {
	return &AuditWriter{dir: dir}
}

// Write saves the snapshot atomically via temp file and rename, so a crash
// mid-write never leaves a truncated audit file.
func (w *AuditWriter) Write(repo string, counts map[string]int, files []*normalize.NormalizedFile) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	record := AuditRecord{
		Repo:        repo,
		StatusCount: counts,
		Files:       files,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	path := w.path(repo)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write audit temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename audit file: %w", err)
	}
	return nil
}

// Load reads the last snapshot for a repository, nil when none exists.
func (w *AuditWriter) Load(repo string) (*AuditRecord, error) {
	data, err := os.ReadFile(w.path(repo))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	var record AuditRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse audit file: %w", err)
	}
	return &record, nil
}

func (w *AuditWriter) path(repo string) string {
	return filepath.Join(w.dir, sanitizeName(repo)+".json")
}

// sanitizeName keeps repository identifiers filesystem safe.
func sanitizeName(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
