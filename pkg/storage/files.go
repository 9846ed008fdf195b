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

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/repograph/repograph/pkg/normalize"
)

// File record lifecycle statuses. A record only ever moves forward except
// through an explicit reset; done records are never demoted by workers.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusDone       = "done"
	FileStatusFailed     = "failed"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// FileRecord is the durable state of one source file in one repository.
type FileRecord struct {
	Repo        string
	Path        string
	ContentHash string
	Size        int64
	Kind        string
	Status      string
	Attempts    int
	LastError   string
	RawContent  string
	Normalized  []byte
	UpdatedAt   time.Time
}

// FileRecordStore persists file records keyed by (repo, path).
type FileRecordStore struct {
	db  *DB
	now func() time.Time
}

// NewFileRecordStore creates a store over an opened database.
func NewFileRecordStore(db *DB) *FileRecordStore {
	return &FileRecordStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertDiscovered records a file seen during discovery. New files start
// pending; known files whose content hash changed are reset to pending so
// they get refetched, otherwise their status is untouched. Returns the
// record's status after the write.
func (s *FileRecordStore) UpsertDiscovered(ctx context.Context, repo, path, contentHash string, size int64, kind string) (string, error) {
	query := s.db.Rebind(`
		INSERT INTO file_records (repo, path, content_hash, size, kind, status, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (repo, path) DO UPDATE SET
			size = excluded.size,
			kind = excluded.kind,
			status = CASE
				WHEN file_records.content_hash <> excluded.content_hash THEN 'pending'
				ELSE file_records.status
			END,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, repo, path, contentHash, size, kind, s.now()); err != nil {
		return "", fmt.Errorf("upsert discovered %s/%s: %w", repo, path, err)
	}

	var status string
	get := s.db.Rebind(`SELECT status FROM file_records WHERE repo = ? AND path = ?`)
	if err := s.db.QueryRowContext(ctx, get, repo, path).Scan(&status); err != nil {
		return "", fmt.Errorf("read status %s/%s: %w", repo, path, err)
	}
	return status, nil
}

// MarkProcessing transitions a record to processing and bumps its attempt
// counter. Done records are left alone, which is what makes redelivered
// queue messages harmless: the second delivery observes done and skips.
func (s *FileRecordStore) MarkProcessing(ctx context.Context, repo, path string) (bool, error) {
	query := s.db.Rebind(`
		UPDATE file_records
		SET status = 'processing', attempts = attempts + 1, updated_at = ?
		WHERE repo = ? AND path = ? AND status <> 'done'`)
	res, err := s.db.ExecContext(ctx, query, s.now(), repo, path)
	if err != nil {
		return false, fmt.Errorf("mark processing %s/%s: %w", repo, path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRawContent stores the fetched file body. The record stays in
// processing; normalization moves it to done.
func (s *FileRecordStore) SetRawContent(ctx context.Context, repo, path, content string) error {
	query := s.db.Rebind(`
		UPDATE file_records SET raw_content = ?, updated_at = ?
		WHERE repo = ? AND path = ?`)
	res, err := s.db.ExecContext(ctx, query, content, s.now(), repo, path)
	if err != nil {
		return fmt.Errorf("set raw content %s/%s: %w", repo, path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set raw content %s/%s: %w", repo, path, ErrNotFound)
	}
	return nil
}

// SetNormalized stores the normalized record and completes the lifecycle.
func (s *FileRecordStore) SetNormalized(ctx context.Context, repo, path string, record *normalize.NormalizedFile) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode normalized %s/%s: %w", repo, path, err)
	}
	query := s.db.Rebind(`
		UPDATE file_records
		SET normalized = ?, status = 'done', last_error = '', updated_at = ?
		WHERE repo = ? AND path = ?`)
	res, err := s.db.ExecContext(ctx, query, string(payload), s.now(), repo, path)
	if err != nil {
		return fmt.Errorf("set normalized %s/%s: %w", repo, path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set normalized %s/%s: %w", repo, path, ErrNotFound)
	}
	return nil
}

// MarkFailed records a terminal failure for this file.
func (s *FileRecordStore) MarkFailed(ctx context.Context, repo, path, cause string) error {
	query := s.db.Rebind(`
		UPDATE file_records SET status = 'failed', last_error = ?, updated_at = ?
		WHERE repo = ? AND path = ?`)
	if _, err := s.db.ExecContext(ctx, query, cause, s.now(), repo, path); err != nil {
		return fmt.Errorf("mark failed %s/%s: %w", repo, path, err)
	}
	return nil
}

// ResetRepo puts every record of the repository back to pending, keeping
// content hashes so unchanged files are still recognized later.
func (s *FileRecordStore) ResetRepo(ctx context.Context, repo string) (int64, error) {
	query := s.db.Rebind(`
		UPDATE file_records
		SET status = 'pending', attempts = 0, last_error = '', updated_at = ?
		WHERE repo = ?`)
	res, err := s.db.ExecContext(ctx, query, s.now(), repo)
	if err != nil {
		return 0, fmt.Errorf("reset repo %s: %w", repo, err)
	}
	return res.RowsAffected()
}

// Get loads one record.
func (s *FileRecordStore) Get(ctx context.Context, repo, path string) (*FileRecord, error) {
	query := s.db.Rebind(`
		SELECT repo, path, content_hash, size, kind, status, attempts, last_error,
		       COALESCE(raw_content, ''), COALESCE(normalized, ''), updated_at
		FROM file_records WHERE repo = ? AND path = ?`)
	rec, err := scanFileRecord(s.db.QueryRowContext(ctx, query, repo, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", repo, path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", repo, path, err)
	}
	return rec, nil
}

// Unfinished returns records still owed work for a repository: pending ones,
// plus processing ones last touched before staleCutoff. A worker that died
// mid-file leaves exactly such a stale processing row behind.
func (s *FileRecordStore) Unfinished(ctx context.Context, repo string, staleCutoff time.Time) ([]FileRecord, error) {
	query := s.db.Rebind(`
		SELECT repo, path, content_hash, size, kind, status, attempts, last_error,
		       COALESCE(raw_content, ''), COALESCE(normalized, ''), updated_at
		FROM file_records
		WHERE repo = ? AND (status = 'pending' OR (status = 'processing' AND updated_at < ?))
		ORDER BY path`)
	rows, err := s.db.QueryContext(ctx, query, repo, staleCutoff)
	if err != nil {
		return nil, fmt.Errorf("list unfinished %s: %w", repo, err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountByStatus returns the per-status record counts for a repository.
func (s *FileRecordStore) CountByStatus(ctx context.Context, repo string) (map[string]int, error) {
	query := s.db.Rebind(`SELECT status, COUNT(*) FROM file_records WHERE repo = ? GROUP BY status`)
	rows, err := s.db.QueryContext(ctx, query, repo)
	if err != nil {
		return nil, fmt.Errorf("count by status %s: %w", repo, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// NormalizedRecords returns every completed normalized record for the
// repository in path order. This is the graph linker's record source for
// full imports.
func (s *FileRecordStore) NormalizedRecords(ctx context.Context, repo string) ([]*normalize.NormalizedFile, error) {
	query := s.db.Rebind(`
		SELECT normalized FROM file_records
		WHERE repo = ? AND status = 'done' AND normalized IS NOT NULL
		ORDER BY path`)
	rows, err := s.db.QueryContext(ctx, query, repo)
	if err != nil {
		return nil, fmt.Errorf("load normalized records %s: %w", repo, err)
	}
	defer rows.Close()

	var out []*normalize.NormalizedFile
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec normalize.NormalizedFile
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode normalized record in %s: %w", repo, err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DeleteRepo drops every record of the repository.
func (s *FileRecordStore) DeleteRepo(ctx context.Context, repo string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM file_records WHERE repo = ?`), repo)
	if err != nil {
		return 0, fmt.Errorf("delete repo %s: %w", repo, err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var normalized string
	err := row.Scan(&rec.Repo, &rec.Path, &rec.ContentHash, &rec.Size, &rec.Kind,
		&rec.Status, &rec.Attempts, &rec.LastError, &rec.RawContent, &normalized, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if normalized != "" {
		rec.Normalized = []byte(normalized)
	}
	return &rec, nil
}
