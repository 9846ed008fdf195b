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
	"errors"
	"fmt"
	"time"
)

// Repository sync states.
const (
	RepoStateSyncing     = "syncing"
	RepoStateProcessing  = "processing"
	RepoStateDone        = "done"
	RepoStateFailed      = "failed"
	RepoStateRateLimited = "rate_limited"
)

// RepoSyncStatus is the coarse per-repository lifecycle the recovery
// subsystem keys on.
type RepoSyncStatus struct {
	Repo      string
	State     string
	Message   string
	UpdatedAt time.Time
}

// RepoStatusStore persists repository sync status.
type RepoStatusStore struct {
	db  *DB
	now func() time.Time
}

// NewRepoStatusStore creates a store over an opened database.
func NewRepoStatusStore(db *DB) *RepoStatusStore {
	return &RepoStatusStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Set upserts the repository's state.
func (s *RepoStatusStore) Set(ctx context.Context, repo, state, message string) error {
	query := s.db.Rebind(`
		INSERT INTO repo_sync_status (repo, state, message, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repo) DO UPDATE SET
			state = excluded.state,
			message = excluded.message,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, repo, state, message, s.now()); err != nil {
		return fmt.Errorf("set repo state %s=%s: %w", repo, state, err)
	}
	return nil
}

// Get loads one repository's status.
func (s *RepoStatusStore) Get(ctx context.Context, repo string) (*RepoSyncStatus, error) {
	query := s.db.Rebind(`SELECT repo, state, message, updated_at FROM repo_sync_status WHERE repo = ?`)
	var st RepoSyncStatus
	err := s.db.QueryRowContext(ctx, query, repo).Scan(&st.Repo, &st.State, &st.Message, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repo status %s: %w", repo, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repo status %s: %w", repo, err)
	}
	return &st, nil
}

// InStates lists repositories currently in any of the given states, oldest
// update first so recovery works on the longest-stalled repository first.
func (s *RepoStatusStore) InStates(ctx context.Context, states ...string) ([]RepoSyncStatus, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT repo, state, message, updated_at FROM repo_sync_status WHERE state IN (`
	args := make([]any, len(states))
	for i, st := range states {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args[i] = st
	}
	query += `) ORDER BY updated_at ASC`

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list repos in states %v: %w", states, err)
	}
	defer rows.Close()

	var out []RepoSyncStatus
	for rows.Next() {
		var st RepoSyncStatus
		if err := rows.Scan(&st.Repo, &st.State, &st.Message, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Delete removes the repository's status row.
func (s *RepoStatusStore) Delete(ctx context.Context, repo string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM repo_sync_status WHERE repo = ?`), repo); err != nil {
		return fmt.Errorf("delete repo status %s: %w", repo, err)
	}
	return nil
}
