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

package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // graph store driver
)

// Store is the graph persistence interface the linker writes through.
// Upserts are keyed by natural key; edge upserts skip (not fail) when an
// endpoint node does not exist yet.
type Store interface {
	// UpsertNodes merges nodes by (label, key) in one transaction.
	UpsertNodes(ctx context.Context, nodes []Node) error

	// UpsertEdges merges edges by (type, from, to) in one transaction,
	// returning how many were skipped for missing endpoints.
	UpsertEdges(ctx context.Context, edges []Edge) (skipped int, err error)

	// GetNode returns a node, or nil if absent.
	GetNode(ctx context.Context, label Label, key string) (*Node, error)

	// NodesByLabel returns all nodes with the given label, ordered by key.
	NodesByLabel(ctx context.Context, label Label) ([]Node, error)

	// FindNodes returns nodes whose key contains substr, ordered by key.
	// label may be empty to search every label.
	FindNodes(ctx context.Context, label Label, substr string, limit int) ([]Node, error)

	// EdgesFrom returns edges leaving a node; typ may be empty for all types.
	EdgesFrom(ctx context.Context, ref NodeRef, typ EdgeType) ([]Edge, error)

	// EdgesTo returns edges arriving at a node; typ may be empty for all types.
	EdgesTo(ctx context.Context, ref NodeRef, typ EdgeType) ([]Edge, error)

	// AllEdges returns every edge, ordered deterministically.
	AllEdges(ctx context.Context) ([]Edge, error)

	// DeleteNodes detach-deletes nodes: every edge touching them goes too.
	DeleteNodes(ctx context.Context, refs []NodeRef) error

	// DeleteEdgesFrom removes edges leaving a node; typ may be empty for
	// all types. Used by the linker to refresh a file's subgraph.
	DeleteEdgesFrom(ctx context.Context, ref NodeRef, typ EdgeType) error

	// Counts returns node and edge cardinality.
	Counts(ctx context.Context) (nodes int, edges int, err error)

	Close() error
}

const graphSchema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	label      TEXT NOT NULL,
	key        TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (label, key)
);

CREATE TABLE IF NOT EXISTS graph_edges (
	type       TEXT NOT NULL,
	from_label TEXT NOT NULL,
	from_key   TEXT NOT NULL,
	to_label   TEXT NOT NULL,
	to_key     TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (type, from_label, from_key, to_label, to_key)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_from ON graph_edges (from_label, from_key);
CREATE INDEX IF NOT EXISTS idx_graph_edges_to   ON graph_edges (to_label, to_key);
`

// SQLStore implements Store over a SQLite database. The upsert-by-key
// semantics live in the schema's primary keys plus ON CONFLICT clauses, so
// no external locking is needed for idempotence.
type SQLStore struct {
	db     *sql.DB
	ownsDB bool

	mu     sync.Mutex
	closed bool
}

// OpenSQLStore opens (or creates) a graph store at the given SQLite path.
// Use ":memory:" for tests.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &SQLStore{db: db, ownsDB: true}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreWithDB wraps an existing connection. The caller keeps ownership
// of the connection's lifecycle.
func NewSQLStoreWithDB(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, ownsDB: false}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema() error {
	if _, err := s.db.Exec(graphSchema); err != nil {
		return &WriteError{Op: "schema", Err: err}
	}
	return nil
}

// Close closes the underlying connection if this store owns it.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// UpsertNodes merges nodes by (label, key) in a single transaction.
func (s *SQLStore) UpsertNodes(ctx context.Context, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_nodes (label, key, properties) VALUES (?, ?, ?)
		ON CONFLICT (label, key) DO UPDATE SET properties = excluded.properties`)
	if err != nil {
		return &WriteError{Op: "prepare nodes", Err: err}
	}
	defer stmt.Close()

	for _, n := range nodes {
		props, err := encodeProps(n.Properties)
		if err != nil {
			return &WriteError{Op: "encode properties", Err: err}
		}
		if _, err := stmt.ExecContext(ctx, string(n.Label), n.Key, props); err != nil {
			return &WriteError{Op: "upsert node", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Op: "commit nodes", Err: err}
	}
	return nil
}

// UpsertEdges merges edges by identity in a single transaction. Edges whose
// endpoints are missing are counted and skipped, mirroring MATCH semantics.
func (s *SQLStore) UpsertEdges(ctx context.Context, edges []Edge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &WriteError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, `SELECT 1 FROM graph_nodes WHERE label = ? AND key = ?`)
	if err != nil {
		return 0, &WriteError{Op: "prepare exists", Err: err}
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_edges (type, from_label, from_key, to_label, to_key, properties)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, from_label, from_key, to_label, to_key)
		DO UPDATE SET properties = excluded.properties`)
	if err != nil {
		return 0, &WriteError{Op: "prepare edges", Err: err}
	}
	defer upsert.Close()

	skipped := 0
	for _, e := range edges {
		ok, err := nodeExists(ctx, exists, e.From)
		if err != nil {
			return skipped, err
		}
		if ok {
			ok, err = nodeExists(ctx, exists, e.To)
			if err != nil {
				return skipped, err
			}
		}
		if !ok {
			skipped++
			continue
		}

		props, err := encodeProps(e.Properties)
		if err != nil {
			return skipped, &WriteError{Op: "encode properties", Err: err}
		}
		if _, err := upsert.ExecContext(ctx,
			string(e.Type),
			string(e.From.Label), e.From.Key,
			string(e.To.Label), e.To.Key,
			props,
		); err != nil {
			return skipped, &WriteError{Op: "upsert edge", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return skipped, &WriteError{Op: "commit edges", Err: err}
	}
	return skipped, nil
}

func nodeExists(ctx context.Context, stmt *sql.Stmt, ref NodeRef) (bool, error) {
	var one int
	err := stmt.QueryRowContext(ctx, string(ref.Label), ref.Key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &WriteError{Op: "node exists", Err: err}
	}
	return true, nil
}

// GetNode returns a node by identity, or nil when absent.
func (s *SQLStore) GetNode(ctx context.Context, label Label, key string) (*Node, error) {
	var props string
	err := s.db.QueryRowContext(ctx,
		`SELECT properties FROM graph_nodes WHERE label = ? AND key = ?`,
		string(label), key,
	).Scan(&props)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}

	n := &Node{Label: label, Key: key}
	if err := decodeProps(props, &n.Properties); err != nil {
		return nil, err
	}
	return n, nil
}

// NodesByLabel returns all nodes with the given label, ordered by key.
func (s *SQLStore) NodesByLabel(ctx context.Context, label Label) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, key, properties FROM graph_nodes WHERE label = ? ORDER BY key`,
		string(label))
	if err != nil {
		return nil, fmt.Errorf("nodes by label: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodes returns nodes whose key contains substr.
func (s *SQLStore) FindNodes(ctx context.Context, label Label, substr string, limit int) ([]Node, error) {
	if limit <= 0 {
		limit = 100
	}
	pattern := "%" + substr + "%"

	var (
		rows *sql.Rows
		err  error
	)
	if label == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT label, key, properties FROM graph_nodes WHERE key LIKE ? ORDER BY label, key LIMIT ?`,
			pattern, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT label, key, properties FROM graph_nodes WHERE label = ? AND key LIKE ? ORDER BY key LIMIT ?`,
			string(label), pattern, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("find nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// EdgesFrom returns edges leaving the node.
func (s *SQLStore) EdgesFrom(ctx context.Context, ref NodeRef, typ EdgeType) ([]Edge, error) {
	return s.queryEdges(ctx, "from_label = ? AND from_key = ?", ref, typ)
}

// EdgesTo returns edges arriving at the node.
func (s *SQLStore) EdgesTo(ctx context.Context, ref NodeRef, typ EdgeType) ([]Edge, error) {
	return s.queryEdges(ctx, "to_label = ? AND to_key = ?", ref, typ)
}

func (s *SQLStore) queryEdges(ctx context.Context, where string, ref NodeRef, typ EdgeType) ([]Edge, error) {
	query := `SELECT type, from_label, from_key, to_label, to_key, properties FROM graph_edges WHERE ` + where
	args := []any{string(ref.Label), ref.Key}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY type, from_label, from_key, to_label, to_key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// DeleteEdgesFrom removes edges leaving the node.
func (s *SQLStore) DeleteEdgesFrom(ctx context.Context, ref NodeRef, typ EdgeType) error {
	query := `DELETE FROM graph_edges WHERE from_label = ? AND from_key = ?`
	args := []any{string(ref.Label), ref.Key}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, string(typ))
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete edges from %s %s: %w", ref.Label, ref.Key, err)
	}
	return nil
}

// AllEdges returns every edge in deterministic order.
func (s *SQLStore) AllEdges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, from_label, from_key, to_label, to_key, properties
		 FROM graph_edges ORDER BY type, from_label, from_key, to_label, to_key`)
	if err != nil {
		return nil, fmt.Errorf("all edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// DeleteNodes removes nodes and detaches every edge touching them, all in
// one transaction.
func (s *SQLStore) DeleteNodes(ctx context.Context, refs []NodeRef) error {
	if len(refs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &WriteError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	delEdges, err := tx.PrepareContext(ctx, `
		DELETE FROM graph_edges
		WHERE (from_label = ?1 AND from_key = ?2) OR (to_label = ?1 AND to_key = ?2)`)
	if err != nil {
		return &WriteError{Op: "prepare detach", Err: err}
	}
	defer delEdges.Close()

	delNode, err := tx.PrepareContext(ctx, `DELETE FROM graph_nodes WHERE label = ? AND key = ?`)
	if err != nil {
		return &WriteError{Op: "prepare delete", Err: err}
	}
	defer delNode.Close()

	for _, ref := range refs {
		if _, err := delEdges.ExecContext(ctx, string(ref.Label), ref.Key); err != nil {
			return &WriteError{Op: "detach edges", Err: err}
		}
		if _, err := delNode.ExecContext(ctx, string(ref.Label), ref.Key); err != nil {
			return &WriteError{Op: "delete node", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Op: "commit delete", Err: err}
	}
	return nil
}

// Counts returns total node and edge cardinality.
func (s *SQLStore) Counts(ctx context.Context) (int, int, error) {
	var nodes, edges int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_nodes`).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("count nodes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_edges`).Scan(&edges); err != nil {
		return 0, 0, fmt.Errorf("count edges: %w", err)
	}
	return nodes, edges, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var n Node
		var label, props string
		if err := rows.Scan(&label, &n.Key, &props); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Label = Label(label)
		if err := decodeProps(props, &n.Properties); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var edges []Edge
	for rows.Next() {
		var e Edge
		var typ, fl, tl, props string
		if err := rows.Scan(&typ, &fl, &e.From.Key, &tl, &e.To.Key, &props); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Type = EdgeType(typ)
		e.From.Label = Label(fl)
		e.To.Label = Label(tl)
		if err := decodeProps(props, &e.Properties); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func encodeProps(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeProps(raw string, out *map[string]string) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}
	return nil
}
