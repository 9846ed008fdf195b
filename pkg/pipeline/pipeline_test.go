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
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repograph/repograph/internal/testutil"
	"github.com/repograph/repograph/pkg/fetch"
	"github.com/repograph/repograph/pkg/graph"
	"github.com/repograph/repograph/pkg/queue"
	"github.com/repograph/repograph/pkg/scheduler"
	"github.com/repograph/repograph/pkg/storage"
)

func writeRepoFixture(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func newTestPipeline(t *testing.T, root string) (*Pipeline, graph.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := testutil.StateDB(t)
	store := testutil.GraphStore(t)

	sched := scheduler.New(scheduler.Options{Logger: logger})
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	p, err := New(Options{
		DB:         db,
		GraphStore: store,
		Scheduler:  sched,
		Client:     &fetch.LocalClient{Roots: map[string]string{"demo": root}},
		Repos: []RepoConfig{
			{Name: "demo", Owner: "local", UserID: "u1", Path: root},
		},
		AuditDir: filepath.Join(t.TempDir(), "audit"),
		Logger:   logger,
	})
	require.NoError(t, err)
	return p, store
}

// runUntilDone runs both consumers until the repository reaches the done
// state or the timeout expires.
func runUntilDone(t *testing.T, p *Pipeline, repo string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.RunFetchConsumer(ctx)
	go p.RunNormalizeConsumer(ctx)

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		status, err := p.RepoStatus().Get(ctx, repo)
		if err == nil && status.State == storage.RepoStateDone {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("repository %s never reached done", repo)
}

func TestDiscoverer_FiltersBySourceLanguage(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js":    "export function f() {}\n",
		"src/b.ts":    "export function g() {}\n",
		"src/c.tsx":   "export const C = () => null;\n",
		"README.md":   "# demo\n",
		"assets/logo": "binary\n",
	})
	db := testutil.StateDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDiscoverer(storage.NewFileRecordStore(db), queue.New(db, logger), logger)

	result, err := d.Discover(context.Background(), RepoConfig{Name: "demo", Path: root})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Discovered, "every parseable source file must be recorded")
	assert.Equal(t, 3, result.Queued)
	assert.Equal(t, 2, result.Skipped["unsupported_language"])
}

func TestPipeline_EndToEnd(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js":   "import { g } from './b.js';\nexport function f() { g(); }\n",
		"src/b.js":   "export function g() {}\n",
		"README.md":  "# demo\n",
		"src/big.md": "not source\n",
	})
	p, store := newTestPipeline(t, root)
	ctx := context.Background()

	result, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Discovered, "only supported source files are recorded")
	assert.Equal(t, 2, result.Queued)

	runUntilDone(t, p, "demo")

	// Both files are done and the graph carries the cross-file call.
	counts, err := p.Records().CountByStatus(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[storage.FileStatusDone])

	calls, err := store.EdgesFrom(ctx, graph.NodeRef{Label: graph.LabelFunction, Key: "src/a.js::f"}, graph.EdgeCalls)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "src/b.js::g", calls[0].To.Key, "f should resolve g through the import table")
}

func TestPipeline_SecondGenerateIsIncremental(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js": "export function f() {}\n",
	})
	p, _ := newTestPipeline(t, root)
	ctx := context.Background()

	_, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	runUntilDone(t, p, "demo")

	result, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	assert.Zero(t, result.Queued, "unchanged files must not be requeued")

	status, err := p.RepoStatus().Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStateDone, status.State)
}

func TestPipeline_ChangedFileIsReprocessed(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js": "export function f() {}\n",
	})
	p, store := newTestPipeline(t, root)
	ctx := context.Background()

	_, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	runUntilDone(t, p, "demo")

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.js"),
		[]byte("export function f() {}\nexport function h() {}\n"), 0o644))

	result, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued, "the edited file should be requeued")
	runUntilDone(t, p, "demo")

	n, err := store.GetNode(ctx, graph.LabelFunction, "src/a.js::h")
	require.NoError(t, err)
	assert.NotNil(t, n, "the new function should appear after reindexing")
}

func TestPipeline_ForceReprocessesEverything(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js": "export function f() {}\n",
	})
	p, _ := newTestPipeline(t, root)
	ctx := context.Background()

	_, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	runUntilDone(t, p, "demo")

	result, err := p.Generate(ctx, "demo", true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued, "force should requeue unchanged files")
}

func TestPipeline_DeleteRemovesRepoState(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js": "export function f() {}\n",
	})
	p, store := newTestPipeline(t, root)
	ctx := context.Background()

	_, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	runUntilDone(t, p, "demo")

	stats, err := p.Delete(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	n, err := store.GetNode(ctx, graph.LabelRepository, "demo")
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = p.RepoStatus().Get(ctx, "demo")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	rec, err := p.Records().Get(ctx, "demo", "src/a.js")
	require.NoError(t, err)
	assert.Equal(t, storage.FileStatusPending, rec.Status, "deleted repos keep their records, reset to pending")
}

func TestPipeline_ReimportConverges(t *testing.T) {
	root := writeRepoFixture(t, map[string]string{
		"src/a.js": "export function f() {}\n",
		"src/b.js": "export function g() { f(); }\n",
	})
	p, store := newTestPipeline(t, root)
	ctx := context.Background()

	_, err := p.Generate(ctx, "demo", false)
	require.NoError(t, err)
	runUntilDone(t, p, "demo")

	nodes1, edges1, err := store.Counts(ctx)
	require.NoError(t, err)

	_, err = p.Reimport(ctx, "demo")
	require.NoError(t, err)

	nodes2, edges2, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, nodes1, nodes2, "full reimport must not grow the graph")
	assert.Equal(t, edges1, edges2)
}

func TestFetchConsumer_SurvivesDequeueErrors(t *testing.T) {
	root := writeRepoFixture(t, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.StateDB(t)

	sched := scheduler.New(scheduler.Options{Logger: logger})
	sched.Start(context.Background())
	t.Cleanup(sched.Stop)

	p, err := New(Options{
		DB:         db,
		GraphStore: testutil.GraphStore(t),
		Scheduler:  sched,
		Client:     &fetch.LocalClient{Roots: map[string]string{"demo": root}},
		Repos:      []RepoConfig{{Name: "demo", Owner: "local", UserID: "u1", Path: root}},
		Logger:     logger,
	})
	require.NoError(t, err)

	// Closing the database makes every dequeue fail without the context
	// being done; the consumer must back off and keep looping.
	require.NoError(t, db.Close())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.RunFetchConsumer(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("consumer exited on a transient dequeue error")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

func TestPipeline_GenerateUnknownRepo(t *testing.T) {
	root := writeRepoFixture(t, nil)
	p, _ := newTestPipeline(t, root)

	_, err := p.Generate(context.Background(), "nope", false)
	assert.Error(t, err)
}
