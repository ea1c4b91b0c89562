package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/chunker"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/index"
	"github.com/loomvcs/loom/ingest"
)

func newStore(t *testing.T) *cas.Store {
	t.Helper()
	s, err := cas.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestIndexAddStagesEntry(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "a.txt", "hello world")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, store, root, []string{"a.txt"}, ingest.Options{Params: chunker.DefaultParams()}))

	e, ok := idx.Get("a.txt")
	require.True(t, ok)
	require.Equal(t, index.StageAdded, e.Stage)
	require.Equal(t, uint64(len("hello world")), e.Size)
}

func TestIndexAddDirectoryRecurses(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "dir/a.txt", "a")
	writeFile(t, root, "dir/b.txt", "b")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, store, root, []string{"dir"}, ingest.Options{Params: chunker.DefaultParams()}))

	entries := idx.Entries()
	require.Len(t, entries, 2)
}

func TestIndexReloadsPersistedState(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "a.txt", "hello")
	idx1, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx1.Add(ctx, store, root, []string{"a.txt"}, ingest.Options{Params: chunker.DefaultParams()}))

	idx2, err := index.Open(idxPath)
	require.NoError(t, err)
	e, ok := idx2.Get("a.txt")
	require.True(t, ok)
	require.Equal(t, "a.txt", e.Path)
}

func TestIndexRemoveMarksDeleted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "a.txt", "hello")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, store, root, []string{"a.txt"}, ingest.Options{Params: chunker.DefaultParams()}))
	require.NoError(t, idx.Remove([]string{"a.txt"}))

	e, ok := idx.Get("a.txt")
	require.True(t, ok)
	require.Equal(t, index.StageDeleted, e.Stage)
}

func TestBuildCommitTreeExcludesDeletedEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "keep.txt", "keep")
	writeFile(t, root, "gone.txt", "gone")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, store, root, []string{"keep.txt", "gone.txt"}, ingest.Options{Params: chunker.DefaultParams()}))
	require.NoError(t, idx.Remove([]string{"gone.txt"}))

	treeDigest, err := index.BuildCommitTree(ctx, store, idx.Entries())
	require.NoError(t, err)

	flat, err := index.FlattenTree(ctx, store, treeDigest)
	require.NoError(t, err)
	require.Contains(t, flat, "keep.txt")
	require.NotContains(t, flat, "gone.txt")
}

func TestBuildCommitTreeNestsDirectories(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "a/b/c.txt", "deep")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, store, root, []string{"a"}, ingest.Options{Params: chunker.DefaultParams()}))

	treeDigest, err := index.BuildCommitTree(ctx, store, idx.Entries())
	require.NoError(t, err)

	flat, err := index.FlattenTree(ctx, store, treeDigest)
	require.NoError(t, err)
	require.Contains(t, flat, "a/b/c.txt")
}

func TestStatusReportsAddedWhenNoHeadTree(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "a.txt", "version one")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, store, root, []string{"a.txt"}, ingest.Options{Params: chunker.DefaultParams()}))

	statuses, err := index.Status(ctx, store, idx, root, digest.Digest{})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, index.StageAdded, statuses[0].Stage)
}

// TestStatusDetectsWorkingTreeEditsNotYetStaged is a regression test: an
// on-disk edit after `add` must be reported `modified` even though the
// index still holds the manifest digest captured at add time.
func TestStatusDetectsWorkingTreeEditsNotYetStaged(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	root := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, root, "a.txt", "committed content")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, store, root, []string{"a.txt"}, ingest.Options{Params: chunker.DefaultParams()}))

	headTree, err := index.BuildCommitTree(ctx, store, idx.Entries())
	require.NoError(t, err)

	// Edit the working file directly, without staging the change.
	writeFile(t, root, "a.txt", "edited content, never re-added")

	statuses, err := index.Status(ctx, store, idx, root, headTree)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, index.StageModified, statuses[0].Stage)
}

func TestRestoreRoundTripsFileContent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	srcRoot := t.TempDir()
	idxPath := filepath.Join(t.TempDir(), "index")

	writeFile(t, srcRoot, "a.txt", "roundtrip content")
	idx, err := index.Open(idxPath)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, store, srcRoot, []string{"a.txt"}, ingest.Options{Params: chunker.DefaultParams()}))

	e, ok := idx.Get("a.txt")
	require.True(t, ok)

	dstRoot := t.TempDir()
	source := map[string]digest.Digest{"a.txt": e.ManifestDigest}
	require.NoError(t, index.Restore(ctx, store, dstRoot, source, []string{"a.txt"}))

	got, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "roundtrip content", string(got))
}

func TestRestoreMissingSourceEntryErrors(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dstRoot := t.TempDir()

	err := index.Restore(ctx, store, dstRoot, map[string]digest.Digest{}, []string{"missing.txt"})
	require.Error(t, err)
}
