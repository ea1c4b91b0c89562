package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/commitgraph"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/objkind"
	"github.com/loomvcs/loom/objtree"
)

func newStore(t *testing.T) *cas.Store {
	t.Helper()
	s, err := cas.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

var alice = commitgraph.Identity{Name: "Alice", Email: "alice@example.com"}

func publishCommit(t *testing.T, ctx context.Context, store *cas.Store, parent digest.Digest, path, content string) digest.Digest {
	t.Helper()
	chunkDigest, err := store.Put(ctx, objkind.Chunk, []byte(content))
	require.NoError(t, err)
	m := manifest.Manifest{Path: path, Size: uint64(len(content)), Chunks: []manifest.ChunkRef{{Digest: chunkDigest, Offset: 0, Length: uint64(len(content))}}}
	manifestDigest, err := manifest.Publish(ctx, store, m)
	require.NoError(t, err)
	tree := objtree.New([]objtree.Entry{{Name: path, Kind: objtree.EntryFile, Digest: manifestDigest}})
	treeDigest, err := objtree.Publish(ctx, store, tree)
	require.NoError(t, err)
	var parents []digest.Digest
	if !parent.IsZero() {
		parents = []digest.Digest{parent}
	}
	c, err := commitgraph.New(parents, treeDigest, alice, alice, "commit", time.Now())
	require.NoError(t, err)
	d, err := commitgraph.Publish(ctx, store, c)
	require.NoError(t, err)
	return d
}

func TestReachableClosureOrdersDependenciesBeforeDependents(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tip := publishCommit(t, ctx, store, digest.Digest{}, "a.bin", "hello")

	order, err := reachableClosure(ctx, store, tip)
	require.NoError(t, err)
	require.NotEmpty(t, order)

	position := make(map[digest.Digest]int, len(order))
	for i, r := range order {
		position[r.Digest] = i
	}

	c, err := commitgraph.Get(ctx, store, tip)
	require.NoError(t, err)
	require.Less(t, position[c.Tree], position[tip])

	kind, payload, err := store.Get(ctx, c.Tree)
	require.NoError(t, err)
	require.Equal(t, objkind.Tree, kind)
	tree, err := objtree.Decode(payload)
	require.NoError(t, err)
	require.Less(t, position[tree.Entries[0].Digest], position[c.Tree])
}

func TestReachableClosureCollapsesSharedObjects(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	first := publishCommit(t, ctx, store, digest.Digest{}, "a.bin", "same content")
	second := publishCommit(t, ctx, store, first, "b.bin", "same content")

	order, err := reachableClosure(ctx, store, second)
	require.NoError(t, err)

	seen := make(map[digest.Digest]int)
	for _, r := range order {
		seen[r.Digest]++
	}
	for d, count := range seen {
		require.Equal(t, 1, count, "object %s visited more than once", d)
	}
}

func TestReachableClosureOnZeroDigestIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	order, err := reachableClosure(ctx, store, digest.Digest{})
	require.NoError(t, err)
	require.Empty(t, order)
}

// TestDiffClosureExcludesOldTipReachableObjects is the object-level
// analogue of spec §4.7's push step 2: only what's new relative to oldTip
// is selected for transfer.
func TestDiffClosureExcludesOldTipReachableObjects(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	base := publishCommit(t, ctx, store, digest.Digest{}, "a.bin", "base content")
	head := publishCommit(t, ctx, store, base, "b.bin", "new content")

	diff, err := diffClosure(ctx, store, base, head)
	require.NoError(t, err)

	baseClosure, err := reachableClosure(ctx, store, base)
	require.NoError(t, err)
	baseSet := make(map[digest.Digest]bool, len(baseClosure))
	for _, r := range baseClosure {
		baseSet[r.Digest] = true
	}

	for _, r := range diff {
		require.False(t, baseSet[r.Digest], "diff must not include objects already reachable from oldTip")
	}

	var sawHead bool
	for _, r := range diff {
		if r.Digest == head {
			sawHead = true
		}
	}
	require.True(t, sawHead)
}

func TestDiffClosureFromZeroOldTipIsFullClosure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tip := publishCommit(t, ctx, store, digest.Digest{}, "a.bin", "content")

	diff, err := diffClosure(ctx, store, digest.Digest{}, tip)
	require.NoError(t, err)
	full, err := reachableClosure(ctx, store, tip)
	require.NoError(t, err)
	require.Equal(t, len(full), len(diff))
}
