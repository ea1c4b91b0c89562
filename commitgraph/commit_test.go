package commitgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/cas"
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

var alice = Identity{Name: "Alice", Email: "alice@example.com"}

// publishChain builds a small linear commit history of n commits over one
// file manifest per commit, returning the ordered commit digests root-first.
func publishChain(t *testing.T, ctx context.Context, store *cas.Store, n int) []digest.Digest {
	t.Helper()
	var parent digest.Digest
	var chain []digest.Digest
	for i := 0; i < n; i++ {
		chunkDigest, err := store.Put(ctx, objkind.Chunk, []byte{byte(i)})
		require.NoError(t, err)
		m := manifest.Manifest{Path: "f.bin", Size: 1, Chunks: []manifest.ChunkRef{{Digest: chunkDigest, Offset: 0, Length: 1}}}
		manifestDigest, err := manifest.Publish(ctx, store, m)
		require.NoError(t, err)
		tree := objtree.New([]objtree.Entry{{Name: "f.bin", Kind: objtree.EntryFile, Digest: manifestDigest}})
		treeDigest, err := objtree.Publish(ctx, store, tree)
		require.NoError(t, err)

		var parents []digest.Digest
		if !parent.IsZero() {
			parents = []digest.Digest{parent}
		}
		c, err := New(parents, treeDigest, alice, alice, "commit", time.Unix(int64(i), 0))
		require.NoError(t, err)
		d, err := Publish(ctx, store, c)
		require.NoError(t, err)
		chain = append(chain, d)
		parent = d
	}
	return chain
}

func TestValidateRejectsMissingTree(t *testing.T) {
	_, err := New(nil, digest.Digest{}, alice, alice, "msg", time.Now())
	require.Error(t, err)
}

func TestValidateRejectsTooManyParents(t *testing.T) {
	c := Commit{Parents: []digest.Digest{{1}, {2}, {3}}, Tree: digest.FromBytes(1, []byte("t"))}
	require.Error(t, c.Validate())
}

func TestPublishRequiresTreeAndParentsToExist(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	c := Commit{Tree: digest.FromBytes(byte(objkind.Tree), []byte("ghost"))}
	_, err := Publish(ctx, store, c)
	require.Error(t, err)
}

func TestCommitChainRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chain := publishChain(t, ctx, store, 3)
	require.Len(t, chain, 3)

	tip, err := Get(ctx, store, chain[2])
	require.NoError(t, err)
	require.Equal(t, []digest.Digest{chain[1]}, tip.Parents)
}

// TestPublicationOrderingClosure is spec §8 property 5: the full closure of
// a reachable commit (parents, tree, manifests, chunks) is present in the
// CAS.
func TestPublicationOrderingClosure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chain := publishChain(t, ctx, store, 3)

	w := NewWalker(store, func(context.Context) ([]digest.Digest, error) { return chain[2:], nil })
	var walk func(d digest.Digest)
	visited := map[digest.Digest]bool{}
	walk = func(d digest.Digest) {
		if visited[d] {
			return
		}
		visited[d] = true
		require.True(t, store.Has(ctx, d), "reachable object %s must exist in the CAS", d)
		kind, payload, err := store.Get(ctx, d)
		require.NoError(t, err)
		children, err := w.Children(ctx, kind, payload)
		require.NoError(t, err)
		for _, c := range children {
			walk(c)
		}
	}
	walk(chain[2])
	require.GreaterOrEqual(t, len(visited), 3*3) // commit+tree+manifest per generation, plus chunks
}

func TestIsAncestor(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chain := publishChain(t, ctx, store, 3)

	ok, err := IsAncestor(ctx, store, chain[0], chain[2])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = IsAncestor(ctx, store, chain[2], chain[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMergeBaseOnLinearHistory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	chain := publishChain(t, ctx, store, 3)

	base, err := MergeBase(ctx, store, chain[2], chain[0])
	require.NoError(t, err)
	require.Equal(t, chain[0], base)
}

func TestMergeBaseOnDivergentBranches(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	shared := publishChain(t, ctx, store, 2)
	base := shared[1]

	makeChild := func(msg string) digest.Digest {
		chunkDigest, err := store.Put(ctx, objkind.Chunk, []byte(msg))
		require.NoError(t, err)
		m := manifest.Manifest{Path: msg + ".bin", Size: uint64(len(msg)), Chunks: []manifest.ChunkRef{{Digest: chunkDigest, Offset: 0, Length: uint64(len(msg))}}}
		manifestDigest, err := manifest.Publish(ctx, store, m)
		require.NoError(t, err)
		tree := objtree.New([]objtree.Entry{{Name: msg + ".bin", Kind: objtree.EntryFile, Digest: manifestDigest}})
		treeDigest, err := objtree.Publish(ctx, store, tree)
		require.NoError(t, err)
		c, err := New([]digest.Digest{base}, treeDigest, alice, alice, msg, time.Now())
		require.NoError(t, err)
		d, err := Publish(ctx, store, c)
		require.NoError(t, err)
		return d
	}

	branchA := makeChild("a")
	branchB := makeChild("b")

	got, err := MergeBase(ctx, store, branchA, branchB)
	require.NoError(t, err)
	require.Equal(t, base, got)
}
