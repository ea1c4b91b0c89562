package objtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/objkind"
)

func newStore(t *testing.T) *cas.Store {
	t.Helper()
	s, err := cas.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewSortsByUnsignedByteOrder(t *testing.T) {
	tree := New([]Entry{
		{Name: "zeta", Kind: EntryFile, Digest: digest.FromBytes(1, []byte("z"))},
		{Name: "alpha", Kind: EntryFile, Digest: digest.FromBytes(1, []byte("a"))},
		{Name: "mid", Kind: EntryFile, Digest: digest.FromBytes(1, []byte("m"))},
	})
	require.Equal(t, []string{"alpha", "mid", "zeta"}, names(tree))
	require.NoError(t, tree.Validate())
}

func names(t Tree) []string {
	out := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Name
	}
	return out
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	tree := Tree{Entries: []Entry{
		{Name: "a", Digest: digest.FromBytes(1, []byte("1"))},
		{Name: "a", Digest: digest.FromBytes(1, []byte("2"))},
	}}
	require.Error(t, tree.Validate())
}

func TestValidateRejectsUnsortedEntries(t *testing.T) {
	tree := Tree{Entries: []Entry{
		{Name: "b", Digest: digest.FromBytes(1, []byte("1"))},
		{Name: "a", Digest: digest.FromBytes(1, []byte("2"))},
	}}
	require.Error(t, tree.Validate())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := New([]Entry{{Name: "f.bin", Kind: EntryFile, Digest: digest.FromBytes(1, []byte("x"))}})
	payload, err := tree.Encode()
	require.NoError(t, err)
	got, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, tree, got)
}

func TestPublishRequiresEntriesExist(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tree := New([]Entry{{Name: "missing.bin", Kind: EntryFile, Digest: digest.FromBytes(byte(objkind.Manifest), []byte("ghost"))}})
	_, err := Publish(ctx, store, tree)
	require.Error(t, err)
}

func TestPublishSucceedsWithExistingEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	child, err := store.Put(ctx, objkind.Manifest, []byte("child manifest"))
	require.NoError(t, err)

	tree := New([]Entry{{Name: "f.bin", Kind: EntryFile, Digest: child}})
	d, err := Publish(ctx, store, tree)
	require.NoError(t, err)
	require.True(t, store.Has(ctx, d))
}
