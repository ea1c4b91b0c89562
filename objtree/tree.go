// Package objtree assembles file manifests into directory tree objects
// (spec §3 Tree row); trees nest to encode the working tree at a commit.
package objtree

import (
	"context"
	"fmt"
	"sort"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/objkind"
)

// EntryKind distinguishes a tree entry pointing at a nested Tree from one
// pointing at a file Manifest.
type EntryKind byte

const (
	EntryTree EntryKind = 0
	EntryFile EntryKind = 1
)

// Entry is one named child of a Tree.
type Entry struct {
	Name   string    `cbor:"1,keyasint"`
	Kind   EntryKind `cbor:"2,keyasint"`
	Digest digest.Digest `cbor:"3,keyasint"`
}

// Tree is the canonical payload of a Tree-kind object.
type Tree struct {
	Entries []Entry `cbor:"1,keyasint"`
}

// Validate checks spec §3's Tree invariants: names unique within a tree,
// sorted by unsigned byte order.
func (t Tree) Validate() error {
	seen := make(map[string]struct{}, len(t.Entries))
	for i, e := range t.Entries {
		if e.Name == "" {
			return fmt.Errorf("objtree: entry %d has empty name", i)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("objtree: duplicate entry name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		if i > 0 && t.Entries[i-1].Name >= e.Name {
			return fmt.Errorf("objtree: entries not sorted by unsigned byte order at %q", e.Name)
		}
	}
	return nil
}

// New builds a Tree from entries, sorting them by unsigned byte order of
// Name as spec §3 requires (rather than trusting the caller's order).
func New(entries []Entry) Tree {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return Tree{Entries: sorted}
}

func (t Tree) Encode() ([]byte, error) { return objkind.Marshal(t) }

func Decode(payload []byte) (Tree, error) {
	var t Tree
	if err := objkind.Unmarshal(payload, &t); err != nil {
		return Tree{}, err
	}
	return t, nil
}

// Publish validates t, confirms every referenced entry exists in store
// (spec §3: "referenced objects exist"), and writes it.
func Publish(ctx context.Context, store *cas.Store, t Tree) (digest.Digest, error) {
	if err := t.Validate(); err != nil {
		return digest.Digest{}, err
	}
	for _, e := range t.Entries {
		if !store.Has(ctx, e.Digest) {
			return digest.Digest{}, fmt.Errorf("objtree: entry %q -> %s not yet published", e.Name, e.Digest)
		}
	}
	payload, err := t.Encode()
	if err != nil {
		return digest.Digest{}, fmt.Errorf("objtree: encode: %w", err)
	}
	return store.Put(ctx, objkind.Tree, payload)
}

// Children implements cas.Walker's traversal step for a Tree: every entry's digest.
func Children(t Tree) []digest.Digest {
	out := make([]digest.Digest, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Digest
	}
	return out
}
