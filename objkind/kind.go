// Package objkind defines the closed tagged sum of object kinds stored in
// the content-addressed store (spec §3: Chunk, Manifest, Tree, Commit) and
// the canonical-encoding helpers every domain package uses before handing a
// payload to cas.Store.Put. Dispatch on Kind is a switch, never open
// extension, per the polymorphism design note.
package objkind

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the single-byte tag prefixed to every stored object's canonical
// payload when computing its digest (spec §4.1); compression is applied to
// the payload alone.
type Kind byte

const (
	// Chunk holds raw file bytes; its canonical payload IS the raw bytes,
	// no CBOR wrapper, so a chunk's digest is the hash of the kind byte
	// followed by its raw content.
	Chunk Kind = 1
	// Manifest describes one file as attributes plus an ordered chunk-ref list.
	Manifest Kind = 2
	// Tree describes a directory as an ordered list of named entries.
	Tree Kind = 3
	// Commit points to a root tree, parents, and author/committer metadata.
	Commit Kind = 4
)

func (k Kind) String() string {
	switch k {
	case Chunk:
		return "chunk"
	case Manifest:
		return "manifest"
	case Tree:
		return "tree"
	case Commit:
		return "commit"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Chunk, Manifest, Tree, Commit:
		return true
	default:
		return false
	}
}

// canonicalMode is shared by Marshal/Unmarshal so every caller produces the
// same deterministic byte string for equal values: sorted map keys, no
// indefinite-length items, smallest-width integers. This is what makes
// "canonical encoding" in spec §3 concrete rather than aspirational.
var canonicalMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Marshal encodes v (a Manifest/Tree/Commit payload struct) deterministically.
func Marshal(v any) ([]byte, error) {
	return canonicalMode.Marshal(v)
}

// Unmarshal decodes a canonical payload into v.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
