// Package manifest builds and validates file manifest objects: the
// per-file attributes plus ordered chunk-ref list of spec §3/§4.4.
package manifest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/objkind"
)

// Mode names the filesystem mode bits a manifest preserves, normalized
// across platforms per spec §4.4 ("mode from filesystem metadata with
// platform-normalized executable bit").
type Mode string

const (
	ModeRegular    Mode = "regular"
	ModeExecutable Mode = "executable"
	ModeSymlink    Mode = "symlink"
)

// ChunkRef is one entry in a manifest's chunk-ref list (spec §3).
type ChunkRef struct {
	Digest digest.Digest `cbor:"1,keyasint"`
	Offset uint64        `cbor:"2,keyasint"`
	Length uint64        `cbor:"3,keyasint"`
}

// Manifest is the canonical payload of a Manifest-kind object.
type Manifest struct {
	Path        string     `cbor:"1,keyasint"`
	Mode        Mode       `cbor:"2,keyasint"`
	Size        uint64     `cbor:"3,keyasint"`
	ContentType string     `cbor:"4,keyasint"`
	Chunks      []ChunkRef `cbor:"5,keyasint"`
}

// Validate checks the invariants of spec §3's Manifest row: chunk lengths
// sum to the logical size, and offsets form a contiguous, strictly
// increasing cover starting at 0.
func (m Manifest) Validate() error {
	if m.Path == "" || strings.HasPrefix(m.Path, "/") || strings.Contains(m.Path, "..") {
		return fmt.Errorf("manifest: invalid path %q", m.Path)
	}
	if path.Clean(m.Path) != m.Path {
		return fmt.Errorf("manifest: path %q is not POSIX-normalized", m.Path)
	}

	var sum uint64
	var want uint64
	for i, c := range m.Chunks {
		if c.Offset != want {
			return fmt.Errorf("manifest: chunk %d offset %d, want %d (contiguous cover)", i, c.Offset, want)
		}
		if c.Length == 0 {
			return fmt.Errorf("manifest: chunk %d has zero length", i)
		}
		sum += c.Length
		want += c.Length
	}
	if sum != m.Size {
		return fmt.Errorf("manifest: chunk lengths sum to %d, want logical size %d", sum, m.Size)
	}
	return nil
}

// Encode returns the canonical CBOR payload.
func (m Manifest) Encode() ([]byte, error) {
	return objkind.Marshal(m)
}

// Decode parses a canonical Manifest payload.
func Decode(payload []byte) (Manifest, error) {
	var m Manifest
	if err := objkind.Unmarshal(payload, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Publish validates m, confirms every referenced chunk already exists in
// store (spec §3: "every referenced chunk digest exists in the CAS before
// the manifest is published"), and writes it.
func Publish(ctx context.Context, store *cas.Store, m Manifest) (digest.Digest, error) {
	if err := m.Validate(); err != nil {
		return digest.Digest{}, err
	}
	for _, c := range m.Chunks {
		if !store.Has(ctx, c.Digest) {
			return digest.Digest{}, fmt.Errorf("manifest: chunk %s not yet published", c.Digest)
		}
	}
	payload, err := m.Encode()
	if err != nil {
		return digest.Digest{}, fmt.Errorf("manifest: encode: %w", err)
	}
	return store.Put(ctx, objkind.Manifest, payload)
}

// Children implements cas.Walker's traversal step for a Manifest: its
// chunk-ref digests.
func Children(m Manifest) []digest.Digest {
	out := make([]digest.Digest, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.Digest
	}
	return out
}
