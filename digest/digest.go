// Package digest computes the fixed 32-byte content identity used to key
// every object in the content-addressed store.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	opendigest "github.com/opencontainers/go-digest"
)

// Size is the length in bytes of a Digest.
const Size = sha256.Size

// Digest is a 32-byte cryptographic digest over a kind-prefixed canonical
// payload. The zero Digest is not valid content identity; it only appears
// as the "no parent" marker on root commits.
type Digest [Size]byte

// String returns the lowercase hex form used on disk and on the wire.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Algorithm reports the digest algorithm tag carried alongside Digest in
// interop with github.com/opencontainers/go-digest, which several teacher
// packages use as the canonical "algorithm:hex" string form. The wire
// protocol carries raw digests, not this form.
func (d Digest) Algorithm() opendigest.Algorithm {
	return opendigest.SHA256
}

// OCI renders d as an opencontainers/go-digest value ("sha256:<hex>").
func (d Digest) OCI() opendigest.Digest {
	return opendigest.NewDigestFromBytes(opendigest.SHA256, d[:])
}

// Parse decodes a 64-character lowercase hex digest.
func Parse(s string) (Digest, error) {
	if len(s) != Size*2 {
		return Digest{}, ErrInvalidLength
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, ErrInvalidFormat
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// MustParse is Parse but panics on error, for digests written as literal
// hex strings.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromBytes computes the digest of a kind-prefixed canonical payload. Kind
// is always mixed into the hash (see kind.go) so that a Chunk and a Manifest
// that happen to share raw bytes never collide in identity.
func FromBytes(kind byte, payload []byte) Digest {
	h := sha256.New()
	h.Write([]byte{kind})
	h.Write(payload)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Hasher streams a kind-prefixed digest computation, used by the chunker
// and ingestion pipeline so large file payloads are never hashed via a
// single in-memory byte slice.
type Hasher struct {
	h hash.Hash
}

// NewHasher starts a streaming digest for the given object kind.
func NewHasher(kind byte) *Hasher {
	h := sha256.New()
	h.Write([]byte{kind})
	return &Hasher{h: h}
}

func (hs *Hasher) Write(p []byte) (int, error) { return hs.h.Write(p) }

// Sum finalizes and returns the digest.
func (hs *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], hs.h.Sum(nil))
	return d
}

// Verify reads all of r, discarding bytes, and reports whether the
// kind-prefixed digest of what was read equals want. It is the streaming
// counterpart of comparing FromBytes against a digest, which is how
// cas.Store.Get (and through it fsck) detects a corrupt object.
func Verify(kind byte, r io.Reader, want Digest) (bool, error) {
	hs := NewHasher(kind)
	if _, err := io.Copy(hs, r); err != nil {
		return false, err
	}
	return hs.Sum() == want, nil
}
