// Package cas implements the content-addressed object store of spec §4.2:
// sharded, digest-keyed, atomically-published storage for chunks,
// manifests, trees, and commits, with mark-and-sweep garbage collection and
// a full-verification fsck pass.
package cas

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loomvcs/loom/compressor"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/objkind"
)

// ErrNotFound is returned by Get when no object exists under the requested digest.
var ErrNotFound = fmt.Errorf("cas: object not found")

// ErrCorrupt is returned by Get when the stored bytes do not hash back to
// the requested digest (spec §4.2). It is fatal at the call site and must
// propagate, per spec §7's error propagation policy.
type ErrCorrupt struct {
	Digest digest.Digest
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("cas: object %s is corrupt", e.Digest)
}

// Store is a filesystem-backed content-addressed object store, sharded by
// the first byte of the digest (spec §4.2/§6), following the teacher's
// storagedriver/filesystem write-to-temp-then-rename publication pattern
// generalized from the registry's blob path scheme to spec §6's
// `objects/<xx>/<rest>` layout.
type Store struct {
	root string

	minRatio float64
	cache    *lru.Cache[digest.Digest, cachedObject]
}

type cachedObject struct {
	kind    objkind.Kind
	payload []byte
}

// Option configures a Store.
type Option func(*Store)

// WithMinCompressionRatio sets the spec §4.1(c) min-ratio threshold below
// which a compressed payload must shrink to be stored compressed.
func WithMinCompressionRatio(ratio float64) Option {
	return func(s *Store) { s.minRatio = ratio }
}

// WithCacheSize bounds the in-memory cache of recently read objects (spec
// §4.2). Only Get fills the cache; Put does not, so the first Get of a
// freshly written object reads and verifies the stored bytes.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n <= 0 {
			s.cache = nil
			return
		}
		c, err := lru.New[digest.Digest, cachedObject](n)
		if err == nil {
			s.cache = c
		}
	}
}

// Open creates (if absent) and returns a Store rooted at dir (typically
// `<repo>/.loom/objects`).
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cas: create object root: %w", err)
	}
	s := &Store{root: dir, minRatio: 0.95}
	c, _ := lru.New[digest.Digest, cachedObject](1024)
	s.cache = c
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) pathFor(d digest.Digest) string {
	hex := d.String()
	return filepath.Join(s.root, hex[:2], hex)
}

func (s *Store) tempPathFor(d digest.Digest) string {
	return s.pathFor(d) + fmt.Sprintf(".tmp-%d", os.Getpid())
}

// Has reports whether an object is already published under digest. It must
// never return a stale negative after a concurrent Put's rename completes
// (spec §4.2), so it always stats the filesystem rather than trusting an
// absence from the read cache.
func (s *Store) Has(ctx context.Context, d digest.Digest) bool {
	_, err := os.Stat(s.pathFor(d))
	return err == nil
}

// Put stores payload (the canonical uncompressed bytes for kind) and
// returns its digest. Put is idempotent: if the digest already exists, the
// existing object is left untouched and no write occurs (spec §4.2).
// Publication is atomic via write-to-temp-then-rename, so a reader can
// never observe a partially written object under its digest.
func (s *Store) Put(ctx context.Context, kind objkind.Kind, payload []byte) (digest.Digest, error) {
	if !kind.Valid() {
		return digest.Digest{}, fmt.Errorf("cas: invalid kind %v", kind)
	}
	d := digest.FromBytes(byte(kind), payload)
	if s.Has(ctx, d) {
		return d, nil
	}

	forced := compressionFor(kind, payload)
	record, err := compressor.Encode(payload, forced, s.minRatio)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("cas: compress: %w", err)
	}

	shardDir := filepath.Join(s.root, d.String()[:2])
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return digest.Digest{}, fmt.Errorf("cas: create shard: %w", err)
	}

	tmp := s.tempPathFor(d)
	full := make([]byte, 0, 1+len(record))
	full = append(full, byte(kind))
	full = append(full, record...)
	if err := writeFileAtomic(tmp, s.pathFor(d), full); err != nil {
		return digest.Digest{}, fmt.Errorf("cas: publish %s: %w", d, err)
	}

	dcontext.GetLogger(ctx).Debugf("cas: put %s kind=%s size=%d", d, kind, len(payload))
	return d, nil
}

// compressionFor applies spec §4.1(a): manifests, trees and commits are
// compressed with the high-ratio (Dict) algorithm; chunks get the Fast
// default. In both cases the min-ratio check inside compressor.Encode
// still stores the payload with None when compression does not shrink it
// enough.
func compressionFor(kind objkind.Kind, payload []byte) *compressor.Algorithm {
	switch kind {
	case objkind.Manifest, objkind.Tree, objkind.Commit:
		a := compressor.Dict
		return &a
	default:
		return nil
	}
}

// writeFileAtomic implements the temp-name-within-same-bucket-then-rename
// publication pattern (spec §4.2, grounded on storagedriver/filesystem's
// WriteStream+Move).
func writeFileAtomic(tmpPath, finalPath string, data []byte) error {
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Get returns the canonical uncompressed payload for digest, along with its
// kind. It fails with ErrNotFound if absent, or *ErrCorrupt if the stored
// bytes do not hash back to d.
func (s *Store) Get(ctx context.Context, d digest.Digest) (objkind.Kind, []byte, error) {
	if s.cache != nil {
		if obj, ok := s.cache.Get(d); ok {
			return obj.kind, obj.payload, nil
		}
	}

	raw, err := os.ReadFile(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, ErrNotFound
		}
		return 0, nil, fmt.Errorf("cas: read %s: %w", d, err)
	}
	if len(raw) < 1 {
		return 0, nil, &ErrCorrupt{Digest: d}
	}
	kind := objkind.Kind(raw[0])
	payload, err := compressor.Decode(raw[1:])
	if err != nil {
		return 0, nil, &ErrCorrupt{Digest: d}
	}
	if digest.FromBytes(byte(kind), payload) != d {
		return 0, nil, &ErrCorrupt{Digest: d}
	}

	if s.cache != nil {
		s.cache.Add(d, cachedObject{kind: kind, payload: payload})
	}
	return kind, payload, nil
}

// Delete removes the object under digest. Callers must have proven
// unreachability (spec §4.2); Delete itself performs no reachability check.
func (s *Store) Delete(ctx context.Context, d digest.Digest) error {
	if s.cache != nil {
		s.cache.Remove(d)
	}
	err := os.Remove(s.pathFor(d))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Entry is one record yielded by Iter.
type Entry struct {
	Digest digest.Digest
	Kind   objkind.Kind
	Size   int64
	ModTime int64 // unix seconds; used by GC's grace-window check
}

// Iter walks every object currently on disk, producing each at least once.
// It is used by GC and fsck; per the design note on iterators vs
// materialization it streams entries rather than building a slice of every
// object up front.
func (s *Store) Iter(ctx context.Context, fn func(Entry) error) error {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.IsDir() || len(f.Name()) != digest.Size*2 {
				continue // skip .tmp-* and anything not a 64-char hex name
			}
			d, err := digest.Parse(f.Name())
			if err != nil {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(shardPath, f.Name()))
			if err != nil || len(raw) < 1 {
				continue
			}
			entry := Entry{Digest: d, Kind: objkind.Kind(raw[0]), Size: info.Size(), ModTime: info.ModTime().Unix()}
			if err := fn(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadRaw exposes the raw compressed-and-framed bytes for wire transfer
// (spec §4.7's ChunkGet/ChunkData), avoiding a decompress+recompress round
// trip when relaying an already-verified local object to a peer.
func (s *Store) ReadRaw(d digest.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}
