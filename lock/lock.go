// Package lock implements the advisory lock registry of spec §4.6: named
// per-path locks consulted by commit/merge before publishing a modification
// to a locked path.
package lock

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/loomvcs/loom/internal/dcontext"
)

// Lock is one record in the registry (spec §3), persisted as CBOR, the
// encoding object payloads use (SPEC_FULL.md §6: "locks/ directory encoding
// is CBOR... consistent with object payload encoding").
type Lock struct {
	Path       string    `cbor:"1,keyasint"`
	OwnerID    string    `cbor:"2,keyasint"`
	AcquiredAt time.Time `cbor:"3,keyasint"`
	ExpiresAt  time.Time `cbor:"4,keyasint"`
	Reason     string    `cbor:"5,keyasint"`
}

func (l Lock) expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

// ErrConflict is returned by Acquire when path is already held by a
// different, non-expired owner (spec §4.6/§8.10).
type ErrConflict struct {
	Path      string
	Owner     string
	ExpiresAt time.Time
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("lock: %s held by %s until %s", e.Path, e.Owner, e.ExpiresAt)
}

// ErrNotHeld is returned by Release when no lock exists for path.
var ErrNotHeld = fmt.Errorf("lock: not held")

// Registry is the read-mostly, write-serialized lock table of spec §5
// ("writes are serialized; reads may be served from a cached snapshot with
// a bounded staleness window"). It persists one file per lock under
// `locks/<urlencoded-path>` (spec §6), following the teacher's
// temp-then-rename write pattern.
type Registry struct {
	dir        string
	defaultTTL time.Duration

	mu    sync.RWMutex
	locks map[string]Lock
}

// Open loads the registry from dir (typically `<repo>/.loom/locks`),
// replaying any persisted lock files.
func Open(dir string, defaultTTL time.Duration) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create dir: %w", err)
	}
	r := &Registry{dir: dir, defaultTTL: defaultTTL, locks: make(map[string]Lock)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var l Lock
		if err := cbor.Unmarshal(raw, &l); err != nil {
			continue
		}
		r.locks[l.Path] = l
	}
	return r, nil
}

func fileNameFor(path string) string {
	return url.QueryEscape(path)
}

func (r *Registry) persist(l Lock) error {
	payload, err := cbor.Marshal(l)
	if err != nil {
		return err
	}
	final := filepath.Join(r.dir, fileNameFor(l.Path))
	tmp := final + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (r *Registry) forget(path string) error {
	err := os.Remove(filepath.Join(r.dir, fileNameFor(path)))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Acquire takes a lock on path for ownerID. If ttl is zero, the registry's
// default TTL applies. Acquire fails fast (spec §5: "by default acquire
// fails fast") rather than waiting for an existing lock to expire.
func (r *Registry) Acquire(ctx context.Context, path, ownerID, reason string, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.locks[path]; ok && !existing.expired(now) && existing.OwnerID != ownerID {
		return Lock{}, &ErrConflict{Path: path, Owner: existing.OwnerID, ExpiresAt: existing.ExpiresAt}
	}

	l := Lock{Path: path, OwnerID: ownerID, AcquiredAt: now, ExpiresAt: now.Add(ttl), Reason: reason}
	if err := r.persist(l); err != nil {
		return Lock{}, fmt.Errorf("lock: persist: %w", err)
	}
	r.locks[path] = l
	dcontext.GetLogger(ctx).Debugf("lock: acquired %s by %s until %s", path, ownerID, l.ExpiresAt)
	return l, nil
}

// Release drops a lock held by ownerID. Releasing a lock owned by another
// identity is a no-op error (use ForceRelease for administrative override).
func (r *Registry) Release(ctx context.Context, path, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.locks[path]
	if !ok {
		return ErrNotHeld
	}
	if existing.OwnerID != ownerID {
		return &ErrConflict{Path: path, Owner: existing.OwnerID, ExpiresAt: existing.ExpiresAt}
	}
	delete(r.locks, path)
	return r.forget(path)
}

// ForceRelease removes a lock regardless of owner (spec §4.6: "admin-only").
func (r *Registry) ForceRelease(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[path]; !ok {
		return ErrNotHeld
	}
	delete(r.locks, path)
	return r.forget(path)
}

// Check returns an *ErrConflict if path is locked by an identity other than
// ownerID, used by commit/merge to arbitrate a path modification (spec
// §4.6: "Integration").
func (r *Registry) Check(path, ownerID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locks[path]
	if !ok || l.expired(time.Now()) {
		return nil
	}
	if l.OwnerID == ownerID {
		return nil
	}
	return &ErrConflict{Path: path, Owner: l.OwnerID, ExpiresAt: l.ExpiresAt}
}

// List returns every non-expired lock whose path satisfies filter (nil
// matches all), sorted by path.
func (r *Registry) List(filter func(Lock) bool) []Lock {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	out := make([]Lock, 0, len(r.locks))
	for _, l := range r.locks {
		if l.expired(now) {
			continue
		}
		if filter != nil && !filter(l) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
