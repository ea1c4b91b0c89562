// Package commitgraph implements the append-only commit DAG of spec §4.5:
// commit creation, ancestor walks for merge-base, and the Walker dispatch
// cas.MarkAndSweep/cas.Fsck use to traverse from a root digest down to chunks.
package commitgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/objkind"
	"github.com/loomvcs/loom/objtree"
)

// Identity names an author or committer (spec §3).
type Identity struct {
	Name  string `cbor:"1,keyasint"`
	Email string `cbor:"2,keyasint"`
}

// Commit is the canonical payload of a Commit-kind object.
type Commit struct {
	Parents      []digest.Digest `cbor:"1,keyasint"`
	Tree         digest.Digest   `cbor:"2,keyasint"`
	Author       Identity        `cbor:"3,keyasint"`
	Committer    Identity        `cbor:"4,keyasint"`
	AuthorTime   int64           `cbor:"5,keyasint"`
	CommitTime   int64           `cbor:"6,keyasint"`
	Message      string          `cbor:"7,keyasint"`
	Signature    []byte          `cbor:"8,keyasint,omitempty"`
}

// Validate checks spec §3's Commit invariants: at most 2 parents and a
// non-zero tree. Whether zero parents is allowed (root commit only) is left
// to the caller; neither Validate nor New checks it, since neither can know
// "is this the first commit".
func (c Commit) Validate() error {
	if len(c.Parents) > 2 {
		return fmt.Errorf("commitgraph: commit has %d parents, max 2", len(c.Parents))
	}
	if c.Tree.IsZero() {
		return fmt.Errorf("commitgraph: commit has no tree")
	}
	return nil
}

func (c Commit) Encode() ([]byte, error) { return objkind.Marshal(c) }

func Decode(payload []byte) (Commit, error) {
	var c Commit
	if err := objkind.Unmarshal(payload, &c); err != nil {
		return Commit{}, err
	}
	return c, nil
}

// New constructs a commit. parents must be empty only for a true root
// commit (no prior HEAD) — spec §3: "parent digests (0, 1, or 2; 0 only for
// the root commit)".
func New(parents []digest.Digest, tree digest.Digest, author, committer Identity, message string, now time.Time) (Commit, error) {
	c := Commit{
		Parents:    parents,
		Tree:       tree,
		Author:     author,
		Committer:  committer,
		AuthorTime: now.Unix(),
		CommitTime: now.Unix(),
		Message:    message,
	}
	if err := c.Validate(); err != nil {
		return Commit{}, err
	}
	return c, nil
}

// Publish validates c, confirms its tree and every parent resolve in
// store, and writes it. Per the publication-ordering invariant (spec §5),
// the caller must have already published the tree and all parent commits.
func Publish(ctx context.Context, store *cas.Store, c Commit) (digest.Digest, error) {
	if err := c.Validate(); err != nil {
		return digest.Digest{}, err
	}
	if !store.Has(ctx, c.Tree) {
		return digest.Digest{}, fmt.Errorf("commitgraph: tree %s not yet published", c.Tree)
	}
	for _, p := range c.Parents {
		if !store.Has(ctx, p) {
			return digest.Digest{}, fmt.Errorf("commitgraph: parent %s not yet published", p)
		}
	}
	payload, err := c.Encode()
	if err != nil {
		return digest.Digest{}, fmt.Errorf("commitgraph: encode: %w", err)
	}
	return store.Put(ctx, objkind.Commit, payload)
}

// Get loads and decodes the commit at digest.
func Get(ctx context.Context, store *cas.Store, d digest.Digest) (Commit, error) {
	kind, payload, err := store.Get(ctx, d)
	if err != nil {
		return Commit{}, err
	}
	if kind != objkind.Commit {
		return Commit{}, fmt.Errorf("commitgraph: %s is a %s, not a commit", d, kind)
	}
	return Decode(payload)
}

// objWalker implements cas.Walker by dispatching on kind, so GC and fsck
// can traverse the full commit -> tree -> manifest -> chunk closure without
// cas importing any of those domain packages (breaking an import cycle,
// per the design note on polymorphism over object kinds being a switch).
type objWalker struct {
	store *cas.Store
	roots func(ctx context.Context) ([]digest.Digest, error)
}

// NewWalker returns a cas.Walker grounded on store, using roots to resolve
// the set of referenced commit tips (spec §4.2 mark phase seed: "every
// current reference... HEAD, stash entries, reflog if present").
func NewWalker(store *cas.Store, roots func(ctx context.Context) ([]digest.Digest, error)) cas.Walker {
	return &objWalker{store: store, roots: roots}
}

func (w *objWalker) Roots(ctx context.Context) ([]digest.Digest, error) {
	return w.roots(ctx)
}

func (w *objWalker) Children(ctx context.Context, kind objkind.Kind, payload []byte) ([]digest.Digest, error) {
	switch kind {
	case objkind.Chunk:
		return nil, nil
	case objkind.Manifest:
		m, err := manifest.Decode(payload)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return manifest.Children(m), nil
	case objkind.Tree:
		t, err := objtree.Decode(payload)
		if err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return objtree.Children(t), nil
	case objkind.Commit:
		c, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		children := append([]digest.Digest{c.Tree}, c.Parents...)
		return children, nil
	default:
		return nil, fmt.Errorf("commitgraph: unknown kind %v", kind)
	}
}
