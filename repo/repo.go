// Package repo ties the on-disk `.loom/` layout of spec §6 together: the
// object store, reference table, index, lock registry, and configuration
// for one working tree, plus the commit/branch/tag operations of spec §4.5
// that need all of them at once.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/commitgraph"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/index"
	"github.com/loomvcs/loom/internal/config"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/internal/errcode"
	"github.com/loomvcs/loom/lock"
	"github.com/loomvcs/loom/refs"
)

// DotDirName is the fixed directory name spec §6 calls out as
// "exact directory name fixed per deployment" — Loom's is `.loom`.
const DotDirName = ".loom"

// Repository bundles every collaborator one working tree needs.
type Repository struct {
	Root   string // working tree root
	DotDir string // <Root>/.loom

	Store  *cas.Store
	Refs   *refs.Store
	Index  *index.Index
	Locks  *lock.Registry
	Config config.Config
}

// Init creates a new repository rooted at root, laying out spec §6's
// `.loom/` tree: `objects/`, `refs/{heads,tags,remotes}`, `index`, `config`,
// `locks/`, and `HEAD` attached to `heads/main`.
func Init(root string) (*Repository, error) {
	dotDir := filepath.Join(root, DotDirName)
	if _, err := os.Stat(dotDir); err == nil {
		return nil, errcode.New(errcode.InvalidArgument, fmt.Sprintf("%s already exists", dotDir))
	}
	if err := os.MkdirAll(dotDir, 0o755); err != nil {
		return nil, fmt.Errorf("repo: init: %w", err)
	}

	cfg := config.Default()
	if err := config.Save(filepath.Join(dotDir, "config"), cfg); err != nil {
		return nil, fmt.Errorf("repo: write config: %w", err)
	}

	store, err := cas.Open(filepath.Join(dotDir, "objects"), cas.WithMinCompressionRatio(cfg.Compression.MinRatio))
	if err != nil {
		return nil, err
	}
	refStore, err := refs.Open(dotDir)
	if err != nil {
		return nil, err
	}
	if err := refStore.SetHeadBranch("heads/main"); err != nil {
		return nil, fmt.Errorf("repo: init HEAD: %w", err)
	}

	idx, err := index.Open(filepath.Join(dotDir, "index"))
	if err != nil {
		return nil, err
	}
	locks, err := lock.Open(filepath.Join(dotDir, "locks"), time.Duration(cfg.Lock.DefaultTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	return &Repository{Root: root, DotDir: dotDir, Store: store, Refs: refStore, Index: idx, Locks: locks, Config: cfg}, nil
}

// Open loads an existing repository rooted at root.
func Open(root string) (*Repository, error) {
	dotDir := filepath.Join(root, DotDirName)
	if _, err := os.Stat(dotDir); err != nil {
		return nil, errcode.Wrap(errcode.NotARepository, root, err)
	}

	cfg, err := config.Load(filepath.Join(dotDir, "config"))
	if err != nil {
		return nil, err
	}
	store, err := cas.Open(filepath.Join(dotDir, "objects"), cas.WithMinCompressionRatio(cfg.Compression.MinRatio))
	if err != nil {
		return nil, err
	}
	refStore, err := refs.Open(dotDir)
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(filepath.Join(dotDir, "index"))
	if err != nil {
		return nil, err
	}
	locks, err := lock.Open(filepath.Join(dotDir, "locks"), time.Duration(cfg.Lock.DefaultTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	return &Repository{Root: root, DotDir: dotDir, Store: store, Refs: refStore, Index: idx, Locks: locks, Config: cfg}, nil
}

// walker builds a cas.Walker over this repository's store and ref table,
// used by GC and Fsck (spec §4.2's mark-phase root set: "every current
// reference... HEAD").
func (r *Repository) walker() cas.Walker {
	return commitgraph.NewWalker(r.Store, func(ctx context.Context) ([]digest.Digest, error) {
		return r.Refs.Roots()
	})
}

// GC runs a mark-and-sweep pass over this repository's object store.
func (r *Repository) GC(ctx context.Context, opts cas.GCOptions) (cas.GCStats, error) {
	if opts.GraceWindow == 0 {
		opts.GraceWindow = time.Duration(r.Config.GC.GraceSeconds) * time.Second
	}
	return cas.MarkAndSweep(ctx, r.Store, r.walker(), opts)
}

// Fsck runs a full verification pass over this repository's object store.
func (r *Repository) Fsck(ctx context.Context) (cas.FsckReport, error) {
	return cas.Fsck(ctx, r.Store, r.walker())
}

// headCommit resolves the commit digest HEAD currently points to; the zero
// digest means no commits exist yet.
func (r *Repository) headCommit() (digest.Digest, error) {
	head, err := r.Refs.GetHead()
	if err != nil {
		return digest.Digest{}, err
	}
	return head.Commit, nil
}

// Commit implements spec §4.5's commit creation: build the tree from the
// current index, write a commit object with HEAD's current tip as sole
// parent (or no parent for the first commit), and advance the current
// branch (or detached HEAD) via compare-and-set.
func (r *Repository) Commit(ctx context.Context, message string, author, committer commitgraph.Identity) (digest.Digest, error) {
	treeDigest, err := index.BuildCommitTree(ctx, r.Store, r.Index.Entries())
	if err != nil {
		return digest.Digest{}, fmt.Errorf("repo: build tree: %w", err)
	}

	parentCommit, err := r.headCommit()
	if err != nil {
		return digest.Digest{}, err
	}
	var parents []digest.Digest
	if !parentCommit.IsZero() {
		parents = []digest.Digest{parentCommit}
	}

	c, err := commitgraph.New(parents, treeDigest, author, committer, message, time.Now())
	if err != nil {
		return digest.Digest{}, err
	}
	commitDigest, err := commitgraph.Publish(ctx, r.Store, c)
	if err != nil {
		return digest.Digest{}, err
	}

	if err := r.Refs.AdvanceHead(parentCommit, commitDigest, false); err != nil {
		return digest.Digest{}, err
	}

	dcontext.GetLogger(ctx).Infof("repo: committed %s (parent=%s)", commitDigest, parentCommit)
	return commitDigest, nil
}

// CreateBranch points a new branch at startPoint (spec §4.5).
func (r *Repository) CreateBranch(name string, startPoint digest.Digest) error {
	return r.Refs.Update("heads/"+name, digest.Digest{}, startPoint, false)
}

// DeleteBranch removes a branch unconditionally. It takes no force flag and
// does not check whether the branch is merged into any other branch; an
// unmerged branch is deleted just like a merged one.
func (r *Repository) DeleteBranch(name string) error {
	return r.Refs.Delete("heads/" + name)
}

// ListBranches returns every local branch name (without the "heads/" prefix).
func (r *Repository) ListBranches() ([]string, error) {
	return trimPrefixAll(r.Refs, "heads/")
}

// CreateTag creates a lightweight tag at target. Annotated tags (carrying
// their own message/author) are a thin wrapper the CLI layer builds by
// publishing a small Commit-shaped note object before pointing the tag at
// it — out of scope for the core tag primitive itself, which is always just
// a named pointer per spec §3.
func (r *Repository) CreateTag(name string, target digest.Digest) error {
	return r.Refs.Update("tags/"+name, digest.Digest{}, target, false)
}

// DeleteTag removes a tag (force is implicit: tags never move, but deletion
// requires no special confirmation).
func (r *Repository) DeleteTag(name string) error {
	return r.Refs.Delete("tags/" + name)
}

// ListTags returns every tag name.
func (r *Repository) ListTags() ([]string, error) {
	return trimPrefixAll(r.Refs, "tags/")
}

func trimPrefixAll(store *refs.Store, prefix string) ([]string, error) {
	names, err := store.List(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n[len(prefix):]
	}
	return out, nil
}
