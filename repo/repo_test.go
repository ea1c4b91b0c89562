package repo_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/commitgraph"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/index"
	"github.com/loomvcs/loom/ingest"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/repo"
)

var alice = commitgraph.Identity{Name: "Alice", Email: "alice@example.com"}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func initRepo(t *testing.T) (*repo.Repository, string) {
	t.Helper()
	root := t.TempDir()
	r, err := repo.Init(root)
	require.NoError(t, err)
	return r, root
}

func commitFile(t *testing.T, ctx context.Context, r *repo.Repository, root, rel, content, msg string) digest.Digest {
	t.Helper()
	writeFile(t, root, rel, content)
	require.NoError(t, r.Index.Add(ctx, r.Store, root, []string{rel}, ingest.Options{}))
	d, err := r.Commit(ctx, msg, alice, alice)
	require.NoError(t, err)
	return d
}

func TestInitLaysOutDotDir(t *testing.T) {
	r, _ := initRepo(t)
	require.DirExists(t, filepath.Join(r.DotDir, "objects"))
	require.FileExists(t, filepath.Join(r.DotDir, "config"))

	head, err := r.Refs.GetHead()
	require.NoError(t, err)
	require.Equal(t, "heads/main", head.Branch)
}

func TestInitRejectsExistingRepo(t *testing.T) {
	root := t.TempDir()
	_, err := repo.Init(root)
	require.NoError(t, err)
	_, err = repo.Init(root)
	require.Error(t, err)
}

func TestOpenLoadsExistingRepo(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	commitFile(t, ctx, r, root, "a.txt", "hello", "first")

	r2, err := repo.Open(root)
	require.NoError(t, err)
	head, err := r2.Refs.GetHead()
	require.NoError(t, err)
	require.False(t, head.Commit.IsZero())
}

// TestCommitRoundTrip covers scenario S3: a commit built from the staged
// index materializes a tree whose flattened contents match what was added.
func TestCommitRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	commitDigest := commitFile(t, ctx, r, root, "a.txt", "hello world", "first commit")

	c, err := commitgraph.Get(ctx, r.Store, commitDigest)
	require.NoError(t, err)
	require.Empty(t, c.Parents)

	flat, err := index.FlattenTree(ctx, r.Store, c.Tree)
	require.NoError(t, err)
	require.Contains(t, flat, "a.txt")
}

func TestCommitChainsParents(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	first := commitFile(t, ctx, r, root, "a.txt", "v1", "first")
	second := commitFile(t, ctx, r, root, "a.txt", "v2", "second")

	c, err := commitgraph.Get(ctx, r.Store, second)
	require.NoError(t, err)
	require.Equal(t, []digest.Digest{first}, c.Parents)
}

func TestBranchCreateListDelete(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	tip := commitFile(t, ctx, r, root, "a.txt", "v1", "first")

	require.NoError(t, r.CreateBranch("feature", tip))
	branches, err := r.ListBranches()
	require.NoError(t, err)
	require.Contains(t, branches, "feature")
	require.Contains(t, branches, "main")

	require.NoError(t, r.DeleteBranch("feature"))
	branches, err = r.ListBranches()
	require.NoError(t, err)
	require.NotContains(t, branches, "feature")
}

func TestTagCreateListDelete(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	tip := commitFile(t, ctx, r, root, "a.txt", "v1", "first")

	require.NoError(t, r.CreateTag("v1.0", tip))
	tags, err := r.ListTags()
	require.NoError(t, err)
	require.Contains(t, tags, "v1.0")

	require.NoError(t, r.DeleteTag("v1.0"))
	tags, err = r.ListTags()
	require.NoError(t, err)
	require.Empty(t, tags)
}

// TestMergeFastForward covers the fast-forward branch of scenario S5.
func TestMergeFastForward(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	base := commitFile(t, ctx, r, root, "a.txt", "v1", "base")
	require.NoError(t, r.CreateBranch("feature", base))

	require.NoError(t, r.Refs.Update("heads/feature", base, mustCommitOnTop(t, ctx, r, root, base, "a.txt", "v2"), false))

	tip, err := r.Merge(ctx, "feature", "alice", alice, alice)
	require.NoError(t, err)

	head, err := r.Refs.GetHead()
	require.NoError(t, err)
	require.Equal(t, tip, head.Commit)
}

// mustCommitOnTop builds a new commit on top of parent that overlays one
// path's content onto parent's tree, without touching the repository's
// shared index (so it can stand in for a commit made on another branch).
func mustCommitOnTop(t *testing.T, ctx context.Context, r *repo.Repository, root string, parent digest.Digest, path, content string) digest.Digest {
	t.Helper()
	parentCommit, err := commitgraph.Get(ctx, r.Store, parent)
	require.NoError(t, err)
	flat, err := index.FlattenTree(ctx, r.Store, parentCommit.Tree)
	require.NoError(t, err)

	stagingDir := t.TempDir()
	writeFile(t, stagingDir, path, content)
	res, err := ingest.File(ctx, r.Store, filepath.Join(stagingDir, path), path, manifest.ModeRegular, ingest.Options{})
	require.NoError(t, err)
	flat[path] = res.ManifestDigest

	entries := make([]index.Entry, 0, len(flat))
	for p, d := range flat {
		m, err := index.ManifestAt(ctx, r.Store, d)
		require.NoError(t, err)
		entries = append(entries, index.Entry{Path: p, Mode: m.Mode, Size: m.Size, ManifestDigest: d, Stage: index.StageUnmodified})
	}
	treeDigest, err := index.BuildCommitTree(ctx, r.Store, entries)
	require.NoError(t, err)

	c, err := commitgraph.New([]digest.Digest{parent}, treeDigest, alice, alice, "side commit", time.Now())
	require.NoError(t, err)
	d, err := commitgraph.Publish(ctx, r.Store, c)
	require.NoError(t, err)
	return d
}

// TestMergeDivergentCleanPaths covers scenario S5: two branches touch
// disjoint paths and merge cleanly into a two-parent commit.
func TestMergeDivergentCleanPaths(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	base := commitFile(t, ctx, r, root, "shared.txt", "base", "base")
	require.NoError(t, r.CreateBranch("feature", base))

	commitFile(t, ctx, r, root, "main-only.txt", "from main", "main change")

	featureTip := mustCommitOnTop(t, ctx, r, root, base, "feature-only.txt", "from feature")
	require.NoError(t, r.Refs.Update("heads/feature", base, featureTip, true))

	merged, err := r.Merge(ctx, "feature", "alice", alice, alice)
	require.NoError(t, err)

	c, err := commitgraph.Get(ctx, r.Store, merged)
	require.NoError(t, err)
	require.Len(t, c.Parents, 2)

	flat, err := index.FlattenTree(ctx, r.Store, c.Tree)
	require.NoError(t, err)
	require.Contains(t, flat, "main-only.txt")
	require.Contains(t, flat, "feature-only.txt")
	require.Contains(t, flat, "shared.txt")
}

// TestMergeConflictOnSamePathDivergentContent covers scenario S6: both
// branches modify the same path with different content and the merge
// reports a conflict instead of guessing.
func TestMergeConflictOnSamePathDivergentContent(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	base := commitFile(t, ctx, r, root, "clip.bin", "base bytes", "base")
	require.NoError(t, r.CreateBranch("feature", base))

	commitFile(t, ctx, r, root, "clip.bin", "main bytes", "main change")
	featureTip := mustCommitOnTop(t, ctx, r, root, base, "clip.bin", "feature bytes")
	require.NoError(t, r.Refs.Update("heads/feature", base, featureTip, true))

	_, err := r.Merge(ctx, "feature", "alice", alice, alice)
	var conflictErr *repo.ErrMergeConflict
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, []string{"clip.bin"}, conflictErr.Paths)

	e, ok := r.Index.Get("clip.bin")
	require.True(t, ok)
	require.Equal(t, index.StageConflicted, e.Stage)
}

// TestMergeRespectsLockedPaths forces a genuine three-way merge (both sides
// diverge from base on different paths, so neither is a fast-forward) and
// confirms a lock held on the path feature alone changed blocks the merge.
func TestMergeRespectsLockedPaths(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	writeFile(t, root, "clip.bin", "base bytes")
	require.NoError(t, r.Index.Add(ctx, r.Store, root, []string{"clip.bin"}, ingest.Options{}))
	base := commitFile(t, ctx, r, root, "shared.txt", "base shared", "base")
	require.NoError(t, r.CreateBranch("feature", base))

	commitFile(t, ctx, r, root, "shared.txt", "main shared v2", "main diverges")
	featureTip := mustCommitOnTop(t, ctx, r, root, base, "clip.bin", "feature bytes")
	require.NoError(t, r.Refs.Update("heads/feature", base, featureTip, true))

	_, err := r.Locks.Acquire(ctx, "clip.bin", "someone-else", "editing", 0)
	require.NoError(t, err)

	_, err = r.Merge(ctx, "feature", "alice", alice, alice)
	require.Error(t, err)
}

func TestResetHardRewritesWorkingTree(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	first := commitFile(t, ctx, r, root, "a.txt", "v1", "first")
	commitFile(t, ctx, r, root, "a.txt", "v2", "second")

	require.NoError(t, r.Reset(ctx, first, repo.ResetHard))

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}

func TestResetSoftLeavesWorkingTreeUntouched(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	first := commitFile(t, ctx, r, root, "a.txt", "v1", "first")
	commitFile(t, ctx, r, root, "a.txt", "v2", "second")

	require.NoError(t, r.Reset(ctx, first, repo.ResetSoft))

	got, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(got))

	head, err := r.Refs.GetHead()
	require.NoError(t, err)
	require.Equal(t, first, head.Commit)
}

func TestGCAndFsckOnHealthyRepo(t *testing.T) {
	ctx := context.Background()
	r, root := initRepo(t)
	commitFile(t, ctx, r, root, "a.txt", "v1", "first")

	report, err := r.Fsck(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean())

	_, err = r.GC(ctx, cas.GCOptions{})
	require.NoError(t, err)

	report, err = r.Fsck(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean())
}
