package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loomvcs/loom/commitgraph"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/index"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/internal/errcode"
)

// ErrMergeConflict reports the set of paths a binary merge could not
// auto-resolve (spec §4.5).
type ErrMergeConflict struct {
	Paths []string
}

func (e *ErrMergeConflict) Error() string {
	return fmt.Sprintf("repo: merge conflict in %d path(s)", len(e.Paths))
}

// Merge merges branchName into the current branch (spec §4.5). ownerID is
// used for the lock-registry check on every path the merge would modify.
// On a clean fast-forward it just advances the current ref. Otherwise it
// performs the three-way comparison at M (merge base), A (current tip), B
// (other tip): unchanged-on-one-side paths take the other side's manifest;
// changed-on-both-with-differing-digests paths are reported as conflicts
// and staged `conflicted` rather than resolved.
func (r *Repository) Merge(ctx context.Context, branchName, ownerID string, author, committer commitgraph.Identity) (digest.Digest, error) {
	currentBranch := "heads/"
	head, err := r.Refs.GetHead()
	if err != nil {
		return digest.Digest{}, err
	}
	if head.Branch == "" {
		return digest.Digest{}, errcode.New(errcode.InvalidArgument, "cannot merge with a detached HEAD")
	}
	currentBranch = head.Branch
	tipA := head.Commit

	tipB, err := r.Refs.Resolve("heads/" + branchName)
	if err != nil {
		return digest.Digest{}, err
	}

	if tipA.IsZero() {
		// No commits yet on the current branch: merging in B is a pure
		// fast-forward.
		if err := r.Refs.Update(currentBranch, tipA, tipB, false); err != nil {
			return digest.Digest{}, err
		}
		return tipB, nil
	}

	base, err := commitgraph.MergeBase(ctx, r.Store, tipA, tipB)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("repo: merge base: %w", err)
	}

	if base == tipB {
		// B is already an ancestor of A: nothing to do.
		return tipA, nil
	}
	if base == tipA {
		// Fast-forward: A is an ancestor of B.
		if err := r.Refs.Update(currentBranch, tipA, tipB, false); err != nil {
			return digest.Digest{}, err
		}
		dcontext.GetLogger(ctx).Infof("repo: fast-forwarded %s to %s", currentBranch, tipB)
		return tipB, nil
	}

	commitA, err := commitgraph.Get(ctx, r.Store, tipA)
	if err != nil {
		return digest.Digest{}, err
	}
	commitB, err := commitgraph.Get(ctx, r.Store, tipB)
	if err != nil {
		return digest.Digest{}, err
	}
	commitM, err := commitgraph.Get(ctx, r.Store, base)
	if err != nil {
		return digest.Digest{}, err
	}

	flatM, err := index.FlattenTree(ctx, r.Store, commitM.Tree)
	if err != nil {
		return digest.Digest{}, err
	}
	flatA, err := index.FlattenTree(ctx, r.Store, commitA.Tree)
	if err != nil {
		return digest.Digest{}, err
	}
	flatB, err := index.FlattenTree(ctx, r.Store, commitB.Tree)
	if err != nil {
		return digest.Digest{}, err
	}

	paths := make(map[string]struct{})
	for p := range flatM {
		paths[p] = struct{}{}
	}
	for p := range flatA {
		paths[p] = struct{}{}
	}
	for p := range flatB {
		paths[p] = struct{}{}
	}

	merged := make(map[string]digest.Digest)
	var conflicts []string
	for p := range paths {
		m, inM := flatM[p]
		a, inA := flatA[p]
		b, inB := flatB[p]

		changedA := !inA != !inM || (inA && inM && a != m)
		changedB := !inB != !inM || (inB && inM && b != m)

		switch {
		case !changedA && !changedB:
			if inA {
				merged[p] = a
			}
		case !changedA:
			if inB {
				merged[p] = b
			} // else: B deleted it, leave out
		case !changedB:
			if inA {
				merged[p] = a
			}
		case inA && inB && a == b:
			merged[p] = a // both sides made the identical change
		case !inA && !inB:
			// both deleted: nothing to add
		default:
			if err := r.Locks.Check(p, ownerID); err != nil {
				return digest.Digest{}, err
			}
			conflicts = append(conflicts, p)
		}
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		for _, p := range conflicts {
			d := flatA[p]
			if err := r.Index.Set(index.Entry{Path: p, ManifestDigest: d, Stage: index.StageConflicted}); err != nil {
				return digest.Digest{}, err
			}
		}
		return digest.Digest{}, &ErrMergeConflict{Paths: conflicts}
	}

	for p := range merged {
		if err := r.Locks.Check(p, ownerID); err != nil {
			return digest.Digest{}, err
		}
	}

	treeDigest, err := buildTreeFromFlat(ctx, r.Store, merged)
	if err != nil {
		return digest.Digest{}, err
	}

	c, err := commitgraph.New([]digest.Digest{tipA, tipB}, treeDigest, author, committer,
		fmt.Sprintf("Merge branch '%s'", branchName), time.Now())
	if err != nil {
		return digest.Digest{}, err
	}
	mergeDigest, err := commitgraph.Publish(ctx, r.Store, c)
	if err != nil {
		return digest.Digest{}, err
	}
	if err := r.Refs.Update(currentBranch, tipA, mergeDigest, false); err != nil {
		return digest.Digest{}, err
	}
	return mergeDigest, nil
}
