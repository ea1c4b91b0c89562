package commitgraph

import (
	"context"
	"fmt"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
)

// ancestorDepths walks the commit DAG backward from start via parent edges,
// returning every reachable commit (start included, depth 0) mapped to its
// shortest distance from start. Per design note "Cyclic graphs": the DAG is
// acyclic by construction, but the walk still uses a visited set and a
// frontier queue rather than assuming the whole history fits comfortably in
// a single recursive stack.
func ancestorDepths(ctx context.Context, store *cas.Store, start digest.Digest) (map[digest.Digest]int, error) {
	depths := map[digest.Digest]int{start: 0}
	frontier := []digest.Digest{start}
	for len(frontier) > 0 {
		var next []digest.Digest
		for _, d := range frontier {
			c, err := Get(ctx, store, d)
			if err != nil {
				return nil, err
			}
			for _, p := range c.Parents {
				if _, seen := depths[p]; !seen {
					depths[p] = depths[d] + 1
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return depths, nil
}

// IsAncestor reports whether candidate is tip or an ancestor of tip.
func IsAncestor(ctx context.Context, store *cas.Store, candidate, tip digest.Digest) (bool, error) {
	depths, err := ancestorDepths(ctx, store, tip)
	if err != nil {
		return false, err
	}
	_, ok := depths[candidate]
	return ok, nil
}

// MergeBase finds the lowest common ancestor of a and b (spec §4.5): walk
// both, tag each reached commit with its distance from its own tip, and
// among the commits reached from both sides pick the one closest to a
// (smallest distance from a) — the most recent point where the two
// histories diverged.
func MergeBase(ctx context.Context, store *cas.Store, a, b digest.Digest) (digest.Digest, error) {
	depthsA, err := ancestorDepths(ctx, store, a)
	if err != nil {
		return digest.Digest{}, err
	}
	depthsB, err := ancestorDepths(ctx, store, b)
	if err != nil {
		return digest.Digest{}, err
	}

	var best digest.Digest
	bestDepth := -1
	for d, depthA := range depthsA {
		if _, common := depthsB[d]; !common {
			continue
		}
		if bestDepth < 0 || depthA < bestDepth {
			bestDepth = depthA
			best = d
		}
	}
	if bestDepth < 0 {
		return digest.Digest{}, errNoCommonAncestor
	}
	return best, nil
}

var errNoCommonAncestor = fmt.Errorf("commitgraph: no common ancestor")
