// Package syncengine implements the push/pull/P2P-share algorithms of spec
// §4.7 on top of the wire protocol: compute what one side has that the
// other doesn't, move it across in publish-safe order, then move the ref.
package syncengine

import (
	"context"
	"fmt"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/commitgraph"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/objkind"
)

// objRef names one object by kind and digest.
type objRef struct {
	Kind   objkind.Kind
	Digest digest.Digest
}

// reachableClosure returns every object reachable from root (inclusive) in
// dependency order: an object never appears before everything it
// references. This is the exact order Publish must use on the far side
// (spec §5: "chunks are published before the manifests referencing them;
// manifests before trees; trees before commits").
//
// Iterative postorder DFS, not recursion, so a long commit history or a
// deep directory tree can't blow the stack; a visited set collapses shared
// subtrees/chunks (the same dedup the CAS itself relies on) to a single
// visit.
func reachableClosure(ctx context.Context, store *cas.Store, root digest.Digest) ([]objRef, error) {
	if root.IsZero() {
		return nil, nil
	}
	walker := commitgraph.NewWalker(store, func(context.Context) ([]digest.Digest, error) {
		return []digest.Digest{root}, nil
	})

	type frame struct {
		ref      objRef
		children []digest.Digest
		i        int
	}

	visited := make(map[digest.Digest]struct{})
	var order []objRef
	var stack []*frame

	push := func(d digest.Digest) error {
		if _, ok := visited[d]; ok {
			return nil
		}
		visited[d] = struct{}{}
		kind, payload, err := store.Get(ctx, d)
		if err != nil {
			return fmt.Errorf("syncengine: load %s: %w", d, err)
		}
		children, err := walker.Children(ctx, kind, payload)
		if err != nil {
			return fmt.Errorf("syncengine: children of %s: %w", d, err)
		}
		stack = append(stack, &frame{ref: objRef{Kind: kind, Digest: d}, children: children})
		return nil
	}

	if err := push(root); err != nil {
		return nil, err
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.i < len(top.children) {
			child := top.children[top.i]
			top.i++
			if err := push(child); err != nil {
				return nil, err
			}
			continue
		}
		order = append(order, top.ref)
		stack = stack[:len(stack)-1]
	}
	return order, nil
}

// diffClosure returns the objects reachable from newTip but not from
// oldTip, in the same dependency order reachableClosure guarantees (spec
// §4.7 push step 2: "compute the commit objects, trees, manifests, and
// chunks reachable from the new local tip but not from the remote tip").
// oldTip may be the zero digest, meaning "nothing".
func diffClosure(ctx context.Context, store *cas.Store, oldTip, newTip digest.Digest) ([]objRef, error) {
	have := make(map[digest.Digest]struct{})
	if !oldTip.IsZero() {
		old, err := reachableClosure(ctx, store, oldTip)
		if err != nil {
			return nil, err
		}
		for _, r := range old {
			have[r.Digest] = struct{}{}
		}
	}
	all, err := reachableClosure(ctx, store, newTip)
	if err != nil {
		return nil, err
	}
	var diff []objRef
	for _, r := range all {
		if _, ok := have[r.Digest]; !ok {
			diff = append(diff, r)
		}
	}
	return diff, nil
}
