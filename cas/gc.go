package cas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/objkind"
	"golang.org/x/sync/errgroup"
)

// Walker resolves the reachability closure of a commit for GC's mark phase
// (spec §4.2: "walk reachable commits -> trees -> file manifests ->
// chunks"). refs/commitgraph implement this without cas importing them,
// avoiding an import cycle while keeping GC's mark phase generic over
// whatever object model sits on top of the store.
type Walker interface {
	// Roots returns every current reference's commit digest (branches,
	// tags, remote-tracking, HEAD, stash, reflog).
	Roots(ctx context.Context) ([]digest.Digest, error)
	// Children returns the digests directly referenced by the object with
	// the given kind and payload (a commit's parents+tree, a tree's
	// entries, a manifest's chunk refs).
	// It returns (nil, nil) for a Chunk, which has no children.
	Children(ctx context.Context, kind objkind.Kind, payload []byte) ([]digest.Digest, error)
}

// GCStats summarizes one mark-and-sweep pass, following the teacher's
// garbagecollect.go GCStats shape (counts per phase plus durations).
type GCStats struct {
	Marked        int
	Swept         int
	BytesReclaimed int64
	MarkDuration  time.Duration
	SweepDuration time.Duration
	Errors        []error
}

// GCOptions configures Mark-and-sweep.
type GCOptions struct {
	// GraceWindow is the minimum age (by on-disk mtime) an unreferenced
	// object must reach before it is swept (spec §4.2): this protects
	// objects written by an in-flight ingestion whose manifest/ref isn't
	// visible to the mark phase yet.
	GraceWindow time.Duration
	DryRun      bool
	Concurrency int
}

// MarkAndSweep performs the two-phase GC pass of spec §4.2.
func MarkAndSweep(ctx context.Context, store *Store, walker Walker, opts GCOptions) (GCStats, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	logger := dcontext.GetLogger(ctx)
	stats := GCStats{}

	markStart := time.Now()
	roots, err := walker.Roots(ctx)
	if err != nil {
		return stats, fmt.Errorf("cas: gc: enumerate roots: %w", err)
	}

	var mu sync.Mutex
	marked := make(map[digest.Digest]struct{}, len(roots)*8)
	frontier := append([]digest.Digest{}, roots...)
	for _, d := range frontier {
		marked[d] = struct{}{}
	}

	// Frontier-queue traversal (not full-history-in-memory recursion) per
	// the design note on walking the commit DAG: bounded expansion, a
	// visited set guards against revisiting shared ancestors/chunks.
	for len(frontier) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		var next []digest.Digest
		batch := frontier
		frontier = nil

		for _, d := range batch {
			d := d
			g.Go(func() error {
				kind, payload, err := store.Get(gctx, d)
				if err != nil {
					if err == ErrNotFound {
						// Already swept or never published (grace window
						// protects true in-flight objects); not fatal.
						return nil
					}
					mu.Lock()
					stats.Errors = append(stats.Errors, err)
					mu.Unlock()
					return nil
				}
				children, err := walker.Children(gctx, kind, payload)
				if err != nil {
					mu.Lock()
					stats.Errors = append(stats.Errors, err)
					mu.Unlock()
					return nil
				}
				mu.Lock()
				for _, c := range children {
					if _, ok := marked[c]; !ok {
						marked[c] = struct{}{}
						next = append(next, c)
					}
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
		frontier = next
	}

	stats.Marked = len(marked)
	stats.MarkDuration = time.Since(markStart)
	logger.Infof("gc: mark phase complete: marked=%d duration=%v", stats.Marked, stats.MarkDuration)

	sweepStart := time.Now()
	cutoff := time.Now().Add(-opts.GraceWindow).Unix()
	var toDelete []Entry
	err = store.Iter(ctx, func(e Entry) error {
		if _, ok := marked[e.Digest]; ok {
			return nil
		}
		if e.ModTime > cutoff {
			return nil // too young: might be an in-flight publication
		}
		toDelete = append(toDelete, e)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("cas: gc: enumerate objects: %w", err)
	}

	for _, e := range toDelete {
		if opts.DryRun {
			stats.Swept++
			stats.BytesReclaimed += e.Size
			continue
		}
		// GC errors on one object never delete that object and never
		// abort the pass (spec §4.2 failure semantics).
		if err := store.Delete(ctx, e.Digest); err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("gc: delete %s: %w", e.Digest, err))
			continue
		}
		stats.Swept++
		stats.BytesReclaimed += e.Size
	}

	stats.SweepDuration = time.Since(sweepStart)
	logger.Infof("gc: sweep phase complete: swept=%d bytes=%d duration=%v errors=%d",
		stats.Swept, stats.BytesReclaimed, stats.SweepDuration, len(stats.Errors))
	return stats, nil
}
