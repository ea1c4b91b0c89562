package cas

import (
	"context"
	"fmt"

	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/dcontext"
)

// FsckReport lists every problem found by a full verification pass (spec
// §4.2: "for every object in iter(), decompress, recompute the digest of
// the canonical payload, and confirm equality; recursively verify manifest
// chunk covers and tree references").
type FsckReport struct {
	CorruptObjects []digest.Digest
	DanglingRefs   []DanglingRef
}

// DanglingRef names an object that references a digest absent from the store.
type DanglingRef struct {
	From digest.Digest
	To   digest.Digest
}

func (r FsckReport) Clean() bool {
	return len(r.CorruptObjects) == 0 && len(r.DanglingRefs) == 0
}

// Fsck is the only code path that continues past corruption, per spec §7:
// it reports every corrupt digest rather than halting on the first one.
func Fsck(ctx context.Context, store *Store, walker Walker) (FsckReport, error) {
	logger := dcontext.GetLogger(ctx)
	var report FsckReport

	err := store.Iter(ctx, func(e Entry) error {
		kind, payload, err := store.Get(ctx, e.Digest)
		if err != nil {
			if _, ok := err.(*ErrCorrupt); ok {
				report.CorruptObjects = append(report.CorruptObjects, e.Digest)
				return nil
			}
			return err
		}

		children, err := walker.Children(ctx, kind, payload)
		if err != nil {
			// A structurally invalid payload (e.g. a manifest whose chunk
			// cover doesn't sum to its logical size) is reported the same
			// way as a hash mismatch: both make the object unusable.
			report.CorruptObjects = append(report.CorruptObjects, e.Digest)
			return nil
		}
		for _, c := range children {
			if !store.Has(ctx, c) {
				report.DanglingRefs = append(report.DanglingRefs, DanglingRef{From: e.Digest, To: c})
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("cas: fsck: %w", err)
	}

	logger.Infof("fsck: complete: corrupt=%d dangling=%d", len(report.CorruptObjects), len(report.DanglingRefs))
	return report, nil
}
