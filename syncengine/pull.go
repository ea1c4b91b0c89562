package syncengine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/objkind"
	"github.com/loomvcs/loom/wire"
)

// PullResult summarizes a completed fetch.
type PullResult struct {
	Downloaded int
	Skipped    int
	RemoteTip  digest.Digest
}

// Pull implements spec §4.7's fetch algorithm, the mirror image of Push:
// determine what's reachable from the remote tip but missing locally,
// download it, and return the remote tip for the caller to point a
// remote-tracking ref at (merge/rebase onto it is a separate, local
// commit-graph operation per spec §4.5).
//
// Resumption is automatic at the ChunkBatchHas batch boundary (spec §4.7:
// "a retried operation re-issues ChunkBatchHas and skips chunks whose
// presence is already confirmed") because missingLocally is recomputed
// against the current store state on every call.
func Pull(ctx context.Context, conn *wire.Conn, store *cas.Store, branch string, opts Options) (PullResult, error) {
	opts = opts.normalize()
	logger := dcontext.GetLogger(ctx)
	ids := &requestIDs{}

	ctrl, err := conn.OpenStream(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("syncengine: open control stream: %w", err)
	}
	defer ctrl.Close()
	fw := wire.NewFrameWriter(ctrl)
	fr := wire.NewFrameReader(ctrl)

	refName := "heads/" + branch
	if err := fw.WriteMessage(wire.MsgRefList, 0, ids.next(), wire.RefList{Prefix: "heads"}); err != nil {
		return PullResult{}, err
	}
	f, err := fr.ReadFrame()
	if err != nil {
		return PullResult{}, fmt.Errorf("syncengine: pull: RefList: %w", err)
	}
	var listResp wire.RefListResp
	if err := wire.DecodeBody(f.Payload, &listResp); err != nil {
		return PullResult{}, err
	}
	var remoteTip digest.Digest
	found := false
	for _, e := range listResp.Refs {
		if e.Name == refName {
			remoteTip, found = e.Commit, true
		}
	}
	if !found {
		return PullResult{}, fmt.Errorf("syncengine: pull: remote has no ref %s", refName)
	}
	if remoteTip.IsZero() {
		return PullResult{RemoteTip: remoteTip}, nil
	}

	needed, err := missingLocally(ctx, store, conn, ids, fw, fr, remoteTip, opts.BatchSize)
	if err != nil {
		return PullResult{}, fmt.Errorf("syncengine: pull: compute missing set: %w", err)
	}
	logger.Infof("syncengine: pull: %d object(s) needed from remote", len(needed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, ref := range needed {
		ref := ref
		g.Go(func() error {
			return downloadOne(gctx, conn, store, ids, ref, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return PullResult{}, err
	}

	return PullResult{Downloaded: len(needed), RemoteTip: remoteTip}, nil
}

// missingLocally asks the remote to enumerate the closure of remoteTip (via
// SyncPlan) and filters it down to digests not already present in store.
// Unlike push's diffClosure (which walks the local store, which already has
// everything reachable from its own tips), pull can't walk the remote's
// object graph locally, so it asks the remote for the digest list and
// checks local presence itself — functionally the inverse of
// ChunkBatchHas, computed with a local Has instead of a remote one.
func missingLocally(ctx context.Context, store *cas.Store, conn *wire.Conn, ids *requestIDs, fw *wire.FrameWriter, fr *wire.FrameReader, remoteTip digest.Digest, batchSize int) ([]objRef, error) {
	if err := fw.WriteMessage(wire.MsgSyncPlan, 0, ids.next(), wire.SyncPlan{LocalTip: remoteTip}); err != nil {
		return nil, err
	}
	f, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	var plan wire.SyncPlanResp
	if err := wire.DecodeBody(f.Payload, &plan); err != nil {
		return nil, err
	}

	var needed []objRef
	all := append(append([]digest.Digest{}, plan.CommitsNeeded...), plan.DigestsNeeded...)
	for _, d := range all {
		if store.Has(ctx, d) {
			continue
		}
		needed = append(needed, objRef{Digest: d})
	}
	return needed, nil
}

func downloadOne(ctx context.Context, conn *wire.Conn, store *cas.Store, ids *requestIDs, ref objRef, opts Options) error {
	bo := newBackoff(toDuration(opts.InitialBackoff), toDuration(opts.MaxBackoff))
	for attempt := 0; ; attempt++ {
		err := downloadAttempt(ctx, conn, store, ids, ref)
		if err == nil {
			return nil
		}
		if attempt < opts.MaxRetries {
			if werr := bo.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}
		return fmt.Errorf("syncengine: download %s failed after %d attempt(s): %w", ref.Digest, attempt+1, err)
	}
}

func downloadAttempt(ctx context.Context, conn *wire.Conn, store *cas.Store, ids *requestIDs, ref objRef) error {
	s, err := conn.OpenStream(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: open download stream: %w", err)
	}
	defer s.Close()
	fw := wire.NewFrameWriter(s)
	fr := wire.NewFrameReader(s)

	reqID := ids.next()
	if err := fw.WriteMessage(wire.MsgObjectGet, 0, reqID, wire.ObjectGet{Digest: ref.Digest}); err != nil {
		return err
	}
	f, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	if f.Header.Type == wire.MsgError {
		var eb wire.ErrorBody
		_ = wire.DecodeBody(f.Payload, &eb)
		return fmt.Errorf("remote: %s", eb.Message)
	}
	var data wire.ObjectData
	if err := wire.DecodeBody(f.Payload, &data); err != nil {
		return err
	}
	kind := data.Kind
	if kind == 0 {
		kind = objkind.Chunk
	}
	got, err := store.Put(ctx, kind, data.Data)
	if err != nil {
		return err
	}
	if got != ref.Digest {
		return fmt.Errorf("downloaded object digest mismatch: want %s, got %s", ref.Digest, got)
	}
	return nil
}
