package syncengine

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/config"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/internal/errcode"
	"github.com/loomvcs/loom/objkind"
	"github.com/loomvcs/loom/wire"
)

// Options configures one sync operation from spec §6's `sync.*` keys.
type Options struct {
	Concurrency    int
	BatchSize      int
	MaxRetries     int
	InitialBackoff int // milliseconds
	MaxBackoff     int // milliseconds
}

// OptionsFromConfig derives Options from the repository's configured
// sync.* keys, filling in the one value (max retries) spec §6's table
// doesn't name explicitly.
func OptionsFromConfig(cfg config.Sync) Options {
	return Options{
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		MaxRetries:  5,
	}
}

func (o Options) normalize() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 4096
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	return o
}

// PushResult summarizes a completed push.
type PushResult struct {
	Uploaded int
	Skipped  int
	NewTip   digest.Digest
}

// requestIDs hands out unique request ids for one session's frames (spec
// §4.7: "Every request carries a request id").
type requestIDs struct{ n uint64 }

func (r *requestIDs) next() uint64 { return atomic.AddUint64(&r.n, 1) }

// Push implements spec §4.7's push algorithm over conn, which must already
// be past the Auth/AuthOk handshake. branch is pushed by name; force
// omits the compare-and-set old-tip match.
func Push(ctx context.Context, conn *wire.Conn, store *cas.Store, branch string, localTip digest.Digest, force bool, opts Options) (PushResult, error) {
	opts = opts.normalize()
	logger := dcontext.GetLogger(ctx)
	ids := &requestIDs{}

	ctrl, err := conn.OpenStream(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: open control stream: %w", err)
	}
	defer ctrl.Close()
	fw := wire.NewFrameWriter(ctrl)
	fr := wire.NewFrameReader(ctrl)

	refName := "heads/" + branch
	if err := fw.WriteMessage(wire.MsgRefList, 0, ids.next(), wire.RefList{Prefix: "heads"}); err != nil {
		return PushResult{}, err
	}
	f, err := fr.ReadFrame()
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: push: RefList: %w", err)
	}
	var listResp wire.RefListResp
	if err := wire.DecodeBody(f.Payload, &listResp); err != nil {
		return PushResult{}, err
	}
	var remoteTip digest.Digest
	for _, e := range listResp.Refs {
		if e.Name == refName {
			remoteTip = e.Commit
		}
	}

	diff, err := diffClosure(ctx, store, remoteTip, localTip)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: push: compute closure: %w", err)
	}

	missing, err := batchHas(fw, fr, ids, diff, opts.BatchSize)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: push: ChunkBatchHas: %w", err)
	}
	logger.Infof("syncengine: push: %d object(s) reachable, %d missing on remote", len(diff), len(missing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, ref := range missing {
		ref := ref
		g.Go(func() error {
			return uploadOne(gctx, conn, store, ids, ref, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return PushResult{}, err
	}

	var expected digest.Digest
	hasExpected := !force
	if hasExpected {
		expected = remoteTip
	}
	if err := fw.WriteMessage(wire.MsgRefUpdate, 0, ids.next(), wire.RefUpdate{
		Name: refName, Expected: expected, HasExpected: hasExpected, New: localTip,
	}); err != nil {
		return PushResult{}, err
	}
	f, err = fr.ReadFrame()
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: push: RefUpdate: %w", err)
	}
	var updResp wire.RefUpdateResp
	if err := wire.DecodeBody(f.Payload, &updResp); err != nil {
		return PushResult{}, err
	}
	if !updResp.OK {
		return PushResult{}, errcode.New(errcode.Code(updResp.ErrCode), fmt.Sprintf(
			"ref update rejected: expected %s, remote is at %s", remoteTip, updResp.Actual))
	}

	return PushResult{Uploaded: len(missing), Skipped: len(diff) - len(missing), NewTip: localTip}, nil
}

// batchHas issues ChunkBatchHas for refs in chunks of batchSize and returns
// the subset the remote reports missing, preserving refs' relative order
// (spec §5: "issues ChunkBatchHas replies in the same order as the request
// batch").
func batchHas(fw *wire.FrameWriter, fr *wire.FrameReader, ids *requestIDs, refs []objRef, batchSize int) ([]objRef, error) {
	var missing []objRef
	for start := 0; start < len(refs); start += batchSize {
		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]
		digests := make([]digest.Digest, len(batch))
		for i, r := range batch {
			digests[i] = r.Digest
		}
		if err := fw.WriteMessage(wire.MsgChunkBatchHas, 0, ids.next(), wire.ChunkBatchHas{Digests: digests}); err != nil {
			return nil, err
		}
		f, err := fr.ReadFrame()
		if err != nil {
			return nil, err
		}
		var resp wire.ChunkBatchResp
		if err := wire.DecodeBody(f.Payload, &resp); err != nil {
			return nil, err
		}
		if len(resp.Present) != len(batch) {
			return nil, fmt.Errorf("syncengine: ChunkBatchResp length mismatch: sent %d, got %d", len(batch), len(resp.Present))
		}
		for i, present := range resp.Present {
			if !present {
				missing = append(missing, batch[i])
			}
		}
	}
	return missing, nil
}

// uploadOne uploads a single object on its own stream, retrying on
// HashMismatch up to opts.MaxRetries (spec §4.7 step 4).
func uploadOne(ctx context.Context, conn *wire.Conn, store *cas.Store, ids *requestIDs, ref objRef, opts Options) error {
	_, payload, err := store.Get(ctx, ref.Digest)
	if err != nil {
		return fmt.Errorf("syncengine: load %s for upload: %w", ref.Digest, err)
	}

	bo := newBackoff(toDuration(opts.InitialBackoff), toDuration(opts.MaxBackoff))
	for attempt := 0; ; attempt++ {
		status, err := uploadAttempt(ctx, conn, store, ids, ref, payload)
		if err != nil {
			return err
		}
		if status == wire.AckOK || status == wire.AckAlreadyHave {
			return nil
		}
		if status == wire.AckHashMismatch && attempt < opts.MaxRetries {
			if err := bo.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("syncengine: upload %s failed after %d attempt(s): %s", ref.Digest, attempt+1, status)
	}
}

func uploadAttempt(ctx context.Context, conn *wire.Conn, store *cas.Store, ids *requestIDs, ref objRef, payload []byte) (wire.AckStatus, error) {
	s, err := conn.OpenStream(ctx)
	if err != nil {
		return "", fmt.Errorf("syncengine: open upload stream: %w", err)
	}
	defer s.Close()
	fw := wire.NewFrameWriter(s)
	fr := wire.NewFrameReader(s)

	reqID := ids.next()
	if ref.Kind == objkind.Chunk {
		if err := fw.WriteMessage(wire.MsgChunkPut, 0, reqID, wire.ChunkPut{Digest: ref.Digest, Data: payload}); err != nil {
			return "", err
		}
		f, err := fr.ReadFrame()
		if err != nil {
			return "", err
		}
		var ack wire.ChunkPutAck
		if err := wire.DecodeBody(f.Payload, &ack); err != nil {
			return "", err
		}
		return ack.Status, nil
	}

	if err := fw.WriteMessage(wire.MsgObjectPut, 0, reqID, wire.ObjectPut{Kind: ref.Kind, Digest: ref.Digest, Data: payload}); err != nil {
		return "", err
	}
	f, err := fr.ReadFrame()
	if err != nil {
		return "", err
	}
	var ack wire.ObjectPutAck
	if err := wire.DecodeBody(f.Payload, &ack); err != nil {
		return "", err
	}
	return ack.Status, nil
}
