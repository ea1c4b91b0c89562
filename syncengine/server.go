package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/lock"
	"github.com/loomvcs/loom/objkind"
	"github.com/loomvcs/loom/refs"
	"github.com/loomvcs/loom/wire"
)

// Authenticator validates an incoming Auth request (spec §4.7 step 1).
// Returning an error sends AuthFail and closes the connection.
type Authenticator func(wire.AuthRequest) error

// Server answers the wire protocol's Chunk/Object/Ref/Sync/Lock operations
// against one repository's store, ref table, and lock registry, acting as
// the remote side of Push/Pull or as the sharing side of a P2P transfer
// (spec §4.7: "uses the same wire protocol as a read-only (or read-write,
// per policy) pull operation against the sharing side's local CAS").
type Server struct {
	Store          *cas.Store
	Refs           *refs.Store
	Locks          *lock.Registry
	Authenticate   Authenticator
	ReadOnly       bool
}

// Serve accepts streams from conn until it's closed or ctx is cancelled,
// handling each stream's frames sequentially (one request/response or one
// upload per stream, matching the client's one-stream-per-operation usage
// in push.go/pull.go).
func (s *Server) Serve(ctx context.Context, conn *wire.Conn) error {
	logger := dcontext.GetLogger(ctx)
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("syncengine: accept stream: %w", err)
		}
		go func() {
			if err := s.handleStream(ctx, stream); err != nil && ctx.Err() == nil {
				logger.Warnf("syncengine: stream handler: %v", err)
			}
		}()
	}
}

func (s *Server) handleStream(ctx context.Context, stream *wire.Stream) error {
	defer stream.Close()
	fr := wire.NewFrameReader(stream)
	fw := wire.NewFrameWriter(stream)

	f, err := fr.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	switch f.Header.Type {
	case wire.MsgAuth:
		var req wire.AuthRequest
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		authErr := error(nil)
		if s.Authenticate != nil {
			authErr = s.Authenticate(req)
		}
		if authErr != nil {
			return fw.WriteMessage(wire.MsgAuthFail, 0, f.Header.RequestID, wire.AuthFail{Message: authErr.Error()})
		}
		return fw.WriteMessage(wire.MsgAuthOk, 0, f.Header.RequestID, wire.AuthOk{ServerVersion: wire.ProtocolVersion})

	case wire.MsgRefList:
		var req wire.RefList
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		names, err := s.Refs.List(req.Prefix)
		if err != nil {
			return err
		}
		entries := make([]wire.RefEntry, 0, len(names))
		for _, n := range names {
			d, err := s.Refs.Resolve(n)
			if err != nil {
				continue
			}
			entries = append(entries, wire.RefEntry{Name: n, Commit: d})
		}
		return fw.WriteMessage(wire.MsgRefListResp, 0, f.Header.RequestID, wire.RefListResp{Refs: entries})

	case wire.MsgChunkBatchHas:
		var req wire.ChunkBatchHas
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		present := make([]bool, len(req.Digests))
		for i, d := range req.Digests {
			present[i] = s.Store.Has(ctx, d)
		}
		return fw.WriteMessage(wire.MsgChunkBatchResp, 0, f.Header.RequestID, wire.ChunkBatchResp{Present: present})

	case wire.MsgChunkHas:
		var req wire.ChunkHas
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		return fw.WriteMessage(wire.MsgChunkHasResp, 0, f.Header.RequestID, wire.ChunkHasResp{Present: s.Store.Has(ctx, req.Digest)})

	case wire.MsgChunkGet:
		var req wire.ChunkGet
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		_, payload, err := s.Store.Get(ctx, req.Digest)
		if err != nil {
			return fw.WriteMessage(wire.MsgError, 0, f.Header.RequestID, wire.ErrorBody{Message: err.Error()})
		}
		return fw.WriteMessage(wire.MsgChunkData, 0, f.Header.RequestID, wire.ChunkData{Digest: req.Digest, Data: payload})

	case wire.MsgChunkPut:
		if s.ReadOnly {
			return fw.WriteMessage(wire.MsgChunkPutAck, 0, f.Header.RequestID, wire.ChunkPutAck{Status: "read_only"})
		}
		var req wire.ChunkPut
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		status := s.put(ctx, objkind.Chunk, req.Digest, req.Data)
		return fw.WriteMessage(wire.MsgChunkPutAck, 0, f.Header.RequestID, wire.ChunkPutAck{Digest: req.Digest, Status: status})

	case wire.MsgObjectGet:
		var req wire.ObjectGet
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		kind, payload, err := s.Store.Get(ctx, req.Digest)
		if err != nil {
			return fw.WriteMessage(wire.MsgError, 0, f.Header.RequestID, wire.ErrorBody{Message: err.Error()})
		}
		return fw.WriteMessage(wire.MsgObjectData, 0, f.Header.RequestID, wire.ObjectData{Kind: kind, Digest: req.Digest, Data: payload})

	case wire.MsgObjectPut:
		if s.ReadOnly {
			return fw.WriteMessage(wire.MsgChunkPutAck, 0, f.Header.RequestID, wire.ObjectPutAck{Status: "read_only"})
		}
		var req wire.ObjectPut
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		status := s.put(ctx, req.Kind, req.Digest, req.Data)
		return fw.WriteMessage(wire.MsgObjectPut, 0, f.Header.RequestID, wire.ObjectPutAck{Digest: req.Digest, Status: status})

	case wire.MsgRefUpdate:
		if s.ReadOnly {
			return fw.WriteMessage(wire.MsgRefUpdateResp, 0, f.Header.RequestID, wire.RefUpdateResp{OK: false, ErrCode: "read_only"})
		}
		return s.handleRefUpdate(ctx, fw, f)

	case wire.MsgSyncPlan:
		var req wire.SyncPlan
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		closure, err := reachableClosure(ctx, s.Store, req.LocalTip)
		if err != nil {
			return fw.WriteMessage(wire.MsgError, 0, f.Header.RequestID, wire.ErrorBody{Message: err.Error()})
		}
		resp := wire.SyncPlanResp{RemoteTip: req.LocalTip}
		for _, r := range closure {
			resp.DigestsNeeded = append(resp.DigestsNeeded, r.Digest)
		}
		return fw.WriteMessage(wire.MsgSyncPlanResp, 0, f.Header.RequestID, resp)

	case wire.MsgLockAcquire:
		return s.handleLockAcquire(ctx, fw, f)

	case wire.MsgLockRelease:
		var req wire.LockRelease
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		err := s.Locks.Release(ctx, req.Path, req.OwnerID)
		return fw.WriteMessage(wire.MsgLockRelease, 0, f.Header.RequestID, wire.LockAcquireResp{OK: err == nil})

	case wire.MsgLockList:
		var req wire.LockList
		if err := wire.DecodeBody(f.Payload, &req); err != nil {
			return err
		}
		locks := s.Locks.List(func(l lock.Lock) bool { return len(req.PathPrefix) == 0 || hasPrefix(l.Path, req.PathPrefix) })
		infos := make([]wire.LockInfo, len(locks))
		for i, l := range locks {
			infos[i] = wire.LockInfo{Path: l.Path, OwnerID: l.OwnerID, ExpiresAt: l.ExpiresAt.UnixMilli()}
		}
		return fw.WriteMessage(wire.MsgLockList, 0, f.Header.RequestID, wire.LockListResp{Locks: infos})

	case wire.MsgPing:
		return fw.WriteMessage(wire.MsgPong, 0, f.Header.RequestID, struct{}{})

	default:
		return fw.WriteMessage(wire.MsgError, 0, f.Header.RequestID, wire.ErrorBody{Message: fmt.Sprintf("unsupported message type %s", f.Header.Type)})
	}
}

func (s *Server) put(ctx context.Context, kind objkind.Kind, want digest.Digest, data []byte) wire.AckStatus {
	if s.Store.Has(ctx, want) {
		return wire.AckAlreadyHave
	}
	got, err := s.Store.Put(ctx, kind, data)
	if err != nil {
		return wire.AckHashMismatch
	}
	if got != want {
		return wire.AckHashMismatch
	}
	return wire.AckOK
}

// handleRefUpdate enforces spec §6's "server additionally validates this
// invariant at RefUpdate time and rejects refs that resolve to missing
// objects" by walking the new tip's closure before accepting the update.
func (s *Server) handleRefUpdate(ctx context.Context, fw *wire.FrameWriter, f wire.Frame) error {
	var req wire.RefUpdate
	if err := wire.DecodeBody(f.Payload, &req); err != nil {
		return err
	}

	if !req.New.IsZero() {
		if _, err := reachableClosure(ctx, s.Store, req.New); err != nil {
			return fw.WriteMessage(wire.MsgRefUpdateResp, 0, f.Header.RequestID, wire.RefUpdateResp{
				OK: false, ErrCode: "object_not_found",
			})
		}
	}

	expected := req.Expected
	if !req.HasExpected {
		actual, _ := s.Refs.Resolve(req.Name)
		expected = actual // force-push: match whatever is currently there
	}
	err := s.Refs.Update(req.Name, expected, req.New, !req.HasExpected)
	if err != nil {
		actual, _ := s.Refs.Resolve(req.Name)
		return fw.WriteMessage(wire.MsgRefUpdateResp, 0, f.Header.RequestID, wire.RefUpdateResp{
			OK: false, Actual: actual, ErrCode: "non_fast_forward",
		})
	}
	return fw.WriteMessage(wire.MsgRefUpdateResp, 0, f.Header.RequestID, wire.RefUpdateResp{OK: true, Actual: req.New})
}

func (s *Server) handleLockAcquire(ctx context.Context, fw *wire.FrameWriter, f wire.Frame) error {
	var req wire.LockAcquire
	if err := wire.DecodeBody(f.Payload, &req); err != nil {
		return err
	}
	ttl := time.Duration(req.TTLMillis) * time.Millisecond
	l, err := s.Locks.Acquire(ctx, req.Path, req.OwnerID, req.Reason, ttl)
	if err != nil {
		var conflict *lock.ErrConflict
		if errors.As(err, &conflict) {
			return fw.WriteMessage(wire.MsgLockAcquire, 0, f.Header.RequestID, wire.LockAcquireResp{
				OK: false, HeldBy: conflict.Owner, ExpiresAt: conflict.ExpiresAt.UnixMilli(),
			})
		}
		return err
	}
	return fw.WriteMessage(wire.MsgLockAcquire, 0, f.Header.RequestID, wire.LockAcquireResp{OK: true, ExpiresAt: l.ExpiresAt.UnixMilli()})
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
