package wire

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/objkind"
)

// Payload bodies for each message type in spec §4.7's groups, CBOR-encoded
// (spec §6's canonical encoding, the same one object payloads and locks
// use) to go inside a Frame.Payload.

// AuthRequest is the Auth message body: a bearer credential or the first
// message of a password-authenticated key exchange for P2P (spec §4.7).
type AuthRequest struct {
	Credential         string   `cbor:"1,keyasint"`
	ClientVersion      uint8    `cbor:"2,keyasint"`
	ClientCapabilities []string `cbor:"3,keyasint"`
}

// AuthOk is the capability-negotiation response (spec §6: "A server
// advertises its maximum supported version in AuthOk... additive
// capability flags are conveyed in the AuthOk capability set").
type AuthOk struct {
	ServerVersion uint8    `cbor:"1,keyasint"`
	Capabilities  []string `cbor:"2,keyasint"`
}

// AuthFail carries a stable error code explaining authentication failure.
type AuthFail struct {
	Code    string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

// ErrorBody is the Error message's payload.
type ErrorBody struct {
	Code    string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

// ChunkHas / ChunkHasResp
type ChunkHas struct {
	Digest digest.Digest `cbor:"1,keyasint"`
}

type ChunkHasResp struct {
	Present bool `cbor:"1,keyasint"`
}

// ChunkBatchHas / ChunkBatchResp: the response bitmap is indexed by
// request position (spec §5: "issues ChunkBatchHas replies in the same
// order as the request batch").
type ChunkBatchHas struct {
	Digests []digest.Digest `cbor:"1,keyasint"`
}

type ChunkBatchResp struct {
	Present []bool `cbor:"1,keyasint"`
}

// ChunkGet / ChunkData / ChunkPut / ChunkPutAck
type ChunkGet struct {
	Digest digest.Digest `cbor:"1,keyasint"`
}

type ChunkData struct {
	Digest digest.Digest `cbor:"1,keyasint"`
	Data   []byte        `cbor:"2,keyasint"`
}

type ChunkPut struct {
	Digest digest.Digest `cbor:"1,keyasint"`
	Data   []byte        `cbor:"2,keyasint"`
}

// AckStatus is ChunkPutAck/ObjectPut's result code.
type AckStatus string

const (
	AckOK           AckStatus = "ok"
	AckHashMismatch AckStatus = "hash_mismatch"
	AckAlreadyHave  AckStatus = "already_have"
)

type ChunkPutAck struct {
	Digest digest.Digest `cbor:"1,keyasint"`
	Status AckStatus     `cbor:"2,keyasint"`
}

// ObjectGet / ObjectData / ObjectPut carry the same objkind.Kind tag used
// on disk (spec §4.7: "ObjectGet (with kind)").
type ObjectGet struct {
	Kind   objkind.Kind  `cbor:"1,keyasint"`
	Digest digest.Digest `cbor:"2,keyasint"`
}

type ObjectData struct {
	Kind   objkind.Kind  `cbor:"1,keyasint"`
	Digest digest.Digest `cbor:"2,keyasint"`
	Data   []byte        `cbor:"3,keyasint"`
}

type ObjectPut struct {
	Kind   objkind.Kind  `cbor:"1,keyasint"`
	Digest digest.Digest `cbor:"2,keyasint"`
	Data   []byte        `cbor:"3,keyasint"`
}

type ObjectPutAck struct {
	Digest digest.Digest `cbor:"1,keyasint"`
	Status AckStatus     `cbor:"2,keyasint"`
}

// RefList / RefListResp. Prefix is a refs/ subdirectory ("heads", "tags",
// "remotes/origin"), not an exact ref name — the response lists every ref
// under it.
type RefList struct {
	Prefix string `cbor:"1,keyasint"`
}

type RefEntry struct {
	Name   string        `cbor:"1,keyasint"`
	Commit digest.Digest `cbor:"2,keyasint"`
}

type RefListResp struct {
	Refs []RefEntry `cbor:"1,keyasint"`
}

// RefUpdate is the compare-and-set ref update of spec §4.7.6. A zero-value
// Expected with HasExpected=false means a force-push (spec: "Force-push
// sends the same sequence but omits the old-tip match").
type RefUpdate struct {
	Name        string        `cbor:"1,keyasint"`
	Expected    digest.Digest `cbor:"2,keyasint"`
	HasExpected bool          `cbor:"3,keyasint"`
	New         digest.Digest `cbor:"4,keyasint"`
}

type RefUpdateResp struct {
	OK      bool          `cbor:"1,keyasint"`
	Actual  digest.Digest `cbor:"2,keyasint"`
	ErrCode string        `cbor:"3,keyasint"`
}

// SyncPlan / SyncPlanResp
type SyncPlan struct {
	LocalTip digest.Digest `cbor:"1,keyasint"`
	Branches []string      `cbor:"2,keyasint"`
}

type SyncPlanResp struct {
	RemoteTip      digest.Digest   `cbor:"1,keyasint"`
	CommitsNeeded  []digest.Digest `cbor:"2,keyasint"`
	DigestsNeeded  []digest.Digest `cbor:"3,keyasint"`
	EstimatedBytes uint64          `cbor:"4,keyasint"`
}

// LockAcquire / LockRelease / LockList
type LockAcquire struct {
	Path      string `cbor:"1,keyasint"`
	OwnerID   string `cbor:"2,keyasint"`
	Reason    string `cbor:"3,keyasint"`
	TTLMillis int64  `cbor:"4,keyasint"`
}

type LockAcquireResp struct {
	OK        bool   `cbor:"1,keyasint"`
	HeldBy    string `cbor:"2,keyasint"`
	ExpiresAt int64  `cbor:"3,keyasint"`
}

type LockRelease struct {
	Path    string `cbor:"1,keyasint"`
	OwnerID string `cbor:"2,keyasint"`
}

type LockList struct {
	PathPrefix string `cbor:"1,keyasint"`
}

type LockListResp struct {
	Locks []LockInfo `cbor:"1,keyasint"`
}

type LockInfo struct {
	Path      string `cbor:"1,keyasint"`
	OwnerID   string `cbor:"2,keyasint"`
	ExpiresAt int64  `cbor:"3,keyasint"`
}

// canonicalMode matches objkind's encoder so a message body and an object
// payload are the same deterministic byte string for equal values.
var canonicalMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// EncodeBody canonically CBOR-encodes a message body for use as a frame
// payload.
func EncodeBody(v interface{}) ([]byte, error) {
	return canonicalMode.Marshal(v)
}

// DecodeBody decodes a frame payload into v.
func DecodeBody(payload []byte, v interface{}) error {
	return cbor.Unmarshal(payload, v)
}
