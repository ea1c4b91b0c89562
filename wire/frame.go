// Package wire implements the fixed-header framing protocol of spec §4.7:
// every message on a connection is a 20-byte header followed by a payload,
// multiplexed across logical streams of an underlying connection-oriented,
// encrypted transport.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of every frame header in bytes (spec §4.7:
// "Every message is a fixed 20-byte header followed by a payload").
const HeaderSize = 20

// Magic identifies the Loom wire protocol at the start of every frame.
var Magic = [4]byte{'L', 'O', 'O', 'M'}

// ProtocolVersion is the single byte governing wire compatibility (spec §6:
// "governed by the single-byte protocol-version field").
const ProtocolVersion uint8 = 1

// MaxFramePayload is the largest payload a single frame may carry (spec
// §4.7: "Maximum single-frame payload 16 MiB; larger transfers use
// multi-frame chunking").
const MaxFramePayload = 16 * 1024 * 1024

// Flags is the frame header's single flags byte (spec §4.7).
type Flags uint8

const (
	FlagCompressed Flags = 1 << 0 // payload is compressed
	FlagSigned     Flags = 1 << 1 // additional app-layer signature present
	FlagChunked    Flags = 1 << 2 // multi-frame chunked
	FlagFinalFrame Flags = 1 << 3 // final frame of a chunked sequence
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// MessageType identifies the semantic kind of a frame's payload (spec
// §4.7's "Message types" table).
type MessageType uint8

const (
	// Control
	MsgPing MessageType = iota + 1
	MsgPong
	MsgAuth
	MsgAuthOk
	MsgAuthFail
	MsgClose
	MsgError

	// Chunk ops
	MsgChunkHas
	MsgChunkHasResp
	MsgChunkBatchHas
	MsgChunkBatchResp
	MsgChunkGet
	MsgChunkData
	MsgChunkPut
	MsgChunkPutAck

	// Manifest/tree/commit ops
	MsgObjectGet
	MsgObjectData
	MsgObjectPut

	// Ref ops
	MsgRefList
	MsgRefListResp
	MsgRefUpdate
	MsgRefUpdateResp

	// Sync ops
	MsgSyncPlan
	MsgSyncPlanResp

	// Lock ops
	MsgLockAcquire
	MsgLockRelease
	MsgLockList
)

var messageTypeNames = map[MessageType]string{
	MsgPing: "Ping", MsgPong: "Pong", MsgAuth: "Auth", MsgAuthOk: "AuthOk",
	MsgAuthFail: "AuthFail", MsgClose: "Close", MsgError: "Error",
	MsgChunkHas: "ChunkHas", MsgChunkHasResp: "ChunkHasResp",
	MsgChunkBatchHas: "ChunkBatchHas", MsgChunkBatchResp: "ChunkBatchResp",
	MsgChunkGet: "ChunkGet", MsgChunkData: "ChunkData",
	MsgChunkPut: "ChunkPut", MsgChunkPutAck: "ChunkPutAck",
	MsgObjectGet: "ObjectGet", MsgObjectData: "ObjectData", MsgObjectPut: "ObjectPut",
	MsgRefList: "RefList", MsgRefListResp: "RefListResp",
	MsgRefUpdate: "RefUpdate", MsgRefUpdateResp: "RefUpdateResp",
	MsgSyncPlan: "SyncPlan", MsgSyncPlanResp: "SyncPlanResp",
	MsgLockAcquire: "LockAcquire", MsgLockRelease: "LockRelease", MsgLockList: "LockList",
}

func (m MessageType) String() string {
	if n, ok := messageTypeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("MessageType(%d)", uint8(m))
}

// Header is the fixed 20-byte frame header of spec §4.7.
type Header struct {
	Version    uint8
	Type       MessageType
	Flags      Flags
	PayloadLen uint32
	RequestID  uint64
}

// Encode writes h to a freshly allocated 20-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	buf[4] = h.Version
	buf[5] = byte(h.Type)
	buf[6] = byte(h.Flags)
	buf[7] = 0 // reserved
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLen)
	binary.BigEndian.PutUint64(buf[12:20], h.RequestID)
	return buf
}

// DecodeHeader parses a 20-byte buffer into a Header, validating the magic
// and rejecting payload lengths above MaxFramePayload for non-chunked
// frames.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	if [4]byte(buf[0:4]) != Magic {
		return Header{}, fmt.Errorf("wire: bad magic %x", buf[0:4])
	}
	h := Header{
		Version:    buf[4],
		Type:       MessageType(buf[5]),
		Flags:      Flags(buf[6]),
		PayloadLen: binary.BigEndian.Uint32(buf[8:12]),
		RequestID:  binary.BigEndian.Uint64(buf[12:20]),
	}
	if h.PayloadLen > MaxFramePayload && !h.Flags.Has(FlagChunked) {
		return Header{}, fmt.Errorf("wire: payload length %d exceeds max frame size without chunk flag", h.PayloadLen)
	}
	return h, nil
}

// Frame is a decoded header plus its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame builds a Frame with the current ProtocolVersion, deriving
// PayloadLen from len(payload). Splitting a payload larger than
// MaxFramePayload and setting FlagChunked/FlagFinalFrame is done by
// FrameWriter.WriteRaw in conn.go; NewFrame itself only refuses an
// oversized unchunked payload.
func NewFrame(msgType MessageType, flags Flags, requestID uint64, payload []byte) (Frame, error) {
	if len(payload) > MaxFramePayload && !flags.Has(FlagChunked) {
		return Frame{}, fmt.Errorf("wire: payload of %d bytes requires chunking", len(payload))
	}
	return Frame{
		Header: Header{
			Version:    ProtocolVersion,
			Type:       msgType,
			Flags:      flags,
			PayloadLen: uint32(len(payload)),
			RequestID:  requestID,
		},
		Payload: payload,
	}, nil
}
