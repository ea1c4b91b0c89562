package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:    ProtocolVersion,
		Type:       MsgChunkGet,
		Flags:      FlagCompressed,
		PayloadLen: 42,
		RequestID:  123456789,
	}
	buf := h.Encode()
	require.Len(t, buf, HeaderSize)
	require.Equal(t, Magic[:], buf[0:4])

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := Header{Version: 1, Type: MsgPing}.Encode()
	buf[0] = 'X'
	_, err := DecodeHeader(buf)
	require.ErrorContains(t, err, "bad magic")
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	require.ErrorContains(t, err, "20 bytes")
}

func TestDecodeHeaderRejectsOversizedUnchunkedPayload(t *testing.T) {
	buf := Header{Version: 1, Type: MsgChunkData, PayloadLen: MaxFramePayload + 1}.Encode()
	_, err := DecodeHeader(buf)
	require.ErrorContains(t, err, "exceeds max frame size")
}

func TestNewFrameRejectsOversizedUnchunkedPayload(t *testing.T) {
	_, err := NewFrame(MsgChunkData, 0, 1, make([]byte, MaxFramePayload+1))
	require.ErrorContains(t, err, "requires chunking")
}

func TestNewFrameAllowsOversizedChunkedPayload(t *testing.T) {
	f, err := NewFrame(MsgChunkData, FlagChunked, 1, make([]byte, MaxFramePayload+1))
	require.NoError(t, err)
	require.Equal(t, uint32(MaxFramePayload+1), f.Header.PayloadLen)
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "ChunkBatchHas", MsgChunkBatchHas.String())
	require.Contains(t, MessageType(250).String(), "MessageType(250)")
}

func TestFlagsHas(t *testing.T) {
	f := FlagCompressed | FlagFinalFrame
	require.True(t, f.Has(FlagCompressed))
	require.True(t, f.Has(FlagFinalFrame))
	require.False(t, f.Has(FlagSigned))
	require.False(t, f.Has(FlagChunked))
}
