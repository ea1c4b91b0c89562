package wire

import (
	"bufio"
	"fmt"
	"io"
)

// StreamConn is the minimal surface wire needs from an underlying
// multiplexed transport stream: ordered reliable bytes, independently
// closable in each direction (spec §4.7: "ordered reliable bytes per
// stream, stream-level backpressure").
type StreamConn interface {
	io.Reader
	io.Writer
	io.Closer
}

// FrameReader reads length-prefixed frames off a StreamConn, transparently
// reassembling multi-frame chunked payloads (spec §4.7: "larger transfers
// use multi-frame chunking with flag bit 2/3").
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps conn for frame-at-a-time reading.
func NewFrameReader(conn io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(conn, 64*1024)}
}

// ReadFrame reads one logical frame, reassembling it from continuation
// frames if the first carries FlagChunked without FlagFinalFrame. All
// continuation frames must carry the same RequestID and Type as the first;
// their Version is not compared.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	first, payload, err := fr.readOne()
	if err != nil {
		return Frame{}, err
	}
	if !first.Flags.Has(FlagChunked) || first.Flags.Has(FlagFinalFrame) {
		return Frame{Header: first, Payload: payload}, nil
	}

	full := payload
	for {
		h, p, err := fr.readOne()
		if err != nil {
			return Frame{}, fmt.Errorf("wire: read continuation frame: %w", err)
		}
		if h.RequestID != first.RequestID || h.Type != first.Type {
			return Frame{}, fmt.Errorf("wire: continuation frame mismatch: want request %d type %s, got %d %s",
				first.RequestID, first.Type, h.RequestID, h.Type)
		}
		full = append(full, p...)
		if h.Flags.Has(FlagFinalFrame) {
			first.PayloadLen = uint32(len(full))
			return Frame{Header: first, Payload: full}, nil
		}
	}
}

func (fr *FrameReader) readOne() (Header, []byte, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(fr.r, hdrBuf); err != nil {
		return Header{}, nil, err
	}
	h, err := DecodeHeader(hdrBuf)
	if err != nil {
		return Header{}, nil, err
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return Header{}, nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return h, payload, nil
}

// FrameWriter writes frames to a StreamConn, splitting oversized payloads
// into a chunked sequence automatically.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps conn for frame-at-a-time writing.
func NewFrameWriter(conn io.Writer) *FrameWriter {
	return &FrameWriter{w: conn}
}

// WriteMessage encodes body to canonical CBOR and writes it as one or more
// frames of msgType under requestID.
func (fw *FrameWriter) WriteMessage(msgType MessageType, flags Flags, requestID uint64, body interface{}) error {
	payload, err := EncodeBody(body)
	if err != nil {
		return fmt.Errorf("wire: encode body: %w", err)
	}
	return fw.WriteRaw(msgType, flags, requestID, payload)
}

// WriteRaw writes payload as-is (used for chunk/object bytes that are
// already a flat byte slice, not a CBOR-wrapped struct).
func (fw *FrameWriter) WriteRaw(msgType MessageType, flags Flags, requestID uint64, payload []byte) error {
	if len(payload) <= MaxFramePayload {
		f, err := NewFrame(msgType, flags, requestID, payload)
		if err != nil {
			return err
		}
		return fw.writeFrame(f)
	}

	flags |= FlagChunked
	for offset := 0; offset < len(payload); offset += MaxFramePayload {
		end := offset + MaxFramePayload
		if end > len(payload) {
			end = len(payload)
		}
		frameFlags := flags
		if end == len(payload) {
			frameFlags |= FlagFinalFrame
		}
		f, err := NewFrame(msgType, frameFlags, requestID, payload[offset:end])
		if err != nil {
			return err
		}
		if err := fw.writeFrame(f); err != nil {
			return err
		}
	}
	return nil
}

func (fw *FrameWriter) writeFrame(f Frame) error {
	if _, err := fw.w.Write(f.Header.Encode()); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := fw.w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}
