// Package compressor implements the pluggable per-chunk compression scheme
// of spec §4.1: the stored object layout
// [ kind:u8 | algo:u8 | u_size:u32 | c_size:u32 | bytes:c_size ].
package compressor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Algorithm selects the compression codec applied to a chunk's payload.
type Algorithm byte

const (
	// None stores the payload unmodified. Used for already-compressed media
	// and whenever compression fails to clear the configured min ratio.
	None Algorithm = 0
	// Fast is klauspost/compress's s2 (an extended Snappy), chosen for low
	// CPU cost on the hot ingestion path.
	Fast Algorithm = 1
	// Dict is klauspost/compress's zstd at a high compression level, used
	// for manifests and trees where ratio matters more than latency.
	Dict Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Fast:
		return "fast"
	case Dict:
		return "dict"
	default:
		return fmt.Sprintf("algorithm(%d)", byte(a))
	}
}

// ParseAlgorithm maps the compression.algorithm config value to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none":
		return None, nil
	case "fast":
		return Fast, nil
	case "dict":
		return Dict, nil
	default:
		return None, fmt.Errorf("compressor: unknown algorithm %q", s)
	}
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
var zstdDecoder, _ = zstd.NewReader(nil)

// Header is the fixed portion of the on-disk object layout, not counting
// the leading kind byte which callers (cas.Store) already own.
type Header struct {
	Algo  Algorithm
	USize uint32
	CSize uint32
}

const headerSize = 1 + 4 + 4 // algo:u8 | u_size:u32 | c_size:u32

// Encode compresses payload and returns the full on-disk record (header +
// compressed bytes). The algorithm is *forced when forced is non-nil (the
// CAS passes Dict for Manifest/Tree/Commit) and Fast otherwise; Encode
// takes no content type. Whatever the algorithm, the min-ratio test of
// spec §4.1(c) stores the payload with None when the compressed size
// exceeds minRatio times the payload size.
func Encode(payload []byte, forced *Algorithm, minRatio float64) ([]byte, error) {
	algo := Fast
	if forced != nil {
		algo = *forced
	}

	var compressed []byte
	switch algo {
	case None:
		compressed = payload
	case Fast:
		compressed = s2.Encode(nil, payload)
	case Dict:
		compressed = zstdEncoder.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("compressor: unsupported algorithm %v", algo)
	}

	if algo != None && len(payload) > 0 {
		ratio := float64(len(compressed)) / float64(len(payload))
		if ratio > minRatio {
			// Compression didn't earn its keep; store raw per §4.1(c).
			algo = None
			compressed = payload
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(compressed)))
	buf.WriteByte(byte(algo))
	var sizes [8]byte
	binary.BigEndian.PutUint32(sizes[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(sizes[4:8], uint32(len(compressed)))
	buf.Write(sizes[:])
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// Decode reverses Encode, returning the canonical uncompressed payload.
func Decode(record []byte) ([]byte, error) {
	if len(record) < headerSize {
		return nil, io.ErrUnexpectedEOF
	}
	algo := Algorithm(record[0])
	uSize := binary.BigEndian.Uint32(record[1:5])
	cSize := binary.BigEndian.Uint32(record[5:9])
	body := record[headerSize:]
	if uint32(len(body)) != cSize {
		return nil, fmt.Errorf("compressor: truncated record: want %d compressed bytes, have %d", cSize, len(body))
	}

	switch algo {
	case None:
		return body, nil
	case Fast:
		out, err := s2.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("compressor: s2 decode: %w", err)
		}
		return out, nil
	case Dict:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, uSize))
		if err != nil {
			return nil, fmt.Errorf("compressor: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compressor: unsupported algorithm %v", algo)
	}
}

// IsPrecompressed reports whether a content-type tag names a media type
// that is already entropy-dense (spec §4.1(b)): already-compressed media is
// stored with None to skip wasted CPU.
func IsPrecompressed(contentType string) bool {
	switch contentType {
	case "video/mp4", "video/quicktime", "video/x-matroska",
		"image/jpeg", "image/png", "image/webp",
		"audio/mpeg", "audio/aac", "application/zip", "application/gzip":
		return true
	default:
		return false
	}
}
