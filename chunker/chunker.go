// Package chunker splits a byte stream into variable-sized chunks at
// content-dependent boundaries (spec §4.3). It exposes a lazy iterator
// rather than a materialized slice, per the design note that large-file
// chunk-ref lists must not be built as single in-RAM allocations.
package chunker

import (
	"bufio"
	"errors"
	"io"
)

// Cut is one emitted chunk: its position in the stream, its raw bytes, and
// whether it was forced by a container boundary rather than the rolling
// fingerprint (used by the media-aware variant; always false for Generic).
type Cut struct {
	Offset int64
	Data   []byte
	Forced bool
}

// Chunker is the generic content-defined splitter. It is single-threaded
// per file per spec §4.4 ("the rolling fingerprint is sequential") — callers
// parallelize across files and across the downstream digest/compress/put
// work for each emitted chunk, never across chunks of one file.
type Chunker struct {
	r      *bufio.Reader
	params Params
	small  uint64
	large  uint64
	offset int64
	err    error
	forceAt []int64 // ascending forced-cut offsets, consumed as the stream advances
}

// New constructs a Chunker reading from r with the given params. forceAt, if
// non-nil, is a sorted list of absolute byte offsets at which a cut is
// forced regardless of the rolling fingerprint — used by the
// media-container-aware wrapper (container.go) to align cuts to box/sample
// boundaries.
func New(r io.Reader, params Params, forceAt []int64) (*Chunker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	smallBits, largeBits := params.maskBits()
	return &Chunker{
		r:       bufio.NewReaderSize(r, 256<<10),
		params:  params,
		small:   maskOf(smallBits),
		large:   maskOf(largeBits),
		forceAt: forceAt,
	}, nil
}

// ErrStop is a sentinel a caller's iteration loop can rely on via errors.Is
// to distinguish "stream exhausted" from a real read failure.
var ErrStop = errors.New("chunker: no more chunks")

// Next returns the next cut, or ErrStop at end of stream. The returned
// Cut.Data is only valid until the following call to Next.
func (c *Chunker) Next() (Cut, error) {
	if c.err != nil {
		return Cut{}, c.err
	}

	start := c.offset
	buf := make([]byte, 0, c.params.AvgChunk)
	var fp uint64
	forced := false

	for {
		b, err := c.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if len(buf) == 0 {
					c.err = ErrStop
					return Cut{}, ErrStop
				}
				// Final short chunk: spec §4.3 permits len < MinChunk here.
				c.err = ErrStop
				cut := Cut{Offset: start, Data: buf}
				c.offset += int64(len(buf))
				return cut, nil
			}
			c.err = err
			return Cut{}, err
		}

		buf = append(buf, b)
		c.offset++
		n := len(buf)

		if c.nextForcedAt() == c.offset {
			c.popForced()
			forced = true
			break
		}

		if n < c.params.MinChunk {
			continue
		}
		if n >= c.params.MaxChunk {
			break
		}

		fp = gear(fp, b)
		mask := c.large
		if n < c.params.AvgChunk {
			mask = c.small
		}
		if fp&mask == 0 {
			break
		}
	}

	return Cut{Offset: start, Data: buf, Forced: forced}, nil
}

func (c *Chunker) nextForcedAt() int64 {
	if len(c.forceAt) == 0 {
		return -1
	}
	return c.forceAt[0]
}

func (c *Chunker) popForced() {
	c.forceAt = c.forceAt[1:]
}
