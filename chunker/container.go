package chunker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrMalformedContainer is returned when the structure-aware parse cannot
// identify clean boundaries; callers (the ingestion pipeline) must fall
// back to the generic chunker per spec §4.3.
var ErrMalformedContainer = errors.New("chunker: malformed container")

type box struct {
	typ          string
	offset, size int64
}

// ForceCutsISOBMFF computes the forced cut-point offsets for an ISO base
// media format file (mp4/mov/m4a): every top-level box boundary, plus, for
// the media-data box, every key-frame sample offset found in the sample
// table (spec §4.3: "forced cut points at container-structural boundaries
// (top-level box boundaries; within the media-data box, additionally at
// key-frame sample offsets derived from the sample-table metadata)").
//
// ra must provide random access to the whole file; size is its length.
func ForceCutsISOBMFF(ra io.ReaderAt, size int64) ([]int64, error) {
	boxes, err := topLevelBoxes(ra, size)
	if err != nil {
		return nil, err
	}

	cuts := make([]int64, 0, len(boxes)+8)
	var mdat *box
	for i := range boxes {
		b := &boxes[i]
		if b.offset > 0 {
			cuts = append(cuts, b.offset)
		}
		if b.typ == "mdat" {
			mdat = b
		}
	}

	if mdat != nil {
		keyOffsets, err := keyFrameOffsets(ra, boxes)
		if err == nil {
			for _, off := range keyOffsets {
				if off > mdat.offset && off < mdat.offset+mdat.size {
					cuts = append(cuts, off)
				}
			}
		}
		// A failure to resolve the sample table is not fatal to the whole
		// parse: top-level box cuts are still valid structural boundaries.
	}

	return dedupeSorted(cuts), nil
}

func topLevelBoxes(ra io.ReaderAt, size int64) ([]box, error) {
	var boxes []box
	var offset int64
	hdr := make([]byte, 16)

	for offset < size {
		n, err := ra.ReadAt(hdr, offset)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
		}
		if n < 8 {
			break
		}
		boxSize := int64(binary.BigEndian.Uint32(hdr[0:4]))
		typ := string(hdr[4:8])
		headerLen := int64(8)
		if boxSize == 1 {
			if n < 16 {
				return nil, fmt.Errorf("%w: truncated 64-bit box size", ErrMalformedContainer)
			}
			boxSize = int64(binary.BigEndian.Uint64(hdr[8:16]))
			headerLen = 16
		} else if boxSize == 0 {
			boxSize = size - offset
		}
		if boxSize < headerLen || offset+boxSize > size {
			return nil, fmt.Errorf("%w: box %q has invalid size %d at offset %d", ErrMalformedContainer, typ, boxSize, offset)
		}
		boxes = append(boxes, box{typ: typ, offset: offset, size: boxSize})
		offset += boxSize
	}

	if len(boxes) == 0 {
		return nil, fmt.Errorf("%w: no top-level boxes found", ErrMalformedContainer)
	}
	return boxes, nil
}

// keyFrameOffsets walks moov -> trak -> mdia -> minf -> stbl to find stss
// (sync sample numbers), stco/co64 (chunk offsets) and stsc (sample-to-chunk
// mapping), and resolves each sync sample number to an absolute file offset.
// This is a best-effort walk: any unsupported nesting returns an error and
// the caller keeps only the top-level cuts it already has.
func keyFrameOffsets(ra io.ReaderAt, top []box) ([]int64, error) {
	var moov *box
	for i := range top {
		if top[i].typ == "moov" {
			moov = &top[i]
			break
		}
	}
	if moov == nil {
		return nil, fmt.Errorf("%w: no moov box", ErrMalformedContainer)
	}

	children, err := childBoxes(ra, moov.offset+8, moov.offset+moov.size)
	if err != nil {
		return nil, err
	}

	var offsets []int64
	for _, trak := range filterType(children, "trak") {
		stbl, err := findDescendant(ra, trak, []string{"mdia", "minf", "stbl"})
		if err != nil {
			continue
		}
		stblChildren, err := childBoxes(ra, stbl.offset+8, stbl.offset+stbl.size)
		if err != nil {
			continue
		}

		syncSamples, err := readSTSS(ra, stblChildren)
		if err != nil || len(syncSamples) == 0 {
			continue
		}
		chunkOffsets, err := readChunkOffsets(ra, stblChildren)
		if err != nil {
			continue
		}
		samplesPerChunk, err := readSTSC(ra, stblChildren)
		if err != nil {
			continue
		}

		for _, sampleNum := range syncSamples {
			off, ok := resolveSampleOffset(sampleNum, chunkOffsets, samplesPerChunk)
			if ok {
				offsets = append(offsets, off)
			}
		}
	}

	return offsets, nil
}

func childBoxes(ra io.ReaderAt, start, end int64) ([]box, error) {
	var boxes []box
	offset := start
	hdr := make([]byte, 8)
	for offset < end {
		n, err := ra.ReadAt(hdr, offset)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if n < 8 {
			break
		}
		boxSize := int64(binary.BigEndian.Uint32(hdr[0:4]))
		typ := string(hdr[4:8])
		if boxSize < 8 || offset+boxSize > end {
			return nil, fmt.Errorf("%w: child box %q invalid size", ErrMalformedContainer, typ)
		}
		boxes = append(boxes, box{typ: typ, offset: offset, size: boxSize})
		offset += boxSize
	}
	return boxes, nil
}

func filterType(boxes []box, typ string) []box {
	var out []box
	for _, b := range boxes {
		if b.typ == typ {
			out = append(out, b)
		}
	}
	return out
}

func findDescendant(ra io.ReaderAt, root box, path []string) (box, error) {
	cur := root
	for _, want := range path {
		children, err := childBoxes(ra, cur.offset+8, cur.offset+cur.size)
		if err != nil {
			return box{}, err
		}
		found := false
		for _, c := range children {
			if c.typ == want {
				cur = c
				found = true
				break
			}
		}
		if !found {
			return box{}, fmt.Errorf("%w: missing %q", ErrMalformedContainer, want)
		}
	}
	return cur, nil
}

func fullBoxPayload(ra io.ReaderAt, b box) ([]byte, error) {
	payload := make([]byte, b.size-8)
	if _, err := ra.ReadAt(payload, b.offset+8); err != nil && err != io.EOF {
		return nil, err
	}
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: box %q too short", ErrMalformedContainer, b.typ)
	}
	return payload, nil // version(1) + flags(3) + entryCount(4) ...
}

func readSTSS(ra io.ReaderAt, siblings []box) ([]uint32, error) {
	b, ok := find(siblings, "stss")
	if !ok {
		return nil, nil // no stss: every sample is a sync sample (e.g. all-intra)
	}
	p, err := fullBoxPayload(ra, b)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(p[4:8])
	out := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		pos := 8 + i*4
		if int(pos+4) > len(p) {
			break
		}
		out = append(out, binary.BigEndian.Uint32(p[pos:pos+4]))
	}
	return out, nil
}

func readChunkOffsets(ra io.ReaderAt, siblings []box) ([]int64, error) {
	if b, ok := find(siblings, "co64"); ok {
		p, err := fullBoxPayload(ra, b)
		if err != nil {
			return nil, err
		}
		count := binary.BigEndian.Uint32(p[4:8])
		out := make([]int64, 0, count)
		for i := uint32(0); i < count; i++ {
			pos := 8 + i*8
			if int(pos+8) > len(p) {
				break
			}
			out = append(out, int64(binary.BigEndian.Uint64(p[pos:pos+8])))
		}
		return out, nil
	}
	b, ok := find(siblings, "stco")
	if !ok {
		return nil, fmt.Errorf("%w: missing stco/co64", ErrMalformedContainer)
	}
	p, err := fullBoxPayload(ra, b)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(p[4:8])
	out := make([]int64, 0, count)
	for i := uint32(0); i < count; i++ {
		pos := 8 + i*4
		if int(pos+4) > len(p) {
			break
		}
		out = append(out, int64(binary.BigEndian.Uint32(p[pos:pos+4])))
	}
	return out, nil
}

// sampleToChunk is one stsc entry: from firstChunk onward, samplesPerChunk
// samples are packed per chunk.
type sampleToChunk struct {
	firstChunk, samplesPerChunk uint32
}

func readSTSC(ra io.ReaderAt, siblings []box) ([]sampleToChunk, error) {
	b, ok := find(siblings, "stsc")
	if !ok {
		return nil, fmt.Errorf("%w: missing stsc", ErrMalformedContainer)
	}
	p, err := fullBoxPayload(ra, b)
	if err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(p[4:8])
	out := make([]sampleToChunk, 0, count)
	for i := uint32(0); i < count; i++ {
		pos := 8 + i*12
		if int(pos+12) > len(p) {
			break
		}
		out = append(out, sampleToChunk{
			firstChunk:     binary.BigEndian.Uint32(p[pos : pos+4]),
			samplesPerChunk: binary.BigEndian.Uint32(p[pos+4 : pos+8]),
		})
	}
	return out, nil
}

// resolveSampleOffset maps a 1-based sample number to the absolute file
// offset of the chunk it starts in. This approximates the sample's own byte
// offset by its containing chunk's start, which is sufficient for a forced
// cut point: it still separates "this key frame and after" from "before it"
// at chunk granularity, the coarsest the sample table commits to without
// also consuming stsz (per-sample sizes), which Loom does not need for
// anything else.
func resolveSampleOffset(sampleNum uint32, chunkOffsets []int64, s2c []sampleToChunk) (int64, bool) {
	if len(chunkOffsets) == 0 || len(s2c) == 0 {
		return 0, false
	}
	chunkIndex, sampleBase := uint32(1), uint32(1)
	for i, entry := range s2c {
		nextFirst := uint32(len(chunkOffsets)) + 1
		if i+1 < len(s2c) {
			nextFirst = s2c[i+1].firstChunk
		}
		chunksInRun := nextFirst - entry.firstChunk
		samplesInRun := chunksInRun * entry.samplesPerChunk
		if sampleNum < sampleBase+samplesInRun {
			offsetWithinRun := sampleNum - sampleBase
			chunkIndex = entry.firstChunk + offsetWithinRun/entry.samplesPerChunk
			if int(chunkIndex-1) < len(chunkOffsets) {
				return chunkOffsets[chunkIndex-1], true
			}
			return 0, false
		}
		sampleBase += samplesInRun
	}
	return 0, false
}

func find(boxes []box, typ string) (box, bool) {
	for _, b := range boxes {
		if b.typ == typ {
			return b, true
		}
	}
	return box{}, false
}

func dedupeSorted(xs []int64) []int64 {
	if len(xs) == 0 {
		return xs
	}
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
