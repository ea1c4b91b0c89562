// Package ingest implements the concurrent ingestion pipeline of spec §4.4:
// classify a file's content type, select a chunker variant, stream it
// through the chunker while a bounded worker pool digests/compresses/writes
// each chunk to the CAS, then assemble and publish the file manifest.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/chunker"
	"github.com/loomvcs/loom/contenttype"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/internal/dcontext"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/objkind"
)

// sampleSize bounds how much of a file is read for content-type sniffing,
// mirroring net/http.DetectContentType's 512-byte sample but padded out to
// cover the ISOBMFF ftyp box check in contenttype.Classify.
const sampleSize = 4096

// Options configures one file's ingestion.
type Options struct {
	// Params configures the chunker. The zero value selects
	// chunker.DefaultParams().
	Params         chunker.Params
	ContainerAware bool
	// Concurrency bounds the number of chunk digest/compress/put workers
	// per file (spec §4.4: "K chunks per file in parallel for the CAS
	// writes"). Zero selects a value derived from GOMAXPROCS.
	Concurrency int
}

// Result is the outcome of ingesting one file.
type Result struct {
	Manifest       manifest.Manifest
	ManifestDigest digest.Digest
	// NewChunks counts chunk objects this ingestion actually wrote (i.e.
	// CAS.has was false); used by the dedup property test (spec §8.4).
	NewChunks int
}

type workItem struct {
	index  int
	offset int64
	length int
	data   []byte
}

type workResult struct {
	index    int
	offset   int64
	length   int
	digest   digest.Digest
	isNew    bool
}

// File ingests the file at fsPath, staging it under repoPath (the manifest's
// recorded relative path), and publishes its manifest into store.
func File(ctx context.Context, store *cas.Store, fsPath, repoPath string, mode manifest.Mode, opts Options) (Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
		if opts.Concurrency < 2 {
			opts.Concurrency = 2
		}
	}
	if opts.Params == (chunker.Params{}) {
		opts.Params = chunker.DefaultParams()
	}

	f, err := os.Open(fsPath)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: open %s: %w", fsPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("ingest: stat %s: %w", fsPath, err)
	}

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, fmt.Errorf("ingest: sample %s: %w", fsPath, err)
	}
	sample = sample[:n]
	tag := contenttype.Classify(sample, fsPath)

	variant, forceAt, err := chunker.Select(tag, opts.ContainerAware, f, info.Size())
	if err != nil {
		return Result{}, fmt.Errorf("ingest: select chunker variant: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("ingest: rewind %s: %w", fsPath, err)
	}

	c, err := chunker.New(f, opts.Params, forceAt)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: init chunker: %w", err)
	}

	work := make(chan workItem, opts.Concurrency*2)
	results := make(chan workResult, opts.Concurrency*2)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Concurrency; i++ {
		g.Go(func() error {
			for item := range work {
				want := digest.FromBytes(byte(objkind.Chunk), item.data)
				isNew := !store.Has(gctx, want)
				got, err := store.Put(gctx, objkind.Chunk, item.data)
				if err != nil {
					return fmt.Errorf("ingest: put chunk at offset %d: %w", item.offset, err)
				}
				select {
				case results <- workResult{index: item.index, offset: item.offset, length: item.length, digest: got, isNew: isNew}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// Producer: the chunker itself is single-threaded per spec §4.4 ("the
	// rolling fingerprint is sequential"); only the downstream digest/put
	// work fans out across the worker pool above.
	g.Go(func() error {
		defer close(work)
		idx := 0
		for {
			cut, err := c.Next()
			if err != nil {
				if err == chunker.ErrStop {
					return nil
				}
				return fmt.Errorf("ingest: chunk %s: %w", fsPath, err)
			}
			data := append([]byte(nil), cut.Data...)
			item := workItem{index: idx, offset: cut.Offset, length: len(data), data: data}
			idx++
			select {
			case work <- item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	collected := make([]workResult, 0, 64)
	done := make(chan struct{})
	go func() {
		for r := range results {
			collected = append(collected, r)
		}
		close(done)
	}()

	if err := g.Wait(); err != nil {
		close(results)
		<-done
		return Result{}, err
	}
	close(results)
	<-done

	// Manifest assembly sorts by offset before publication regardless of
	// worker completion order (spec §4.4).
	sort.Slice(collected, func(i, j int) bool { return collected[i].offset < collected[j].offset })

	chunks := make([]manifest.ChunkRef, len(collected))
	var newChunks int
	var size uint64
	for i, r := range collected {
		chunks[i] = manifest.ChunkRef{Digest: r.digest, Offset: uint64(r.offset), Length: uint64(r.length)}
		size += uint64(r.length)
		if r.isNew {
			newChunks++
		}
	}

	m := manifest.Manifest{
		Path:        repoPath,
		Mode:        mode,
		Size:        size,
		ContentType: contentTypeTag(tag, variant),
		Chunks:      chunks,
	}

	d, err := manifest.Publish(ctx, store, m)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: publish manifest for %s: %w", repoPath, err)
	}

	dcontext.GetLogger(ctx).Debugf("ingest: %s -> manifest %s (%d chunks, %d new)", repoPath, d, len(chunks), newChunks)
	return Result{Manifest: m, ManifestDigest: d, NewChunks: newChunks}, nil
}

// contentTypeTag composes the sniffed MIME tag with the chunker variant
// actually used, so a reader can tell whether container-aware forced cuts
// participated in this file's chunk identity (spec §4.3's fallback note).
func contentTypeTag(tag contenttype.Tag, variant chunker.Variant) string {
	return fmt.Sprintf("%s;chunker=%s", tag, variant)
}
