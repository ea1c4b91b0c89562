package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/objkind"
)

// Restore rewrites each path under root from the manifest recorded in
// source (path -> manifest digest), streaming chunks from store rather than
// buffering a whole file in memory (spec §4.5: "streams chunks from the CAS
// to reconstruct each file"). Each file is written via write-to-temp-then-
// rename so a crash mid-restore never leaves a partially written file
// (spec §4.5 failure semantics).
func Restore(ctx context.Context, store *cas.Store, root string, source map[string]digest.Digest, paths []string) error {
	for _, p := range paths {
		d, ok := source[p]
		if !ok {
			return fmt.Errorf("index: restore: %s has no entry in source", p)
		}
		if err := restoreOne(ctx, store, root, p, d); err != nil {
			return fmt.Errorf("index: restore %s: %w", p, err)
		}
	}
	return nil
}

func restoreOne(ctx context.Context, store *cas.Store, root, relPath string, manifestDigest digest.Digest) error {
	m, err := ManifestAt(ctx, store, manifestDigest)
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}

	tmp := full + fmt.Sprintf(".tmp-%d", os.Getpid())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, modeBits(m.Mode))
	if err != nil {
		return err
	}

	for _, ref := range m.Chunks {
		kind, payload, err := store.Get(ctx, ref.Digest)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("read chunk %s: %w", ref.Digest, err)
		}
		if kind != objkind.Chunk {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("%s is a %s, not a chunk", ref.Digest, kind)
		}
		if _, err := io.Copy(f, bytes.NewReader(payload)); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, full)
}

func modeBits(m manifest.Mode) os.FileMode {
	if m == manifest.ModeExecutable {
		return 0o755
	}
	return 0o644
}
