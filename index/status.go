package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/ingest"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/objkind"
	"github.com/loomvcs/loom/objtree"
)

// FlattenTree resolves a (possibly nested) Tree object into a flat
// path -> manifest digest map, used by Status to compare HEAD's committed
// state against the index without materializing every intermediate Tree
// object the caller has to re-fetch by hand.
func FlattenTree(ctx context.Context, store *cas.Store, root digest.Digest) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest)
	var walk func(d digest.Digest, prefix string) error
	walk = func(d digest.Digest, prefix string) error {
		kind, payload, err := store.Get(ctx, d)
		if err != nil {
			return err
		}
		if kind != objkind.Tree {
			return fmt.Errorf("index: %s is a %s, not a tree", d, kind)
		}
		t, err := objtree.Decode(payload)
		if err != nil {
			return err
		}
		for _, e := range t.Entries {
			name := prefix + e.Name
			switch e.Kind {
			case objtree.EntryFile:
				out[name] = e.Digest
			case objtree.EntryTree:
				if err := walk(e.Digest, name+"/"); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// PathStatus is one row of a status report (spec §4.4: "classify every path
// under the working tree relative to the index and to HEAD").
type PathStatus struct {
	Path  string
	Stage Stage
}

// Status performs the three-way working-tree/index/HEAD-tree comparison of
// spec §4.4. headTreeDigest may be the zero digest for a repository with no
// commits yet (every staged path is then `added`).
func Status(ctx context.Context, store *cas.Store, idx *Index, root string, headTreeDigest digest.Digest) ([]PathStatus, error) {
	var headFiles map[string]digest.Digest
	if !headTreeDigest.IsZero() {
		var err error
		headFiles, err = FlattenTree(ctx, store, headTreeDigest)
		if err != nil {
			return nil, fmt.Errorf("index: flatten HEAD tree: %w", err)
		}
	}

	entries := idx.Entries()
	seen := make(map[string]bool, len(entries))
	var out []PathStatus

	for _, e := range entries {
		seen[e.Path] = true
		if e.Stage == StageDeleted {
			out = append(out, PathStatus{Path: e.Path, Stage: StageDeleted})
			continue
		}

		full := filepath.Join(root, filepath.FromSlash(e.Path))
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				out = append(out, PathStatus{Path: e.Path, Stage: StageDeleted})
				continue
			}
			return nil, fmt.Errorf("index: stat %s: %w", e.Path, err)
		}

		// mtime/size are an optimization only, to skip the rehash when
		// nothing about the file changed since it was staged; a mismatch
		// requires recomputing the working file's manifest digest before
		// reporting `modified` (spec §4.4: "never a substitute for the
		// digest check").
		currentDigest := e.ManifestDigest
		if info.Size() != int64(e.Size) || !info.ModTime().Equal(e.MTime) {
			res, err := ingest.File(ctx, store, full, e.Path, e.Mode, ingest.Options{})
			if err != nil {
				return nil, fmt.Errorf("index: rehash %s: %w", e.Path, err)
			}
			currentDigest = res.ManifestDigest
		}

		committed, inHead := headFiles[e.Path]

		switch {
		case !inHead:
			out = append(out, PathStatus{Path: e.Path, Stage: StageAdded})
		case currentDigest != committed:
			out = append(out, PathStatus{Path: e.Path, Stage: StageModified})
		default:
			out = append(out, PathStatus{Path: e.Path, Stage: StageUnmodified})
		}
	}

	for path := range headFiles {
		if !seen[path] {
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(path))); os.IsNotExist(err) {
				out = append(out, PathStatus{Path: path, Stage: StageDeleted})
			}
		}
	}

	return out, nil
}

// ManifestAt loads and decodes the manifest digest recorded for path, used
// by Restore to stream chunks back into the working tree.
func ManifestAt(ctx context.Context, store *cas.Store, d digest.Digest) (manifest.Manifest, error) {
	kind, payload, err := store.Get(ctx, d)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if kind != objkind.Manifest {
		return manifest.Manifest{}, fmt.Errorf("index: %s is a %s, not a manifest", d, kind)
	}
	return manifest.Decode(payload)
}
