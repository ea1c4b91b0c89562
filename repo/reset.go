package repo

import (
	"context"
	"fmt"

	"github.com/loomvcs/loom/commitgraph"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/index"
)

// ResetMode selects how much of the working state reset touches (spec §4.5).
type ResetMode string

const (
	ResetSoft  ResetMode = "soft"
	ResetMixed ResetMode = "mixed"
	ResetHard  ResetMode = "hard"
)

// Reset moves the current branch ref to target and, depending on mode,
// rebuilds the index and/or the working tree to match (spec §4.5).
func (r *Repository) Reset(ctx context.Context, target digest.Digest, mode ResetMode) error {
	head, err := r.Refs.GetHead()
	if err != nil {
		return err
	}
	if head.Branch == "" {
		if err := r.Refs.SetHeadDetached(target); err != nil {
			return err
		}
	} else if err := r.Refs.Update(head.Branch, head.Commit, target, true); err != nil {
		return err
	}

	if mode == ResetSoft {
		return nil
	}

	c, err := commitgraph.Get(ctx, r.Store, target)
	if err != nil {
		return fmt.Errorf("repo: reset: load target commit: %w", err)
	}
	flat, err := index.FlattenTree(ctx, r.Store, c.Tree)
	if err != nil {
		return fmt.Errorf("repo: reset: flatten target tree: %w", err)
	}

	entries := make([]index.Entry, 0, len(flat))
	for path, manifestDigest := range flat {
		m, err := index.ManifestAt(ctx, r.Store, manifestDigest)
		if err != nil {
			return fmt.Errorf("repo: reset: load manifest for %s: %w", path, err)
		}
		entries = append(entries, index.Entry{
			Path:           path,
			Mode:           m.Mode,
			Size:           m.Size,
			ManifestDigest: manifestDigest,
			Stage:          index.StageUnmodified,
		})
	}
	if err := r.Index.Reset(entries); err != nil {
		return fmt.Errorf("repo: reset: rebuild index: %w", err)
	}

	if mode == ResetMixed {
		return nil
	}

	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	if err := index.Restore(ctx, r.Store, r.Root, flat, paths); err != nil {
		return fmt.Errorf("repo: reset: rewrite working tree: %w", err)
	}
	return nil
}

// Restore rewrites working-tree files at paths from source (path -> manifest
// digest), defaulting to the index's current entries when source is nil
// (spec §4.5: "default: the index").
func (r *Repository) Restore(ctx context.Context, paths []string, source map[string]digest.Digest) error {
	if source == nil {
		source = make(map[string]digest.Digest)
		for _, e := range r.Index.Entries() {
			source[e.Path] = e.ManifestDigest
		}
	}
	return index.Restore(ctx, r.Store, r.Root, source, paths)
}
