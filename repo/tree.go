package repo

import (
	"context"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/objtree"
)

// buildTreeFromFlat re-nests a flat path -> manifest-digest map into Tree
// objects and publishes the whole subtree, the inverse of index.FlattenTree.
// Used by merge to materialize the three-way-merged working state without
// re-deriving mode/size from the filesystem (the merge only ever moves
// existing manifest digests between sides, never invents new ones).
func buildTreeFromFlat(ctx context.Context, store *cas.Store, flat map[string]digest.Digest) (digest.Digest, error) {
	type dirNode struct {
		files map[string]digest.Digest
		dirs  map[string]*dirNode
	}
	newDir := func() *dirNode { return &dirNode{files: map[string]digest.Digest{}, dirs: map[string]*dirNode{}} }
	root := newDir()

	for path, d := range flat {
		parts := splitSlashPath(path)
		cur := root
		for i, part := range parts {
			if i == len(parts)-1 {
				cur.files[part] = d
				continue
			}
			next, ok := cur.dirs[part]
			if !ok {
				next = newDir()
				cur.dirs[part] = next
			}
			cur = next
		}
	}

	var publish func(n *dirNode) (digest.Digest, error)
	publish = func(n *dirNode) (digest.Digest, error) {
		var entries []objtree.Entry
		for name, d := range n.files {
			entries = append(entries, objtree.Entry{Name: name, Kind: objtree.EntryFile, Digest: d})
		}
		for name, child := range n.dirs {
			d, err := publish(child)
			if err != nil {
				return digest.Digest{}, err
			}
			entries = append(entries, objtree.Entry{Name: name, Kind: objtree.EntryTree, Digest: d})
		}
		return objtree.Publish(ctx, store, objtree.New(entries))
	}
	return publish(root)
}

func splitSlashPath(p string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
