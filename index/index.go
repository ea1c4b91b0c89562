// Package index implements the mutable staging surface of spec §3/§4.4: a
// mapping from working-tree path to its staged manifest, bridging the
// working tree and HEAD's committed tree.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loomvcs/loom/cas"
	"github.com/loomvcs/loom/chunker"
	"github.com/loomvcs/loom/digest"
	"github.com/loomvcs/loom/ingest"
	"github.com/loomvcs/loom/manifest"
	"github.com/loomvcs/loom/objtree"
)

// Stage names a path's state relative to HEAD's tree (spec §3).
type Stage string

const (
	StageUnmodified Stage = "unmodified"
	StageAdded      Stage = "added"
	StageModified   Stage = "modified"
	StageDeleted    Stage = "deleted"
	StageConflicted Stage = "conflicted"
)

// Entry is one staged path's record (spec §3).
type Entry struct {
	Path           string    `json:"path"`
	Mode           manifest.Mode `json:"mode"`
	Size           uint64    `json:"size"`
	MTime          time.Time `json:"mtime"`
	ManifestDigest digest.Digest `json:"manifest_digest"`
	Stage          Stage     `json:"stage"`
}

// onDiskIndex is the serialized form written to `<repo>/.loom/index` (spec
// §6: "format-versioned, with a trailing digest for integrity").
type onDiskIndex struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

const formatVersion = 1

// Index is the single-writer staging surface of spec §5 ("only one process
// may hold the index write lock at a time"). Callers needing a snapshot for
// status should call Entries() under no external lock; Index guards its own
// state with an internal mutex.
type Index struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// Open loads the index file at path (typically `<repo>/.loom/index`),
// starting empty if it does not yet exist.
func Open(path string) (*Index, error) {
	idx := &Index{path: path, entries: make(map[string]Entry)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("index: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return idx, nil
	}
	payloadLen := len(raw) - digest.Size
	if payloadLen < 0 {
		return nil, fmt.Errorf("index: truncated file %s", path)
	}
	payload := raw[:payloadLen]
	var want digest.Digest
	copy(want[:], raw[payloadLen:])
	if digest.FromBytes(0, payload) != want {
		return nil, fmt.Errorf("index: integrity check failed for %s", path)
	}
	var on onDiskIndex
	if err := json.Unmarshal(payload, &on); err != nil {
		return nil, fmt.Errorf("index: parse %s: %w", path, err)
	}
	for _, e := range on.Entries {
		idx.entries[e.Path] = e
	}
	return idx, nil
}

// save persists the index atomically with its trailing integrity digest.
func (idx *Index) save() error {
	entries := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	payload, err := json.Marshal(onDiskIndex{Version: formatVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("index: marshal: %w", err)
	}
	sum := digest.FromBytes(0, payload)
	full := append(payload, sum[:]...)

	tmp := idx.path + fmt.Sprintf(".tmp-%d", os.Getpid())
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, full, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.path)
}

// Add ingests each path under root (recursing into directories) and stages
// the resulting manifest (spec §4.4's `add` operation).
func (idx *Index) Add(ctx context.Context, store *cas.Store, root string, paths []string, opts ingest.Options) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var files []string
	for _, p := range paths {
		full := filepath.Join(root, p)
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("index: stat %s: %w", p, err)
		}
		if info.IsDir() {
			err := filepath.Walk(full, func(walked string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if fi.IsDir() {
					return nil
				}
				rel, err := filepath.Rel(root, walked)
				if err != nil {
					return err
				}
				files = append(files, filepath.ToSlash(rel))
				return nil
			})
			if err != nil {
				return fmt.Errorf("index: walk %s: %w", p, err)
			}
		} else {
			files = append(files, filepath.ToSlash(p))
		}
	}

	for _, rel := range files {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			return fmt.Errorf("index: stat %s: %w", rel, err)
		}
		mode := modeFor(info)

		if opts.Params == (chunker.Params{}) {
			opts.Params = chunker.DefaultParams()
		}
		res, err := ingest.File(ctx, store, full, rel, mode, opts)
		if err != nil {
			// spec §4.4 failure semantics: report and abort just this path.
			return fmt.Errorf("index: add %s: %w", rel, err)
		}

		stage := StageAdded
		if _, existed := idx.entries[rel]; existed {
			stage = StageModified
		}
		idx.entries[rel] = Entry{
			Path:           rel,
			Mode:           mode,
			Size:           res.Manifest.Size,
			MTime:          info.ModTime(),
			ManifestDigest: res.ManifestDigest,
			Stage:          stage,
		}
	}
	return idx.save()
}

func modeFor(info os.FileInfo) manifest.Mode {
	if info.Mode()&os.ModeSymlink != 0 {
		return manifest.ModeSymlink
	}
	if info.Mode()&0o111 != 0 {
		return manifest.ModeExecutable
	}
	return manifest.ModeRegular
}

// Remove stages deletion of paths (spec §4.4's `remove` operation).
func (idx *Index) Remove(paths []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, p := range paths {
		rel := filepath.ToSlash(p)
		if e, ok := idx.entries[rel]; ok {
			e.Stage = StageDeleted
			idx.entries[rel] = e
		} else {
			idx.entries[rel] = Entry{Path: rel, Stage: StageDeleted}
		}
	}
	return idx.save()
}

// Get returns the staged entry for path, if any.
func (idx *Index) Get(path string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[path]
	return e, ok
}

// Set records or overwrites an entry directly (used by merge to record
// StageConflicted, and by reset to rebuild the index from a tree).
func (idx *Index) Set(e Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[e.Path] = e
	return idx.save()
}

// Entries returns a sorted snapshot of all staged entries.
func (idx *Index) Entries() []Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Reset replaces the index wholesale (used by `reset --mixed/--hard` to
// rebuild staging from a tree, spec §4.5).
func (idx *Index) Reset(entries []Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		idx.entries[e.Path] = e
	}
	return idx.save()
}

// BuildCommitTree materializes the staged state as a nested Tree object and
// publishes it (spec §4.4's `build_commit_tree` operation). Deleted entries
// are excluded from the resulting tree.
func BuildCommitTree(ctx context.Context, store *cas.Store, entries []Entry) (digest.Digest, error) {
	type dirNode struct {
		files map[string]manifest.Mode
		fileD map[string]digest.Digest
		dirs  map[string]*dirNode
	}
	newDir := func() *dirNode {
		return &dirNode{files: map[string]manifest.Mode{}, fileD: map[string]digest.Digest{}, dirs: map[string]*dirNode{}}
	}
	root := newDir()

	for _, e := range entries {
		if e.Stage == StageDeleted {
			continue
		}
		parts := splitPath(e.Path)
		cur := root
		for i, part := range parts {
			last := i == len(parts)-1
			if last {
				cur.files[part] = e.Mode
				cur.fileD[part] = e.ManifestDigest
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
		for name, d := range n.fileD {
			entries = append(entries, objtree.Entry{Name: name, Kind: objtree.EntryFile, Digest: d})
		}
		for name, child := range n.dirs {
			d, err := publish(child)
			if err != nil {
				return digest.Digest{}, err
			}
			entries = append(entries, objtree.Entry{Name: name, Kind: objtree.EntryTree, Digest: d})
		}
		t := objtree.New(entries)
		return objtree.Publish(ctx, store, t)
	}
	return publish(root)
}

// splitPath breaks a slash-separated repo path into its components; repo
// paths are always POSIX-normalized regardless of host OS (spec §3).
func splitPath(p string) []string {
	var parts []string
	start := 0
	clean := filepath.ToSlash(p)
	for i := 0; i <= len(clean); i++ {
		if i == len(clean) || clean[i] == '/' {
			if i > start {
				parts = append(parts, clean[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
