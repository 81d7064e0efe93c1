// Package tree indexes a directory subtree once and serves directory listings from it.
//
// Ids are assigned in depth-first pre-order starting at 0 for the root. The
// snapshot never changes after Build: entries created later have no id and
// entries removed later fail when they are read.
package tree

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/trim21/errgo"

	"udpfs/internal/pkg/as"
)

// MaxDepth bounds how deep Build descends below the root.
const MaxDepth = 64

type Tree struct {
	index map[string]uint32
	log   zerolog.Logger
	paths []string
}

// Build walks root and returns its snapshot. root is made absolute and
// symlinks in it are resolved; it must exist.
func Build(root string) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errgo.Wrap(err, fmt.Sprintf("failed to resolve %s", root))
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errgo.Wrap(err, fmt.Sprintf("failed to resolve %s", root))
	}

	t := &Tree{
		index: make(map[string]uint32),
		log:   log.With().Str("component", "tree").Logger(),
	}

	t.walk(canonical, 0, nil)

	t.log.Debug().Str("root", canonical).Int("entries", len(t.paths)).Msg("tree built")

	return t, nil
}

func (t *Tree) walk(path string, depth int, ancestors []os.FileInfo) {
	t.index[path] = as.Uint32(len(t.paths))
	t.paths = append(t.paths, path)

	// follows symlinks, a link to a directory is walked like the directory
	info, err := os.Stat(path)
	if err != nil {
		t.log.Warn().Err(err).Str("path", path).Msg("failed to stat entry")
		return
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			t.log.Warn().Str("path", path).Stringer("mode", info.Mode()).Msg("unrecognized file type")
		}
		return
	}

	if depth >= MaxDepth {
		t.log.Warn().Str("path", path).Msg("max depth reached, not descending")
		return
	}

	for _, a := range ancestors {
		if os.SameFile(a, info) {
			t.log.Warn().Str("path", path).Msg("directory loop, not descending")
			return
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		t.log.Warn().Err(err).Str("path", path).Msg("failed to read directory")
		return
	}

	ancestors = append(ancestors, info)
	for _, e := range entries {
		t.walk(filepath.Join(path, e.Name()), depth+1, ancestors)
	}
}

// Len is the number of indexed entries.
func (t *Tree) Len() int {
	return len(t.paths)
}

// Root is the canonical path of the served directory, id 0.
func (t *Tree) Root() string {
	return t.paths[0]
}

// Path returns the path of entry id.
func (t *Tree) Path(id uint32) (string, bool) {
	if uint64(id) >= uint64(len(t.paths)) {
		return "", false
	}

	return t.paths[id], true
}

// ID returns the id of path, which must be spelled as the tree spells it:
// the canonical root joined with entry names.
func (t *Tree) ID(path string) (uint32, bool) {
	id, ok := t.index[path]
	return id, ok
}

// Rel returns the path of entry id relative to the root, with forward slashes.
func (t *Tree) Rel(id uint32) (string, bool) {
	p, ok := t.Path(id)
	if !ok {
		return "", false
	}

	rel, err := filepath.Rel(t.Root(), p)
	if err != nil {
		return "", false
	}

	return filepath.ToSlash(rel), true
}
