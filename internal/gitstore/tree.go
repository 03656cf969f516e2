package gitstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/breezy-team/breezy-debian/internal/deb"
)

const filemodeExecutable = filemode.Executable

// dirNode is an intermediate hierarchy used while writing nested trees.
type dirNode struct {
	files map[string]deb.File
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]deb.File{}, dirs: map[string]*dirNode{}}
}

func (d *dirNode) insert(path string, f deb.File) error {
	name, rest, nested := strings.Cut(path, "/")
	if name == "" {
		return fmt.Errorf("invalid empty path component in %q", path)
	}
	if !nested {
		d.files[name] = f
		return nil
	}
	child, ok := d.dirs[name]
	if !ok {
		child = newDirNode()
		d.dirs[name] = child
	}
	return child.insert(rest, f)
}

// CreateTree writes the content as a (possibly nested) tree object and
// returns the root tree hash. Entry order follows git's tree ordering rule:
// byte order with directory names compared as if they ended in "/".
func (s *Store) CreateTree(content deb.TreeContent) (plumbing.Hash, error) {
	root := newDirNode()
	for path, f := range content {
		if err := root.insert(path, f); err != nil {
			return plumbing.ZeroHash, err
		}
	}
	return s.writeDir(root)
}

func (s *Store) writeDir(d *dirNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(d.files)+len(d.dirs))
	for name, f := range d.files {
		blob, err := s.CreateBlob(f.Data)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		mode := filemode.Regular
		if f.Executable {
			mode = filemode.Executable
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: mode, Hash: blob})
	}
	for name, child := range d.dirs {
		sub, err := s.writeDir(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: sub})
	}
	sort.Slice(entries, func(i, j int) bool {
		return treeEntryKey(entries[i]) < treeEntryKey(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

func treeEntryKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
