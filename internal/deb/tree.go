package deb

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// File is one regular file inside a source tree.
type File struct {
	Data       []byte
	Executable bool
}

// TreeContent is the decoded content of a source tree, keyed by slash-separated
// path relative to the tree root. Directories are implicit.
type TreeContent map[string]File

// Clone returns a deep copy. Mutating the copy never affects the original.
func (t TreeContent) Clone() TreeContent {
	c := make(TreeContent, len(t))
	for path, f := range t {
		data := make([]byte, len(f.Data))
		copy(data, f.Data)
		c[path] = File{Data: data, Executable: f.Executable}
	}
	return c
}

// Paths returns all file paths in sorted order.
func (t TreeContent) Paths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Digest returns a stable content digest over paths, modes and data. Two trees
// with equal digests hold identical content.
func (t TreeContent) Digest() string {
	h := sha256.New()
	for _, path := range t.Paths() {
		f := t[path]
		h.Write([]byte(path))
		h.Write([]byte{0})
		if f.Executable {
			h.Write([]byte{'x'})
		}
		h.Write([]byte{0})
		h.Write(f.Data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
