// Package tagindex maintains the derived view mapping upstream versions to
// the commits that introduced them. The index is rebuildable at any time by
// scanning existing tags; it is the lookup and fallback protocol used to
// locate "the last imported version" when extending a branch incrementally.
package tagindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/gitstore"
)

// DefaultPrefix is the conventional upstream tag prefix.
const DefaultPrefix = "upstream-"

// NotFoundError reports that no tag binds the requested upstream version.
type NotFoundError struct {
	Upstream string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tag for upstream version %q", e.Upstream)
}

// DuplicateTagError reports an attempt to bind an upstream version twice.
// This signals corruption of prior history and is not recoverable.
type DuplicateTagError struct {
	Upstream string
}

func (e *DuplicateTagError) Error() string {
	return fmt.Sprintf("upstream version %q is already tagged", e.Upstream)
}

type entry struct {
	version deb.Version // upstream component only
	commit  plumbing.Hash
}

// Index is the in-memory view over upstream tags. Load rebuilds it from the
// store; Register writes through to the store.
type Index struct {
	store   *gitstore.Store
	prefix  string
	entries []entry // ascending by version
	byName  map[string]plumbing.Hash
}

// Load scans existing tags with the given prefix and builds the index. Tags
// whose suffix does not parse as a version are ignored: they are not part of
// the upstream tagging convention.
func Load(store *gitstore.Store, prefix string) (*Index, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	tags, err := store.Tags()
	if err != nil {
		return nil, err
	}
	ix := &Index{store: store, prefix: prefix, byName: map[string]plumbing.Hash{}}
	for name, hash := range tags {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		upstream := deb.ParseTagComponent(strings.TrimPrefix(name, prefix))
		v, err := deb.ParseVersion(upstream)
		if err != nil {
			continue
		}
		ix.entries = append(ix.entries, entry{version: v, commit: hash})
		ix.byName[upstream] = hash
	}
	sort.Slice(ix.entries, func(i, j int) bool {
		return ix.entries[i].version.Compare(ix.entries[j].version) < 0
	})
	return ix, nil
}

// Resolve returns the commit that introduced the given upstream version.
func (ix *Index) Resolve(upstream string) (plumbing.Hash, error) {
	if h, ok := ix.byName[upstream]; ok {
		return h, nil
	}
	return plumbing.ZeroHash, &NotFoundError{Upstream: upstream}
}

// LastImported returns the greatest tagged upstream version strictly less
// than before, with its commit. Used to pick the merge base when an upload
// ships no orig tarball and its exact upstream version is untagged.
func (ix *Index) LastImported(before deb.Version) (deb.Version, plumbing.Hash, error) {
	for i := len(ix.entries) - 1; i >= 0; i-- {
		if ix.entries[i].version.Compare(before) < 0 {
			return ix.entries[i].version, ix.entries[i].commit, nil
		}
	}
	return deb.Version{}, plumbing.ZeroHash, &NotFoundError{Upstream: before.String()}
}

// MaxVersion returns the greatest tagged upstream version; ok is false when
// no upstream version has been imported yet.
func (ix *Index) MaxVersion() (deb.Version, bool) {
	if len(ix.entries) == 0 {
		return deb.Version{}, false
	}
	return ix.entries[len(ix.entries)-1].version, true
}

// Register binds a new upstream version to the commit that introduced it,
// writing the tag through to the store. Called exactly once per new upstream
// import.
func (ix *Index) Register(upstream string, commit plumbing.Hash) error {
	if _, ok := ix.byName[upstream]; ok {
		return &DuplicateTagError{Upstream: upstream}
	}
	v, err := deb.ParseVersion(upstream)
	if err != nil {
		return fmt.Errorf("register upstream version: %w", err)
	}
	if err := ix.store.SetTag(ix.TagName(upstream), commit); err != nil {
		return err
	}
	ix.byName[upstream] = commit
	ix.entries = append(ix.entries, entry{version: v, commit: commit})
	sort.Slice(ix.entries, func(i, j int) bool {
		return ix.entries[i].version.Compare(ix.entries[j].version) < 0
	})
	return nil
}

// TagName returns the tag name for an upstream version under this index's
// prefix, with ref-invalid version characters mapped per DEP-14.
func (ix *Index) TagName(upstream string) string {
	return ix.prefix + deb.TagComponent(upstream)
}

// Entry is one upstream version binding.
type Entry struct {
	Upstream string
	Commit   plumbing.Hash
}

// Entries returns all bindings in ascending version order.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, Entry{Upstream: e.version.String(), Commit: e.commit})
	}
	return out
}
