// Package gitstore wraps a go-git repository as the append-only object store
// backing the import core: content-addressed blobs, trees and commits, plus
// lightweight tags and branch references. Objects are written eagerly and are
// harmless until a reference points at them, which is what makes per-artifact
// atomicity cheap: all ref updates happen after every object exists.
package gitstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/breezy-team/breezy-debian/internal/deb"
)

// Store provides object and reference access over a single repository.
type Store struct {
	repo *git.Repository
}

// New wraps an opened repository.
func New(repo *git.Repository) *Store { return &Store{repo: repo} }

// NewInMemory creates a store over a fresh in-memory bare repository.
func NewInMemory() (*Store, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("init in-memory repository: %w", err)
	}
	return &Store{repo: repo}, nil
}

// Repository exposes the underlying repository.
func (s *Store) Repository() *git.Repository { return s.repo }

// CreateBlob writes data as a blob object and returns its hash.
func (s *Store) CreateBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("blob writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob: %w", err)
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// CreateCommit writes a commit object with the given tree, parents and
// message. The signature (including its timestamp) is supplied by the caller
// so that replays produce byte-identical commits.
func (s *Store) CreateCommit(tree plumbing.Hash, parents []plumbing.Hash, message string, sig object.Signature) (plumbing.Hash, error) {
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// Commit reads a commit object.
func (s *Store) Commit(h plumbing.Hash) (*object.Commit, error) {
	commit, err := object.GetCommit(s.repo.Storer, h)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", h, err)
	}
	return commit, nil
}

// TreeHashOf returns the tree hash of a commit.
func (s *Store) TreeHashOf(h plumbing.Hash) (plumbing.Hash, error) {
	commit, err := s.Commit(h)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return commit.TreeHash, nil
}

// TreeContentOf decodes the full tree of a commit into file content.
func (s *Store) TreeContentOf(h plumbing.Hash) (deb.TreeContent, error) {
	commit, err := s.Commit(h)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", h, err)
	}
	content := deb.TreeContent{}
	err = tree.Files().ForEach(func(f *object.File) error {
		data, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		content[f.Name] = deb.File{
			Data:       []byte(data),
			Executable: f.Mode == filemodeExecutable,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Tag resolves a lightweight tag to its commit.
func (s *Store) Tag(name string) (plumbing.Hash, error) {
	ref, err := s.repo.Storer.Reference(plumbing.NewTagReferenceName(name))
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, &TagNotFoundError{Name: name}
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("read tag %q: %w", name, err)
	}
	return ref.Hash(), nil
}

// SetTag creates a lightweight tag. Existing tags are never rebound.
func (s *Store) SetTag(name string, h plumbing.Hash) error {
	refName := plumbing.NewTagReferenceName(name)
	if _, err := s.repo.Storer.Reference(refName); err == nil {
		return &TagExistsError{Name: name}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("check tag %q: %w", name, err)
	}
	return s.repo.Storer.SetReference(plumbing.NewHashReference(refName, h))
}

// Tags returns all tags as name → commit hash.
func (s *Store) Tags() (map[string]plumbing.Hash, error) {
	iter, err := s.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	tags := map[string]plumbing.Hash{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags[strings.TrimPrefix(ref.Name().String(), "refs/tags/")] = ref.Hash()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// Ref resolves a reference; ok is false when it does not exist.
func (s *Store) Ref(name plumbing.ReferenceName) (plumbing.Hash, bool, error) {
	ref, err := s.repo.Storer.Reference(name)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("read ref %s: %w", name, err)
	}
	return ref.Hash(), true, nil
}

// SetRef points a reference at a commit, creating it if needed.
func (s *Store) SetRef(name plumbing.ReferenceName, h plumbing.Hash) error {
	return s.repo.Storer.SetReference(plumbing.NewHashReference(name, h))
}
