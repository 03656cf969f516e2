package tarball

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Store is a directory cache of orig tarballs keyed by package and upstream
// version. A tarball placed in the store once serves every later run.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created lazily on
// the first Add.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// Name returns the conventional orig tarball filename.
func Name(pkg, upstreamVersion string) string {
	return fmt.Sprintf("%s_%s.orig.tar.gz", pkg, upstreamVersion)
}

// Path returns where the tarball for a package version lives in the store.
func (s *Store) Path(pkg, upstreamVersion string) string {
	return filepath.Join(s.dir, Name(pkg, upstreamVersion))
}

// Contains reports whether the store already holds the tarball.
func (s *Store) Contains(pkg, upstreamVersion string) bool {
	_, err := os.Stat(s.Path(pkg, upstreamVersion))
	return err == nil
}

// Add copies tarball content into the store and returns its path.
func (s *Store) Add(pkg, upstreamVersion string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create tarball store: %w", err)
	}
	path := s.Path(pkg, upstreamVersion)
	tmp, err := os.CreateTemp(s.dir, ".debimport-*")
	if err != nil {
		return "", fmt.Errorf("stage tarball: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy tarball: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close tarball: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store tarball: %w", err)
	}
	slog.Debug("Cached orig tarball", "package", pkg, "upstream", upstreamVersion, "path", path)
	return path, nil
}

// Open opens a stored tarball for reading.
func (s *Store) Open(pkg, upstreamVersion string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(pkg, upstreamVersion))
	if err != nil {
		return nil, fmt.Errorf("open stored tarball: %w", err)
	}
	return f, nil
}
