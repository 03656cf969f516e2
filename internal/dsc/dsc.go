// Package dsc decodes Debian source control (.dsc) bundles into the artifact
// records consumed by the history engine.
package dsc

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pault.ag/go/debian/control"

	"github.com/breezy-team/breezy-debian/internal/deb"
	"github.com/breezy-team/breezy-debian/internal/tarball"
)

// UnsupportedFormatError reports a source format this importer does not
// handle (anything other than full-source format 1.0).
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported source format %q", e.Format)
}

// DecodeFile decodes a .dsc file and its companion files from the same
// directory into an artifact.
func DecodeFile(path string) (*deb.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dsc: %w", err)
	}
	defer f.Close()
	return Decode(f, filepath.Dir(path))
}

// Decode decodes a .dsc control paragraph, loading the referenced files
// relative to dir.
func Decode(r io.Reader, dir string) (*deb.Artifact, error) {
	pr, err := control.NewParagraphReader(bufio.NewReader(r), nil)
	if err != nil {
		return nil, fmt.Errorf("parse dsc: %w", err)
	}
	para, err := pr.Next()
	if err == io.EOF || (err == nil && para == nil) {
		return nil, fmt.Errorf("parse dsc: empty control file")
	}
	if err != nil {
		return nil, fmt.Errorf("parse dsc: %w", err)
	}

	if format := strings.TrimSpace(para.Values["Format"]); format != "" && format != "1.0" {
		return nil, &UnsupportedFormatError{Format: format}
	}

	ver, err := deb.ParseVersion(strings.TrimSpace(para.Values["Version"]))
	if err != nil {
		return nil, err
	}
	if ver.IsNative() {
		return nil, &UnsupportedFormatError{Format: "native"}
	}

	artifact := &deb.Artifact{
		Source:  strings.TrimSpace(para.Values["Source"]),
		Version: ver,
	}

	for _, name := range listedFiles(para.Values["Files"]) {
		switch {
		case strings.Contains(name, ".orig.tar"):
			if !strings.HasSuffix(name, ".orig.tar") && !strings.HasSuffix(name, ".orig.tar.gz") {
				return nil, &UnsupportedFormatError{
					Format: strings.TrimPrefix(filepath.Ext(name), ".") + " compressed orig tarball",
				}
			}
			orig, err := loadOrig(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			artifact.Orig = orig
		case strings.HasSuffix(name, ".diff.gz") || strings.HasSuffix(name, ".diff"):
			delta, err := loadDelta(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			artifact.Delta = delta
		case strings.Contains(name, ".debian.tar."):
			return nil, &UnsupportedFormatError{Format: "3.0 (quilt)"}
		}
	}

	if artifact.Orig == nil && len(artifact.Delta) == 0 {
		return nil, fmt.Errorf("dsc for %s lists neither orig tarball nor diff", ver)
	}
	return artifact, nil
}

// listedFiles extracts filenames from a Files field, whose lines have the
// form "<checksum> <size> <name>".
func listedFiles(field string) []string {
	var names []string
	for _, line := range strings.Split(field, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 {
			names = append(names, fields[2])
		}
	}
	return names
}

func loadOrig(path string) (deb.TreeContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open orig tarball: %w", err)
	}
	defer f.Close()
	return tarball.Extract(f)
}

func loadDelta(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open diff: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompress diff: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read diff: %w", err)
	}
	return data, nil
}
