// Package tarball decodes upstream orig tarballs into tree content and
// maintains a store-dir cache so a tarball fetched once is reused by later
// runs.
package tarball

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/breezy-team/breezy-debian/internal/deb"
)

// Extract decodes a (possibly gzip-compressed) tarball into tree content.
// The single top-level directory conventionally wrapping upstream releases is
// stripped; tarballs without one are taken as rooted directly.
func Extract(r io.Reader) (deb.TreeContent, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("read tarball: %w", err)
	}
	var tr *tar.Reader
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("decompress tarball: %w", err)
		}
		defer gz.Close()
		tr = tar.NewReader(gz)
	} else {
		tr = tar.NewReader(br)
	}

	raw := deb.TreeContent{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tarball entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read tarball entry %q: %w", hdr.Name, err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" {
			continue
		}
		raw[name] = deb.File{Data: data, Executable: hdr.FileInfo().Mode()&0o100 != 0}
	}
	return stripTopLevel(raw), nil
}

// stripTopLevel removes the shared leading directory when every entry has
// the same one.
func stripTopLevel(content deb.TreeContent) deb.TreeContent {
	top := ""
	for path := range content {
		name, _, nested := strings.Cut(path, "/")
		if !nested {
			return content
		}
		if top == "" {
			top = name
		} else if top != name {
			return content
		}
	}
	if top == "" {
		return content
	}
	stripped := make(deb.TreeContent, len(content))
	for path, f := range content {
		stripped[strings.TrimPrefix(path, top+"/")] = f
	}
	return stripped
}
