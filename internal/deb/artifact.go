package deb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Artifact is one released source-package upload: a version, the decoded
// upstream tarball content when the upload ships one, and the packaging delta
// against the relevant upstream tree. Artifacts are immutable inputs; the
// sorted artifact series is the sole input of the history engine.
type Artifact struct {
	Source  string
	Version Version

	// Orig is the decoded upstream tarball content, nil when the upload does
	// not ship an orig tarball (packaging-only upload).
	Orig TreeContent

	// Delta is the packaging delta (unified diff) against the upstream tree.
	Delta []byte
}

// HasOrig reports whether the upload ships an upstream tarball.
func (a *Artifact) HasOrig() bool { return a.Orig != nil }

// ContentDigest identifies the artifact's content (orig tree plus delta),
// independent of its version. Used to tell identical re-uploads apart from
// conflicting ones.
func (a *Artifact) ContentDigest() string {
	h := sha256.New()
	if a.Orig != nil {
		h.Write([]byte(a.Orig.Digest()))
	}
	h.Write([]byte{0})
	h.Write(a.Delta)
	return hex.EncodeToString(h.Sum(nil))
}

// DuplicateVersionError reports two artifacts carrying the same version but
// different content. This is unrecoverable: the series is ambiguous.
type DuplicateVersionError struct {
	Version Version
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("duplicate version %s with differing content", e.Version)
}

// SortArtifacts orders a series ascending by version and collapses identical
// re-uploads. Two artifacts with equal versions but different content make the
// series invalid.
func SortArtifacts(artifacts []Artifact) ([]Artifact, error) {
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version.Compare(sorted[j].Version) < 0
	})

	out := make([]Artifact, 0, len(sorted))
	for _, a := range sorted {
		if len(out) > 0 && a.Version.Equal(out[len(out)-1].Version) {
			if a.ContentDigest() != out[len(out)-1].ContentDigest() {
				return nil, &DuplicateVersionError{Version: a.Version}
			}
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
