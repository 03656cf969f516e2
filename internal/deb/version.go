package deb

import (
	"fmt"

	"pault.ag/go/debian/version"
)

// Version is a Debian package version (epoch:upstream-revision) with the
// comparison semantics defined by Debian policy.
type Version struct {
	version.Version
}

// ParseVersion parses a package version string.
func ParseVersion(s string) (Version, error) {
	v, err := version.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	return Version{v}, nil
}

// MustParseVersion is ParseVersion for literals; it panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns a negative number when v sorts before o, zero when the
// versions are equal and a positive number otherwise.
func (v Version) Compare(o Version) int {
	return version.Compare(v.Version, o.Version)
}

// Equal reports whether two versions compare equal.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// UpstreamVersion returns the upstream component of the version, without
// epoch or Debian revision. This is the component recorded in upstream tags.
func (v Version) UpstreamVersion() string { return v.Version.Version }

// Upstream returns the upstream component as a comparable Version. The epoch
// is kept so that epoch bumps order correctly against older upstreams.
func (v Version) Upstream() Version {
	return Version{version.Version{Epoch: v.Epoch, Version: v.Version.Version}}
}

// IsNative reports whether the version has no Debian revision, which marks a
// native package (no upstream/packaging split).
func (v Version) IsNative() bool { return v.Revision == "" }

func (v Version) String() string { return v.Version.String() }
