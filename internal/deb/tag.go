package deb

import "strings"

// TagComponent maps a version string onto the characters git allows in ref
// names, following the DEP-14 convention: ':' becomes '%' and '~' becomes '_'.
// Both replacement characters are invalid in Debian versions, so the mapping
// is reversible.
func TagComponent(v string) string {
	v = strings.ReplaceAll(v, ":", "%")
	return strings.ReplaceAll(v, "~", "_")
}

// ParseTagComponent recovers the version string encoded by TagComponent.
func ParseTagComponent(s string) string {
	s = strings.ReplaceAll(s, "%", ":")
	return strings.ReplaceAll(s, "_", "~")
}
