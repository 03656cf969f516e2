// Package merge implements a three-way merge over decoded tree content. It is
// used only on the divergent path, when real work happened on the packaging
// line since the last recognized import; the common case synthesizes merges
// without ever calling into here.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/breezy-team/breezy-debian/internal/deb"
)

// Conflict records one file the merge could not resolve. The merged tree
// still contains the file, with conflict markers for content conflicts.
type Conflict struct {
	Path string
	Kind string // "content", "delete/modify" or "mode"
	Diff string // unified diff of the two sides, for the operator
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s conflict in %s", c.Kind, c.Path)
}

// Trees merges ours and theirs using base as the common ancestor. The result
// always contains every resolvable path; unresolved files carry conflict
// markers and one Conflict entry each.
func Trees(base, ours, theirs deb.TreeContent) (deb.TreeContent, []Conflict) {
	result := deb.TreeContent{}
	var conflicts []Conflict

	union := map[string]bool{}
	for _, t := range []deb.TreeContent{base, ours, theirs} {
		for p := range t {
			union[p] = true
		}
	}
	paths := make([]string, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		b, inBase := base[path]
		o, inOurs := ours[path]
		t, inTheirs := theirs[path]

		switch {
		case fileEqual(o, inOurs, t, inTheirs):
			if inOurs {
				result[path] = o
			}
		case fileEqual(o, inOurs, b, inBase):
			// Only theirs changed.
			if inTheirs {
				result[path] = t
			}
		case fileEqual(t, inTheirs, b, inBase):
			// Only ours changed.
			if inOurs {
				result[path] = o
			}
		case !inOurs || !inTheirs:
			// One side deleted, the other modified. Keep the modified side.
			kept := o
			if !inOurs {
				kept = t
			}
			result[path] = kept
			conflicts = append(conflicts, Conflict{Path: path, Kind: "delete/modify"})
		default:
			merged, conflicted := mergeFile(b, inBase, o, t)
			result[path] = merged
			if conflicted {
				conflicts = append(conflicts, Conflict{
					Path: path,
					Kind: "content",
					Diff: sideDiff(path, o.Data, t.Data),
				})
			}
		}
	}
	return result, conflicts
}

func fileEqual(a deb.File, inA bool, b deb.File, inB bool) bool {
	if inA != inB {
		return false
	}
	if !inA {
		return true
	}
	return a.Executable == b.Executable && string(a.Data) == string(b.Data)
}

func mergeFile(base deb.File, inBase bool, ours, theirs deb.File) (deb.File, bool) {
	var baseLines []string
	baseTrailing := true
	if inBase {
		baseLines, baseTrailing = splitLines(string(base.Data))
	}
	oursLines, oursTrailing := splitLines(string(ours.Data))
	theirsLines, theirsTrailing := splitLines(string(theirs.Data))
	merged, conflicted := mergeLines(baseLines, oursLines, theirsLines)

	// The trailing newline merges three-way like any other property.
	trailing := oursTrailing
	if oursTrailing != theirsTrailing && inBase && oursTrailing == baseTrailing {
		trailing = theirsTrailing
	}

	executable, modeConflict := ours.Executable, false
	if ours.Executable != theirs.Executable {
		switch {
		case inBase && ours.Executable == base.Executable:
			executable = theirs.Executable
		case inBase && theirs.Executable == base.Executable:
			executable = ours.Executable
		default:
			modeConflict = true
		}
	}
	return deb.File{Data: []byte(joinLines(merged, trailing)), Executable: executable}, conflicted || modeConflict
}

// chunk is one changed region of the base on one side: base[baseLo:baseHi) is
// replaced by lines.
type chunk struct {
	baseLo, baseHi int
	lines          []string
}

func changes(base, side []string) []chunk {
	m := difflib.NewMatcher(base, side)
	var out []chunk
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		out = append(out, chunk{baseLo: op.I1, baseHi: op.I2, lines: side[op.J1:op.J2]})
	}
	return out
}

// mergeLines performs a diff3-style merge. Changed regions touching each
// other on both sides are grouped into one region; groups where both sides
// end up with different content become conflict blocks.
func mergeLines(base, ours, theirs []string) ([]string, bool) {
	a := changes(base, ours)
	b := changes(base, theirs)

	var out []string
	conflicted := false
	pos := 0
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var lo int
		switch {
		case j >= len(b):
			lo = a[i].baseLo
		case i >= len(a):
			lo = b[j].baseLo
		case a[i].baseLo <= b[j].baseLo:
			lo = a[i].baseLo
		default:
			lo = b[j].baseLo
		}
		hi := lo

		gi, gj := i, j
		for {
			grew := false
			for gi < len(a) && a[gi].baseLo <= hi {
				if a[gi].baseHi > hi {
					hi = a[gi].baseHi
				}
				gi++
				grew = true
			}
			for gj < len(b) && b[gj].baseLo <= hi {
				if b[gj].baseHi > hi {
					hi = b[gj].baseHi
				}
				gj++
				grew = true
			}
			if !grew {
				break
			}
		}

		out = append(out, base[pos:lo]...)
		oursRegion := replay(base, lo, hi, a[i:gi])
		theirsRegion := replay(base, lo, hi, b[j:gj])
		switch {
		case linesEqual(oursRegion, theirsRegion):
			out = append(out, oursRegion...)
		case gi == i:
			out = append(out, theirsRegion...)
		case gj == j:
			out = append(out, oursRegion...)
		default:
			conflicted = true
			out = append(out, "<<<<<<< ours")
			out = append(out, oursRegion...)
			out = append(out, "=======")
			out = append(out, theirsRegion...)
			out = append(out, ">>>>>>> theirs")
		}
		pos = hi
		i, j = gi, gj
	}
	out = append(out, base[pos:]...)
	return out, conflicted
}

func replay(base []string, lo, hi int, chunks []chunk) []string {
	var out []string
	pos := lo
	for _, c := range chunks {
		out = append(out, base[pos:c.baseLo]...)
		out = append(out, c.lines...)
		pos = c.baseHi
	}
	out = append(out, base[pos:hi]...)
	return out
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sideDiff(path string, ours, theirs []byte) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(ours)),
		B:        difflib.SplitLines(string(theirs)),
		FromFile: path + " (ours)",
		ToFile:   path + " (theirs)",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, true
	}
	trailing := strings.HasSuffix(s, "\n")
	if trailing {
		s = s[:len(s)-1]
	}
	return strings.Split(s, "\n"), trailing
}

func joinLines(lines []string, trailing bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailing {
		s += "\n"
	}
	return s
}
