// Package delta applies a packaging delta (unified diff) onto decoded tree
// content. Application is strict and all-or-nothing: either every hunk of
// every file applies at its stated position, or the base is left untouched
// and an ApplicationError identifies the first mismatch.
package delta

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/breezy-team/breezy-debian/internal/deb"
)

// ApplicationError reports a delta that does not apply cleanly to its base.
type ApplicationError struct {
	Path   string
	Hunk   int
	Reason string
}

func (e *ApplicationError) Error() string {
	if e.Hunk > 0 {
		return fmt.Sprintf("delta does not apply to %q (hunk #%d): %s", e.Path, e.Hunk, e.Reason)
	}
	return fmt.Sprintf("delta does not apply to %q: %s", e.Path, e.Reason)
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []string
	noTrailingNewline  bool
}

type fileDiff struct {
	oldPath, newPath string
	hunks            []hunk
	executable       bool
	modeKnown        bool
}

// Apply applies a unified diff to base and returns the resulting tree. The
// base is never mutated.
func Apply(diff []byte, base deb.TreeContent) (deb.TreeContent, error) {
	files, err := parse(diff)
	if err != nil {
		return nil, err
	}
	result := base.Clone()
	for _, fd := range files {
		if err := applyFile(fd, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func applyFile(fd fileDiff, tree deb.TreeContent) error {
	creating := fd.oldPath == "/dev/null"
	deleting := fd.newPath == "/dev/null"

	path := fd.newPath
	if deleting {
		path = fd.oldPath
	}

	var oldLines []string
	oldTrailing := true
	existing, exists := tree[path]
	if creating {
		if exists {
			return &ApplicationError{Path: path, Reason: "file to create already exists"}
		}
	} else {
		if !exists {
			return &ApplicationError{Path: path, Reason: "file to patch does not exist"}
		}
		oldLines, oldTrailing = splitLines(string(existing.Data))
	}

	newLines, noTrailing, err := applyHunks(path, oldLines, fd.hunks)
	if err != nil {
		return err
	}

	if deleting {
		if len(newLines) != 0 {
			return &ApplicationError{Path: path, Reason: "deletion hunks leave content behind"}
		}
		delete(tree, path)
		return nil
	}

	trailing := oldTrailing && !noTrailing
	if creating {
		trailing = !noTrailing
	}
	executable := existing.Executable
	if fd.modeKnown {
		executable = fd.executable
	}
	tree[path] = deb.File{Data: []byte(joinLines(newLines, trailing)), Executable: executable}
	return nil
}

func applyHunks(path string, oldLines []string, hunks []hunk) ([]string, bool, error) {
	var out []string
	noTrailing := false
	pos := 0
	for i, h := range hunks {
		start := h.oldStart - 1
		if h.oldCount == 0 {
			// An empty old side addresses the line after which to insert.
			start = h.oldStart
		}
		if start < pos || start > len(oldLines) {
			return nil, false, &ApplicationError{Path: path, Hunk: i + 1, Reason: "hunk out of range"}
		}
		out = append(out, oldLines[pos:start]...)
		pos = start
		for _, l := range h.lines {
			marker, text := l[:1], l[1:]
			switch marker {
			case " ", "-":
				if pos >= len(oldLines) || oldLines[pos] != text {
					return nil, false, &ApplicationError{
						Path: path, Hunk: i + 1,
						Reason: "context mismatch:\n" + contextMismatch(oldLines, pos, h),
					}
				}
				if marker == " " {
					out = append(out, text)
				}
				pos++
			case "+":
				out = append(out, text)
			}
		}
		if h.noTrailingNewline {
			noTrailing = true
		}
	}
	out = append(out, oldLines[pos:]...)
	return out, noTrailing, nil
}

// contextMismatch renders the expected hunk context against the actual file
// segment, so the operator sees what diverged.
func contextMismatch(oldLines []string, pos int, h hunk) string {
	var expected []string
	for _, l := range h.lines {
		if l[0] == ' ' || l[0] == '-' {
			expected = append(expected, l[1:]+"\n")
		}
	}
	end := pos + len(expected)
	if end > len(oldLines) {
		end = len(oldLines)
	}
	actual := make([]string, 0, end-pos)
	for _, l := range oldLines[pos:end] {
		actual = append(actual, l+"\n")
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A: expected, B: actual,
		FromFile: "expected", ToFile: "actual",
		Context: 2,
	})
	if err != nil {
		return "context differs"
	}
	return text
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

func parse(diff []byte) ([]fileDiff, error) {
	lines, _ := splitLines(string(diff))
	var files []fileDiff
	var current *fileDiff

	// Mode lines in git diffs precede the ---/+++ pair; the bit is held until
	// the next file section starts.
	pendingExecutable, pendingModeKnown := false, false

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("malformed diff: %q not followed by +++ header", line)
			}
			files = append(files, fileDiff{
				oldPath:    parsePath(line[4:]),
				newPath:    parsePath(lines[i+1][4:]),
				executable: pendingExecutable,
				modeKnown:  pendingModeKnown,
			})
			current = &files[len(files)-1]
			pendingExecutable, pendingModeKnown = false, false
			i += 2
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("malformed diff: hunk header before file header")
			}
			h, advance, err := parseHunk(lines[i:])
			if err != nil {
				return nil, err
			}
			current.hunks = append(current.hunks, h)
			i += advance
		case strings.HasPrefix(line, "new file mode ") || strings.HasPrefix(line, "new mode "):
			mode := strings.TrimSpace(line[strings.LastIndex(line, " ")+1:])
			pendingExecutable = mode == "100755"
			pendingModeKnown = true
			i++
		case strings.HasPrefix(line, "Binary files "):
			return nil, fmt.Errorf("binary delta not supported: %q", line)
		default:
			i++
		}
	}
	return files, nil
}

func parseHunk(lines []string) (hunk, int, error) {
	m := hunkHeader.FindStringSubmatch(lines[0])
	if m == nil {
		return hunk{}, 0, fmt.Errorf("malformed hunk header %q", lines[0])
	}
	h := hunk{
		oldStart: atoi(m[1], 0), oldCount: atoi(m[2], 1),
		newStart: atoi(m[3], 0), newCount: atoi(m[4], 1),
	}
	oldLeft, newLeft := h.oldCount, h.newCount
	i := 1
	for i < len(lines) && (oldLeft > 0 || newLeft > 0) {
		line := lines[i]
		if line == `\ No newline at end of file` {
			h.noTrailingNewline = true
			i++
			continue
		}
		if line == "" {
			// Trailing whitespace stripped by mail transport; treat as an
			// empty context line.
			line = " "
		}
		switch line[0] {
		case ' ':
			oldLeft--
			newLeft--
		case '-':
			oldLeft--
		case '+':
			newLeft--
		default:
			return hunk{}, 0, fmt.Errorf("malformed hunk line %q", line)
		}
		h.lines = append(h.lines, line)
		i++
	}
	if oldLeft != 0 || newLeft != 0 {
		return hunk{}, 0, fmt.Errorf("truncated hunk starting %q", lines[0])
	}
	// A trailing no-newline marker belongs to this hunk.
	if i < len(lines) && lines[i] == `\ No newline at end of file` {
		h.noTrailingNewline = true
		i++
	}
	return h, i, nil
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// parsePath extracts the path from a ---/+++ header value and strips the
// first path component (patch -p1 semantics). /dev/null passes through.
func parsePath(s string) string {
	if tab := strings.IndexByte(s, '\t'); tab >= 0 {
		s = s[:tab]
	}
	s = strings.TrimSpace(s)
	if s == "/dev/null" {
		return s
	}
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return s[idx+1:]
	}
	return s
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
