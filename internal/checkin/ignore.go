package checkin

import (
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// ignoreFile is the name tangram recognizes inside a checked-in directory,
// patterned after .gitignore but narrower: only literal path prefixes,
// trailing-"/" directory markers, and a "*" glob at the start, the end, or
// both ends of a pattern are supported. Full gitignore semantics (go-git vendors
// github.com/go-git/go-git/v5/plumbing/format/gitignore for that) are not
// needed here because tangram ignore files are expected to be short and
// hand-written, not ported wholesale from a VCS history; see DESIGN.md.
const ignoreFile = ".tangramignore"

// ignoreMatcher holds the compiled patterns for one checkin root.
type ignoreMatcher struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern   string
	dirOnly   bool
	anchored  bool // pattern contained a "/" before the final segment
}

// loadIgnore reads root/.tangramignore, if present, and compiles it.
func loadIgnore(fs billy.Filesystem, root string) (*ignoreMatcher, error) {
	f, err := fs.Open(path.Join(root, ignoreFile))
	if err != nil {
		return &ignoreMatcher{}, nil
	}
	defer f.Close()

	var buf strings.Builder
	chunk := make([]byte, 4096)
	for {
		n, rerr := f.Read(chunk)
		buf.Write(chunk[:n])
		if rerr != nil {
			break
		}
	}

	m := &ignoreMatcher{}
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := ignorePattern{pattern: line}
		if strings.HasSuffix(p.pattern, "/") {
			p.dirOnly = true
			p.pattern = strings.TrimSuffix(p.pattern, "/")
		}
		if strings.Contains(p.pattern, "/") {
			p.anchored = true
			p.pattern = strings.TrimPrefix(p.pattern, "/")
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether relPath (slash-separated, relative to the checkin
// root) should be excluded from the walk. isDir distinguishes directory
// entries, which also match dirOnly patterns.
func (m *ignoreMatcher) Match(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	base := path.Base(relPath)
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		var candidate string
		if p.anchored {
			candidate = relPath
		} else {
			candidate = base
		}
		if matchGlob(p.pattern, candidate) {
			return true
		}
	}
	return false
}

// matchGlob supports a single leading or trailing "*" wildcard, which
// covers the common cases ("*.log", "build*") without pulling in a full
// glob engine for a format this narrow.
func matchGlob(pattern, name string) bool {
	switch {
	case pattern == name:
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		return strings.Contains(name, pattern[1:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return false
	}
}
