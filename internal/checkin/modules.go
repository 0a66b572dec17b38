package checkin

import (
	"regexp"
	"strings"
)

// moduleExtensions maps recognized module file suffixes to a moduleKind
// label, per spec.md §4.3 step 2 ("any file whose name matches a module
// extension... plus recognized variants").
var moduleExtensions = map[string]string{
	".tg.ts": "typescript",
	".d.ts":  "typescript-declaration",
	".ts":    "typescript",
	".js":    "javascript",
	".mjs":   "javascript",
}

// importPattern matches ES module import/export-from statements and the
// bare string argument of a dynamic `import(...)` call. It is
// intentionally simple — a full parser is out of scope for a build
// system's module analyzer, which only needs the string literal naming
// the dependency, not a full AST (grounded on go-git's own preference for
// small purpose-built scanners, e.g. format/index/decoder.go, over
// pulling in a general-purpose parser for a narrow extraction task).
var importPattern = regexp.MustCompile(`(?:import|export)\s+(?:[^'"]*\sfrom\s+)?['"]([^'"]+)['"]|import\(\s*['"]([^'"]+)['"]\s*\)`)

// moduleKindFor returns the recognized module kind for a path, matching
// the longest suffix first so ".d.ts" wins over ".ts".
func moduleKindFor(relPath string) (string, bool) {
	if strings.HasSuffix(relPath, ".d.ts") {
		return moduleExtensions[".d.ts"], true
	}
	for ext, kind := range moduleExtensions {
		if ext == ".d.ts" {
			continue
		}
		if strings.HasSuffix(relPath, ext) {
			return kind, true
		}
	}
	return "", false
}

// analyzeModules implements spec.md §4.3 step 2: scans every recognized
// module file's source text for import statements and records each
// distinct reference as a pending (unresolved) dependency.
func analyzeModules(a *arena) {
	for _, n := range a.nodes {
		if n.kind != kindFile {
			continue
		}
		kind, ok := moduleKindFor(n.path)
		if !ok {
			continue
		}
		n.moduleKind = &kind

		seen := map[string]bool{}
		for _, m := range importPattern.FindAllStringSubmatch(string(n.rawContents), -1) {
			ref := m[1]
			if ref == "" {
				ref = m[2]
			}
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			n.dependencies = append(n.dependencies, dependency{reference: ref, moduleKind: &kind})
		}
	}
}
