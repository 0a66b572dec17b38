package checkin

import (
	"encoding/json"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// rootModuleNames are the file names checkin recognizes as a package
// root, searched for while walking up from the checked-in path to place
// the lockfile (spec.md §6.6, §9 open question on root module discovery).
var rootModuleNames = []string{"tangram.ts", "tangram.js"}

const lockfileName = "tangram.lock"

// lockfileDependency mirrors one FileDependency in normalized, JSON-stable
// form: a resolved dependency carries Item (and Tag, if it was a tag
// reference); an intra-cycle or still-unresolved one carries neither.
type lockfileDependency struct {
	Reference string  `json:"reference"`
	Item      *string `json:"item,omitempty"`
	Tag       *string `json:"tag,omitempty"`
}

// lockfileNode is one normalized directory/file/symlink entry, indexed by
// position in Lockfile.Nodes exactly like the checkin arena itself.
type lockfileNode struct {
	Kind         string                        `json:"kind"`
	Entries      map[string]int                `json:"entries,omitempty"`
	Contents     string                        `json:"contents,omitempty"`
	Executable   bool                          `json:"executable,omitempty"`
	Dependencies map[string]lockfileDependency `json:"dependencies,omitempty"`
	Target       string                        `json:"target,omitempty"`
}

// Lockfile is spec.md §6.6's pinned dependency graph: `{ nodes, paths }`.
type Lockfile struct {
	Nodes []lockfileNode `json:"nodes"`
	Paths map[string]int `json:"paths"`
}

// buildLockfile implements spec.md §4.3 step 9's "unified dependency
// graph": one node per arena entry, in arena order, so Paths can address
// nodes by their original arena index directly.
func buildLockfile(a *arena) *Lockfile {
	lf := &Lockfile{Nodes: make([]lockfileNode, len(a.nodes)), Paths: make(map[string]int, len(a.nodes))}
	for i, n := range a.nodes {
		lf.Paths[n.path] = i
		switch n.kind {
		case kindDirectory:
			lf.Nodes[i] = lockfileNode{Kind: "directory", Entries: n.entries}
		case kindFile:
			deps := make(map[string]lockfileDependency, len(n.dependencies))
			for _, dep := range n.dependencies {
				ld := lockfileDependency{Reference: dep.reference}
				if dep.referent != nil {
					item := dep.referent.Item.String()
					ld.Item = &item
					ld.Tag = dep.referent.Tag
				}
				deps[dep.reference] = ld
			}
			lf.Nodes[i] = lockfileNode{Kind: "file", Contents: n.contentsId, Executable: n.executable, Dependencies: deps}
		case kindSymlink:
			lf.Nodes[i] = lockfileNode{Kind: "symlink", Target: n.linkTarget}
		}
	}
	return lf
}

// findRootModule walks up from dir looking for one of rootModuleNames,
// rejecting a directory that contains more than one (spec.md §9: "the
// sources reject this with 'found multiple root modules' — preserve that
// behavior"). It returns the directory containing the root module, or
// ok=false if none is found before the filesystem root.
func findRootModule(fs billy.Filesystem, dir string) (string, bool, error) {
	for {
		var found string
		for _, name := range rootModuleNames {
			if _, err := fs.Stat(path.Join(dir, name)); err == nil {
				if found != "" {
					return "", false, tgerror.New(tgerror.Conflict, "found multiple root modules in %s", dir)
				}
				found = name
			}
		}
		if found != "" {
			return dir, true, nil
		}
		parent := path.Dir(dir)
		if parent == dir || parent == "." || parent == "/" {
			return "", false, nil
		}
		dir = parent
	}
}

// writeLockfile implements step 9 in full: locate the root module and
// serialize the lockfile next to it, skipped entirely when locked = true
// or no root module is found.
func writeLockfile(fs billy.Filesystem, checkinRoot string, locked bool, a *arena) error {
	if locked {
		return nil
	}
	dir, ok, err := findRootModule(fs, checkinRoot)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	lf := buildLockfile(a)
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return tgerror.Wrap(tgerror.Internal, err, "encoding lockfile")
	}

	f, err := fs.Create(path.Join(dir, lockfileName))
	if err != nil {
		return tgerror.Wrap(tgerror.IO, err, "creating lockfile")
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "writing lockfile")
	}
	return nil
}
