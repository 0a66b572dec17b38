package checkin

import (
	"io"
	"os"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// walk implements spec.md §4.3 step 1: traverse the filesystem rooted at
// root, honoring ignore rules, producing an arena of directory/file/symlink
// nodes. The recursive-descent-with-sorted-entries shape mirrors go-git's
// worktree_status.go readGitignore/recStatus pair, generalized from "diff
// against a tree" to "build a fresh tree".
func walk(fs billy.Filesystem, root string) (*arena, error) {
	ignore, err := loadIgnore(fs, root)
	if err != nil {
		return nil, err
	}

	a := newArena()
	idx, err := walkPath(fs, a, ignore, root, "")
	if err != nil {
		return nil, err
	}
	a.root = idx
	return a, nil
}

func walkPath(fs billy.Filesystem, a *arena, ignore *ignoreMatcher, root, rel string) (int, error) {
	full := path.Join(root, rel)
	info, err := fs.Lstat(full)
	if err != nil {
		return 0, tgerror.Wrap(tgerror.IO, err, "stat %s", full)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := fs.Readlink(full)
		if err != nil {
			return 0, tgerror.Wrap(tgerror.IO, err, "readlink %s", full)
		}
		return a.add(&arenaNode{path: rel, kind: kindSymlink, linkTarget: target}), nil

	case info.IsDir():
		entries, err := fs.ReadDir(full)
		if err != nil {
			return 0, tgerror.Wrap(tgerror.IO, err, "readdir %s", full)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		node := &arenaNode{path: rel, kind: kindDirectory, entries: map[string]int{}}
		self := a.add(node)
		for _, e := range entries {
			if e.Name() == ignoreFile || e.Name() == lockfileName {
				continue
			}
			childRel := path.Join(rel, e.Name())
			if ignore.Match(childRel, e.IsDir()) {
				continue
			}
			childIdx, err := walkPath(fs, a, ignore, root, childRel)
			if err != nil {
				return 0, err
			}
			node.entries[e.Name()] = childIdx
		}
		return self, nil

	default:
		f, err := fs.Open(full)
		if err != nil {
			return 0, tgerror.Wrap(tgerror.IO, err, "open %s", full)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return 0, tgerror.Wrap(tgerror.IO, err, "read %s", full)
		}
		node := &arenaNode{
			path:       rel,
			kind:       kindFile,
			size:       int64(len(data)),
			executable: info.Mode()&0o111 != 0,
		}
		idx := a.add(node)
		a.nodes[idx].rawContents = data
		return idx, nil
	}
}
