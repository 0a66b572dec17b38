package checkin

import (
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// epoch is the fixed mtime every checked-in cache entry is normalized to,
// so that byte-identical trees produce byte-identical directory listings
// regardless of when they were checked in (spec.md §8 invariant 2).
var epoch = time.Unix(0, 0)

// fixup implements spec.md §4.3 step 8: once every object is durably
// stored, the source tree's files are marked read-only and reset to the
// epoch mtime, matching the state checkout will later reproduce. go-billy
// filesystems that don't support permission/time changes (most in-memory
// ones) silently skip this step, which only matters for real on-disk
// trees anyway.
func fixup(fs billy.Filesystem, root string, a *arena) error {
	changer, ok := fs.(billy.Change)
	if !ok {
		return nil
	}
	for _, n := range a.nodes {
		if n.kind == kindSymlink {
			continue // symlinks carry no independent mode/mtime in this model
		}
		full := path.Join(root, n.path)
		mode := os.FileMode(0o555)
		if n.kind == kindFile {
			mode = 0o444
			if n.executable {
				mode = 0o555
			}
		}
		if err := changer.Chmod(full, mode); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "chmod %s", full)
		}
		if err := changer.Chtimes(full, epoch, epoch); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "chtimes %s", full)
		}
	}
	return nil
}
