// Package checkout implements spec.md §4.4: materializing a content-addressed
// artifact back onto a real filesystem. The recursive structure mirrors
// go-git's own worktree.go checkout, which walks a tree object and writes
// blobs/symlinks/sub-trees onto disk; generalized here to tangram's six
// object variants, including graphs with internal pointer edges.
package checkout

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
	"golang.org/x/sys/unix"
)

// Request is spec.md §4.4's checkout input: an artifact id, a destination
// path on destFS, and an optional hardlink cache directory.
type Request struct {
	Artifact id.Id
	Dest     string

	// CacheDir, if set, is an on-disk directory (real OS path, not billy)
	// holding previous checkouts of blob contents keyed by content id
	// (cacheDir/<id>). When a file's contents already live there, Checkout
	// hardlinks instead of copying bytes, falling back to a copy on EXDEV
	// (different device), exactly the fallback go-git's worktree checkout
	// uses when linking across filesystems fails.
	CacheDir string
}

// Checkout materializes req.Artifact at req.Dest on destFS.
func Checkout(ctx context.Context, s store.Store, destFS billy.Filesystem, req Request) error {
	c := &checkout{ctx: ctx, s: s, fs: destFS, cacheDir: req.CacheDir}
	v, err := c.fetch(req.Artifact)
	if err != nil {
		return err
	}
	return c.materialize(v, nil, req.Dest)
}

type checkout struct {
	ctx      context.Context
	s        store.Store
	fs       billy.Filesystem
	cacheDir string
}

func (c *checkout) fetch(oid id.Id) (object.Variant, error) {
	frame, err := c.s.Get(c.ctx, oid)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "fetching %s for checkout", oid)
	}
	v, err := object.Decode(frame)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Validation, err, "decoding %s for checkout", oid)
	}
	return v, nil
}

// materialize writes v at dest. graph, if non-nil, is the enclosing Graph
// object that self-pointers (Pointer.Graph == nil) should be resolved
// against; it is nil while walking a plain (non-cyclic) artifact.
func (c *checkout) materialize(v object.Variant, graph *object.Graph, dest string) error {
	switch t := v.(type) {
	case *object.Directory:
		return c.materializeDirectory(t, graph, dest)
	case *object.File:
		return c.materializeFile(t.Contents, t.Executable, dest)
	case *object.Symlink:
		return c.materializeSymlink(t, graph, dest)
	case *object.Graph:
		// A root artifact that is itself a cyclic cluster (spec.md §9's
		// edge case): node 0 is the cluster's own entry point by
		// construction (checkin sorts a graph's members by path, and the
		// checkin root's empty path sorts before every other member's).
		if len(t.Nodes) == 0 {
			return tgerror.New(tgerror.Validation, "empty graph artifact")
		}
		return c.materializeNode(t.Nodes[0], t, dest)
	default:
		return tgerror.New(tgerror.Internal, "checkout: unsupported artifact kind %s", v.Kind())
	}
}

func (c *checkout) materializeDirectory(d *object.Directory, graph *object.Graph, dest string) error {
	if err := c.fs.MkdirAll(dest, 0o755); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "creating directory %s", dest)
	}
	if d.Entries != nil {
		for name, edge := range d.Entries {
			if err := c.materializeEdge(edge, graph, path.Join(dest, name)); err != nil {
				return err
			}
		}
		return nil
	}
	for _, edge := range d.Children {
		if err := c.materializeEdge(edge, graph, dest); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkout) materializeSymlink(s *object.Symlink, graph *object.Graph, dest string) error {
	if s.Path != nil {
		if err := c.fs.Symlink(*s.Path, dest); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "creating symlink %s", dest)
		}
		return nil
	}
	// An artifact-only symlink has no literal target string; check out the
	// artifact's own in-memory representation is not meaningful for a
	// symlink (there is no path to point at), so this is unreachable for
	// well-formed input produced by this implementation's own checkin,
	// which always sets Path when it discovers a symlink.
	return tgerror.New(tgerror.Validation, "symlink %s has no literal path target to materialize", dest)
}

func (c *checkout) materializeEdge(e object.Edge, graph *object.Graph, dest string) error {
	if e.Object != nil {
		v, err := c.fetch(*e.Object)
		if err != nil {
			return err
		}
		return c.materialize(v, nil, dest)
	}
	if e.Pointer == nil {
		return tgerror.New(tgerror.Validation, "edge has neither object nor pointer")
	}
	if e.Pointer.Graph != nil {
		v, err := c.fetch(*e.Pointer.Graph)
		if err != nil {
			return err
		}
		g, ok := v.(*object.Graph)
		if !ok {
			return tgerror.New(tgerror.Validation, "pointer target %s is not a graph", e.Pointer.Graph)
		}
		if e.Pointer.Index < 0 || e.Pointer.Index >= len(g.Nodes) {
			return tgerror.New(tgerror.Validation, "pointer index %d out of range for graph %s", e.Pointer.Index, e.Pointer.Graph)
		}
		return c.materializeNode(g.Nodes[e.Pointer.Index], g, dest)
	}
	if graph == nil {
		return tgerror.New(tgerror.Validation, "self-pointer outside a graph context")
	}
	if e.Pointer.Index < 0 || e.Pointer.Index >= len(graph.Nodes) {
		return tgerror.New(tgerror.Validation, "self-pointer index %d out of range", e.Pointer.Index)
	}
	return c.materializeNode(graph.Nodes[e.Pointer.Index], graph, dest)
}

func (c *checkout) materializeNode(n object.GraphNode, graph *object.Graph, dest string) error {
	switch n.Kind {
	case object.NodeDirectory:
		d := &object.Directory{Entries: n.Entries}
		return c.materializeDirectory(d, graph, dest)
	case object.NodeFile:
		if n.Contents == nil {
			return tgerror.New(tgerror.Validation, "graph file node has no contents edge")
		}
		if n.Contents.Object == nil {
			return tgerror.New(tgerror.Validation, "graph file node's contents edge must be a direct object reference")
		}
		return c.materializeFile(*n.Contents.Object, n.Executable, dest)
	case object.NodeSymlink:
		s := &object.Symlink{Path: n.Path}
		return c.materializeSymlink(s, graph, dest)
	default:
		return tgerror.New(tgerror.Internal, "unknown graph node kind %q", n.Kind)
	}
}

// materializeFile writes a blob's bytes to dest, preferring a hardlink from
// c.cacheDir when available (spec.md §4.4).
func (c *checkout) materializeFile(contents id.Id, executable bool, dest string) error {
	if c.cacheDir != "" {
		if ok, err := c.tryHardlink(contents, dest); err != nil {
			return err
		} else if ok {
			return c.chmod(dest, executable)
		}
	}

	data, err := c.readBlob(contents)
	if err != nil {
		return err
	}
	f, err := c.fs.Create(dest)
	if err != nil {
		return tgerror.Wrap(tgerror.IO, err, "creating file %s", dest)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return tgerror.Wrap(tgerror.IO, err, "writing file %s", dest)
	}
	if err := f.Close(); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "closing file %s", dest)
	}

	if c.cacheDir != "" {
		c.populateCache(contents, dest)
	}
	return c.chmod(dest, executable)
}

// tryHardlink attempts unix.Link(cacheDir/<id>, realDest). It only applies
// when destFS is rooted on the real filesystem (osfs), since a hardlink is
// meaningless against an in-memory or chroot-virtual billy backend; a
// cross-device link (EXDEV) falls back to a plain copy, matching go-git's
// own worktree checkout fallback when linking blobs across devices fails.
func (c *checkout) tryHardlink(contents id.Id, dest string) (bool, error) {
	real, ok := realPath(c.fs, dest)
	if !ok {
		return false, nil
	}
	src := path.Join(c.cacheDir, contents.String())
	if _, err := osfs.Default.Stat(src); err != nil {
		return false, nil
	}

	if err := unix.Link(src, real); err != nil {
		if err == unix.EXDEV {
			return false, nil
		}
		return false, tgerror.Wrap(tgerror.IO, err, "hardlinking %s to %s", src, real)
	}
	return true, nil
}

// populateCache copies the just-written file into cacheDir so future
// checkouts of the same content id can hardlink from it.
func (c *checkout) populateCache(contents id.Id, dest string) {
	real, ok := realPath(c.fs, dest)
	if !ok {
		return
	}
	target := path.Join(c.cacheDir, contents.String())
	_ = unix.Link(real, target)
}

func (c *checkout) chmod(dest string, executable bool) error {
	changer, ok := c.fs.(billy.Change)
	if !ok {
		return nil
	}
	mode := os.FileMode(0o444)
	if executable {
		mode = 0o555
	}
	if err := changer.Chmod(dest, mode); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "setting permissions on %s", dest)
	}
	return nil
}

func (c *checkout) readBlob(contents id.Id) ([]byte, error) {
	v, err := c.fetch(contents)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case *object.Leaf:
		return t.Bytes, nil
	case *object.Branch:
		var out []byte
		for _, child := range t.Children {
			data, err := c.readBlob(child.Child)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)
		}
		return out, nil
	default:
		return nil, tgerror.New(tgerror.Validation, "contents id %s is not a blob", contents)
	}
}

// realPath returns fs's OS path for rel when fs is (or wraps) an osfs root,
// since only then does a real inode exist to hardlink. Billy does not
// expose this generically, so this recognizes the one concrete
// implementation this codebase constructs in production (osfs.New(root)).
func realPath(fs billy.Filesystem, rel string) (string, bool) {
	root, ok := fs.(interface{ Root() string })
	if !ok {
		return "", false
	}
	r := root.Root()
	if r == "" {
		return "", false
	}
	if strings.HasPrefix(rel, "/") {
		return path.Join(r, rel), true
	}
	return path.Join(r, rel), true
}
