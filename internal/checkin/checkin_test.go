package checkin

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/messenger"
	"github.com/tangramhq/tangram/internal/object"
	"github.com/tangramhq/tangram/internal/reference"
	"github.com/tangramhq/tangram/internal/store/memstore"
)

func newHarness(t *testing.T) (*index.Index, *memstore.Store, *messenger.Messenger, *reference.Resolver) {
	t.Helper()
	idx, err := index.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	s := memstore.New()
	m := messenger.New()
	resolver := &reference.Resolver{Local: idx}
	return idx, s, m, resolver
}

func TestCheckinSimpleTree(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("pkg", 0o755))
	writeFile(t, fs, "pkg/hello.txt", "Hello, World!")
	require.NoError(t, fs.Symlink("hello.txt", "pkg/link"))

	idx, s, m, resolver := newHarness(t)
	result, err := Checkin(context.Background(), fs, s, idx, m, resolver, Request{Path: "pkg"}, 1000, nil)
	require.NoError(t, err)
	require.Equal(t, id.Directory, result.Id.Kind())

	row, err := idx.GetObject(context.Background(), result.Id)
	require.NoError(t, err)
	require.True(t, row.Complete)

	frame, err := s.Get(context.Background(), result.Id)
	require.NoError(t, err)
	decoded, err := object.Decode(frame)
	require.NoError(t, err)
	dir, ok := decoded.(*object.Directory)
	require.True(t, ok)
	require.Contains(t, dir.Entries, "hello.txt")
	require.Contains(t, dir.Entries, "link")

	linkFrame, err := s.Get(context.Background(), *dir.Entries["link"].Object)
	require.NoError(t, err)
	linkObj, err := object.Decode(linkFrame)
	require.NoError(t, err)
	sym, ok := linkObj.(*object.Symlink)
	require.True(t, ok)
	require.Equal(t, "hello.txt", *sym.Path)
}

func TestCheckinModuleImportCycle(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("pkg", 0o755))
	writeFile(t, fs, "pkg/tangram.ts", `import * as a from "./a.ts"; import * as b from "b";`)
	writeFile(t, fs, "pkg/a.ts", `import * as r from "./tangram.ts";`)

	idx, s, m, resolver := newHarness(t)
	result, err := Checkin(context.Background(), fs, s, idx, m, resolver, Request{Path: "pkg"}, 1000, nil)
	require.NoError(t, err)

	frame, err := s.Get(context.Background(), result.Id)
	require.NoError(t, err)
	decoded, err := object.Decode(frame)
	require.NoError(t, err)

	// The cyclic pair pulls the enclosing directory into the same graph,
	// since the directory's own entries can't otherwise address them.
	g, ok := decoded.(*object.Graph)
	require.True(t, ok, "expected root to collapse into a graph because tangram.ts and a.ts cycle through it")

	var dirNode *object.GraphNode
	for i := range g.Nodes {
		if g.Nodes[i].Kind == object.NodeDirectory {
			dirNode = &g.Nodes[i]
		}
	}
	require.NotNil(t, dirNode)
	require.NotNil(t, dirNode.Entries["tangram.ts"].Pointer)
	require.NotNil(t, dirNode.Entries["a.ts"].Pointer)

	// Verify the second run produces the identical graph id (idempotence,
	// spec.md §8 invariant 3).
	idx2, s2, m2, resolver2 := newHarness(t)
	result2, err := Checkin(context.Background(), fs, s2, idx2, m2, resolver2, Request{Path: "pkg"}, 2000, nil)
	require.NoError(t, err)
	require.Equal(t, result.Id.String(), result2.Id.String())
}

func TestCheckinUnresolvedTagDependencyIsLeftBare(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("pkg", 0o755))
	writeFile(t, fs, "pkg/tangram.ts", `import * as b from "b";`)

	idx, s, m, resolver := newHarness(t)
	result, err := Checkin(context.Background(), fs, s, idx, m, resolver, Request{Path: "pkg"}, 1000, nil)
	require.NoError(t, err)

	frame, err := s.Get(context.Background(), result.Id)
	require.NoError(t, err)
	decoded, err := object.Decode(frame)
	require.NoError(t, err)
	dir := decoded.(*object.Directory)

	fileFrame, err := s.Get(context.Background(), *dir.Entries["tangram.ts"].Object)
	require.NoError(t, err)
	fileObj, err := object.Decode(fileFrame)
	require.NoError(t, err)
	file := fileObj.(*object.File)
	require.Nil(t, file.Dependencies["b"].Referent)
}

func TestCheckinProgressEvents(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("pkg", 0o755))
	writeFile(t, fs, "pkg/hello.txt", "hi")

	idx, s, m, resolver := newHarness(t)
	events := make(chan Event, 16)
	_, err := Checkin(context.Background(), fs, s, idx, m, resolver, Request{Path: "pkg"}, 1000, events)
	require.NoError(t, err)

	var stages []string
	for e := range events {
		stages = append(stages, e.Stage)
	}
	require.Contains(t, stages, "walk")
	require.Contains(t, stages, "emit")
	require.Contains(t, stages, "publish")
}

func writeFile(t *testing.T, fs billy.Filesystem, path, contents string) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte(contents))
	require.NoError(t, err)
}
