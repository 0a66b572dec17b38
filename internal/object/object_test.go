package object

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
)

func mustLeafId(t *testing.T, bytes []byte) id.Id {
	t.Helper()
	return ComputeId(&Leaf{Bytes: bytes})
}

func TestLeafRoundTrip(t *testing.T) {
	l := &Leaf{Bytes: []byte("hello world")}
	frame := EncodeBinary(l)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got, ok := decoded.(*Leaf)
	require.True(t, ok)
	require.Equal(t, l.Bytes, got.Bytes)
}

func TestLeafIdIsDeterministic(t *testing.T) {
	a := ComputeId(&Leaf{Bytes: []byte("same")})
	b := ComputeId(&Leaf{Bytes: []byte("same")})
	require.Equal(t, a.String(), b.String())
	require.Equal(t, id.Leaf, a.Kind())
}

func TestBranchRoundTrip(t *testing.T) {
	leafID := mustLeafId(t, []byte("chunk-1"))
	b := &Branch{Children: []BranchChild{
		{Child: leafID, Length: 7},
		{Child: leafID, Length: 3},
	}}
	frame := EncodeBinary(b)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*Branch)
	require.Equal(t, uint64(10), got.TotalLength())
	require.Len(t, got.Children, 2)
}

func TestDirectoryFlatRoundTrip(t *testing.T) {
	fileID := mustLeafId(t, []byte("contents"))
	d := &Directory{Entries: map[string]Edge{
		"a.txt": {Object: &fileID},
		"b.txt": {Object: &fileID},
	}}
	require.NoError(t, d.Validate())
	frame := EncodeBinary(d)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*Directory)
	require.Len(t, got.Entries, 2)
	require.Nil(t, got.Children)
}

func TestDirectoryBranchRoundTrip(t *testing.T) {
	subID := mustLeafId(t, []byte("sub"))
	d := &Directory{Children: []Edge{{Object: &subID}}}
	require.NoError(t, d.Validate())
	frame := EncodeBinary(d)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*Directory)
	require.Nil(t, got.Entries)
	require.Len(t, got.Children, 1)
}

func TestDirectoryRejectsBothEntriesAndChildren(t *testing.T) {
	leafID := mustLeafId(t, []byte("x"))
	d := &Directory{
		Entries:  map[string]Edge{"a": {Object: &leafID}},
		Children: []Edge{{Object: &leafID}},
	}
	require.Error(t, d.Validate())
}

func TestDirectoryRejectsBadEntryNames(t *testing.T) {
	leafID := mustLeafId(t, []byte("x"))
	for _, name := range []string{"", "a/b", ".", ".."} {
		d := &Directory{Entries: map[string]Edge{name: {Object: &leafID}}}
		require.Error(t, d.Validate(), "name %q should be rejected", name)
	}
}

func TestSymlinkRequiresArtifactOrPath(t *testing.T) {
	s := &Symlink{}
	require.Error(t, s.Validate())

	path := "../relative/target"
	s = &Symlink{Path: &path}
	require.NoError(t, s.Validate())

	frame := EncodeBinary(s)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*Symlink)
	require.Equal(t, path, *got.Path)
	require.Nil(t, got.Artifact)
}

func TestFileRoundTripWithDependencies(t *testing.T) {
	contents := mustLeafId(t, []byte("console.log(1)"))
	depTarget := mustLeafId(t, []byte("dep"))
	moduleKind := "js"
	f := &File{
		Contents:   contents,
		Executable: true,
		Dependencies: map[string]FileDependency{
			"./dep.js": {
				Reference: "./dep.js",
				Referent:  &Referent{Item: depTarget},
			},
		},
		ModuleKind: &moduleKind,
	}
	require.NoError(t, f.Validate())

	frame := EncodeBinary(f)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*File)
	require.True(t, got.Executable)
	require.Equal(t, contents.String(), got.Contents.String())
	require.Equal(t, "js", *got.ModuleKind)
	require.Contains(t, got.Dependencies, "./dep.js")
	require.Equal(t, depTarget.String(), got.Dependencies["./dep.js"].Referent.Item.String())
}

func TestFileRejectsNonBlobContents(t *testing.T) {
	dirID := ComputeId(&Directory{Entries: map[string]Edge{}})
	f := &File{Contents: dirID}
	require.Error(t, f.Validate())
}

func TestCommandRoundTrip(t *testing.T) {
	exe := mustLeafId(t, []byte("#!/bin/sh\necho hi"))
	stdin := mustLeafId(t, []byte("piped in"))
	cwd := "/home/tangram"
	user := "tangram"
	c := &Command{
		Host:       "x86_64-linux",
		Executable: exe,
		Args:       []string{"echo", "hi"},
		Env:        map[string]string{"PATH": "/usr/bin"},
		Cwd:        &cwd,
		Mounts: []Mount{
			{Source: "/", Target: "/", Readonly: true},
		},
		Stdin: &stdin,
		User:  &user,
	}
	frame := EncodeBinary(c)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*Command)
	require.Equal(t, "x86_64-linux", got.Host)
	require.Equal(t, []string{"echo", "hi"}, got.Args)
	require.Equal(t, "/usr/bin", got.Env["PATH"])
	require.Equal(t, cwd, *got.Cwd)
	require.Len(t, got.Mounts, 1)
	require.True(t, got.Mounts[0].Readonly)
	require.Equal(t, stdin.String(), got.Stdin.String())
	require.Equal(t, user, *got.User)
}

// TestGraphWithCycleRoundTrip reproduces spec.md §8 scenario 3: two files
// in one directory that import each other, forming a two-node cycle that
// cannot be represented as a tree of plain object ids and instead collapses
// into a single Graph with self-pointer edges.
func TestGraphWithCycleRoundTrip(t *testing.T) {
	aContents := mustLeafId(t, []byte("import './b.js'"))
	bContents := mustLeafId(t, []byte("import './a.js'"))

	g := &Graph{
		Nodes: []GraphNode{
			{
				Kind:     NodeFile,
				Contents: &Edge{Object: &aContents},
				Dependencies: map[string]FileDependency{
					"./b.js": {Reference: "./b.js"},
				},
			},
			{
				Kind:     NodeFile,
				Contents: &Edge{Object: &bContents},
				Dependencies: map[string]FileDependency{
					"./a.js": {Reference: "./a.js"},
				},
			},
			{
				Kind: NodeDirectory,
				Entries: map[string]Edge{
					"a.js": {Pointer: &Pointer{Index: 0}},
					"b.js": {Pointer: &Pointer{Index: 1}},
				},
			},
		},
	}
	require.NoError(t, g.Validate())

	frame := EncodeBinary(g)
	decoded, err := Decode(frame)
	require.NoError(t, err)
	got := decoded.(*Graph)
	require.Len(t, got.Nodes, 3)
	require.Equal(t, NodeDirectory, got.Nodes[2].Kind)
	require.Equal(t, 0, got.Nodes[2].Entries["a.js"].Pointer.Index)
	require.Equal(t, 1, got.Nodes[2].Entries["b.js"].Pointer.Index)

	// The graph's own id is stable across re-encoding, same as any other
	// content-addressed object.
	require.Equal(t, ComputeId(g).String(), ComputeId(got).String())
}

func TestGraphRejectsOutOfRangeSelfPointer(t *testing.T) {
	g := &Graph{
		Nodes: []GraphNode{
			{
				Kind:    NodeDirectory,
				Entries: map[string]Edge{"x": {Pointer: &Pointer{Index: 5}}},
			},
		},
	}
	require.Error(t, g.Validate())
}

func TestDecodeRejectsUnknownFormatByte(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x01})
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{FormatBinary})
	require.Error(t, err)
}

func TestJSONRoundTripForLeaf(t *testing.T) {
	l := &Leaf{Bytes: []byte("json me")}
	data, err := EncodeJSON(l)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	got := decoded.(*Leaf)
	require.Equal(t, l.Bytes, got.Bytes)
}
