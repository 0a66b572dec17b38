package reference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

func TestParsePathForms(t *testing.T) {
	for _, raw := range []string{"./foo", "../bar", "/abs/path"} {
		ref, err := Parse(raw)
		require.NoError(t, err)
		require.Equal(t, FormPath, ref.Form)
		require.Equal(t, raw, ref.Path)
	}
}

func TestParseIdForm(t *testing.T) {
	oid := id.NewContentAddressed(id.Leaf, []byte("x"))
	ref, err := Parse(oid.String())
	require.NoError(t, err)
	require.Equal(t, FormId, ref.Form)
	require.Equal(t, oid.String(), ref.Id.String())
}

func TestParseTagFormWithVersionAndSubpath(t *testing.T) {
	ref, err := Parse("std/json@^1.2/encode.ts?subpath=fn")
	require.NoError(t, err)
	require.Equal(t, FormTag, ref.Form)
	require.Len(t, ref.Components, 3)
	require.Equal(t, "std", ref.Components[0].Name)
	require.Equal(t, "json", ref.Components[1].Name)
	require.NotNil(t, ref.Components[1].Constraint)
	require.Equal(t, "encode.ts", ref.Components[2].Name)
	require.NotNil(t, ref.Subpath)
	require.Equal(t, "fn", *ref.Subpath)
}

func TestParseRejectsEmptyComponent(t *testing.T) {
	_, err := Parse("std//json")
	require.Error(t, err)
}

type fakeTagLookup struct {
	items map[string]id.Id
}

func (f *fakeTagLookup) ResolveTag(_ context.Context, path []string) (id.Id, error) {
	key := joinPath(path)
	if v, ok := f.items[key]; ok {
		return v, nil
	}
	return id.Id{}, tgerror.New(tgerror.NotFound, "tag %q not found", key)
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

func TestResolverFallsBackToRemote(t *testing.T) {
	target := id.NewContentAddressed(id.Leaf, []byte("remote-target"))
	local := &fakeTagLookup{items: map[string]id.Id{}}
	remote := &namedLookup{name: "origin", fakeTagLookup: &fakeTagLookup{items: map[string]id.Id{"pkg": target}}}

	r := &Resolver{Local: local, Remotes: []RemoteLookup{remote}}
	ref, err := Parse("pkg")
	require.NoError(t, err)

	referent, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, target.String(), referent.Item.String())
	require.Equal(t, "pkg", *referent.Tag)
}

func TestResolverReturnsNotFoundWhenNoRemoteMatches(t *testing.T) {
	local := &fakeTagLookup{items: map[string]id.Id{}}
	r := &Resolver{Local: local}
	ref, err := Parse("missing")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), ref)
	require.Error(t, err)
	require.Equal(t, tgerror.NotFound, tgerror.KindOf(err))
}

type namedLookup struct {
	name string
	*fakeTagLookup
}

func (n *namedLookup) Name() string { return n.name }
