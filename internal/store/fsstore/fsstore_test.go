package fsstore

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(memfs.New())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	frame := []byte{0x00, 1, 'h', 'i'}
	oid, err := s.Put(ctx, id.Leaf, frame)
	require.NoError(t, err)

	got, err := s.Get(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, frame, got)

	has, err := s.Has(ctx, oid)
	require.NoError(t, err)
	require.True(t, has)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing, err := id.NewRandom(id.Process)
	require.NoError(t, err)
	_, err = s.Get(ctx, missing)
	require.Error(t, err)
}

func TestLargeFrameIsCompressedTransparently(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	frame := append([]byte{0x00, 1}, []byte(strings.Repeat("a", compressThreshold*4))...)
	oid, err := s.Put(ctx, id.Leaf, frame)
	require.NoError(t, err)

	// Bypass the read cache to force disk decompression.
	s.cache.Remove(oid.String())
	got, err := s.Get(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

func TestPutBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ids, err := s.PutBatch(ctx, []store.PutRequest{
		{Kind: id.Leaf, Frame: []byte{0x00, 1, 'a'}},
		{Kind: id.Leaf, Frame: []byte{0x00, 1, 'b'}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, oid := range ids {
		has, err := s.Has(ctx, oid)
		require.NoError(t, err)
		require.True(t, has)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	oid, err := s.Put(ctx, id.Leaf, []byte{0x00, 1, 'x'})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, oid))

	has, err := s.Has(ctx, oid)
	require.NoError(t, err)
	require.False(t, has)
}

func TestWritesAreShardedByIdBody(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	oid, err := s.Put(ctx, id.Leaf, []byte{0x00, 1, 'z'})
	require.NoError(t, err)

	info, err := s.fs.Stat(s.path(oid))
	require.NoError(t, err)
	require.False(t, info.IsDir())
}
