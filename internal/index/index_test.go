package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func mustRandomId(t *testing.T, kind id.Kind) id.Id {
	t.Helper()
	i, err := id.NewRandom(kind)
	require.NoError(t, err)
	return i
}

func mustLeaf(t *testing.T, body string) id.Id {
	t.Helper()
	return id.NewContentAddressed(id.Leaf, []byte(body))
}

func TestPutAndGetObject(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	oid := mustLeaf(t, "a")
	err := idx.PutObject(ctx, PutObjectRequest{Id: oid, Complete: true, Size: 1, TouchedAt: 100})
	require.NoError(t, err)

	row, err := idx.GetObject(ctx, oid)
	require.NoError(t, err)
	require.True(t, row.Complete)
	require.Equal(t, int64(1), row.Size)
}

func TestObjectNotFound(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	_, err := idx.GetObject(ctx, mustLeaf(t, "missing"))
	require.Error(t, err)
}

func TestCompletenessPropagatesToParent(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	child := mustLeaf(t, "child")
	parent := mustLeaf(t, "parent")

	require.NoError(t, idx.PutObject(ctx, PutObjectRequest{Id: parent, Children: []id.Id{child}, Complete: false, TouchedAt: 1}))

	row, err := idx.GetObject(ctx, parent)
	require.NoError(t, err)
	require.False(t, row.Complete)

	require.NoError(t, idx.PutObject(ctx, PutObjectRequest{Id: child, Complete: true, TouchedAt: 2}))

	row, err = idx.GetObject(ctx, parent)
	require.NoError(t, err)
	require.True(t, row.Complete)
}

func TestSpawnCreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	cmd := mustRandomId(t, id.Command)
	pid, reused, err := idx.Spawn(ctx, SpawnRequest{Command: cmd, Cacheable: true, Cached: true, CacheTTL: 1000, Now: 10})
	require.NoError(t, err)
	require.False(t, reused)

	require.NoError(t, idx.Transition(ctx, pid, StatusEnqueued, 11))
	require.NoError(t, idx.Transition(ctx, pid, StatusDequeued, 12))
	require.NoError(t, idx.Transition(ctx, pid, StatusStarted, 13))
	require.NoError(t, idx.Finish(ctx, pid, FinishRequest{Exit: 0, At: 14}))

	again, reused, err := idx.Spawn(ctx, SpawnRequest{Command: cmd, Cacheable: true, Cached: true, CacheTTL: 1000, Now: 20})
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, pid.String(), again.String())
}

func TestSpawnRejectsNetworkWithoutChecksum(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	cmd := mustRandomId(t, id.Command)
	_, _, err := idx.Spawn(ctx, SpawnRequest{Command: cmd, Network: true, Now: 1})
	require.Error(t, err)
}

func TestTransitionRejectsBackwardMove(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	cmd := mustRandomId(t, id.Command)
	pid, _, err := idx.Spawn(ctx, SpawnRequest{Command: cmd, Now: 1})
	require.NoError(t, err)

	require.NoError(t, idx.Transition(ctx, pid, StatusEnqueued, 2))
	err = idx.Transition(ctx, pid, StatusCreated, 3)
	require.Error(t, err)
}

func TestFinishMarksChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	cmd := mustRandomId(t, id.Command)

	pid, _, err := idx.Spawn(ctx, SpawnRequest{
		Command:  cmd,
		Network:  true,
		Checksum: &Checksum{Algorithm: "sha256", Digest: "AAA"},
		Now:      1,
	})
	require.NoError(t, err)

	err = idx.Finish(ctx, pid, FinishRequest{
		Exit:             0,
		ComputedChecksum: &Checksum{Algorithm: "sha256", Digest: "BBB"},
		At:               2,
	})
	require.NoError(t, err)

	row, err := idx.GetProcess(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, "checksum-mismatch", row.ErrorKind)

	// A subsequent cached spawn must not reuse this process.
	_, reused, err := idx.Spawn(ctx, SpawnRequest{Command: cmd, Cacheable: true, Cached: true, CacheTTL: 1000, Now: 3})
	require.NoError(t, err)
	require.False(t, reused)
}

func TestCancelCascadesToChildren(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	parentCmd := mustRandomId(t, id.Command)
	childCmd := mustRandomId(t, id.Command)

	parent, _, err := idx.Spawn(ctx, SpawnRequest{Command: parentCmd, Now: 1})
	require.NoError(t, err)
	child, _, err := idx.Spawn(ctx, SpawnRequest{Command: childCmd, Parent: &parent, Now: 2})
	require.NoError(t, err)

	require.NoError(t, idx.Cancel(ctx, parent, 3))

	parentRow, err := idx.GetProcess(ctx, parent)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, parentRow.Status)

	childRow, err := idx.GetProcess(ctx, child)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, childRow.Status)
	require.Equal(t, "cancelled", childRow.ErrorKind)
}

func TestHeartbeatSweepMarksLost(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	cmd := mustRandomId(t, id.Command)

	pid, _, err := idx.Spawn(ctx, SpawnRequest{Command: cmd, Now: 1})
	require.NoError(t, err)
	require.NoError(t, idx.Transition(ctx, pid, StatusEnqueued, 2))
	require.NoError(t, idx.Transition(ctx, pid, StatusDequeued, 3))
	require.NoError(t, idx.Transition(ctx, pid, StatusStarted, 4))
	require.NoError(t, idx.Heartbeat(ctx, pid, 5))

	n, err := idx.SweepLostHeartbeats(ctx, 10, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	row, err := idx.GetProcess(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, StatusFinished, row.Status)
	require.Equal(t, "heartbeat-lost", row.ErrorKind)
}

func TestTagPutResolveDelete(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	target := mustLeaf(t, "tagged")

	require.NoError(t, idx.PutTag(ctx, []string{"std", "json"}, target))

	got, err := idx.ResolveTag(ctx, []string{"std", "json"})
	require.NoError(t, err)
	require.Equal(t, target.String(), got.String())

	children, err := idx.ListChildren(ctx, []string{"std"}, false)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "json", children[0].Component)

	require.NoError(t, idx.DeleteTag(ctx, []string{"std", "json"}))
	_, err = idx.ResolveTag(ctx, []string{"std", "json"})
	require.Error(t, err)
}

func TestTagConflictUnderLeaf(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	target := mustLeaf(t, "leaf-target")

	require.NoError(t, idx.PutTag(ctx, []string{"pkg"}, target))
	err := idx.PutTag(ctx, []string{"pkg", "sub"}, target)
	require.Error(t, err)
}

func TestCacheEntryLifecycle(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	artifact := mustLeaf(t, "cached-artifact")

	require.NoError(t, idx.PutCacheEntry(ctx, artifact, 5))
	touched, err := idx.CacheEntryTouchedAt(ctx, artifact)
	require.NoError(t, err)
	require.Equal(t, int64(5), touched)

	stale, err := idx.StaleCacheEntries(ctx, 10, 100)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, idx.DeleteCacheEntry(ctx, artifact))
	_, err = idx.CacheEntryTouchedAt(ctx, artifact)
	require.Error(t, err)
}
