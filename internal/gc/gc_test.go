package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/store/memstore"
)

func newTestCollector(t *testing.T) (*Collector, *index.Index) {
	t.Helper()
	idx, err := index.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return &Collector{Index: idx, Store: memstore.New()}, idx
}

func putLeaf(t *testing.T, ctx context.Context, c *Collector, body string, touchedAt int64) id.Id {
	t.Helper()
	oid, err := c.Store.Put(ctx, id.Leaf, []byte(body))
	require.NoError(t, err)
	require.NoError(t, c.Index.PutObject(ctx, index.PutObjectRequest{Id: oid, Complete: true, Size: int64(len(body)), TouchedAt: touchedAt}))
	return oid
}

func TestRunDeletesUnreferencedObject(t *testing.T) {
	ctx := context.Background()
	c, idx := newTestCollector(t)

	oid := putLeaf(t, ctx, c, "stale", 0)

	report, err := c.Run(ctx, Options{Now: 1000, ObjectTTL: 1})
	require.NoError(t, err)
	require.Equal(t, 1, report.ObjectsDeleted)

	_, err = idx.GetObject(ctx, oid)
	require.Error(t, err)
	_, err = c.Store.Get(ctx, oid)
	require.Error(t, err)
}

func TestRunKeepsObjectReferencedByCacheEntry(t *testing.T) {
	ctx := context.Background()
	c, idx := newTestCollector(t)

	oid := putLeaf(t, ctx, c, "rooted", 0)
	require.NoError(t, idx.PutCacheEntry(ctx, oid, 0))

	report, err := c.Run(ctx, Options{Now: 1000, ObjectTTL: 1, CacheEntryTTL: 100000})
	require.NoError(t, err)
	require.Equal(t, 0, report.ObjectsDeleted)

	_, err = idx.GetObject(ctx, oid)
	require.NoError(t, err)
}

func TestRunKeepsObjectReferencedAsChild(t *testing.T) {
	ctx := context.Background()
	c, idx := newTestCollector(t)

	child := putLeaf(t, ctx, c, "child", 0)
	parentBytes := []byte("parent")
	parent, err := c.Store.Put(ctx, id.Branch, parentBytes)
	require.NoError(t, err)
	require.NoError(t, idx.PutObject(ctx, index.PutObjectRequest{
		Id: parent, Children: []id.Id{child}, Complete: true, Size: int64(len(parentBytes)), TouchedAt: 1000,
	}))

	report, err := c.Run(ctx, Options{Now: 1000, ObjectTTL: 1})
	require.NoError(t, err)
	require.Equal(t, 0, report.ObjectsDeleted)

	_, err = idx.GetObject(ctx, child)
	require.NoError(t, err)
}

func TestRunEvictsStaleCacheEntryThenDeletesObject(t *testing.T) {
	ctx := context.Background()
	c, idx := newTestCollector(t)

	oid := putLeaf(t, ctx, c, "both", 0)
	require.NoError(t, idx.PutCacheEntry(ctx, oid, 0))

	// A short cache TTL drops the cache entry first, unblocking the object
	// sweep to see oid as unreferenced within the same Run.
	report, err := c.Run(ctx, Options{Now: 1000, CacheEntryTTL: 1, ObjectTTL: 1})
	require.NoError(t, err)
	require.Equal(t, 1, report.CacheEntriesDropped)
	require.Equal(t, 1, report.ObjectsDeleted)

	_, err = idx.GetObject(ctx, oid)
	require.Error(t, err)
}

func TestRunRespectsObjectTTL(t *testing.T) {
	ctx := context.Background()
	c, idx := newTestCollector(t)

	oid := putLeaf(t, ctx, c, "fresh", 990)

	report, err := c.Run(ctx, Options{Now: 1000, ObjectTTL: 100})
	require.NoError(t, err)
	require.Equal(t, 0, report.ObjectsDeleted)

	_, err = idx.GetObject(ctx, oid)
	require.NoError(t, err)
}

func TestRunDeletesExpiredProcess(t *testing.T) {
	ctx := context.Background()
	c, idx := newTestCollector(t)

	cmdId, err := id.NewRandom(id.Command)
	require.NoError(t, err)
	pid, _, err := idx.Spawn(ctx, index.SpawnRequest{Command: cmdId, Cached: false, Now: 0})
	require.NoError(t, err)
	require.NoError(t, idx.Transition(ctx, pid, index.StatusEnqueued, 0))
	require.NoError(t, idx.Transition(ctx, pid, index.StatusDequeued, 0))
	require.NoError(t, idx.Transition(ctx, pid, index.StatusStarted, 0))
	require.NoError(t, idx.Finish(ctx, pid, index.FinishRequest{Exit: 0, At: 0}))

	report, err := c.Run(ctx, Options{Now: 1000, ProcessTTL: 1})
	require.NoError(t, err)
	require.Equal(t, 1, report.ProcessesDeleted)

	_, err = idx.GetProcess(ctx, pid)
	require.Error(t, err)
}
