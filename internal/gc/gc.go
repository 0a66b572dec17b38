// Package gc implements spec.md §4.9's garbage collector: a three-pass
// sweep (stale cache entries, then zero-inbound-reference objects, then
// expired finished processes), each pass paged in batches. An object is
// deleted from the store first and from the index second, in two separate
// steps with no transaction spanning them, so a crash between the two
// leaves an index row whose bytes are gone. There is no direct
// git analogue for this (git gc operates on packs, not a secondary
// index); the batched "query a bounded page, delete it, repeat until
// dry" shape is instead grounded on how internal/index's own completeness
// propagation processes its queue in waves rather than all at once, and
// the object sweep reuses that same package's roaring-bitmap dedupe
// technique to stop re-querying candidates a fresh reference check has
// already cleared.
package gc

import (
	"context"
	"hash/fnv"

	"github.com/RoaringBitmap/roaring"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Options bounds one Run invocation.
type Options struct {
	Now           int64
	CacheEntryTTL int64 // seconds; cache entries untouched longer than this are dropped
	ObjectTTL     int64 // seconds; unreferenced objects untouched longer than this are deleted
	ProcessTTL    int64 // seconds; finished processes older than this are deleted
	BatchSize     int   // page size per query; 0 defaults to 256
	MaxBatches    int   // caps passes per category; 0 means run until dry
}

// Report summarizes one Run.
type Report struct {
	CacheEntriesDropped int
	ObjectsDeleted      int
	ProcessesDeleted    int
}

// Collector runs GC passes against one Index/Store pair.
type Collector struct {
	Index *index.Index
	Store store.Store
}

// Run executes all three passes in order: cache entries must be dropped
// before the object sweep can see their artifacts as unreferenced, and
// the object sweep runs before the process sweep since a process's
// output/command objects should already be gone by the time its row is
// reaped (spec.md §4.9's stated pass ordering).
func (c *Collector) Run(ctx context.Context, opts Options) (Report, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 256
	}

	var report Report

	dropped, err := c.sweepCacheEntries(ctx, opts.Now-opts.CacheEntryTTL, batchSize, opts.MaxBatches)
	if err != nil {
		return report, err
	}
	report.CacheEntriesDropped = dropped

	deleted, err := c.sweepObjects(ctx, opts.Now-opts.ObjectTTL, batchSize, opts.MaxBatches)
	if err != nil {
		return report, err
	}
	report.ObjectsDeleted = deleted

	reaped, err := c.sweepProcesses(ctx, opts.Now-opts.ProcessTTL, batchSize, opts.MaxBatches)
	if err != nil {
		return report, err
	}
	report.ProcessesDeleted = reaped

	return report, nil
}

func (c *Collector) sweepCacheEntries(ctx context.Context, cutoff int64, batchSize, maxBatches int) (int, error) {
	total := 0
	for batches := 0; maxBatches <= 0 || batches < maxBatches; batches++ {
		stale, err := c.Index.StaleCacheEntries(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		if len(stale) == 0 {
			return total, nil
		}
		for _, artifact := range stale {
			if err := c.Index.DeleteCacheEntry(ctx, artifact); err != nil {
				return total, err
			}
			total++
		}
		if len(stale) < batchSize {
			return total, nil
		}
	}
	return total, nil
}

// sweepObjects deletes objects with no inbound reference (neither a live
// cache entry nor a child edge from another object) whose own touched_at
// predates cutoff. Each deletion is re-checked for referencedness
// immediately before the delete, since completing a sibling object mid-
// sweep can retroactively reference a candidate that looked dead at query
// time.
// sweepObjects pages through UnreferencedObjects, which filters only by
// touched_at and carries no cursor of its own, so a candidate left in
// place (because a fresh re-check found it referenced again) would
// otherwise reappear on every subsequent page forever. stillReferenced
// tracks those ids, folded into a roaring bitmap the same way
// propagateCompleteness dedupes its visited set, so a batch that makes no
// further progress stops instead of spinning.
func (c *Collector) sweepObjects(ctx context.Context, cutoff int64, batchSize, maxBatches int) (int, error) {
	total := 0
	stillReferenced := roaring.New()
	for batches := 0; maxBatches <= 0 || batches < maxBatches; batches++ {
		candidates, err := c.Index.UnreferencedObjects(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		if len(candidates) == 0 {
			return total, nil
		}

		progressed := false
		for _, oid := range candidates {
			h := foldId(oid)
			if stillReferenced.Contains(h) {
				continue
			}
			deleted, err := c.deleteObject(ctx, oid)
			if err != nil {
				return total, err
			}
			if deleted {
				total++
				progressed = true
			} else {
				stillReferenced.Add(h)
			}
		}
		if len(candidates) < batchSize || !progressed {
			return total, nil
		}
	}
	return total, nil
}

// deleteObject re-checks oid's referencedness immediately before
// deleting, since completing a sibling object mid-sweep can retroactively
// reference a candidate that looked dead when the batch was queried. It
// reports false (no error) when oid turned out to still be referenced.
func (c *Collector) deleteObject(ctx context.Context, oid id.Id) (bool, error) {
	unreferenced, err := c.Index.IsUnreferenced(ctx, oid)
	if err != nil {
		return false, err
	}
	if !unreferenced {
		return false, nil
	}
	if err := c.Store.Delete(ctx, oid); err != nil && tgerror.KindOf(err) != tgerror.NotFound {
		return false, err
	}
	if err := c.Index.DeleteObject(ctx, oid); err != nil && tgerror.KindOf(err) != tgerror.NotFound {
		return false, err
	}
	return true, nil
}

func foldId(oid id.Id) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(oid.String()))
	return h.Sum32()
}

func (c *Collector) sweepProcesses(ctx context.Context, cutoff int64, batchSize, maxBatches int) (int, error) {
	total := 0
	for batches := 0; maxBatches <= 0 || batches < maxBatches; batches++ {
		expired, err := c.Index.ExpiredProcesses(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		if len(expired) == 0 {
			return total, nil
		}
		for _, pid := range expired {
			if err := c.Index.DeleteProcess(ctx, pid); err != nil && tgerror.KindOf(err) != tgerror.NotFound {
				return total, err
			}
			total++
		}
		if len(expired) < batchSize {
			return total, nil
		}
	}
	return total, nil
}
