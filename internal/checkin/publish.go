package checkin

import (
	"context"

	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/messenger"
)

// publishSubject is the messenger topic carrying freshly checked-in
// object ids, mirrored to anything subscribed for cache invalidation or
// progress reporting (spec.md §4.3 step 7).
const publishSubject = "objects.checkin"

// publish implements spec.md §4.3 step 7: batches every object emitted by
// this checkin into the index with complete=true (the whole subtree is
// local by construction) and touched_at = now, then announces each id on
// the messenger.
func publish(ctx context.Context, idx *index.Index, m *messenger.Messenger, emitted []emittedObject, now int64) error {
	metadata := computeMetadata(emitted)
	for _, obj := range emitted {
		meta := metadata[obj.id.String()]
		if err := idx.PutObject(ctx, index.PutObjectRequest{
			Id:        obj.id,
			Children:  obj.children,
			Complete:  true,
			Metadata:  meta,
			Size:      obj.size,
			TouchedAt: now,
		}); err != nil {
			return err
		}
		if m != nil {
			m.Publish(publishSubject, []byte(obj.id.String()))
		}
	}
	return nil
}

// computeMetadata derives count/depth/weight for every object in this
// batch (spec.md §3.2's cached derived metadata). Children outside the
// batch (already-complete objects from a prior checkin) are treated as
// single leaves of unknown internal size, since recomputing their full
// metadata would require re-reading the whole index; their own rows
// already carry accurate metadata from when they were first published.
func computeMetadata(emitted []emittedObject) map[string]index.ObjectMetadata {
	byId := make(map[string]emittedObject, len(emitted))
	for _, o := range emitted {
		byId[o.id.String()] = o
	}

	memo := make(map[string]index.ObjectMetadata, len(emitted))
	var visit func(idStr string) index.ObjectMetadata
	visit = func(idStr string) index.ObjectMetadata {
		if m, ok := memo[idStr]; ok {
			return m
		}
		obj, ok := byId[idStr]
		if !ok {
			return index.ObjectMetadata{Count: 1, Depth: 1}
		}
		// mark a provisional entry to guard against runaway recursion if a
		// malformed batch ever contained a same-batch cycle outside a graph
		// object (which emit.go never produces, but defense is cheap here).
		memo[idStr] = index.ObjectMetadata{Count: 1, Depth: 1, Weight: obj.size}

		var count, depth, weight int64 = 1, 0, obj.size
		for _, child := range obj.children {
			cm := visit(child.String())
			count += cm.Count
			weight += cm.Weight
			if cm.Depth+1 > depth {
				depth = cm.Depth + 1
			}
		}
		if depth == 0 {
			depth = 1
		}
		m := index.ObjectMetadata{Count: count, Depth: depth, Weight: weight}
		memo[idStr] = m
		return m
	}

	for _, o := range emitted {
		visit(o.id.String())
	}
	return memo
}
