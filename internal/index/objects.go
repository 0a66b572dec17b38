package index

import (
	"context"
	"database/sql"

	"github.com/RoaringBitmap/roaring"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// ObjectMetadata carries the cached derived metadata of spec.md §3.2
// ("count, depth, weight... must equal the values computable by recursive
// traversal").
type ObjectMetadata struct {
	Count  int64
	Depth  int64
	Weight int64
}

// PutObjectRequest is spec.md §4.2's put_object operation.
type PutObjectRequest struct {
	Id         id.Id
	Children   []id.Id
	Complete   bool
	CacheEntry *id.Id
	Metadata   ObjectMetadata
	Size       int64
	TouchedAt  int64
}

// PutObject records an object row plus its child edges and, if Complete is
// false, enters it into the completeness propagation queue (spec.md
// §4.2 "Completeness"). It is idempotent under retry with the same
// transaction id.
func (idx *Index) PutObject(ctx context.Context, req PutObjectRequest) error {
	txnId := idx.nextTxnId()
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO objects (id, size, complete, cache_entry, count, depth, weight, touched_at, txn_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				complete = MAX(objects.complete, excluded.complete),
				cache_entry = COALESCE(excluded.cache_entry, objects.cache_entry),
				touched_at = excluded.touched_at,
				txn_id = excluded.txn_id
		`, req.Id.String(), req.Size, boolInt(req.Complete), optionalIdString(req.CacheEntry),
			req.Metadata.Count, req.Metadata.Depth, req.Metadata.Weight, req.TouchedAt, txnId)
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "upserting object %s", req.Id)
		}

		for _, child := range req.Children {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO object_children (parent_id, child_id) VALUES (?, ?)
			`, req.Id.String(), child.String()); err != nil {
				return tgerror.Wrap(tgerror.IO, err, "linking %s -> %s", req.Id, child)
			}
		}

		if !req.Complete {
			if err := enqueueCompleteness(ctx, tx, txnId, req.Id); err != nil {
				return err
			}
		} else {
			if err := propagateCompleteness(ctx, tx, req.Id); err != nil {
				return err
			}
		}
		return nil
	})
}

// TouchObject updates touched_at for an existing row, spec.md §4.2's
// touch_object, failing with not-found per §4.2 "Failures" if the id is
// unknown.
func (idx *Index) TouchObject(ctx context.Context, oid id.Id, touchedAt int64) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE objects SET touched_at = ? WHERE id = ?`, touchedAt, oid.String())
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "touching object %s", oid)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "touching object %s", oid)
		}
		if n == 0 {
			return tgerror.New(tgerror.NotFound, "object %s not found", oid)
		}
		return nil
	})
}

// ObjectRow is the full row shape of spec.md §4.2's object rows.
type ObjectRow struct {
	Id         id.Id
	Size       int64
	Complete   bool
	CacheEntry *id.Id
	Metadata   ObjectMetadata
	TouchedAt  int64
	Children   []id.Id
}

// GetObject returns the row for oid, or NotFound.
func (idx *Index) GetObject(ctx context.Context, oid id.Id) (*ObjectRow, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT size, complete, cache_entry, count, depth, weight, touched_at
		FROM objects WHERE id = ?
	`, oid.String())

	var (
		size              int64
		complete          int
		cacheEntry        sql.NullString
		count, depth, wgt sql.NullInt64
		touchedAt         int64
	)
	if err := row.Scan(&size, &complete, &cacheEntry, &count, &depth, &wgt, &touchedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, tgerror.New(tgerror.NotFound, "object %s not found", oid)
		}
		return nil, tgerror.Wrap(tgerror.IO, err, "reading object %s", oid)
	}

	out := &ObjectRow{
		Id:        oid,
		Size:      size,
		Complete:  complete != 0,
		TouchedAt: touchedAt,
		Metadata:  ObjectMetadata{Count: count.Int64, Depth: depth.Int64, Weight: wgt.Int64},
	}
	if cacheEntry.Valid {
		cid, err := id.Parse(cacheEntry.String)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing cache entry id for %s", oid)
		}
		out.CacheEntry = &cid
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT child_id FROM object_children WHERE parent_id = ?`, oid.String())
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "reading children of %s", oid)
	}
	defer rows.Close()
	for rows.Next() {
		var childStr string
		if err := rows.Scan(&childStr); err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "scanning child of %s", oid)
		}
		cid, err := id.Parse(childStr)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing child id of %s", oid)
		}
		out.Children = append(out.Children, cid)
	}
	return out, rows.Err()
}

// DeleteObject removes an object row and its child links, used only by the
// garbage collector (spec.md §4.9).
func (idx *Index) DeleteObject(ctx context.Context, oid id.Id) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM object_children WHERE parent_id = ? OR child_id = ?`, oid.String(), oid.String()); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting child links for %s", oid)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, oid.String())
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting object %s", oid)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting object %s", oid)
		}
		if n == 0 {
			return tgerror.New(tgerror.NotFound, "object %s not found", oid)
		}
		return nil
	})
}

func enqueueCompleteness(ctx context.Context, tx *sql.Tx, txnId int64, oid id.Id) error {
	var seq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM completeness_queue WHERE txn_id = ?`, txnId)
	if err := row.Scan(&seq); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "allocating completeness queue slot")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO completeness_queue (txn_id, seq, object_id) VALUES (?, ?, ?)`, txnId, seq, oid.String())
	if err != nil {
		return tgerror.Wrap(tgerror.IO, err, "enqueueing completeness for %s", oid)
	}
	return nil
}

// propagateCompleteness runs the fixpoint of spec.md §4.2: when oid is
// (re)marked complete, visit its parents in waves, and any parent whose
// full child set is now complete is itself marked complete and its own
// parents are queued for the next wave. A roaring bitmap of 32-bit hashes
// of the ids already marked complete skips parents handled earlier in the
// walk; every other parent is checked with its own child query.
func propagateCompleteness(ctx context.Context, tx *sql.Tx, start id.Id) error {
	frontier := map[string]bool{start.String(): true}
	visited := roaring.New()

	for len(frontier) > 0 {
		next := map[string]bool{}
		for idStr := range frontier {
			rows, err := tx.QueryContext(ctx, `SELECT parent_id FROM object_children WHERE child_id = ?`, idStr)
			if err != nil {
				return tgerror.Wrap(tgerror.IO, err, "finding parents of %s", idStr)
			}
			var parents []string
			for rows.Next() {
				var p string
				if err := rows.Scan(&p); err != nil {
					rows.Close()
					return tgerror.Wrap(tgerror.IO, err, "scanning parent of %s", idStr)
				}
				parents = append(parents, p)
			}
			rows.Close()

			for _, parent := range parents {
				h := uint32(hashString(parent))
				if visited.Contains(h) {
					continue
				}
				complete, err := allChildrenComplete(ctx, tx, parent)
				if err != nil {
					return err
				}
				if !complete {
					continue
				}
				if _, err := tx.ExecContext(ctx, `UPDATE objects SET complete = 1 WHERE id = ?`, parent); err != nil {
					return tgerror.Wrap(tgerror.IO, err, "marking %s complete", parent)
				}
				visited.Add(h)
				next[parent] = true
			}
		}
		frontier = next
	}
	return nil
}

func allChildrenComplete(ctx context.Context, tx *sql.Tx, parent string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM object_children oc
		JOIN objects o ON o.id = oc.child_id
		WHERE oc.parent_id = ? AND o.complete = 0
	`, parent)
	var incomplete int
	if err := row.Scan(&incomplete); err != nil {
		return false, tgerror.Wrap(tgerror.IO, err, "checking completeness of children of %s", parent)
	}
	return incomplete == 0, nil
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func optionalIdString(oid *id.Id) sql.NullString {
	if oid == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: oid.String(), Valid: true}
}
