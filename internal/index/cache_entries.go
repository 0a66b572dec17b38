package index

import (
	"context"
	"database/sql"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// PutCacheEntry records (or refreshes) the checkout cache entry for an
// artifact, spec.md §3.5 / §4.2's put_cache_entry.
func (idx *Index) PutCacheEntry(ctx context.Context, artifact id.Id, touchedAt int64) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (artifact_id, touched_at) VALUES (?, ?)
			ON CONFLICT(artifact_id) DO UPDATE SET touched_at = excluded.touched_at
		`, artifact.String(), touchedAt)
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "upserting cache entry %s", artifact)
		}
		return nil
	})
}

// DeleteCacheEntry removes a cache entry, making the underlying object a
// store-eviction candidate subject to spec.md §4.9.
func (idx *Index) DeleteCacheEntry(ctx context.Context, artifact id.Id) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE artifact_id = ?`, artifact.String())
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting cache entry %s", artifact)
		}
		return nil
	})
}

// CacheEntryTouchedAt returns the last touch time of artifact's cache
// entry, or NotFound if none exists.
func (idx *Index) CacheEntryTouchedAt(ctx context.Context, artifact id.Id) (int64, error) {
	row := idx.db.QueryRowContext(ctx, `SELECT touched_at FROM cache_entries WHERE artifact_id = ?`, artifact.String())
	var touchedAt int64
	if err := row.Scan(&touchedAt); err != nil {
		if err == sql.ErrNoRows {
			return 0, tgerror.New(tgerror.NotFound, "cache entry %s not found", artifact)
		}
		return 0, tgerror.Wrap(tgerror.IO, err, "reading cache entry %s", artifact)
	}
	return touchedAt, nil
}

// StaleCacheEntries returns artifact ids whose cache entry has not been
// touched since before cutoff, feeding the garbage collector's first pass
// (spec.md §4.9).
func (idx *Index) StaleCacheEntries(ctx context.Context, cutoff int64, limit int) ([]id.Id, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT artifact_id FROM cache_entries WHERE touched_at < ? ORDER BY touched_at ASC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "listing stale cache entries")
	}
	defer rows.Close()

	var out []id.Id
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "scanning stale cache entry")
		}
		aid, err := id.Parse(s)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing stale cache entry id")
		}
		out = append(out, aid)
	}
	return out, rows.Err()
}
