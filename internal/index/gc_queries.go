package index

import (
	"context"
	"database/sql"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// UnreferencedObjects returns ids of objects that are neither a root (no
// cache_entries row names them) nor reachable as a child of any other
// object, and whose own touched_at predates cutoff — candidates for the
// garbage collector's object sweep (spec.md §4.9's "objects with zero
// inbound references").
func (idx *Index) UnreferencedObjects(ctx context.Context, cutoff int64, limit int) ([]id.Id, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT o.id FROM objects o
		WHERE o.touched_at < ?
		AND NOT EXISTS (SELECT 1 FROM cache_entries ce WHERE ce.artifact_id = o.id)
		AND NOT EXISTS (SELECT 1 FROM object_children oc WHERE oc.child_id = o.id)
		ORDER BY o.touched_at ASC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "listing unreferenced objects")
	}
	defer rows.Close()

	var out []id.Id
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "scanning unreferenced object")
		}
		oid, err := id.Parse(s)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing unreferenced object id")
		}
		out = append(out, oid)
	}
	return out, rows.Err()
}

// IsUnreferenced reports whether oid currently has zero inbound
// references (no cache entry, no parent edge), independent of touched_at.
// The garbage collector's object sweep calls this as a fresh re-check
// immediately before deleting a candidate, since completing a sibling
// object mid-sweep can retroactively reference one that looked dead when
// the batch was first queried.
func (idx *Index) IsUnreferenced(ctx context.Context, oid id.Id) (bool, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT NOT EXISTS (SELECT 1 FROM cache_entries ce WHERE ce.artifact_id = ?)
		AND NOT EXISTS (SELECT 1 FROM object_children oc WHERE oc.child_id = ?)
	`, oid.String(), oid.String())
	var unreferenced bool
	if err := row.Scan(&unreferenced); err != nil {
		return false, tgerror.Wrap(tgerror.IO, err, "checking references to %s", oid)
	}
	return unreferenced, nil
}

// ExpiredProcesses returns ids of finished (succeeded, errored, or
// cancelled) processes whose last transition predates cutoff, feeding the
// garbage collector's process sweep (spec.md §4.9).
func (idx *Index) ExpiredProcesses(ctx context.Context, cutoff int64, limit int) ([]id.Id, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT id FROM processes
		WHERE status = 'finished' AND touched_at < ?
		ORDER BY touched_at ASC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "listing expired processes")
	}
	defer rows.Close()

	var out []id.Id
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "scanning expired process")
		}
		pid, err := id.Parse(s)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing expired process id")
		}
		out = append(out, pid)
	}
	return out, rows.Err()
}

// DeleteProcess removes a finished process row, used only by the garbage
// collector (spec.md §4.9). Children must already have been swept or
// reparented; this does not cascade.
func (idx *Index) DeleteProcess(ctx context.Context, pid id.Id) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM processes WHERE id = ?`, pid.String())
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting process %s", pid)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting process %s", pid)
		}
		if n == 0 {
			return tgerror.New(tgerror.NotFound, "process %s not found", pid)
		}
		return nil
	})
}
