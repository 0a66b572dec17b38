// Package index implements tangram's transactional secondary index
// (spec.md §4.2): object/process metadata, completeness propagation, the
// tag tree, and cache-entry bookkeeping, backed by a cgo-free SQLite
// driver so the whole server stays a static binary, the same property
// go-git's storage layer favors by keeping its own dependency set light.
package index

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Index wraps a single-writer SQLite database implementing spec.md §4.2.
// All mutating operations run inside a database/sql transaction opened
// with the driver's default BEGIN; the pool is pinned to one connection,
// so transactions never overlap (§5's single-writer discipline).
// SQLITE_BUSY is retried with exponential
// backoff rather than surfaced to the caller, since lock contention here
// is always transient (one process, one writer goroutine at a time by
// convention).
type Index struct {
	db       *sql.DB
	nextTx   atomic.Int64
	tagCache *tagTreeCache
}

// Open opens or creates the index database at dsn (a filesystem path, or
// ":memory:" for tests) and applies the schema.
func Open(dsn string) (*Index, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "opening index database %s", dsn)
	}
	// The cgo-free driver does not implement its own connection pool
	// semantics for concurrent writers; pin to one writer connection so
	// transaction contention is resolved by Go's sql.DB queueing rather
	// than by the driver.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, tgerror.Wrap(tgerror.IO, err, "applying index schema")
	}

	idx := &Index{db: db, tagCache: newTagTreeCache()}
	if err := idx.seedRoot(); err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.loadTxnCounter(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func (idx *Index) seedRoot() error {
	_, err := idx.db.Exec(`INSERT OR IGNORE INTO tags (node_id, parent_id, component, child_count) VALUES (0, 0, '', 0)`)
	if err != nil {
		return tgerror.Wrap(tgerror.IO, err, "seeding tag tree root")
	}
	return nil
}

func (idx *Index) loadTxnCounter() error {
	var max sql.NullInt64
	row := idx.db.QueryRow(`SELECT MAX(txn_id) FROM (
		SELECT txn_id FROM objects UNION ALL SELECT txn_id FROM processes
	)`)
	if err := row.Scan(&max); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "loading transaction counter")
	}
	idx.nextTx.Store(max.Int64)
	return nil
}

// nextTxnId hands out the monotonic transaction ids spec.md §4.2 requires
// for idempotent retry and queue ordering.
func (idx *Index) nextTxnId() int64 {
	return idx.nextTx.Add(1)
}

// withTx runs fn inside a transaction (db.BeginTx with default options),
// retrying on SQLITE_BUSY with github.com/cenkalti/backoff/v4 the same way
// SPEC_FULL.md §4.10 retries remote reconnects — a transient-failure
// policy reused across the two places the system waits on an external
// resource.
func (idx *Index) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	return backoff.Retry(func() error {
		tx, err := idx.db.BeginTx(ctx, nil)
		if err != nil {
			return classifyTxErr(err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return classifyTxErr(err)
		}
		if err := tx.Commit(); err != nil {
			return classifyTxErr(err)
		}
		return nil
	}, policy)
}

// classifyTxErr marks SQLITE_BUSY as retryable for backoff.Retry and
// everything else as permanent, so an actual constraint violation fails
// fast instead of retrying eight times for no reason.
func classifyTxErr(err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isBusy(err error) bool {
	// go-sqlite3 surfaces SQLITE_BUSY/SQLITE_LOCKED via an error whose
	// message contains the sqlite result code text; a string check keeps
	// this independent of the driver's specific error type.
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED") || strings.Contains(msg, "database is locked")
}

func now() int64 {
	return time.Now().UnixMilli()
}
