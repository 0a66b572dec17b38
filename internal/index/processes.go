package index

import (
	"context"
	"database/sql"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Status is a process's lifecycle stage, spec.md §3.3: monotonic, never
// skipping backward.
type Status string

const (
	StatusCreated  Status = "created"
	StatusEnqueued Status = "enqueued"
	StatusDequeued Status = "dequeued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
)

var statusOrder = map[Status]int{
	StatusCreated:  0,
	StatusEnqueued: 1,
	StatusDequeued: 2,
	StatusStarted:  3,
	StatusFinished: 4,
}

// Checksum is (algorithm, digest), spec.md §4.5.1.
type Checksum struct {
	Algorithm string
	Digest    string
}

// Compatible implements spec.md §4.5.1's checksum compatibility relation.
func (c *Checksum) Compatible(other *Checksum) bool {
	if c == nil && other == nil {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	return c.Algorithm == other.Algorithm && c.Digest == other.Digest
}

// SpawnRequest is spec.md §4.5's spawn(arg).
type SpawnRequest struct {
	Command   id.Id
	Parent    *id.Id
	Cacheable bool
	Checksum  *Checksum
	Network   bool
	Retry     bool
	Cached    bool // false disables reuse; defaults to true at the call site
	CacheTTL  int64
	Now       int64
}

// ProcessRow is spec.md §3.3's process record.
type ProcessRow struct {
	Id        id.Id
	Command   id.Id
	Parent    *id.Id
	Cacheable bool
	Checksum  *Checksum
	Network   bool
	Retry     bool
	Status    Status
	Exit      *int
	ErrorKind string
	Output    []byte
	CreatedAt int64
	TouchedAt int64
}

// Spawn implements spec.md §4.5's reuse-or-create decision.
func (idx *Index) Spawn(ctx context.Context, req SpawnRequest) (id.Id, bool, error) {
	if req.Network && req.Checksum == nil {
		return id.Id{}, false, tgerror.New(tgerror.InvalidArgument, "network=true requires a checksum at spawn time")
	}

	var reused id.Id
	var didReuse bool

	err := idx.withTx(ctx, func(tx *sql.Tx) error {
		if req.Cached {
			candidate, checksum, err := findReusable(ctx, tx, req.Command, req.CacheTTL, req.Now)
			if err != nil {
				return err
			}
			if candidate != nil && req.Checksum.Compatible(checksum) {
				if _, err := tx.ExecContext(ctx, `UPDATE processes SET touched_at = ? WHERE id = ?`, req.Now, candidate.String()); err != nil {
					return tgerror.Wrap(tgerror.IO, err, "touching reused process %s", candidate)
				}
				reused = *candidate
				didReuse = true
				return nil
			}
		}

		newId, err := id.NewRandom(id.Process)
		if err != nil {
			return tgerror.Wrap(tgerror.Internal, err, "generating process id")
		}
		txnId := idx.nextTxnId()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO processes (
				id, command_id, parent_id, cacheable, checksum_algo, checksum_digest,
				network, retry, status, created_at, touched_at, txn_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, newId.String(), req.Command.String(), optionalIdString(req.Parent), boolInt(req.Cacheable),
			checksumAlgo(req.Checksum), checksumDigest(req.Checksum), boolInt(req.Network), boolInt(req.Retry),
			string(StatusCreated), req.Now, req.Now, txnId)
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "inserting process row")
		}

		if req.Parent != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO process_children (parent_id, child_id, position)
				VALUES (?, ?, (SELECT COUNT(*) FROM process_children WHERE parent_id = ?))
			`, req.Parent.String(), newId.String(), req.Parent.String()); err != nil {
				return tgerror.Wrap(tgerror.IO, err, "linking process %s to parent %s", newId, req.Parent)
			}
		}

		reused = newId
		return nil
	})
	if err != nil {
		return id.Id{}, false, err
	}
	return reused, didReuse, nil
}

func findReusable(ctx context.Context, tx *sql.Tx, command id.Id, ttl, now int64) (*id.Id, *Checksum, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, checksum_algo, checksum_digest FROM processes
		WHERE command_id = ? AND status = ? AND cacheable = 1 AND error_kind IS NULL
		AND touched_at >= ?
		ORDER BY touched_at DESC
	`, command.String(), string(StatusFinished), now-ttl)
	if err != nil {
		return nil, nil, tgerror.Wrap(tgerror.IO, err, "searching for reusable process")
	}
	defer rows.Close()

	for rows.Next() {
		var idStr string
		var algo, digest sql.NullString
		if err := rows.Scan(&idStr, &algo, &digest); err != nil {
			return nil, nil, tgerror.Wrap(tgerror.IO, err, "scanning reuse candidate")
		}
		cid, err := id.Parse(idStr)
		if err != nil {
			return nil, nil, tgerror.Wrap(tgerror.Internal, err, "parsing reuse candidate id")
		}
		var checksum *Checksum
		if algo.Valid {
			checksum = &Checksum{Algorithm: algo.String, Digest: digest.String}
		}
		return &cid, checksum, nil
	}
	return nil, nil, rows.Err()
}

// Transition advances a process's status, rejecting any non-monotonic move
// per spec.md §3.3.
func (idx *Index) Transition(ctx context.Context, pid id.Id, to Status, at int64) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		row := tx.QueryRowContext(ctx, `SELECT status FROM processes WHERE id = ?`, pid.String())
		if err := row.Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return tgerror.New(tgerror.NotFound, "process %s not found", pid)
			}
			return tgerror.Wrap(tgerror.IO, err, "reading process %s status", pid)
		}
		if statusOrder[to] <= statusOrder[Status(current)] {
			return tgerror.New(tgerror.Conflict, "process %s: cannot transition %s -> %s", pid, current, to)
		}

		column := map[Status]string{
			StatusEnqueued: "enqueued_at",
			StatusDequeued: "dequeued_at",
			StatusStarted:  "started_at",
			StatusFinished: "finished_at",
		}[to]

		query := `UPDATE processes SET status = ?`
		args := []any{string(to)}
		if column != "" {
			query += `, ` + column + ` = ?`
			args = append(args, at)
		}
		query += ` WHERE id = ?`
		args = append(args, pid.String())

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "transitioning process %s to %s", pid, to)
		}
		return nil
	})
}

// FinishRequest is spec.md §4.5's finish(id, {...}).
type FinishRequest struct {
	Exit             int
	Output           []byte
	ErrorKind        string
	ComputedChecksum *Checksum
	At               int64
}

// Finish records a process's terminal state, demoting it to a
// checksum-mismatch error (making it non-reusable) when the declared
// checksum does not match the computed one, per spec.md §4.5.1.
func (idx *Index) Finish(ctx context.Context, pid id.Id, req FinishRequest) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		var declaredAlgo, declaredDigest sql.NullString
		row := tx.QueryRowContext(ctx, `SELECT checksum_algo, checksum_digest FROM processes WHERE id = ?`, pid.String())
		if err := row.Scan(&declaredAlgo, &declaredDigest); err != nil {
			if err == sql.ErrNoRows {
				return tgerror.New(tgerror.NotFound, "process %s not found", pid)
			}
			return tgerror.Wrap(tgerror.IO, err, "reading process %s checksum", pid)
		}

		errorKind := req.ErrorKind
		if declaredAlgo.Valid && req.ComputedChecksum != nil {
			if declaredAlgo.String != req.ComputedChecksum.Algorithm || declaredDigest.String != req.ComputedChecksum.Digest {
				errorKind = string(tgerror.ChecksumMismatch)
			}
		}

		var output any
		if errorKind == "" || req.Exit == 0 {
			output = req.Output
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE processes
			SET status = ?, exit_code = ?, error_kind = NULLIF(?, ''), output = ?, finished_at = ?, touched_at = ?
			WHERE id = ?
		`, string(StatusFinished), req.Exit, errorKind, output, req.At, req.At, pid.String())
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "finishing process %s", pid)
		}
		return nil
	})
}

// Heartbeat records a liveness ping from a runner (spec.md §4.5.3).
func (idx *Index) Heartbeat(ctx context.Context, pid id.Id, at int64) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE processes SET heartbeat_at = ? WHERE id = ? AND status = ?`, at, pid.String(), string(StatusStarted))
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "recording heartbeat for %s", pid)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return tgerror.New(tgerror.NotFound, "process %s is not in started status", pid)
		}
		return nil
	})
}

// SweepLostHeartbeats marks any started process whose heartbeat has not
// been renewed within timeout as errored-finished (spec.md §4.5.3), run
// periodically as an index background task.
func (idx *Index) SweepLostHeartbeats(ctx context.Context, timeout, now int64) (int, error) {
	var affected int64
	err := idx.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE processes
			SET status = ?, exit_code = 1, error_kind = ?, finished_at = ?, touched_at = ?
			WHERE status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at + ? < ?
		`, string(StatusFinished), string(tgerror.HeartbeatLost), now, now, string(StatusStarted), timeout, now)
		if err != nil {
			return tgerror.Wrap(tgerror.IO, err, "sweeping lost heartbeats")
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// Cancel transitions a process (and, transitively, its children) to
// finished with a cancellation error, per spec.md §4.5.4.
func (idx *Index) Cancel(ctx context.Context, pid id.Id, at int64) error {
	return idx.withTx(ctx, func(tx *sql.Tx) error {
		return cancelRecursive(ctx, tx, pid, at)
	})
}

func cancelRecursive(ctx context.Context, tx *sql.Tx, pid id.Id, at int64) error {
	var status string
	row := tx.QueryRowContext(ctx, `SELECT status FROM processes WHERE id = ?`, pid.String())
	if err := row.Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return tgerror.New(tgerror.NotFound, "process %s not found", pid)
		}
		return tgerror.Wrap(tgerror.IO, err, "reading process %s", pid)
	}
	if status != string(StatusFinished) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE processes SET status = ?, exit_code = 1, error_kind = 'cancelled', finished_at = ?, touched_at = ?
			WHERE id = ?
		`, string(StatusFinished), at, at, pid.String()); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "cancelling process %s", pid)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT child_id FROM process_children WHERE parent_id = ? ORDER BY position`, pid.String())
	if err != nil {
		return tgerror.Wrap(tgerror.IO, err, "finding children of %s", pid)
	}
	var children []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return tgerror.Wrap(tgerror.IO, err, "scanning child of %s", pid)
		}
		children = append(children, c)
	}
	rows.Close()

	for _, c := range children {
		cid, err := id.Parse(c)
		if err != nil {
			return tgerror.Wrap(tgerror.Internal, err, "parsing child id")
		}
		if err := cancelRecursive(ctx, tx, cid, at); err != nil {
			return err
		}
	}
	return nil
}

// Children returns the ordered child process ids of pid, supporting the
// CLI's `process children` subcommand (SPEC_FULL.md §10 supplement).
func (idx *Index) Children(ctx context.Context, pid id.Id) ([]id.Id, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT child_id FROM process_children WHERE parent_id = ? ORDER BY position`, pid.String())
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "listing children of %s", pid)
	}
	defer rows.Close()
	var out []id.Id
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "scanning child of %s", pid)
		}
		cid, err := id.Parse(s)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing child id")
		}
		out = append(out, cid)
	}
	return out, rows.Err()
}

// GetProcess returns the row for pid, or NotFound.
func (idx *Index) GetProcess(ctx context.Context, pid id.Id) (*ProcessRow, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT command_id, parent_id, cacheable, checksum_algo, checksum_digest,
			network, retry, status, exit_code, error_kind, output, created_at, touched_at
		FROM processes WHERE id = ?
	`, pid.String())

	var (
		commandStr           string
		parentStr            sql.NullString
		cacheable            int
		checksumAlgoVal      sql.NullString
		checksumDigestVal    sql.NullString
		network, retry       int
		status               string
		exitCode             sql.NullInt64
		errorKind            sql.NullString
		output               []byte
		createdAt, touchedAt int64
	)
	if err := row.Scan(&commandStr, &parentStr, &cacheable, &checksumAlgoVal, &checksumDigestVal,
		&network, &retry, &status, &exitCode, &errorKind, &output, &createdAt, &touchedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, tgerror.New(tgerror.NotFound, "process %s not found", pid)
		}
		return nil, tgerror.Wrap(tgerror.IO, err, "reading process %s", pid)
	}

	command, err := id.Parse(commandStr)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.Internal, err, "parsing command id")
	}

	out := &ProcessRow{
		Id:        pid,
		Command:   command,
		Cacheable: cacheable != 0,
		Network:   network != 0,
		Retry:     retry != 0,
		Status:    Status(status),
		ErrorKind: errorKind.String,
		Output:    output,
		CreatedAt: createdAt,
		TouchedAt: touchedAt,
	}
	if parentStr.Valid {
		p, err := id.Parse(parentStr.String)
		if err != nil {
			return nil, tgerror.Wrap(tgerror.Internal, err, "parsing parent id")
		}
		out.Parent = &p
	}
	if checksumAlgoVal.Valid {
		out.Checksum = &Checksum{Algorithm: checksumAlgoVal.String, Digest: checksumDigestVal.String}
	}
	if exitCode.Valid {
		e := int(exitCode.Int64)
		out.Exit = &e
	}
	return out, nil
}

func checksumAlgo(c *Checksum) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: c.Algorithm, Valid: true}
}

func checksumDigest(c *Checksum) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: c.Digest, Valid: true}
}
