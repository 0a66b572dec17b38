package index

// schema is applied once per database on open, mirroring go-git's
// gcfg-parsed config files in spirit (declarative, idempotent) but for
// tangram's secondary index (spec.md §4.2) rather than repository config.
// Every table carries the columns spec.md names explicitly; nothing here
// is speculative.
const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id          TEXT PRIMARY KEY,
	size        INTEGER NOT NULL,
	complete    INTEGER NOT NULL DEFAULT 0,
	cache_entry TEXT,
	count       INTEGER,
	depth       INTEGER,
	weight      INTEGER,
	touched_at  INTEGER NOT NULL,
	txn_id      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS object_children (
	parent_id TEXT NOT NULL,
	child_id  TEXT NOT NULL,
	PRIMARY KEY (parent_id, child_id)
);
CREATE INDEX IF NOT EXISTS object_children_child_idx ON object_children(child_id);

CREATE TABLE IF NOT EXISTS processes (
	id                TEXT PRIMARY KEY,
	command_id        TEXT NOT NULL,
	parent_id         TEXT,
	cacheable         INTEGER NOT NULL DEFAULT 0,
	checksum_algo     TEXT,
	checksum_digest   TEXT,
	network           INTEGER NOT NULL DEFAULT 0,
	retry             INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	exit_code         INTEGER,
	error_kind        TEXT,
	error_message     TEXT,
	output            BLOB,
	log_id            TEXT,
	stdin_id          TEXT,
	stdout_id         TEXT,
	stderr_id         TEXT,
	complete_children INTEGER NOT NULL DEFAULT 0,
	complete_command  INTEGER NOT NULL DEFAULT 0,
	complete_output   INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	enqueued_at       INTEGER,
	dequeued_at       INTEGER,
	started_at        INTEGER,
	finished_at       INTEGER,
	heartbeat_at      INTEGER,
	touched_at        INTEGER,
	txn_id            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS processes_command_idx ON processes(command_id, status);
CREATE INDEX IF NOT EXISTS processes_parent_idx ON processes(parent_id);

CREATE TABLE IF NOT EXISTS process_children (
	parent_id TEXT NOT NULL,
	child_id  TEXT NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS tags (
	node_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id   INTEGER NOT NULL,
	component   TEXT NOT NULL,
	item        TEXT,
	child_count INTEGER NOT NULL DEFAULT 0,
	cached_at   INTEGER,
	UNIQUE(parent_id, component)
);
-- node 0 is the root and is seeded by db.go, not by the schema text, since
-- sqlite's AUTOINCREMENT start value isn't expressible portably in DDL.

CREATE TABLE IF NOT EXISTS cache_entries (
	artifact_id TEXT PRIMARY KEY,
	touched_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS completeness_queue (
	txn_id    INTEGER NOT NULL,
	seq       INTEGER NOT NULL,
	object_id TEXT NOT NULL,
	PRIMARY KEY (txn_id, seq)
);
`
