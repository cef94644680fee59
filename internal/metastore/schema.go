package metastore

// schema is the idempotent DDL for the metadata store. Unlike the
// file-based NNN_name.up.sql migration runner this was adapted from, a
// single embedded-constant schema is enough here: every statement is
// IF NOT EXISTS and there is exactly one schema version to reach.
const schema = `
CREATE TABLE IF NOT EXISTS pending_memories (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL DEFAULT 'default',
	content     TEXT NOT NULL,
	layer       TEXT NOT NULL,
	category    TEXT,
	confidence  REAL NOT NULL,
	change_type TEXT NOT NULL,
	proposer    TEXT NOT NULL,
	reason      TEXT,
	target_id   TEXT,
	status      TEXT NOT NULL DEFAULT 'pending',
	approvals   TEXT NOT NULL DEFAULT '[]',
	valid_at    TEXT,
	expires_at  TEXT,
	session_id  TEXT,
	created_by  TEXT,
	related_files TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_memories_status ON pending_memories(status);

CREATE TABLE IF NOT EXISTS identity_changes (
	change_id        TEXT PRIMARY KEY,
	project_id       TEXT NOT NULL DEFAULT 'default',
	target_id        TEXT,
	change_type      TEXT NOT NULL,
	proposed_content TEXT NOT NULL,
	reason           TEXT,
	category         TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	approvals_count  INTEGER NOT NULL DEFAULT 0,
	approvals        TEXT NOT NULL DEFAULT '[]',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	applied_at       TEXT
);

CREATE INDEX IF NOT EXISTS idx_identity_changes_status ON identity_changes(status);

CREATE TABLE IF NOT EXISTS checklist_items (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	content      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'open',
	scope        TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 3,
	tags         TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	completed_at TEXT,
	expires_at   TEXT
);

CREATE INDEX IF NOT EXISTS idx_checklist_items_project ON checklist_items(project_id, status);

CREATE TABLE IF NOT EXISTS session_archive (
	session_id   TEXT PRIMARY KEY,
	started_at   TEXT NOT NULL,
	ended_at     TEXT,
	files_touched TEXT NOT NULL DEFAULT '[]',
	memory_ops   INTEGER NOT NULL DEFAULT 0,
	file_mods    INTEGER NOT NULL DEFAULT 0,
	summary      TEXT
);
`
