package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
	message_id   TEXT PRIMARY KEY,
	category     TEXT NOT NULL DEFAULT '',
	processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_records (
	id               TEXT PRIMARY KEY,
	source_message_id TEXT NOT NULL,
	sender           TEXT NOT NULL DEFAULT '',
	received_at      DATETIME NOT NULL,
	company          TEXT NOT NULL DEFAULT '',
	incident_code    TEXT NOT NULL DEFAULT '',
	matched_category TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	retained_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pending_retained_at ON pending_records(retained_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
