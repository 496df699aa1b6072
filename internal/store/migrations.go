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

CREATE TABLE IF NOT EXISTS emails (
	id          INTEGER PRIMARY KEY,
	from_name   TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	snippet     TEXT NOT NULL DEFAULT '',
	date_epoch  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bodies (
	id          INTEGER PRIMARY KEY,
	body        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date_epoch DESC, id DESC);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS raw_messages (
	id   INTEGER PRIMARY KEY,
	raw  BLOB NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
