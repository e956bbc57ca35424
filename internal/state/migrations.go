package state

// Schema versions are ordered lexicographically and applied in order.
// The binary supports exactly the [MinSchemaVersion, MaxSchemaVersion]
// range; anything outside refuses to start.
const (
	MinSchemaVersion = "0001_init"
	MaxSchemaVersion = "0004_memory_idempotency"
)

type migration struct {
	version string
	sql     string
}

// migrationVersions returns the ordered version list.
func migrationVersions() []string {
	out := make([]string, len(postgresMigrations))
	for i, m := range postgresMigrations {
		out[i] = m.version
	}
	return out
}

var postgresMigrations = []migration{
	{
		version: "0001_init",
		sql: `
CREATE TABLE IF NOT EXISTS checkins (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    turn_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    track_type TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    outcome TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    wins TEXT[] NOT NULL DEFAULT '{}',
    barriers TEXT[] NOT NULL DEFAULT '{}',
    next_actions TEXT[] NOT NULL DEFAULT '{}',
    tags TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    source_model TEXT,
    idempotency_key TEXT NOT NULL,
    UNIQUE (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    turn_id TEXT NOT NULL,
    title TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    domain_hints TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    idempotency_key TEXT NOT NULL,
    UNIQUE (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    narrative TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    tags TEXT[] NOT NULL DEFAULT '{}',
    archived BOOLEAN NOT NULL DEFAULT FALSE,
    tombstoned BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    normalized_summary TEXT NOT NULL,
    idempotency_key TEXT
);
`,
	},
	{
		version: "0002_indexes",
		sql: `
CREATE INDEX IF NOT EXISTS idx_checkins_user_domain ON checkins (user_id, domain, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_user ON journal_entries (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_user_domain ON memories (user_id, domain);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_dedup
    ON memories (user_id, domain, normalized_summary) WHERE NOT tombstoned;
`,
	},
	{
		version: "0003_memory_audit",
		sql: `
ALTER TABLE memories ADD COLUMN IF NOT EXISTS created_by_agent TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN IF NOT EXISTS last_updated_by_agent TEXT NOT NULL DEFAULT '';
`,
	},
	{
		version: "0004_memory_idempotency",
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_idempotency
    ON memories (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
`,
	},
}

// sqliteMigrations mirrors the postgres schema for local DSNs. List
// columns hold JSON arrays; partial unique indexes work the same way.
var sqliteMigrations = []migration{
	{
		version: "0001_init",
		sql: `
CREATE TABLE IF NOT EXISTS checkins (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    turn_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    track_type TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    outcome TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    wins TEXT NOT NULL DEFAULT '[]',
    barriers TEXT NOT NULL DEFAULT '[]',
    next_actions TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    source_model TEXT,
    idempotency_key TEXT NOT NULL,
    UNIQUE (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    turn_id TEXT NOT NULL,
    title TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    domain_hints TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    idempotency_key TEXT NOT NULL,
    UNIQUE (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    narrative TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    tags TEXT NOT NULL DEFAULT '[]',
    archived INTEGER NOT NULL DEFAULT 0,
    tombstoned INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    normalized_summary TEXT NOT NULL,
    idempotency_key TEXT
);
`,
	},
	{
		version: "0002_indexes",
		sql: `
CREATE INDEX IF NOT EXISTS idx_checkins_user_domain ON checkins (user_id, domain, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_user ON journal_entries (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_user_domain ON memories (user_id, domain);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_dedup
    ON memories (user_id, domain, normalized_summary) WHERE NOT tombstoned;
`,
	},
	{
		version: "0003_memory_audit",
		sql: `
ALTER TABLE memories ADD COLUMN created_by_agent TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN last_updated_by_agent TEXT NOT NULL DEFAULT '';
`,
	},
	{
		version: "0004_memory_idempotency",
		sql: `
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_idempotency
    ON memories (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
`,
	},
}
