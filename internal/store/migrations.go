package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Timestamps are
// unix nanoseconds; zero means unset.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions, messages and follow-ups",
		SQL: `
			CREATE TABLE sessions (
				id                   TEXT PRIMARY KEY,
				channel_id           TEXT NOT NULL,
				chat_id              TEXT NOT NULL,
				sender_id            TEXT NOT NULL DEFAULT '',
				mode                 TEXT NOT NULL,
				stage                TEXT NOT NULL,
				intent_score         REAL NOT NULL DEFAULT 0 CHECK (intent_score BETWEEN 0 AND 1),
				sentiment            TEXT NOT NULL,
				consecutive_negative INTEGER NOT NULL DEFAULT 0,
				facts                TEXT NOT NULL DEFAULT '{}',
				requests_human       INTEGER NOT NULL DEFAULT 0,
				notes                TEXT NOT NULL DEFAULT '',
				pending_follow_up    TEXT NOT NULL DEFAULT '',
				message_count        INTEGER NOT NULL DEFAULT 0,
				last_message_at      INTEGER NOT NULL DEFAULT 0,
				last_inbound_at      INTEGER NOT NULL DEFAULT 0,
				created_at           INTEGER NOT NULL,
				updated_at           INTEGER NOT NULL
			);

			CREATE INDEX idx_sessions_mode ON sessions (mode, updated_at);
			CREATE INDEX idx_sessions_updated ON sessions (updated_at);

			CREATE TABLE messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL,
				sender      TEXT NOT NULL,
				text        TEXT NOT NULL,
				timestamp   INTEGER NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_messages_session ON messages (session_id, id);

			CREATE TABLE follow_ups (
				id           TEXT PRIMARY KEY,
				session_id   TEXT NOT NULL,
				tier         INTEGER NOT NULL CHECK (tier BETWEEN 1 AND 3),
				status       TEXT NOT NULL,
				template     TEXT NOT NULL DEFAULT '',
				scheduled_at INTEGER NOT NULL,
				created_at   INTEGER NOT NULL,
				updated_at   INTEGER NOT NULL,
				error        TEXT NOT NULL DEFAULT '',
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_follow_ups_due ON follow_ups (status, scheduled_at);
			CREATE INDEX idx_follow_ups_session ON follow_ups (session_id, created_at);
			CREATE UNIQUE INDEX idx_follow_ups_one_pending ON follow_ups (session_id) WHERE status = 'pending';
		`,
	},
	{
		Version: 2,
		Name:    "create knowledge chunks with FTS5",
		SQL: `
			CREATE TABLE knowledge_chunks (
				id          TEXT PRIMARY KEY,
				category    TEXT NOT NULL DEFAULT 'general',
				source      TEXT NOT NULL DEFAULT '',
				content     TEXT NOT NULL,
				created_at  INTEGER NOT NULL,
				updated_at  INTEGER NOT NULL
			);

			CREATE INDEX idx_knowledge_category ON knowledge_chunks (category);

			CREATE VIRTUAL TABLE knowledge_fts USING fts5(
				content,
				category,
				content='knowledge_chunks',
				content_rowid='rowid'
			);

			CREATE TRIGGER knowledge_ai AFTER INSERT ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(rowid, content, category)
				VALUES (new.rowid, new.content, new.category);
			END;

			CREATE TRIGGER knowledge_ad AFTER DELETE ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, content, category)
				VALUES ('delete', old.rowid, old.content, old.category);
			END;

			CREATE TRIGGER knowledge_au AFTER UPDATE ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, content, category)
				VALUES ('delete', old.rowid, old.content, old.category);
				INSERT INTO knowledge_fts(rowid, content, category)
				VALUES (new.rowid, new.content, new.category);
			END;
		`,
	},
}
