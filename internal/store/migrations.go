package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create triggers and form sessions",
		SQL: `
			CREATE TABLE triggers (
				id              TEXT PRIMARY KEY,
				keyword         TEXT NOT NULL,
				form_path       TEXT NOT NULL,
				language        TEXT NOT NULL DEFAULT '',
				final_response  TEXT NOT NULL DEFAULT '',
				context         TEXT,
				created_at      TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_triggers_keyword ON triggers (keyword);

			CREATE TABLE form_sessions (
				id               TEXT PRIMARY KEY,
				conversation     TEXT NOT NULL,
				channel_id       TEXT NOT NULL,
				chat_id          TEXT NOT NULL,
				sender_id        TEXT NOT NULL DEFAULT '',
				reply_to         TEXT NOT NULL DEFAULT '',
				form_session_id  TEXT NOT NULL DEFAULT '',
				trigger_id       TEXT NOT NULL DEFAULT '',
				keyword          TEXT NOT NULL DEFAULT '',
				form_path        TEXT NOT NULL DEFAULT '',
				start_time       TEXT NOT NULL,
				modified_time    TEXT NOT NULL,
				end_time         TEXT,
				ended            INTEGER NOT NULL DEFAULT 0,
				cancelled        INTEGER NOT NULL DEFAULT 0,
				has_error        INTEGER NOT NULL DEFAULT 0,
				error_msg        TEXT NOT NULL DEFAULT '',
				last_response    TEXT
			);

			CREATE UNIQUE INDEX idx_form_sessions_open ON form_sessions (conversation) WHERE ended = 0;
			CREATE INDEX idx_form_sessions_conversation ON form_sessions (conversation, start_time);
			CREATE INDEX idx_form_sessions_idle ON form_sessions (ended, modified_time);
		`,
	},
	{
		Version: 2,
		Name:    "create message log",
		SQL: `
			CREATE TABLE message_log (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation  TEXT NOT NULL,
				direction     TEXT NOT NULL,
				text          TEXT NOT NULL,
				date          TEXT NOT NULL
			);

			CREATE INDEX idx_message_log_conversation ON message_log (conversation, date);
		`,
	},
}
