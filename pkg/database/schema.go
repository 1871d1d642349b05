package database

import (
	"database/sql"
	"fmt"
)

// Schema notes:
//   - viewers, answers and active_activity are JSON columns; the session
//     store is the only writer and serializes all mutations, so
//     read-modify-write on them is race-free.
//   - the partial unique index enforces code uniqueness among live sessions
//     only; ended sessions release their code for reuse.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	code            TEXT NOT NULL,
	presentation_id TEXT NOT NULL,
	presenter_name  TEXT NOT NULL DEFAULT 'Presenter',
	current_slide   INTEGER NOT NULL DEFAULT 0,
	live            INTEGER NOT NULL DEFAULT 1,
	active_activity TEXT,
	viewers         TEXT NOT NULL DEFAULT '[]',
	answers         TEXT NOT NULL DEFAULT '[]',
	created_at      TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_live_code
	ON sessions(code) WHERE live = 1;

CREATE INDEX IF NOT EXISTS idx_sessions_code ON sessions(code);

CREATE TABLE IF NOT EXISTS presentations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	slides     TEXT NOT NULL DEFAULT '[]',
	activities TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL
);
`

// Bootstrap creates the tables and indexes if they do not exist yet.
func Bootstrap(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return nil
}
