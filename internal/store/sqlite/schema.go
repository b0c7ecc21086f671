package sqlite

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	identity      TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	last_seen     DATETIME,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	sender       TEXT NOT NULL,
	recipient    TEXT NOT NULL,
	body         TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	is_delivered BOOLEAN NOT NULL DEFAULT 0,
	is_read      BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS message_reactions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id  TEXT NOT NULL,
	emoji       TEXT NOT NULL,
	by_identity TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient, seq);
CREATE INDEX IF NOT EXISTS idx_reactions_message ON message_reactions(message_id, id);
`

// Migrate applies the schema. It is safe to run on every start.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
