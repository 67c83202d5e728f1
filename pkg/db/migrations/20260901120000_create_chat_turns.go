package migrations

import (
	"database/sql"

	"github.com/jingkaihe/keel/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260901120000CreateChatTurns creates the chat_turns table.
func Migration20260901120000CreateChatTurns() db.Migration {
	return db.Migration{
		Version:     20260901120000,
		Description: "Create chat_turns table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS chat_turns (
					id TEXT PRIMARY KEY,
					conversation_id TEXT NOT NULL,
					sender TEXT NOT NULL,
					content TEXT NOT NULL,
					metadata TEXT,
					created_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create chat_turns table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS chat_turns")
			return errors.Wrap(err, "failed to drop chat_turns table")
		},
	}
}
