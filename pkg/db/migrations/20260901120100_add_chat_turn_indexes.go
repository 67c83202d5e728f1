package migrations

import (
	"database/sql"

	"github.com/jingkaihe/keel/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260901120100AddChatTurnIndexes indexes the newest-first history query.
func Migration20260901120100AddChatTurnIndexes() db.Migration {
	return db.Migration{
		Version:     20260901120100,
		Description: "Add chat_turns conversation/created_at index",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_chat_turns_conversation_created
				ON chat_turns(conversation_id, created_at DESC)
			`)
			return errors.Wrap(err, "failed to create chat_turns index")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP INDEX IF EXISTS idx_chat_turns_conversation_created")
			return errors.Wrap(err, "failed to drop chat_turns index")
		},
	}
}
