// Package migrations holds keel's schema migrations.
package migrations

import "github.com/jingkaihe/keel/pkg/db"

// All returns every migration; new ones are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20260901120000CreateChatTurns(),
		Migration20260901120100AddChatTurnIndexes(),
	}
}
