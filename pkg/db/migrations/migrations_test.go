package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/keel/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_AppliesAndRollsBack(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer conn.Close()

	runner := db.NewMigrationRunner(conn)
	require.NoError(t, runner.Run(ctx, All()))

	var tables int
	require.NoError(t, conn.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='chat_turns'`))
	assert.Equal(t, 1, tables)

	var indexes int
	require.NoError(t, conn.Get(&indexes, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_chat_turns_conversation_created'`))
	assert.Equal(t, 1, indexes)

	require.NoError(t, runner.Rollback(ctx, All()))
	require.NoError(t, conn.Get(&indexes, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_chat_turns_conversation_created'`))
	assert.Equal(t, 0, indexes)
}

func TestAll_VersionsAreUnique(t *testing.T) {
	seen := map[int64]bool{}
	for _, m := range All() {
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		seen[m.Version] = true
		assert.NotNil(t, m.Up)
		assert.NotNil(t, m.Down)
	}
}
