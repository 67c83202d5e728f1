package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/keel/pkg/history"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreFetchRecent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		require.NoError(t, store.InsertTurn(ctx, history.Turn{
			ConversationID: "conv",
			Sender:         history.SenderUser,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * 1500 * time.Millisecond),
		}))
	}
	require.NoError(t, store.InsertTurn(ctx, history.Turn{ConversationID: "other", Sender: "user", Content: "x", CreatedAt: base}))

	rows, err := store.FetchRecent(ctx, "conv", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "message 7", rows[0].Content)
	assert.Equal(t, "message 5", rows[2].Content)
	assert.NotEmpty(t, rows[0].ID)

	turns, err := history.NewLoader(store).LoadRecent(ctx, "conv", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []string{"message 5", "message 6", "message 7"},
		[]string{turns[0].Content, turns[1].Content, turns[2].Content})
	assert.True(t, turns[0].CreatedAt.Before(turns[2].CreatedAt))
}

func TestStoreMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertTurn(ctx, history.Turn{ConversationID: "c", Sender: "agent", Content: "a",
		Metadata: map[string]any{"model": "m1"}, CreatedAt: base}))
	require.NoError(t, store.InsertRow(ctx, history.Row{ConversationID: "c", Sender: "user", Content: "b",
		Metadata: "{broken", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, store.InsertTurn(ctx, history.Turn{ConversationID: "c", Sender: "user", Content: "c",
		CreatedAt: base.Add(2 * time.Second)}))

	turns, err := history.NewLoader(store).LoadRecent(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, map[string]any{"model": "m1"}, turns[0].Metadata)
	assert.Nil(t, turns[1].Metadata)
	assert.Nil(t, turns[2].Metadata)
}

func TestStoreQueryTurns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	inputs := []history.Turn{
		{ConversationID: "a", Sender: "user", Content: "Please run the migration", CreatedAt: base},
		{ConversationID: "a", Sender: "agent", Content: "Migration applied", CreatedAt: base.Add(time.Minute)},
		{ConversationID: "b", Sender: "user", Content: "hello", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, turn := range inputs {
		require.NoError(t, store.InsertTurn(ctx, turn))
	}

	turns, err := store.QueryTurns(ctx, history.TurnQuery{Contains: "MIGRATION"})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Migration applied", turns[0].Content)

	turns, err = store.QueryTurns(ctx, history.TurnQuery{ConversationID: "a", Sender: "user"})
	require.NoError(t, err)
	require.Len(t, turns, 1)

	turns, err = store.QueryTurns(ctx, history.TurnQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "b", turns[0].ConversationID)

	convs, err := store.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "b", convs[0].ID)
	assert.Equal(t, 2, convs[1].TurnCount)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("UNIQUE constraint failed: chat_turns.id")))
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("UNIQUE constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
