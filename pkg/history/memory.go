package history

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store, used for ephemeral runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Row
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// InsertTurn appends turn, filling in a missing ID and timestamp.
func (m *MemoryStore) InsertTurn(_ context.Context, turn Turn) error {
	metadata, err := EncodeMetadata(turn.Metadata)
	if err != nil {
		return err
	}
	m.InsertRow(Row{
		ID:             turn.ID,
		ConversationID: turn.ConversationID,
		Sender:         turn.Sender,
		Content:        turn.Content,
		Metadata:       metadata,
		CreatedAt:      turn.CreatedAt,
	})
	return nil
}

// InsertRow stores a raw row, which may carry arbitrary metadata text.
func (m *MemoryStore) InsertRow(row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now()
	}
	m.rows = append(m.rows, row)
}

// FetchRecent returns rows newest first; rows with equal timestamps keep
// reverse insertion order.
func (m *MemoryStore) FetchRecent(_ context.Context, conversationID string, limit int) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].ConversationID == conversationID {
			out = append(out, m.rows[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryTurns implements Querier.
func (m *MemoryStore) QueryTurns(ctx context.Context, q TurnQuery) ([]Turn, error) {
	m.mu.RLock()
	var rows []Row
	for i := len(m.rows) - 1; i >= 0; i-- {
		row := m.rows[i]
		if q.ConversationID != "" && row.ConversationID != q.ConversationID {
			continue
		}
		if q.Sender != "" && row.Sender != q.Sender {
			continue
		}
		if q.Contains != "" && !strings.Contains(strings.ToLower(row.Content), strings.ToLower(q.Contains)) {
			continue
		}
		rows = append(rows, row)
	}
	m.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	turns := make([]Turn, len(rows))
	for i, row := range rows {
		turns[i] = TurnFromRow(ctx, row)
	}
	return turns, nil
}

// ListConversations implements Querier.
func (m *MemoryStore) ListConversations(_ context.Context, limit int) ([]ConversationInfo, error) {
	m.mu.RLock()
	byID := map[string]*ConversationInfo{}
	for _, row := range m.rows {
		info, ok := byID[row.ConversationID]
		if !ok {
			info = &ConversationInfo{ID: row.ConversationID}
			byID[row.ConversationID] = info
		}
		info.TurnCount++
		if row.CreatedAt.After(info.LastTurnAt) {
			info.LastTurnAt = row.CreatedAt
		}
	}
	m.mu.RUnlock()

	out := make([]ConversationInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastTurnAt.Equal(out[j].LastTurnAt) {
			return out[i].LastTurnAt.After(out[j].LastTurnAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
