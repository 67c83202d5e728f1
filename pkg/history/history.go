// Package history loads the recent turns of a conversation from a chat-history
// store and normalizes them for context assembly.
package history

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/logger"
)

// DefaultLimit is used when a caller asks for a non-positive number of turns.
const DefaultLimit = 20

// Well-known senders. Any other sender is treated as an end user.
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// ErrMissingConversationID is returned before any store access when the
// conversation identifier is blank.
var ErrMissingConversationID = errors.New("conversation id is required")

// Turn is one normalized row of conversation history.
type Turn struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Sender         string         `json:"sender"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Row is a turn as stored, with metadata left as raw JSON text.
type Row struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	Metadata       string
	CreatedAt      time.Time
}

// Store is the chat-history collaborator.
type Store interface {
	InsertTurn(ctx context.Context, turn Turn) error
	// FetchRecent returns at most limit rows, newest first.
	FetchRecent(ctx context.Context, conversationID string, limit int) ([]Row, error)
}

// TurnQuery filters turns for inspection tools.
type TurnQuery struct {
	ConversationID string
	Sender         string
	Contains       string
	Limit          int
}

// ConversationInfo summarizes one conversation.
type ConversationInfo struct {
	ID         string    `json:"id"`
	TurnCount  int       `json:"turnCount"`
	LastTurnAt time.Time `json:"lastTurnAt"`
}

// Querier is implemented by stores that support ad-hoc lookups.
type Querier interface {
	// QueryTurns returns matching turns, newest first.
	QueryTurns(ctx context.Context, q TurnQuery) ([]Turn, error)
	ListConversations(ctx context.Context, limit int) ([]ConversationInfo, error)
}

// Loader reads recent history from a Store.
type Loader struct {
	store Store
}

// NewLoader creates a Loader over store.
func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// LoadRecent returns the limit most recent turns of conversationID in
// chronological order. Store failures are returned as is.
func (l *Loader) LoadRecent(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrMissingConversationID
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := l.store.FetchRecent(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	turns := make([]Turn, len(rows))
	for i, row := range rows {
		turns[len(rows)-1-i] = TurnFromRow(ctx, row)
	}
	return turns, nil
}

// TurnFromRow normalizes a stored row.
func TurnFromRow(ctx context.Context, row Row) Turn {
	return Turn{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Sender:         row.Sender,
		Content:        row.Content,
		Metadata:       decodeMetadata(ctx, row),
		CreatedAt:      row.CreatedAt,
	}
}

// decodeMetadata returns nil for empty, malformed or non-object metadata.
func decodeMetadata(ctx context.Context, row Row) map[string]any {
	raw := strings.TrimSpace(row.Metadata)
	if raw == "" || raw == "null" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logger.G(ctx).WithField("turn_id", row.ID).WithError(err).Debug("ignoring malformed turn metadata")
		return nil
	}
	return out
}

// EncodeMetadata renders metadata for storage; nil or empty maps encode as "".
func EncodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode turn metadata")
	}
	return string(b), nil
}
