// Package sqlite is the SQLite-backed chat-history store.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/db"
	"github.com/jingkaihe/keel/pkg/db/migrations"
	"github.com/jingkaihe/keel/pkg/history"
)

const maxQueryLimit = 200

// timeLayout matches how modernc.org/sqlite renders time.Time values.
const timeLayout = "2006-01-02 15:04:05.999999999-07:00"

// Store implements history.Store and history.Querier.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var (
	_ history.Store   = (*Store)(nil)
	_ history.Querier = (*Store)(nil)
)

type dbTurn struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	Sender         string         `db:"sender"`
	Content        string         `db:"content"`
	Metadata       sql.NullString `db:"metadata"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (t dbTurn) toRow() history.Row {
	return history.Row{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Sender:         t.Sender,
		Content:        t.Content,
		Metadata:       t.Metadata.String,
		CreatedAt:      t.CreatedAt,
	}
}

// NewStore wraps an already migrated database.
func NewStore(conn *sqlx.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

// Open opens the database at dbPath, applies pending migrations and returns a Store.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	conn, err := db.OpenAndMigrate(ctx, dbPath, migrations.All())
	if err != nil {
		return nil, err
	}
	return NewStore(conn), nil
}

// InsertTurn stores turn, assigning an ID and timestamp when missing.
func (s *Store) InsertTurn(ctx context.Context, turn history.Turn) error {
	metadata, err := history.EncodeMetadata(turn.Metadata)
	if err != nil {
		return err
	}
	return s.InsertRow(ctx, history.Row{
		ID:             turn.ID,
		ConversationID: turn.ConversationID,
		Sender:         turn.Sender,
		Content:        turn.Content,
		Metadata:       metadata,
		CreatedAt:      turn.CreatedAt,
	})
}

// InsertRow stores a raw row with its metadata text taken verbatim.
func (s *Store) InsertRow(ctx context.Context, r history.Row) error {
	row := dbTurn{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Sender:         r.Sender,
		Content:        r.Content,
		Metadata:       sql.NullString{String: r.Metadata, Valid: r.Metadata != ""},
		CreatedAt:      r.CreatedAt,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	row.CreatedAt = row.CreatedAt.UTC()

	query := `INSERT INTO chat_turns (id, conversation_id, sender, content, metadata, created_at)
		VALUES (:id, :conversation_id, :sender, :content, :metadata, :created_at)`
	err := withRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, query, row)
		return err
	})
	return errors.Wrap(err, "failed to insert chat turn")
}

// FetchRecent returns at most limit rows of conversationID, newest first.
func (s *Store) FetchRecent(ctx context.Context, conversationID string, limit int) ([]history.Row, error) {
	var rows []dbTurn
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, conversation_id, sender, content, metadata, created_at
		FROM chat_turns WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch recent chat turns")
	}

	out := make([]history.Row, len(rows))
	for i, r := range rows {
		out[i] = r.toRow()
	}
	return out, nil
}

// QueryTurns returns turns matching q, newest first.
func (s *Store) QueryTurns(ctx context.Context, q history.TurnQuery) ([]history.Turn, error) {
	conditions := []string{}
	args := map[string]any{}

	if q.ConversationID != "" {
		conditions = append(conditions, "conversation_id = :conversation_id")
		args["conversation_id"] = q.ConversationID
	}
	if q.Sender != "" {
		conditions = append(conditions, "sender = :sender")
		args["sender"] = q.Sender
	}
	if q.Contains != "" {
		conditions = append(conditions, "LOWER(content) LIKE :contains")
		args["contains"] = "%" + strings.ToLower(q.Contains) + "%"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	args["limit"] = limit

	query := `SELECT id, conversation_id, sender, content, metadata, created_at FROM chat_turns`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT :limit"

	named, namedArgs, err := sqlx.Named(query, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build named query")
	}

	var rows []dbTurn
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(named), namedArgs...); err != nil {
		return nil, errors.Wrap(err, "failed to query chat turns")
	}

	turns := make([]history.Turn, len(rows))
	for i, r := range rows {
		turns[i] = history.TurnFromRow(ctx, r.toRow())
	}
	return turns, nil
}

// ListConversations returns conversations ordered by most recent activity.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]history.ConversationInfo, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}

	var rows []struct {
		ID         string `db:"conversation_id"`
		TurnCount  int    `db:"turn_count"`
		LastTurnAt string `db:"last_turn_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT conversation_id, COUNT(*) AS turn_count, MAX(created_at) AS last_turn_at
		FROM chat_turns GROUP BY conversation_id
		ORDER BY last_turn_at DESC, conversation_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}

	out := make([]history.ConversationInfo, len(rows))
	for i, r := range rows {
		out[i] = history.ConversationInfo{ID: r.ID, TurnCount: r.TurnCount, LastTurnAt: parseTime(r.LastTurnAt)}
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
