package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/history"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

// RecordsTool looks up stored conversation turns.
type RecordsTool struct {
	querier history.Querier
}

// NewRecordsTool creates a records tool over querier.
func NewRecordsTool(querier history.Querier) *RecordsTool {
	return &RecordsTool{querier: querier}
}

// RecordsQueryInput is the input of records.query.
type RecordsQueryInput struct {
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"description=Restrict to one conversation"`
	Sender         string `json:"sender,omitempty" jsonschema:"description=Restrict to one sender e.g. user or agent"`
	Contains       string `json:"contains,omitempty" jsonschema:"description=Case-insensitive text the turn must contain"`
	Limit          int    `json:"limit,omitempty" jsonschema:"description=Maximum number of turns (default 20)"`
}

func (t *RecordsTool) Name() string        { return "records" }
func (t *RecordsTool) Description() string { return "Query stored conversation records" }

func (t *RecordsTool) Actions() []tooltypes.Action {
	return []tooltypes.Action{{
		Name:        "query",
		Description: "Find earlier conversation turns, newest first.",
		Schema:      GenerateSchema[RecordsQueryInput](),
		Handler:     t.query,
	}}
}

func (t *RecordsTool) query(ctx context.Context, inv tooltypes.Invocation) (string, error) {
	in, err := decodeArgs[RecordsQueryInput](inv)
	if err != nil {
		return "", err
	}
	turns, err := t.querier.QueryTurns(ctx, history.TurnQuery{
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Contains:       in.Contains,
		Limit:          in.Limit,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to query records")
	}
	if len(turns) == 0 {
		return "no matching records", nil
	}

	var out strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&out, "[%s] %s %s: %s\n", turn.CreatedAt.UTC().Format(time.RFC3339), turn.ConversationID, turn.Sender, turn.Content)
	}
	return out.String(), nil
}
