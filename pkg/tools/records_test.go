package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/keel/pkg/history"
	"github.com/jingkaihe/keel/pkg/skills"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

func TestRecordsQuery(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertTurn(ctx, history.Turn{ConversationID: "c1", Sender: "user", Content: "deploy the app", CreatedAt: base}))
	require.NoError(t, store.InsertTurn(ctx, history.Turn{ConversationID: "c1", Sender: "agent", Content: "deployed", CreatedAt: base.Add(time.Minute)}))

	r, err := NewBuiltinRegistry(store, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"files", "records"}, r.Names())

	res := r.Dispatch(ctx, tooltypes.Invocation{Tool: "records", Action: "query", Args: json.RawMessage(`{"sender":"agent"}`)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "[2026-02-01T08:01:00Z] c1 agent: deployed\n", res.Output)

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "records", Action: "query", Args: json.RawMessage(`{"contains":"nope"}`)})
	require.True(t, res.Success)
	assert.Equal(t, "no matching records", res.Output)
}

func TestSkillsTool(t *testing.T) {
	catalog := skills.NewCatalog(
		&skills.Descriptor{Name: "review", Description: "Review code", Body: "REVIEW BODY"},
		&skills.Descriptor{Name: "check", Description: "Sub step", Type: "sub-protocol", Body: "CHECK BODY"},
	)
	calls := 0
	load := func(context.Context) (*skills.Catalog, skills.Issues) {
		calls++
		return catalog, nil
	}

	r, err := NewBuiltinRegistry(nil, load)
	require.NoError(t, err)
	ctx := context.Background()

	res := r.Dispatch(ctx, tooltypes.Invocation{Tool: "skills", Action: "get_body", Args: json.RawMessage(`{"name":"check"}`)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "CHECK BODY", res.Output)

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "skills", Action: "get_body", Args: json.RawMessage(`{"name":"missing"}`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "skill not found")

	res = r.Dispatch(ctx, tooltypes.Invocation{Tool: "skills", Action: "list"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "review (skill, v1.0.0): Review code\ncheck (sub-protocol, v1.0.0): Sub step\n", res.Output)
	assert.Equal(t, 3, calls)
}
