package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportswire/sportswire/pkg/models"
)

func newTestRequestStore(t *testing.T) *RequestStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRequestStore(New(client, time.Hour))
}

func TestRequestLifecycleToCompleted(t *testing.T) {
	rs := newTestRequestStore(t)
	ctx := context.Background()

	req := NewRequest("r1", models.QueryRequest{Query: "latest united news"})
	require.NoError(t, rs.Create(ctx, req))

	got, err := rs.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StageGateway, got.Stage)
	assert.Nil(t, got.QueryResult)

	require.NoError(t, rs.SetStage(ctx, "r1", models.StageQueryProcessing))

	result := models.QueryResult{
		Answer:    "United signed a striker.",
		Sources:   []models.SourceReference{{Title: "t", Source: "rss"}},
		Model:     "gpt-4o-mini",
		LatencyMS: 125,
	}
	require.NoError(t, rs.Complete(ctx, "r1", result))

	got, err = rs.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StageCompleted, got.Stage)
	require.NotNil(t, got.QueryResult)
	assert.Equal(t, "United signed a striker.", got.QueryResult.Answer)
	assert.Empty(t, got.ErrorMessage)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestRequestFailure(t *testing.T) {
	rs := newTestRequestStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Create(ctx, NewRequest("r2", models.QueryRequest{Query: "q"})))
	require.NoError(t, rs.SetStage(ctx, "r2", models.StageQueryProcessing))
	require.NoError(t, rs.Fail(ctx, "r2", "llm timeout"))

	got, err := rs.Get(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, "llm timeout", got.ErrorMessage)
	assert.Nil(t, got.QueryResult)
}

func TestStageCannotSkipGatewayToCompleted(t *testing.T) {
	rs := newTestRequestStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Create(ctx, NewRequest("r3", models.QueryRequest{Query: "q"})))

	err := rs.Complete(ctx, "r3", models.QueryResult{Answer: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleTransition)

	got, err := rs.Get(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, models.StageGateway, got.Stage)
}

func TestTerminalStageIsNotClobbered(t *testing.T) {
	rs := newTestRequestStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Create(ctx, NewRequest("r4", models.QueryRequest{Query: "q"})))
	require.NoError(t, rs.SetStage(ctx, "r4", models.StageQueryProcessing))
	require.NoError(t, rs.Fail(ctx, "r4", "boom"))

	// A late completion must not overwrite the terminal failure.
	err := rs.Complete(ctx, "r4", models.QueryResult{Answer: "late"})
	assert.ErrorIs(t, err, ErrStaleTransition)

	got, err := rs.Get(ctx, "r4")
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestUpdateUnknownRequestReturnsNil(t *testing.T) {
	rs := newTestRequestStore(t)

	got, err := rs.Update(context.Background(), "ghost", map[string]any{"stage": string(models.StageFailed)})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNonStagePatchLeavesStageAlone(t *testing.T) {
	rs := newTestRequestStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Create(ctx, NewRequest("r5", models.QueryRequest{Query: "q"})))

	got, err := rs.Update(ctx, "r5", map[string]any{"error_message": "transient note"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StageGateway, got.Stage)
	assert.Equal(t, "transient note", got.ErrorMessage)
}
