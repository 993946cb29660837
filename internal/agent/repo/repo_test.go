package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConversationHistory(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	repo := NewRedisConversationRepository(rdb, time.Hour)

	require.NoError(t, repo.AddMessage(ctx, "thread_1", schema.UserMessage("hola")))
	require.NoError(t, repo.AddMessage(ctx, "thread_1", schema.AssistantMessage("¡Hola! ¿En qué puedo ayudarte?", nil)))

	h, err := repo.LoadHistory(ctx, "thread_1")
	require.NoError(t, err)
	require.Len(t, h.Messages, 2)
	assert.Equal(t, schema.User, h.Messages[0].Role)
	assert.Equal(t, "hola", h.Messages[0].Content)
	assert.Equal(t, time.Hour, mr.TTL("conversation:thread_1:messages"))

	n, err := mr.List("conversation:thread_1:messages")
	require.NoError(t, err)
	assert.Len(t, n, 2)

	// Corrupt entries are skipped.
	_, err = mr.RPush("conversation:thread_1:messages", "{not json")
	require.NoError(t, err)
	h, err = repo.LoadHistory(ctx, "thread_1")
	require.NoError(t, err)
	assert.Len(t, h.Messages, 2)

	require.NoError(t, repo.ClearHistory(ctx, "thread_1"))
	h, err = repo.LoadHistory(ctx, "thread_1")
	require.NoError(t, err)
	assert.Empty(t, h.Messages)
}

func TestFlowState(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	repo := NewRedisFlowRepository(rdb, 30*time.Minute)

	flow, err := repo.LoadFlow(ctx, "thread_1")
	require.NoError(t, err)
	assert.Equal(t, model.StageInitial, flow.Stage)
	assert.Equal(t, -1, flow.At)

	day := time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC)
	start := day.Add(9*time.Hour + 30*time.Minute)
	flow = &model.FlowState{
		Stage:   model.StageConfirming,
		Date:    &day,
		Bucket:  clinic.BucketMorning,
		At:      -1,
		Options: []clinic.Slot{{Start: start, End: start.Add(time.Hour), DoctorID: 2}},
	}
	require.NoError(t, repo.SaveFlow(ctx, "thread_1", flow))
	assert.Equal(t, 30*time.Minute, mr.TTL("conversation:thread_1:flow"))

	got, err := repo.LoadFlow(ctx, "thread_1")
	require.NoError(t, err)
	assert.Equal(t, model.StageConfirming, got.Stage)
	assert.True(t, got.Stage.Active())
	require.Len(t, got.Options, 1)
	assert.True(t, got.Options[0].Start.Equal(start))
	assert.Zero(t, got.Options[0].DoctorID)

	got.Stage = model.StageCompleted
	require.NoError(t, repo.SaveFlow(ctx, "thread_1", got))
	assert.False(t, mr.Exists("conversation:thread_1:flow"))

	require.NoError(t, mr.Set("conversation:thread_2:flow", "garbage"))
	got, err = repo.LoadFlow(ctx, "thread_2")
	require.NoError(t, err)
	assert.Equal(t, model.StageInitial, got.Stage)
}

func TestRedisErrorsAreWrapped(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()

	_, err := NewRedisFlowRepository(rdb, time.Minute).LoadFlow(context.Background(), "t")
	assert.Error(t, err)
	err = NewRedisConversationRepository(rdb, time.Minute).AddMessage(context.Background(), "t", schema.UserMessage("x"))
	assert.Error(t, err)
}
