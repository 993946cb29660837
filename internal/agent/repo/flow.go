package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinic-agent/server/internal/agent/model"
	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// RedisFlowRepository stores the receptionist flow next to the thread's messages.
type RedisFlowRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisFlowRepository(rdb redis.Cmdable, ttl time.Duration) *RedisFlowRepository {
	return &RedisFlowRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisFlowRepository) flowKey(threadID string) string {
	return fmt.Sprintf("conversation:%s:flow", threadID)
}

// LoadFlow returns the stored flow, or a fresh initial one when none exists.
func (r *RedisFlowRepository) LoadFlow(ctx context.Context, threadID string) (*model.FlowState, error) {
	key := r.flowKey(threadID)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NewFlow(), nil
	}
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to load flow state")
		return nil, errx.WrapRedis(err)
	}
	flow := model.NewFlow()
	if err := json.Unmarshal(raw, flow); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("discarding undecodable flow state")
		return model.NewFlow(), nil
	}
	return flow, nil
}

func (r *RedisFlowRepository) SaveFlow(ctx context.Context, threadID string, flow *model.FlowState) error {
	if flow == nil || flow.Stage == model.StageInitial || flow.Stage == model.StageCompleted {
		return r.ClearFlow(ctx, threadID)
	}
	b, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	key := r.flowKey(threadID)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save flow state")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisFlowRepository) ClearFlow(ctx context.Context, threadID string) error {
	if err := r.rdb.Del(ctx, r.flowKey(threadID)).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.FlowRepository = (*RedisFlowRepository)(nil)
