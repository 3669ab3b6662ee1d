package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BoardNotifier keeps a per-area change counter so polling clients can
// skip reloading the production board when nothing changed.
type BoardNotifier interface {
	Touch(ctx context.Context, areaID string)
	Version(ctx context.Context, areaID string) (int64, error)
}

const boardVersionKey = "nimo:print:board:version:%s"

// RedisBoardNotifier stores the counters in redis.
type RedisBoardNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBoardNotifier(rdb *redis.Client, logger *zap.Logger) *RedisBoardNotifier {
	return &RedisBoardNotifier{rdb: rdb, logger: logger}
}

func boardKey(areaID string) string {
	if areaID == "" {
		areaID = "all"
	}
	return fmt.Sprintf(boardVersionKey, areaID)
}

// Touch bumps the area counter and the global one. Failures are logged
// only: the counter is a polling hint, the database stays authoritative.
func (n *RedisBoardNotifier) Touch(ctx context.Context, areaID string) {
	pipe := n.rdb.Pipeline()
	pipe.Incr(ctx, boardKey(""))
	if areaID != "" {
		pipe.Incr(ctx, boardKey(areaID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		n.logger.Warn("board version bump failed", zap.String("area_id", areaID), zap.Error(err))
	}
}

func (n *RedisBoardNotifier) Version(ctx context.Context, areaID string) (int64, error) {
	v, err := n.rdb.Get(ctx, boardKey(areaID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// NopBoardNotifier is used when redis is not configured.
type NopBoardNotifier struct{}

func (NopBoardNotifier) Touch(context.Context, string) {}

func (NopBoardNotifier) Version(context.Context, string) (int64, error) { return 0, nil }
