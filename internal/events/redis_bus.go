package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 基于 Redis Pub/Sub 的事件总线, 多实例部署时共享状态事件
type RedisBus struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisBus 创建 Redis 事件总线
func NewRedisBus(redisClient *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		redis:  redisClient,
		logger: logger,
	}
}

// channelName 会话频道名
func channelName(sessionID string) string {
	return fmt.Sprintf("status:%s", sessionID)
}

// Publish 发布事件
func (b *RedisBus) Publish(ctx context.Context, ev StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := b.redis.Publish(ctx, channelName(ev.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}
	return nil
}

// Subscribe 订阅指定会话的事件
func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (<-chan StatusEvent, func(), error) {
	pubsub := b.redis.Subscribe(ctx, channelName(sessionID))

	// 等待订阅确认, 保证返回后发布的事件不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan StatusEvent, subscriberBuffer)
	done := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}

	go func() {
		defer close(out)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("failed to parse status event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}

				select {
				case out <- ev:
				default:
					b.logger.Warn("dropping status event for slow subscriber", zap.String("session_id", sessionID))
				}
			}
		}
	}()

	return out, cancel, nil
}
