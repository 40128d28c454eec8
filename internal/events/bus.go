package events

import (
	"context"
	"sync"
	"time"

	"vscan/internal/wallet"
)

// 事件类型
const (
	TypeStatus = "status"
	TypeWallet = "wallet"
)

// subscriberBuffer 每个订阅者的缓冲大小, 慢消费者会丢弃事件
const subscriberBuffer = 16

// StatusEvent 会话状态变化事件
type StatusEvent struct {
	Type       string        `json:"type"`
	SessionID  string        `json:"session_id"`
	Seq        uint64        `json:"seq,omitempty"` // 会话内状态事件序号, 单调递增
	Phase      string        `json:"phase,omitempty"`
	Message    string        `json:"message,omitempty"`
	Detections int           `json:"detections,omitempty"`
	Wallet     *wallet.State `json:"wallet,omitempty"`
	Time       time.Time     `json:"time"`
}

// Bus 状态事件总线
type Bus interface {
	Publish(ctx context.Context, ev StatusEvent) error
	Subscribe(ctx context.Context, sessionID string) (<-chan StatusEvent, func(), error)
}

// MemoryBus 进程内事件总线
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan StatusEvent
	nextID int
}

// NewMemoryBus 创建进程内事件总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[int]chan StatusEvent),
	}
}

// Publish 发布事件
func (b *MemoryBus) Publish(ctx context.Context, ev StatusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe 订阅指定会话的事件, ctx 结束或调用返回的 cancel 时退订
func (b *MemoryBus) Subscribe(ctx context.Context, sessionID string) (<-chan StatusEvent, func(), error) {
	ch := make(chan StatusEvent, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan StatusEvent)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			delete(b.subs[sessionID], id)
			if len(b.subs[sessionID]) == 0 {
				delete(b.subs, sessionID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel, nil
}
