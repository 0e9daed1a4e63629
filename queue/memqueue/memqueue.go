// Package memqueue 是 queue.Queue 的进程内实现，带可见性超时、延迟投递与毒消息子队列。
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mengeric/geoetl-go/queue"
)

type entry struct {
	id         string
	body       []byte
	visibleAt  time.Time
	deliveries int
	enqueuedAt time.Time
}

// Queue 内存队列。
type Queue struct {
	mu            sync.Mutex
	queues        map[string][]*entry
	visibility    time.Duration
	maxDeliveries int
	now           func() time.Time
}

// Option 构造可选项。
type Option func(*Queue)

// WithVisibility 设置可见性超时，默认 5 分钟。
func WithVisibility(d time.Duration) Option { return func(q *Queue) { q.visibility = d } }

// WithMaxDeliveries 设置最大投递次数，<=0 表示不限，默认 5。
func WithMaxDeliveries(n int) Option { return func(q *Queue) { q.maxDeliveries = n } }

// WithClock 注入时钟（测试用）。
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// New 创建内存队列。
func New(opts ...Option) *Queue {
	q := &Queue{queues: map[string][]*entry{}, visibility: 5 * time.Minute, maxDeliveries: 5, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue 追加消息；delay>0 时在延迟到期前不可见。
func (q *Queue) Enqueue(ctx context.Context, name string, body []byte, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	e := &entry{id: uuid.NewString(), body: append([]byte(nil), body...), visibleAt: now.Add(delay), enqueuedAt: now}
	q.queues[name] = append(q.queues[name], e)
	return e.id, nil
}

// Receive 按入队顺序取第一条可见消息。
// 投递次数将超过上限的消息被移入毒消息队列后继续查找；毒消息队列不做此检查。
func (q *Queue) Receive(ctx context.Context, name string) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	limited := q.maxDeliveries > 0 && !queue.IsPoisonQueue(name)
	list := q.queues[name]
	for i := 0; i < len(list); i++ {
		e := list[i]
		if e.visibleAt.After(now) {
			continue
		}
		if limited && e.deliveries+1 > q.maxDeliveries {
			list = append(list[:i], list[i+1:]...)
			i--
			pn := queue.PoisonQueue(name)
			q.queues[pn] = append(q.queues[pn], &entry{id: e.id, body: e.body, visibleAt: now, enqueuedAt: now})
			continue
		}
		e.deliveries++
		e.visibleAt = now.Add(q.visibility)
		q.queues[name] = list
		return &queue.Message{ID: e.id, Queue: name, Body: append([]byte(nil), e.body...), DeliveryCount: e.deliveries, EnqueuedAt: e.enqueuedAt}, nil
	}
	q.queues[name] = list
	return nil, queue.ErrEmpty
}

// Ack 删除消息。
func (q *Queue) Ack(ctx context.Context, msg *queue.Message) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.queues[msg.Queue]
	for i, e := range list {
		if e.id == msg.ID {
			q.queues[msg.Queue] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len 返回队列中（含不可见）的消息数。
func (q *Queue) Len(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[name])
}

var _ queue.Queue = (*Queue)(nil)
