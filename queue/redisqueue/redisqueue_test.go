package redisqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/queue"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *clock) Advance(d time.Duration) { c.mu.Lock(); c.t = c.t.Add(d); c.mu.Unlock() }

func newTestQueue(t *testing.T, c *clock, maxDeliveries int) (*Queue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Options{Visibility: time.Second, MaxDeliveries: maxDeliveries, Now: c.Now}), mr
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()

	Convey("FIFO、Ack 与空队列", t, func() {
		c := &clock{t: time.Unix(1700000000, 0)}
		q, mr := newTestQueue(t, c, 5)
		id1, err := q.Enqueue(ctx, "tasks", []byte(`{"task_id":"a"}`), 0)
		So(err, ShouldBeNil)
		_, _ = q.Enqueue(ctx, "tasks", []byte(`{"task_id":"b"}`), 0)

		m, err := q.Receive(ctx, "tasks")
		So(err, ShouldBeNil)
		So(m.ID, ShouldEqual, id1)
		So(string(m.Body), ShouldEqual, `{"task_id":"a"}`)
		So(m.DeliveryCount, ShouldEqual, 1)
		So(m.EnqueuedAt.Equal(c.Now()), ShouldBeTrue)

		So(q.Ack(ctx, m), ShouldBeNil)
		So(mr.Exists(msgKey(id1)), ShouldBeFalse)

		m2, _ := q.Receive(ctx, "tasks")
		So(string(m2.Body), ShouldEqual, `{"task_id":"b"}`)
		_, err = q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)
	})

	Convey("延迟消息到期后可见", t, func() {
		c := &clock{t: time.Unix(1700000000, 0)}
		q, _ := newTestQueue(t, c, 5)
		_, _ = q.Enqueue(ctx, "tasks", []byte("later"), 3*time.Second)

		_, err := q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)
		c.Advance(3 * time.Second)
		m, err := q.Receive(ctx, "tasks")
		So(err, ShouldBeNil)
		So(string(m.Body), ShouldEqual, "later")
	})

	Convey("超时重投与毒消息", t, func() {
		c := &clock{t: time.Unix(1700000000, 0)}
		q, _ := newTestQueue(t, c, 2)
		_, _ = q.Enqueue(ctx, "tasks", []byte("x"), 0)

		m, _ := q.Receive(ctx, "tasks")
		So(m.DeliveryCount, ShouldEqual, 1)
		_, err := q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)

		c.Advance(2 * time.Second)
		m, _ = q.Receive(ctx, "tasks")
		So(m.DeliveryCount, ShouldEqual, 2)

		c.Advance(2 * time.Second)
		_, err = q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)

		p, err := q.Receive(ctx, queue.PoisonQueue("tasks"))
		So(err, ShouldBeNil)
		So(string(p.Body), ShouldEqual, "x")
		So(p.DeliveryCount, ShouldEqual, 1)
		So(q.Ack(ctx, p), ShouldBeNil)
	})

	Convey("毒消息队列不受投递上限约束", t, func() {
		c := &clock{t: time.Unix(1700000000, 0)}
		q, mr := newTestQueue(t, c, 2)
		dlq := queue.PoisonQueue("tasks")
		_, _ = q.Enqueue(ctx, dlq, []byte("x"), 0)

		for i := 1; i <= 4; i++ {
			m, err := q.Receive(ctx, dlq)
			So(err, ShouldBeNil)
			So(m.DeliveryCount, ShouldEqual, i)
			c.Advance(2 * time.Second)
		}
		So(mr.Exists(readyKey(queue.PoisonQueue(dlq))), ShouldBeFalse)
	})
}
