package memqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/queue"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time { c.mu.Lock(); defer c.mu.Unlock(); return c.t }
func (c *clock) Advance(d time.Duration) { c.mu.Lock(); c.t = c.t.Add(d); c.mu.Unlock() }

func TestQueue(t *testing.T) {
	ctx := context.Background()

	Convey("FIFO 与 Ack", t, func() {
		q := New()
		_, _ = q.Enqueue(ctx, "tasks", []byte("a"), 0)
		_, _ = q.Enqueue(ctx, "tasks", []byte("b"), 0)

		m1, err := q.Receive(ctx, "tasks")
		So(err, ShouldBeNil)
		So(string(m1.Body), ShouldEqual, "a")
		So(m1.DeliveryCount, ShouldEqual, 1)
		So(m1.Queue, ShouldEqual, "tasks")

		m2, _ := q.Receive(ctx, "tasks")
		So(string(m2.Body), ShouldEqual, "b")

		_, err = q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)

		So(q.Ack(ctx, m1), ShouldBeNil)
		So(q.Ack(ctx, m1), ShouldBeNil)
		So(q.Len("tasks"), ShouldEqual, 1)
	})

	Convey("延迟投递", t, func() {
		c := &clock{t: time.Unix(1000, 0)}
		q := New(WithClock(c.Now))
		_, _ = q.Enqueue(ctx, "tasks", []byte("later"), 2*time.Second)

		_, err := q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)
		c.Advance(2 * time.Second)
		m, err := q.Receive(ctx, "tasks")
		So(err, ShouldBeNil)
		So(string(m.Body), ShouldEqual, "later")
	})

	Convey("可见性超时后重新投递，超过上限进入毒消息队列", t, func() {
		c := &clock{t: time.Unix(1000, 0)}
		q := New(WithClock(c.Now), WithVisibility(time.Second), WithMaxDeliveries(2))
		_, _ = q.Enqueue(ctx, "tasks", []byte("x"), 0)

		m, _ := q.Receive(ctx, "tasks")
		So(m.DeliveryCount, ShouldEqual, 1)
		_, err := q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)

		c.Advance(time.Second)
		m, _ = q.Receive(ctx, "tasks")
		So(m.DeliveryCount, ShouldEqual, 2)

		c.Advance(time.Second)
		_, err = q.Receive(ctx, "tasks")
		So(errors.Is(err, queue.ErrEmpty), ShouldBeTrue)
		So(q.Len("tasks"), ShouldEqual, 0)

		p, err := q.Receive(ctx, queue.PoisonQueue("tasks"))
		So(err, ShouldBeNil)
		So(string(p.Body), ShouldEqual, "x")
		So(p.DeliveryCount, ShouldEqual, 1)
		So(p.Queue, ShouldEqual, "tasks-poison")
		So(q.Ack(ctx, p), ShouldBeNil)
		So(q.Len("tasks-poison"), ShouldEqual, 0)
	})

	Convey("毒消息队列不受投递上限约束", t, func() {
		c := &clock{t: time.Unix(1000, 0)}
		q := New(WithClock(c.Now), WithVisibility(time.Second), WithMaxDeliveries(2))
		dlq := queue.PoisonQueue("tasks")
		_, _ = q.Enqueue(ctx, dlq, []byte("x"), 0)

		for i := 1; i <= 4; i++ {
			m, err := q.Receive(ctx, dlq)
			So(err, ShouldBeNil)
			So(m.DeliveryCount, ShouldEqual, i)
			c.Advance(time.Second)
		}
		So(q.Len(dlq), ShouldEqual, 1)
		So(q.Len(queue.PoisonQueue(dlq)), ShouldEqual, 0)
	})
}
