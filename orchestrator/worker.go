package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/tracker"
)

// 默认工作参数。
const (
	DefaultConcurrency  = 4
	DefaultPollInterval = 500 * time.Millisecond
)

// Worker 队列消费者：并发拉取作业消息与任务消息并交给 Manager 处理。
type Worker struct {
	id          string
	m           *Manager
	trk         *tracker.Manager
	concurrency int
	poll        time.Duration
	log         logging.Logger
	wg          sync.WaitGroup
}

// WorkerOption 工作者可选项。
type WorkerOption func(*Worker)

// WithConcurrency 并发消费协程数。
func WithConcurrency(n int) WorkerOption { return func(w *Worker) { w.concurrency = n } }

// WithPollInterval 队列为空时的轮询间隔。
func WithPollInterval(d time.Duration) WorkerOption { return func(w *Worker) { w.poll = d } }

// WithWorkerID 指定工作者标识，默认 <hostname>-<8位随机串>。
func WithWorkerID(id string) WorkerOption { return func(w *Worker) { w.id = id } }

// NewWorker 创建工作者。
func NewWorker(m *Manager, opts ...WorkerOption) *Worker {
	w := &Worker{m: m, trk: tracker.NewManager()}
	for _, fn := range opts {
		fn(w)
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.poll <= 0 {
		w.poll = DefaultPollInterval
	}
	if w.id == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		w.id = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	w.log = m.log.With("worker_id", w.id)
	return w
}

// ID 工作者标识。
func (w *Worker) ID() string { return w.id }

// InFlight 正在处理的消息数。
func (w *Worker) InFlight() int { return w.trk.Count() }

// Start 启动消费协程；ctx 取消后不再拉取新消息，已取出的消息处理完再退出。
func (w *Worker) Start(ctx context.Context) {
	w.log.Info(ctx, "worker started", "concurrency", w.concurrency, "poll", w.poll.String())
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
}

// Wait 等待全部消费协程退出。
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		got, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Warn(ctx, "worker iteration failed", "err", err)
		}
		if got && err == nil {
			t.Reset(0)
			continue
		}
		t.Reset(w.poll)
	}
}

// RunOnce 拉取并处理一条消息：作业队列优先，其次任务队列。
// 返回：
// - 是否取到了消息；
// - 处理失败的错误（此时消息未确认，等待重新投递）。
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if ok, err := w.consume(ctx, w.m.opt.jobQueue, w.m.HandleJobMessage); ok || err != nil {
		return ok, err
	}
	return w.consume(ctx, w.m.opt.taskQueue, w.m.router.Handle)
}

func (w *Worker) consume(ctx context.Context, name string, handle func(context.Context, *queue.Message) error) (bool, error) {
	msg, err := w.m.q.Receive(ctx, name)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("receive %s: %w", name, err)
	}
	// 已取出的消息不受停机影响，避免处理到一半被打断
	ins := w.trk.Start(context.WithoutCancel(ctx), msg.ID)
	defer w.trk.Done(ins)

	if err := handle(ins.Ctx, msg); err != nil {
		return true, fmt.Errorf("handle %s message %s: %w", name, msg.ID, err)
	}
	if err := w.m.q.Ack(ins.Ctx, msg); err != nil {
		return true, fmt.Errorf("ack %s message %s: %w", name, msg.ID, err)
	}
	return true, nil
}
