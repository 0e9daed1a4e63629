package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mengeric/geoetl-go/metrics"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/state"
)

// PoisonMonitor 毒消息监控：处理超过最大投递次数的消息，避免作业永久卡住。
type PoisonMonitor struct {
	m *Manager
}

// ScanOnce 清空一次任务队列与作业队列的毒消息子队列。
// 功能：
// - 任务消息：非终态任务强制结束（retrying / pending_retry → cancelled，其余 → failed），随后触发完成检测；
// - 作业消息：作业以 "exceeded maximum delivery attempts" 失败；
// - 同一条毒消息重复处理是幂等的：终态任务不再变更，已确认的阶段不会再次确认。
// 返回：
// - 本次处理的消息数；
// - 处理失败的消息不确认，记录日志后继续处理后续消息，错误合并返回。
func (p *PoisonMonitor) ScanOnce(ctx context.Context) (int, error) {
	n := 0
	var errs []error
	for _, src := range []struct {
		name   string
		handle func(context.Context, *queue.Message) error
	}{
		{p.m.opt.taskQueue, p.handleTask},
		{p.m.opt.jobQueue, p.handleJob},
	} {
		dlq := queue.PoisonQueue(src.name)
		seen := map[string]bool{}
		for {
			if err := ctx.Err(); err != nil {
				return n, errors.Join(append(errs, err)...)
			}
			msg, err := p.m.q.Receive(ctx, dlq)
			if errors.Is(err, queue.ErrEmpty) {
				break
			}
			if err != nil {
				errs = append(errs, err)
				break
			}
			// 可见性超时极短时，失败的消息可能在同一轮内再次出现
			if seen[msg.ID] {
				break
			}
			seen[msg.ID] = true
			if err := src.handle(ctx, msg); err != nil {
				p.m.log.Error(ctx, "handle poison message failed", "queue", dlq, "msg_id", msg.ID, "err", err)
				errs = append(errs, fmt.Errorf("%s %s: %w", dlq, msg.ID, err))
				continue
			}
			if err := p.m.q.Ack(ctx, msg); err != nil {
				errs = append(errs, err)
				continue
			}
			metrics.PoisonMessages.WithLabelValues(src.name).Inc()
			n++
		}
	}
	return n, errors.Join(errs...)
}

// HandleTaskMessage 处理一条任务毒消息。
func (p *PoisonMonitor) HandleTaskMessage(ctx context.Context, msg *queue.Message) error {
	return p.handleTask(ctx, msg)
}

func (p *PoisonMonitor) handleTask(ctx context.Context, msg *queue.Message) error {
	m := p.m
	var tm queue.TaskMessage
	if err := queue.Decode(msg.Body, &tm); err != nil || tm.TaskID == "" {
		m.log.Warn(ctx, "drop malformed poison message", "msg_id", msg.ID, "err", err)
		return nil
	}
	t, err := m.updateTask(ctx, tm.TaskID, func(t *state.TaskRecord) error {
		return abort(t, ReasonPoisoned)
	})
	switch {
	case errors.Is(err, state.ErrNotFound):
		return nil
	case errors.Is(err, state.ErrSkip):
	case err != nil:
		return err
	default:
		metrics.TasksProcessed.WithLabelValues(t.TaskType, string(t.Status)).Inc()
		m.log.Warn(ctx, "poisoned task force-failed", "task_id", t.TaskID, "job_id", t.ParentJobID, "status", t.Status)
	}
	_, err = m.detector.CheckStage(ctx, t.ParentJobID, t.Stage)
	return err
}

func (p *PoisonMonitor) handleJob(ctx context.Context, msg *queue.Message) error {
	m := p.m
	var jm queue.JobMessage
	if err := queue.Decode(msg.Body, &jm); err != nil || jm.JobID == "" {
		m.log.Warn(ctx, "drop malformed poison message", "msg_id", msg.ID, "err", err)
		return nil
	}
	job, err := m.store.GetJob(ctx, jm.JobID)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Attempt != jm.Attempt || job.Stage != jm.Stage {
		return nil
	}
	return m.failJob(ctx, job, ReasonPoisoned)
}
