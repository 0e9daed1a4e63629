package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mengeric/geoetl-go/metrics"
	"github.com/mengeric/geoetl-go/processor"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/state"
)

// Router 任务路由器：消费一条任务消息，执行处理器并回写任务状态。
type Router struct {
	m *Manager
}

// Handle 处理一条任务消息。
// 返回 nil 表示消息可以确认（包括重复、过期、畸形消息）；
// 返回错误表示不确认，等待可见性超时后重新投递。
// 流程：
// 1) 任务已终态 → 只触发完成检测（重复投递）；
// 2) 任务属于旧尝试、作业已终态或已请求取消 → 任务置为 cancelled；
// 3) 处理器缺失 → ErrHandlerMissing，不计为任务失败；
// 4) 认领任务（→ processing），执行处理器；
// 5) 成功 → completed；失败 → 未达上限时退避重投，否则永久 failed；
// 6) 任务进入终态后调用完成检测。
func (r *Router) Handle(ctx context.Context, msg *queue.Message) error {
	m := r.m
	var tm queue.TaskMessage
	if err := queue.Decode(msg.Body, &tm); err != nil || tm.TaskID == "" {
		m.log.Warn(ctx, "drop malformed task message", "msg_id", msg.ID, "err", err)
		return nil
	}
	ctx, span := m.tracer.Start(ctx, "orchestrator.handle_task", trace.WithAttributes(
		attribute.String("task_id", tm.TaskID),
		attribute.String("job_id", tm.ParentJobID),
		attribute.String("task_type", tm.TaskType),
		attribute.Int("stage", tm.Stage),
		attribute.Int("delivery_count", msg.DeliveryCount),
	))
	defer span.End()
	log := m.log.With("task_id", tm.TaskID, "job_id", tm.ParentJobID, "stage", tm.Stage)

	task, err := m.store.GetTask(ctx, tm.TaskID)
	if errors.Is(err, state.ErrNotFound) {
		log.Warn(ctx, "task message for unknown task")
		return nil
	}
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		_, err := m.detector.CheckStage(ctx, task.ParentJobID, task.Stage)
		return err
	}
	job, err := m.store.GetJob(ctx, task.ParentJobID)
	if errors.Is(err, state.ErrNotFound) {
		log.Warn(ctx, "task references unknown job")
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case task.Attempt != job.Attempt || job.Status.IsTerminal():
		return r.cancel(ctx, task.TaskID, "superseded", false)
	case job.CancelRequested:
		return r.cancel(ctx, task.TaskID, ReasonCancelled, true)
	}

	proc, ok := m.procs.Get(task.TaskType)
	if !ok {
		log.Error(ctx, "no processor registered", "task_type", task.TaskType)
		span.SetStatus(codes.Error, "handler missing")
		return fmt.Errorf("%w: %s", ErrHandlerMissing, task.TaskType)
	}

	claimed, err := m.updateTask(ctx, task.TaskID, func(t *state.TaskRecord) error {
		switch t.Status {
		case state.TaskProcessing:
			// 上一次投递的执行者未确认消息，按至少一次语义重新执行
			return state.ErrSkip
		case state.TaskQueued:
			return t.Advance(state.TaskProcessing)
		case state.TaskPending, state.TaskPendingRetry:
			return t.Advance(state.TaskQueued, state.TaskProcessing)
		default:
			return &state.TransitionError{Entity: "task", ID: t.TaskID, From: string(t.Status), To: string(state.TaskProcessing)}
		}
	})
	switch {
	case errors.Is(err, state.ErrSkip):
	case errors.Is(err, state.ErrIllegalTransition):
		log.Debug(ctx, "task claimed elsewhere", "err", err)
		return nil
	case err != nil:
		return err
	}
	if claimed.Status == state.TaskProcessing && msg.DeliveryCount > 1 {
		log.Warn(ctx, "re-executing task after redelivery", "delivery_count", msg.DeliveryCount)
	}
	r.claimJob(ctx, job, task.Stage)

	tc := processor.TaskContext{
		JobID:         job.JobID,
		TaskID:        claimed.TaskID,
		JobType:       claimed.JobType,
		TaskType:      claimed.TaskType,
		Stage:         claimed.Stage,
		Index:         claimed.Index,
		RetryCount:    claimed.RetryCount,
		JobParameters: state.CopyMap(job.Parameters),
		PriorResults:  job.StageResults,
	}.WithCancelCheck(func() bool {
		j, err := m.store.GetJob(ctx, job.JobID)
		return err == nil && j.CancelRequested
	})

	metrics.TasksInflight.Inc()
	res := r.execute(ctx, proc, claimed, tc)
	metrics.TasksInflight.Dec()
	metrics.TaskDuration.WithLabelValues(claimed.TaskType).Observe(float64(res.ExecutionTimeMS) / 1000)

	if res.Status == state.TaskCompleted {
		return r.complete(ctx, claimed, res)
	}
	span.RecordError(errors.New(res.ErrorDetails))
	return r.fail(ctx, claimed, res)
}

// execute 调用处理器并把返回值整理为一次执行结果。
func (r *Router) execute(ctx context.Context, proc processor.Processor, claimed *state.TaskRecord, tc processor.TaskContext) state.TaskResult {
	start := r.m.opt.now()
	out, err := invoke(ctx, proc, state.CopyMap(claimed.Parameters), tc)
	end := r.m.opt.now()
	res := state.TaskResult{
		TaskID:          claimed.TaskID,
		TaskType:        claimed.TaskType,
		Status:          state.TaskCompleted,
		ResultData:      out,
		ExecutionTimeMS: end.Sub(start).Milliseconds(),
		Timestamp:       end,
	}
	if err != nil {
		res.Status = state.TaskFailed
		res.ResultData = nil
		res.ErrorDetails = err.Error()
	}
	return res
}

// claimJob 阶段内第一个开始执行的任务把作业从 queued 推到 processing。
func (r *Router) claimJob(ctx context.Context, job *state.JobRecord, stage int) {
	if job.Status != state.JobQueued || job.Stage != stage {
		return
	}
	_, err := r.m.updateJob(ctx, job.JobID, func(j *state.JobRecord) error {
		if j.Status != state.JobQueued || j.Stage != stage || j.Attempt != job.Attempt {
			return state.ErrSkip
		}
		return j.Advance(state.JobProcessing)
	})
	if err != nil && !errors.Is(err, state.ErrSkip) {
		r.m.log.Warn(ctx, "mark job processing failed", "job_id", job.JobID, "err", err)
	}
}

func (r *Router) complete(ctx context.Context, claimed *state.TaskRecord, res state.TaskResult) error {
	m := r.m
	_, err := m.updateTask(ctx, claimed.TaskID, func(t *state.TaskRecord) error {
		if t.Status != state.TaskProcessing {
			return state.ErrSkip
		}
		t.Apply(res)
		return t.Advance(state.TaskCompleted)
	})
	if errors.Is(err, state.ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	metrics.TasksProcessed.WithLabelValues(claimed.TaskType, string(state.TaskCompleted)).Inc()
	m.log.Debug(ctx, "task completed", "task_id", claimed.TaskID, "elapsed_ms", res.ExecutionTimeMS)
	_, err = m.detector.CheckStage(ctx, claimed.ParentJobID, claimed.Stage)
	return err
}

func (r *Router) fail(ctx context.Context, claimed *state.TaskRecord, res state.TaskResult) error {
	m := r.m
	retry := false
	updated, err := m.updateTask(ctx, claimed.TaskID, func(t *state.TaskRecord) error {
		if t.Status != state.TaskProcessing {
			return state.ErrSkip
		}
		t.RetryCount++
		t.Apply(res)
		retry = t.RetryCount < m.opt.maxRetries
		if retry {
			return t.Advance(state.TaskFailed, state.TaskRetrying, state.TaskPendingRetry)
		}
		return t.Advance(state.TaskFailed)
	})
	if errors.Is(err, state.ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	log := m.log.With("task_id", updated.TaskID, "job_id", updated.ParentJobID, "retry_count", updated.RetryCount)
	if !retry {
		metrics.TasksProcessed.WithLabelValues(updated.TaskType, string(state.TaskFailed)).Inc()
		log.Warn(ctx, "task failed permanently", "err", res.ErrorDetails)
		_, err := m.detector.CheckStage(ctx, updated.ParentJobID, updated.Stage)
		return err
	}

	delay := m.opt.backoff.Delay(updated.RetryCount)
	metrics.TaskRetries.WithLabelValues(updated.TaskType).Inc()
	log.Info(ctx, "task retry scheduled", "delay", delay.String(), "err", res.ErrorDetails)
	if err := m.enqueueTask(ctx, updated, delay); err != nil {
		return err
	}
	_, err = m.updateTask(ctx, updated.TaskID, func(t *state.TaskRecord) error {
		if t.Status != state.TaskPendingRetry {
			return state.ErrSkip
		}
		return t.Advance(state.TaskQueued)
	})
	if err != nil && !errors.Is(err, state.ErrSkip) {
		return err
	}
	return nil
}

// cancel 结束尚未终态的任务：重试中的任务置为 cancelled，其余经 processing 置为 failed，
// error_details 记为 reason；check 为 true 时随后触发完成检测。
func (r *Router) cancel(ctx context.Context, taskID, reason string, check bool) error {
	m := r.m
	t, err := m.updateTask(ctx, taskID, func(t *state.TaskRecord) error {
		return abort(t, reason)
	})
	if err != nil && !errors.Is(err, state.ErrSkip) {
		return err
	}
	if err == nil {
		metrics.TasksProcessed.WithLabelValues(t.TaskType, string(t.Status)).Inc()
		m.log.Info(ctx, "task cancelled", "task_id", taskID, "reason", reason, "status", t.Status)
	}
	if !check || t == nil {
		return nil
	}
	_, err = m.detector.CheckStage(ctx, t.ParentJobID, t.Stage)
	return err
}

// abort 把非终态任务沿合法路径结束；终态任务返回 ErrSkip。
func abort(t *state.TaskRecord, reason string) error {
	path := state.AbortPath(t.Status)
	if path == nil {
		return state.ErrSkip
	}
	t.ErrorDetails = reason
	return t.Advance(path...)
}

// invoke 执行处理器，panic 视为一次失败。
func invoke(ctx context.Context, p processor.Processor, params map[string]any, tc processor.TaskContext) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panic: %v", rec)
		}
	}()
	return p.Process(ctx, params, tc)
}
