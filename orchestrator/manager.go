// Package orchestrator 实现 Job→Stage→Task 编排：提交、阶段扇出、任务执行、扇入检测、毒消息处理与自愈。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mengeric/geoetl-go/idgen"
	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/metrics"
	"github.com/mengeric/geoetl-go/processor"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/state"
)

const tracerName = "github.com/mengeric/geoetl-go/orchestrator"

// Manager 编排入口：持有存储、队列与两张只读注册表，并组装各组件。
type Manager struct {
	store  state.Store
	q      queue.Queue
	defs   *jobdef.Registry
	procs  *processor.Registry
	opt    options
	log    logging.Logger
	tracer trace.Tracer

	coord    *Coordinator
	detector *Detector
	router   *Router
	poison   *PoisonMonitor
}

// NewManager 创建 Manager。
// 参数：
// - store：作业/任务存储；
// - q：消息队列；
// - defs / procs：启动时构造并已交叉校验的注册表；
// - opts：队列名、重试、退避、fail-fast 等可选项。
func NewManager(store state.Store, q queue.Queue, defs *jobdef.Registry, procs *processor.Registry, opts ...Option) *Manager {
	o := options{failFast: true}
	for _, fn := range opts {
		fn(&o)
	}
	o.withDefaults()
	m := &Manager{store: store, q: q, defs: defs, procs: procs, opt: o, log: o.logger, tracer: otel.Tracer(tracerName)}
	m.coord = &Coordinator{m: m}
	m.detector = &Detector{m: m}
	m.router = &Router{m: m}
	m.poison = &PoisonMonitor{m: m}
	return m
}

func (m *Manager) Coordinator() *Coordinator     { return m.coord }
func (m *Manager) Detector() *Detector           { return m.detector }
func (m *Manager) Router() *Router               { return m.router }
func (m *Manager) PoisonMonitor() *PoisonMonitor { return m.poison }
func (m *Manager) Queue() queue.Queue            { return m.q }
func (m *Manager) TaskQueue() string             { return m.opt.taskQueue }
func (m *Manager) JobQueue() string              { return m.opt.jobQueue }

// Submit 提交作业。
// 功能：校验参数 → 计算 job_id → 幂等创建 → 同步进入阶段一。
// 返回：
// - job_id；同一 (job_type, params) 重复提交返回已有 job_id；
// 异常：
// - *jobdef.ValidationError / ErrUnknownJobType：同步拒绝，不创建记录；
// - 进入阶段一失败只记录日志，由 Reconciler 补偿，提交方仍拿到 job_id。
func (m *Manager) Submit(ctx context.Context, jobType string, params map[string]any) (string, error) {
	ctx, span := m.tracer.Start(ctx, "orchestrator.submit", trace.WithAttributes(attribute.String("job_type", jobType)))
	defer span.End()

	def, ok := m.defs.Get(jobType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	normalized, err := m.defs.Validate(jobType, params)
	if err != nil {
		return "", err
	}
	jobID, err := idgen.JobID(jobType, def.ParameterSchema().IdentityParams(normalized))
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("job_id", jobID))
	log := m.log.With("job_id", jobID, "job_type", jobType)

	created, err := m.store.CreateJob(ctx, &state.JobRecord{
		JobID:        jobID,
		JobType:      jobType,
		Parameters:   normalized,
		Status:       state.JobQueued,
		Stage:        1,
		TotalStages:  len(def.Stages()),
		StageResults: map[int]state.StageResult{},
		Attempt:      1,
	})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	metrics.JobsSubmitted.WithLabelValues(jobType).Inc()
	if !created {
		log.Info(ctx, "job already exists")
		return jobID, nil
	}
	log.Info(ctx, "job submitted", "total_stages", len(def.Stages()))

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error(ctx, "reload job failed", "err", err)
		return jobID, nil
	}
	if err := m.coord.EnterStage(ctx, job, 1); err != nil {
		log.Error(ctx, "enter stage failed", "stage", 1, "err", err)
	}
	return jobID, nil
}

// GetJob 查询作业。
func (m *Manager) GetJob(ctx context.Context, jobID string) (*state.JobRecord, error) {
	return m.store.GetJob(ctx, jobID)
}

// ListTasks 查询作业当前尝试的任务；stage<=0 表示全部阶段。
func (m *Manager) ListTasks(ctx context.Context, jobID string, stage int) ([]state.TaskRecord, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := m.store.GetTasks(ctx, jobID, stage)
	if err != nil {
		return nil, err
	}
	return filterAttempt(tasks, job.Attempt), nil
}

// Cancel 设置协作式取消标志：不中断执行中的任务，不再进入后续阶段。
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	_, err := m.updateJob(ctx, jobID, func(j *state.JobRecord) error {
		if j.Status.IsTerminal() || j.CancelRequested {
			return state.ErrSkip
		}
		j.CancelRequested = true
		return nil
	})
	if errors.Is(err, state.ErrSkip) {
		return nil
	}
	if err == nil {
		m.log.Info(ctx, "job cancel requested", "job_id", jobID)
	}
	return err
}

// Resubmit 重新执行 failed / completed_with_errors 的作业。
// 功能：归档本次阶段结果到 history，attempt 加一，回到阶段一重新扇出；
// 新尝试的任务标识使用独立作用域，与历史任务互不影响。
func (m *Manager) Resubmit(ctx context.Context, jobID string) error {
	job, err := m.updateJob(ctx, jobID, func(j *state.JobRecord) error {
		if j.Status != state.JobFailed && j.Status != state.JobCompletedWithErrors {
			return fmt.Errorf("%w: %s is %s", ErrNotResubmittable, j.JobID, j.Status)
		}
		j.History = append(j.History, state.AttemptRecord{
			Attempt: j.Attempt, Status: j.Status, Error: j.Error, StageResults: j.StageResults,
		})
		j.Attempt++
		j.Stage = 1
		j.StageResults = map[int]state.StageResult{}
		j.StageTaskCounts = nil
		j.Error = ""
		j.CancelRequested = false
		return j.Advance(state.JobQueued)
	})
	if err != nil {
		return err
	}
	m.log.Info(ctx, "job resubmitted", "job_id", jobID, "attempt", job.Attempt)
	return m.coord.EnterStage(ctx, job, 1)
}

// OnStageFinalized 阶段结果写入后的推进逻辑。
// 功能：
// - 已请求取消 → failed("cancelled")；
// - 阶段失败且 fail-fast → failed；
// - 未到最后阶段 → stage+1、状态回到 queued，并发布进入下一阶段的 JobMessage；
// - 最后阶段 → 根据各阶段结果计算终态。
// 多次调用是安全的：作业已推进或已终态时为空操作。
func (m *Manager) OnStageFinalized(ctx context.Context, jobID string, stage int, result state.StageResult) error {
	ctx, span := m.tracer.Start(ctx, "orchestrator.on_stage_finalized",
		trace.WithAttributes(attribute.String("job_id", jobID), attribute.Int("stage", stage)))
	defer span.End()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() || job.Stage != stage {
		return nil
	}
	switch {
	case job.CancelRequested:
		return m.finishJob(ctx, job.JobType, jobID, stage, state.JobFailed, ReasonCancelled)
	case result.Status == state.StageFailed && m.opt.failFast:
		return m.finishJob(ctx, job.JobType, jobID, stage, state.JobFailed, stageFailure(stage, result))
	case stage < job.TotalStages:
		next, err := m.updateJob(ctx, jobID, func(j *state.JobRecord) error {
			if j.Status.IsTerminal() || j.Stage != stage {
				return state.ErrSkip
			}
			j.Stage = stage + 1
			return j.Advance(state.JobQueued)
		})
		if errors.Is(err, state.ErrSkip) {
			// 已被他人推进；若推进后尚未扇出则补发一次
			if next.Status.IsTerminal() || next.Stage != stage+1 {
				return nil
			}
		} else if err != nil {
			return err
		}
		m.log.Info(ctx, "job advanced", "job_id", jobID, "stage", stage+1)
		return m.publishStage(ctx, next, stage+1)
	default:
		final := state.FinalJobStatus(job.StageResults, job.TotalStages)
		reason := ""
		if final == state.JobFailed {
			reason = stageFailure(stage, result)
		}
		return m.finishJob(ctx, job.JobType, jobID, stage, final, reason)
	}
}

// HandleJobMessage 消费作业队列消息：进入指定阶段（幂等）。
func (m *Manager) HandleJobMessage(ctx context.Context, msg *queue.Message) error {
	var jm queue.JobMessage
	if err := queue.Decode(msg.Body, &jm); err != nil || jm.JobID == "" {
		m.log.Warn(ctx, "drop malformed job message", "msg_id", msg.ID, "err", err)
		return nil
	}
	job, err := m.store.GetJob(ctx, jm.JobID)
	if errors.Is(err, state.ErrNotFound) {
		m.log.Warn(ctx, "job message for unknown job", "job_id", jm.JobID)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() || job.Stage != jm.Stage || job.Attempt != jm.Attempt {
		return nil
	}
	return m.coord.EnterStage(ctx, job, jm.Stage)
}

func (m *Manager) publishStage(ctx context.Context, job *state.JobRecord, stage int) error {
	body, err := queue.Encode(queue.JobMessage{JobID: job.JobID, JobType: job.JobType, Stage: stage, Attempt: job.Attempt})
	if err != nil {
		return err
	}
	if _, err := m.q.Enqueue(ctx, m.opt.jobQueue, body, 0); err != nil {
		return fmt.Errorf("enqueue job message: %w", err)
	}
	return nil
}

// enqueueTask 投递任务消息，delay 为可见延迟。
func (m *Manager) enqueueTask(ctx context.Context, t *state.TaskRecord, delay time.Duration) error {
	body, err := queue.Encode(taskMessage(t))
	if err != nil {
		return err
	}
	if _, err := m.q.Enqueue(ctx, m.opt.taskQueue, body, delay); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.TaskID, err)
	}
	return nil
}

// recordStageResult 以 CAS 写入阶段结果；只有写入成功的调用方继续推进作业。
func (m *Manager) recordStageResult(ctx context.Context, jobID string, attempt, stage int, result state.StageResult) (bool, error) {
	_, err := m.updateJob(ctx, jobID, func(j *state.JobRecord) error {
		if j.Status.IsTerminal() || j.Stage != stage || j.Attempt != attempt {
			return state.ErrSkip
		}
		if _, done := j.StageResults[stage]; done {
			return state.ErrSkip
		}
		if j.StageResults == nil {
			j.StageResults = map[int]state.StageResult{}
		}
		j.StageResults[stage] = result
		return nil
	})
	if errors.Is(err, state.ErrSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.StagesFinalized.WithLabelValues(string(result.Status)).Inc()
	m.log.Info(ctx, "stage finalized", "job_id", jobID, "stage", stage, "status", result.Status,
		"task_count", result.TaskCount, "failed_count", result.FailedCount, "skipped", result.Skipped)
	return true, m.OnStageFinalized(ctx, jobID, stage, result)
}

// finishJob 将作业置为终态；stage>0 时要求作业仍处于该阶段。
func (m *Manager) finishJob(ctx context.Context, jobType, jobID string, stage int, status state.JobStatus, reason string) error {
	_, err := m.updateJob(ctx, jobID, func(j *state.JobRecord) error {
		if j.Status.IsTerminal() || (stage > 0 && j.Stage != stage) {
			return state.ErrSkip
		}
		j.Error = reason
		return j.Advance(finishPath(j.Status, status)...)
	})
	if errors.Is(err, state.ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	metrics.JobsFinished.WithLabelValues(jobType, string(status)).Inc()
	if status == state.JobFailed {
		m.log.Warn(ctx, "job failed", "job_id", jobID, "job_type", jobType, "stage", stage, "reason", reason)
	} else {
		m.log.Info(ctx, "job finished", "job_id", jobID, "job_type", jobType, "status", status)
	}
	return nil
}

// failJob 将作业置为 failed。
func (m *Manager) failJob(ctx context.Context, job *state.JobRecord, reason string) error {
	return m.finishJob(ctx, job.JobType, job.JobID, job.Stage, state.JobFailed, reason)
}

func (m *Manager) updateJob(ctx context.Context, jobID string, fn state.JobMutator) (*state.JobRecord, error) {
	j, err := state.UpdateJob(ctx, m.store, jobID, fn)
	if errors.Is(err, state.ErrConflict) {
		metrics.StateConflictsExhausted.WithLabelValues("job").Inc()
		m.log.Error(ctx, "state conflict retries exhausted", "job_id", jobID, "err", err)
	}
	return j, err
}

func (m *Manager) updateTask(ctx context.Context, taskID string, fn state.TaskMutator) (*state.TaskRecord, error) {
	t, err := state.UpdateTask(ctx, m.store, taskID, fn)
	if errors.Is(err, state.ErrConflict) {
		metrics.StateConflictsExhausted.WithLabelValues("task").Inc()
		m.log.Error(ctx, "state conflict retries exhausted", "task_id", taskID, "err", err)
	}
	return t, err
}

// finishPath queued 的作业需先经过 processing 才能进入终态。
func finishPath(from, to state.JobStatus) []state.JobStatus {
	if from == state.JobQueued {
		return []state.JobStatus{state.JobProcessing, to}
	}
	return []state.JobStatus{to}
}

func stageFailure(stage int, r state.StageResult) string {
	if len(r.ErrorSummary) == 0 {
		return fmt.Sprintf("stage %d failed", stage)
	}
	return fmt.Sprintf("stage %d failed: %s", stage, strings.Join(r.ErrorSummary, "; "))
}

func filterAttempt(tasks []state.TaskRecord, attempt int) []state.TaskRecord {
	out := tasks[:0:0]
	for _, t := range tasks {
		if t.Attempt == attempt {
			out = append(out, t)
		}
	}
	return out
}
