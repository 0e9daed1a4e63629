package orchestrator

import (
	"context"
	"time"

	"github.com/mengeric/geoetl-go/state"
)

// 默认巡检参数。
const (
	DefaultStaleAfter     = 10 * time.Minute
	DefaultReconcileBatch = 100
)

// Reconciler 自愈巡检：修复进程崩溃或消息丢失导致的停滞作业。
type Reconciler struct {
	m          *Manager
	staleAfter time.Duration
	batch      int
}

// NewReconciler 创建巡检器；staleAfter<0 或 batch<=0 时使用默认值。
func NewReconciler(m *Manager, staleAfter time.Duration, batch int) *Reconciler {
	if staleAfter < 0 {
		staleAfter = DefaultStaleAfter
	}
	if batch <= 0 {
		batch = DefaultReconcileBatch
	}
	return &Reconciler{m: m, staleAfter: staleAfter, batch: batch}
}

// Sweep 巡检一轮超过 staleAfter 未更新的非终态作业。
// 修复情形：
// (a) 当前阶段已有结果但作业未推进 → 重新执行 OnStageFinalized；
// (b) 当前阶段尚未完成扇出 → 重新进入阶段（幂等）；
// (c) 当前阶段任务全部终态但没有结果 → 执行完成检测；
// (d) 停留在 queued / pending_retry 的任务 → 重新投递。
// 返回：
// - 执行了修复动作的作业数。
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	m := r.m
	cutoff := m.opt.now().Add(-r.staleAfter)
	jobs, err := m.store.ListJobs(ctx, state.JobFilter{
		Statuses:      []state.JobStatus{state.JobQueued, state.JobProcessing},
		UpdatedBefore: cutoff,
		Limit:         r.batch,
	})
	if err != nil {
		return 0, err
	}
	repaired := 0
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		fixed, err := r.repair(ctx, &jobs[i], cutoff)
		if err != nil {
			m.log.Warn(ctx, "reconcile job failed", "job_id", jobs[i].JobID, "err", err)
			continue
		}
		if fixed {
			repaired++
		}
	}
	if repaired > 0 {
		m.log.Info(ctx, "reconcile sweep repaired jobs", "count", repaired, "scanned", len(jobs))
	}
	return repaired, nil
}

func (r *Reconciler) repair(ctx context.Context, job *state.JobRecord, cutoff time.Time) (bool, error) {
	m := r.m
	log := m.log.With("job_id", job.JobID, "stage", job.Stage, "attempt", job.Attempt)
	if res, ok := job.StageResults[job.Stage]; ok {
		log.Info(ctx, "reconcile: re-run stage finalization")
		return true, m.OnStageFinalized(ctx, job.JobID, job.Stage, res)
	}
	if _, ok := job.StageTaskCounts[job.Stage]; !ok {
		log.Info(ctx, "reconcile: re-enter stage")
		return true, m.coord.EnterStage(ctx, job, job.Stage)
	}
	done, err := m.detector.CheckStage(ctx, job.JobID, job.Stage)
	if err != nil || done {
		if done {
			log.Info(ctx, "reconcile: stage finalized")
		}
		return done, err
	}
	all, err := m.store.GetTasks(ctx, job.JobID, job.Stage)
	if err != nil {
		return false, err
	}
	n := 0
	for _, t := range filterAttempt(all, job.Attempt) {
		if t.Status != state.TaskQueued && t.Status != state.TaskPendingRetry {
			continue
		}
		if !t.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := m.enqueueTask(ctx, &t, 0); err != nil {
			return n > 0, err
		}
		n++
	}
	if n > 0 {
		log.Info(ctx, "reconcile: re-enqueued stuck tasks", "count", n)
	}
	return n > 0, nil
}
