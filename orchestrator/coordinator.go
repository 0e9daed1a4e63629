package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mengeric/geoetl-go/idgen"
	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/state"
)

// Coordinator 阶段协调器：负责一个阶段的扇出。
type Coordinator struct {
	m *Manager
}

// EnterStage 进入作业的指定阶段。
// 流程：
// 1) 过期（作业已终态、阶段或尝试不匹配）直接返回；已请求取消则失败作业；
// 2) 前置条件不满足 → 作业失败；ShouldSkip → 写入跳过结果；
// 3) 生成任务并逐个幂等落库（状态 queued）；
// 4) 全部落库后以 CAS 记录本阶段任务数，随后投递消息；
// 5) 任务数为零时阶段立即以 completed 完成。
// 说明：任务数已记录时为空操作，未投递的任务由 Reconciler 补发。
func (c *Coordinator) EnterStage(ctx context.Context, job *state.JobRecord, stage int) error {
	m := c.m
	ctx, span := m.tracer.Start(ctx, "orchestrator.enter_stage",
		trace.WithAttributes(attribute.String("job_id", job.JobID), attribute.Int("stage", stage)))
	defer span.End()

	if job.Status.IsTerminal() || job.Stage != stage {
		return nil
	}
	if job.CancelRequested {
		return m.failJob(ctx, job, ReasonCancelled)
	}
	if _, done := job.StageResults[stage]; done {
		return m.OnStageFinalized(ctx, job.JobID, stage, job.StageResults[stage])
	}
	if _, fanned := job.StageTaskCounts[stage]; fanned {
		return nil
	}
	def, ok := m.defs.Get(job.JobType)
	if !ok {
		return m.failJob(ctx, job, fmt.Sprintf("unknown job type %q", job.JobType))
	}
	stages := def.Stages()
	if stage < 1 || stage > len(stages) {
		return m.failJob(ctx, job, fmt.Sprintf("stage %d out of range", stage))
	}
	sc := stageContext(job, def, stage)
	log := m.log.With("job_id", job.JobID, "stage", stage, "stage_name", sc.StageDef.Name)

	if !def.ValidatePrerequisites(sc) {
		return m.failJob(ctx, job, fmt.Sprintf("stage %d (%s): prerequisites not met", stage, sc.StageDef.Name))
	}
	if def.ShouldSkip(sc) {
		log.Info(ctx, "stage skipped")
		_, err := m.recordStageResult(ctx, job.JobID, job.Attempt, stage, state.SkippedStageResult(stage))
		return err
	}
	specs, err := def.CreateTasks(sc)
	if err != nil {
		return m.failJob(ctx, job, fmt.Sprintf("stage %d (%s): create tasks: %v", stage, sc.StageDef.Name, err))
	}

	scope := idgen.AttemptScope(job.JobID, job.Attempt)
	tasks := make([]*state.TaskRecord, 0, len(specs))
	for i, spec := range specs {
		taskType := spec.TaskType
		if taskType == "" {
			taskType = sc.StageDef.TaskType
		}
		if _, ok := m.procs.Get(taskType); !ok {
			return m.failJob(ctx, job, fmt.Sprintf("stage %d (%s): %v: %s", stage, sc.StageDef.Name, ErrHandlerMissing, taskType))
		}
		t := &state.TaskRecord{
			TaskID:      idgen.TaskID(scope, stage, i),
			ParentJobID: job.JobID,
			JobType:     job.JobType,
			TaskType:    taskType,
			Stage:       stage,
			Index:       i,
			Attempt:     job.Attempt,
			Parameters:  def.CalculateTaskParameters(sc, i, spec),
			Status:      state.TaskQueued,
		}
		if _, err := m.store.CreateTask(ctx, t); err != nil {
			return fmt.Errorf("create task %s: %w", t.TaskID, err)
		}
		tasks = append(tasks, t)
	}

	_, err = m.updateJob(ctx, job.JobID, func(j *state.JobRecord) error {
		if j.Status.IsTerminal() || j.Stage != stage || j.Attempt != job.Attempt {
			return state.ErrSkip
		}
		if _, fanned := j.StageTaskCounts[stage]; fanned {
			return state.ErrSkip
		}
		if j.StageTaskCounts == nil {
			j.StageTaskCounts = map[int]int{}
		}
		j.StageTaskCounts[stage] = len(tasks)
		return nil
	})
	if errors.Is(err, state.ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Info(ctx, "stage fanned out", "task_count", len(tasks))

	if len(tasks) == 0 {
		_, err := m.recordStageResult(ctx, job.JobID, job.Attempt, stage, state.NewStageResult(stage, nil))
		return err
	}
	for _, t := range tasks {
		if err := m.enqueueTask(ctx, t, 0); err != nil {
			return err
		}
	}
	return nil
}

func stageContext(job *state.JobRecord, def jobdef.Definition, stage int) jobdef.StageContext {
	stages := def.Stages()
	sc := jobdef.StageContext{
		JobID:        job.JobID,
		JobType:      job.JobType,
		Stage:        stage,
		TotalStages:  len(stages),
		Attempt:      job.Attempt,
		Parameters:   state.CopyMap(job.Parameters),
		PriorResults: job.StageResults,
	}
	if stage >= 1 && stage <= len(stages) {
		sc.StageDef = stages[stage-1]
	}
	return sc
}

func taskMessage(t *state.TaskRecord) queue.TaskMessage {
	return queue.TaskMessage{
		TaskID:      t.TaskID,
		ParentJobID: t.ParentJobID,
		JobType:     t.JobType,
		TaskType:    t.TaskType,
		Stage:       t.Stage,
		Index:       t.Index,
		Parameters:  t.Parameters,
		RetryCount:  t.RetryCount,
	}
}
