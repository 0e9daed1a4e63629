package orchestrator

import (
	"context"
	"errors"

	"github.com/mengeric/geoetl-go/state"
)

// Detector 完成检测器：判断阶段是否全部终态，并保证每个阶段只被最终确认一次。
type Detector struct {
	m *Manager
}

// CheckStage 检查作业某阶段是否已完成，完成时写入阶段结果并推进作业。
// 功能：
// - 重新读取兄弟任务，只统计当前尝试的任务；
// - 只有任务数已记录、且终态任务数等于记录数时才计算结果；
// - 以 CAS 写入 stage_results[stage]，并发调用中只有一个返回 true。
// 返回：
// - true：本次调用完成了阶段确认。
func (d *Detector) CheckStage(ctx context.Context, jobID string, stage int) (bool, error) {
	m := d.m
	job, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() || job.Stage != stage {
		return false, nil
	}
	if _, done := job.StageResults[stage]; done {
		return false, nil
	}
	expected, ok := job.StageTaskCounts[stage]
	if !ok {
		return false, nil
	}
	all, err := m.store.GetTasks(ctx, jobID, stage)
	if err != nil {
		return false, err
	}
	tasks := filterAttempt(all, job.Attempt)
	if len(tasks) < expected {
		return false, nil
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false, nil
		}
	}

	result := state.NewStageResult(stage, tasks)
	if def, ok := m.defs.Get(job.JobType); ok {
		result.Results = def.AggregateResults(stageContext(job, def, stage), tasks)
	}
	return m.recordStageResult(ctx, jobID, job.Attempt, stage, result)
}
