package state

import "sort"

// NewStageResult 由一个阶段的全部（已终态）任务计算阶段结果。
// 功能：纯函数，不读写存储；同一组任务无论输入顺序如何，输出完全一致。
// 规则：
// - failed_count == 0 → completed；
// - failed_count > 0 且 successful_count > 0 → completed_with_errors；
// - successful_count == 0 → failed；
// - cancelled 计入失败；error_summary 按任务下标顺序去重保留首次出现。
// 说明：Results 由作业定义的聚合钩子填充，这里不处理。
func NewStageResult(stage int, tasks []TaskRecord) StageResult {
	sorted := make([]TaskRecord, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Index != sorted[j].Index {
			return sorted[i].Index < sorted[j].Index
		}
		return sorted[i].TaskID < sorted[j].TaskID
	})

	r := StageResult{Stage: stage, TaskCount: len(sorted)}
	seen := map[string]bool{}
	for _, t := range sorted {
		switch t.Status {
		case TaskCompleted:
			r.SuccessfulCount++
		case TaskFailed, TaskCancelled:
			r.FailedCount++
			msg := t.ErrorDetails
			if msg == "" {
				msg = string(t.Status)
			}
			if !seen[msg] {
				seen[msg] = true
				r.ErrorSummary = append(r.ErrorSummary, msg)
			}
		}
	}
	r.Status = StageStatusOf(r.SuccessfulCount, r.FailedCount)
	return r
}

// StageStatusOf 只依赖计数得出阶段状态。
func StageStatusOf(successful, failed int) StageStatus {
	switch {
	case failed == 0:
		return StageCompleted
	case successful > 0:
		return StageCompletedWithErrors
	default:
		return StageFailed
	}
}

// SkippedStageResult 被跳过阶段的合成结果。
func SkippedStageResult(stage int) StageResult {
	return StageResult{Stage: stage, Status: StageCompleted, Skipped: true}
}

// FinalJobStatus 根据各阶段结果计算作业终态。
// 最终阶段失败 → failed；任一阶段存在失败任务 → completed_with_errors；否则 completed。
func FinalJobStatus(results map[int]StageResult, totalStages int) JobStatus {
	if last, ok := results[totalStages]; ok && last.Status == StageFailed {
		return JobFailed
	}
	for _, r := range results {
		if r.FailedCount > 0 || r.Status != StageCompleted {
			return JobCompletedWithErrors
		}
	}
	return JobCompleted
}
