package state

// JobStatus 作业状态。
type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobProcessing          JobStatus = "processing"
	JobCompleted           JobStatus = "completed"
	JobFailed              JobStatus = "failed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
)

// IsTerminal 是否为终态。
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCompletedWithErrors
}

// TaskStatus 任务状态。
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskQueued       TaskStatus = "queued"
	TaskProcessing   TaskStatus = "processing"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
	TaskRetrying     TaskStatus = "retrying"
	TaskPendingRetry TaskStatus = "pending_retry"
	TaskCancelled    TaskStatus = "cancelled"
)

// IsTerminal 是否为终态。
// 持久化的 failed 总是永久失败：failed→retrying 只在同一次原子更新内经过。
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// StageStatus 阶段汇总状态。
type StageStatus string

const (
	StageCompleted           StageStatus = "completed"
	StageCompletedWithErrors StageStatus = "completed_with_errors"
	StageFailed              StageStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:              {JobProcessing},
	JobProcessing:          {JobCompleted, JobFailed, JobCompletedWithErrors, JobQueued},
	JobCompleted:           {JobQueued},
	JobFailed:              {JobQueued},
	JobCompletedWithErrors: {JobQueued},
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:      {TaskQueued},
	TaskQueued:       {TaskProcessing},
	TaskProcessing:   {TaskCompleted, TaskFailed},
	TaskFailed:       {TaskRetrying},
	TaskRetrying:     {TaskPendingRetry, TaskCancelled},
	TaskPendingRetry: {TaskQueued, TaskCancelled},
}

// CanTransitionJob 判断作业状态迁移是否合法；同状态迁移视为合法的空操作。
func CanTransitionJob(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionTask 判断任务状态迁移是否合法；同状态迁移视为合法的空操作。
// 只有 retrying / pending_retry 可以迁移到 cancelled。
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AbortPath 返回把非终态任务直接结束所需的合法迁移路径：
// 重试中的任务取消，其余经 processing 置为 failed。终态返回 nil。
func AbortPath(from TaskStatus) []TaskStatus {
	switch from {
	case TaskRetrying, TaskPendingRetry:
		return []TaskStatus{TaskCancelled}
	case TaskPending:
		return []TaskStatus{TaskQueued, TaskProcessing, TaskFailed}
	case TaskQueued:
		return []TaskStatus{TaskProcessing, TaskFailed}
	case TaskProcessing:
		return []TaskStatus{TaskFailed}
	default:
		return nil
	}
}
