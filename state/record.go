package state

import "time"

// JobRecord 作业持久化实体。
// Version 为乐观锁版本号，每次成功更新加一。
type JobRecord struct {
	JobID           string              `json:"job_id"`
	JobType         string              `json:"job_type"`
	Parameters      map[string]any      `json:"parameters"`
	Status          JobStatus           `json:"status"`
	Stage           int                 `json:"stage"`
	TotalStages     int                 `json:"total_stages"`
	StageResults    map[int]StageResult `json:"stage_results"`
	StageTaskCounts map[int]int         `json:"stage_task_counts,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	Error           string              `json:"error,omitempty"`
	Attempt         int                 `json:"attempt"`
	History         []AttemptRecord     `json:"history,omitempty"`
	CancelRequested bool                `json:"cancel_requested,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// AttemptRecord 重提交前归档的一次尝试。
type AttemptRecord struct {
	Attempt      int                 `json:"attempt"`
	Status       JobStatus           `json:"status"`
	Error        string              `json:"error,omitempty"`
	StageResults map[int]StageResult `json:"stage_results"`
}

// TaskRecord 任务持久化实体。
type TaskRecord struct {
	TaskID       string         `json:"task_id"`
	ParentJobID  string         `json:"parent_job_id"`
	JobType      string         `json:"job_type"`
	TaskType     string         `json:"task_type"`
	Stage        int            `json:"stage"`
	Index        int            `json:"index"`
	Attempt      int            `json:"attempt"`
	Parameters   map[string]any `json:"parameters"`
	Status       TaskStatus     `json:"status"`
	RetryCount   int            `json:"retry_count"`
	ResultData   map[string]any `json:"result_data,omitempty"`
	ErrorDetails string         `json:"error_details,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TaskResult 处理器一次执行的瞬时结果，经 TaskRecord.Apply 折叠进任务记录，不单独持久化。
type TaskResult struct {
	TaskID          string         `json:"task_id"`
	TaskType        string         `json:"task_type"`
	Status          TaskStatus     `json:"status"`
	ResultData      map[string]any `json:"result_data,omitempty"`
	ErrorDetails    string         `json:"error_details,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Timestamp       time.Time      `json:"timestamp"`
}

// StageResult 阶段完成契约，写入后不再修改。
type StageResult struct {
	Stage           int              `json:"stage"`
	Status          StageStatus      `json:"status"`
	TaskCount       int              `json:"task_count"`
	SuccessfulCount int              `json:"successful_count"`
	FailedCount     int              `json:"failed_count"`
	ErrorSummary    []string         `json:"error_summary,omitempty"`
	Skipped         bool             `json:"skipped,omitempty"`
	Results         []map[string]any `json:"results,omitempty"`
}

// Advance 按顺序执行一组作业状态迁移，任一步非法则整体不生效。
func (j *JobRecord) Advance(path ...JobStatus) error {
	cur := j.Status
	for _, next := range path {
		if !CanTransitionJob(cur, next) {
			return &TransitionError{Entity: "job", ID: j.JobID, From: string(cur), To: string(next)}
		}
		cur = next
	}
	j.Status = cur
	return nil
}

// Apply 把一次执行结果折叠进任务记录：成功写入结果数据，失败写入错误详情，
// 执行耗时与完成时间写入 metadata。状态迁移由调用方负责。
func (t *TaskRecord) Apply(res TaskResult) {
	if res.Status == TaskCompleted {
		t.ResultData = res.ResultData
		t.ErrorDetails = ""
	} else {
		t.ErrorDetails = res.ErrorDetails
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata["execution_time_ms"] = res.ExecutionTimeMS
	t.Metadata["finished_at"] = res.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Advance 按顺序执行一组任务状态迁移，任一步非法则整体不生效。
func (t *TaskRecord) Advance(path ...TaskStatus) error {
	cur := t.Status
	for _, next := range path {
		if !CanTransitionTask(cur, next) {
			return &TransitionError{Entity: "task", ID: t.TaskID, From: string(cur), To: string(next)}
		}
		cur = next
	}
	t.Status = cur
	return nil
}

// Clone 深拷贝作业记录。
func (j *JobRecord) Clone() *JobRecord {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Parameters = CopyMap(j.Parameters)
	cp.Metadata = CopyMap(j.Metadata)
	cp.StageResults = copyResults(j.StageResults)
	if j.StageTaskCounts != nil {
		cp.StageTaskCounts = make(map[int]int, len(j.StageTaskCounts))
		for k, v := range j.StageTaskCounts {
			cp.StageTaskCounts[k] = v
		}
	}
	if j.History != nil {
		cp.History = make([]AttemptRecord, len(j.History))
		for i, h := range j.History {
			h.StageResults = copyResults(h.StageResults)
			cp.History[i] = h
		}
	}
	return &cp
}

// Clone 深拷贝任务记录。
func (t *TaskRecord) Clone() *TaskRecord {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Parameters = CopyMap(t.Parameters)
	cp.ResultData = CopyMap(t.ResultData)
	cp.Metadata = CopyMap(t.Metadata)
	return &cp
}

// Clone 深拷贝阶段结果。
func (r StageResult) Clone() StageResult {
	cp := r
	if r.ErrorSummary != nil {
		cp.ErrorSummary = append([]string(nil), r.ErrorSummary...)
	}
	if r.Results != nil {
		cp.Results = make([]map[string]any, len(r.Results))
		for i, m := range r.Results {
			cp.Results[i] = CopyMap(m)
		}
	}
	return cp
}

func copyResults(in map[int]StageResult) map[int]StageResult {
	if in == nil {
		return nil
	}
	out := make(map[int]StageResult, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

// CopyMap 递归拷贝 JSON 风格的 map。
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CopyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(x))
		for i, e := range x {
			out[i] = CopyMap(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
