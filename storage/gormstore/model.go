package gormstore

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/mengeric/geoetl-go/state"
)

// jobModel 映射 geoetl_jobs 表。
type jobModel struct {
	JobID           string         `gorm:"primaryKey;size:64"`
	JobType         string         `gorm:"index;size:128"`
	Parameters      datatypes.JSON `gorm:"column:parameters"`
	Status          string         `gorm:"index;size:32"`
	Stage           int
	TotalStages     int
	StageResults    datatypes.JSON `gorm:"column:stage_results"`
	StageTaskCounts datatypes.JSON `gorm:"column:stage_task_counts"`
	Metadata        datatypes.JSON `gorm:"column:metadata"`
	Error           string         `gorm:"type:text"`
	Attempt         int            `gorm:"default:1"`
	History         datatypes.JSON `gorm:"column:history"`
	CancelRequested bool
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index;autoUpdateTime:false"`
}

func (jobModel) TableName() string { return "geoetl_jobs" }

// taskModel 映射 geoetl_tasks 表；index 为保留字，列名使用 task_index。
type taskModel struct {
	TaskID       string         `gorm:"primaryKey;size:160"`
	ParentJobID  string         `gorm:"index:idx_task_job_stage,priority:1;size:64"`
	Stage        int            `gorm:"index:idx_task_job_stage,priority:2"`
	Idx          int            `gorm:"column:task_index"`
	Attempt      int            `gorm:"default:1"`
	JobType      string         `gorm:"size:128"`
	TaskType     string         `gorm:"size:128"`
	Parameters   datatypes.JSON `gorm:"column:parameters"`
	Status       string         `gorm:"index;size:32"`
	RetryCount   int
	ResultData   datatypes.JSON `gorm:"column:result_data"`
	ErrorDetails string         `gorm:"type:text"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (taskModel) TableName() string { return "geoetl_tasks" }

// Models 返回需要迁移的模型，供调用方 AutoMigrate。
func Models() []any { return []any{&jobModel{}, &taskModel{}} }

func toJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func fromJSON(b datatypes.JSON, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func toJobModel(j *state.JobRecord) (jobModel, error) {
	m := jobModel{
		JobID: j.JobID, JobType: j.JobType, Status: string(j.Status), Stage: j.Stage, TotalStages: j.TotalStages,
		Error: j.Error, Attempt: j.Attempt, CancelRequested: j.CancelRequested, Version: j.Version,
		CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
	var err error
	if m.Parameters, err = toJSON(j.Parameters); err != nil {
		return m, err
	}
	if m.StageResults, err = toJSON(j.StageResults); err != nil {
		return m, err
	}
	if m.StageTaskCounts, err = toJSON(j.StageTaskCounts); err != nil {
		return m, err
	}
	if m.Metadata, err = toJSON(j.Metadata); err != nil {
		return m, err
	}
	if m.History, err = toJSON(j.History); err != nil {
		return m, err
	}
	return m, nil
}

func fromJobModel(m jobModel) (*state.JobRecord, error) {
	j := &state.JobRecord{
		JobID: m.JobID, JobType: m.JobType, Status: state.JobStatus(m.Status), Stage: m.Stage, TotalStages: m.TotalStages,
		Error: m.Error, Attempt: m.Attempt, CancelRequested: m.CancelRequested, Version: m.Version,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
	for _, f := range []struct {
		b datatypes.JSON
		v any
	}{
		{m.Parameters, &j.Parameters},
		{m.StageResults, &j.StageResults},
		{m.StageTaskCounts, &j.StageTaskCounts},
		{m.Metadata, &j.Metadata},
		{m.History, &j.History},
	} {
		if err := fromJSON(f.b, f.v); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (m jobModel) columns() map[string]any {
	return map[string]any{
		"job_type": m.JobType, "parameters": m.Parameters, "status": m.Status, "stage": m.Stage,
		"total_stages": m.TotalStages, "stage_results": m.StageResults, "stage_task_counts": m.StageTaskCounts,
		"metadata": m.Metadata, "error": m.Error, "attempt": m.Attempt, "history": m.History,
		"cancel_requested": m.CancelRequested, "version": m.Version, "updated_at": m.UpdatedAt,
	}
}

func toTaskModel(t *state.TaskRecord) (taskModel, error) {
	m := taskModel{
		TaskID: t.TaskID, ParentJobID: t.ParentJobID, Stage: t.Stage, Idx: t.Index, Attempt: t.Attempt,
		JobType: t.JobType, TaskType: t.TaskType, Status: string(t.Status), RetryCount: t.RetryCount,
		ErrorDetails: t.ErrorDetails, Version: t.Version, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
	var err error
	if m.Parameters, err = toJSON(t.Parameters); err != nil {
		return m, err
	}
	if m.ResultData, err = toJSON(t.ResultData); err != nil {
		return m, err
	}
	if m.Metadata, err = toJSON(t.Metadata); err != nil {
		return m, err
	}
	return m, nil
}

func fromTaskModel(m taskModel) (*state.TaskRecord, error) {
	t := &state.TaskRecord{
		TaskID: m.TaskID, ParentJobID: m.ParentJobID, Stage: m.Stage, Index: m.Idx, Attempt: m.Attempt,
		JobType: m.JobType, TaskType: m.TaskType, Status: state.TaskStatus(m.Status), RetryCount: m.RetryCount,
		ErrorDetails: m.ErrorDetails, Version: m.Version, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
	if err := fromJSON(m.Parameters, &t.Parameters); err != nil {
		return nil, err
	}
	if err := fromJSON(m.ResultData, &t.ResultData); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Metadata, &t.Metadata); err != nil {
		return nil, err
	}
	return t, nil
}

func (m taskModel) columns() map[string]any {
	return map[string]any{
		"job_type": m.JobType, "task_type": m.TaskType, "parameters": m.Parameters, "status": m.Status,
		"retry_count": m.RetryCount, "result_data": m.ResultData, "error_details": m.ErrorDetails,
		"metadata": m.Metadata, "version": m.Version, "updated_at": m.UpdatedAt,
	}
}
