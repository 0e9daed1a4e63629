// Package state 定义作业/任务的数据模型、状态机与持久化契约。
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mengeric/geoetl-go/backoff"
)

// MaxConflictRetries 乐观锁冲突时的最大重试次数。
const MaxConflictRetries = 5

// ConflictBackoff 冲突重试之间的等待策略。
var ConflictBackoff backoff.Strategy = backoff.Exponential{Base: 2 * time.Millisecond, Multiplier: 2, Max: 50 * time.Millisecond}

// JobMutator 对作业记录做原地修改；返回 ErrSkip 表示无需更新。
type JobMutator func(j *JobRecord) error

// TaskMutator 对任务记录做原地修改；返回 ErrSkip 表示无需更新。
type TaskMutator func(t *TaskRecord) error

// JobFilter 作业列表查询条件。
type JobFilter struct {
	Statuses      []JobStatus
	UpdatedBefore time.Time // 零值表示不限
	Limit         int       // <=0 表示不限
}

// Store 作业与任务的持久化接口。
// 约定：
// - Create* 在记录已存在时返回 (false, nil)，不覆盖；
// - Update* 仅当当前版本等于 expectedVersion 时生效，否则返回 (false, nil)；
// - 变更函数拿到的是副本，Version 与 UpdatedAt 已预先写好新值；
// - 变更函数返回错误时不落库，并原样返回该错误；
// - Get* 在记录不存在时返回 ErrNotFound，返回值均为独立副本。
type Store interface {
	CreateJob(ctx context.Context, job *JobRecord) (bool, error)
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	UpdateJob(ctx context.Context, jobID string, mutate JobMutator, expectedVersion int64) (bool, error)
	ListJobs(ctx context.Context, f JobFilter) ([]JobRecord, error)

	CreateTask(ctx context.Context, task *TaskRecord) (bool, error)
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	// GetTasks 返回作业的任务，stage<=0 表示全部阶段；按 (stage, index) 排序。
	GetTasks(ctx context.Context, jobID string, stage int) ([]TaskRecord, error)
	UpdateTask(ctx context.Context, taskID string, mutate TaskMutator, expectedVersion int64) (bool, error)
}

// UpdateJob 读取最新版本并以 CAS 方式应用变更，冲突时按 ConflictBackoff 重试。
// 返回：
// - 更新后的记录；
// - 变更函数返回 ErrSkip 时，返回当时读取到的记录与 ErrSkip；
// - 重试耗尽返回包装了 ErrConflict 的错误。
func UpdateJob(ctx context.Context, s Store, jobID string, mutate JobMutator) (*JobRecord, error) {
	for attempt := 1; attempt <= MaxConflictRetries; attempt++ {
		cur, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		var out *JobRecord
		ok, err := s.UpdateJob(ctx, jobID, func(j *JobRecord) error {
			if err := mutate(j); err != nil {
				return err
			}
			out = j.Clone()
			return nil
		}, cur.Version)
		if err != nil {
			if errors.Is(err, ErrSkip) {
				return cur, ErrSkip
			}
			return nil, err
		}
		if ok {
			return out, nil
		}
		if err := sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: job %s", ErrConflict, jobID)
}

// UpdateTask 与 UpdateJob 相同语义，作用于任务记录。
func UpdateTask(ctx context.Context, s Store, taskID string, mutate TaskMutator) (*TaskRecord, error) {
	for attempt := 1; attempt <= MaxConflictRetries; attempt++ {
		cur, err := s.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		var out *TaskRecord
		ok, err := s.UpdateTask(ctx, taskID, func(t *TaskRecord) error {
			if err := mutate(t); err != nil {
				return err
			}
			out = t.Clone()
			return nil
		}, cur.Version)
		if err != nil {
			if errors.Is(err, ErrSkip) {
				return cur, ErrSkip
			}
			return nil, err
		}
		if ok {
			return out, nil
		}
		if err := sleep(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: task %s", ErrConflict, taskID)
}

func sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(ConflictBackoff.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
