// Package gormstore 基于 GORM 的 state.Store 实现（PostgreSQL / SQLite）。
package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mengeric/geoetl-go/state"
)

// Store 基于 GORM 的持久化实现。
// 乐观锁通过 "WHERE version = ?" 条件更新与 RowsAffected 判定实现。
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New 创建 Store，调用方应自行在外部执行 AutoMigrate(Models()...)。
func New(db *gorm.DB) *Store { return &Store{db: db, now: time.Now} }

// Migrate 建表或补齐列。
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

// CreateJob 实现 state.Store；主键冲突时不覆盖。
func (s *Store) CreateJob(ctx context.Context, job *state.JobRecord) (bool, error) {
	cp := job.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = 1
	m, err := toJobModel(cp)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetJob 实现 state.Store。
func (s *Store) GetJob(ctx context.Context, jobID string) (*state.JobRecord, error) {
	var m jobModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&m).Error; err != nil {
		return nil, mapErr(err)
	}
	return fromJobModel(m)
}

// UpdateJob 实现 state.Store。
// 功能：读取当前行，版本不符直接返回 false；否则在内存中应用变更，
// 再以 "job_id = ? AND version = ?" 条件整体写回，RowsAffected 为 0 说明期间被他人抢先。
func (s *Store) UpdateJob(ctx context.Context, jobID string, mutate state.JobMutator, expectedVersion int64) (bool, error) {
	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = s.now()
	if err := mutate(cur); err != nil {
		return false, err
	}
	cur.JobID = jobID
	cur.Version = expectedVersion + 1
	m, err := toJobModel(cur)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&jobModel{}).
		Where("job_id = ? AND version = ?", jobID, expectedVersion).
		Updates(m.columns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListJobs 实现 state.Store。
func (s *Store) ListJobs(ctx context.Context, f state.JobFilter) ([]state.JobRecord, error) {
	q := s.db.WithContext(ctx).Model(&jobModel{})
	if len(f.Statuses) > 0 {
		sts := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			sts = append(sts, string(st))
		}
		q = q.Where("status IN ?", sts)
	}
	if !f.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", f.UpdatedBefore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var list []jobModel
	if err := q.Order("updated_at").Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]state.JobRecord, 0, len(list))
	for _, m := range list {
		j, err := fromJobModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, nil
}

// CreateTask 实现 state.Store；主键冲突时不覆盖。
func (s *Store) CreateTask(ctx context.Context, task *state.TaskRecord) (bool, error) {
	cp := task.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = 1
	m, err := toTaskModel(cp)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetTask 实现 state.Store。
func (s *Store) GetTask(ctx context.Context, taskID string) (*state.TaskRecord, error) {
	var m taskModel
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&m).Error; err != nil {
		return nil, mapErr(err)
	}
	return fromTaskModel(m)
}

// GetTasks 实现 state.Store。
func (s *Store) GetTasks(ctx context.Context, jobID string, stage int) ([]state.TaskRecord, error) {
	q := s.db.WithContext(ctx).Where("parent_job_id = ?", jobID)
	if stage > 0 {
		q = q.Where("stage = ?", stage)
	}
	var list []taskModel
	if err := q.Order("stage").Order("attempt").Order("task_index").Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]state.TaskRecord, 0, len(list))
	for _, m := range list {
		t, err := fromTaskModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// UpdateTask 实现 state.Store，语义同 UpdateJob。
func (s *Store) UpdateTask(ctx context.Context, taskID string, mutate state.TaskMutator, expectedVersion int64) (bool, error) {
	cur, err := s.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	cur.Version = expectedVersion + 1
	cur.UpdatedAt = s.now()
	if err := mutate(cur); err != nil {
		return false, err
	}
	cur.TaskID = taskID
	cur.Version = expectedVersion + 1
	m, err := toTaskModel(cur)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&taskModel{}).
		Where("task_id = ? AND version = ?", taskID, expectedVersion).
		Updates(m.columns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.ErrNotFound
	}
	return err
}

var _ state.Store = (*Store)(nil)
