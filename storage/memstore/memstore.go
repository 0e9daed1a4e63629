// Package memstore 是 state.Store 的线程安全内存实现，用于开发、测试与单机场景。
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mengeric/geoetl-go/state"
)

// Store 内存存储；读写均在同一把锁内完成，因此读取满足线性一致。
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*state.JobRecord
	tasks map[string]*state.TaskRecord
	now   func() time.Time
}

// Option 构造可选项。
type Option func(*Store)

// WithClock 注入时钟（测试用）。
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New 创建内存存储。
func New(opts ...Option) *Store {
	s := &Store{jobs: map[string]*state.JobRecord{}, tasks: map[string]*state.TaskRecord{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) CreateJob(ctx context.Context, job *state.JobRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return false, nil
	}
	cp := job.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = 1
	s.jobs[job.JobID] = cp
	return true, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*state.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if j, ok := s.jobs[jobID]; ok {
		return j.Clone(), nil
	}
	return nil, state.ErrNotFound
}

// UpdateJob 版本匹配时在副本上应用变更并整体替换。
func (s *Store) UpdateJob(ctx context.Context, jobID string, mutate state.JobMutator, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[jobID]
	if !ok {
		return false, state.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	next := cur.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	if err := mutate(next); err != nil {
		return false, err
	}
	next.JobID = jobID
	next.Version = expectedVersion + 1
	s.jobs[jobID] = next
	return true, nil
}

func (s *Store) ListJobs(ctx context.Context, f state.JobFilter) ([]state.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := map[state.JobStatus]bool{}
	for _, st := range f.Statuses {
		want[st] = true
	}
	out := make([]state.JobRecord, 0)
	for _, j := range s.jobs {
		if len(want) > 0 && !want[j.Status] {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !j.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		out = append(out, *j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, task *state.TaskRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.TaskID]; ok {
		return false, nil
	}
	cp := task.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = 1
	s.tasks[task.TaskID] = cp
	return true, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*state.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tasks[taskID]; ok {
		return t.Clone(), nil
	}
	return nil, state.ErrNotFound
}

func (s *Store) GetTasks(ctx context.Context, jobID string, stage int) ([]state.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]state.TaskRecord, 0)
	for _, t := range s.tasks {
		if t.ParentJobID != jobID || (stage > 0 && t.Stage != stage) {
			continue
		}
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Stage != out[b].Stage {
			return out[a].Stage < out[b].Stage
		}
		if out[a].Attempt != out[b].Attempt {
			return out[a].Attempt < out[b].Attempt
		}
		return out[a].Index < out[b].Index
	})
	return out, nil
}

func (s *Store) UpdateTask(ctx context.Context, taskID string, mutate state.TaskMutator, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[taskID]
	if !ok {
		return false, state.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	next := cur.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	if err := mutate(next); err != nil {
		return false, err
	}
	next.TaskID = taskID
	next.Version = expectedVersion + 1
	s.tasks[taskID] = next
	return true, nil
}

var _ state.Store = (*Store)(nil)
