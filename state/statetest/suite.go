// Package statetest 提供 state.Store 实现的通用契约测试。
package statetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/state"
)

// Run 对 newStore 构造出的存储执行契约测试；每个用例使用全新的存储实例。
func Run(t *testing.T, newStore func(t *testing.T) state.Store) {
	ctx := context.Background()

	Convey("作业创建幂等", t, func() {
		s := newStore(t)
		job := &state.JobRecord{JobID: "j1", JobType: "hello_world", Status: state.JobQueued, Stage: 1, TotalStages: 2,
			Parameters: map[string]any{"n": float64(3)}, Attempt: 1}
		ok, err := s.CreateJob(ctx, job)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		job.JobType = "other"
		ok, err = s.CreateJob(ctx, job)
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		got, err := s.GetJob(ctx, "j1")
		So(err, ShouldBeNil)
		So(got.JobType, ShouldEqual, "hello_world")
		So(got.Version, ShouldEqual, 1)
		So(got.Parameters["n"], ShouldEqual, float64(3))

		_, err = s.GetJob(ctx, "missing")
		So(errors.Is(err, state.ErrNotFound), ShouldBeTrue)
	})

	Convey("作业 CAS 更新", t, func() {
		s := newStore(t)
		_, _ = s.CreateJob(ctx, &state.JobRecord{JobID: "j1", Status: state.JobQueued, Stage: 1, TotalStages: 1})

		ok, err := s.UpdateJob(ctx, "j1", func(j *state.JobRecord) error {
			j.StageResults = map[int]state.StageResult{1: {Stage: 1, Status: state.StageCompleted, TaskCount: 2, SuccessfulCount: 2}}
			j.StageTaskCounts = map[int]int{1: 2}
			return j.Advance(state.JobProcessing)
		}, 1)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		ok, err = s.UpdateJob(ctx, "j1", func(j *state.JobRecord) error { return nil }, 1)
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		got, _ := s.GetJob(ctx, "j1")
		So(got.Version, ShouldEqual, 2)
		So(got.Status, ShouldEqual, state.JobProcessing)
		So(got.StageResults[1].SuccessfulCount, ShouldEqual, 2)
		So(got.StageTaskCounts[1], ShouldEqual, 2)

		ok, err = s.UpdateJob(ctx, "j1", func(j *state.JobRecord) error { return state.ErrSkip }, 2)
		So(errors.Is(err, state.ErrSkip), ShouldBeTrue)
		So(ok, ShouldBeFalse)
		got, _ = s.GetJob(ctx, "j1")
		So(got.Version, ShouldEqual, 2)

		_, err = s.UpdateJob(ctx, "missing", func(j *state.JobRecord) error { return nil }, 1)
		So(errors.Is(err, state.ErrNotFound), ShouldBeTrue)
	})

	Convey("并发 CAS 只有一个赢家", t, func() {
		s := newStore(t)
		_, _ = s.CreateJob(ctx, &state.JobRecord{JobID: "j1", Status: state.JobProcessing, Stage: 1, TotalStages: 1})

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.UpdateJob(ctx, "j1", func(j *state.JobRecord) error {
					j.Metadata = map[string]any{"winner": true}
					return nil
				}, 1)
				if err == nil && ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		So(winners, ShouldEqual, 1)
	})

	Convey("UpdateJob 辅助函数在冲突后重读并重试", t, func() {
		s := newStore(t)
		_, _ = s.CreateJob(ctx, &state.JobRecord{JobID: "j1", Status: state.JobQueued, Stage: 1, TotalStages: 3})

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = state.UpdateJob(ctx, s, "j1", func(j *state.JobRecord) error {
					j.Stage++
					return nil
				})
			}()
		}
		wg.Wait()
		got, _ := s.GetJob(ctx, "j1")
		So(got.Stage, ShouldEqual, 3)
		So(got.Version, ShouldEqual, 3)
	})

	Convey("任务创建、查询与排序", t, func() {
		s := newStore(t)
		for _, tk := range []state.TaskRecord{
			{TaskID: "t-2-0", ParentJobID: "j1", Stage: 2, Index: 0, Attempt: 1, Status: state.TaskQueued},
			{TaskID: "t-1-1", ParentJobID: "j1", Stage: 1, Index: 1, Attempt: 1, Status: state.TaskQueued},
			{TaskID: "t-1-0", ParentJobID: "j1", Stage: 1, Index: 0, Attempt: 1, Status: state.TaskQueued,
				Parameters: map[string]any{"i": float64(0)}},
			{TaskID: "x-1-0", ParentJobID: "j2", Stage: 1, Index: 0, Attempt: 1, Status: state.TaskQueued},
		} {
			tk := tk
			ok, err := s.CreateTask(ctx, &tk)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		}
		ok, _ := s.CreateTask(ctx, &state.TaskRecord{TaskID: "t-1-0", ParentJobID: "j1"})
		So(ok, ShouldBeFalse)

		stage1, err := s.GetTasks(ctx, "j1", 1)
		So(err, ShouldBeNil)
		So(len(stage1), ShouldEqual, 2)
		So(stage1[0].TaskID, ShouldEqual, "t-1-0")
		So(stage1[0].Parameters["i"], ShouldEqual, float64(0))

		all, _ := s.GetTasks(ctx, "j1", 0)
		So(len(all), ShouldEqual, 3)
		So(all[2].TaskID, ShouldEqual, "t-2-0")

		_, err = s.GetTask(ctx, "missing")
		So(errors.Is(err, state.ErrNotFound), ShouldBeTrue)
	})

	Convey("任务 CAS 更新", t, func() {
		s := newStore(t)
		_, _ = s.CreateTask(ctx, &state.TaskRecord{TaskID: "t1", ParentJobID: "j1", Stage: 1, Status: state.TaskQueued})

		got, err := state.UpdateTask(ctx, s, "t1", func(tk *state.TaskRecord) error {
			if err := tk.Advance(state.TaskProcessing, state.TaskCompleted); err != nil {
				return err
			}
			tk.ResultData = map[string]any{"greeting": "hi"}
			return nil
		})
		So(err, ShouldBeNil)
		So(got.Status, ShouldEqual, state.TaskCompleted)
		So(got.Version, ShouldEqual, 2)

		_, err = state.UpdateTask(ctx, s, "t1", func(tk *state.TaskRecord) error {
			return tk.Advance(state.TaskProcessing)
		})
		So(errors.Is(err, state.ErrIllegalTransition), ShouldBeTrue)

		stored, _ := s.GetTask(ctx, "t1")
		So(stored.Status, ShouldEqual, state.TaskCompleted)
		So(stored.ResultData["greeting"], ShouldEqual, "hi")
	})

	Convey("按状态与更新时间列出作业", t, func() {
		s := newStore(t)
		_, _ = s.CreateJob(ctx, &state.JobRecord{JobID: "a", Status: state.JobQueued})
		_, _ = s.CreateJob(ctx, &state.JobRecord{JobID: "b", Status: state.JobCompleted})

		list, err := s.ListJobs(ctx, state.JobFilter{Statuses: []state.JobStatus{state.JobQueued, state.JobProcessing}})
		So(err, ShouldBeNil)
		So(len(list), ShouldEqual, 1)
		So(list[0].JobID, ShouldEqual, "a")

		list, _ = s.ListJobs(ctx, state.JobFilter{UpdatedBefore: time.Now().Add(-time.Hour)})
		So(len(list), ShouldEqual, 0)

		list, _ = s.ListJobs(ctx, state.JobFilter{Limit: 1})
		So(len(list), ShouldEqual, 1)
	})
}
