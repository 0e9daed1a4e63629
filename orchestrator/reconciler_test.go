package orchestrator

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/backoff"
	"github.com/mengeric/geoetl-go/idgen"
	"github.com/mengeric/geoetl-go/jobs/helloworld"
	"github.com/mengeric/geoetl-go/queue/memqueue"
	"github.com/mengeric/geoetl-go/state"
	"github.com/mengeric/geoetl-go/storage/memstore"
)

func TestReconciler(t *testing.T) {
	Convey("巡检修复停滞作业", t, func() {
		ctx := context.Background()
		defs, procs := newRegistries(t)
		store, q := memstore.New(), memqueue.New()
		later := func() time.Time { return time.Now().Add(time.Hour) }
		m := NewManager(store, q, defs, procs, WithClock(later), WithBackoff(backoff.Constant{}), WithLogger(quietLogger()))
		r := NewReconciler(m, 0, 10)

		params, err := defs.Validate(helloworld.JobType, map[string]any{"n": 2})
		So(err, ShouldBeNil)
		job := &state.JobRecord{
			JobID: "stuck", JobType: helloworld.JobType, Parameters: params,
			Status: state.JobQueued, Stage: 1, TotalStages: 2, Attempt: 1,
		}

		Convey("(b) 尚未扇出的阶段重新进入", func() {
			_, _ = store.CreateJob(ctx, job)
			n, err := r.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			got, _ := store.GetJob(ctx, "stuck")
			So(got.StageTaskCounts[1], ShouldEqual, 2)
			So(q.Len(DefaultTaskQueue), ShouldEqual, 2)
		})

		Convey("(c) 任务已全部终态但阶段未确认", func() {
			job.StageTaskCounts = map[int]int{1: 1}
			_, _ = store.CreateJob(ctx, job)
			_, _ = store.CreateTask(ctx, &state.TaskRecord{
				TaskID: idgen.TaskID("stuck", 1, 0), ParentJobID: "stuck", JobType: helloworld.JobType,
				TaskType: helloworld.GreetingTaskType, Stage: 1, Attempt: 1, Status: state.TaskCompleted,
				ResultData: map[string]any{"greeting": "hi"},
			})
			n, err := r.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			got, _ := store.GetJob(ctx, "stuck")
			So(got.StageResults[1].Status, ShouldEqual, state.StageCompleted)
			So(got.Stage, ShouldEqual, 2)
			So(q.Len(DefaultJobQueue), ShouldEqual, 1)
		})

		Convey("(a) 阶段已确认但作业未推进", func() {
			job.StageTaskCounts = map[int]int{1: 1}
			job.StageResults = map[int]state.StageResult{1: {Stage: 1, Status: state.StageCompleted, TaskCount: 1, SuccessfulCount: 1}}
			_, _ = store.CreateJob(ctx, job)
			n, err := r.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			got, _ := store.GetJob(ctx, "stuck")
			So(got.Stage, ShouldEqual, 2)
			So(got.Status, ShouldEqual, state.JobQueued)
		})

		Convey("(d) 停留在 queued 的任务重新投递", func() {
			job.StageTaskCounts = map[int]int{1: 1}
			_, _ = store.CreateJob(ctx, job)
			_, _ = store.CreateTask(ctx, &state.TaskRecord{
				TaskID: idgen.TaskID("stuck", 1, 0), ParentJobID: "stuck", JobType: helloworld.JobType,
				TaskType: helloworld.GreetingTaskType, Stage: 1, Attempt: 1, Status: state.TaskQueued,
				Parameters: map[string]any{"message": "hi", "task_index": 0},
			})
			n, err := r.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			So(q.Len(DefaultTaskQueue), ShouldEqual, 1)

			Convey("补发的消息可以正常执行", func() {
				w := NewWorker(m)
				got, err := w.RunOnce(ctx)
				So(got, ShouldBeTrue)
				So(err, ShouldBeNil)
				task, _ := store.GetTask(ctx, idgen.TaskID("stuck", 1, 0))
				So(task.Status, ShouldEqual, state.TaskCompleted)
			})
		})

		Convey("终态作业与新近更新的作业不处理", func() {
			job.Status = state.JobCompleted
			_, _ = store.CreateJob(ctx, job)
			fresh := NewReconciler(m, 2*time.Hour, 0)
			n, err := fresh.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
			n, err = r.Sweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}
