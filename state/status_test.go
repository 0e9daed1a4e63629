package state

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTransitions(t *testing.T) {
	Convey("作业状态迁移", t, func() {
		So(CanTransitionJob(JobQueued, JobProcessing), ShouldBeTrue)
		So(CanTransitionJob(JobProcessing, JobQueued), ShouldBeTrue)
		So(CanTransitionJob(JobFailed, JobQueued), ShouldBeTrue)
		So(CanTransitionJob(JobCompletedWithErrors, JobQueued), ShouldBeTrue)
		So(CanTransitionJob(JobCompleted, JobProcessing), ShouldBeFalse)
		So(CanTransitionJob(JobQueued, JobCompleted), ShouldBeFalse)
		So(CanTransitionJob(JobCompleted, JobCompleted), ShouldBeTrue)
	})

	Convey("任务状态迁移", t, func() {
		So(CanTransitionTask(TaskPending, TaskQueued), ShouldBeTrue)
		So(CanTransitionTask(TaskProcessing, TaskFailed), ShouldBeTrue)
		So(CanTransitionTask(TaskFailed, TaskRetrying), ShouldBeTrue)
		So(CanTransitionTask(TaskRetrying, TaskPendingRetry), ShouldBeTrue)
		So(CanTransitionTask(TaskPendingRetry, TaskQueued), ShouldBeTrue)
		So(CanTransitionTask(TaskQueued, TaskCompleted), ShouldBeFalse)
		So(CanTransitionTask(TaskCompleted, TaskProcessing), ShouldBeFalse)
		So(CanTransitionTask(TaskProcessing, TaskProcessing), ShouldBeTrue)
	})

	Convey("只有重试中的任务可以取消", t, func() {
		So(CanTransitionTask(TaskRetrying, TaskCancelled), ShouldBeTrue)
		So(CanTransitionTask(TaskPendingRetry, TaskCancelled), ShouldBeTrue)
		for _, s := range []TaskStatus{TaskPending, TaskQueued, TaskProcessing, TaskCompleted, TaskFailed} {
			So(CanTransitionTask(s, TaskCancelled), ShouldBeFalse)
		}
	})

	Convey("AbortPath 只经过合法迁移并落到终态", t, func() {
		for _, s := range []TaskStatus{TaskPending, TaskQueued, TaskProcessing, TaskRetrying, TaskPendingRetry} {
			task := &TaskRecord{TaskID: "t", Status: s}
			So(task.Advance(AbortPath(s)...), ShouldBeNil)
			So(task.Status.IsTerminal(), ShouldBeTrue)
		}
		So(AbortPath(TaskQueued), ShouldResemble, []TaskStatus{TaskProcessing, TaskFailed})
		So(AbortPath(TaskPendingRetry), ShouldResemble, []TaskStatus{TaskCancelled})
		So(AbortPath(TaskCompleted), ShouldBeNil)
	})

	Convey("Advance 整体生效或整体不生效", t, func() {
		task := &TaskRecord{TaskID: "t1", Status: TaskProcessing}
		So(task.Advance(TaskFailed, TaskRetrying, TaskPendingRetry), ShouldBeNil)
		So(task.Status, ShouldEqual, TaskPendingRetry)

		err := task.Advance(TaskQueued, TaskCompleted)
		So(errors.Is(err, ErrIllegalTransition), ShouldBeTrue)
		So(task.Status, ShouldEqual, TaskPendingRetry)

		var te *TransitionError
		So(errors.As(err, &te), ShouldBeTrue)
		So(te.From, ShouldEqual, "queued")
		So(te.To, ShouldEqual, "completed")

		job := &JobRecord{JobID: "j", Status: JobQueued}
		So(job.Advance(JobProcessing, JobFailed), ShouldBeNil)
		So(job.Status, ShouldEqual, JobFailed)
	})
}
