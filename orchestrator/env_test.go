package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/backoff"
	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/jobs/helloworld"
	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/processor"
	"github.com/mengeric/geoetl-go/queue"
	"github.com/mengeric/geoetl-go/queue/memqueue"
	"github.com/mengeric/geoetl-go/state"
	"github.com/mengeric/geoetl-go/storage/memstore"
)

const (
	flakyJobType  = "flaky"
	flakyTaskType = "flaky_task"
)

// flakyDef 单阶段作业：任务在前 fail_times 次执行时失败。
type flakyDef struct{ jobdef.Base }

func (flakyDef) JobType() string { return flakyJobType }
func (flakyDef) ParameterSchema() jobdef.ParamSchema {
	return jobdef.ParamSchema{"fail_times": {Type: jobdef.TypeInteger, Default: 0, Min: jobdef.Bound(0)}}
}
func (flakyDef) Stages() []jobdef.Stage { return []jobdef.Stage{{Name: "flaky", TaskType: flakyTaskType}} }
func (flakyDef) CreateTasks(sc jobdef.StageContext) ([]jobdef.TaskSpec, error) {
	return []jobdef.TaskSpec{{Parameters: map[string]any{"fail_times": sc.Parameters["fail_times"]}}}, nil
}
func (flakyDef) ShouldSkip(jobdef.StageContext) bool            { return false }
func (flakyDef) ValidatePrerequisites(jobdef.StageContext) bool { return true }

func flaky(_ context.Context, params map[string]any, tc processor.TaskContext) (map[string]any, error) {
	n, _ := processor.Int(params, "fail_times")
	if tc.RetryCount < n {
		return nil, errors.New("transient")
	}
	return map[string]any{"retries": tc.RetryCount}, nil
}

type env struct {
	store *memstore.Store
	q     *memqueue.Queue
	m     *Manager
	w     *Worker
	defs  *jobdef.Registry
	procs *processor.Registry
}

func quietLogger() logging.Logger { return logging.New(logging.Options{Output: io.Discard}) }

func newRegistries(t *testing.T) (*jobdef.Registry, *processor.Registry) {
	entries := helloworld.Processors()
	entries[flakyTaskType] = processor.Func(flaky)
	procs, err := processor.NewRegistry(entries)
	if err != nil {
		t.Fatal(err)
	}
	defs, err := jobdef.NewRegistry(procs, helloworld.Definition{}, flakyDef{})
	if err != nil {
		t.Fatal(err)
	}
	return defs, procs
}

func newEnv(t *testing.T, opts ...Option) *env {
	defs, procs := newRegistries(t)
	e := &env{store: memstore.New(), q: memqueue.New(), defs: defs, procs: procs}
	base := []Option{WithBackoff(backoff.Constant{}), WithLogger(quietLogger())}
	e.m = NewManager(e.store, e.q, defs, procs, append(base, opts...)...)
	e.w = NewWorker(e.m, WithConcurrency(1), WithWorkerID("test-worker"))
	return e
}

// drain 单线程处理消息直到两个队列都为空。
func (e *env) drain() {
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		got, err := e.w.RunOnce(ctx)
		So(err, ShouldBeNil)
		if !got {
			return
		}
	}
	So("queues did not drain", ShouldBeEmpty)
}

func (e *env) job(id string) *state.JobRecord {
	j, err := e.store.GetJob(context.Background(), id)
	So(err, ShouldBeNil)
	return j
}

func (e *env) tasks(id string, stage int) []state.TaskRecord {
	ts, err := e.m.ListTasks(context.Background(), id, stage)
	So(err, ShouldBeNil)
	return ts
}

func encodeTask(t *state.TaskRecord) []byte {
	b, _ := queue.Encode(taskMessage(t))
	return b
}
