// Package helloworld 两阶段示例作业：先并行生成问候，再逐条回复。
package helloworld

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/processor"
)

const (
	JobType           = "hello_world"
	GreetingTaskType  = "hello_world_greeting"
	ReplyTaskType     = "hello_world_reply"
	injectedFailure   = "boom"
	maxGreetingsCount = 100
)

// Definition hello_world 作业定义。
type Definition struct{ jobdef.Base }

func (Definition) JobType() string { return JobType }

// ParameterSchema n 为并行度；fail_indices 指定必然失败的任务下标；
// failure_rate 为随机失败比例，仅用于演练，不参与作业标识。
func (Definition) ParameterSchema() jobdef.ParamSchema {
	return jobdef.ParamSchema{
		"n":            {Type: jobdef.TypeInteger, Default: 3, Min: jobdef.Bound(1), Max: jobdef.Bound(maxGreetingsCount)},
		"message":      {Type: jobdef.TypeString, Default: "hello", Min: jobdef.Bound(1), Max: jobdef.Bound(256)},
		"fail_indices": {Type: jobdef.TypeArray, Default: []any{}},
		"skip_reply":   {Type: jobdef.TypeBoolean, Default: false},
		"failure_rate": {Type: jobdef.TypeNumber, Default: 0, Min: jobdef.Bound(0), Max: jobdef.Bound(1), NonIdentity: true},
	}
}

func (Definition) Stages() []jobdef.Stage {
	return []jobdef.Stage{
		{Name: "greeting", TaskType: GreetingTaskType},
		{Name: "reply", TaskType: ReplyTaskType},
	}
}

// CreateTasks 阶段一按 n 扇出；阶段二为上一阶段每条成功问候生成一条回复任务。
func (Definition) CreateTasks(sc jobdef.StageContext) ([]jobdef.TaskSpec, error) {
	switch sc.Stage {
	case 1:
		n, err := processor.Int(sc.Parameters, "n")
		if err != nil {
			return nil, err
		}
		msg, _ := processor.String(sc.Parameters, "message")
		specs := make([]jobdef.TaskSpec, 0, n)
		for i := 0; i < n; i++ {
			specs = append(specs, jobdef.TaskSpec{Parameters: map[string]any{
				"message":      msg,
				"fail":         containsIndex(sc.Parameters["fail_indices"], i),
				"failure_rate": sc.Parameters["failure_rate"],
			}})
		}
		return specs, nil
	case 2:
		prev, ok := sc.Previous()
		if !ok {
			return nil, errors.New("hello_world: missing greeting results")
		}
		specs := make([]jobdef.TaskSpec, 0, len(prev.Results))
		for _, r := range prev.Results {
			specs = append(specs, jobdef.TaskSpec{Parameters: map[string]any{"greeting": r["greeting"]}})
		}
		return specs, nil
	default:
		return nil, fmt.Errorf("hello_world: unknown stage %d", sc.Stage)
	}
}

func (Definition) ShouldSkip(sc jobdef.StageContext) bool {
	skip, _ := sc.Parameters["skip_reply"].(bool)
	return sc.Stage == 2 && skip
}

// ValidatePrerequisites 回复阶段要求问候阶段至少有一条成功。
func (Definition) ValidatePrerequisites(sc jobdef.StageContext) bool {
	if sc.Stage == 1 {
		return true
	}
	prev, ok := sc.Previous()
	return ok && (prev.Skipped || prev.SuccessfulCount > 0)
}

// Processors 返回本作业需要的处理器。
func Processors() map[string]processor.Processor {
	return map[string]processor.Processor{
		GreetingTaskType: processor.Func(greet),
		ReplyTaskType:    processor.Func(reply),
	}
}

func greet(ctx context.Context, params map[string]any, tc processor.TaskContext) (map[string]any, error) {
	if fail, _ := params["fail"].(bool); fail {
		return nil, errors.New(injectedFailure)
	}
	if rate, ok := params["failure_rate"].(float64); ok && rate > 0 && rand.Float64() < rate {
		return nil, errors.New(injectedFailure)
	}
	msg, err := processor.String(params, "message")
	if err != nil {
		return nil, err
	}
	idx, _ := processor.Int(params, "task_index")
	return map[string]any{"greeting": fmt.Sprintf("%s from task %d", msg, idx)}, nil
}

func reply(ctx context.Context, params map[string]any, tc processor.TaskContext) (map[string]any, error) {
	if tc.CancelRequested() {
		return nil, errors.New("cancelled")
	}
	g, err := processor.String(params, "greeting")
	if err != nil {
		return nil, err
	}
	return map[string]any{"reply": "reply to: " + g}, nil
}

func containsIndex(v any, i int) bool {
	list, _ := v.([]any)
	for _, x := range list {
		if n, err := processor.Int(map[string]any{"x": x}, "x"); err == nil && n == i {
			return true
		}
	}
	return false
}
