// Package jobdef 定义作业类型契约（参数、阶段、任务工厂）与只读的作业定义注册表。
package jobdef

import (
	"sort"

	"github.com/mengeric/geoetl-go/state"
)

// Stage 阶段声明。
type Stage struct {
	Name     string
	TaskType string
}

// TaskSpec 任务工厂产出的单个任务描述；TaskType 为空时使用阶段声明的类型。
type TaskSpec struct {
	TaskType   string
	Parameters map[string]any
}

// StageContext 进入某阶段时提供给作业定义的上下文。
type StageContext struct {
	JobID        string
	JobType      string
	Stage        int
	TotalStages  int
	StageDef     Stage
	Attempt      int
	Parameters   map[string]any
	PriorResults map[int]state.StageResult
}

// Previous 返回上一阶段的结果。
func (c StageContext) Previous() (state.StageResult, bool) {
	r, ok := c.PriorResults[c.Stage-1]
	return r, ok
}

// Definition 作业类型。
// 必须实现 CreateTasks / ShouldSkip / ValidatePrerequisites；
// AggregateResults / CalculateTaskParameters 可嵌入 Base 使用默认实现。
type Definition interface {
	JobType() string
	ParameterSchema() ParamSchema
	Stages() []Stage

	CreateTasks(sc StageContext) ([]TaskSpec, error)
	ShouldSkip(sc StageContext) bool
	ValidatePrerequisites(sc StageContext) bool

	AggregateResults(sc StageContext, tasks []state.TaskRecord) []map[string]any
	CalculateTaskParameters(sc StageContext, index int, spec TaskSpec) map[string]any
}

// Base 默认实现。
type Base struct{}

// AggregateResults 按任务下标收集成功任务的 result_data。
func (Base) AggregateResults(_ StageContext, tasks []state.TaskRecord) []map[string]any {
	done := make([]state.TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == state.TaskCompleted {
			done = append(done, t)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].Index < done[j].Index })
	out := make([]map[string]any, 0, len(done))
	for _, t := range done {
		out = append(out, state.CopyMap(t.ResultData))
	}
	return out
}

// CalculateTaskParameters 直接使用 TaskSpec 中的参数，并补充 task_index。
func (Base) CalculateTaskParameters(_ StageContext, index int, spec TaskSpec) map[string]any {
	out := state.CopyMap(spec.Parameters)
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out["task_index"]; !ok {
		out["task_index"] = index
	}
	return out
}
