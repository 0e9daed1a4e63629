// Package processor 定义任务处理器契约与只读的处理器注册表。
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mengeric/geoetl-go/state"
)

// ErrNotFound 处理器不存在错误。
var ErrNotFound = errors.New("processor not found")

// TaskContext 处理器执行上下文（只读）。
type TaskContext struct {
	JobID         string
	TaskID        string
	JobType       string
	TaskType      string
	Stage         int
	Index         int
	RetryCount    int
	JobParameters map[string]any
	PriorResults  map[int]state.StageResult

	cancelled func() bool
}

// WithCancelCheck 返回带协作式取消检查的上下文副本。
func (c TaskContext) WithCancelCheck(fn func() bool) TaskContext {
	c.cancelled = fn
	return c
}

// CancelRequested 作业是否已被请求取消；处理器可据此提前结束。
func (c TaskContext) CancelRequested() bool {
	if c.cancelled == nil {
		return false
	}
	return c.cancelled()
}

// Processor 统一处理器接口。
// 功能：执行单个任务；返回错误即视为本次执行失败，不存在“部分成功”。
type Processor interface {
	Process(ctx context.Context, params map[string]any, tc TaskContext) (map[string]any, error)
}

// Func 函数适配器。
type Func func(ctx context.Context, params map[string]any, tc TaskContext) (map[string]any, error)

// Process 实现 Processor。
func (f Func) Process(ctx context.Context, params map[string]any, tc TaskContext) (map[string]any, error) {
	return f(ctx, params, tc)
}

// Registry task_type → Processor 的只读表，构造后不再修改。
type Registry struct {
	m map[string]Processor
}

// NewRegistry 构造注册表。
// 异常：
// - 名称为空或处理器为 nil 时返回错误。
func NewRegistry(entries map[string]Processor) (*Registry, error) {
	m := make(map[string]Processor, len(entries))
	for name, p := range entries {
		if name == "" {
			return nil, errors.New("processor: empty task type")
		}
		if p == nil {
			return nil, fmt.Errorf("processor: nil processor for %q", name)
		}
		m[name] = p
	}
	return &Registry{m: m}, nil
}

// Get 获取处理器。
func (r *Registry) Get(taskType string) (Processor, bool) {
	p, ok := r.m[taskType]
	return p, ok
}

// TaskTypes 返回已注册的任务类型（有序）。
func (r *Registry) TaskTypes() []string {
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
