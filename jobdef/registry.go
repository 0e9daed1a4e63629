package jobdef

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownJobType 未注册的作业类型。
var ErrUnknownJobType = errors.New("jobdef: unknown job type")

// taskTypeSet 处理器注册表的最小视图。
type taskTypeSet interface {
	TaskTypes() []string
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry job_type → Definition 的只读表。
type Registry struct {
	m map[string]entry
}

// NewRegistry 构造并交叉校验作业定义。
// 功能：
// 1) 作业类型非空且唯一，至少声明一个阶段；
// 2) 每个阶段声明的 task_type 必须存在于处理器注册表；
// 3) 参数 Schema 可编译，且默认值本身满足约束。
// 异常：任一不满足即返回错误，启动应当失败。
func NewRegistry(procs taskTypeSet, defs ...Definition) (*Registry, error) {
	known := map[string]bool{}
	for _, t := range procs.TaskTypes() {
		known[t] = true
	}
	r := &Registry{m: make(map[string]entry, len(defs))}
	var problems []string
	for _, d := range defs {
		jt := d.JobType()
		if jt == "" {
			problems = append(problems, "empty job type")
			continue
		}
		if _, dup := r.m[jt]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate job type", jt))
			continue
		}
		stages := d.Stages()
		if len(stages) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no stages", jt))
		}
		for i, st := range stages {
			if !known[st.TaskType] {
				problems = append(problems, fmt.Sprintf("%s: stage %d (%s) task type %q has no processor", jt, i+1, st.Name, st.TaskType))
			}
		}
		ps := d.ParameterSchema()
		schema, err := ps.Compile()
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", jt, err))
			continue
		}
		defaults := map[string]any{}
		for name, f := range ps {
			if f.Default != nil {
				defaults[name] = f.Default
			}
		}
		if err := schema.Validate(toJSONValue(defaults)); err != nil {
			problems = append(problems, fmt.Sprintf("%s: defaults violate schema: %v", jt, err))
		}
		r.m[jt] = entry{def: d, schema: schema}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("jobdef: invalid registry: %s", strings.Join(problems, "; "))
	}
	return r, nil
}

// Get 获取作业定义。
func (r *Registry) Get(jobType string) (Definition, bool) {
	e, ok := r.m[jobType]
	return e.def, ok
}

// Validate 校验某作业类型的提交参数，返回规范化参数。
func (r *Registry) Validate(jobType string, params map[string]any) (map[string]any, error) {
	e, ok := r.m[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return e.def.ParameterSchema().validateWith(e.schema, params)
}

// JobTypes 返回已注册作业类型（有序）。
func (r *Registry) JobTypes() []string {
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
