package orchestrator

import (
	"time"

	"github.com/mengeric/geoetl-go/backoff"
	"github.com/mengeric/geoetl-go/logging"
)

// 默认参数。
const (
	DefaultTaskQueue  = "geoetl-tasks"
	DefaultJobQueue   = "geoetl-jobs"
	DefaultMaxRetries = 3
)

// options 编排参数。
type options struct {
	taskQueue  string
	jobQueue   string
	maxRetries int
	backoff    backoff.Strategy
	failFast   bool
	logger     logging.Logger
	now        func() time.Time
}

// Option 可选项。
type Option func(*options)

// WithQueues 设置任务队列与作业队列名。
func WithQueues(taskQueue, jobQueue string) Option {
	return func(o *options) { o.taskQueue, o.jobQueue = taskQueue, jobQueue }
}

// WithMaxRetries 设置重试上限：retry_count 达到该值后任务永久失败。
func WithMaxRetries(n int) Option { return func(o *options) { o.maxRetries = n } }

// WithBackoff 设置重试退避策略。
func WithBackoff(s backoff.Strategy) Option { return func(o *options) { o.backoff = s } }

// WithFailFast 阶段失败（零成功）时是否立即终止作业，默认 true。
func WithFailFast(v bool) Option { return func(o *options) { o.failFast = v } }

// WithLogger 注入日志器，默认使用 logging.L()。
func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock 注入时钟（测试用）。
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// withDefaults 填充默认值。
func (o *options) withDefaults() {
	if o.taskQueue == "" {
		o.taskQueue = DefaultTaskQueue
	}
	if o.jobQueue == "" {
		o.jobQueue = DefaultJobQueue
	}
	if o.maxRetries <= 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.backoff == nil {
		o.backoff = backoff.Exponential{Base: 2 * time.Second, Multiplier: 2, Max: 300 * time.Second}
	}
	if o.logger == nil {
		o.logger = logging.L()
	}
	if o.now == nil {
		o.now = time.Now
	}
}
