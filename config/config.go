// Package config 承载 geoetl 服务与工作进程的 YAML 配置。
package config

import "time"

// Config 完整配置；零值字段由 WithDefaults 补齐。
type Config struct {
	Store        Store        `yaml:"store"`
	Queue        Queue        `yaml:"queue"`
	Retry        Retry        `yaml:"retry"`
	Worker       Worker       `yaml:"worker"`
	Poison       Poison       `yaml:"poison"`
	Reconcile    Reconcile    `yaml:"reconcile"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	HTTP         HTTP         `yaml:"http"`
	Log          Log          `yaml:"log"`
	OTel         OTel         `yaml:"otel"`
}

// Store 存储：memory / sqlite / postgres。
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"` // sqlite 为文件路径，postgres 形如 host=... user=... dbname=...
}

// Queue 消息队列：memory / redis。
type Queue struct {
	Driver            string        `yaml:"driver"`
	RedisAddr         string        `yaml:"redis_addr"`
	TaskQueue         string        `yaml:"task_queue"`
	JobQueue          string        `yaml:"job_queue"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxDeliveries     int           `yaml:"max_deliveries"`
}

// Retry 任务重试上限与退避曲线。
type Retry struct {
	MaxRetries         int     `yaml:"max_retries"`
	BackoffBaseSeconds float64 `yaml:"backoff_base_seconds"`
	BackoffMultiplier  float64 `yaml:"backoff_multiplier"`
	BackoffMaxSeconds  float64 `yaml:"backoff_max_seconds"`
}

type Worker struct {
	Concurrency    int           `yaml:"concurrency"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	HeartbeatEvery time.Duration `yaml:"heartbeat_every"`
}

type Poison struct {
	ScanEvery time.Duration `yaml:"scan_every"`
}

type Reconcile struct {
	Every      time.Duration `yaml:"every"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Orchestrator FailFast 为空时默认 true。
type Orchestrator struct {
	FailFast *bool `yaml:"fail_fast"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type OTel struct {
	Endpoint string `yaml:"endpoint"`
}

// WithDefaults 返回补齐默认值后的副本。
func (c Config) WithDefaults() Config {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	def(&c.Store.Driver, "memory")
	def(&c.Queue.Driver, "memory")
	def(&c.Queue.RedisAddr, "127.0.0.1:6379")
	def(&c.Queue.TaskQueue, "geoetl-tasks")
	def(&c.Queue.JobQueue, "geoetl-jobs")
	def(&c.HTTP.Addr, ":8080")
	def(&c.Log.Level, "info")
	def(&c.Log.Format, "text")
	if c.Queue.VisibilityTimeout <= 0 {
		c.Queue.VisibilityTimeout = 5 * time.Minute
	}
	if c.Queue.MaxDeliveries <= 0 {
		c.Queue.MaxDeliveries = 5
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BackoffBaseSeconds <= 0 {
		c.Retry.BackoffBaseSeconds = 2
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = 2
	}
	if c.Retry.BackoffMaxSeconds <= 0 {
		c.Retry.BackoffMaxSeconds = 300
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 500 * time.Millisecond
	}
	if c.Worker.HeartbeatEvery <= 0 {
		c.Worker.HeartbeatEvery = 15 * time.Second
	}
	if c.Poison.ScanEvery <= 0 {
		c.Poison.ScanEvery = 30 * time.Second
	}
	if c.Reconcile.Every <= 0 {
		c.Reconcile.Every = 60 * time.Second
	}
	if c.Reconcile.StaleAfter <= 0 {
		c.Reconcile.StaleAfter = 5 * time.Minute
	}
	if c.Orchestrator.FailFast == nil {
		v := true
		c.Orchestrator.FailFast = &v
	}
	return c
}
