// Package scheduler 运行工作进程的周期性后台任务：主机心跳、毒消息扫描与自愈巡检。
package scheduler

import (
	"context"
	"time"

	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/metrics"
)

// inFlighter 只依赖在途消息数，避免与具体工作者强耦合。
type inFlighter interface{ InFlight() int }

// HeartbeatScheduler 周期性采集主机指标并输出心跳日志。
type HeartbeatScheduler struct {
	worker   string
	probe    inFlighter
	collect  func(ctx context.Context) metrics.HostMetric
	interval time.Duration
}

// NewHeartbeat 构造。
func NewHeartbeat(workerID string, probe inFlighter, interval time.Duration) *HeartbeatScheduler {
	return &HeartbeatScheduler{worker: workerID, probe: probe, collect: metrics.CollectHostMetric, interval: interval}
}

// Start 启动心跳。
func (h *HeartbeatScheduler) Start(ctx context.Context) {
	every(ctx, h.interval, h.beat)
}

func (h *HeartbeatScheduler) beat(ctx context.Context) {
	m := h.collect(ctx)
	metrics.ObserveHost(m)
	logging.L().Debug(ctx, "heartbeat",
		"worker_id", h.worker,
		"in_flight", h.probe.InFlight(),
		"cpu_load", m.CPULoad,
		"mem_usage_ratio", m.MemUsageRatio,
		"score", m.Score,
	)
}

// every 按固定间隔执行 fn，直到 ctx 结束；interval<=0 时不启动。
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
