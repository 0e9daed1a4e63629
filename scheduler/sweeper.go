package scheduler

import (
	"context"
	"time"

	"github.com/mengeric/geoetl-go/logging"
)

// sweeper 一轮修复，返回处理数量。
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// scanner 一轮毒消息扫描，返回处理数量。
type scanner interface {
	ScanOnce(ctx context.Context) (int, error)
}

// ReconcileScheduler 周期性执行自愈巡检。
type ReconcileScheduler struct {
	r        sweeper
	interval time.Duration
}

// NewReconcile 构造。
func NewReconcile(r sweeper, interval time.Duration) *ReconcileScheduler {
	return &ReconcileScheduler{r: r, interval: interval}
}

// Start 启动巡检。
func (s *ReconcileScheduler) Start(ctx context.Context) {
	every(ctx, s.interval, func(ctx context.Context) {
		if _, err := s.r.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.L().Warn(ctx, "reconcile sweep failed", "err", err)
		}
	})
}

// PoisonScheduler 周期性扫描毒消息队列。
type PoisonScheduler struct {
	s        scanner
	interval time.Duration
}

// NewPoison 构造。
func NewPoison(s scanner, interval time.Duration) *PoisonScheduler {
	return &PoisonScheduler{s: s, interval: interval}
}

// Start 启动扫描。
func (p *PoisonScheduler) Start(ctx context.Context) {
	every(ctx, p.interval, func(ctx context.Context) {
		n, err := p.s.ScanOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logging.L().Warn(ctx, "poison scan failed", "err", err)
			return
		}
		if n > 0 {
			logging.L().Info(ctx, "poison messages handled", "count", n)
		}
	})
}
