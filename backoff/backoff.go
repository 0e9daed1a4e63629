// Package backoff 提供任务重试与版本冲突重试的延迟策略。
package backoff

import (
	"math"
	"time"
)

// Strategy 计算第 attempt 次重试前的等待时长（attempt 从 1 开始）。
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant 固定间隔。
type Constant struct{ Interval time.Duration }

// Delay 返回固定间隔。
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential 指数退避：Base * Multiplier^(attempt-1)，不超过 Max（Max<=0 表示不封顶）。
type Exponential struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay 计算延迟；Multiplier<=1 时退化为常量 Base。
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := e.Multiplier
	if m <= 1 {
		m = 1
	}
	d := float64(e.Base) * math.Pow(m, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// FromSeconds 由配置中的秒数构造指数退避。
func FromSeconds(baseSeconds, multiplier, maxSeconds float64) Exponential {
	return Exponential{
		Base:       time.Duration(baseSeconds * float64(time.Second)),
		Multiplier: multiplier,
		Max:        time.Duration(maxSeconds * float64(time.Second)),
	}
}
