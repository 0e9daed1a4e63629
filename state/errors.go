package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("state: record not found")
	// ErrConflict 乐观锁重试耗尽。
	ErrConflict = errors.New("state: version conflict retries exhausted")
	// ErrIllegalTransition 非法状态迁移。
	ErrIllegalTransition = errors.New("state: illegal status transition")
	// ErrSkip 由变更函数返回，表示当前记录无需更新。
	ErrSkip = errors.New("state: update skipped")
)

// TransitionError 描述一次被拒绝的状态迁移。
type TransitionError struct {
	Entity string // job / task
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("state: illegal %s transition %s -> %s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
