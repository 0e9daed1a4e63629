package orchestrator

import (
	"errors"
	"fmt"

	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/processor"
)

var (
	// ErrUnknownJobType 提交了未注册的作业类型。
	ErrUnknownJobType = jobdef.ErrUnknownJobType
	// ErrHandlerMissing 任务类型没有处理器：部署与注册表不一致，不计为任务失败。
	ErrHandlerMissing = fmt.Errorf("orchestrator: %w", processor.ErrNotFound)
	// ErrNotResubmittable 只有 failed / completed_with_errors 的作业可以重提交。
	ErrNotResubmittable = errors.New("orchestrator: job is not resubmittable")
)

// 作业失败原因。
const (
	ReasonCancelled = "cancelled"
	ReasonPoisoned  = "exceeded maximum delivery attempts"
)
