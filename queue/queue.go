// Package queue 定义至少一次投递的消息队列契约与作业/任务消息体。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrEmpty 当前没有可见消息。
var ErrEmpty = errors.New("queue: no message available")

// PoisonSuffix 毒消息子队列后缀。
const PoisonSuffix = "-poison"

// PoisonQueue 返回队列对应的毒消息队列名。
func PoisonQueue(name string) string { return name + PoisonSuffix }

// IsPoisonQueue 是否为毒消息队列；毒消息队列不受投递次数上限约束。
func IsPoisonQueue(name string) bool { return strings.HasSuffix(name, PoisonSuffix) }

// Message 一条已接收的消息。
type Message struct {
	ID            string
	Queue         string
	Body          []byte
	DeliveryCount int
	EnqueuedAt    time.Time
}

// Queue 至少一次投递语义：
// - Receive 取出的消息在可见性超时内对其他消费者不可见，超时未 Ack 会被重新投递；
// - 投递次数超过上限的消息被移入 PoisonQueue(name)，投递计数清零；毒消息队列自身不设上限；
// - Receive 不阻塞，无消息时返回 ErrEmpty；
// - Ack 对未知或已确认消息是空操作。
type Queue interface {
	Enqueue(ctx context.Context, name string, body []byte, delay time.Duration) (string, error)
	Receive(ctx context.Context, name string) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
}

// TaskMessage 触发一次任务执行的最小载荷；权威状态在存储中。
type TaskMessage struct {
	TaskID      string         `json:"task_id"`
	ParentJobID string         `json:"parent_job_id"`
	JobType     string         `json:"job_type"`
	TaskType    string         `json:"task_type"`
	Stage       int            `json:"stage"`
	Index       int            `json:"index"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RetryCount  int            `json:"retry_count"`
}

// JobMessage 触发作业进入某个阶段。
type JobMessage struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Stage   int    `json:"stage"`
	Attempt int    `json:"attempt"`
}

// Encode 序列化消息体。
func Encode(v any) ([]byte, error) { return json.Marshal(v) }

// Decode 反序列化消息体。
func Decode(b []byte, v any) error { return json.Unmarshal(b, v) }
