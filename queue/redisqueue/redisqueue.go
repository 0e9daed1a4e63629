// Package redisqueue 基于 Redis 的 queue.Queue 实现。
//
// 每个队列使用三组键：
//   - geoetl:q:{name}:ready    List，待投递的消息 ID（LPUSH 入、RPOP 出）
//   - geoetl:q:{name}:delayed  ZSet，延迟消息，score 为可见时间（毫秒）
//   - geoetl:q:{name}:inflight ZSet，已投递未确认，score 为可见性超时时刻
//
// 消息体与投递计数存放在 geoetl:msg:{id} Hash 中。
// 接收动作由单个 Lua 脚本原子完成：搬运到期延迟消息、回收超时消息、出队并计数、超限转入毒消息队列。
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mengeric/geoetl-go/queue"
)

const keyPrefix = "geoetl:"

func readyKey(name string) string    { return keyPrefix + "q:" + name + ":ready" }
func delayedKey(name string) string  { return keyPrefix + "q:" + name + ":delayed" }
func inflightKey(name string) string { return keyPrefix + "q:" + name + ":inflight" }
func msgKey(id string) string        { return keyPrefix + "msg:" + id }

// KEYS: ready, delayed, inflight, poison_ready
// ARGV: now_ms, visibility_ms, max_deliveries, msg_prefix, poison_name
var receiveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('RPUSH', KEYS[1], id)
end
local max = tonumber(ARGV[3])
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local key = ARGV[4] .. id
  if redis.call('EXISTS', key) == 1 then
    local n = redis.call('HINCRBY', key, 'deliveries', 1)
    if max > 0 and n > max then
      redis.call('HSET', key, 'deliveries', '0')
      redis.call('LPUSH', KEYS[4], id)
    else
      redis.call('ZADD', KEYS[3], tostring(now + tonumber(ARGV[2])), id)
      return {id, redis.call('HGET', key, 'body'), n, redis.call('HGET', key, 'enqueued_at')}
    end
  end
end
`)

// Options Redis 队列参数。
type Options struct {
	Visibility    time.Duration // 默认 5 分钟
	MaxDeliveries int           // <=0 表示不限，默认 5
	Now           func() time.Time
}

// Queue Redis 队列。
type Queue struct {
	rdb redis.UniversalClient
	opt Options
}

// New 创建 Redis 队列。
func New(rdb redis.UniversalClient, opt Options) *Queue {
	if opt.Visibility <= 0 {
		opt.Visibility = 5 * time.Minute
	}
	if opt.MaxDeliveries == 0 {
		opt.MaxDeliveries = 5
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Queue{rdb: rdb, opt: opt}
}

// Enqueue 写入消息体并放入就绪列表或延迟集合。
func (q *Queue) Enqueue(ctx context.Context, name string, body []byte, delay time.Duration) (string, error) {
	id := uuid.NewString()
	now := q.opt.Now()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, msgKey(id), map[string]any{
		"body":        body,
		"queue":       name,
		"deliveries":  0,
		"enqueued_at": now.UnixMilli(),
	})
	if delay > 0 {
		pipe.ZAdd(ctx, delayedKey(name), redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: id})
	} else {
		pipe.LPush(ctx, readyKey(name), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redisqueue: enqueue %s: %w", name, err)
	}
	return id, nil
}

// Receive 原子地取出一条可见消息。
// 毒消息队列不受投递次数上限约束。
func (q *Queue) Receive(ctx context.Context, name string) (*queue.Message, error) {
	maxDeliveries := q.opt.MaxDeliveries
	if queue.IsPoisonQueue(name) {
		maxDeliveries = 0
	}
	res, err := receiveScript.Run(ctx, q.rdb,
		[]string{readyKey(name), delayedKey(name), inflightKey(name), readyKey(queue.PoisonQueue(name))},
		q.opt.Now().UnixMilli(), q.opt.Visibility.Milliseconds(), maxDeliveries, keyPrefix+"msg:", queue.PoisonQueue(name),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue: receive %s: %w", name, err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("redisqueue: unexpected reply length %d", len(res))
	}
	msg := &queue.Message{Queue: name}
	msg.ID, _ = res[0].(string)
	body, _ := res[1].(string)
	msg.Body = []byte(body)
	if n, ok := res[2].(int64); ok {
		msg.DeliveryCount = int(n)
	}
	if s, ok := res[3].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			msg.EnqueuedAt = time.UnixMilli(ms)
		}
	}
	return msg, nil
}

// Ack 从在途集合移除并删除消息体。
func (q *Queue) Ack(ctx context.Context, msg *queue.Message) error {
	if msg == nil {
		return nil
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, inflightKey(msg.Queue), msg.ID)
	pipe.Del(ctx, msgKey(msg.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisqueue: ack %s: %w", msg.ID, err)
	}
	return nil
}

var _ queue.Queue = (*Queue)(nil)
