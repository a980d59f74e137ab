package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 订单维度的分布式锁
// ============================================================================
//
// 同一个 order_reference 可能同时收到网关回调和后台轮询结果，
// 加锁后两条路径串行地做“查询 -> 判断终态 -> 更新”
//
// 加锁：SET key value NX EX ttl
// 释放：Lua 脚本比对 value 后 DEL，不会误删别人的锁
//
// 锁只是减少冲突，最终一致性由账本的乐观锁（version）保证；
// 锁内不允许发起网关调用
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 按固定间隔重试，超过次数返回 ErrLockFailed
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// ============================================================================
// OrderLocker
// ============================================================================

const (
	defaultLockTTL       = 10 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
	defaultMaxRetries    = 40
)

// OrderLocker 按 order_reference 加锁，供对账服务使用
type OrderLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewOrderLocker(client *redis.Client, ttl time.Duration) *OrderLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &OrderLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		maxRetries:    defaultMaxRetries,
	}
}

func OrderLockKey(orderReference string) string {
	return fmt.Sprintf("settlement:lock:order:%s", orderReference)
}

// Acquire 获取订单锁，返回的 release 可以安全地多次调用
func (o *OrderLocker) Acquire(ctx context.Context, orderReference string) (func(), error) {
	l := NewDistributedLock(o.client, OrderLockKey(orderReference), uuid.NewString(), o.ttl)
	if err := l.Lock(ctx, o.retryInterval, o.maxRetries); err != nil {
		return nil, fmt.Errorf("订单 %s 加锁失败: %w", orderReference, err)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// 调用方的 ctx 可能已经取消，释放锁用独立的超时
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Unlock(ctx); err != nil {
			log.Printf("[Lock] 释放订单锁失败: orderReference=%s, err=%v", orderReference, err)
		}
	}, nil
}
