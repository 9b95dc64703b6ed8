package lock

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【用在哪里？】
//
// 分发周期可以由三种方式触发：cron 调用的 CLI、HTTP 定时端点、进程内定时任务。
// 触发间隔比一个周期的执行时间短时，两个周期会重叠。
//
// 单条记录的互斥由数据库认领（claim_token 条件更新）保证；
// 这把锁保证同一时刻只有一个周期在扫描队列，避免重叠周期互相抢占、重复等待。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本校验 value 后删除，防止误删别人的锁
//
// ============================================================================

var ErrLockNotHeld = errors.New("锁不属于当前持有者")

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
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ============================================================================
// 分发周期锁
// ============================================================================

const dispatchCycleKey = "delivery:lock:dispatch-cycle"

// CycleLock 把分布式锁适配成分发器需要的周期锁
//
// 过期时间应当大于周期的最长执行时间，否则锁会在周期结束前自动释放
type CycleLock struct {
	client     *redis.Client
	expiration time.Duration
	newOwner   func() string
}

func NewCycleLock(client *redis.Client, expiration time.Duration, newOwner func() string) *CycleLock {
	return &CycleLock{
		client:     client,
		expiration: expiration,
		newOwner:   newOwner,
	}
}

// TryAcquire 获取周期锁，成功时返回释放函数
func (c *CycleLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	l := NewDistributedLock(c.client, dispatchCycleKey, c.newOwner(), c.expiration)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}

	release := func() {
		// 周期的 ctx 可能已经超时，释放锁使用独立的 ctx
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.Unlock(unlockCtx); err != nil {
			log.Printf("[CycleLock] 释放分发周期锁失败: %v", err)
		}
	}
	return release, true, nil
}
