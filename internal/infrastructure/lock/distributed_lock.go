package lock

import (
	"context"
	"fmt"
	"time"

	"bonusledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁实现
// ============================================================================
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//   - 先检查 value 是否是自己的
//   - 再删除 key
//
// ============================================================================

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
//
// 【关键点】使用 SetNX 命令，只有当 key 不存在时才能设置成功
// 这保证了同一时刻只有一个客户端能获取到锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrBusy
}

// Unlock 释放锁
//
// 【关键点】使用 Lua 脚本保证"检查+删除"操作的原子性
//
// 为什么要检查 value？
//
//	场景：A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕，调用 Unlock
//	如果不检查 value，A 会把 B 的锁删掉！
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// Locker 适配
// ============================================================================

// RedisLocker 基于 Redis 的资源互斥器，多副本部署时使用
//
// 【设计思考】为什么按资源维度加锁？
//
// 方案1：全局锁（所有账户共用一把锁）
//   - 并发度极低，成员A记账时成员B也要等
//
// 方案2：按资源加锁（account:{id} / reward:{id} 各自一把锁）  <-- 我们的选择
//   - 不同账户可以并发记账，同一账户串行（这正是我们想要的！）
type RedisLocker struct {
	client        *redis.Client
	expiration    time.Duration // 锁过期时间，覆盖最慢的一次记账
	retryInterval time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:        client,
		expiration:    30 * time.Second,
		retryInterval: 50 * time.Millisecond,
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error {
	// value 使用全局唯一ID，便于追踪是哪个请求持有锁
	value := fmt.Sprintf("%d", idgen.NextID())
	dl := NewDistributedLock(l.client, "bonus:lock:"+key, value, l.expiration)

	maxRetries := int(wait/l.retryInterval) + 1
	if err := dl.Lock(ctx, l.retryInterval, maxRetries); err != nil {
		return err
	}
	defer dl.Unlock(ctx)

	return fn(ctx)
}
