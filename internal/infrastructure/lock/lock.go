package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 资源互斥锁
// ============================================================================
//
// 【为什么需要按资源加锁？】
//
// 场景：成员A同时发起两笔兑换请求（比如网络抖动导致重复提交）
//
// 没有锁：
//   goroutine1: 查询余额=100 -> 扣减100 -> 余额=0   OK
//   goroutine2: 查询余额=100 -> 扣减100 -> 余额=-100 超扣了！
//
// 有锁（按 account:{id} / reward:{id} 维度）：
//   goroutine1: 获取锁 -> 查询余额=100 -> 扣减100 -> 余额=0 -> 释放锁
//   goroutine2: 等待锁... -> 获取锁 -> 查询余额=0 -> 余额不足，拒绝
//
// 锁只保证进程内互斥；跨副本的正确性由持久层兜底：
// 账户余额走版本号 CAS 更新，奖励库存走条件扣减，
// 锁失效时最多导致一次 ErrBusy 重试，不会写坏数据
// ============================================================================

// ErrBusy 在等待时间内未能获取锁
// 属于可重试错误，调用方应带退避重试
var ErrBusy = errors.New("资源繁忙，请稍后重试")

// 锁 key 规范
func AccountKey(accountID int64) string {
	return fmt.Sprintf("account:%d", accountID)
}

func RewardKey(rewardID int64) string {
	return fmt.Sprintf("reward:%d", rewardID)
}

// Locker 资源互斥器
// 保证同一 key 上同时最多只有一个 fn 在执行
type Locker interface {
	// WithLock 在持有 key 锁的前提下执行 fn
	// wait 内未获取到锁返回 ErrBusy，fn 的返回值原样透传
	WithLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error
}

// ============================================================================
// 进程内实现
// ============================================================================

// LocalLocker 进程内按 key 互斥
// 单实例部署和测试使用；多副本部署换用 RedisLocker
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{} // 容量1的信号量
	refs int           // 等待者计数，归零时回收 entry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error {
	entry := l.acquireEntry(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(key, entry)
		return ctx.Err()
	case <-timer.C:
		l.releaseEntry(key, entry)
		return ErrBusy
	}

	defer func() {
		<-entry.sem
		l.releaseEntry(key, entry)
	}()

	return fn(ctx)
}

func (l *LocalLocker) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.locks[key]
	if entry == nil {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) releaseEntry(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
