package lock

import (
	"context"
	"time"
)

// DistributedLock 分布式锁接口。
// 平仓、再平衡等互斥动作在多实例部署下通过它做串行化。
type DistributedLock interface {
	// Acquire 尝试获取锁，返回是否成功
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放锁（只释放自己持有的）
	Release(ctx context.Context, key string) error
	// Close 关闭底层连接
	Close() error
}

// NopLock 单实例部署下的空实现，总是获取成功
type NopLock struct{}

func NewNopLock() *NopLock { return &NopLock{} }

func (n *NopLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Release(ctx context.Context, key string) error { return nil }

func (n *NopLock) Close() error { return nil }
