package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"arbmesh/logger"
	"arbmesh/utils"
)

// releaseScript 只删除 value 匹配的键，避免误删他人持有的锁
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLock 基于 Redis SETNX 的分布式锁
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string // key -> 持有令牌
}

// NewRedisLock 创建并验证 Redis 连接
func NewRedisLock(addr, password string, db int, prefix string) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}

	logger.Info("✅ Redis 分布式锁已启用: %s", addr)
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}, nil
}

func (r *RedisLock) fullKey(key string) string {
	return r.prefix + key
}

// Acquire SETNX 抢锁，带 TTL 防死锁
func (r *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := utils.NewEventID()
	ok, err := r.client.SetNX(ctx, r.fullKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("抢锁失败 %s: %w", key, err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}
	return ok, nil
}

// Release 用 Lua 脚本做 compare-and-delete
func (r *RedisLock) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := r.client.Eval(ctx, releaseScript, []string{r.fullKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("释放锁失败 %s: %w", key, err)
	}
	return nil
}

func (r *RedisLock) Close() error {
	return r.client.Close()
}
