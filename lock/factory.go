package lock

import (
	"arbmesh/config"
	"arbmesh/logger"
)

// New 按配置创建分布式锁：启用 Redis 时用 Redis，否则退化为空锁
func New(cfg *config.RedisConfig) (DistributedLock, error) {
	if cfg == nil || !cfg.Enabled {
		logger.Info("📝 分布式锁未启用，使用单实例空锁")
		return NewNopLock(), nil
	}
	return NewRedisLock(cfg.Addr, cfg.Password, cfg.DB, cfg.LockPrefix)
}
