package risk

import (
	"context"
	"sync"
	"time"

	"arbmesh/exchange"
	"arbmesh/logger"
)

// HealthGuard 交易所 REST 探活守卫。
// 结果带缓存，连续失败达到阈值后判定不健康。
type HealthGuard struct {
	failThreshold int
	cacheTTL      time.Duration

	mu    sync.Mutex
	items map[exchange.Venue]*healthItem
}

type healthItem struct {
	failures  int
	healthy   bool
	checkedAt time.Time
}

// NewHealthGuard 创建健康守卫
func NewHealthGuard(failThreshold int, cacheTTL time.Duration) *HealthGuard {
	return &HealthGuard{
		failThreshold: failThreshold,
		cacheTTL:      cacheTTL,
		items:         make(map[exchange.Venue]*healthItem),
	}
}

// Check 探活指定交易所。缓存未过期时直接返回上次结果。
func (hg *HealthGuard) Check(ctx context.Context, ex exchange.IExchange, now time.Time) bool {
	venue := ex.Name()

	hg.mu.Lock()
	item, ok := hg.items[venue]
	if !ok {
		item = &healthItem{healthy: true}
		hg.items[venue] = item
	}
	if now.Sub(item.checkedAt) < hg.cacheTTL {
		healthy := item.healthy
		hg.mu.Unlock()
		return healthy
	}
	hg.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := ex.HealthCheck(checkCtx)
	cancel()

	hg.mu.Lock()
	defer hg.mu.Unlock()

	item.checkedAt = now
	if err != nil {
		item.failures++
		if item.failures >= hg.failThreshold && item.healthy {
			item.healthy = false
			logger.Error("❌ [健康检查] %s 连续失败 %d 次，标记为不健康: %v", venue, item.failures, err)
		}
	} else {
		if !item.healthy {
			logger.Info("✅ [健康检查] %s 已恢复", venue)
		}
		item.failures = 0
		item.healthy = true
	}
	return item.healthy
}

// IsHealthy 返回缓存的健康状态（未检查过视为健康）
func (hg *HealthGuard) IsHealthy(venue exchange.Venue) bool {
	hg.mu.Lock()
	defer hg.mu.Unlock()

	item, ok := hg.items[venue]
	if !ok {
		return true
	}
	return item.healthy
}
