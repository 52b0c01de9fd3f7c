package risk

import (
	"fmt"
	"math"
	"sync"

	"arbmesh/exchange"
	"arbmesh/logger"
)

// ConsistencyGuard 校验 REST 与 WS 中间价的一致性。
// 偏差连续超过容差达到上限次数后判定数据源异常。
type ConsistencyGuard struct {
	toleranceBps float64
	maxFailures  int

	mu       sync.Mutex
	failures map[string]int
}

// NewConsistencyGuard 创建一致性校验器
func NewConsistencyGuard(toleranceBps float64, maxFailures int) *ConsistencyGuard {
	return &ConsistencyGuard{
		toleranceBps: toleranceBps,
		maxFailures:  maxFailures,
		failures:     make(map[string]int),
	}
}

func cgKey(venue exchange.Venue, symbol string) string {
	return fmt.Sprintf("%s:%s", venue, symbol)
}

// Verify 比较 REST 与 WS 中间价，返回是否在容差内及偏差基点。
// 在容差内会重置连续失败计数。
func (cg *ConsistencyGuard) Verify(venue exchange.Venue, symbol string, restMid, wsMid float64) (bool, float64) {
	if restMid <= 0 || wsMid <= 0 {
		return false, 0
	}

	diffBps := math.Abs(restMid-wsMid) / restMid * 10000

	cg.mu.Lock()
	defer cg.mu.Unlock()

	k := cgKey(venue, symbol)
	if diffBps > cg.toleranceBps {
		cg.failures[k]++
		logger.Warn("⚠️ [一致性] %s %s REST/WS 偏差 %.4f bps (连续 %d 次)", venue, symbol, diffBps, cg.failures[k])
		return false, diffBps
	}

	cg.failures[k] = 0
	return true, diffBps
}

// IsBlocked 连续超差是否已达上限
func (cg *ConsistencyGuard) IsBlocked(venue exchange.Venue, symbol string) bool {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	return cg.failures[cgKey(venue, symbol)] >= cg.maxFailures
}

// Reset 重置指定键的失败计数（数据源恢复后调用）
func (cg *ConsistencyGuard) Reset(venue exchange.Venue, symbol string) {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	cg.failures[cgKey(venue, symbol)] = 0
}
