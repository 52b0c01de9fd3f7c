package risk

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"arbmesh/exchange"
)

// Scope 限流作用域
type Scope string

const (
	ScopeMarketData Scope = "market_data"
	ScopeOrder      Scope = "order"
)

// BucketStat 令牌桶快照
type BucketStat struct {
	Tokens   float64 `json:"tokens"`
	Capacity int     `json:"capacity"`
	Rate     float64 `json:"rate"`
	Allowed  int64   `json:"allowed"`
	Rejected int64   `json:"rejected"`
}

type bucket struct {
	limiter  *rate.Limiter
	capacity int
	rateN    float64
	allowed  int64
	rejected int64
}

// RateLimiter 按 (交易所, 作用域) 维护令牌桶。
// 令牌不足时立即拒绝，绝不排队等待。
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter 创建限流器
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket)}
}

func key(venue exchange.Venue, scope Scope) string {
	return fmt.Sprintf("%s:%s", venue, scope)
}

// Configure 配置指定作用域的令牌桶（rate 每秒补充，capacity 桶容量）
func (rl *RateLimiter) Configure(venue exchange.Venue, scope Scope, r float64, capacity int) {
	if r <= 0 || capacity <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.buckets[key(venue, scope)] = &bucket{
		limiter:  rate.NewLimiter(rate.Limit(r), capacity),
		capacity: capacity,
		rateN:    r,
	}
}

// Allow 尝试取一个令牌，失败立即返回 false（不排队）
func (rl *RateLimiter) Allow(venue exchange.Venue, scope Scope) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key(venue, scope)]
	rl.mu.Unlock()

	if !ok {
		// 未配置的作用域不限流
		return true
	}

	if b.limiter.Allow() {
		rl.mu.Lock()
		b.allowed++
		rl.mu.Unlock()
		return true
	}

	rl.mu.Lock()
	b.rejected++
	rl.mu.Unlock()
	return false
}

// Snapshot 返回全部令牌桶状态
func (rl *RateLimiter) Snapshot() map[string]BucketStat {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	out := make(map[string]BucketStat, len(rl.buckets))
	for k, b := range rl.buckets {
		out[k] = BucketStat{
			Tokens:   b.limiter.Tokens(),
			Capacity: b.capacity,
			Rate:     b.rateN,
			Allowed:  b.allowed,
			Rejected: b.rejected,
		}
	}
	return out
}
