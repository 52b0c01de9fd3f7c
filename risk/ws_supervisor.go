package risk

import (
	"sync"
	"time"

	"arbmesh/exchange"
)

// WsTier WS 行情健康分级
type WsTier int

const (
	WsTierOK       WsTier = iota // 正常
	WsTierDegraded               // 一级降级：禁止新开仓
	WsTierCritical               // 二级熔断：只允许平仓
)

// String 返回分级名称
func (t WsTier) String() string {
	switch t {
	case WsTierOK:
		return "ok"
	case WsTierDegraded:
		return "degraded"
	case WsTierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// WsSupervisor 监控各交易所 WS 行情空闲时间。
// 空闲超过一级阈值进入降级，超过二级阈值进入熔断。
type WsSupervisor struct {
	degradedTimeout time.Duration
	criticalTimeout time.Duration

	mu       sync.RWMutex
	lastSeen map[exchange.Venue]time.Time
}

// NewWsSupervisor 创建 WS 监控器
func NewWsSupervisor(degradedTimeout, criticalTimeout time.Duration) *WsSupervisor {
	return &WsSupervisor{
		degradedTimeout: degradedTimeout,
		criticalTimeout: criticalTimeout,
		lastSeen:        make(map[exchange.Venue]time.Time),
	}
}

// MarkAlive 收到 WS 消息时刷新时间戳
func (ws *WsSupervisor) MarkAlive(venue exchange.Venue, at time.Time) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if at.After(ws.lastSeen[venue]) {
		ws.lastSeen[venue] = at
	}
}

// Tier 返回指定交易所当前的健康分级。
// 从未收到过消息的交易所视为熔断。
func (ws *WsSupervisor) Tier(venue exchange.Venue, now time.Time) WsTier {
	ws.mu.RLock()
	last, ok := ws.lastSeen[venue]
	ws.mu.RUnlock()

	if !ok {
		return WsTierCritical
	}

	idle := now.Sub(last)
	switch {
	case idle >= ws.criticalTimeout:
		return WsTierCritical
	case idle >= ws.degradedTimeout:
		return WsTierDegraded
	default:
		return WsTierOK
	}
}

// WorstTier 返回所有交易所中最差的分级
func (ws *WsSupervisor) WorstTier(venues []exchange.Venue, now time.Time) WsTier {
	worst := WsTierOK
	for _, v := range venues {
		if t := ws.Tier(v, now); t > worst {
			worst = t
		}
	}
	return worst
}

// IdleMs 返回指定交易所的空闲毫秒数（从未收到过消息返回 -1）
func (ws *WsSupervisor) IdleMs(venue exchange.Venue, now time.Time) int64 {
	ws.mu.RLock()
	last, ok := ws.lastSeen[venue]
	ws.mu.RUnlock()

	if !ok {
		return -1
	}
	return now.Sub(last).Milliseconds()
}
