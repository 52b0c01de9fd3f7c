package market

import (
	"fmt"
	"sync"
	"time"

	"arbmesh/exchange"
)

// OrderBookManager 双通道报价缓存：WS 推送与 REST 拉取分开保存，
// 取数时优先使用新鲜的 WS 报价，过期则回退 REST。
// 推送只更新缓存，决策始终由 tick 驱动。
type OrderBookManager struct {
	staleMs int64

	mu   sync.RWMutex
	ws   map[string]*exchange.Quote
	rest map[string]*exchange.Quote
}

// NewOrderBookManager 创建报价缓存
func NewOrderBookManager(staleMs int) *OrderBookManager {
	return &OrderBookManager{
		staleMs: int64(staleMs),
		ws:      make(map[string]*exchange.Quote),
		rest:    make(map[string]*exchange.Quote),
	}
}

func bookKey(venue exchange.Venue, symbol string) string {
	return fmt.Sprintf("%s:%s", venue, symbol)
}

// UpdateWs 写入 WS 推送报价
func (m *OrderBookManager) UpdateWs(q *exchange.Quote) {
	if !q.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := bookKey(q.Venue, q.Symbol)
	if old, ok := m.ws[k]; ok && old.Timestamp.After(q.Timestamp) {
		return // 乱序推送，丢弃旧数据
	}
	m.ws[k] = q
}

// UpdateRest 写入 REST 拉取报价
func (m *OrderBookManager) UpdateRest(q *exchange.Quote) {
	if !q.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rest[bookKey(q.Venue, q.Symbol)] = q
}

// WsQuote 返回缓存的 WS 报价（可能为 nil）
func (m *OrderBookManager) WsQuote(venue exchange.Venue, symbol string) *exchange.Quote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ws[bookKey(venue, symbol)]
}

// Effective 返回当前生效报价：新鲜的 WS 优先，否则新鲜的 REST，
// 两者都过期时返回较新的那个（由风控层判定 stale）。
func (m *OrderBookManager) Effective(venue exchange.Venue, symbol string, now time.Time) *exchange.Quote {
	m.mu.RLock()
	wsQ := m.ws[bookKey(venue, symbol)]
	restQ := m.rest[bookKey(venue, symbol)]
	m.mu.RUnlock()

	if wsQ != nil && wsQ.AgeMs(now) <= m.staleMs {
		return wsQ
	}
	if restQ != nil && restQ.AgeMs(now) <= m.staleMs {
		return restQ
	}

	// 都过期：返回较新的
	switch {
	case wsQ == nil:
		return restQ
	case restQ == nil:
		return wsQ
	case restQ.Timestamp.After(wsQ.Timestamp):
		return restQ
	default:
		return wsQ
	}
}

// IsStale 生效报价是否过期
func (m *OrderBookManager) IsStale(venue exchange.Venue, symbol string, now time.Time) bool {
	q := m.Effective(venue, symbol, now)
	if q == nil {
		return true
	}
	return q.AgeMs(now) > m.staleMs
}
