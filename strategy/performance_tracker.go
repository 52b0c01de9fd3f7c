package strategy

import (
	"fmt"
	"math"
	"sync"

	"arbmesh/exchange"
)

// legState 单腿持仓成本
type legState struct {
	qty      float64 // 带符号
	avgPrice float64
	realized float64
}

// PerformanceSnapshot 绩效快照
type PerformanceSnapshot struct {
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	TotalPnL       float64 `json:"total_pnl"`
	Fees           float64 `json:"fees"`
	Turnover       float64 `json:"turnover"` // 成交额累计
	TradeCount     int64   `json:"trade_count"`
	EquityPeak     float64 `json:"equity_peak"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// PerformanceTracker 绩效追踪器。
// 按 (交易所, 交易对) 维护腿级均价与已实现盈亏，
// 未实现盈亏用最新标记价估算。
type PerformanceTracker struct {
	mu         sync.Mutex
	legs       map[string]*legState
	marks      map[string]float64 // 最新标记价
	fees       float64
	turnover   float64
	tradeCount int64

	equityPeak  float64
	maxDrawdown float64 // 比例（0.05 = 5%）
}

// NewPerformanceTracker 创建绩效追踪器
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		legs:  make(map[string]*legState),
		marks: make(map[string]float64),
	}
}

func legKey(venue exchange.Venue, symbol string) string {
	return fmt.Sprintf("%s:%s", venue, symbol)
}

// OnFill 记录一笔成交
func (pt *PerformanceTracker) OnFill(venue exchange.Venue, symbol string, side exchange.Side, qty, price, fee float64) {
	if qty <= 0 || price <= 0 {
		return
	}

	signed := qty
	if side == exchange.SideSell {
		signed = -qty
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	k := legKey(venue, symbol)
	leg, ok := pt.legs[k]
	if !ok {
		leg = &legState{}
		pt.legs[k] = leg
	}

	if leg.qty == 0 || (leg.qty > 0) == (signed > 0) {
		// 同向加仓：数量加权均价
		total := leg.qty + signed
		leg.avgPrice = (leg.avgPrice*math.Abs(leg.qty) + price*qty) / math.Abs(total)
		leg.qty = total
	} else {
		// 反向减仓：结算已实现盈亏
		closed := math.Min(qty, math.Abs(leg.qty))
		direction := 1.0
		if leg.qty < 0 {
			direction = -1.0
		}
		leg.realized += (price - leg.avgPrice) * closed * direction

		leg.qty += signed
		if math.Abs(leg.qty) < qtyEpsilon {
			leg.qty = 0
			leg.avgPrice = 0
		} else if (leg.qty > 0) != (direction > 0) {
			// 反手：剩余部分按新方向重新计价
			leg.avgPrice = price
		}
	}

	pt.fees += fee
	pt.turnover += qty * price
	pt.tradeCount++
	pt.marks[k] = price

	pt.updateDrawdownLocked()
}

// MarkPrice 更新标记价（用于未实现盈亏估算）
func (pt *PerformanceTracker) MarkPrice(venue exchange.Venue, symbol string, price float64) {
	if price <= 0 {
		return
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.marks[legKey(venue, symbol)] = price
	pt.updateDrawdownLocked()
}

// unrealizedLocked 计算未实现盈亏（调用方需持锁）
func (pt *PerformanceTracker) unrealizedLocked() float64 {
	total := 0.0
	for k, leg := range pt.legs {
		if leg.qty == 0 {
			continue
		}
		mark, ok := pt.marks[k]
		if !ok || mark <= 0 {
			continue
		}
		total += (mark - leg.avgPrice) * leg.qty
	}
	return total
}

// updateDrawdownLocked 更新净值高点与最大回撤（调用方需持锁）
func (pt *PerformanceTracker) updateDrawdownLocked() {
	realized := 0.0
	for _, leg := range pt.legs {
		realized += leg.realized
	}
	equity := realized + pt.unrealizedLocked() - pt.fees

	if equity > pt.equityPeak {
		pt.equityPeak = equity
	}
	if pt.equityPeak > 0 {
		dd := (pt.equityPeak - equity) / pt.equityPeak
		if dd > pt.maxDrawdown {
			pt.maxDrawdown = dd
		}
	}
}

// Snapshot 返回当前绩效快照
func (pt *PerformanceTracker) Snapshot() *PerformanceSnapshot {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	realized := 0.0
	for _, leg := range pt.legs {
		realized += leg.realized
	}
	unrealized := pt.unrealizedLocked()

	return &PerformanceSnapshot{
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		TotalPnL:       realized + unrealized - pt.fees,
		Fees:           pt.fees,
		Turnover:       pt.turnover,
		TradeCount:     pt.tradeCount,
		EquityPeak:     pt.equityPeak,
		MaxDrawdownPct: pt.maxDrawdown * 100,
	}
}
