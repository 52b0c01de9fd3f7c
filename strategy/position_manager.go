package strategy

import (
	"math"
	"sync"
	"time"

	"arbmesh/exchange"
	"arbmesh/utils"
)

// qtyEpsilon 数量比较精度
const qtyEpsilon = 1e-9

// PositionState 单交易对双腿持仓（数量带符号，正为多头）
type PositionState struct {
	Symbol       string    `json:"symbol"`
	ParadexQty   float64   `json:"paradex_qty"`
	GrvtQty      float64   `json:"grvt_qty"`
	ParadexEntry float64   `json:"paradex_entry"`
	GrvtEntry    float64   `json:"grvt_entry"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NetExposure 净敞口数量（两腿带符号数量之和，目标恒为 0）
func (p *PositionState) NetExposure() float64 {
	return p.ParadexQty + p.GrvtQty
}

// refPrice 敞口加权参考价：两腿入场价均值，仅一腿有价时取该腿
func (p *PositionState) refPrice() float64 {
	switch {
	case p.ParadexEntry > 0 && p.GrvtEntry > 0:
		return (p.ParadexEntry + p.GrvtEntry) / 2
	case p.ParadexEntry > 0:
		return p.ParadexEntry
	default:
		return p.GrvtEntry
	}
}

// NetNotional 价格加权净敞口（净数量 × 参考价）。
// 跨交易对聚合必须比名义值，不同价格水平的数量不可直接相加；
// 参考价未知时退化为原始数量。
func (p *PositionState) NetNotional() float64 {
	px := p.refPrice()
	if px <= 0 {
		px = 1
	}
	return p.NetExposure() * px
}

// GrossQty 总持仓规模
func (p *PositionState) GrossQty() float64 {
	return math.Abs(p.ParadexQty) + math.Abs(p.GrvtQty)
}

// IsFlat 是否无持仓
func (p *PositionState) IsFlat() bool {
	return math.Abs(p.ParadexQty) < qtyEpsilon && math.Abs(p.GrvtQty) < qtyEpsilon
}

// PositionManager 持仓管理器。
// 成交即时更新本地视图，周期性用交易所持仓全量覆盖校正。
type PositionManager struct {
	mu        sync.RWMutex
	positions map[string]*PositionState
}

// NewPositionManager 创建持仓管理器
func NewPositionManager() *PositionManager {
	return &PositionManager{positions: make(map[string]*PositionState)}
}

// stateFor 获取或创建持仓状态（调用方需持有写锁）
func (pm *PositionManager) stateFor(symbol string) *PositionState {
	p, ok := pm.positions[symbol]
	if !ok {
		p = &PositionState{Symbol: symbol}
		pm.positions[symbol] = p
	}
	return p
}

// ApplyFill 应用一笔成交
func (pm *PositionManager) ApplyFill(venue exchange.Venue, symbol string, side exchange.Side, qty, price float64) {
	signed := qty
	if side == exchange.SideSell {
		signed = -qty
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	p := pm.stateFor(symbol)
	switch venue {
	case exchange.VenueParadex:
		p.ParadexQty += signed
		if price > 0 {
			p.ParadexEntry = price
		}
	case exchange.VenueGRVT:
		p.GrvtQty += signed
		if price > 0 {
			p.GrvtEntry = price
		}
	}
	p.UpdatedAt = utils.NowUTC()
}

// SyncVenue 用交易所返回的持仓全量覆盖指定腿
func (pm *PositionManager) SyncVenue(venue exchange.Venue, positions []exchange.Position) {
	bySymbol := make(map[string]exchange.Position, len(positions))
	for _, pos := range positions {
		bySymbol[pos.Symbol] = pos
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	symbols := make(map[string]bool)
	for sym := range pm.positions {
		symbols[sym] = true
	}
	for sym := range bySymbol {
		symbols[sym] = true
	}

	for sym := range symbols {
		p := pm.stateFor(sym)
		pos, ok := bySymbol[sym]
		var qty, entry float64
		if ok {
			qty, entry = pos.Qty, pos.EntryPrice
		}
		switch venue {
		case exchange.VenueParadex:
			p.ParadexQty = qty
			if entry > 0 {
				p.ParadexEntry = entry
			}
		case exchange.VenueGRVT:
			p.GrvtQty = qty
			if entry > 0 {
				p.GrvtEntry = entry
			}
		}
		p.UpdatedAt = utils.NowUTC()
	}
}

// Get 返回指定交易对持仓的副本（不存在时返回空仓）
func (pm *PositionManager) Get(symbol string) *PositionState {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, ok := pm.positions[symbol]
	if !ok {
		return &PositionState{Symbol: symbol}
	}
	cp := *p
	return &cp
}

// Snapshot 返回全部持仓副本
func (pm *PositionManager) Snapshot() []*PositionState {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]*PositionState, 0, len(pm.positions))
	for _, p := range pm.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// TotalAbsNotional 各交易对价格加权净敞口绝对值之和，
// 以及净数量加权平均参考价（供阈值换算，无敞口时为 0）
func (pm *PositionManager) TotalAbsNotional() (total, avgPrice float64) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	totalQty := 0.0
	for _, p := range pm.positions {
		qty := math.Abs(p.NetExposure())
		if qty < qtyEpsilon {
			continue
		}
		total += math.Abs(p.NetNotional())
		totalQty += qty
	}
	if totalQty > 0 {
		avgPrice = total / totalQty
	}
	return total, avgPrice
}

// WorstContributor 返回价格加权净敞口绝对值最大的交易对（无持仓返回空串）
func (pm *PositionManager) WorstContributor() (string, float64) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var worst string
	var worstNet float64
	for _, p := range pm.positions {
		if n := p.NetNotional(); math.Abs(n) > math.Abs(worstNet) {
			worst = p.Symbol
			worstNet = n
		}
	}
	return worst, worstNet
}

// CanAdd 再加 addQty 后是否仍在单交易对持仓上限内
func (pm *PositionManager) CanAdd(symbol string, addQty, maxPosition float64) bool {
	p := pm.Get(symbol)
	return math.Abs(p.ParadexQty)+addQty <= maxPosition+qtyEpsilon
}

// BuildRebalanceOrders 构造把净敞口归零的 reduce-only 订单：
// 砍掉与净敞口同号且规模更大的那条腿的超出部分。
func (pm *PositionManager) BuildRebalanceOrders(symbol string) []*exchange.OrderRequest {
	p := pm.Get(symbol)
	net := p.NetExposure()
	if math.Abs(net) < qtyEpsilon {
		return nil
	}

	venue := exchange.VenueParadex
	legQty := p.ParadexQty
	if math.Abs(p.GrvtQty) > math.Abs(p.ParadexQty) && (p.GrvtQty > 0) == (net > 0) {
		venue = exchange.VenueGRVT
		legQty = p.GrvtQty
	} else if (p.ParadexQty > 0) != (net > 0) {
		// paradex 腿与净敞口异号，只能砍 grvt 腿
		venue = exchange.VenueGRVT
		legQty = p.GrvtQty
	}

	side := exchange.SideSell
	if legQty < 0 {
		side = exchange.SideBuy
	}

	return []*exchange.OrderRequest{{
		Venue:      venue,
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Qty:        math.Abs(net),
		ReduceOnly: true,
	}}
}
