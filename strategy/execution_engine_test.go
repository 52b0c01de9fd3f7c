package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"arbmesh/config"
	"arbmesh/exchange"
	"arbmesh/market"
	"arbmesh/risk"
)

// mockVenue 执行测试用交易所桩：默认即时全部成交
type mockVenue struct {
	venue exchange.Venue

	mu             sync.Mutex
	orders         []*exchange.OrderRequest
	rejectPostOnly bool  // post-only 单拒绝（模拟穿价）
	failAll        error // 所有下单返回该错误

	restPostOnly   bool // post-only 单驻留簿上（回执 acked，不立即成交）
	fillAfterPolls int  // 驻留单在第 N 次查询时报告成交
	fillOnCancel   bool // 撤单后查询报告已成交（撤单与成交竞态）
	polls          int
	canceledIDs    []string
	restingReq     *exchange.OrderRequest
	restingID      string
}

func (m *mockVenue) Name() exchange.Venue                                 { return m.venue }
func (m *mockVenue) Connect(ctx context.Context, symbols []string) error  { return nil }
func (m *mockVenue) Disconnect() error                                    { return nil }
func (m *mockVenue) HealthCheck(ctx context.Context) error                { return nil }
func (m *mockVenue) SubscribeQuotes() <-chan *exchange.Quote              { return make(chan *exchange.Quote) }
func (m *mockVenue) GetQuote(ctx context.Context, symbol string) (*exchange.Quote, error) {
	return nil, exchange.ErrQuoteUnavailable
}
func (m *mockVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	return nil, exchange.ErrQuoteUnavailable
}
func (m *mockVenue) GetMaxLeverage(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}
func (m *mockVenue) GetFeeRates(ctx context.Context, symbol string) (exchange.FeeRates, error) {
	return exchange.FeeRates{}, nil
}
func (m *mockVenue) GetMarkets(ctx context.Context) ([]exchange.MarketInfo, error) { return nil, nil }
func (m *mockVenue) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return nil, fmt.Errorf("no candles")
}
func (m *mockVenue) GetBalance(ctx context.Context) ([]exchange.Balance, error)    { return nil, nil }
func (m *mockVenue) GetPositions(ctx context.Context) ([]exchange.Position, error) { return nil, nil }

func (m *mockVenue) SubmitOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll != nil {
		return nil, m.failAll
	}
	if req.PostOnly && m.rejectPostOnly {
		return nil, fmt.Errorf("%w: post-only 穿价", exchange.ErrOrderRejected)
	}
	if req.PostOnly && m.restPostOnly {
		m.restingReq = req
		m.restingID = fmt.Sprintf("%s-rest-1", m.venue)
		return &exchange.OrderAck{
			OrderID:       m.restingID,
			ClientOrderID: req.ClientOrderID,
			Status:        exchange.OrderStatusAcked,
		}, nil
	}

	m.orders = append(m.orders, req)
	price := req.Price
	if price == 0 {
		price = 100
	}
	return &exchange.OrderAck{
		OrderID:       fmt.Sprintf("%s-%d", m.venue, len(m.orders)),
		ClientOrderID: req.ClientOrderID,
		Status:        exchange.OrderStatusFilled,
		FilledQty:     req.Qty,
		AvgPrice:      price,
	}, nil
}

func (m *mockVenue) QueryOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restingReq == nil || orderID != m.restingID {
		return nil, exchange.ErrOrderNotFound
	}
	m.polls++

	for _, id := range m.canceledIDs {
		if id != orderID {
			continue
		}
		state := &exchange.OrderState{OrderID: orderID, Status: exchange.OrderStatusCanceled}
		if m.fillOnCancel {
			state.Status = exchange.OrderStatusFilled
			state.FilledQty = m.restingReq.Qty
			state.AvgPrice = m.restingReq.Price
		}
		return state, nil
	}
	if m.fillAfterPolls > 0 && m.polls >= m.fillAfterPolls {
		return &exchange.OrderState{
			OrderID:   orderID,
			Status:    exchange.OrderStatusFilled,
			FilledQty: m.restingReq.Qty,
			AvgPrice:  m.restingReq.Price,
		}, nil
	}
	return &exchange.OrderState{OrderID: orderID, Status: exchange.OrderStatusAcked}, nil
}

func (m *mockVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceledIDs = append(m.canceledIDs, orderID)
	return nil
}

func (m *mockVenue) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockVenue) canceledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.canceledIDs)
}

func (m *mockVenue) orderAt(i int) *exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[i]
}

func execTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trading.Symbols = []config.SymbolConfig{{Symbol: "BTC-USD-PERP"}}
	cfg.Trading.BaseOrderQty = 0.001
	cfg.Trading.MaxBatchQty = 0.005
	cfg.Trading.MaxPosition = 0.1
	cfg.Trading.SimulateMarketData = true // 绕过实盘闸门
	return cfg
}

func newTestEngine(cfg *config.Config, p, g *mockVenue) (*ExecutionEngine, *PositionManager) {
	positions := NewPositionManager()
	perf := NewPerformanceTracker()
	return NewExecutionEngine(cfg, p, g, positions, perf, risk.NewRateLimiter(), nil, nil), positions
}

func grvtTestQuote() *exchange.Quote {
	return &exchange.Quote{
		Venue: exchange.VenueGRVT, Symbol: "BTC-USD-PERP",
		Bid: 99.90, Ask: 100.10, Source: exchange.SourceWs,
	}
}

func openSignal(tranches int, weights []float64) *SpreadSignal {
	return &SpreadSignal{
		Symbol:    "BTC-USD-PERP",
		Action:    ActionOpen,
		Direction: market.DirectionShortParadexLongGrvt,
		Zscore:    4.0,
		Tranches:  tranches,
		Weights:   weights,
		Reason:    "z_entry_triggered",
	}
}

func TestOpenSequenceTwoTranches(t *testing.T) {
	// 2 批开仓：每批先 paradex 市价吃单，再 grvt post-only 对冲
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}
	ee, positions := newTestEngine(cfg, p, g)

	ee.ExecuteSignal(context.Background(), openSignal(2, []float64{1.0, 0.7}), grvtTestQuote())

	if p.orderCount() != 2 || g.orderCount() != 2 {
		t.Fatalf("订单数 paradex=%d grvt=%d, 期望 2/2", p.orderCount(), g.orderCount())
	}

	// 第一腿：卖出 paradex 市价单
	leg1 := p.orderAt(0)
	if leg1.Side != exchange.SideSell || leg1.Type != exchange.OrderTypeMarket {
		t.Fatalf("taker 腿 = %s %s, 期望 sell market", leg1.Side, leg1.Type)
	}
	if !almostEqualF(leg1.Qty, 0.001, 1e-12) {
		t.Fatalf("首批数量 = %v, 期望 0.001", leg1.Qty)
	}

	// 第二腿：买入 grvt post-only 限价单，挂在被动价 bid
	leg2 := g.orderAt(0)
	if leg2.Side != exchange.SideBuy || !leg2.PostOnly || leg2.Type != exchange.OrderTypeLimit {
		t.Fatalf("对冲腿应为 buy post-only limit")
	}
	if !almostEqualF(leg2.Price, 99.90, 1e-12) {
		t.Fatalf("对冲挂单价 = %v, 期望 bid 99.90", leg2.Price)
	}

	// 第二批按权重 0.7 缩量
	if !almostEqualF(p.orderAt(1).Qty, 0.0007, 1e-12) {
		t.Fatalf("第二批数量 = %v, 期望 0.0007", p.orderAt(1).Qty)
	}

	// 完全对冲
	pos := positions.Get("BTC-USD-PERP")
	if !almostEqualF(pos.ParadexQty, -0.0017, 1e-12) || !almostEqualF(pos.GrvtQty, 0.0017, 1e-12) {
		t.Fatalf("持仓 = %v/%v, 期望 -0.0017/+0.0017", pos.ParadexQty, pos.GrvtQty)
	}

	status := ee.StatusOf("BTC-USD-PERP")
	if status.State != ExecOpen || status.TrancheDone != 2 {
		t.Fatalf("状态 = %s %d/%d, 期望 open 2/2", status.State, status.TrancheDone, status.TrancheTotal)
	}
}

func TestHedgePostOnlyFallbackToMarket(t *testing.T) {
	// post-only 被拒时降级市价补齐对冲
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT, rejectPostOnly: true}
	ee, positions := newTestEngine(cfg, p, g)

	ee.ExecuteSignal(context.Background(), openSignal(1, []float64{1.0}), grvtTestQuote())

	if g.orderCount() != 1 {
		t.Fatalf("grvt 成交订单数 = %d, 期望 1（市价降级）", g.orderCount())
	}
	if g.orderAt(0).Type != exchange.OrderTypeMarket {
		t.Fatalf("降级后应为市价单")
	}

	pos := positions.Get("BTC-USD-PERP")
	if !almostEqualF(pos.NetExposure(), 0, 1e-12) {
		t.Fatalf("降级对冲后净敞口应为 0，得到 %v", pos.NetExposure())
	}
}

func TestHedgeFailureCutsTakerLeg(t *testing.T) {
	// 对冲腿彻底失败：必须回砍 taker 腿，不留裸腿
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT, failAll: exchange.ErrOrderRejected}
	ee, positions := newTestEngine(cfg, p, g)

	ee.ExecuteSignal(context.Background(), openSignal(1, []float64{1.0}), grvtTestQuote())

	// paradex：开仓卖单 + 回砍买单
	if p.orderCount() != 2 {
		t.Fatalf("paradex 订单数 = %d, 期望 2（开+砍）", p.orderCount())
	}
	cut := p.orderAt(1)
	if cut.Side != exchange.SideBuy || !cut.ReduceOnly {
		t.Fatalf("回砍单应为 buy reduce-only")
	}

	pos := positions.Get("BTC-USD-PERP")
	if !pos.IsFlat() {
		t.Fatalf("回砍后应为空仓，得到 %v/%v", pos.ParadexQty, pos.GrvtQty)
	}

	if status := ee.StatusOf("BTC-USD-PERP"); status.State != ExecError {
		t.Fatalf("对冲失败后状态 = %s, 期望 error", status.State)
	}
}

func TestRestingHedgeCanceledBeforeFallback(t *testing.T) {
	// 驻留不成交的 post-only 对冲：超时必须先撤单，确认不在簿上后才市价补齐
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT, restPostOnly: true}
	ee, positions := newTestEngine(cfg, p, g)
	ee.hedgeWait = 50 * time.Millisecond
	ee.hedgePoll = 10 * time.Millisecond

	ee.ExecuteSignal(context.Background(), openSignal(1, []float64{1.0}), grvtTestQuote())

	if g.canceledCount() != 1 {
		t.Fatalf("驻留挂单应被撤销，撤单数 = %d", g.canceledCount())
	}
	if g.orderCount() != 1 || g.orderAt(0).Type != exchange.OrderTypeMarket {
		t.Fatalf("撤单后应市价补齐对冲")
	}
	if !almostEqualF(g.orderAt(0).Qty, 0.001, 1e-12) {
		t.Fatalf("市价补齐量 = %v, 期望 0.001", g.orderAt(0).Qty)
	}

	pos := positions.Get("BTC-USD-PERP")
	if !almostEqualF(pos.NetExposure(), 0, 1e-12) {
		t.Fatalf("补齐后净敞口应为 0，得到 %v", pos.NetExposure())
	}
	if status := ee.StatusOf("BTC-USD-PERP"); status.State != ExecOpen {
		t.Fatalf("状态 = %s, 期望 open", status.State)
	}
}

func TestRestingHedgeFillReportedAfterCancel(t *testing.T) {
	// 撤单请求与成交竞态：撤后终态查询报告已成交 → 入账，不再降级市价
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT, restPostOnly: true, fillOnCancel: true}
	ee, positions := newTestEngine(cfg, p, g)
	ee.hedgeWait = 50 * time.Millisecond
	ee.hedgePoll = 10 * time.Millisecond

	ee.ExecuteSignal(context.Background(), openSignal(1, []float64{1.0}), grvtTestQuote())

	if g.orderCount() != 0 {
		t.Fatalf("挂单已成交，不应再有市价单，得到 %d 笔", g.orderCount())
	}
	pos := positions.Get("BTC-USD-PERP")
	if !almostEqualF(pos.GrvtQty, 0.001, 1e-12) || !almostEqualF(pos.NetExposure(), 0, 1e-12) {
		t.Fatalf("竞态成交应入账并保持对冲，得到 %v/%v", pos.ParadexQty, pos.GrvtQty)
	}
}

func TestRestingHedgeFillsWhilePolling(t *testing.T) {
	// 轮询期间挂单成交 → 不撤单、不降级
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT, restPostOnly: true, fillAfterPolls: 2}
	ee, positions := newTestEngine(cfg, p, g)
	ee.hedgeWait = time.Second
	ee.hedgePoll = 10 * time.Millisecond

	ee.ExecuteSignal(context.Background(), openSignal(1, []float64{1.0}), grvtTestQuote())

	if g.canceledCount() != 0 {
		t.Fatalf("轮询期间已成交，不应撤单")
	}
	if g.orderCount() != 0 {
		t.Fatalf("挂单成交后不应有市价单")
	}
	pos := positions.Get("BTC-USD-PERP")
	if !almostEqualF(pos.NetExposure(), 0, 1e-12) {
		t.Fatalf("对冲后净敞口应为 0，得到 %v", pos.NetExposure())
	}
}

func TestMaxBatchQtyCapsSequence(t *testing.T) {
	// base=0.002，权重 1.0/0.7/0.5 → 理论 0.0044，batch 上限 0.004 截断末批
	cfg := execTestConfig()
	cfg.Trading.BaseOrderQty = 0.002
	cfg.Trading.MaxBatchQty = 0.004
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}
	ee, _ := newTestEngine(cfg, p, g)

	ee.ExecuteSignal(context.Background(), openSignal(3, []float64{1.0, 0.7, 0.5}), grvtTestQuote())

	total := 0.0
	for i := 0; i < p.orderCount(); i++ {
		total += p.orderAt(i).Qty
	}
	if !almostEqualF(total, 0.004, 1e-12) {
		t.Fatalf("总开仓量 = %v, 期望截断到 0.004", total)
	}
}

func TestCloseSequenceUnwindsInTranches(t *testing.T) {
	// 持仓 0.002、基准单量 0.001 → 分 2 批平出，每批两腿各 0.001
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}
	ee, positions := newTestEngine(cfg, p, g)

	positions.ApplyFill(exchange.VenueParadex, "BTC-USD-PERP", exchange.SideSell, 0.002, 100.1)
	positions.ApplyFill(exchange.VenueGRVT, "BTC-USD-PERP", exchange.SideBuy, 0.002, 100.0)

	ee.ExecuteSignal(context.Background(), &SpreadSignal{
		Symbol: "BTC-USD-PERP", Action: ActionClose, Reason: "z_reverted",
	}, grvtTestQuote())

	if !positions.Get("BTC-USD-PERP").IsFlat() {
		t.Fatalf("平仓后应为空仓")
	}
	if p.orderCount() != 2 || g.orderCount() != 2 {
		t.Fatalf("订单数 = %d/%d, 期望每腿分 2 批", p.orderCount(), g.orderCount())
	}
	for i := 0; i < 2; i++ {
		pOrd, gOrd := p.orderAt(i), g.orderAt(i)
		if !pOrd.ReduceOnly || pOrd.Side != exchange.SideBuy || !almostEqualF(pOrd.Qty, 0.001, 1e-12) {
			t.Fatalf("paradex 第 %d 批应为 buy reduce-only 0.001，得到 %+v", i+1, pOrd)
		}
		if !gOrd.ReduceOnly || gOrd.Side != exchange.SideSell || !almostEqualF(gOrd.Qty, 0.001, 1e-12) {
			t.Fatalf("grvt 第 %d 批应为 sell reduce-only 0.001，得到 %+v", i+1, gOrd)
		}
	}

	status := ee.StatusOf("BTC-USD-PERP")
	if status.State != ExecIdle || status.TrancheDone != 2 || status.TrancheTotal != 2 {
		t.Fatalf("状态 = %s %d/%d, 期望 idle 2/2", status.State, status.TrancheDone, status.TrancheTotal)
	}
}

func TestCloseSequenceSingleTrancheWhenSmall(t *testing.T) {
	// 持仓不足一个基准单量 → 1 批平完
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}
	ee, positions := newTestEngine(cfg, p, g)

	positions.ApplyFill(exchange.VenueParadex, "BTC-USD-PERP", exchange.SideSell, 0.0004, 100.1)
	positions.ApplyFill(exchange.VenueGRVT, "BTC-USD-PERP", exchange.SideBuy, 0.0004, 100.0)

	ee.ExecuteSignal(context.Background(), &SpreadSignal{
		Symbol: "BTC-USD-PERP", Action: ActionClose, Reason: "z_reverted",
	}, grvtTestQuote())

	if !positions.Get("BTC-USD-PERP").IsFlat() {
		t.Fatalf("平仓后应为空仓")
	}
	if p.orderCount() != 1 || g.orderCount() != 1 {
		t.Fatalf("订单数 = %d/%d, 期望 1/1", p.orderCount(), g.orderCount())
	}
	if !almostEqualF(p.orderAt(0).Qty, 0.0004, 1e-12) {
		t.Fatalf("平仓量 = %v, 期望 0.0004", p.orderAt(0).Qty)
	}
}

func TestFlattenSymbol(t *testing.T) {
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}
	ee, positions := newTestEngine(cfg, p, g)

	positions.ApplyFill(exchange.VenueParadex, "BTC-USD-PERP", exchange.SideBuy, 0.003, 100)

	if err := ee.FlattenSymbol(context.Background(), "BTC-USD-PERP", "测试强平"); err != nil {
		t.Fatalf("强平失败: %v", err)
	}
	if !positions.Get("BTC-USD-PERP").IsFlat() {
		t.Fatalf("强平后应为空仓")
	}
}

func TestLiveOrderGateBlocksWhenDisabled(t *testing.T) {
	// 非模拟模式 + 实盘开关关闭 → 拒绝下单
	cfg := execTestConfig()
	cfg.Trading.SimulateMarketData = false
	cfg.Trading.LiveOrderEnabled = false
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}
	ee, _ := newTestEngine(cfg, p, g)

	ee.ExecuteSignal(context.Background(), openSignal(1, []float64{1.0}), grvtTestQuote())

	if p.orderCount() != 0 || g.orderCount() != 0 {
		t.Fatalf("实盘开关关闭时不应有任何订单")
	}
	if status := ee.StatusOf("BTC-USD-PERP"); status.State != ExecError {
		t.Fatalf("状态 = %s, 期望 error", status.State)
	}
}

func TestOrderRateLimitRejectsImmediately(t *testing.T) {
	// 下单桶容量 1：第一批成功，第二批被限流中断
	cfg := execTestConfig()
	p := &mockVenue{venue: exchange.VenueParadex}
	g := &mockVenue{venue: exchange.VenueGRVT}

	positions := NewPositionManager()
	limiter := risk.NewRateLimiter()
	limiter.Configure(exchange.VenueParadex, risk.ScopeOrder, 0.001, 1)
	ee := NewExecutionEngine(cfg, p, g, positions, NewPerformanceTracker(), limiter, nil, nil)

	ee.ExecuteSignal(context.Background(), openSignal(2, []float64{1.0, 0.7}), grvtTestQuote())

	// paradex 只有第一批成交，第二批 taker 腿被限流拒绝
	if p.orderCount() != 1 {
		t.Fatalf("paradex 订单数 = %d, 期望 1", p.orderCount())
	}
	if status := ee.StatusOf("BTC-USD-PERP"); status.State != ExecError {
		t.Fatalf("限流中断后状态 = %s, 期望 error", status.State)
	}
}
