package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"arbmesh/exchange"
	"arbmesh/logger"
	"arbmesh/utils"
)

// Options 模拟交易所参数
type Options struct {
	Venue          exchange.Venue
	BasePrice      map[string]float64 // 初始中间价，未配置的交易对使用 DefaultPrice
	DefaultPrice   float64
	MaxLeverage    float64
	Fees           exchange.FeeRates
	VolatilityBps  float64 // 每步随机波动幅度（基点）
	SpreadBps      float64 // 半价差（基点）
	PushIntervalMs int     // WS 推送间隔
	Seed           int64
}

// SimExchange 模拟交易所：随机游走行情 + 即时成交。
// 用于 simulate_market_data 模式和测试，开启时禁止实盘下单。
type SimExchange struct {
	opts Options

	mu        sync.RWMutex
	mids      map[string]float64
	positions map[string]*exchange.Position
	orders    map[string]*exchange.OrderState
	symbols   []string

	rnd   *rand.Rand
	rndMu sync.Mutex

	quoteCh chan *exchange.Quote
	cancel  context.CancelFunc
	running bool
	seq     int64
}

// New 创建模拟交易所
func New(opts Options) *SimExchange {
	if opts.DefaultPrice <= 0 {
		opts.DefaultPrice = 100.0
	}
	if opts.VolatilityBps <= 0 {
		opts.VolatilityBps = 2.0
	}
	if opts.SpreadBps <= 0 {
		opts.SpreadBps = 0.5
	}
	if opts.PushIntervalMs <= 0 {
		opts.PushIntervalMs = 200
	}
	if opts.MaxLeverage <= 0 {
		opts.MaxLeverage = 100
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	return &SimExchange{
		opts:      opts,
		mids:      make(map[string]float64),
		positions: make(map[string]*exchange.Position),
		orders:    make(map[string]*exchange.OrderState),
		rnd:       rand.New(rand.NewSource(opts.Seed)),
		quoteCh:   make(chan *exchange.Quote, 1024),
	}
}

// Name 返回交易所标识
func (s *SimExchange) Name() exchange.Venue {
	return s.opts.Venue
}

// Connect 启动行情推送协程
func (s *SimExchange) Connect(ctx context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("模拟交易所已在运行: %s", s.opts.Venue)
	}

	s.symbols = append([]string(nil), symbols...)
	for _, sym := range symbols {
		if _, ok := s.mids[sym]; !ok {
			if p, ok := s.opts.BasePrice[sym]; ok && p > 0 {
				s.mids[sym] = p
			} else {
				s.mids[sym] = s.opts.DefaultPrice
			}
		}
	}

	pushCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	go s.pushLoop(pushCtx)

	logger.Info("🎮 模拟交易所已启动: %s (%d 个交易对)", s.opts.Venue, len(symbols))
	return nil
}

// Disconnect 停止行情推送
func (s *SimExchange) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.cancel()
	s.running = false
	return nil
}

// HealthCheck 模拟探活，总是成功
func (s *SimExchange) HealthCheck(ctx context.Context) error {
	return nil
}

// SubscribeQuotes 返回 WS 推送通道
func (s *SimExchange) SubscribeQuotes() <-chan *exchange.Quote {
	return s.quoteCh
}

// pushLoop 按固定间隔推送随机游走行情
func (s *SimExchange) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.opts.PushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			symbols := s.symbols
			s.mu.RUnlock()

			for _, sym := range symbols {
				q := s.step(sym, exchange.SourceWs)
				select {
				case s.quoteCh <- q:
				default:
					// 通道满时丢弃，消费方只关心最新报价
				}
			}
		}
	}
}

// step 推进一步随机游走并生成报价
func (s *SimExchange) step(symbol string, source exchange.QuoteSource) *exchange.Quote {
	s.rndMu.Lock()
	drift := (s.rnd.Float64()*2 - 1) * s.opts.VolatilityBps / 10000
	s.rndMu.Unlock()

	s.mu.Lock()
	mid := s.mids[symbol]
	if mid <= 0 {
		mid = s.opts.DefaultPrice
	}
	mid *= 1 + drift
	s.mids[symbol] = mid
	s.mu.Unlock()

	half := mid * s.opts.SpreadBps / 10000
	return &exchange.Quote{
		Venue:     s.opts.Venue,
		Symbol:    symbol,
		Bid:       mid - half,
		Ask:       mid + half,
		Timestamp: utils.NowUTC(),
		Source:    source,
	}
}

// GetQuote 返回当前报价（REST 来源）
func (s *SimExchange) GetQuote(ctx context.Context, symbol string) (*exchange.Quote, error) {
	return s.step(symbol, exchange.SourceRest), nil
}

// GetOrderBook 合成一个 5 档订单簿
func (s *SimExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	if depth <= 0 {
		depth = 5
	}
	q := s.step(symbol, exchange.SourceRest)

	ob := &exchange.OrderBook{
		Venue:     s.opts.Venue,
		Symbol:    symbol,
		Timestamp: q.Timestamp,
	}
	tick := q.Mid() * 0.0001
	for i := 0; i < depth; i++ {
		ob.Bids = append(ob.Bids, exchange.OrderBookLevel{Price: q.Bid - float64(i)*tick, Qty: 10})
		ob.Asks = append(ob.Asks, exchange.OrderBookLevel{Price: q.Ask + float64(i)*tick, Qty: 10})
	}
	return ob, nil
}

// GetMaxLeverage 返回配置的最大杠杆
func (s *SimExchange) GetMaxLeverage(ctx context.Context, symbol string) (float64, error) {
	if s.opts.MaxLeverage <= 0 {
		return 0, exchange.ErrLeverageUnavailable
	}
	return s.opts.MaxLeverage, nil
}

// GetFeeRates 返回配置的费率
func (s *SimExchange) GetFeeRates(ctx context.Context, symbol string) (exchange.FeeRates, error) {
	return s.opts.Fees, nil
}

// GetMarkets 返回已知交易对的元数据
func (s *SimExchange) GetMarkets(ctx context.Context) ([]exchange.MarketInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]exchange.MarketInfo, 0, len(s.symbols))
	for _, sym := range s.symbols {
		markets = append(markets, exchange.MarketInfo{
			Symbol:   sym,
			Quote:    "USD",
			TickSize: 0.01,
			StepSize: 0.0001,
			MinQty:   0.0001,
		})
	}
	return markets, nil
}

// GetCandles 生成对齐到分钟的 K线序列
func (s *SimExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	mid := s.mids[symbol]
	s.mu.RUnlock()
	if mid <= 0 {
		mid = s.opts.DefaultPrice
	}

	end := utils.NowUTC().Truncate(time.Minute)
	candles := make([]exchange.Candle, limit)
	price := mid
	for i := limit - 1; i >= 0; i-- {
		s.rndMu.Lock()
		drift := (s.rnd.Float64()*2 - 1) * s.opts.VolatilityBps / 10000
		s.rndMu.Unlock()

		open := price / (1 + drift)
		candles[i] = exchange.Candle{
			OpenTime: end.Add(-time.Duration(limit-i) * time.Minute),
			Open:     open,
			High:     maxf(open, price),
			Low:      minf(open, price),
			Close:    price,
		}
		price = open
	}
	return candles, nil
}

// GetBalance 返回固定的模拟余额
func (s *SimExchange) GetBalance(ctx context.Context) ([]exchange.Balance, error) {
	return []exchange.Balance{{Asset: "USDC", Total: 100000, Available: 100000}}, nil
}

// GetPositions 返回当前模拟持仓
func (s *SimExchange) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]exchange.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Qty != 0 {
			pos := *p
			pos.MarkPrice = s.mids[p.Symbol]
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

// SubmitOrder 即时成交：市价/吃单按对手价，post_only 按委托价
func (s *SimExchange) SubmitOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderAck, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: 数量非法 %.8f", exchange.ErrOrderRejected, req.Qty)
	}

	q := s.step(req.Symbol, exchange.SourceRest)

	var fillPrice float64
	switch {
	case req.Type == exchange.OrderTypeLimit && req.PostOnly:
		if req.Price <= 0 {
			return nil, fmt.Errorf("%w: post_only 缺少价格", exchange.ErrOrderRejected)
		}
		fillPrice = req.Price
	case req.Side == exchange.SideBuy:
		fillPrice = q.Ask
	default:
		fillPrice = q.Bid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	orderID := fmt.Sprintf("sim-%s-%d", s.opts.Venue, s.seq)

	signed := req.Qty
	if req.Side == exchange.SideSell {
		signed = -req.Qty
	}

	pos, ok := s.positions[req.Symbol]
	if !ok {
		pos = &exchange.Position{Venue: s.opts.Venue, Symbol: req.Symbol}
		s.positions[req.Symbol] = pos
	}
	if pos.Qty == 0 || (pos.Qty > 0) == (signed > 0) {
		// 同向加仓：按数量加权均价
		total := pos.Qty + signed
		if total != 0 {
			pos.EntryPrice = (pos.EntryPrice*absf(pos.Qty) + fillPrice*req.Qty) / absf(total)
		}
		pos.Qty = total
	} else {
		pos.Qty += signed
		if pos.Qty == 0 {
			pos.EntryPrice = 0
		}
	}

	now := utils.NowUTC()
	s.orders[orderID] = &exchange.OrderState{
		OrderID:   orderID,
		Status:    exchange.OrderStatusFilled,
		FilledQty: req.Qty,
		AvgPrice:  fillPrice,
		UpdatedAt: now,
	}

	return &exchange.OrderAck{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Status:        exchange.OrderStatusFilled,
		FilledQty:     req.Qty,
		AvgPrice:      fillPrice,
		CreatedAt:     now,
	}, nil
}

// QueryOrder 查询订单
func (s *SimExchange) QueryOrder(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.orders[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *st
	return &cp, nil
}

// CancelOrder 撤单（模拟交易所订单即时成交，终态订单不可撤）
func (s *SimExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	if st.Status.Terminal() {
		return fmt.Errorf("订单已到终态，无法撤销: %s", orderID)
	}
	st.Status = exchange.OrderStatusCanceled
	st.UpdatedAt = utils.NowUTC()
	return nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
