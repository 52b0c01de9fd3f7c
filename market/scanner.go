package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbmesh/config"
	"arbmesh/exchange"
	"arbmesh/logger"
	"arbmesh/risk"
	"arbmesh/storage"
	"arbmesh/utils"
)

// Direction 套利方向
type Direction string

const (
	// DirectionShortParadexLongGrvt 卖出 Paradex，买入 GRVT
	DirectionShortParadexLongGrvt Direction = "short_paradex_long_grvt"
	// DirectionLongParadexShortGrvt 买入 Paradex，卖出 GRVT
	DirectionLongParadexShortGrvt Direction = "long_paradex_short_grvt"
)

// 候选过滤原因
const (
	SkipQuoteUnavailable      = "quote_unavailable" // 任一腿取不到报价
	SkipStaleQuote            = "stale_quote"       // 任一腿报价超过新鲜度阈值
	SkipNotComparable         = "not_comparable"    // BBO 非法，两所不可比
	SkipLeverageUnavailable   = "leverage_unavailable"
	SkipLeverageBelowFloor    = "leverage_below_floor"
	SkipEdgeNotPositive       = "edge_not_positive"
	SkipNetSpreadNotPositive  = "net_spread_not_positive"
	SkipInsufficientSamples   = "insufficient_samples"
	SkipZeroStd               = "zero_std"
)

// ScanResult 单交易对扫描结果
type ScanResult struct {
	Symbol       string          `json:"symbol"`
	ParadexQuote *exchange.Quote `json:"paradex_quote"`
	GrvtQuote    *exchange.Quote `json:"grvt_quote"`
	RefMid       float64         `json:"ref_mid"`
	EdgeBps      float64         `json:"edge_bps"` // 带符号可成交价差
	Direction    Direction       `json:"direction"`
	EffLeverage  float64         `json:"eff_leverage"`
	GrossBps     float64         `json:"gross_bps"`
	FeeBps       float64         `json:"fee_bps"`
	NetBps       float64         `json:"net_bps"`
	Zscore       float64         `json:"zscore"`
	Ready        bool            `json:"ready"`
	SpeedBpm     float64         `json:"speed_bpm"` // 基点/分钟
	Volatility   float64         `json:"volatility"`
	SkipReason   string          `json:"skip_reason,omitempty"`
	Tradable     bool            `json:"tradable"`
	ScannedAt    time.Time       `json:"scanned_at"`
}

// WarmupStatus 预热进度
type WarmupStatus struct {
	Done           bool              `json:"done"`
	SymbolsReady   []string          `json:"symbols_ready"`
	SymbolsPending []string          `json:"symbols_pending"`
	SampleCounts   map[string]int    `json:"sample_counts"`
	MinSamples     int               `json:"min_samples"`
}

const (
	leverageCacheTTL = time.Minute
	metricsWindow    = 10 * time.Minute // 速度/波动率时间窗
)

// MarketScanner 跨所扫描器：比较两所 BBO，计算可成交价差、
// 名义价差与统计指标，维护预热进度并给出排序候选。
type MarketScanner struct {
	cfg     *config.Config
	paradex exchange.IExchange
	grvt    exchange.IExchange
	books   *OrderBookManager
	limiter *risk.RateLimiter
	svc     *storage.StorageService
	store   storage.Storage

	mu        sync.RWMutex
	histories map[string]*SpreadHistory

	levMu     sync.Mutex
	leverages map[string]float64
	levAt     map[string]time.Time

	feeMu sync.Mutex
	fees  map[exchange.Venue]*exchange.FeeRates
}

// NewMarketScanner 创建扫描器
func NewMarketScanner(
	cfg *config.Config,
	paradex, grvt exchange.IExchange,
	books *OrderBookManager,
	limiter *risk.RateLimiter,
	svc *storage.StorageService,
	store storage.Storage,
) *MarketScanner {
	return &MarketScanner{
		cfg:       cfg,
		paradex:   paradex,
		grvt:      grvt,
		books:     books,
		limiter:   limiter,
		svc:       svc,
		store:     store,
		histories: make(map[string]*SpreadHistory),
		leverages: make(map[string]float64),
		levAt:     make(map[string]time.Time),
		fees:      make(map[exchange.Venue]*exchange.FeeRates),
	}
}

// HistoryFor 获取（或创建）交易对的价差历史窗口
func (ms *MarketScanner) HistoryFor(symbol string) *SpreadHistory {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	h, ok := ms.histories[symbol]
	if !ok {
		t := &ms.cfg.Trading
		h = NewSpreadHistory(symbol, t.MAWindow, t.StdWindow, t.MinSamples)
		ms.histories[symbol] = h
	}
	return h
}

// Backfill 重启后恢复统计窗口：优先加载持久化历史，
// 不足时用两所对齐的 1m K线收盘价近似回填。
func (ms *MarketScanner) Backfill(ctx context.Context) {
	t := &ms.cfg.Trading

	for _, sc := range t.Symbols {
		symbol := sc.Symbol
		h := ms.HistoryFor(symbol)

		if ms.store != nil {
			records, err := ms.store.LoadSpreadHistory(ctx, symbol, t.StdWindow*2)
			if err != nil {
				logger.Warn("⚠️ [回填] 加载 %s 历史失败: %v", symbol, err)
			} else if len(records) > 0 {
				samples := make([]HistSample, 0, len(records))
				for _, r := range records {
					samples = append(samples, HistSample{
						Ts:      time.UnixMilli(r.Ts).UTC(),
						EdgeBps: r.EdgeBps,
						NetBps:  r.NetBps,
					})
				}
				h.Seed(samples)
				logger.Info("📊 [回填] %s 从存储恢复 %d 条价差样本", symbol, len(samples))
			}
		}

		if h.Count() >= t.MinSamples {
			continue
		}

		ms.backfillFromCandles(ctx, symbol, h)
	}
}

// backfillFromCandles 用两所 1m K线按开盘时间对齐，收盘价近似中间价
func (ms *MarketScanner) backfillFromCandles(ctx context.Context, symbol string, h *SpreadHistory) {
	limit := ms.cfg.Trading.StdWindow

	pCandles, err := ms.paradex.GetCandles(ctx, symbol, "1m", limit)
	if err != nil {
		logger.Warn("⚠️ [回填] 获取 paradex %s K线失败: %v", symbol, err)
		return
	}
	gCandles, err := ms.grvt.GetCandles(ctx, symbol, "1m", limit)
	if err != nil {
		logger.Warn("⚠️ [回填] 获取 grvt %s K线失败: %v", symbol, err)
		return
	}

	gByTime := make(map[int64]exchange.Candle, len(gCandles))
	for _, c := range gCandles {
		gByTime[c.OpenTime.UnixMilli()] = c
	}

	samples := make([]HistSample, 0, len(pCandles))
	for _, pc := range pCandles {
		gc, ok := gByTime[pc.OpenTime.UnixMilli()]
		if !ok || pc.Close <= 0 || gc.Close <= 0 {
			continue
		}
		refMid := (pc.Close + gc.Close) / 2
		edgeBps := (pc.Close - gc.Close) / refMid * 10000
		samples = append(samples, HistSample{Ts: pc.OpenTime, EdgeBps: edgeBps, NetBps: edgeBps})
	}

	if len(samples) == 0 {
		logger.Warn("⚠️ [回填] %s 两所K线无对齐样本", symbol)
		return
	}

	existing := h.Count()
	h.Seed(samples)
	logger.Info("📊 [回填] %s 用K线补齐 %d 条样本 (原有 %d)", symbol, len(samples), existing)
}

// fetchQuote 获取单所生效报价：WS 缓存新鲜直接用，否则走 REST（限流保护）
func (ms *MarketScanner) fetchQuote(ctx context.Context, ex exchange.IExchange, symbol string, now time.Time) *exchange.Quote {
	venue := ex.Name()

	q := ms.books.Effective(venue, symbol, now)
	if q != nil && q.AgeMs(now) <= int64(ms.cfg.Risk.StaleMs) {
		return q
	}

	if !ms.limiter.Allow(venue, risk.ScopeMarketData) {
		// 限流时退回缓存中的旧报价，由扫描与风控按新鲜度判定
		return q
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	fresh, err := ex.GetQuote(fetchCtx, symbol)
	if err != nil {
		logger.Debug("REST 报价获取失败 %s %s: %v", venue, symbol, err)
		return q
	}
	ms.books.UpdateRest(fresh)
	return fresh
}

// Scan 扫描单交易对，并把样本写入统计窗口与存储。
// 返回结果总是非 nil，不可交易时带 SkipReason。
func (ms *MarketScanner) Scan(ctx context.Context, symbol string, now time.Time) *ScanResult {
	result := &ScanResult{Symbol: symbol, ScannedAt: now}

	// 两腿并发取数
	var pq, gq *exchange.Quote
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pq = ms.fetchQuote(ctx, ms.paradex, symbol, now)
	}()
	go func() {
		defer wg.Done()
		gq = ms.fetchQuote(ctx, ms.grvt, symbol, now)
	}()
	wg.Wait()

	result.ParadexQuote = pq
	result.GrvtQuote = gq

	if pq == nil || gq == nil {
		result.SkipReason = SkipQuoteUnavailable
		return result
	}
	if !pq.Valid() || !gq.Valid() {
		result.SkipReason = SkipNotComparable
		return result
	}
	// 过期报价既不入窗也不参与信号，避免旧价差污染统计序列
	staleMs := int64(ms.cfg.Risk.StaleMs)
	if pq.AgeMs(now) > staleMs || gq.AgeMs(now) > staleMs {
		result.SkipReason = SkipStaleQuote
		return result
	}

	// 带符号可成交价差
	refMid := (pq.Mid() + gq.Mid()) / 2
	edgeShortParadex := pq.Bid - gq.Ask // 卖 paradex 买 grvt
	edgeLongParadex := gq.Bid - pq.Ask  // 买 paradex 卖 grvt

	var edge float64
	if edgeShortParadex >= edgeLongParadex {
		result.Direction = DirectionShortParadexLongGrvt
		edge = edgeShortParadex
		result.EdgeBps = edge / refMid * 10000
	} else {
		result.Direction = DirectionLongParadexShortGrvt
		edge = edgeLongParadex
		result.EdgeBps = -edge / refMid * 10000
	}
	result.RefMid = refMid

	// 新鲜样本入窗，时间戳取扫描时刻
	h := ms.HistoryFor(symbol)
	h.Add(HistSample{Ts: now, EdgeBps: result.EdgeBps})
	if ms.svc != nil {
		ms.svc.EnqueueSample(&storage.SpreadSampleRecord{
			Symbol:     symbol,
			Ts:         now.UnixMilli(),
			EdgeBps:    result.EdgeBps,
			ParadexMid: pq.Mid(),
			GrvtMid:    gq.Mid(),
			CreatedAt:  utils.NowUTC(),
		})
	}

	result.Zscore, result.Ready = h.Zscore(result.EdgeBps)
	result.SpeedBpm = h.Speed(metricsWindow)
	result.Volatility = h.Volatility(metricsWindow)

	// 杠杆过滤：只认鉴权接口返回值，失败直接跳过
	pLev, err := ms.leverageFor(ctx, ms.paradex, symbol, now)
	if err != nil {
		result.SkipReason = SkipLeverageUnavailable
		logger.Debug("杠杆获取失败 paradex %s: %v", symbol, err)
		return result
	}
	gLev, err := ms.leverageFor(ctx, ms.grvt, symbol, now)
	if err != nil {
		result.SkipReason = SkipLeverageUnavailable
		logger.Debug("杠杆获取失败 grvt %s: %v", symbol, err)
		return result
	}

	effLev := pLev
	if gLev < effLev {
		effLev = gLev
	}
	result.EffLeverage = effLev
	if effLev < ms.cfg.Trading.LeverageFloor {
		result.SkipReason = SkipLeverageBelowFloor
		return result
	}

	if edge <= 0 {
		result.SkipReason = SkipEdgeNotPositive
		return result
	}

	// 名义价差：毛 = |edge| × 有效杠杆，净 = 毛 − 双腿费率
	absEdgeBps := result.EdgeBps
	if absEdgeBps < 0 {
		absEdgeBps = -absEdgeBps
	}
	result.GrossBps = absEdgeBps * effLev
	result.FeeBps = ms.feeBps(ctx, effLev)
	result.NetBps = result.GrossBps - result.FeeBps
	if result.NetBps <= 0 {
		result.SkipReason = SkipNetSpreadNotPositive
		return result
	}

	if !result.Ready {
		if h.Count() < ms.cfg.Trading.MinSamples {
			result.SkipReason = SkipInsufficientSamples
		} else {
			result.SkipReason = SkipZeroStd
		}
		return result
	}

	result.Tradable = true
	return result
}

// leverageFor 带 TTL 缓存的杠杆查询，失败时做有限重试
func (ms *MarketScanner) leverageFor(ctx context.Context, ex exchange.IExchange, symbol string, now time.Time) (float64, error) {
	venue := ex.Name()
	k := fmt.Sprintf("%s:%s", venue, symbol)

	ms.levMu.Lock()
	if lev, ok := ms.leverages[k]; ok && now.Sub(ms.levAt[k]) < leverageCacheTTL {
		ms.levMu.Unlock()
		return lev, nil
	}
	ms.levMu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		levCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lev, err := ex.GetMaxLeverage(levCtx, symbol)
		cancel()

		if err == nil && lev > 0 {
			ms.levMu.Lock()
			ms.leverages[k] = lev
			ms.levAt[k] = now
			ms.levMu.Unlock()
			return lev, nil
		}
		if err == nil {
			lastErr = exchange.ErrLeverageUnavailable
		} else {
			lastErr = err
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	return 0, fmt.Errorf("%w: %v", exchange.ErrLeverageUnavailable, lastErr)
}

// feeBps 往返费率估算（基点）：paradex 吃单 + grvt 挂单，乘以有效杠杆
func (ms *MarketScanner) feeBps(ctx context.Context, effLev float64) float64 {
	pFees := ms.feesFor(ctx, ms.paradex)
	gFees := ms.feesFor(ctx, ms.grvt)
	return (pFees.Taker + gFees.Maker) * effLev * 10000
}

// feesFor 费率查询，失败时回退配置值并缓存成功结果
func (ms *MarketScanner) feesFor(ctx context.Context, ex exchange.IExchange) exchange.FeeRates {
	venue := ex.Name()

	ms.feeMu.Lock()
	if f, ok := ms.fees[venue]; ok {
		ms.feeMu.Unlock()
		return *f
	}
	ms.feeMu.Unlock()

	feeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	f, err := ex.GetFeeRates(feeCtx, "")
	if err != nil {
		exCfg := ms.cfg.Exchanges[string(venue)]
		return exchange.FeeRates{Maker: exCfg.MakerFeeRate, Taker: exCfg.TakerFeeRate}
	}

	ms.feeMu.Lock()
	ms.fees[venue] = &f
	ms.feeMu.Unlock()
	return f
}

// Warmup 返回全局预热进度：所有配置交易对都达到 min_samples 才算完成
func (ms *MarketScanner) Warmup() *WarmupStatus {
	t := &ms.cfg.Trading
	status := &WarmupStatus{
		Done:         true,
		SampleCounts: make(map[string]int),
		MinSamples:   t.MinSamples,
	}

	for _, sc := range t.Symbols {
		h := ms.HistoryFor(sc.Symbol)
		count := h.Count()
		status.SampleCounts[sc.Symbol] = count
		if count >= t.MinSamples {
			status.SymbolsReady = append(status.SymbolsReady, sc.Symbol)
		} else {
			status.Done = false
			status.SymbolsPending = append(status.SymbolsPending, sc.Symbol)
		}
	}
	return status
}

// RankCandidates 过滤可交易结果并排序：
// |zscore| 降序 → 速度降序 → 波动率降序 → 符号名升序。
// 全局预热未完成时返回空列表。
func (ms *MarketScanner) RankCandidates(results []*ScanResult) []*ScanResult {
	if !ms.Warmup().Done {
		return nil
	}

	candidates := make([]*ScanResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.Tradable {
			candidates = append(candidates, r)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		az, bz := absF(a.Zscore), absF(b.Zscore)
		if az != bz {
			return az > bz
		}
		if a.SpeedBpm != b.SpeedBpm {
			return a.SpeedBpm > b.SpeedBpm
		}
		if a.Volatility != b.Volatility {
			return a.Volatility > b.Volatility
		}
		return a.Symbol < b.Symbol
	})
	return candidates
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
