package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/lock"
	"arbmesh/logger"
	"arbmesh/market"
	"arbmesh/metrics"
	"arbmesh/risk"
)

// EngineStatus 引擎生命周期状态
type EngineStatus string

const (
	StatusStopped  EngineStatus = "stopped"
	StatusStarting EngineStatus = "starting"
	StatusRunning  EngineStatus = "running"
	StatusStopping EngineStatus = "stopping"
	StatusError    EngineStatus = "error"
)

// 互斥动作的分布式锁键
const (
	lockKeyFlatten   = "flatten"
	lockKeyRebalance = "rebalance"
	lockTTL          = 10 * time.Second
)

// SymbolSnapshot 单交易对聚合快照
type SymbolSnapshot struct {
	Symbol   string             `json:"symbol"`
	Scan     *market.ScanResult `json:"scan,omitempty"`
	Risk     *risk.SymbolRisk   `json:"risk,omitempty"`
	Signal   *SpreadSignal      `json:"signal,omitempty"`
	Position *PositionState     `json:"position"`
	Exec     *ExecStatus        `json:"exec"`
}

// EngineSnapshot 引擎全局快照
type EngineSnapshot struct {
	Status          EngineStatus               `json:"status"`
	Mode            Mode                       `json:"mode"`
	LiveOrders      bool                       `json:"live_orders"`
	Simulated       bool                       `json:"simulated"`
	Warmup          *market.WarmupStatus       `json:"warmup"`
	Symbols         []*SymbolSnapshot          `json:"symbols"`
	NetExposure     float64                    `json:"net_exposure"`
	ExposureState   string                     `json:"exposure_state"`
	Performance     *PerformanceSnapshot       `json:"performance"`
	RateLimits      map[string]risk.BucketStat `json:"rate_limits"`
	StartedAt       time.Time                  `json:"started_at,omitempty"`
	SnapshotAt      time.Time                  `json:"snapshot_at"`
}

// Orchestrator 调度器：引擎唯一所有者。
// WS 推送只更新报价缓存，所有决策都在固定节拍的 tick 循环里做：
// 扫描 → 信号 → 风控 → 执行 → 全局敞口检查。
type Orchestrator struct {
	cfg        *config.Config
	paradex    exchange.IExchange
	grvt       exchange.IExchange
	books      *market.OrderBookManager
	scanner    *market.MarketScanner
	riskEngine *risk.RiskEngine
	modes      *ModeController
	spread     *SpreadEngine
	positions  *PositionManager
	perf       *PerformanceTracker
	exec       *ExecutionEngine
	bus        *event.EventBus
	locker     lock.DistributedLock

	mu          sync.RWMutex
	status      EngineStatus
	liveOrders  bool
	lastScans   map[string]*market.ScanResult
	lastRisks   map[string]*risk.SymbolRisk
	lastSignals map[string]*SpreadSignal
	startedAt   time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
	// 执行上下文独立于循环上下文：停机先停节拍，在途批次走完再收尾
	execCtx    context.Context
	execCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewOrchestrator 创建调度器
func NewOrchestrator(
	cfg *config.Config,
	paradex, grvt exchange.IExchange,
	books *market.OrderBookManager,
	scanner *market.MarketScanner,
	riskEngine *risk.RiskEngine,
	modes *ModeController,
	spread *SpreadEngine,
	positions *PositionManager,
	perf *PerformanceTracker,
	exec *ExecutionEngine,
	bus *event.EventBus,
	locker lock.DistributedLock,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		paradex:     paradex,
		grvt:        grvt,
		books:       books,
		scanner:     scanner,
		riskEngine:  riskEngine,
		modes:       modes,
		spread:      spread,
		positions:   positions,
		perf:        perf,
		exec:        exec,
		bus:         bus,
		locker:      locker,
		status:      StatusStopped,
		liveOrders:  cfg.Trading.LiveOrderEnabled,
		lastScans:   make(map[string]*market.ScanResult),
		lastRisks:   make(map[string]*risk.SymbolRisk),
		lastSignals: make(map[string]*SpreadSignal),
	}
}

// Status 当前引擎状态
func (o *Orchestrator) Status() EngineStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) setStatus(s EngineStatus) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

// symbols 当前配置的交易对列表
func (o *Orchestrator) symbols() []string {
	out := make([]string, 0, len(o.cfg.Trading.Symbols))
	for _, sc := range o.cfg.Trading.Symbols {
		out = append(out, sc.Symbol)
	}
	return out
}

// Start 启动引擎：连接交易所、回填统计窗口、拉起后台循环
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.status != StatusStopped && o.status != StatusError {
		o.mu.Unlock()
		return fmt.Errorf("引擎当前状态 %s，无法启动", o.status)
	}
	o.status = StatusStarting
	o.mu.Unlock()

	logger.Info("🚀 套利引擎启动中...")

	syms := o.symbols()
	if err := o.paradex.Connect(ctx, syms); err != nil {
		o.setStatus(StatusError)
		return fmt.Errorf("paradex 连接失败: %w", err)
	}
	if err := o.grvt.Connect(ctx, syms); err != nil {
		_ = o.paradex.Disconnect()
		o.setStatus(StatusError)
		return fmt.Errorf("grvt 连接失败: %w", err)
	}

	o.scanner.Backfill(ctx)

	o.runCtx, o.runCancel = context.WithCancel(context.Background())
	o.execCtx, o.execCancel = context.WithCancel(context.Background())

	o.wg.Add(2)
	go o.consumeQuotes(o.paradex)
	go o.consumeQuotes(o.grvt)

	o.wg.Add(3)
	go o.tickLoop()
	go o.positionSyncLoop()
	go o.consistencyLoop()

	o.mu.Lock()
	o.status = StatusRunning
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.publish(event.LevelInfo, "", "引擎已启动")
	logger.Info("✅ 套利引擎已启动: %d 个交易对, 模式=%s", len(syms), o.modes.Current())
	return nil
}

// Stop 优雅停机：停循环、按需平仓、断开连接
func (o *Orchestrator) Stop(flattenOnExit bool) error {
	o.mu.Lock()
	if o.status != StatusRunning && o.status != StatusError {
		o.mu.Unlock()
		return fmt.Errorf("引擎当前状态 %s，无法停止", o.status)
	}
	o.status = StatusStopping
	o.mu.Unlock()

	logger.Info("🛑 套利引擎停止中...")

	// 先停节拍，等在途 tick（含执行序列）自然走完，不得中途砍断
	if o.runCancel != nil {
		o.runCancel()
	}
	o.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if flattenOnExit {
		o.exec.FlattenAll(ctx, "引擎停机清仓")
	} else {
		o.flattenResidualLegs(ctx)
	}
	cancel()

	if o.execCancel != nil {
		o.execCancel()
	}

	if err := o.paradex.Disconnect(); err != nil {
		logger.Warn("⚠️ paradex 断开失败: %v", err)
	}
	if err := o.grvt.Disconnect(); err != nil {
		logger.Warn("⚠️ grvt 断开失败: %v", err)
	}

	o.setStatus(StatusStopped)
	o.publish(event.LevelInfo, "", "引擎已停止")
	logger.Info("✅ 套利引擎已停止")
	return nil
}

// flattenResidualLegs 停机兜底：单腿残留必须平掉，不得带裸腿进入停止态
func (o *Orchestrator) flattenResidualLegs(ctx context.Context) {
	for _, pos := range o.positions.Snapshot() {
		if pos.IsFlat() || math.Abs(pos.NetExposure()) < qtyEpsilon {
			continue
		}
		logger.Warn("⚠️ [%s] 停机时存在未对冲残腿 %.6f，强制平仓", pos.Symbol, pos.NetExposure())
		if err := o.exec.FlattenSymbol(ctx, pos.Symbol, "停机残腿清理"); err != nil {
			logger.Error("❌ [%s] 停机残腿平仓失败: %v", pos.Symbol, err)
		}
	}
}

// consumeQuotes 消费单所 WS 推送：只更新缓存与活跃时间，不触发决策
func (o *Orchestrator) consumeQuotes(ex exchange.IExchange) {
	defer o.wg.Done()

	venue := ex.Name()
	ch := ex.SubscribeQuotes()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case q, ok := <-ch:
			if !ok {
				logger.Warn("⚠️ [%s] WS 行情通道已关闭", venue)
				return
			}
			if q == nil || !q.Valid() {
				continue
			}
			o.books.UpdateWs(q)
			o.riskEngine.Ws.MarkAlive(venue, q.Timestamp)
			o.perf.MarkPrice(venue, q.Symbol, q.Mid())
		}
	}
}

// tickLoop 主循环：固定节拍驱动全量决策
func (o *Orchestrator) tickLoop() {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.Trading.LoopIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			o.runTick(o.execCtx)
			metrics.TickTotal.Inc()
			metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// runTick 单个 tick：健康检查 → 并发扫描 → 信号/风控/执行 → 全局敞口
func (o *Orchestrator) runTick(ctx context.Context) {
	now := time.Now()

	o.riskEngine.Health.Check(ctx, o.paradex, now)
	o.riskEngine.Health.Check(ctx, o.grvt, now)

	syms := o.symbols()
	results := make([]*market.ScanResult, len(syms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Trading.MaxConcurrentScans)
	for i, symbol := range syms {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = o.scanner.Scan(gctx, symbol, now)
			return nil
		})
	}
	_ = g.Wait()

	// 先处理平仓与熔断（去风险动作不受开仓闸门约束）
	openable := make(map[string]bool, len(syms))
	for _, result := range results {
		if result == nil {
			continue
		}
		symbol := result.Symbol
		sr := o.riskEngine.EvaluateSymbol(symbol, result.ParadexQuote, result.GrvtQuote, now)
		pos := o.positions.Get(symbol)
		sig := o.spread.GenerateSignal(result, pos)

		o.recordSymbol(result, sr, sig)

		if sr.FlattenOnly && !pos.IsFlat() {
			o.flattenWithLock(ctx, symbol, "WS 行情熔断，只平不开")
			continue
		}
		if sig.Action == ActionClose {
			o.exec.ExecuteSignal(ctx, sig, result.GrvtQuote)
			continue
		}
		openable[symbol] = sr.CanOpen
	}

	// 开仓只从排序后的候选里按序执行
	for _, candidate := range o.scanner.RankCandidates(results) {
		if !openable[candidate.Symbol] {
			continue
		}
		sig := o.lastSignal(candidate.Symbol)
		if sig == nil || sig.Action != ActionOpen {
			continue
		}
		o.exec.ExecuteSignal(ctx, sig, candidate.GrvtQuote)
	}

	o.checkExposure(ctx)
	o.refreshMetrics(now)
}

// checkExposure 全局净敞口守卫：软阈值渐进再平衡，硬阈值全量清仓
func (o *Orchestrator) checkExposure(ctx context.Context) {
	totalNet, refPrice := o.positions.TotalAbsNotional()
	verdict := o.riskEngine.Exposure.Evaluate(totalNet, refPrice)

	switch verdict {
	case risk.ExposureHard:
		o.publish(event.LevelCritical, "", fmt.Sprintf("名义净敞口 %.6f 触发硬阈值，全量清仓", totalNet))
		if o.acquireLock(ctx, lockKeyFlatten) {
			defer o.releaseLock(lockKeyFlatten)
			o.exec.FlattenAll(ctx, "净敞口硬阈值")
		}
	case risk.ExposureSoft:
		symbol, net := o.positions.WorstContributor()
		if symbol == "" {
			return
		}
		o.publish(event.LevelWarning, symbol, fmt.Sprintf("名义净敞口 %.6f 触发软阈值，再平衡 %s (净 %.6f)", totalNet, symbol, net))
		if o.acquireLock(ctx, lockKeyRebalance) {
			defer o.releaseLock(lockKeyRebalance)
			if err := o.exec.Rebalance(ctx, symbol); err != nil {
				logger.Error("❌ [%s] 再平衡失败: %v", symbol, err)
			}
		}
	}
}

// positionSyncLoop 周期性用交易所持仓覆盖本地视图
func (o *Orchestrator) positionSyncLoop() {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.Trading.PositionSyncMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			o.syncVenuePositions(o.runCtx, o.paradex)
			o.syncVenuePositions(o.runCtx, o.grvt)
		}
	}
}

func (o *Orchestrator) syncVenuePositions(ctx context.Context, ex exchange.IExchange) {
	syncCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	positions, err := ex.GetPositions(syncCtx)
	if err != nil {
		logger.Debug("持仓同步失败 %s: %v", ex.Name(), err)
		return
	}
	o.positions.SyncVenue(ex.Name(), positions)
}

// consistencyLoop 周期性用 REST 中间价校验 WS 报价一致性
func (o *Orchestrator) consistencyLoop() {
	defer o.wg.Done()

	interval := time.Duration(o.cfg.Trading.RestConsistencyMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			for _, symbol := range o.symbols() {
				o.verifyConsistency(o.runCtx, o.paradex, symbol)
				o.verifyConsistency(o.runCtx, o.grvt, symbol)
			}
		}
	}
}

func (o *Orchestrator) verifyConsistency(ctx context.Context, ex exchange.IExchange, symbol string) {
	venue := ex.Name()

	wsQuote := o.books.WsQuote(venue, symbol)
	if wsQuote == nil || !wsQuote.Valid() {
		return
	}
	if !o.riskEngine.Limiter.Allow(venue, risk.ScopeMarketData) {
		return
	}

	restCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	restQuote, err := ex.GetQuote(restCtx, symbol)
	if err != nil || !restQuote.Valid() {
		return
	}

	if ok, diffBps := o.riskEngine.Consistency.Verify(venue, symbol, restQuote.Mid(), wsQuote.Mid()); !ok {
		o.publish(event.LevelWarning, symbol, fmt.Sprintf("%s WS/REST 报价偏差 %.3f bps 超限", venue, diffBps))
	}
}

// recordSymbol 记录 tick 级快照供状态查询
func (o *Orchestrator) recordSymbol(result *market.ScanResult, sr *risk.SymbolRisk, sig *SpreadSignal) {
	o.mu.Lock()
	o.lastScans[result.Symbol] = result
	o.lastRisks[result.Symbol] = sr
	o.lastSignals[result.Symbol] = sig
	o.mu.Unlock()
}

func (o *Orchestrator) lastSignal(symbol string) *SpreadSignal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSignals[symbol]
}

// refreshMetrics 集中刷新 Prometheus 指标
func (o *Orchestrator) refreshMetrics(now time.Time) {
	o.mu.RLock()
	for symbol, result := range o.lastScans {
		metrics.Zscore.WithLabelValues(symbol).Set(result.Zscore)
		metrics.NetEdgeBps.WithLabelValues(symbol).Set(result.NetBps)
	}
	o.mu.RUnlock()

	totalNotional, _ := o.positions.TotalAbsNotional()
	metrics.NetExposure.Set(totalNotional)

	for _, venue := range []exchange.Venue{exchange.VenueParadex, exchange.VenueGRVT} {
		metrics.WsTier.WithLabelValues(string(venue)).Set(float64(o.riskEngine.Ws.Tier(venue, now)))
	}

	warmup := o.scanner.Warmup()
	if warmup.Done {
		metrics.WarmupReady.Set(1)
	} else {
		metrics.WarmupReady.Set(0)
	}

	ps := o.perf.Snapshot()
	metrics.TradesTotal.Set(float64(ps.TradeCount))
	metrics.RealizedPnL.Set(ps.RealizedPnL)

	for bucket, stat := range o.riskEngine.Limiter.Snapshot() {
		metrics.RateLimitRejected.WithLabelValues(bucket).Set(float64(stat.Rejected))
	}
}

// acquireLock 获取互斥动作的分布式锁
func (o *Orchestrator) acquireLock(ctx context.Context, key string) bool {
	ok, err := o.locker.Acquire(ctx, key, lockTTL)
	if err != nil {
		logger.Warn("⚠️ 获取锁 %s 失败: %v", key, err)
		return false
	}
	return ok
}

func (o *Orchestrator) releaseLock(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.locker.Release(ctx, key); err != nil {
		logger.Warn("⚠️ 释放锁 %s 失败: %v", key, err)
	}
}

// flattenWithLock 带锁强平单交易对
func (o *Orchestrator) flattenWithLock(ctx context.Context, symbol, reason string) {
	if !o.acquireLock(ctx, lockKeyFlatten) {
		return
	}
	defer o.releaseLock(lockKeyFlatten)

	if err := o.exec.FlattenSymbol(ctx, symbol, reason); err != nil {
		logger.Error("❌ [%s] 强平失败: %v", symbol, err)
	}
}

// FlattenSymbol 外部指令：强平指定交易对
func (o *Orchestrator) FlattenSymbol(ctx context.Context, symbol string) error {
	if o.cfg.SymbolFor(symbol) == nil {
		return fmt.Errorf("未配置的交易对: %s", symbol)
	}
	if !o.acquireLock(ctx, lockKeyFlatten) {
		return fmt.Errorf("平仓锁被占用，稍后重试")
	}
	defer o.releaseLock(lockKeyFlatten)
	return o.exec.FlattenSymbol(ctx, symbol, "手动强平")
}

// SetMode 切换策略模式：仅停止或运行状态接受，过渡态拒绝，下个 tick 生效
func (o *Orchestrator) SetMode(mode Mode) error {
	if s := o.Status(); s != StatusStopped && s != StatusRunning {
		return fmt.Errorf("引擎当前状态 %s，不允许切换模式", s)
	}
	if !o.modes.Set(mode) {
		return fmt.Errorf("非法模式: %s", mode)
	}
	o.publish(event.LevelInfo, "", fmt.Sprintf("策略模式切换为 %s", mode))
	return nil
}

// SetLiveOrders 切换实盘下单开关，仅停止状态允许；模拟行情下强制关闭
func (o *Orchestrator) SetLiveOrders(enabled bool) error {
	if o.Status() != StatusStopped {
		return fmt.Errorf("仅停止状态可切换实盘开关")
	}
	if enabled && o.cfg.Trading.SimulateMarketData {
		return fmt.Errorf("模拟行情模式下禁止实盘下单")
	}

	o.mu.Lock()
	o.liveOrders = enabled
	o.mu.Unlock()
	o.exec.SetLiveEnabled(enabled)

	o.publish(event.LevelWarning, "", fmt.Sprintf("实盘下单开关: %v", enabled))
	return nil
}

// ApplyCredentials 更新交易所凭据，仅停止状态允许
func (o *Orchestrator) ApplyCredentials(venue, apiKey, apiSecret string) error {
	if o.Status() != StatusStopped {
		return fmt.Errorf("仅停止状态可更新凭据")
	}
	exCfg, ok := o.cfg.Exchanges[venue]
	if !ok {
		return fmt.Errorf("未配置的交易所: %s", venue)
	}
	exCfg.APIKey = apiKey
	exCfg.APISecret = apiSecret
	o.cfg.Exchanges[venue] = exCfg

	o.publish(event.LevelInfo, "", fmt.Sprintf("交易所 %s 凭据已更新", venue))
	return nil
}

// UpdateSymbols 整体替换交易对列表，仅停止状态允许
func (o *Orchestrator) UpdateSymbols(symbols []config.SymbolConfig) error {
	if o.Status() != StatusStopped {
		return fmt.Errorf("仅停止状态可更新交易对列表")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("交易对列表不能为空")
	}

	o.cfg.Trading.Symbols = symbols
	o.publish(event.LevelInfo, "", fmt.Sprintf("交易对列表已更新: %d 个", len(symbols)))
	return nil
}

// UpdateSymbolParams 更新单交易对阈值参数（运行中也允许，下个 tick 生效）
func (o *Orchestrator) UpdateSymbolParams(symbol string, zEntry, zExit, maxPosition, baseOrderQty float64) error {
	if zEntry > 0 && zExit > 0 && zExit >= zEntry {
		return fmt.Errorf("z_exit 必须小于 z_entry")
	}

	for i := range o.cfg.Trading.Symbols {
		sc := &o.cfg.Trading.Symbols[i]
		if sc.Symbol != symbol {
			continue
		}
		if zEntry > 0 {
			sc.ZEntry = zEntry
		}
		if zExit > 0 {
			sc.ZExit = zExit
		}
		if maxPosition > 0 {
			sc.MaxPosition = maxPosition
		}
		if baseOrderQty > 0 {
			sc.BaseOrderQty = baseOrderQty
		}
		o.publish(event.LevelInfo, symbol, "交易对参数已更新")
		return nil
	}
	return fmt.Errorf("未配置的交易对: %s", symbol)
}

// GetSnapshot 返回引擎全局快照
func (o *Orchestrator) GetSnapshot() *EngineSnapshot {
	o.mu.RLock()
	status := o.status
	live := o.liveOrders
	startedAt := o.startedAt
	o.mu.RUnlock()

	netNotional, _ := o.positions.TotalAbsNotional()
	snap := &EngineSnapshot{
		Status:        status,
		Mode:          o.modes.Current(),
		LiveOrders:    live,
		Simulated:     o.cfg.Trading.SimulateMarketData,
		Warmup:        o.scanner.Warmup(),
		NetExposure:   netNotional,
		ExposureState: o.riskEngine.Exposure.State().String(),
		Performance:   o.perf.Snapshot(),
		RateLimits:    o.riskEngine.Limiter.Snapshot(),
		StartedAt:     startedAt,
		SnapshotAt:    time.Now(),
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, symbol := range o.symbols() {
		snap.Symbols = append(snap.Symbols, &SymbolSnapshot{
			Symbol:   symbol,
			Scan:     o.lastScans[symbol],
			Risk:     o.lastRisks[symbol],
			Signal:   o.lastSignals[symbol],
			Position: o.positions.Get(symbol),
			Exec:     o.exec.StatusOf(symbol),
		})
	}
	return snap
}

// publish 发布引擎级事件
func (o *Orchestrator) publish(level event.Level, symbol, message string) {
	if o.bus != nil {
		o.bus.Publish(event.New(level, "orchestrator", symbol, message))
	}
}
