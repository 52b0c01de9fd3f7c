package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/logger"
	"arbmesh/market"
	"arbmesh/risk"
	"arbmesh/storage"
	"arbmesh/utils"
)

// ExecState 执行状态机状态
type ExecState string

const (
	ExecIdle     ExecState = "idle"
	ExecEntering ExecState = "entering"
	ExecOpen     ExecState = "open"
	ExecExiting  ExecState = "exiting"
	ExecError    ExecState = "error"
)

// ExecStatus 执行状态快照
type ExecStatus struct {
	Symbol        string    `json:"symbol"`
	State         ExecState `json:"state"`
	TrancheDone   int       `json:"tranche_done"`
	TrancheTotal  int       `json:"tranche_total"`
	LastError     string    `json:"last_error,omitempty"`
}

// symbolExec 单交易对执行上下文。
// seqMu 保证同一交易对同时只有一个执行序列在跑。
type symbolExec struct {
	seqMu sync.Mutex

	mu           sync.Mutex
	state        ExecState
	trancheDone  int
	trancheTotal int
	lastError    string
}

func (se *symbolExec) setState(state ExecState, done, total int, errMsg string) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.state = state
	se.trancheDone = done
	se.trancheTotal = total
	se.lastError = errMsg
}

func (se *symbolExec) status(symbol string) *ExecStatus {
	se.mu.Lock()
	defer se.mu.Unlock()
	return &ExecStatus{
		Symbol:       symbol,
		State:        se.state,
		TrancheDone:  se.trancheDone,
		TrancheTotal: se.trancheTotal,
		LastError:    se.lastError,
	}
}

const (
	submitMaxAttempts    = 3
	submitBaseBackoff    = 100 * time.Millisecond
	reconcileMaxAttempts = 3
	reconcileInterval    = 200 * time.Millisecond
	hedgeFillWait        = 2 * time.Second
	hedgeFillPoll        = 200 * time.Millisecond
)

// errHedgeUnfilled 对冲挂单撤销后仍有剩余量未成交
var errHedgeUnfilled = errors.New("对冲挂单超时未成交")

// ExecutionEngine 执行引擎。
// 开仓顺序固定：先在 Paradex 吃单成交，再按实际成交量在 GRVT
// 挂 post-only 对冲；对冲被拒时降级为吃单，绝不留裸腿过夜。
type ExecutionEngine struct {
	cfg       *config.Config
	paradex   exchange.IExchange
	grvt      exchange.IExchange
	positions *PositionManager
	perf      *PerformanceTracker
	limiter   *risk.RateLimiter
	bus       *event.EventBus
	svc       *storage.StorageService

	liveEnabled atomic.Bool
	simulated   bool

	hedgeWait time.Duration
	hedgePoll time.Duration

	mu    sync.RWMutex
	execs map[string]*symbolExec
}

// NewExecutionEngine 创建执行引擎
func NewExecutionEngine(
	cfg *config.Config,
	paradex, grvt exchange.IExchange,
	positions *PositionManager,
	perf *PerformanceTracker,
	limiter *risk.RateLimiter,
	bus *event.EventBus,
	svc *storage.StorageService,
) *ExecutionEngine {
	ee := &ExecutionEngine{
		cfg:       cfg,
		paradex:   paradex,
		grvt:      grvt,
		positions: positions,
		perf:      perf,
		limiter:   limiter,
		bus:       bus,
		svc:       svc,
		simulated: cfg.Trading.SimulateMarketData,
		hedgeWait: hedgeFillWait,
		hedgePoll: hedgeFillPoll,
		execs:     make(map[string]*symbolExec),
	}
	ee.liveEnabled.Store(cfg.Trading.LiveOrderEnabled)
	return ee
}

// SetLiveEnabled 设置实盘下单开关
func (ee *ExecutionEngine) SetLiveEnabled(enabled bool) {
	ee.liveEnabled.Store(enabled)
}

// execFor 获取或创建交易对执行上下文
func (ee *ExecutionEngine) execFor(symbol string) *symbolExec {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	se, ok := ee.execs[symbol]
	if !ok {
		se = &symbolExec{state: ExecIdle}
		ee.execs[symbol] = se
	}
	return se
}

// StatusOf 返回交易对执行状态快照
func (ee *ExecutionEngine) StatusOf(symbol string) *ExecStatus {
	return ee.execFor(symbol).status(symbol)
}

// venueFor 返回指定交易所的客户端
func (ee *ExecutionEngine) venueFor(venue exchange.Venue) exchange.IExchange {
	if venue == exchange.VenueParadex {
		return ee.paradex
	}
	return ee.grvt
}

// legSides 根据套利方向返回两腿买卖方向
func legSides(direction market.Direction) (paradexSide, grvtSide exchange.Side) {
	if direction == market.DirectionShortParadexLongGrvt {
		return exchange.SideSell, exchange.SideBuy
	}
	return exchange.SideBuy, exchange.SideSell
}

// ExecuteSignal 执行信号。
// 同一交易对已有序列在执行时直接跳过本次信号（tick 级串行化）。
func (ee *ExecutionEngine) ExecuteSignal(ctx context.Context, sig *SpreadSignal, grvtQuote *exchange.Quote) {
	if sig == nil || sig.Action == ActionHold {
		return
	}

	se := ee.execFor(sig.Symbol)
	if !se.seqMu.TryLock() {
		logger.Debug("执行序列进行中，跳过信号: %s %s", sig.Symbol, sig.Action)
		return
	}
	defer se.seqMu.Unlock()

	switch sig.Action {
	case ActionOpen:
		ee.openSequence(ctx, se, sig, grvtQuote)
	case ActionClose:
		ee.closeSequence(ctx, se, sig.Symbol, sig.Reason)
	}
}

// openSequence 分批开仓序列
func (ee *ExecutionEngine) openSequence(ctx context.Context, se *symbolExec, sig *SpreadSignal, grvtQuote *exchange.Quote) {
	symbol := sig.Symbol
	t := &ee.cfg.Trading

	baseQty := t.BaseOrderQty
	maxPosition := t.MaxPosition
	if sc := ee.cfg.SymbolFor(symbol); sc != nil {
		if sc.BaseOrderQty > 0 {
			baseQty = sc.BaseOrderQty
		}
		if sc.MaxPosition > 0 {
			maxPosition = sc.MaxPosition
		}
	}

	total := sig.Tranches
	se.setState(ExecEntering, 0, total, "")
	ee.publish(event.LevelInfo, symbol, fmt.Sprintf("开仓序列启动: %s z=%.2f 分 %d 批", sig.Direction, sig.Zscore, total))

	paradexSide, grvtSide := legSides(sig.Direction)

	batchUsed := 0.0
	done := 0
	for k := 0; k < total; k++ {
		qty := baseQty * sig.Weights[k]

		// 单 tick 批量上限
		if batchUsed+qty > t.MaxBatchQty {
			qty = t.MaxBatchQty - batchUsed
		}
		if qty < qtyEpsilon {
			logger.Info("⏸️ [%s] 批量额度耗尽，提前结束 (%d/%d)", symbol, k, total)
			break
		}
		// 单交易对持仓上限
		if !ee.positions.CanAdd(symbol, qty, maxPosition) {
			logger.Info("⏸️ [%s] 持仓达到上限 %.6f，提前结束 (%d/%d)", symbol, maxPosition, k, total)
			break
		}

		if err := ee.openTranche(ctx, symbol, paradexSide, grvtSide, qty, grvtQuote, k+1); err != nil {
			se.setState(ExecError, k, total, err.Error())
			ee.publish(event.LevelCritical, symbol, fmt.Sprintf("第 %d/%d 批开仓失败: %v", k+1, total, err))
			return
		}

		batchUsed += qty
		done = k + 1
		se.setState(ExecEntering, done, total, "")
	}

	se.setState(ExecOpen, done, total, "")
	ee.publish(event.LevelInfo, symbol, "开仓序列完成")
}

// openTranche 执行单批：Paradex 吃单腿 + GRVT 对冲腿
func (ee *ExecutionEngine) openTranche(ctx context.Context, symbol string, paradexSide, grvtSide exchange.Side, qty float64, grvtQuote *exchange.Quote, trancheNo int) error {
	// 第一腿：Paradex 市价吃单
	takerReq := &exchange.OrderRequest{
		Venue:         exchange.VenueParadex,
		Symbol:        symbol,
		Side:          paradexSide,
		Type:          exchange.OrderTypeMarket,
		Qty:           qty,
		ClientOrderID: utils.NewClientOrderID("arb-t"),
	}
	takerAck, err := ee.submitOrder(ctx, takerReq, trancheNo)
	if err != nil {
		return fmt.Errorf("taker 腿失败: %w", err)
	}
	if takerAck.FilledQty < qtyEpsilon {
		return fmt.Errorf("taker 腿零成交: %s", takerAck.OrderID)
	}

	// 第二腿：按实际成交量对冲。对冲失败必须砍掉第一腿，不留裸腿。
	if err := ee.hedgeLeg(ctx, symbol, grvtSide, takerAck.FilledQty, grvtQuote, trancheNo); err != nil {
		ee.publish(event.LevelCritical, symbol, fmt.Sprintf("对冲腿失败，回砍 taker 腿: %v", err))
		ee.closeLeg(ctx, exchange.VenueParadex, symbol, paradexSide.Opposite(), takerAck.FilledQty)
		return fmt.Errorf("对冲腿失败: %w", err)
	}
	return nil
}

// hedgeLeg GRVT 对冲：优先 post-only 挂单并限时等待成交，
// 被拒或撤单后用市价补齐剩余量。簿上订单在降级前必须先撤销。
func (ee *ExecutionEngine) hedgeLeg(ctx context.Context, symbol string, side exchange.Side, qty float64, grvtQuote *exchange.Quote, trancheNo int) error {
	remaining := qty

	if grvtQuote.Valid() {
		price := grvtQuote.Bid
		if side == exchange.SideSell {
			price = grvtQuote.Ask
		}

		makerReq := &exchange.OrderRequest{
			Venue:         exchange.VenueGRVT,
			Symbol:        symbol,
			Side:          side,
			Type:          exchange.OrderTypeLimit,
			Price:         price,
			Qty:           qty,
			PostOnly:      true,
			ClientOrderID: utils.NewClientOrderID("arb-m"),
		}
		filled, err := ee.makerHedge(ctx, makerReq, trancheNo)
		remaining = qty - filled
		switch {
		case err == nil && remaining < qtyEpsilon:
			return nil
		case err == nil, errors.Is(err, errHedgeUnfilled):
			logger.Warn("⚠️ [%s] post-only 对冲剩余 %.6f 未成交，降级市价", symbol, remaining)
		case exchange.IsPermanent(err):
			// post-only 穿价被拒：降级吃单补齐对冲
			logger.Warn("⚠️ [%s] post-only 对冲被拒，降级市价", symbol)
		default:
			return err
		}
	}

	if remaining < qtyEpsilon {
		return nil
	}

	takerReq := &exchange.OrderRequest{
		Venue:         exchange.VenueGRVT,
		Symbol:        symbol,
		Side:          side,
		Type:          exchange.OrderTypeMarket,
		Qty:           remaining,
		ClientOrderID: utils.NewClientOrderID("arb-m"),
	}
	if _, err := ee.submitOrder(ctx, takerReq, trancheNo); err != nil {
		// 市价补齐也失败：先平掉已成交的对冲部分，再交由上层回砍 taker 腿
		if hedged := qty - remaining; hedged >= qtyEpsilon {
			ee.closeLeg(ctx, exchange.VenueGRVT, symbol, side.Opposite(), hedged)
		}
		return err
	}
	return nil
}

// makerHedge 提交 post-only 对冲单：未到终态时限时等待成交，
// 超时先撤单再查一次终态（撤单与成交存在竞态），返回实际成交量。
func (ee *ExecutionEngine) makerHedge(ctx context.Context, req *exchange.OrderRequest, trancheNo int) (float64, error) {
	ack, err := ee.sendOrder(ctx, req)
	if err != nil {
		return 0, err
	}

	if !ack.Status.Terminal() {
		state, waitErr := ee.awaitHedgeFill(ctx, req.Symbol, ack.OrderID)
		if waitErr != nil {
			return 0, waitErr
		}
		ack.Status = state.Status
		ack.FilledQty = state.FilledQty
		if state.AvgPrice > 0 {
			ack.AvgPrice = state.AvgPrice
		}
	}

	filled := ack.FilledQty
	if filled >= qtyEpsilon {
		if ack.AvgPrice == 0 {
			ack.AvgPrice = req.Price
		}
		ee.recordFill(req, ack, trancheNo)
	}

	switch ack.Status {
	case exchange.OrderStatusRejected:
		return filled, fmt.Errorf("%w: %s", exchange.ErrOrderRejected, ack.Reason)
	case exchange.OrderStatusFilled:
		return filled, nil
	default:
		// canceled：订单已确认不在簿上，剩余量可安全降级
		if filled+qtyEpsilon < req.Qty {
			return filled, errHedgeUnfilled
		}
		return filled, nil
	}
}

// awaitHedgeFill 轮询挂单直到终态或超时；超时必须撤单，绝不弃单。
// 撤单后再查一次，捕获撤单请求到达前已成交的情况。
func (ee *ExecutionEngine) awaitHedgeFill(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	deadline := time.Now().Add(ee.hedgeWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ee.hedgePoll):
		}

		queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		state, err := ee.grvt.QueryOrder(queryCtx, symbol, orderID)
		cancel()
		if err != nil {
			continue
		}
		if state.Status.Terminal() {
			return state, nil
		}
	}

	cancelCtx, cancelFn := context.WithTimeout(ctx, 3*time.Second)
	cancelErr := ee.grvt.CancelOrder(cancelCtx, symbol, orderID)
	cancelFn()
	if cancelErr != nil {
		logger.Warn("⚠️ [%s] 对冲挂单 %s 撤销失败: %v", symbol, orderID, cancelErr)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	state, err := ee.grvt.QueryOrder(queryCtx, symbol, orderID)
	if err != nil {
		if cancelErr != nil {
			return nil, fmt.Errorf("对冲挂单 %s 撤销失败且状态未知: %w", orderID, err)
		}
		// 撤单已确认、终态查询失败：按零成交撤销处理
		return &exchange.OrderState{OrderID: orderID, Status: exchange.OrderStatusCanceled}, nil
	}
	if !state.Status.Terminal() {
		if cancelErr != nil {
			return nil, fmt.Errorf("对冲挂单 %s 撤销失败且仍在簿上", orderID)
		}
		state.Status = exchange.OrderStatusCanceled
	}
	return state, nil
}

// closeSequence 分批平仓序列：每批以基准单量为上限，两腿 reduce-only
// 市价同序平出（先 paradex 后 grvt），直到两腿归零
func (ee *ExecutionEngine) closeSequence(ctx context.Context, se *symbolExec, symbol, reason string) {
	pos := ee.positions.Get(symbol)
	if pos.IsFlat() {
		se.setState(ExecIdle, 0, 0, "")
		return
	}

	closeQty := ee.cfg.Trading.BaseOrderQty
	if sc := ee.cfg.SymbolFor(symbol); sc != nil && sc.BaseOrderQty > 0 {
		closeQty = sc.BaseOrderQty
	}

	largest := math.Max(math.Abs(pos.ParadexQty), math.Abs(pos.GrvtQty))
	total := int(math.Ceil(largest/closeQty - qtyEpsilon))
	if total < 1 {
		total = 1
	}

	se.setState(ExecExiting, 0, total, "")
	ee.publish(event.LevelInfo, symbol, fmt.Sprintf("平仓序列启动: %s 分 %d 批", reason, total))

	done := 0
	for k := 0; k < total; k++ {
		pos = ee.positions.Get(symbol)
		if pos.IsFlat() {
			break
		}
		if err := ee.closeTranche(ctx, symbol, pos, closeQty); err != nil {
			se.setState(ExecError, done, total, err.Error())
			ee.publish(event.LevelCritical, symbol, fmt.Sprintf("第 %d/%d 批平仓失败: %v", k+1, total, err))
			return
		}
		done = k + 1
		se.setState(ExecExiting, done, total, "")
	}

	se.setState(ExecIdle, done, total, "")
	ee.publish(event.LevelInfo, symbol, "平仓完成")
}

// closeTranche 平掉单批：每腿最多 closeQty，与开仓同序
func (ee *ExecutionEngine) closeTranche(ctx context.Context, symbol string, pos *PositionState, closeQty float64) error {
	if qty := math.Min(math.Abs(pos.ParadexQty), closeQty); qty >= qtyEpsilon {
		side := exchange.SideSell
		if pos.ParadexQty < 0 {
			side = exchange.SideBuy
		}
		if err := ee.closeLeg(ctx, exchange.VenueParadex, symbol, side, qty); err != nil {
			return err
		}
	}
	if qty := math.Min(math.Abs(pos.GrvtQty), closeQty); qty >= qtyEpsilon {
		side := exchange.SideSell
		if pos.GrvtQty < 0 {
			side = exchange.SideBuy
		}
		if err := ee.closeLeg(ctx, exchange.VenueGRVT, symbol, side, qty); err != nil {
			return err
		}
	}
	return nil
}

// FlattenSymbol 强制平掉指定交易对（阻塞等待已有序列结束）
func (ee *ExecutionEngine) FlattenSymbol(ctx context.Context, symbol, reason string) error {
	se := ee.execFor(symbol)
	se.seqMu.Lock()
	defer se.seqMu.Unlock()

	pos := ee.positions.Get(symbol)
	if pos.IsFlat() {
		se.setState(ExecIdle, 0, 0, "")
		return nil
	}

	se.setState(ExecExiting, 0, 1, "")
	ee.publish(event.LevelWarning, symbol, fmt.Sprintf("强制平仓: %s", reason))

	if err := ee.flattenLocked(ctx, symbol); err != nil {
		se.setState(ExecError, 0, 1, err.Error())
		return err
	}
	se.setState(ExecIdle, 1, 1, "")
	return nil
}

// FlattenAll 平掉全部交易对
func (ee *ExecutionEngine) FlattenAll(ctx context.Context, reason string) {
	for _, pos := range ee.positions.Snapshot() {
		if pos.IsFlat() {
			continue
		}
		if err := ee.FlattenSymbol(ctx, pos.Symbol, reason); err != nil {
			logger.Error("❌ [%s] 全量平仓失败: %v", pos.Symbol, err)
		}
	}
}

// flattenLocked 平掉两腿（调用方需持有 seqMu）
func (ee *ExecutionEngine) flattenLocked(ctx context.Context, symbol string) error {
	pos := ee.positions.Get(symbol)

	var firstErr error
	if math.Abs(pos.ParadexQty) >= qtyEpsilon {
		side := exchange.SideSell
		if pos.ParadexQty < 0 {
			side = exchange.SideBuy
		}
		if err := ee.closeLeg(ctx, exchange.VenueParadex, symbol, side, math.Abs(pos.ParadexQty)); err != nil {
			firstErr = err
		}
	}
	if math.Abs(pos.GrvtQty) >= qtyEpsilon {
		side := exchange.SideSell
		if pos.GrvtQty < 0 {
			side = exchange.SideBuy
		}
		if err := ee.closeLeg(ctx, exchange.VenueGRVT, symbol, side, math.Abs(pos.GrvtQty)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// closeLeg 单腿 reduce-only 市价平仓
func (ee *ExecutionEngine) closeLeg(ctx context.Context, venue exchange.Venue, symbol string, side exchange.Side, qty float64) error {
	req := &exchange.OrderRequest{
		Venue:         venue,
		Symbol:        symbol,
		Side:          side,
		Type:          exchange.OrderTypeMarket,
		Qty:           qty,
		ReduceOnly:    true,
		ClientOrderID: utils.NewClientOrderID("arb-c"),
	}
	_, err := ee.submitOrder(ctx, req, 0)
	return err
}

// Rebalance 渐进再平衡：砍掉净敞口超出部分
func (ee *ExecutionEngine) Rebalance(ctx context.Context, symbol string) error {
	se := ee.execFor(symbol)
	if !se.seqMu.TryLock() {
		return nil // 有序列在执行，下个 tick 再试
	}
	defer se.seqMu.Unlock()

	for _, req := range ee.positions.BuildRebalanceOrders(symbol) {
		req.ClientOrderID = utils.NewClientOrderID("arb-r")
		if _, err := ee.submitOrder(ctx, req, 0); err != nil {
			return fmt.Errorf("再平衡下单失败: %w", err)
		}
		ee.publish(event.LevelWarning, symbol, fmt.Sprintf("净敞口再平衡: %s %s %.6f", req.Venue, req.Side, req.Qty))
	}
	return nil
}

// sendOrder 下单底层：实盘闸门 → 限流 → 有限重试。
// 返回的回执可能未到终态，由调用方决定对账还是限时等待。
func (ee *ExecutionEngine) sendOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderAck, error) {
	if !ee.simulated && !ee.liveEnabled.Load() {
		return nil, exchange.ErrLiveOrderDisabled
	}

	if !ee.limiter.Allow(req.Venue, risk.ScopeOrder) {
		ee.publish(event.LevelWarning, req.Symbol, fmt.Sprintf("下单被限流拒绝: %s %s", req.Venue, req.Side))
		return nil, exchange.ErrRateLimited
	}

	ex := ee.venueFor(req.Venue)

	var ack *exchange.OrderAck
	var err error
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		submitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ack, err = ex.SubmitOrder(submitCtx, req)
		cancel()

		if err == nil {
			break
		}
		if !exchange.IsTransient(err) {
			return nil, err
		}
		backoff := submitBaseBackoff << attempt
		logger.Warn("⚠️ [%s] 下单瞬时失败 (第 %d 次)，%s 后重试: %v", req.Symbol, attempt+1, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// submitOrder 吃单统一入口：下单 → 未知态对账 → 终态分类 → 成交入账
func (ee *ExecutionEngine) submitOrder(ctx context.Context, req *exchange.OrderRequest, trancheNo int) (*exchange.OrderAck, error) {
	ack, err := ee.sendOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	ex := ee.venueFor(req.Venue)

	// 未到终态的回执先对账再继续
	if !ack.Status.Terminal() {
		state, recErr := ee.reconcile(ctx, ex, req.Symbol, ack.OrderID)
		if recErr != nil {
			// 对账失败不弃单：尽力撤销，避免不可跟踪的在途订单
			cancelCtx, cancelFn := context.WithTimeout(ctx, 3*time.Second)
			if cerr := ex.CancelOrder(cancelCtx, req.Symbol, ack.OrderID); cerr != nil {
				logger.Error("❌ [%s] 未知态订单 %s 撤销失败: %v", req.Symbol, ack.OrderID, cerr)
			}
			cancelFn()
			return nil, fmt.Errorf("订单状态未知且对账失败 %s: %w", ack.OrderID, recErr)
		}
		ack.Status = state.Status
		ack.FilledQty = state.FilledQty
		if state.AvgPrice > 0 {
			ack.AvgPrice = state.AvgPrice
		}
	}

	switch ack.Status {
	case exchange.OrderStatusRejected:
		return nil, fmt.Errorf("%w: %s", exchange.ErrOrderRejected, ack.Reason)
	case exchange.OrderStatusCanceled:
		if ack.FilledQty < qtyEpsilon {
			return nil, fmt.Errorf("%w: 订单已撤销", exchange.ErrOrderRejected)
		}
	}

	if ack.FilledQty >= qtyEpsilon {
		ee.recordFill(req, ack, trancheNo)
	}
	return ack, nil
}

// reconcile 对账未知态订单：查询直到终态或次数耗尽
func (ee *ExecutionEngine) reconcile(ctx context.Context, ex exchange.IExchange, symbol, orderID string) (*exchange.OrderState, error) {
	var lastErr error
	for attempt := 0; attempt < reconcileMaxAttempts; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		state, err := ex.QueryOrder(queryCtx, symbol, orderID)
		cancel()

		if err == nil && state.Status.Terminal() {
			return state, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("订单仍未到终态: %s", state.Status)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconcileInterval):
		}
	}
	return nil, lastErr
}

// recordFill 成交入账：本地持仓、绩效、持久化
func (ee *ExecutionEngine) recordFill(req *exchange.OrderRequest, ack *exchange.OrderAck, trancheNo int) {
	ee.positions.ApplyFill(req.Venue, req.Symbol, req.Side, ack.FilledQty, ack.AvgPrice)
	ee.perf.OnFill(req.Venue, req.Symbol, req.Side, ack.FilledQty, ack.AvgPrice, 0)

	if ee.svc != nil {
		ee.svc.EnqueueFill(&storage.FillRecord{
			Venue:         string(req.Venue),
			Symbol:        req.Symbol,
			OrderID:       ack.OrderID,
			ClientOrderID: req.ClientOrderID,
			Side:          string(req.Side),
			Price:         ack.AvgPrice,
			Qty:           ack.FilledQty,
			Tranche:       trancheNo,
			CreatedAt:     utils.NowUTC(),
		})
	}

	logger.Info("📊 [成交] %s %s %s %.6f @ %.4f", req.Venue, req.Symbol, req.Side, ack.FilledQty, ack.AvgPrice)
}

// publish 发布执行事件
func (ee *ExecutionEngine) publish(level event.Level, symbol, message string) {
	if ee.bus != nil {
		ee.bus.Publish(event.New(level, "execution", symbol, message))
	}
}
