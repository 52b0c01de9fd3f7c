package risk

import (
	"time"

	"arbmesh/config"
	"arbmesh/exchange"
)

// SymbolRisk 单交易对风控评估结果
type SymbolRisk struct {
	Symbol        string `json:"symbol"`
	Stale         bool   `json:"stale"`
	WsTier        string `json:"ws_tier"`
	ConsistencyOK bool   `json:"consistency_ok"`
	HealthOK      bool   `json:"health_ok"`
	CanOpen       bool   `json:"can_open"`
	FlattenOnly   bool   `json:"flatten_only"`
	Reason        string `json:"reason,omitempty"`
}

// RiskEngine 风控引擎：聚合 WS 监控、报价新鲜度、一致性校验、
// 健康守卫、净敞口守卫与限流器，给出统一判定。
type RiskEngine struct {
	cfg *config.Config

	Ws          *WsSupervisor
	Consistency *ConsistencyGuard
	Health      *HealthGuard
	Exposure    *ExposureGuard
	Limiter     *RateLimiter
}

// NewRiskEngine 按配置构建风控引擎
func NewRiskEngine(cfg *config.Config) *RiskEngine {
	re := &RiskEngine{
		cfg: cfg,
		Ws: NewWsSupervisor(
			time.Duration(cfg.Risk.WsDegradedTimeoutSec)*time.Second,
			time.Duration(cfg.Risk.WsCriticalTimeoutSec)*time.Second,
		),
		Consistency: NewConsistencyGuard(cfg.Risk.ConsistencyToleranceBps, cfg.Risk.ConsistencyMaxFailures),
		Health:      NewHealthGuard(cfg.Risk.HealthFailThreshold, time.Duration(cfg.Risk.HealthCacheMs)*time.Millisecond),
		Exposure:    NewExposureGuard(cfg.Trading.BaseOrderQty, cfg.Risk.NetPosGuardMultiplier, cfg.Risk.HardNetLimitMultiplier),
		Limiter:     NewRateLimiter(),
	}

	for name, exCfg := range cfg.Exchanges {
		venue := exchange.Venue(name)
		re.Limiter.Configure(venue, ScopeMarketData, exCfg.MarketDataLimit.Rate, exCfg.MarketDataLimit.Capacity)
		re.Limiter.Configure(venue, ScopeOrder, exCfg.OrderLimit.Rate, exCfg.OrderLimit.Capacity)
	}

	return re
}

// quoteFresh 报价有效且未过期
func (re *RiskEngine) quoteFresh(q *exchange.Quote, now time.Time) bool {
	if !q.Valid() {
		return false
	}
	return q.AgeMs(now) <= int64(re.cfg.Risk.StaleMs)
}

// EvaluateSymbol 评估单交易对风控状态。
// 任一腿报价过期、数据源异常或交易所不健康都会禁止开仓；
// WS 熔断时只允许平仓。
func (re *RiskEngine) EvaluateSymbol(symbol string, paradexQuote, grvtQuote *exchange.Quote, now time.Time) *SymbolRisk {
	sr := &SymbolRisk{Symbol: symbol, ConsistencyOK: true, HealthOK: true}

	if !re.quoteFresh(paradexQuote, now) || !re.quoteFresh(grvtQuote, now) {
		sr.Stale = true
		sr.Reason = "stale_quote"
	}

	worst := re.Ws.WorstTier([]exchange.Venue{exchange.VenueParadex, exchange.VenueGRVT}, now)
	sr.WsTier = worst.String()
	switch worst {
	case WsTierCritical:
		sr.FlattenOnly = true
		sr.Reason = "ws_critical"
	case WsTierDegraded:
		if sr.Reason == "" {
			sr.Reason = "ws_degraded"
		}
	}

	if re.Consistency.IsBlocked(exchange.VenueParadex, symbol) ||
		re.Consistency.IsBlocked(exchange.VenueGRVT, symbol) {
		sr.ConsistencyOK = false
		if sr.Reason == "" {
			sr.Reason = "consistency_blocked"
		}
	}

	if !re.Health.IsHealthy(exchange.VenueParadex) || !re.Health.IsHealthy(exchange.VenueGRVT) {
		sr.HealthOK = false
		if sr.Reason == "" {
			sr.Reason = "venue_unhealthy"
		}
	}

	exposurePaused := re.Exposure.EntriesPaused()
	if exposurePaused && sr.Reason == "" {
		sr.Reason = "exposure_paused"
	}

	sr.CanOpen = !sr.Stale &&
		worst == WsTierOK &&
		sr.ConsistencyOK &&
		sr.HealthOK &&
		!exposurePaused

	return sr
}
