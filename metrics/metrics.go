package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标集，由调度器每个 tick 集中刷新。
var (
	TickTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbmesh_tick_total",
		Help: "主循环 tick 累计次数",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbmesh_tick_duration_seconds",
		Help:    "单个 tick 耗时分布",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	Zscore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbmesh_zscore",
		Help: "各交易对最新 zscore",
	}, []string{"symbol"})

	NetEdgeBps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbmesh_net_edge_bps",
		Help: "各交易对扣费后名义价差（基点）",
	}, []string{"symbol"})

	NetExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbmesh_net_exposure",
		Help: "全局价格加权净敞口绝对值之和",
	})

	WsTier = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbmesh_ws_tier",
		Help: "各交易所 WS 行情状态 (0=ok 1=degraded 2=critical)",
	}, []string{"venue"})

	WarmupReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbmesh_warmup_ready",
		Help: "全局预热是否完成 (1=完成)",
	})

	TradesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbmesh_trades_total",
		Help: "成交累计笔数",
	})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbmesh_realized_pnl",
		Help: "已实现盈亏",
	})

	RateLimitRejected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbmesh_rate_limit_rejected_total",
		Help: "各令牌桶累计拒绝次数",
	}, []string{"bucket"})
)
