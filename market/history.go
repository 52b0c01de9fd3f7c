package market

import (
	"math"
	"sync"
	"time"
)

// HistSample 价差历史样本点
type HistSample struct {
	Ts      time.Time
	EdgeBps float64 // 带符号可成交价差（基点）
	NetBps  float64 // 扣费后名义价差（基点）
}

// SpreadHistory 单交易对价差滚动窗口。
// zscore 基于带符号 edge 序列计算，使用总体标准差。
type SpreadHistory struct {
	mu         sync.RWMutex
	symbol     string
	maWindow   int
	stdWindow  int
	minSamples int
	maxLen     int
	samples    []HistSample
}

// NewSpreadHistory 创建价差历史窗口
func NewSpreadHistory(symbol string, maWindow, stdWindow, minSamples int) *SpreadHistory {
	maxLen := maWindow
	if stdWindow > maxLen {
		maxLen = stdWindow
	}
	// 多保留一些样本用于速度/波动率指标
	if maxLen < 600 {
		maxLen = 600
	}
	return &SpreadHistory{
		symbol:     symbol,
		maWindow:   maWindow,
		stdWindow:  stdWindow,
		minSamples: minSamples,
		maxLen:     maxLen,
		samples:    make([]HistSample, 0, maxLen),
	}
}

// Add 追加一个样本。时间戳必须不早于窗口尾部，乱序样本丢弃
func (h *SpreadHistory) Add(s HistSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.samples); n > 0 && s.Ts.Before(h.samples[n-1].Ts) {
		return
	}
	h.samples = append(h.samples, s)
	if len(h.samples) > h.maxLen {
		h.samples = h.samples[len(h.samples)-h.maxLen:]
	}
}

// Seed 用持久化历史初始化窗口（按时间升序）
func (h *SpreadHistory) Seed(samples []HistSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(samples) > h.maxLen {
		samples = samples[len(samples)-h.maxLen:]
	}
	h.samples = append(h.samples[:0], samples...)
}

// Count 当前样本数
func (h *SpreadHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Ready 是否满足预热样本数要求
func (h *SpreadHistory) Ready() bool {
	return h.Count() >= h.minSamples
}

// lastN 返回最近 n 个 edge 值（调用方需持有读锁）
func (h *SpreadHistory) lastN(n int) []float64 {
	if n > len(h.samples) {
		n = len(h.samples)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = h.samples[len(h.samples)-n+i].EdgeBps
	}
	return out
}

// Mean 最近 maWindow 个样本的均值
func (h *SpreadHistory) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return mean(h.lastN(h.maWindow))
}

// Std 最近 stdWindow 个样本的总体标准差
func (h *SpreadHistory) Std() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return pstdev(h.lastN(h.stdWindow))
}

// Zscore 计算当前值的 z 分数。
// 样本不足或标准差为 0 时 z 恒为 0 且 ready=false。
func (h *SpreadHistory) Zscore(current float64) (z float64, ready bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) < h.minSamples {
		return 0, false
	}

	m := mean(h.lastN(h.maWindow))
	s := pstdev(h.lastN(h.stdWindow))
	if s == 0 {
		return 0, false
	}
	return (current - m) / s, true
}

// Speed 价差变化速度（基点/分钟），在 window 时间窗内用首尾样本估算
func (h *SpreadHistory) Speed(window time.Duration) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) < 2 {
		return 0
	}

	last := h.samples[len(h.samples)-1]
	cutoff := last.Ts.Add(-window)

	first := h.samples[0]
	for i := len(h.samples) - 1; i >= 0; i-- {
		if h.samples[i].Ts.Before(cutoff) {
			break
		}
		first = h.samples[i]
	}

	elapsedMin := last.Ts.Sub(first.Ts).Minutes()
	if elapsedMin <= 0 {
		return 0
	}
	return (last.EdgeBps - first.EdgeBps) / elapsedMin
}

// Volatility 时间窗内 edge 序列的总体标准差
func (h *SpreadHistory) Volatility(window time.Duration) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return 0
	}

	cutoff := h.samples[len(h.samples)-1].Ts.Add(-window)
	values := make([]float64, 0, len(h.samples))
	for _, s := range h.samples {
		if !s.Ts.Before(cutoff) {
			values = append(values, s.EdgeBps)
		}
	}
	return pstdev(values)
}

// mean 算术均值
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// pstdev 总体标准差
func pstdev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
