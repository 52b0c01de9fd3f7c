package exchange

import (
	"fmt"
	"sync"

	"arbmesh/config"
	"arbmesh/logger"
)

// Constructor 交易所客户端构造函数。
// 真实交易所客户端（Paradex / GRVT）由独立的接入层实现并注册。
type Constructor func(cfg config.ExchangeConfig) (IExchange, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Venue]Constructor)
)

// Register 注册交易所客户端构造函数（由接入层 init 调用）
func Register(venue Venue, fn Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[venue]; exists {
		logger.Warn("⚠️ 交易所客户端重复注册，覆盖旧实现: %s", venue)
	}
	registry[venue] = fn
}

// NewExchange 根据配置创建交易所客户端
func NewExchange(venue Venue, cfg config.ExchangeConfig) (IExchange, error) {
	registryMu.RLock()
	fn, ok := registry[venue]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, venue)
	}

	ex, err := fn(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建交易所客户端失败 %s: %w", venue, err)
	}

	logger.Info("✅ 交易所客户端已创建: %s", venue)
	return ex, nil
}

// Registered 返回已注册的交易所列表
func Registered() []Venue {
	registryMu.RLock()
	defer registryMu.RUnlock()

	venues := make([]Venue, 0, len(registry))
	for v := range registry {
		venues = append(venues, v)
	}
	return venues
}
