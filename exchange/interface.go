package exchange

import (
	"context"
)

// IExchange 交易所适配器统一接口
//
// 所有方法返回的价格、数量均已归一化为内部约定：
// 价格为计价货币，数量为标的数量，费率为小数。
type IExchange interface {
	// Name 返回交易所标识
	Name() Venue

	// Connect 建立 WS 行情订阅
	Connect(ctx context.Context, symbols []string) error

	// Disconnect 断开连接并清理资源
	Disconnect() error

	// HealthCheck 探活（REST ping 或等价接口）
	HealthCheck(ctx context.Context) error

	// SubscribeQuotes 返回 WS 推送的 BBO 通道（推送仅更新缓存，不驱动决策）
	SubscribeQuotes() <-chan *Quote

	// GetQuote 通过 REST 获取最优买卖报价
	GetQuote(ctx context.Context, symbol string) (*Quote, error)

	// GetOrderBook 获取订单簿快照
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// GetMaxLeverage 从鉴权接口获取该合约的最大杠杆。
	// 凭证缺失或接口失败时必须返回错误，调用方不得使用默认值兜底。
	GetMaxLeverage(ctx context.Context, symbol string) (float64, error)

	// GetFeeRates 获取该合约的挂单/吃单费率
	GetFeeRates(ctx context.Context, symbol string) (FeeRates, error)

	// GetMarkets 获取全部永续合约元数据
	GetMarkets(ctx context.Context) ([]MarketInfo, error)

	// GetCandles 获取 K线（interval 如 "1m"），用于预热回填
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// GetBalance 获取账户余额
	GetBalance(ctx context.Context) ([]Balance, error)

	// GetPositions 获取当前持仓
	GetPositions(ctx context.Context) ([]Position, error)

	// SubmitOrder 下单
	SubmitOrder(ctx context.Context, req *OrderRequest) (*OrderAck, error)

	// QueryOrder 查询订单状态（用于未知成交对账）
	QueryOrder(ctx context.Context, symbol, orderID string) (*OrderState, error)

	// CancelOrder 撤单
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
