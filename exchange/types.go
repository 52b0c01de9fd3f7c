package exchange

import (
	"time"
)

// Venue 交易所标识
type Venue string

const (
	VenueParadex Venue = "paradex"
	VenueGRVT    Venue = "grvt"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// QuoteSource 报价来源
type QuoteSource string

const (
	SourceWs   QuoteSource = "ws"
	SourceRest QuoteSource = "rest"
)

// Quote 最优买卖报价（BBO）
type Quote struct {
	Venue     Venue       `json:"venue"`
	Symbol    string      `json:"symbol"`
	Bid       float64     `json:"bid"`
	Ask       float64     `json:"ask"`
	Timestamp time.Time   `json:"timestamp"`
	Source    QuoteSource `json:"source"`
}

// Valid 报价是否可用
func (q *Quote) Valid() bool {
	return q != nil && q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}

// Mid 中间价
func (q *Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// AgeMs 报价距今的毫秒数
func (q *Quote) AgeMs(now time.Time) int64 {
	return now.Sub(q.Timestamp).Milliseconds()
}

// OrderBookLevel 订单簿单档
type OrderBookLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// OrderBook 订单簿快照
type OrderBook struct {
	Venue     Venue            `json:"venue"`
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"` // 按价格降序
	Asks      []OrderBookLevel `json:"asks"` // 按价格升序
	Timestamp time.Time        `json:"timestamp"`
}

// TopQuote 从订单簿顶档构造 BBO
func (ob *OrderBook) TopQuote() *Quote {
	if ob == nil || len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return nil
	}
	return &Quote{
		Venue:     ob.Venue,
		Symbol:    ob.Symbol,
		Bid:       ob.Bids[0].Price,
		Ask:       ob.Asks[0].Price,
		Timestamp: ob.Timestamp,
		Source:    SourceRest,
	}
}

// Balance 账户余额
type Balance struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// Position 持仓（Qty 带符号，正为多头）
type Position struct {
	Venue         Venue   `json:"venue"`
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// FeeRates 费率（小数表示）
type FeeRates struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// MarketInfo 永续合约元数据
type MarketInfo struct {
	Symbol     string  `json:"symbol"`
	Base       string  `json:"base"`
	Quote      string  `json:"quote"`
	TickSize   float64 `json:"tick_size"`
	StepSize   float64 `json:"step_size"`
	MinQty     float64 `json:"min_qty"`
}

// Candle K线（用于预热回填，OpenTime 对齐到周期起点）
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAcked           OrderStatus = "acked"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusUnknown         OrderStatus = "unknown"
)

// Terminal 订单是否已到终态
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled:
		return true
	}
	return false
}

// OrderRequest 下单请求
type OrderRequest struct {
	Venue         Venue     `json:"venue"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Price         float64   `json:"price"` // 市价单为 0
	Qty           float64   `json:"qty"`
	PostOnly      bool      `json:"post_only"`
	ReduceOnly    bool      `json:"reduce_only"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderAck 下单回执
type OrderAck struct {
	OrderID       string      `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Status        OrderStatus `json:"status"`
	FilledQty     float64     `json:"filled_qty"`
	AvgPrice      float64     `json:"avg_price"`
	Reason        string      `json:"reason"` // 拒单原因
	CreatedAt     time.Time   `json:"created_at"`
}

// OrderState 订单查询结果
type OrderState struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	FilledQty float64     `json:"filled_qty"`
	AvgPrice  float64     `json:"avg_price"`
	UpdatedAt time.Time   `json:"updated_at"`
}
