package storage

import (
	"context"
	"time"
)

// SpreadSampleRecord 价差历史样本（预热回填与统计窗口的持久化来源）
type SpreadSampleRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol      string    `gorm:"uniqueIndex:idx_symbol_ts;size:50" json:"symbol"`
	Ts          int64     `gorm:"uniqueIndex:idx_symbol_ts" json:"ts"` // Unix 毫秒
	EdgeBps     float64   `json:"edge_bps"`                            // 带符号可成交价差（基点）
	NetBps      float64   `json:"net_bps"`                             // 扣费后名义价差（基点）
	ParadexMid  float64   `json:"paradex_mid"`
	GrvtMid     float64   `json:"grvt_mid"`
	Zscore      float64   `json:"zscore"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// EventRecord 运营事件
type EventRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Level     string    `gorm:"index;size:20" json:"level"` // info / warning / critical
	Source    string    `gorm:"index;size:50" json:"source"`
	Symbol    string    `gorm:"index;size:50" json:"symbol"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// FillRecord 成交记录
type FillRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Venue         string    `gorm:"index:idx_venue_symbol;size:20" json:"venue"`
	Symbol        string    `gorm:"index:idx_venue_symbol;size:50" json:"symbol"`
	OrderID       string    `gorm:"index;size:64" json:"order_id"`
	ClientOrderID string    `gorm:"size:100" json:"client_order_id"`
	Side          string    `gorm:"size:10" json:"side"`
	Price         float64   `json:"price"`
	Qty           float64   `json:"qty"`
	Fee           float64   `json:"fee"`
	Tranche       int       `json:"tranche"` // 所属分批序号，0 表示非分批单
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

// AppLogRecord 应用日志（logger 异步落库）
type AppLogRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Level     string    `gorm:"index;size:10" json:"level"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// EventFilter 事件查询过滤器
type EventFilter struct {
	Level     string
	Source    string
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// FillFilter 成交查询过滤器
type FillFilter struct {
	Venue  string
	Symbol string
	Limit  int
	Offset int
}

// Storage 持久化接口
type Storage interface {
	// 价差历史
	AppendSpreadSamples(ctx context.Context, samples []*SpreadSampleRecord) error
	LoadSpreadHistory(ctx context.Context, symbol string, limit int) ([]*SpreadSampleRecord, error)
	TrimSpreadHistory(ctx context.Context, symbol string, keep int) error

	// 事件
	SaveEvents(ctx context.Context, events []*EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)

	// 成交
	SaveFills(ctx context.Context, fills []*FillRecord) error
	GetFills(ctx context.Context, filter *FillFilter) ([]*FillRecord, error)

	// 应用日志
	SaveAppLogs(ctx context.Context, logs []*AppLogRecord) error

	// 健康检查与关闭
	Ping(ctx context.Context) error
	Close() error
}
