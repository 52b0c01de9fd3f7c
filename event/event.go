package event

import (
	"time"

	"arbmesh/logger"
	"arbmesh/utils"
)

// Level 事件级别
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Event 运营事件
type Event struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Source    string    `json:"source"` // scanner / spread / risk / execution / orchestrator / system
	Symbol    string    `json:"symbol,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// New 构造事件
func New(level Level, source, symbol, message string) *Event {
	return &Event{
		ID:        utils.NewEventID(),
		Level:     level,
		Source:    source,
		Symbol:    symbol,
		Message:   message,
		Timestamp: utils.NowUTC(),
	}
}

// EventBus 事件总线
type EventBus struct {
	eventCh    chan *Event
	bufferSize int
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(e *Event) {
	if e == nil {
		return
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = utils.NowUTC()
	}
	if e.ID == "" {
		e.ID = utils.NewEventID()
	}

	select {
	case eb.eventCh <- e:
		// 成功发布
	default:
		// Channel 满了，记录警告但不阻塞
		logger.Warn("⚠️ 事件队列已满，丢弃事件: [%s] %s", e.Level, e.Message)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	close(eb.eventCh)
}
