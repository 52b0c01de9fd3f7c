package event

import (
	"context"
	"sync"

	"arbmesh/logger"
	"arbmesh/storage"
)

// Notifier 通知发送接口（由 notify 包实现）
type Notifier interface {
	Send(title, message string) error
}

// EventCenter 事件中心：消费总线，维护内存环形缓冲，
// 异步持久化，并按级别触发外部通知。
type EventCenter struct {
	bus      *EventBus
	svc      *storage.StorageService
	notifier Notifier

	mu        sync.RWMutex
	recent    []*Event // 环形缓冲，最新在尾部
	maxRecent int

	listenerMu sync.RWMutex
	listeners  []chan *Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEventCenter 创建事件中心
func NewEventCenter(bus *EventBus, svc *storage.StorageService, notifier Notifier) *EventCenter {
	return &EventCenter{
		bus:       bus,
		svc:       svc,
		notifier:  notifier,
		maxRecent: 500,
	}
}

// Start 启动事件消费协程
func (ec *EventCenter) Start(ctx context.Context) {
	ec.mu.Lock()
	if ec.running {
		ec.mu.Unlock()
		return
	}
	ec.ctx, ec.cancel = context.WithCancel(ctx)
	ec.running = true
	ec.mu.Unlock()

	ec.wg.Add(1)
	go ec.consumeLoop()

	logger.Info("✅ 事件中心已启动")
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	ec.mu.Lock()
	if !ec.running {
		ec.mu.Unlock()
		return
	}
	ec.running = false
	ec.cancel()
	ec.mu.Unlock()

	ec.wg.Wait()
}

// consumeLoop 事件消费循环
func (ec *EventCenter) consumeLoop() {
	defer ec.wg.Done()

	for {
		select {
		case <-ec.ctx.Done():
			return
		case e, ok := <-ec.bus.Subscribe():
			if !ok {
				return
			}
			ec.handle(e)
		}
	}
}

// handle 处理单个事件
func (ec *EventCenter) handle(e *Event) {
	// 内存环形缓冲
	ec.mu.Lock()
	ec.recent = append(ec.recent, e)
	if len(ec.recent) > ec.maxRecent {
		ec.recent = ec.recent[len(ec.recent)-ec.maxRecent:]
	}
	ec.mu.Unlock()

	// 异步持久化
	if ec.svc != nil {
		ec.svc.EnqueueEvent(&storage.EventRecord{
			ID:        e.ID,
			Level:     string(e.Level),
			Source:    e.Source,
			Symbol:    e.Symbol,
			Message:   e.Message,
			CreatedAt: e.Timestamp,
		})
	}

	// warning 以上级别触发外部通知
	if ec.notifier != nil && (e.Level == LevelWarning || e.Level == LevelCritical) {
		go func(ev *Event) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("❌ 通知发送 panic: %v", r)
				}
			}()
			title := "⚠️ 套利引擎告警"
			if ev.Level == LevelCritical {
				title = "🔥 套利引擎严重告警"
			}
			if err := ec.notifier.Send(title, ev.Message); err != nil {
				logger.Warn("⚠️ 通知发送失败: %v", err)
			}
		}(e)
	}

	// 推送给监听者（web websocket 等），非阻塞
	ec.listenerMu.RLock()
	for _, ch := range ec.listeners {
		select {
		case ch <- e:
		default:
		}
	}
	ec.listenerMu.RUnlock()
}

// Recent 返回最近 n 条事件（最新在前）
func (ec *EventCenter) Recent(n int) []*Event {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	if n <= 0 || n > len(ec.recent) {
		n = len(ec.recent)
	}
	out := make([]*Event, n)
	for i := 0; i < n; i++ {
		out[i] = ec.recent[len(ec.recent)-1-i]
	}
	return out
}

// AddListener 注册事件监听通道
func (ec *EventCenter) AddListener(buffer int) chan *Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *Event, buffer)

	ec.listenerMu.Lock()
	ec.listeners = append(ec.listeners, ch)
	ec.listenerMu.Unlock()

	return ch
}

// RemoveListener 注销事件监听通道
func (ec *EventCenter) RemoveListener(ch chan *Event) {
	ec.listenerMu.Lock()
	defer ec.listenerMu.Unlock()

	for i, c := range ec.listeners {
		if c == ch {
			ec.listeners = append(ec.listeners[:i], ec.listeners[i+1:]...)
			close(c)
			return
		}
	}
}
