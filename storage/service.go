package storage

import (
	"context"
	"sync"
	"time"

	"arbmesh/logger"
)

// StorageService 异步持久化服务。
// 写入先进缓冲通道，由后台协程定时批量落盘，落盘失败时降级为日志输出。
type StorageService struct {
	store Storage

	sampleCh chan *SpreadSampleRecord
	eventCh  chan *EventRecord
	fillCh   chan *FillRecord
	logCh    chan *AppLogRecord

	flushInterval time.Duration
	retention     int // 每交易对保留样本条数

	// 每追加 trimEvery 批样本触发一次裁剪
	trimEvery  int
	trimCounts map[string]int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewStorageService 创建异步持久化服务
func NewStorageService(store Storage, bufferSize int, flushInterval time.Duration, retention int) *StorageService {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &StorageService{
		store:         store,
		sampleCh:      make(chan *SpreadSampleRecord, bufferSize),
		eventCh:       make(chan *EventRecord, bufferSize),
		fillCh:        make(chan *FillRecord, bufferSize),
		logCh:         make(chan *AppLogRecord, bufferSize),
		flushInterval: flushInterval,
		retention:     retention,
		trimEvery:     20,
		trimCounts:    make(map[string]int),
	}
}

// Start 启动落盘协程
func (s *StorageService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.flushLoop()

	logger.Info("✅ 存储服务已启动 (flush=%s, retention=%d)", s.flushInterval, s.retention)
}

// Stop 停止服务并做最后一次落盘
func (s *StorageService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.flushAll()
	logger.Info("🛑 存储服务已停止")
}

// EnqueueSample 入队价差样本（满时丢弃）
func (s *StorageService) EnqueueSample(rec *SpreadSampleRecord) {
	select {
	case s.sampleCh <- rec:
	default:
		logger.Warn("⚠️ 价差样本缓冲已满，丢弃: %s", rec.Symbol)
	}
}

// EnqueueEvent 入队事件
func (s *StorageService) EnqueueEvent(rec *EventRecord) {
	select {
	case s.eventCh <- rec:
	default:
		logger.Warn("⚠️ 事件缓冲已满，丢弃: %s", rec.Message)
	}
}

// EnqueueFill 入队成交
func (s *StorageService) EnqueueFill(rec *FillRecord) {
	select {
	case s.fillCh <- rec:
	default:
		logger.Warn("⚠️ 成交缓冲已满，丢弃: %s %s", rec.Venue, rec.Symbol)
	}
}

// EnqueueAppLog 入队应用日志（供 logger.InitLogStorage 挂接）
func (s *StorageService) EnqueueAppLog(level, message string) {
	select {
	case s.logCh <- &AppLogRecord{Level: level, Message: message, CreatedAt: time.Now().UTC()}:
	default:
		// 日志缓冲满时静默丢弃，避免日志风暴
	}
}

// flushLoop 定时批量落盘
func (s *StorageService) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flushAll()
		}
	}
}

// flushAll 将所有缓冲中的记录批量写入存储
func (s *StorageService) flushAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if samples := drain(s.sampleCh); len(samples) > 0 {
		if err := s.store.AppendSpreadSamples(ctx, samples); err != nil {
			logger.Error("❌ 价差样本落盘失败 (%d 条): %v", len(samples), err)
		} else {
			s.maybeTrim(ctx, samples)
		}
	}

	if events := drain(s.eventCh); len(events) > 0 {
		if err := s.store.SaveEvents(ctx, events); err != nil {
			logger.Error("❌ 事件落盘失败 (%d 条): %v", len(events), err)
			for _, e := range events {
				logger.Warn("📝 [事件降级] %s %s: %s", e.Level, e.Source, e.Message)
			}
		}
	}

	if fills := drain(s.fillCh); len(fills) > 0 {
		if err := s.store.SaveFills(ctx, fills); err != nil {
			logger.Error("❌ 成交落盘失败 (%d 条): %v", len(fills), err)
			for _, f := range fills {
				logger.Warn("📝 [成交降级] %s %s %s %.6f @ %.4f", f.Venue, f.Symbol, f.Side, f.Qty, f.Price)
			}
		}
	}

	if logs := drain(s.logCh); len(logs) > 0 {
		// 日志落盘失败不再回写日志，避免循环
		_ = s.store.SaveAppLogs(ctx, logs)
	}
}

// maybeTrim 每 trimEvery 批触发一次按交易对的历史裁剪
func (s *StorageService) maybeTrim(ctx context.Context, samples []*SpreadSampleRecord) {
	if s.retention <= 0 {
		return
	}

	s.mu.Lock()
	toTrim := make([]string, 0)
	for _, rec := range samples {
		s.trimCounts[rec.Symbol]++
		if s.trimCounts[rec.Symbol] >= s.trimEvery {
			s.trimCounts[rec.Symbol] = 0
			toTrim = append(toTrim, rec.Symbol)
		}
	}
	s.mu.Unlock()

	for _, symbol := range toTrim {
		if err := s.store.TrimSpreadHistory(ctx, symbol, s.retention); err != nil {
			logger.Warn("⚠️ 价差历史裁剪失败 %s: %v", symbol, err)
		}
	}
}

// drain 取空缓冲通道
func drain[T any](ch chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
