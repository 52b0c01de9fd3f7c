package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeNotifier) Send(title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, title+": "+message)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// waitFor 轮询直到条件满足或超时
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", msg)
}

func TestEventBusPublishNonBlocking(t *testing.T) {
	// 缓冲 2：第 3 条被丢弃而不是阻塞
	bus := NewEventBus(2)
	bus.Publish(New(LevelInfo, "test", "", "a"))
	bus.Publish(New(LevelInfo, "test", "", "b"))

	done := make(chan struct{})
	go func() {
		bus.Publish(New(LevelInfo, "test", "", "c"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("队列满时 Publish 不应阻塞")
	}
}

func TestEventCenterRecentNewestFirst(t *testing.T) {
	bus := NewEventBus(16)
	ec := NewEventCenter(bus, nil, nil)
	ec.Start(context.Background())
	defer ec.Stop()

	bus.Publish(New(LevelInfo, "test", "BTC", "第一条"))
	bus.Publish(New(LevelInfo, "test", "BTC", "第二条"))
	bus.Publish(New(LevelWarning, "test", "ETH", "第三条"))

	waitFor(t, func() bool { return len(ec.Recent(0)) == 3 }, "消费 3 条事件")

	recent := ec.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) 返回 %d 条", len(recent))
	}
	if recent[0].Message != "第三条" || recent[1].Message != "第二条" {
		t.Fatalf("应最新在前，得到 %s / %s", recent[0].Message, recent[1].Message)
	}
}

func TestEventCenterListenerFanout(t *testing.T) {
	bus := NewEventBus(16)
	ec := NewEventCenter(bus, nil, nil)
	ec.Start(context.Background())
	defer ec.Stop()

	ch := ec.AddListener(8)
	defer ec.RemoveListener(ch)

	bus.Publish(New(LevelInfo, "test", "BTC", "广播"))

	select {
	case e := <-ch:
		if e.Message != "广播" {
			t.Fatalf("监听者收到 %s, 期望 广播", e.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("监听者未收到事件")
	}
}

func TestEventCenterNotifiesOnWarning(t *testing.T) {
	bus := NewEventBus(16)
	fn := &fakeNotifier{}
	ec := NewEventCenter(bus, nil, fn)
	ec.Start(context.Background())
	defer ec.Stop()

	// info 不触发通知，warning/critical 触发
	bus.Publish(New(LevelInfo, "test", "", "普通信息"))
	bus.Publish(New(LevelWarning, "test", "BTC", "净敞口超限"))
	bus.Publish(New(LevelCritical, "test", "BTC", "触发熔断"))

	waitFor(t, func() bool { return fn.count() == 2 }, "发送 2 条通知")
}

func TestEventCenterStopIdempotent(t *testing.T) {
	bus := NewEventBus(16)
	ec := NewEventCenter(bus, nil, nil)
	ec.Start(context.Background())
	ec.Stop()
	ec.Stop() // 重复停止不应 panic
}
