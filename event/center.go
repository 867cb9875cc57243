package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signaldesk/logger"
)

// Recorder 事件持久化接口
type Recorder interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// Notifier 通知服务接口
type Notifier interface {
	Notify(ev Event)
}

// Describer 能生成可读描述的事件载荷
type Describer interface {
	Describe() string
}

// Message 生成事件的可读描述
func Message(ev Event) string {
	if d, ok := ev.Payload.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("事件类型: %s", ev.Kind)
}

// CenterConfig 事件中心配置
type CenterConfig struct {
	Enabled     bool
	BufferSize  int
	SaveTimeout time.Duration
	// NotifyKinds 需要发送通知的事件类型，为空时通知开仓和平仓
	NotifyKinds []Kind
}

// EventCenter 事件中心：作为内部订阅者持久化事件并触发通知
type EventCenter struct {
	hub       *Hub
	recorder  Recorder
	notifier  Notifier
	config    CenterConfig
	notify    map[Kind]bool
	observers []func(Event)
	client    *Client
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEventCenter 创建事件中心，recorder 和 notifier 均可为空
func NewEventCenter(hub *Hub, recorder Recorder, notifier Notifier, config CenterConfig) *EventCenter {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = 5 * time.Second
	}
	kinds := config.NotifyKinds
	if len(kinds) == 0 {
		kinds = []Kind{KindPositionOpened, KindPositionClosed}
	}
	notify := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		notify[k] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventCenter{
		hub:      hub,
		recorder: recorder,
		notifier: notifier,
		config:   config,
		notify:   notify,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddObserver 注册事件观察者（在处理协程中同步调用），必须在 Start 之前调用
func (ec *EventCenter) AddObserver(fn func(Event)) {
	ec.observers = append(ec.observers, fn)
}

// Start 启动事件中心
func (ec *EventCenter) Start() error {
	if !ec.config.Enabled {
		logger.Info("⏸️ 事件中心未启用")
		return nil
	}
	logger.Info("🚀 启动事件中心...")

	ec.client = ec.hub.ConnectBuffered(ec.config.BufferSize)
	for _, topic := range Topics {
		if err := ec.hub.Subscribe(ec.client.ID(), topic); err != nil {
			ec.hub.Disconnect(ec.client.ID())
			return fmt.Errorf("事件中心订阅 %s 失败: %w", topic, err)
		}
	}

	ec.wg.Add(1)
	go ec.processEvents(ec.client.Events())

	logger.Info("✅ 事件中心已启动")
	return nil
}

// Stop 停止事件中心
func (ec *EventCenter) Stop() {
	if ec.client == nil {
		return
	}
	logger.Info("🛑 停止事件中心...")
	ec.cancel()
	ec.hub.Disconnect(ec.client.ID())
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (ec *EventCenter) processEvents(events <-chan Event) {
	defer ec.wg.Done()
	for {
		select {
		case <-ec.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ec.handleEvent(ev)
		}
	}
}

func (ec *EventCenter) handleEvent(ev Event) {
	for _, fn := range ec.observers {
		fn(ev)
	}

	if ec.recorder != nil {
		ctx, cancel := context.WithTimeout(ec.ctx, ec.config.SaveTimeout)
		err := ec.recorder.RecordEvent(ctx, ev)
		cancel()
		if err != nil {
			logger.Error("❌ 保存事件失败: %v", err)
		}
	}

	if ec.notifier != nil && ec.notify[ev.Kind] {
		ec.notifier.Notify(ev)
	}
}
