package event

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"signaldesk/logger"
)

var (
	// ErrUnknownClient 连接不存在或已断开
	ErrUnknownClient = errors.New("连接不存在")
	// ErrUnknownTopic 不支持的订阅主题
	ErrUnknownTopic = errors.New("不支持的订阅主题")
)

// DefaultBufferSize 每个连接默认的发送缓冲区大小
const DefaultBufferSize = 64

// Client 推送连接句柄
type Client struct {
	id      string
	send    chan Event
	topics  map[string]struct{} // 由 Hub.mu 保护
	dropped atomic.Int64
}

// ID 连接标识
func (c *Client) ID() string { return c.id }

// Events 事件接收通道，连接断开后关闭
func (c *Client) Events() <-chan Event { return c.send }

// Dropped 因缓冲区满被丢弃的事件数
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// offer 非阻塞投递，缓冲区满时丢弃最旧的事件。调用方必须持有 Hub.mu
func (c *Client) offer(ev Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
	}
	select {
	case <-c.send:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.send <- ev:
		return false
	default:
		c.dropped.Add(1)
		return false
	}
}

// Hub 广播中心，独占维护连接与主题订阅表
//
// 同一主题的发布在 mu 下串行扇出，因此每个订阅者看到的顺序与发布顺序一致。
// 投递不会阻塞：慢连接只会丢失自己的旧事件。
type Hub struct {
	mu         sync.Mutex
	clients    map[string]*Client
	topics     map[string]map[string]*Client
	seq        uint64
	bufferSize int
	onDrop     func(topic string)
}

// NewHub 创建广播中心
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	topics := make(map[string]map[string]*Client, len(Topics))
	for _, t := range Topics {
		topics[t] = make(map[string]*Client)
	}
	return &Hub{
		clients:    make(map[string]*Client),
		topics:     topics,
		bufferSize: bufferSize,
	}
}

// OnDrop 注册丢弃事件回调（用于指标统计）
func (h *Hub) OnDrop(fn func(topic string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Connect 注册新连接
func (h *Hub) Connect() *Client {
	return h.ConnectBuffered(h.bufferSize)
}

// ConnectBuffered 使用指定缓冲区大小注册新连接
func (h *Hub) ConnectBuffered(size int) *Client {
	if size <= 0 {
		size = h.bufferSize
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	c := &Client{
		id:     fmt.Sprintf("c-%d", h.seq),
		send:   make(chan Event, size),
		topics: make(map[string]struct{}),
	}
	h.clients[c.id] = c
	logger.Debug("🔌 推送连接已注册: %s (当前 %d 个)", c.id, len(h.clients))
	return c
}

// Subscribe 订阅主题，重复订阅无副作用
func (h *Hub) Subscribe(id, topic string) error {
	if !ValidTopic(topic) {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	c.topics[topic] = struct{}{}
	h.topics[topic][id] = c
	return nil
}

// Unsubscribe 取消订阅主题
func (h *Hub) Unsubscribe(id, topic string) error {
	if !ValidTopic(topic) {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	delete(c.topics, topic)
	delete(h.topics[topic], id)
	return nil
}

// Publish 将事件投递给当前订阅该主题的所有连接，不等待投递完成
func (h *Hub) Publish(topic string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	if ev.Topic == "" {
		ev.Topic = topic
	}
	for _, c := range subs {
		if !c.offer(ev) {
			logger.Debug("⚠️ 连接 %s 缓冲区已满，丢弃最旧事件", c.id)
			if h.onDrop != nil {
				h.onDrop(topic)
			}
		}
	}
}

// Disconnect 断开连接并释放其订阅和未投递的事件，可重复调用
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)
	for topic := range c.topics {
		delete(h.topics[topic], id)
	}
	c.topics = nil
	close(c.send)
	remaining := len(h.clients)
	h.mu.Unlock()

	for range c.send {
	}
	logger.Debug("🔌 推送连接已断开: %s (剩余 %d 个)", id, remaining)
}

// Topics 返回连接当前订阅的主题
func (h *Hub) Topics(id string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// SubscriberCount 主题的订阅者数量
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
