package event

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("通道已关闭")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("等待事件超时")
	}
	return Event{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("不应收到事件, 实际 %+v", ev)
	default:
	}
}

func TestHubSubscribeErrors(t *testing.T) {
	h := NewHub(4)
	c := h.Connect()

	if err := h.Subscribe(c.ID(), "orders"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("期望 ErrUnknownTopic, 实际 %v", err)
	}
	if err := h.Subscribe("nope", TopicTrades); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("期望 ErrUnknownClient, 实际 %v", err)
	}
	if err := h.Unsubscribe("nope", TopicTrades); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("期望 ErrUnknownClient, 实际 %v", err)
	}
}

func TestHubBalanceFanOut(t *testing.T) {
	h := NewHub(4)
	a, b, other := h.Connect(), h.Connect(), h.Connect()
	h.Subscribe(a.ID(), TopicBalances)
	h.Subscribe(b.ID(), TopicBalances)
	h.Subscribe(other.ID(), TopicTrades)

	payload := map[string]interface{}{"asset": "SOL", "amount": 12.5}
	h.Publish(TopicBalances, New(KindBalanceUpdated, payload))

	for _, c := range []*Client{a, b} {
		ev := recv(t, c)
		if ev.Kind != KindBalanceUpdated || ev.Topic != TopicBalances {
			t.Errorf("事件不符: %+v", ev)
		}
		p := ev.Payload.(map[string]interface{})
		if p["asset"] != "SOL" || p["amount"] != 12.5 {
			t.Errorf("载荷不符: %+v", p)
		}
	}
	assertEmpty(t, other)
}

func TestHubNoReplayForLateSubscribers(t *testing.T) {
	h := NewHub(4)
	c := h.Connect()
	h.Publish(TopicTrades, New(KindPositionOpened, "early"))
	h.Subscribe(c.ID(), TopicTrades)
	assertEmpty(t, c)
}

func TestHubPerTopicOrdering(t *testing.T) {
	h := NewHub(256)
	var clients []*Client
	for i := 0; i < 3; i++ {
		c := h.Connect()
		h.Subscribe(c.ID(), TopicTrades)
		clients = append(clients, c)
	}

	const n = 200
	for i := 0; i < n; i++ {
		h.Publish(TopicTrades, New(KindPositionUpdated, i))
	}
	for _, c := range clients {
		for i := 0; i < n; i++ {
			ev := recv(t, c)
			if ev.Payload.(int) != i {
				t.Fatalf("连接 %s 期望第 %d 个事件, 实际 %v", c.ID(), i, ev.Payload)
			}
		}
	}
}

func TestHubDropOldestOnOverflow(t *testing.T) {
	h := NewHub(2)
	var drops int
	h.OnDrop(func(string) { drops++ })

	c := h.Connect()
	h.Subscribe(c.ID(), TopicTrades)
	for i := 1; i <= 5; i++ {
		h.Publish(TopicTrades, New(KindPositionUpdated, i))
	}

	if got := recv(t, c).Payload.(int); got != 4 {
		t.Errorf("溢出后期望保留最新事件 4, 实际 %d", got)
	}
	if got := recv(t, c).Payload.(int); got != 5 {
		t.Errorf("期望 5, 实际 %d", got)
	}
	if c.Dropped() != 3 || drops != 3 {
		t.Errorf("期望丢弃 3 个事件, 实际 %d / %d", c.Dropped(), drops)
	}
}

func TestHubSlowSubscriberIsolation(t *testing.T) {
	h := NewHub(1)
	slow := h.Connect()
	fast := h.ConnectBuffered(128)
	h.Subscribe(slow.ID(), TopicTrades)
	h.Subscribe(fast.ID(), TopicTrades)

	done := make(chan struct{})
	received := 0
	go func() {
		defer close(done)
		for range fast.Events() {
			received++
			if received == 100 {
				return
			}
		}
	}()

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 100; i++ {
			h.Publish(TopicTrades, New(KindPositionUpdated, i))
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatal("慢连接阻塞了发布")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("健康连接只收到 %d 个事件", received)
	}
	if slow.Dropped() == 0 {
		t.Errorf("慢连接应有丢弃计数")
	}
}

func TestHubDisconnectIsIdempotent(t *testing.T) {
	h := NewHub(4)
	c := h.Connect()
	h.Subscribe(c.ID(), TopicTrades)
	h.Subscribe(c.ID(), TopicBalances)
	h.Publish(TopicTrades, New(KindPositionOpened, 1))

	h.Disconnect(c.ID())
	h.Disconnect(c.ID())

	if _, ok := <-c.Events(); ok {
		t.Errorf("断开后通道应关闭且缓冲已清空")
	}
	if h.ClientCount() != 0 || h.SubscriberCount(TopicTrades) != 0 || h.SubscriberCount(TopicBalances) != 0 {
		t.Errorf("断开后不应残留订阅")
	}
	if err := h.Subscribe(c.ID(), TopicTrades); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("断开后订阅应返回 ErrUnknownClient, 实际 %v", err)
	}
	h.Publish(TopicTrades, New(KindPositionOpened, 2))
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(4)
	c := h.Connect()
	h.Subscribe(c.ID(), TopicTrades)
	h.Subscribe(c.ID(), TopicBalances)
	if err := h.Unsubscribe(c.ID(), TopicTrades); err != nil {
		t.Fatalf("取消订阅失败: %v", err)
	}
	topics, _ := h.Topics(c.ID())
	if len(topics) != 1 || topics[0] != TopicBalances {
		t.Errorf("订阅主题不符: %v", topics)
	}
	h.Publish(TopicTrades, New(KindPositionOpened, 1))
	assertEmpty(t, c)
}

func TestHubConcurrentConnections(t *testing.T) {
	h := NewHub(8)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := h.Connect()
			h.Subscribe(c.ID(), TopicTrades)
			h.Subscribe(c.ID(), TopicBalances)
			h.Disconnect(c.ID())
		}()
		go func(i int) {
			defer wg.Done()
			h.Publish(TopicTrades, New(KindPositionUpdated, fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()
	if n := h.ClientCount(); n != 0 {
		t.Errorf("期望 0 个连接, 实际 %d", n)
	}
}
