package event

import (
	"time"
)

// Kind 事件类型
type Kind string

const (
	KindPositionOpened  Kind = "position_opened"
	KindPositionUpdated Kind = "position_updated"
	KindPositionClosed  Kind = "position_closed"
	KindBalanceUpdated  Kind = "balance_updated"
)

// 订阅主题
const (
	TopicTrades   = "trades"
	TopicBalances = "balances"
)

// Topics 支持订阅的全部主题
var Topics = []string{TopicTrades, TopicBalances}

// ValidTopic 判断主题是否有效
func ValidTopic(topic string) bool {
	return topic == TopicTrades || topic == TopicBalances
}

// TopicOf 返回事件类型所属的主题
func TopicOf(kind Kind) string {
	if kind == KindBalanceUpdated {
		return TopicBalances
	}
	return TopicTrades
}

// Event 状态变化事件
type Event struct {
	Kind      Kind        `json:"kind"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// New 创建事件，主题由事件类型决定
func New(kind Kind, payload interface{}) Event {
	return Event{
		Kind:      kind,
		Topic:     TopicOf(kind),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher 事件发布接口，实现必须是非阻塞的
type Publisher interface {
	Publish(topic string, ev Event)
}
