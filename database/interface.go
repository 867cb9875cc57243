package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Database 数据库接口
type Database interface {
	// 已平仓交易
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRecord, error)

	// 事件记录
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	CleanupEvents(ctx context.Context, before time.Time) (int64, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// TradeRecord 已平仓交易记录
type TradeRecord struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol     string          `gorm:"index:idx_symbol_closed;size:50" json:"symbol"`
	Side       string          `gorm:"size:10" json:"side"` // LONG, SHORT
	EntryPrice decimal.Decimal `gorm:"type:decimal(30,10)" json:"entryPrice"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(30,10)" json:"exitPrice"`
	Size       decimal.Decimal `gorm:"type:decimal(30,10)" json:"size"`
	Leverage   int             `json:"leverage"`
	PnL        decimal.Decimal `gorm:"type:decimal(30,10)" json:"pnl"`    // 百分比
	Profit     decimal.Decimal `gorm:"type:decimal(30,10)" json:"profit"` // 金额
	PatternID  string          `gorm:"size:64" json:"patternId,omitempty"`
	Reason     string          `gorm:"size:20" json:"reason"`
	OpenedAt   time.Time       `json:"openedAt"`
	ClosedAt   time.Time       `gorm:"index:idx_symbol_closed" json:"closedAt"`
}

// EventRecord 推送事件记录
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind      string    `gorm:"index;size:50" json:"kind"`
	Topic     string    `gorm:"index;size:20" json:"topic"`
	Symbol    string    `gorm:"index;size:50" json:"symbol,omitempty"`
	Message   string    `gorm:"type:text" json:"message"`
	Payload   string    `gorm:"type:text" json:"payload"` // JSON
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// TradeFilter 交易记录过滤器
type TradeFilter struct {
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// EventFilter 事件记录过滤器
type EventFilter struct {
	Kind      string
	Topic     string
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
