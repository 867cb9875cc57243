package database

import (
	"context"
	"encoding/json"
	"fmt"

	"signaldesk/event"
	"signaldesk/position"
)

// Recorder 将事件中心收到的事件写入数据库，平仓事件额外生成交易记录
type Recorder struct {
	db Database
}

// NewRecorder 创建事件记录器
func NewRecorder(db Database) *Recorder {
	return &Recorder{db: db}
}

// RecordEvent 实现 event.Recorder。价格更新过于频繁，不落库
func (r *Recorder) RecordEvent(ctx context.Context, ev event.Event) error {
	if ev.Kind == event.KindPositionUpdated {
		return nil
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("序列化事件载荷失败: %w", err)
	}
	rec := &EventRecord{
		Kind:      string(ev.Kind),
		Topic:     ev.Topic,
		Symbol:    symbolOf(ev.Payload),
		Message:   event.Message(ev),
		Payload:   string(payload),
		CreatedAt: ev.Timestamp,
	}
	if err := r.db.SaveEvent(ctx, rec); err != nil {
		return fmt.Errorf("保存事件失败: %w", err)
	}

	if closed, ok := ev.Payload.(position.ClosedTrade); ok {
		if err := r.db.SaveTrade(ctx, NewTradeRecord(closed)); err != nil {
			return fmt.Errorf("保存交易记录失败: %w", err)
		}
	}
	return nil
}

// NewTradeRecord 由已平仓交易生成数据库记录
func NewTradeRecord(t position.ClosedTrade) *TradeRecord {
	return &TradeRecord{
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Size:       t.Size,
		Leverage:   t.Leverage,
		PnL:        t.PnL().Round(4),
		Profit:     t.Profit().Round(4),
		PatternID:  t.PatternID,
		Reason:     t.Reason,
		OpenedAt:   t.OpenedAt,
		ClosedAt:   t.ClosedAt,
	}
}

func symbolOf(payload interface{}) string {
	switch p := payload.(type) {
	case position.Position:
		return p.Symbol
	case position.ClosedTrade:
		return p.Symbol
	case position.Balance:
		return p.Asset
	}
	return ""
}
