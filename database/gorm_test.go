package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signaldesk/event"
	"signaldesk/position"
	"signaldesk/signals"
)

func newTestDB(t *testing.T) *GormDatabase {
	t.Helper()
	db, err := NewGormDatabase(&Config{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("创建数据库失败: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func closedTrade(symbol string, entry, exit string, closedAt time.Time) position.ClosedTrade {
	return position.ClosedTrade{
		Position: position.Position{
			Symbol:       symbol,
			Side:         signals.Long,
			EntryPrice:   decimal.RequireFromString(entry),
			CurrentPrice: decimal.RequireFromString(exit),
			Size:         decimal.NewFromInt(100),
			Leverage:     5,
			OpenedAt:     closedAt.Add(-time.Hour),
		},
		ExitPrice: decimal.RequireFromString(exit),
		ClosedAt:  closedAt,
		Reason:    position.ReasonClosed,
	}
}

func TestNewDatabaseRejectsUnknownType(t *testing.T) {
	if _, err := NewDatabase(&Config{Type: "oracle"}); err == nil {
		t.Error("不支持的数据库类型应报错")
	}
}

func TestRecorderPersistsClosedTrade(t *testing.T) {
	db := newTestDB(t)
	rec := NewRecorder(db)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := event.New(event.KindPositionClosed, closedTrade("BTC", "100", "105", now))
	if err := rec.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("记录事件失败: %v", err)
	}

	trades, err := db.GetTrades(ctx, &TradeFilter{Symbol: "BTC"})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("期望 1 条交易记录, 实际 %d", len(trades))
	}
	if !trades[0].PnL.Equal(decimal.NewFromInt(5)) || !trades[0].Profit.Equal(decimal.NewFromInt(5)) {
		t.Errorf("盈亏不符: pnl=%s profit=%s", trades[0].PnL, trades[0].Profit)
	}

	events, err := db.GetEvents(ctx, &EventFilter{Kind: string(event.KindPositionClosed)})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Symbol != "BTC" || events[0].Message == "" {
		t.Errorf("事件记录不符: %+v", events)
	}
}

func TestRecorderSkipsPriceUpdates(t *testing.T) {
	db := newTestDB(t)
	rec := NewRecorder(db)
	ctx := context.Background()

	rec.RecordEvent(ctx, event.New(event.KindPositionUpdated, position.Position{Symbol: "ETH"}))
	rec.RecordEvent(ctx, event.New(event.KindBalanceUpdated, position.Balance{Asset: "mexc", Amount: decimal.NewFromInt(10)}))

	events, _ := db.GetEvents(ctx, nil)
	if len(events) != 1 || events[0].Kind != string(event.KindBalanceUpdated) || events[0].Symbol != "mexc" {
		t.Errorf("只应记录余额事件: %+v", events)
	}
}

func TestGetTradesOrderingAndPaging(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, sym := range []string{"A", "B", "C"} {
		if err := db.SaveTrade(ctx, NewTradeRecord(closedTrade(sym, "10", "11", base.Add(time.Duration(i)*time.Minute)))); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := db.GetTrades(ctx, &TradeFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 || trades[0].Symbol != "C" || trades[1].Symbol != "B" {
		t.Errorf("期望按平仓时间倒序 C,B, 实际 %+v", trades)
	}
	trades, _ = db.GetTrades(ctx, &TradeFilter{Limit: 2, Offset: 2})
	if len(trades) != 1 || trades[0].Symbol != "A" {
		t.Errorf("分页结果不符: %+v", trades)
	}
}

func TestCleanupEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	db.SaveEvent(ctx, &EventRecord{Kind: "balance_updated", Topic: "balances", CreatedAt: old})
	db.SaveEvent(ctx, &EventRecord{Kind: "balance_updated", Topic: "balances", CreatedAt: time.Now().UTC()})

	n, err := db.CleanupEvents(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Errorf("期望删除 1 条, 实际 %d (%v)", n, err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("健康检查失败: %v", err)
	}
}
