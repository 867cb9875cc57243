package ingest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"signaldesk/position"
	"signaldesk/safety"
	"signaldesk/signals"
)

func newPipeline(t *testing.T, channels []string, risk *safety.RiskChecker) (*Pipeline, *position.Store) {
	t.Helper()
	ps := signals.NewStore()
	if err := ps.Load(signals.DefaultPatterns()); err != nil {
		t.Fatalf("加载默认规则失败: %v", err)
	}
	store := position.NewStore(nil, position.Config{})
	return NewPipeline(NewChannelSet(channels, nil), signals.NewExtractor(ps, 1), risk, store), store
}

func TestProcessOpensPosition(t *testing.T) {
	p, store := newPipeline(t, []string{"vip"}, nil)

	res, err := p.Process("vip", "LONG BTC Entry: 65000 Leverage: 5x")
	if err != nil {
		t.Fatalf("处理失败: %v", err)
	}
	if res.Outcome != OutcomeOpened || res.Position == nil {
		t.Fatalf("期望开仓, 实际 %+v", res)
	}
	pos, ok := store.Position("BTC")
	if !ok || pos.Side != signals.Long || pos.Leverage != 5 {
		t.Errorf("持仓不符: %+v", pos)
	}
	if !pos.EntryPrice.Equal(decimal.NewFromInt(65000)) {
		t.Errorf("入场价期望 65000, 实际 %s", pos.EntryPrice)
	}
}

func TestProcessIgnoresUnknownChannel(t *testing.T) {
	p, store := newPipeline(t, []string{"vip"}, nil)
	res, err := p.Process("random", "LONG BTC Entry: 65000 Leverage: 5x")
	if err != nil || res.Outcome != OutcomeIgnored {
		t.Fatalf("未监听频道的消息应被忽略, 实际 %+v %v", res, err)
	}
	if store.OpenCount() != 0 {
		t.Errorf("不应开仓")
	}

	// 手动提交不检查频道
	if res, _ := p.Process("", "SHORT ETH Entry: 3000 Leverage: 2x"); res.Outcome != OutcomeOpened {
		t.Errorf("手动提交应开仓, 实际 %s", res.Outcome)
	}
}

func TestProcessNoMatchAndEmptyText(t *testing.T) {
	p, _ := newPipeline(t, nil, nil)
	if res, err := p.Process("", "gm everyone"); err != nil || res.Outcome != OutcomeNoMatch {
		t.Errorf("期望 no_match, 实际 %+v %v", res, err)
	}
	if _, err := p.Process("", "   "); !errors.Is(err, ErrTextRequired) {
		t.Errorf("期望 ErrTextRequired, 实际 %v", err)
	}
}

func TestProcessRiskGate(t *testing.T) {
	risk := safety.NewRiskChecker(safety.RiskConfig{
		MaxLeverage:          10,
		MaxOpenPositions:     1,
		DefaultStopLossPct:   decimal.NewFromInt(2),
		DefaultTakeProfitPct: decimal.NewFromInt(6),
	})
	p, store := newPipeline(t, nil, risk)

	res, _ := p.Process("", "LONG BTC Entry: 100 Leverage: 20x")
	if res.Outcome != OutcomeRejected || res.Reason == "" {
		t.Errorf("超过杠杆上限应被拒绝, 实际 %+v", res)
	}

	res, _ = p.Process("", "LONG BTC Entry: 100 Leverage: 3x")
	if res.Outcome != OutcomeOpened {
		t.Fatalf("期望开仓, 实际 %+v", res)
	}
	pos, _ := store.Position("BTC")
	if pos.StopLoss == nil || !pos.StopLoss.Equal(decimal.NewFromInt(98)) {
		t.Errorf("默认止损期望 98, 实际 %v", pos.StopLoss)
	}

	if res, _ := p.Process("", "LONG ETH Entry: 10 Leverage: 3x"); res.Outcome != OutcomeRejected {
		t.Errorf("持仓数量达上限时应拒绝新交易对, 实际 %s", res.Outcome)
	}
	if res, _ := p.Process("", "SHORT BTC Entry: 101 Leverage: 3x"); res.Outcome != OutcomeOpened {
		t.Errorf("替换已有交易对不占用名额, 实际 %s", res.Outcome)
	}
}

func TestProcessConcurrentRespectsPositionCap(t *testing.T) {
	p, store := newPipeline(t, nil, safety.NewRiskChecker(safety.RiskConfig{MaxLeverage: 10, MaxOpenPositions: 3}))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.Process("", fmt.Sprintf("LONG C%d Entry: 100 Leverage: 2x", i)); err != nil {
				t.Errorf("处理失败: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := store.OpenCount(); n != 3 {
		t.Errorf("并发开仓后持仓数期望 3, 实际 %d", n)
	}
}

func TestPipelineTestIsDryRun(t *testing.T) {
	p, store := newPipeline(t, nil, nil)
	sig, ok := p.Test("SHORT SOL Entry: 150 Leverage: 3x")
	if !ok || sig.Symbol != "SOL" || sig.Side != signals.Short {
		t.Fatalf("识别结果不符: %+v", sig)
	}
	if store.OpenCount() != 0 {
		t.Errorf("试运行不应改变状态")
	}
}

func TestTelegramHandleChannelPost(t *testing.T) {
	p, store := newPipeline(t, []string{"@alpha_calls"}, nil)
	tl := &TelegramListener{pipeline: p}

	tl.handleUpdate(tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -1001, UserName: "alpha_calls", Type: "channel"},
		Text: "LONG BTC Entry: 65000 Leverage: 5x",
	}})
	if _, ok := store.Position("BTC"); !ok {
		t.Error("已监听频道的消息应开仓")
	}

	tl.handleUpdate(tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -1002, UserName: "other", Type: "channel"},
		Text: "LONG ETH Entry: 3000 Leverage: 5x",
	}})
	if _, ok := store.Position("ETH"); ok {
		t.Error("未监听频道的消息不应开仓")
	}
}
