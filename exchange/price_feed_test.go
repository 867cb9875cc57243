package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"signaldesk/position"
	"signaldesk/signals"
)

type staticSource struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (s *staticSource) MarkPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.calls++
	return s.prices, s.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPollUpdatesOpenPositions(t *testing.T) {
	store := position.NewStore(nil, position.Config{})
	store.OpenPosition(&signals.Signal{Symbol: "BTC", Side: signals.Long, EntryPrice: d("100"), Leverage: 1})
	store.OpenPosition(&signals.Signal{Symbol: "ETHUSDT", Side: signals.Short, EntryPrice: d("10"), Leverage: 1})
	store.OpenPosition(&signals.Signal{Symbol: "DOGE", Side: signals.Long, EntryPrice: d("1"), Leverage: 1})

	src := &staticSource{prices: map[string]decimal.Decimal{"BTCUSDT": d("105"), "ETHUSDT": d("9")}}
	feed := NewPriceFeed(src, store, "usdt", 0)

	n, err := feed.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("期望更新 2 个持仓, 实际 %d", n)
	}
	btc, _ := store.Position("BTC")
	if !btc.PnL().Equal(d("5")) {
		t.Errorf("BTC 盈亏期望 5%%, 实际 %s", btc.PnL())
	}
	eth, _ := store.Position("ETHUSDT")
	if !eth.PnL().Equal(d("10")) {
		t.Errorf("ETH 空单盈亏期望 10%%, 实际 %s", eth.PnL())
	}
	doge, _ := store.Position("DOGE")
	if !doge.CurrentPrice.Equal(d("1")) {
		t.Errorf("缺少行情的持仓价格不应变化")
	}
}

func TestPollSkipsWithoutPositions(t *testing.T) {
	src := &staticSource{}
	feed := NewPriceFeed(src, position.NewStore(nil, position.Config{}), "USDT", 0)
	if _, err := feed.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls != 0 {
		t.Error("没有持仓时不应请求行情")
	}
}

func TestPollReturnsSourceError(t *testing.T) {
	store := position.NewStore(nil, position.Config{})
	store.OpenPosition(&signals.Signal{Symbol: "BTC", EntryPrice: d("100"), Leverage: 1})
	feed := NewPriceFeed(&staticSource{err: errors.New("boom")}, store, "USDT", 0)
	if _, err := feed.Poll(context.Background()); err == nil {
		t.Error("行情源出错时应返回错误")
	}
}

func TestBinanceSourceParsesPremiumIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/premiumIndex" {
			t.Errorf("路径不符: %s", r.URL.Path)
		}
		w.Write([]byte(`[{"symbol":"BTCUSDT","markPrice":"65000.10","lastFundingRate":"0.0001"},
			{"symbol":"BADUSDT","markPrice":"n/a"}]`))
	}))
	defer srv.Close()

	src := NewBinanceSource(false)
	src.client.BaseURL = srv.URL
	prices, err := src.MarkPrices(context.Background())
	if err != nil {
		t.Fatalf("获取标记价格失败: %v", err)
	}
	if len(prices) != 1 || !prices["BTCUSDT"].Equal(d("65000.10")) {
		t.Errorf("解析结果不符: %v", prices)
	}
}
