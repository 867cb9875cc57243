package position

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in, quote, want string
	}{
		{"btc", "USDT", "BTC"},
		{" BTCUSDT ", "USDT", "BTC"},
		{"eth/usdt", "usdt", "ETH"},
		{"SOL-USDT", "USDT", "SOL"},
		{"USDT", "USDT", "USDT"},
		{"BTCUSDT", "", "BTCUSDT"},
		{"1000PEPE_USDT", "USDT", "1000PEPE"},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in, tt.quote); got != tt.want {
			t.Errorf("NormalizeSymbol(%q, %q) 期望 %s, 实际 %s", tt.in, tt.quote, tt.want, got)
		}
	}

	if got := MarketSymbol("btc", "USDT"); got != "BTCUSDT" {
		t.Errorf("期望 BTCUSDT, 实际 %s", got)
	}
	if got := MarketSymbol("BTCUSDT", "USDT"); got != "BTCUSDT" {
		t.Errorf("已带计价币时不应重复拼接, 实际 %s", got)
	}
	if got := MarketSymbol("BTC", ""); got != "BTC" {
		t.Errorf("未配置计价币时应保持原样, 实际 %s", got)
	}
}

func TestStoreUsesNormalizedSymbols(t *testing.T) {
	s := NewStore(nil, Config{Quote: "USDT"})
	if _, err := s.Adopt(Position{Symbol: "BTCUSDT", EntryPrice: dec("100")}); err != nil {
		t.Fatalf("登记持仓失败: %v", err)
	}
	if _, ok := s.Position("BTC"); !ok {
		t.Fatal("BTCUSDT 应登记为 BTC")
	}
	if !s.UpdatePrice("btc/usdt", dec("110")) {
		t.Error("不同写法的交易对应更新同一持仓")
	}
	if _, err := s.ClosePosition("BTC"); err != nil {
		t.Errorf("平仓失败: %v", err)
	}
	if s.OpenCount() != 0 {
		t.Errorf("期望无持仓, 实际 %d", s.OpenCount())
	}
}
