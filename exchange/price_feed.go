package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"signaldesk/logger"
	"signaldesk/position"
)

// PriceSource 标记价格来源
type PriceSource interface {
	// MarkPrices 返回 交易对 -> 标记价格，例如 BTCUSDT -> 65000
	MarkPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// PriceUpdater 接收价格更新的持仓存储
type PriceUpdater interface {
	Symbols() []string
	UpdatePrice(symbol string, price decimal.Decimal) bool
}

// BinanceSource 从币安 U 本位合约 premiumIndex 接口获取全部标记价格
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource 创建币安行情源，只调用公开接口，不需要 API Key
func NewBinanceSource(testnet bool) *BinanceSource {
	// 必须在创建客户端之前设置
	futures.UseTestnet = testnet
	return &BinanceSource{client: futures.NewClient("", "")}
}

// MarkPrices 实现 PriceSource
func (b *BinanceSource) MarkPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	list, err := b.client.NewPremiumIndexService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取标记价格失败: %w", err)
	}
	prices := make(map[string]decimal.Decimal, len(list))
	for _, idx := range list {
		price, err := decimal.NewFromString(idx.MarkPrice)
		if err != nil || !price.IsPositive() {
			continue
		}
		prices[idx.Symbol] = price
	}
	return prices, nil
}

// PriceFeed 定期刷新持仓的当前价格，驱动浮动盈亏和 position_updated 推送
type PriceFeed struct {
	source   PriceSource
	store    PriceUpdater
	quote    string
	interval time.Duration
}

// NewPriceFeed 创建价格订阅，quote 为信号币种拼接的计价币（如 USDT）
func NewPriceFeed(source PriceSource, store PriceUpdater, quote string, interval time.Duration) *PriceFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PriceFeed{
		source:   source,
		store:    store,
		quote:    strings.ToUpper(quote),
		interval: interval,
	}
}

// Start 启动轮询，ctx 取消后停止
func (pf *PriceFeed) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pf.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("⏹️ 价格订阅已停止")
				return
			case <-ticker.C:
				if _, err := pf.Poll(ctx); err != nil {
					logger.Warn("⚠️ [价格订阅] %v", err)
				}
			}
		}
	}()
	logger.Info("✅ 价格订阅已启动 (间隔: %v)", pf.interval)
}

// Poll 拉取一次价格并更新所有持仓，返回更新的持仓数
func (pf *PriceFeed) Poll(ctx context.Context) (int, error) {
	symbols := pf.store.Symbols()
	if len(symbols) == 0 {
		return 0, nil
	}
	prices, err := pf.source.MarkPrices(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, sym := range symbols {
		price, ok := prices[position.MarketSymbol(sym, pf.quote)]
		if !ok {
			continue
		}
		if pf.store.UpdatePrice(sym, price) {
			updated++
		}
	}
	return updated, nil
}
