package position

import "strings"

// NormalizeSymbol 统一交易对写法：大写、去掉分隔符和计价币后缀。
// 信号里的 BTC 和交易引擎里的 BTCUSDT、BTC/USDT 都归一为 BTC。
func NormalizeSymbol(symbol, quote string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote != "" && len(s) > len(quote) && strings.HasSuffix(s, quote) {
		s = strings.TrimSuffix(s, quote)
	}
	return s
}

// MarketSymbol 币种转换为合约交易对（BTC -> BTCUSDT）
func MarketSymbol(symbol, quote string) string {
	base := NormalizeSymbol(symbol, quote)
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == "" {
		return ""
	}
	return base + quote
}
