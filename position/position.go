package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signaldesk/signals"
)

var (
	// ErrNotFound 交易对没有持仓
	ErrNotFound = errors.New("持仓不存在")
	// ErrInvalidSignal 信号缺少交易对或入场价
	ErrInvalidSignal = errors.New("无效的开仓信号")
)

var hundred = decimal.NewFromInt(100)

// 平仓原因
const (
	ReasonClosed   = "closed"
	ReasonReplaced = "replaced"
	ReasonExternal = "external"
)

// Position 持仓
type Position struct {
	Symbol       string           `json:"symbol"`
	Side         signals.Side     `json:"side"`
	EntryPrice   decimal.Decimal  `json:"entryPrice"`
	CurrentPrice decimal.Decimal  `json:"currentPrice"`
	Size         decimal.Decimal  `json:"size"`
	Leverage     int              `json:"leverage"`
	StopLoss     *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"takeProfit,omitempty"`
	PatternID    string           `json:"patternId,omitempty"`
	OpenedAt     time.Time        `json:"openedAt"`
}

// PnL 浮动盈亏百分比，由入场价和当前价推导，不单独存储
func (p Position) PnL() decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == signals.Short {
		diff = diff.Neg()
	}
	return diff.Div(p.EntryPrice).Mul(hundred)
}

// Profit 按仓位规模计算的浮动盈亏金额
func (p Position) Profit() decimal.Decimal {
	return p.Size.Mul(p.PnL()).Div(hundred)
}

// MarshalJSON 输出时附带 pnl 字段
func (p Position) MarshalJSON() ([]byte, error) {
	type plain Position
	return json.Marshal(struct {
		plain
		PnL decimal.Decimal `json:"pnl"`
	}{plain(p), p.PnL().Round(2)})
}

// Describe 事件描述
func (p Position) Describe() string {
	return fmt.Sprintf("%s %s %dx 入场 %s 现价 %s (%s%%)",
		p.Symbol, p.Side, p.Leverage, p.EntryPrice, p.CurrentPrice, p.PnL().StringFixed(2))
}

// ClosedTrade 已平仓交易
type ClosedTrade struct {
	Position
	ExitPrice decimal.Decimal `json:"exitPrice"`
	ClosedAt  time.Time       `json:"closedAt"`
	Reason    string          `json:"reason"`
}

// MarshalJSON 输出时附带已实现盈亏
func (t ClosedTrade) MarshalJSON() ([]byte, error) {
	type plain Position
	return json.Marshal(struct {
		plain
		PnL       decimal.Decimal `json:"pnl"`
		Profit    decimal.Decimal `json:"profit"`
		ExitPrice decimal.Decimal `json:"exitPrice"`
		ClosedAt  time.Time       `json:"closedAt"`
		Reason    string          `json:"reason"`
	}{plain(t.Position), t.PnL().Round(2), t.Profit().Round(2), t.ExitPrice, t.ClosedAt, t.Reason})
}

// Describe 事件描述
func (t ClosedTrade) Describe() string {
	return fmt.Sprintf("%s %s 平仓 @ %s，盈亏 %s%% (%s)",
		t.Symbol, t.Side, t.ExitPrice, t.PnL().StringFixed(2), t.Reason)
}

// Balance 账户余额变化
type Balance struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Describe 事件描述
func (b Balance) Describe() string {
	return fmt.Sprintf("%s 余额更新: %s", b.Asset, b.Amount)
}
