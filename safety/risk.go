package safety

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"signaldesk/signals"
)

// ErrRiskRejected 信号未通过风控检查
var ErrRiskRejected = errors.New("信号未通过风控检查")

var hundred = decimal.NewFromInt(100)

// RiskConfig 开仓风控配置
type RiskConfig struct {
	MaxLeverage          int             // 最大允许杠杆，0 表示不限制
	MaxOpenPositions     int             // 最大持仓数量，0 表示不限制
	DefaultStopLossPct   decimal.Decimal // 信号未给出止损时使用的默认止损百分比
	DefaultTakeProfitPct decimal.Decimal // 信号未给出止盈时使用的默认止盈百分比
}

// RiskChecker 开仓前的风控检查
type RiskChecker struct {
	cfg RiskConfig
}

// NewRiskChecker 创建风控检查器
func NewRiskChecker(cfg RiskConfig) *RiskChecker {
	return &RiskChecker{cfg: cfg}
}

// Check 检查杠杆和持仓数量。replacing 为 true 时信号将替换已有持仓，不占用新的持仓名额
func (r *RiskChecker) Check(sig *signals.Signal, openCount int, replacing bool) error {
	if r.cfg.MaxLeverage > 0 && sig.Leverage > r.cfg.MaxLeverage {
		return fmt.Errorf("%w: %s 杠杆 %dx 超过上限 %dx", ErrRiskRejected, sig.Symbol, sig.Leverage, r.cfg.MaxLeverage)
	}
	if r.cfg.MaxOpenPositions > 0 && !replacing && openCount >= r.cfg.MaxOpenPositions {
		return fmt.Errorf("%w: 持仓数量已达上限 %d", ErrRiskRejected, r.cfg.MaxOpenPositions)
	}
	if sig.StopLoss != nil && !stopLossOnCorrectSide(sig) {
		return fmt.Errorf("%w: %s 止损价 %s 与方向 %s 不符", ErrRiskRejected, sig.Symbol, sig.StopLoss, sig.Side)
	}
	return nil
}

func stopLossOnCorrectSide(sig *signals.Signal) bool {
	if sig.Side == signals.Short {
		return sig.StopLoss.GreaterThan(sig.EntryPrice)
	}
	return sig.StopLoss.LessThan(sig.EntryPrice)
}

// ApplyDefaults 为缺少止损止盈的信号按入场价和方向补全默认值
func (r *RiskChecker) ApplyDefaults(sig *signals.Signal) {
	one := decimal.NewFromInt(1)
	sign := one
	if sig.Side == signals.Short {
		sign = one.Neg()
	}
	if sig.StopLoss == nil && r.cfg.DefaultStopLossPct.IsPositive() {
		sl := sig.EntryPrice.Mul(one.Sub(sign.Mul(r.cfg.DefaultStopLossPct).Div(hundred)))
		sig.StopLoss = &sl
	}
	if sig.TakeProfit == nil && r.cfg.DefaultTakeProfitPct.IsPositive() {
		tp := sig.EntryPrice.Mul(one.Add(sign.Mul(r.cfg.DefaultTakeProfitPct).Div(hundred)))
		sig.TakeProfit = &tp
	}
}
