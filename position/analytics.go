package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"signaldesk/utils"
)

// Stats 已平仓交易统计（基于保留窗口内的最近交易）
type Stats struct {
	WinRate     decimal.Decimal `json:"winRate"`
	TotalTrades int             `json:"totalTrades"`
	AvgProfit   decimal.Decimal `json:"avgProfit"`
	AvgLoss     decimal.Decimal `json:"avgLoss"`
	TotalPnL    decimal.Decimal `json:"totalPnl"`
}

// PnLPoint 每日累计盈亏
type PnLPoint struct {
	Date string          `json:"date"`
	PnL  decimal.Decimal `json:"pnl"`
}

// AssetShare 资产分布
type AssetShare struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Share  decimal.Decimal `json:"share"`
}

// Analytics 仪表盘分析数据
type Analytics struct {
	Stats        Stats         `json:"stats"`
	PnLHistory   []PnLPoint    `json:"pnlHistory"`
	RecentTrades []ClosedTrade `json:"recentTrades"`
	Distribution []AssetShare  `json:"distribution"`
}

// recentTradesLimit 分析数据中返回的最近交易数量
const recentTradesLimit = 10

// Stats 计算胜率、平均盈利、平均亏损（百分比）和累计盈亏金额
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.history)
}

func computeStats(trades []ClosedTrade) Stats {
	st := Stats{
		WinRate:   decimal.Zero,
		AvgProfit: decimal.Zero,
		AvgLoss:   decimal.Zero,
		TotalPnL:  decimal.Zero,
	}
	if len(trades) == 0 {
		return st
	}
	var (
		wins, losses       int
		sumProfit, sumLoss decimal.Decimal
	)
	for _, t := range trades {
		pnl := t.PnL()
		st.TotalPnL = st.TotalPnL.Add(t.Profit())
		switch {
		case pnl.IsPositive():
			wins++
			sumProfit = sumProfit.Add(pnl)
		case pnl.IsNegative():
			losses++
			sumLoss = sumLoss.Add(pnl)
		}
	}
	st.TotalTrades = len(trades)
	st.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(trades)))).Mul(hundred).Round(2)
	if wins > 0 {
		st.AvgProfit = sumProfit.Div(decimal.NewFromInt(int64(wins))).Round(2)
	}
	if losses > 0 {
		st.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(losses))).Round(2)
	}
	st.TotalPnL = st.TotalPnL.Round(2)
	return st
}

// Analytics 汇总统计、每日累计盈亏、最近交易和资产分布
func (s *Store) Analytics() Analytics {
	s.mu.RLock()
	history := make([]ClosedTrade, len(s.history))
	copy(history, s.history)
	balances := make(map[string]decimal.Decimal, len(s.balances))
	for a, v := range s.balances {
		balances[a] = v
	}
	s.mu.RUnlock()

	out := Analytics{
		Stats:        computeStats(history),
		PnLHistory:   pnlHistory(history),
		RecentTrades: make([]ClosedTrade, 0, recentTradesLimit),
		Distribution: distribution(balances),
	}
	for i := len(history) - 1; i >= 0 && len(out.RecentTrades) < recentTradesLimit; i-- {
		out.RecentTrades = append(out.RecentTrades, history[i])
	}
	return out
}

func pnlHistory(trades []ClosedTrade) []PnLPoint {
	sorted := make([]ClosedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClosedAt.Before(sorted[j].ClosedAt) })

	points := make([]PnLPoint, 0)
	cumulative := decimal.Zero
	for _, t := range sorted {
		cumulative = cumulative.Add(t.Profit())
		date := utils.ToConfiguredTimezone(t.ClosedAt).Format("2006-01-02")
		if n := len(points); n > 0 && points[n-1].Date == date {
			points[n-1].PnL = cumulative.Round(2)
			continue
		}
		points = append(points, PnLPoint{Date: date, PnL: cumulative.Round(2)})
	}
	return points
}

func distribution(balances map[string]decimal.Decimal) []AssetShare {
	total := decimal.Zero
	for _, v := range balances {
		if v.IsPositive() {
			total = total.Add(v)
		}
	}
	out := make([]AssetShare, 0, len(balances))
	for a, v := range balances {
		share := decimal.Zero
		if total.IsPositive() && v.IsPositive() {
			share = v.Div(total).Mul(hundred).Round(2)
		}
		out = append(out, AssetShare{Asset: a, Amount: v, Share: share})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
