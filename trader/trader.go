package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrConnectivity 交易引擎不可达
	ErrConnectivity = errors.New("交易引擎不可用")
	// ErrPositionNotFound 交易引擎中没有该持仓
	ErrPositionNotFound = errors.New("持仓不存在")
)

// ConnectivityError 交易引擎调用失败，保留原始错误信息
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrConnectivity) 成立
func (e *ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

// ValidationError 回测配置校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Missing required field: %s", e.Field)
	}
	return fmt.Sprintf("Invalid field %s: %s", e.Field, e.Reason)
}

// ExecutionError 交易引擎返回的业务错误
type ExecutionError struct {
	Status  int
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("交易引擎返回错误 (HTTP %d): %s", e.Status, e.Message)
}

// Trade 交易引擎中的活动持仓
type Trade struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Size         decimal.Decimal `json:"size"`
	Leverage     int             `json:"leverage"`
	OpenedAt     time.Time       `json:"openedAt"`
}

// CloseResult 平仓结果
type CloseResult struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// BacktestConfig 回测配置
type BacktestConfig struct {
	StartDate      string          `json:"startDate"`
	EndDate        string          `json:"endDate"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	Pairs          []string        `json:"pairs"`
	SignalPatterns []string        `json:"signalPatterns,omitempty"`
}

const dateLayout = "2006-01-02"

// Validate 校验必填字段和日期范围
func (c BacktestConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.StartDate) == "":
		return &ValidationError{Field: "startDate"}
	case strings.TrimSpace(c.EndDate) == "":
		return &ValidationError{Field: "endDate"}
	case c.InitialBalance.IsZero():
		return &ValidationError{Field: "initialBalance"}
	case len(c.Pairs) == 0:
		return &ValidationError{Field: "pairs"}
	}
	if c.InitialBalance.IsNegative() {
		return &ValidationError{Field: "initialBalance", Reason: "must be positive"}
	}
	start, err := time.Parse(dateLayout, c.StartDate)
	if err != nil {
		return &ValidationError{Field: "startDate", Reason: "expected YYYY-MM-DD"}
	}
	end, err := time.Parse(dateLayout, c.EndDate)
	if err != nil {
		return &ValidationError{Field: "endDate", Reason: "expected YYYY-MM-DD"}
	}
	if end.Before(start) {
		return &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	for _, p := range c.Pairs {
		if strings.TrimSpace(p) == "" {
			return &ValidationError{Field: "pairs", Reason: "empty pair"}
		}
	}
	return nil
}

// EquityPoint 回测权益曲线点
type EquityPoint struct {
	Date string          `json:"date"`
	PnL  decimal.Decimal `json:"pnl"`
}

// BacktestTrade 回测成交
type BacktestTrade struct {
	Pair   string          `json:"pair"`
	Profit decimal.Decimal `json:"profit"`
	Date   string          `json:"date"`
}

// BacktestResult 回测结果
type BacktestResult struct {
	TotalTrades int             `json:"totalTrades"`
	WinRate     decimal.Decimal `json:"winRate"`
	TotalPnL    decimal.Decimal `json:"totalPnL"`
	AveragePnL  decimal.Decimal `json:"averagePnL"`
	Trades      []BacktestTrade `json:"trades"`
	EquityCurve []EquityPoint   `json:"equityCurve"`
}

// Trader 外部交易引擎接口
type Trader interface {
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	ActiveTrades(ctx context.Context) ([]Trade, error)
	ClosePosition(ctx context.Context, symbol string) (*CloseResult, error)
	RunBacktest(ctx context.Context, cfg BacktestConfig) (*BacktestResult, error)
}
