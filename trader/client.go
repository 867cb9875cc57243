package trader

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"signaldesk/logger"
	"signaldesk/metrics"
)

// ClientConfig 交易引擎客户端配置
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	RateLimit float64 // 每秒请求数
	Burst     int
}

// HTTPClient 通过 HTTP/JSON 调用外部交易引擎
type HTTPClient struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewHTTPClient 创建交易引擎客户端
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
}

// sign HMAC-SHA256(timestamp + method + path + body)
func (c *HTTPClient) sign(timestamp, method, path string, body []byte) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(timestamp))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// do 发送请求并记录耗时
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out interface{}) (int, error) {
	start := time.Now()
	code, err := c.send(ctx, op, method, path, in, out)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.GetPrometheusMetrics().RecordTraderCall(op, status, time.Since(start))
	return code, err
}

// send 发送请求并把 2xx 响应解码到 out
func (c *HTTPClient) send(ctx context.Context, op, method, path string, in, out interface{}) (int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, &ConnectivityError{Op: op, Err: fmt.Errorf("速率限制等待失败: %w", err)}
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return 0, fmt.Errorf("%s: 序列化请求失败: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%s: 创建请求失败: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("X-TIMESTAMP", ts)
		req.Header.Set("X-SIGNATURE", c.sign(ts, method, path, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &ConnectivityError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &ConnectivityError{Op: op, Err: fmt.Errorf("读取响应失败: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return resp.StatusCode, &ConnectivityError{Op: op, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(respBody))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.StatusCode, &ExecutionError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: 解析响应失败: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

// errorMessage 提取引擎返回的 error/message 字段
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// GetBalances 获取各账户余额
func (c *HTTPClient) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp struct {
		Balances map[string]decimal.Decimal `json:"balances"`
	}
	if _, err := c.do(ctx, "获取余额", http.MethodGet, "/balances", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Balances == nil {
		resp.Balances = make(map[string]decimal.Decimal)
	}
	return resp.Balances, nil
}

// ActiveTrades 获取交易引擎中的活动持仓
func (c *HTTPClient) ActiveTrades(ctx context.Context) ([]Trade, error) {
	var resp struct {
		Trades []Trade `json:"trades"`
	}
	if _, err := c.do(ctx, "获取活动持仓", http.MethodGet, "/trades/active", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trades, nil
}

// ClosePosition 通过交易引擎平仓
func (c *HTTPClient) ClosePosition(ctx context.Context, symbol string) (*CloseResult, error) {
	var result CloseResult
	status, err := c.do(ctx, "平仓", http.MethodPost, "/positions/close", map[string]string{"symbol": symbol}, &result)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, symbol)
		}
		return nil, err
	}
	logger.Info("✅ 交易引擎已平仓: %s (%s)", symbol, result.Status)
	return &result, nil
}

// RunBacktest 执行回测，配置在发送前校验
func (c *HTTPClient) RunBacktest(ctx context.Context, cfg BacktestConfig) (*BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var resp struct {
		Results *BacktestResult `json:"results"`
	}
	if _, err := c.do(ctx, "执行回测", http.MethodPost, "/backtest", cfg, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		return nil, &ExecutionError{Status: http.StatusOK, Message: "回测结果为空"}
	}
	return resp.Results, nil
}
