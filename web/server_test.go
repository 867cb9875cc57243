package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"signaldesk/event"
	"signaldesk/i18n"
	"signaldesk/ingest"
	"signaldesk/lock"
	"signaldesk/position"
	"signaldesk/signals"
	"signaldesk/trader"
)

type fakeTrader struct {
	balances  map[string]decimal.Decimal
	trades    []trader.Trade
	err       error
	closeErr  error
	closed    []string
	backtests int
}

func (f *fakeTrader) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return f.balances, f.err
}

func (f *fakeTrader) ActiveTrades(ctx context.Context) ([]trader.Trade, error) {
	return f.trades, f.err
}

func (f *fakeTrader) ClosePosition(ctx context.Context, symbol string) (*trader.CloseResult, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	f.closed = append(f.closed, symbol)
	return &trader.CloseResult{Status: "closed", Details: map[string]interface{}{"symbol": symbol}}, nil
}

func (f *fakeTrader) RunBacktest(ctx context.Context, cfg trader.BacktestConfig) (*trader.BacktestResult, error) {
	f.backtests++
	return &trader.BacktestResult{TotalTrades: 3}, nil
}

type testEnv struct {
	server   *Server
	router   *gin.Engine
	store    *position.Store
	hub      *event.Hub
	trader   *fakeTrader
	lock     *lock.LocalLock
	patterns *signals.Store
	saved    [][]string
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := i18n.Init("zh-CN"); err != nil {
		t.Fatalf("初始化翻译失败: %v", err)
	}

	env := &testEnv{
		hub:      event.NewHub(16),
		trader:   &fakeTrader{},
		lock:     lock.NewLocalLock(),
		patterns: signals.NewStore(),
	}
	if err := env.patterns.Load(signals.DefaultPatterns()); err != nil {
		t.Fatalf("加载默认规则失败: %v", err)
	}
	env.store = position.NewStore(env.hub, position.Config{Quote: "USDT"})
	channels := ingest.NewChannelSet([]string{"vip"}, func(chs []string) error {
		env.saved = append(env.saved, chs)
		return nil
	})
	opts := Options{
		Patterns:        env.patterns,
		Pipeline:        ingest.NewPipeline(channels, signals.NewExtractor(env.patterns, 1), nil, env.store),
		Store:           env.store,
		Hub:             env.hub,
		Trader:          env.trader,
		Lock:            env.lock,
		TrackedAccounts: []string{"mexc", "solana"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.server = NewServer(opts)
	env.router = env.server.Router()
	return env
}

func (env *testEnv) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("响应不是 JSON: %s", w.Body.String())
	}
	return out
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGetPositionsAndBalances(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.OpenPosition(&signals.Signal{Symbol: "BTC", Side: signals.Long, EntryPrice: d("100"), Leverage: 1})
	env.store.UpdatePrice("BTC", d("105"))
	env.store.RecordBalance("mexc", d("1520.5"))

	w := env.do(http.MethodGet, "/api/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", w.Code)
	}
	positions := decode(t, w)["positions"].([]interface{})
	if len(positions) != 1 {
		t.Fatalf("期望 1 个持仓, 实际 %d", len(positions))
	}
	btc := positions[0].(map[string]interface{})
	if btc["symbol"] != "BTC" || btc["pnl"].(float64) != 5 {
		t.Errorf("持仓不符: %v", btc)
	}

	balances := decode(t, env.do(http.MethodGet, "/api/balances", nil))
	if balances["mexc"].(float64) != 1520.5 || balances["solana"].(float64) != 0 {
		t.Errorf("余额不符: %v", balances)
	}
}

func TestBotStatusConnectivityError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.trader.err = &trader.ConnectivityError{Op: "获取余额", Err: errors.New("connection refused")}

	w := env.do(http.MethodGet, "/api/bot/status", nil, "Accept-Language", "en-US")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("期望 502, 实际 %d", w.Code)
	}
	msg := decode(t, w)["error"].(string)
	if !strings.Contains(msg, "connection refused") || !strings.HasPrefix(msg, "Trading engine unavailable") {
		t.Errorf("错误信息应保留原始原因: %s", msg)
	}

	env.trader.err = nil
	env.trader.balances = map[string]decimal.Decimal{"mexc": d("10")}
	out := decode(t, env.do(http.MethodGet, "/api/bot/status", nil))
	if out["status"] != "active" || out["positions"] == nil {
		t.Errorf("状态不符: %v", out)
	}
}

func TestClosePosition(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.OpenPosition(&signals.Signal{Symbol: "BTC", Side: signals.Long, EntryPrice: d("100"), Leverage: 1})

	if w := env.do(http.MethodPost, "/api/bot/close-position", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("缺少 token 期望 400, 实际 %d", w.Code)
	}

	w := env.do(http.MethodPost, "/api/bot/close-position", map[string]string{"token": "btc"})
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["status"] != "closed" {
		t.Errorf("应返回交易引擎的平仓结果")
	}
	if _, ok := env.store.Position("BTC"); ok {
		t.Error("本地持仓应同时关闭")
	}
	if h := env.store.History(1); len(h) != 1 || !h[0].ExitPrice.Equal(d("100")) {
		t.Errorf("平仓记录不符: %+v", h)
	}

	env.trader.closeErr = trader.ErrPositionNotFound
	if w := env.do(http.MethodPost, "/api/bot/close-position", map[string]string{"token": "ETH"}); w.Code != http.StatusNotFound {
		t.Errorf("期望 404, 实际 %d", w.Code)
	}
}

func TestClosePositionWithMarketSymbol(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.OpenPosition(&signals.Signal{Symbol: "SOL", Side: signals.Short, EntryPrice: d("150"), Leverage: 2})

	w := env.do(http.MethodPost, "/api/bot/close-position", map[string]string{"token": "solusdt"})
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	if len(env.trader.closed) != 1 || env.trader.closed[0] != "SOL" {
		t.Errorf("交易引擎应收到币种 SOL, 实际 %v", env.trader.closed)
	}
	if _, ok := env.store.Position("SOL"); ok {
		t.Error("SOLUSDT 形式的 token 应关闭本地 SOL 持仓")
	}
}

func TestClosePositionLockConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	env.lock.TryLock(context.Background(), "close:BTC", time.Minute)

	if w := env.do(http.MethodPost, "/api/bot/close-position", map[string]string{"token": "BTC"}); w.Code != http.StatusConflict {
		t.Errorf("锁被占用时期望 409, 实际 %d", w.Code)
	}
	if len(env.trader.closed) != 0 {
		t.Error("锁被占用时不应调用交易引擎")
	}
}

func TestChannels(t *testing.T) {
	env := newTestEnv(t, nil)

	out := decode(t, env.do(http.MethodPost, "/api/bot/channels", map[string]string{"channelId": "alpha"}))
	if chs := out["channels"].([]interface{}); len(chs) != 2 || chs[1] != "alpha" {
		t.Errorf("添加后频道不符: %v", chs)
	}
	if len(env.saved) != 1 {
		t.Errorf("添加频道应写入配置")
	}
	if w := env.do(http.MethodPost, "/api/bot/channels", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("缺少 channelId 期望 400, 实际 %d", w.Code)
	}
	if w := env.do(http.MethodDelete, "/api/bot/channels", map[string]string{"channelId": "nope"}); w.Code != http.StatusNotFound {
		t.Errorf("移除不存在的频道期望 404, 实际 %d", w.Code)
	}
	out = decode(t, env.do(http.MethodDelete, "/api/bot/channels?channelId=vip", nil))
	if chs := out["channels"].([]interface{}); len(chs) != 1 || chs[0] != "alpha" {
		t.Errorf("移除后频道不符: %v", chs)
	}
}

func TestPatternsCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/bot/patterns", map[string]string{"name": "bad", "expression": "("})
	if w.Code != http.StatusBadRequest {
		t.Errorf("无效表达式期望 400, 实际 %d", w.Code)
	}

	w = env.do(http.MethodPost, "/api/bot/patterns", map[string]string{"name": "Buy", "expression": `BUY (\w+) @ (\d+)`})
	if w.Code != http.StatusCreated {
		t.Fatalf("期望 201, 实际 %d: %s", w.Code, w.Body.String())
	}
	p := decode(t, w)["pattern"].(map[string]interface{})
	id := p["id"].(string)
	if p["active"] != true {
		t.Errorf("新规则应默认启用")
	}

	p = decode(t, env.do(http.MethodPost, "/api/bot/patterns/"+id+"/toggle", nil))["pattern"].(map[string]interface{})
	if p["active"] != false {
		t.Errorf("切换后应停用")
	}
	if w := env.do(http.MethodPost, "/api/bot/patterns/missing/toggle", nil); w.Code != http.StatusNotFound {
		t.Errorf("未知规则期望 404, 实际 %d", w.Code)
	}
	if w := env.do(http.MethodDelete, "/api/bot/patterns/"+id, nil); w.Code != http.StatusOK {
		t.Errorf("删除期望 200, 实际 %d", w.Code)
	}
	if got := len(env.patterns.List()); got != 2 {
		t.Errorf("删除后应剩 2 个默认规则, 实际 %d", got)
	}

	w = env.do(http.MethodPut, "/api/bot/patterns", map[string]interface{}{
		"patterns": []map[string]interface{}{{"name": "only", "expression": `(\w+) (\d+)`, "active": true}},
	})
	if w.Code != http.StatusOK || len(env.patterns.List()) != 1 {
		t.Errorf("整体替换失败: %d %s", w.Code, w.Body.String())
	}
}

func TestBacktestValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodPost, "/api/bot/backtest", map[string]interface{}{"endDate": "2024-02-01", "initialBalance": 1000, "pairs": []string{"BTCUSDT"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("期望 400, 实际 %d", w.Code)
	}
	out := decode(t, w)
	if out["status"] != "error" || out["message"] != "Missing required field: startDate" {
		t.Errorf("错误响应不符: %v", out)
	}
	if env.trader.backtests != 0 {
		t.Error("校验失败时不应调用交易引擎")
	}

	w = env.do(http.MethodPost, "/api/bot/backtest", map[string]interface{}{
		"startDate": "2024-01-01", "endDate": "2024-02-01", "initialBalance": 1000, "pairs": []string{"BTCUSDT"},
	})
	if w.Code != http.StatusOK || decode(t, w)["status"] != "success" {
		t.Errorf("回测失败: %d %s", w.Code, w.Body.String())
	}
}

func TestIngestAndTestSignal(t *testing.T) {
	env := newTestEnv(t, nil)

	out := decode(t, env.do(http.MethodPost, "/api/signals/test", map[string]string{"text": "LONG BTC Entry: 65000 Leverage: 5x"}))
	if out["matched"] != true || env.store.OpenCount() != 0 {
		t.Errorf("试运行结果不符: %v", out)
	}

	out = decode(t, env.do(http.MethodPost, "/api/signals/ingest", map[string]string{"channelId": "vip", "text": "LONG BTC Entry: 65000 Leverage: 5x"}))
	if out["outcome"] != string(ingest.OutcomeOpened) {
		t.Errorf("期望开仓, 实际 %v", out)
	}
	if _, ok := env.store.Position("BTC"); !ok {
		t.Error("应已开仓")
	}
	if w := env.do(http.MethodPost, "/api/signals/ingest", map[string]string{"text": ""}); w.Code != http.StatusBadRequest {
		t.Errorf("空消息期望 400, 实际 %d", w.Code)
	}
}

func TestAnalyticsAndHistoryFromMemory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.OpenPosition(&signals.Signal{Symbol: "BTC", Side: signals.Long, EntryPrice: d("100"), Leverage: 1})
	env.store.UpdatePrice("BTC", d("110"))
	env.store.ClosePosition("BTC")

	stats := decode(t, env.do(http.MethodGet, "/api/analytics", nil))["stats"].(map[string]interface{})
	if stats["totalTrades"].(float64) != 1 || stats["winRate"].(float64) != 100 {
		t.Errorf("统计不符: %v", stats)
	}
	out := decode(t, env.do(http.MethodGet, "/api/trades/history", nil))
	if out["source"] != "memory" || len(out["trades"].([]interface{})) != 1 {
		t.Errorf("历史不符: %v", out)
	}
	if w := env.do(http.MethodGet, "/api/logs", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("未启用日志存储期望 503, 实际 %d", w.Code)
	}
}

func TestAuthRequiredWhenPasswordConfigured(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	env := newTestEnv(t, func(o *Options) { o.PasswordHash = string(hash) })

	if w := env.do(http.MethodGet, "/api/positions", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("未登录期望 401, 实际 %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("密码错误期望 401, 实际 %d", w.Code)
	}

	w := env.do(http.MethodPost, "/api/auth/login", map[string]string{"password": "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("登录失败: %d %s", w.Code, w.Body.String())
	}
	cookie := w.Result().Cookies()[0]
	if cookie.Name != sessionCookie {
		t.Fatalf("未设置会话 Cookie")
	}
	if w := env.do(http.MethodGet, "/api/positions", nil, "Cookie", cookie.Name+"="+cookie.Value); w.Code != http.StatusOK {
		t.Errorf("登录后期望 200, 实际 %d", w.Code)
	}
	status := decode(t, env.do(http.MethodGet, "/api/auth/status", nil))
	if status["authRequired"] != true || status["isAuthenticated"] != false {
		t.Errorf("认证状态不符: %v", status)
	}
}

func TestErrorMessagesAreLocalized(t *testing.T) {
	env := newTestEnv(t, nil)
	zh := decode(t, env.do(http.MethodPost, "/api/bot/close-position", map[string]string{}))["error"]
	en := decode(t, env.do(http.MethodPost, "/api/bot/close-position", map[string]string{}, "Accept-Language", "en-US,en;q=0.9"))["error"]
	if en != "Missing token parameter" {
		t.Errorf("英文错误信息不符: %v", en)
	}
	if zh == en {
		t.Errorf("默认应返回中文错误信息")
	}
}
