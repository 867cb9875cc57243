package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternConfig 信号识别规则配置
type PatternConfig struct {
	ID         string `yaml:"id,omitempty"`
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Active     bool   `yaml:"active"`
}

// Config signaldesk 配置
type Config struct {
	System struct {
		LogLevel    string `yaml:"log_level"`
		Timezone    string `yaml:"timezone"`     // 展示时区，如 "Asia/Shanghai"
		LogLanguage string `yaml:"log_language"` // 接口错误信息默认语言，如 "zh-CN" 或 "en-US"
		LogDir      string `yaml:"log_dir"`
	} `yaml:"system"`

	// Web 服务配置
	Web struct {
		Host         string `yaml:"host"`          // 监听地址（默认 0.0.0.0）
		Port         int    `yaml:"port"`          // 监听端口（默认 28888）
		PasswordHash string `yaml:"password_hash"` // bcrypt 密码哈希，为空时不启用登录
		SessionTTL   int    `yaml:"session_ttl"`   // 会话有效期（小时，默认24）

		WebSocket struct {
			SendBuffer int `yaml:"send_buffer"` // 每个客户端的事件缓冲（默认64）
			WriteWait  int `yaml:"write_wait"`  // 写入等待时间（秒，默认10）
			PongWait   int `yaml:"pong_wait"`   // PONG 等待时间（秒，默认60）
		} `yaml:"websocket"`
	} `yaml:"web"`

	// 信号识别配置
	Signal struct {
		Channels        []string        `yaml:"channels"` // 监控的频道 ID
		Patterns        []PatternConfig `yaml:"patterns"`
		DefaultLeverage int             `yaml:"default_leverage"` // 信号未给出杠杆时使用（默认1）
		QuoteAsset      string          `yaml:"quote_asset"`      // 行情订阅时拼接的计价币（默认 USDT）
	} `yaml:"signal"`

	// 持仓状态配置
	State struct {
		HistorySize     int      `yaml:"history_size"`     // 保留的已平仓记录数（默认500）
		DefaultSize     float64  `yaml:"default_size"`     // 信号开仓的默认仓位金额（默认100）
		TrackedAccounts []string `yaml:"tracked_accounts"` // 余额接口总是返回的账户（默认 mexc, solana）
	} `yaml:"state"`

	// 开仓风控配置
	Risk struct {
		MaxLeverage          int     `yaml:"max_leverage"`            // 最大允许杠杆（默认10，0表示不限制）
		MaxOpenPositions     int     `yaml:"max_open_positions"`      // 最大持仓数（0表示不限制）
		DefaultStopLossPct   float64 `yaml:"default_stop_loss_pct"`   // 默认止损百分比（默认2）
		DefaultTakeProfitPct float64 `yaml:"default_take_profit_pct"` // 默认止盈百分比（默认6）
	} `yaml:"risk"`

	// 交易引擎配置
	Trader struct {
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		APISecret       string  `yaml:"api_secret"`
		Timeout         int     `yaml:"timeout"`          // 请求超时（秒，默认10）
		RateLimit       float64 `yaml:"rate_limit"`       // 每秒请求数（默认5）
		Burst           int     `yaml:"burst"`            // 突发请求数（默认10）
		SyncInterval    int     `yaml:"sync_interval"`    // 对账间隔（秒，默认30）
		MirrorPositions bool    `yaml:"mirror_positions"` // 是否移除交易引擎中已不存在的本地持仓
	} `yaml:"trader"`

	// 标记价格订阅配置
	PriceFeed struct {
		Enabled  bool `yaml:"enabled"`
		Interval int  `yaml:"interval"` // 轮询间隔（秒，默认5）
		Testnet  bool `yaml:"testnet"`
	} `yaml:"price_feed"`

	// Telegram 频道监听配置
	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		Timeout  int    `yaml:"timeout"` // 长轮询超时（秒，默认60）
	} `yaml:"telegram"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/signaldesk.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认20
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认5
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 日志存储配置
	Storage struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`           // 数据库文件路径
		BufferSize    int    `yaml:"buffer_size"`    // 缓冲区大小（默认1000）
		BatchSize     int    `yaml:"batch_size"`     // 批量写入大小（默认100）
		FlushInterval int    `yaml:"flush_interval"` // 刷新间隔（秒，默认5）
		RetentionDays int    `yaml:"retention_days"` // 日志保留天数（默认7，0表示不清理）
	} `yaml:"storage"`

	// 分布式锁配置（多实例部署）
	DistributedLock struct {
		Enabled    bool   `yaml:"enabled"`     // 是否启用分布式锁，默认false（单实例模式）
		Type       string `yaml:"type"`        // 锁类型: redis, local，默认 redis
		Prefix     string `yaml:"prefix"`      // 锁键前缀，默认 "signaldesk:lock:"
		DefaultTTL int    `yaml:"default_ttl"` // 默认锁过期时间（秒），默认10

		Redis struct {
			Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"`  // Redis 密码，默认为空
			DB       int    `yaml:"db"`        // Redis 数据库，默认0
			PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 通知配置
	Notifications struct {
		Enabled bool     `yaml:"enabled"`
		Events  []string `yaml:"events"` // 需要通知的事件，默认 position_opened, position_closed

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Discord struct {
			Enabled bool   `yaml:"enabled"`
			Webhook string `yaml:"webhook"` // Discord 频道 Webhook URL
		} `yaml:"discord"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 超时时间（秒，默认3）
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	// 监控配置
	Metrics struct {
		Enabled         bool `yaml:"enabled"`
		CollectInterval int  `yaml:"collect_interval"` // 系统指标收集间隔（秒，默认15）
	} `yaml:"metrics"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件，先写临时文件再重命名，避免监控器读到半个文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// CreateDefaultConfig 创建默认配置（配置文件不存在时使用）
func CreateDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Storage.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Validate()
	return cfg
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Shanghai"
	}
	if c.System.LogLanguage == "" {
		c.System.LogLanguage = "zh-CN"
	}
	if c.System.LogDir == "" {
		c.System.LogDir = "logs"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 28888
	}
	if c.Web.Port > 65535 {
		return fmt.Errorf("web.port 超出范围: %d", c.Web.Port)
	}
	if c.Web.SessionTTL <= 0 {
		c.Web.SessionTTL = 24
	}
	if c.Web.WebSocket.SendBuffer <= 0 {
		c.Web.WebSocket.SendBuffer = 64
	}
	if c.Web.WebSocket.WriteWait <= 0 {
		c.Web.WebSocket.WriteWait = 10
	}
	if c.Web.WebSocket.PongWait <= 0 {
		c.Web.WebSocket.PongWait = 60
	}

	channels := make([]string, 0, len(c.Signal.Channels))
	seen := make(map[string]bool)
	for _, ch := range c.Signal.Channels {
		ch = strings.TrimSpace(ch)
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}
	c.Signal.Channels = channels
	for i, p := range c.Signal.Patterns {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Expression) == "" {
			return fmt.Errorf("signal.patterns[%d] 的 name 和 expression 不能为空", i)
		}
	}
	if c.Signal.DefaultLeverage <= 0 {
		c.Signal.DefaultLeverage = 1
	}
	if c.Signal.QuoteAsset == "" {
		c.Signal.QuoteAsset = "USDT"
	}

	if c.State.HistorySize <= 0 {
		c.State.HistorySize = 500
	}
	if c.State.DefaultSize < 0 {
		return fmt.Errorf("state.default_size 不能为负数")
	}
	if c.State.DefaultSize == 0 {
		c.State.DefaultSize = 100
	}
	if len(c.State.TrackedAccounts) == 0 {
		c.State.TrackedAccounts = []string{"mexc", "solana"}
	}

	if c.Risk.MaxLeverage < 0 || c.Risk.MaxOpenPositions < 0 {
		return fmt.Errorf("risk.max_leverage 和 risk.max_open_positions 不能为负数")
	}
	if c.Risk.MaxLeverage == 0 {
		c.Risk.MaxLeverage = 10
	}
	if c.Risk.DefaultStopLossPct < 0 || c.Risk.DefaultTakeProfitPct < 0 {
		return fmt.Errorf("默认止损止盈百分比不能为负数")
	}
	if c.Risk.DefaultStopLossPct == 0 {
		c.Risk.DefaultStopLossPct = 2
	}
	if c.Risk.DefaultTakeProfitPct == 0 {
		c.Risk.DefaultTakeProfitPct = 6
	}

	if c.Trader.BaseURL == "" {
		c.Trader.BaseURL = "http://127.0.0.1:5000"
	}
	if !strings.HasPrefix(c.Trader.BaseURL, "http://") && !strings.HasPrefix(c.Trader.BaseURL, "https://") {
		return fmt.Errorf("trader.base_url 必须以 http:// 或 https:// 开头: %s", c.Trader.BaseURL)
	}
	if c.Trader.Timeout <= 0 {
		c.Trader.Timeout = 10
	}
	if c.Trader.RateLimit <= 0 {
		c.Trader.RateLimit = 5
	}
	if c.Trader.Burst <= 0 {
		c.Trader.Burst = 10
	}
	if c.Trader.SyncInterval <= 0 {
		c.Trader.SyncInterval = 30
	}

	if c.PriceFeed.Interval <= 0 {
		c.PriceFeed.Interval = 5
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("启用 Telegram 频道监听时必须配置 telegram.bot_token")
	}
	if c.Telegram.Timeout <= 0 {
		c.Telegram.Timeout = 60
	}

	switch c.Database.Type {
	case "":
		c.Database.Type = "sqlite"
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "./data/signaldesk.db"
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("数据库类型 %s 必须配置 database.dsn", c.Database.Type)
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "./data/logs.db"
	}
	if c.Storage.BufferSize <= 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushInterval <= 0 {
		c.Storage.FlushInterval = 5
	}
	if c.Storage.RetentionDays < 0 {
		c.Storage.RetentionDays = 0
	}

	if c.DistributedLock.Type == "" {
		c.DistributedLock.Type = "redis"
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "signaldesk:lock:"
	}
	if c.DistributedLock.DefaultTTL <= 0 {
		c.DistributedLock.DefaultTTL = 10
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	if len(c.Notifications.Events) == 0 {
		c.Notifications.Events = []string{"position_opened", "position_closed"}
	}
	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}
	if c.Notifications.Telegram.Enabled && (c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "") {
		return fmt.Errorf("启用 Telegram 通知时必须配置 bot_token 和 chat_id")
	}

	if c.Metrics.CollectInterval <= 0 {
		c.Metrics.CollectInterval = 15
	}

	return nil
}
