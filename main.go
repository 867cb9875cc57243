package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"signaldesk/config"
	"signaldesk/database"
	"signaldesk/event"
	"signaldesk/exchange"
	"signaldesk/i18n"
	"signaldesk/ingest"
	"signaldesk/lock"
	"signaldesk/logger"
	"signaldesk/metrics"
	"signaldesk/notify"
	"signaldesk/position"
	"signaldesk/safety"
	"signaldesk/signals"
	"signaldesk/storage"
	"signaldesk/trader"
	"signaldesk/utils"
	"signaldesk/web"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

// envOverrides 环境变量（或 .env）覆盖配置文件中的敏感字段
var envOverrides = map[string]func(*config.Config, string){
	"SIGNALDESK_TRADER_API_KEY":      func(c *config.Config, v string) { c.Trader.APIKey = v },
	"SIGNALDESK_TRADER_API_SECRET":   func(c *config.Config, v string) { c.Trader.APISecret = v },
	"SIGNALDESK_TELEGRAM_BOT_TOKEN":  func(c *config.Config, v string) { c.Telegram.BotToken = v },
	"SIGNALDESK_NOTIFY_BOT_TOKEN":    func(c *config.Config, v string) { c.Notifications.Telegram.BotToken = v },
	"SIGNALDESK_DATABASE_DSN":        func(c *config.Config, v string) { c.Database.DSN = v },
	"SIGNALDESK_REDIS_PASSWORD":      func(c *config.Config, v string) { c.DistributedLock.Redis.Password = v },
	"SIGNALDESK_WEB_PASSWORD_HASH":   func(c *config.Config, v string) { c.Web.PasswordHash = v },
	"SIGNALDESK_DISCORD_WEBHOOK_URL": func(c *config.Config, v string) { c.Notifications.Discord.Webhook = v },
}

func applyEnvOverrides(cfg *config.Config) {
	for key, apply := range envOverrides {
		if v := os.Getenv(key); v != "" {
			apply(cfg, v)
		}
	}
}

// configPersister 把频道和规则的修改写回配置文件
//
// 每次都从磁盘重新读取，避免把环境变量中的密钥写进文件。
type configPersister struct {
	mu      sync.Mutex
	path    string
	watcher *config.ConfigWatcher
}

func (p *configPersister) save(mutate func(*config.Config)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	onDisk, err := config.LoadConfig(p.path)
	if err != nil {
		return err
	}
	mutate(onDisk)
	if err := config.SaveConfig(onDisk, p.path); err != nil {
		return err
	}
	if p.watcher != nil {
		p.watcher.MarkSaved()
	}
	return nil
}

func toPatterns(items []config.PatternConfig) []signals.Pattern {
	out := make([]signals.Pattern, 0, len(items))
	for _, it := range items {
		out = append(out, signals.Pattern{ID: it.ID, Name: it.Name, Expression: it.Expression, Active: it.Active})
	}
	return out
}

func toPatternConfigs(items []signals.Pattern) []config.PatternConfig {
	out := make([]config.PatternConfig, 0, len(items))
	for _, it := range items {
		out = append(out, config.PatternConfig{ID: it.ID, Name: it.Name, Expression: it.Expression, Active: it.Active})
	}
	return out
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func main() {
	debugMode := false
	args := []string{}
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-version", "--version":
			fmt.Printf("signaldesk %s\n", Version)
			os.Exit(0)
		case "-debug", "--debug":
			debugMode = true
		default:
			args = append(args, arg)
		}
	}

	if err := godotenv.Load(); err == nil {
		log.Printf("[INFO] 已加载 .env")
	}

	configPath := "config.yaml"
	if len(args) > 0 {
		configPath = args[0]
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = config.CreateDefaultConfig()
		cfg.Signal.Patterns = toPatternConfigs(signals.DefaultPatterns())
		if err := config.SaveConfig(cfg, configPath); err != nil {
			log.Printf("[WARN] 保存默认配置失败: %v", err)
		} else {
			log.Printf("[INFO] 已创建默认配置文件: %s", configPath)
		}
	} else {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			logger.Fatal("❌ 加载配置失败: %v", err)
		}
	}
	applyEnvOverrides(cfg)
	if debugMode {
		cfg.System.LogLevel = "debug"
	}

	// 日志、时区、语言
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		log.Printf("[WARN] 加载时区 %s 失败: %v，使用 UTC", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.Location())
	logger.SetDir(cfg.System.LogDir)
	logLevel := logger.ParseLogLevel(cfg.System.LogLevel)
	logger.SetLevel(logLevel)
	if debugMode {
		if err := logger.InitWebLogger(); err != nil {
			logger.Warn("⚠️ 初始化 Web 日志失败: %v", err)
		}
	}
	if err := i18n.Init(cfg.System.LogLanguage); err != nil {
		logger.Warn("⚠️ 初始化 i18n 失败: %v，错误信息将返回原始 key", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var logStorage *storage.LogStorage
	if cfg.Storage.Enabled {
		ls, err := storage.NewLogStorage(cfg.Storage.Path, storage.Config{
			BufferSize:    cfg.Storage.BufferSize,
			BatchSize:     cfg.Storage.BatchSize,
			FlushInterval: seconds(cfg.Storage.FlushInterval),
		})
		if err != nil {
			logger.Warn("⚠️ 初始化日志存储失败: %v，将继续运行但不保存日志", err)
		} else {
			logStorage = ls
			logger.InitLogStorage(ls.WriteLog)
		}
	}

	logger.Info("🚀 signaldesk %s 启动...", Version)
	logger.Info("日志级别设置为: %s", logLevel.String())

	// 广播中心和状态
	m := metrics.GetPrometheusMetrics()
	hub := event.NewHub(cfg.Web.WebSocket.SendBuffer)
	hub.OnDrop(m.RecordEventDropped)
	store := position.NewStore(hub, position.Config{
		HistorySize: cfg.State.HistorySize,
		DefaultSize: decimal.NewFromFloat(cfg.State.DefaultSize),
		Quote:       cfg.Signal.QuoteAsset,
	})

	// 识别规则和频道，修改时写回配置文件
	persister := &configPersister{path: configPath}
	patterns := signals.NewStore()
	initial, _ := signals.PatternsOrDefault(toPatterns(cfg.Signal.Patterns))
	if err := patterns.Load(initial); err != nil {
		logger.Fatal("❌ 加载识别规则失败: %v", err)
	}
	logger.Info("✅ 已加载 %d 条识别规则", len(patterns.List()))
	patterns.OnChange(func(ps []signals.Pattern) {
		if err := persister.save(func(c *config.Config) { c.Signal.Patterns = toPatternConfigs(ps) }); err != nil {
			logger.Error("❌ 保存识别规则失败: %v", err)
		}
	})
	channels := ingest.NewChannelSet(cfg.Signal.Channels, func(chs []string) error {
		return persister.save(func(c *config.Config) { c.Signal.Channels = chs })
	})

	risk := safety.NewRiskChecker(safety.RiskConfig{
		MaxLeverage:          cfg.Risk.MaxLeverage,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		DefaultStopLossPct:   decimal.NewFromFloat(cfg.Risk.DefaultStopLossPct),
		DefaultTakeProfitPct: decimal.NewFromFloat(cfg.Risk.DefaultTakeProfitPct),
	})
	pipeline := ingest.NewPipeline(channels, signals.NewExtractor(patterns, cfg.Signal.DefaultLeverage), risk, store)

	// 持久化和通知
	var db database.Database
	if cfg.Database.Type != "" {
		d, err := database.NewDatabase(&database.Config{
			Type:            cfg.Database.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: seconds(cfg.Database.ConnMaxLifetime),
			LogLevel:        cfg.Database.LogLevel,
		})
		if err != nil {
			logger.Warn("⚠️ 初始化数据库失败: %v (交易历史将只保存在内存中)", err)
		} else {
			db = d
			logger.Info("✅ 数据库已初始化 (类型: %s)", cfg.Database.Type)
		}
	}

	var recorder event.Recorder
	if db != nil {
		recorder = database.NewRecorder(db)
	}
	var notifier event.Notifier
	var notifications *notify.NotificationService
	if cfg.Notifications.Enabled {
		notifications = notify.NewNotificationService(cfg)
		if notifications.Count() > 0 {
			notifier = notifications
		}
	}
	notifyKinds := make([]event.Kind, 0, len(cfg.Notifications.Events))
	for _, k := range cfg.Notifications.Events {
		notifyKinds = append(notifyKinds, event.Kind(k))
	}
	eventCenter := event.NewEventCenter(hub, recorder, notifier, event.CenterConfig{
		Enabled:     true,
		NotifyKinds: notifyKinds,
	})
	eventCenter.AddObserver(func(ev event.Event) {
		m.RecordEvent(string(ev.Kind))
		switch payload := ev.Payload.(type) {
		case position.ClosedTrade:
			m.RecordTradeClosed(payload.Reason)
			st := store.Stats()
			rate, _ := st.WinRate.Float64()
			pnl, _ := st.TotalPnL.Float64()
			m.SetTradeStats(rate, pnl)
		case position.Balance:
			amount, _ := payload.Amount.Float64()
			m.SetBalance(payload.Asset, amount)
		}
		m.SetOpenPositions(store.OpenCount())
	})
	if err := eventCenter.Start(); err != nil {
		logger.Warn("⚠️ 启动事件中心失败: %v", err)
	}

	// 交易引擎、锁、对账
	distributedLock, err := lock.NewDistributedLock(&lock.Config{
		Enabled:    cfg.DistributedLock.Enabled,
		Type:       cfg.DistributedLock.Type,
		Prefix:     cfg.DistributedLock.Prefix,
		DefaultTTL: seconds(cfg.DistributedLock.DefaultTTL),
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Warn("⚠️ 创建分布式锁失败: %v，使用进程内锁", err)
		distributedLock = lock.NewLocalLock()
	}
	if rl, ok := distributedLock.(*lock.RedisLock); ok {
		if err := rl.Ping(ctx); err != nil {
			logger.Warn("⚠️ Redis 不可用: %v", err)
		} else {
			logger.Info("✅ 分布式锁已启用 (Redis: %s)", cfg.DistributedLock.Redis.Addr)
		}
	}

	traderClient := trader.NewHTTPClient(trader.ClientConfig{
		BaseURL:   cfg.Trader.BaseURL,
		APIKey:    cfg.Trader.APIKey,
		APISecret: cfg.Trader.APISecret,
		Timeout:   seconds(cfg.Trader.Timeout),
		RateLimit: cfg.Trader.RateLimit,
		Burst:     cfg.Trader.Burst,
	})
	reconciler := safety.NewReconciler(traderClient, store, distributedLock, safety.ReconcilerConfig{
		Interval:        seconds(cfg.Trader.SyncInterval),
		MirrorPositions: cfg.Trader.MirrorPositions,
	})
	reconciler.Start(ctx)

	if cfg.PriceFeed.Enabled {
		feed := exchange.NewPriceFeed(exchange.NewBinanceSource(cfg.PriceFeed.Testnet), store, cfg.Signal.QuoteAsset, seconds(cfg.PriceFeed.Interval))
		feed.Start(ctx)
	}

	if cfg.Telegram.Enabled {
		listener, err := ingest.NewTelegramListener(cfg.Telegram.BotToken, cfg.Telegram.Timeout, pipeline)
		if err != nil {
			logger.Error("❌ 启动 Telegram 监听失败: %v", err)
		} else {
			listener.Start(ctx)
		}
	}

	var collector *metrics.SystemMetricsCollector
	if cfg.Metrics.Enabled {
		c, err := metrics.NewSystemMetricsCollector(seconds(cfg.Metrics.CollectInterval))
		if err != nil {
			logger.Warn("⚠️ 创建系统指标采集器失败: %v", err)
		} else {
			collector = c
			collector.Start(ctx)
		}
	}

	// 配置文件被外部修改时重新应用频道和识别规则
	watcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		logger.Warn("⚠️ 创建配置监控器失败: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
		watcher = nil
	} else {
		persister.mu.Lock()
		persister.watcher = watcher
		persister.mu.Unlock()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case newCfg := <-watcher.GetUpdateChan():
					channels.Reset(newCfg.Signal.Channels)
					reloaded, defaulted := signals.PatternsOrDefault(toPatterns(newCfg.Signal.Patterns))
					if defaulted {
						logger.Warn("⚠️ 配置中没有识别规则，已安装默认多空规则")
					}
					if err := patterns.Load(reloaded); err != nil {
						logger.Error("❌ 重新加载识别规则失败: %v", err)
						continue
					}
					logger.Info("🔄 配置已重新加载: 频道 %d 个，识别规则 %d 条", channels.Len(), len(reloaded))
				case err := <-watcher.GetErrorChan():
					logger.Warn("⚠️ [配置监控] %v", err)
				}
			}
		}()
	}

	// 定期清理过期的日志和事件记录
	if cfg.Storage.RetentionDays > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if logStorage != nil {
						if n, err := logStorage.CleanOldLogs(cfg.Storage.RetentionDays); err != nil {
							logger.Warn("⚠️ 清理日志失败: %v", err)
						} else {
							logger.Info("🧹 已清理 %d 条过期日志", n)
						}
					}
					if db != nil {
						before := time.Now().AddDate(0, 0, -cfg.Storage.RetentionDays)
						if n, err := db.CleanupEvents(ctx, before); err != nil {
							logger.Warn("⚠️ 清理事件记录失败: %v", err)
						} else {
							logger.Info("🧹 已清理 %d 条过期事件记录", n)
						}
					}
				}
			}
		}()
	}

	server := web.NewServer(web.Options{
		Patterns:        patterns,
		Pipeline:        pipeline,
		Store:           store,
		Hub:             hub,
		Trader:          traderClient,
		Lock:            distributedLock,
		Database:        db,
		Logs:            logStorage,
		Reconciler:      reconciler,
		SystemMetrics:   collector,
		TrackedAccounts: cfg.State.TrackedAccounts,
		PasswordHash:    cfg.Web.PasswordHash,
		SessionTTL:      time.Duration(cfg.Web.SessionTTL) * time.Hour,
		WebSocket: web.WebSocketConfig{
			SendBuffer: cfg.Web.WebSocket.SendBuffer,
			WriteWait:  seconds(cfg.Web.WebSocket.WriteWait),
			PongWait:   seconds(cfg.Web.WebSocket.PongWait),
		},
		AccessLog: debugMode,
		Debug:     debugMode,
	})
	web.NewWebServer(cfg, server).Start(ctx)
	if cfg.Web.PasswordHash == "" {
		logger.Warn("⚠️ 未配置 web.password_hash，接口不需要登录即可访问")
	}

	logger.Info("✅ 系统初始化完成，程序正在运行中...")
	logger.Info("💡 按 Ctrl+C 退出程序")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	cancel()

	eventCenter.Stop()
	if notifications != nil {
		notifications.Wait()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := distributedLock.Close(); err != nil {
		logger.Warn("⚠️ 关闭分布式锁失败: %v", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("⚠️ 关闭数据库失败: %v", err)
		}
	}

	// 给 Web 服务器留出关闭时间
	time.Sleep(500 * time.Millisecond)
	logger.Info("✅ 系统已安全退出")

	if logStorage != nil {
		logger.InitLogStorage(nil)
		if err := logStorage.Close(); err != nil {
			log.Printf("[ERROR] 关闭日志存储失败: %v", err)
		}
	}
	logger.Close()
}
