package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signaldesk/config"
	"signaldesk/database"
	"signaldesk/event"
	"signaldesk/ingest"
	"signaldesk/lock"
	"signaldesk/logger"
	"signaldesk/metrics"
	"signaldesk/position"
	"signaldesk/safety"
	"signaldesk/signals"
	"signaldesk/storage"
	"signaldesk/trader"
)

// WebSocketConfig 推送连接配置
type WebSocketConfig struct {
	SendBuffer int
	WriteWait  time.Duration
	PongWait   time.Duration
}

// Options Web 服务依赖。Database、Logs、Reconciler、SystemMetrics 可以为空
type Options struct {
	Patterns   *signals.Store
	Pipeline   *ingest.Pipeline
	Store      *position.Store
	Hub        *event.Hub
	Trader     trader.Trader
	Lock       lock.DistributedLock
	Database   database.Database
	Logs       *storage.LogStorage
	Reconciler *safety.Reconciler

	SystemMetrics *metrics.SystemMetricsCollector

	TrackedAccounts []string
	PasswordHash    string
	SessionTTL      time.Duration
	WebSocket       WebSocketConfig
	AccessLog       bool // 写入 web-gin 访问日志
	Debug           bool // 调试模式下记录全部请求并开放 pprof
}

// Server HTTP API 和推送通道
type Server struct {
	opts     Options
	sessions *SessionManager
}

// NewServer 创建 API 服务
func NewServer(opts Options) *Server {
	if opts.Lock == nil {
		opts.Lock = lock.NewLocalLock()
	}
	if opts.WebSocket.SendBuffer <= 0 {
		opts.WebSocket.SendBuffer = event.DefaultBufferSize
	}
	if opts.WebSocket.WriteWait <= 0 {
		opts.WebSocket.WriteWait = 10 * time.Second
	}
	if opts.WebSocket.PongWait <= 0 {
		opts.WebSocket.PongWait = 60 * time.Second
	}
	return &Server{
		opts:     opts,
		sessions: NewSessionManager(opts.SessionTTL),
	}
}

// Router 创建 gin 路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.opts.AccessLog {
		r.Use(GinLoggerMiddleware(s.opts.Debug))
	}
	r.Use(I18nMiddleware())
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *gin.Engine) {
	// Prometheus 抓取不需要认证
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.opts.Debug {
		pprofGroup := r.Group("/debug/pprof")
		{
			pprofGroup.GET("/", gin.WrapF(pprof.Index))
			pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
			pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
			pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
		}
	}

	r.GET("/ws", s.authMiddleware(), s.handleWebSocket)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.GET("/status", s.getAuthStatus)
			auth.POST("/login", s.login)
			auth.POST("/logout", s.logout)
		}

		protected := api.Group("")
		protected.Use(s.authMiddleware())
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/balances", s.getBalances)
			protected.GET("/analytics", s.getAnalytics)
			protected.GET("/trades/history", s.getTradeHistory)
			protected.GET("/events", s.getEvents)
			protected.GET("/logs", s.getLogs)
			protected.GET("/reconciliation/status", s.getReconciliationStatus)
			protected.GET("/system/metrics", s.getSystemMetrics)

			bot := protected.Group("/bot")
			{
				bot.GET("/status", s.getBotStatus)
				bot.POST("/close-position", s.closePosition)
				bot.POST("/backtest", s.runBacktest)

				bot.GET("/channels", s.listChannels)
				bot.POST("/channels", s.addChannel)
				bot.DELETE("/channels", s.removeChannel)

				bot.GET("/patterns", s.listPatterns)
				bot.POST("/patterns", s.addPattern)
				bot.PUT("/patterns", s.replacePatterns)
				bot.POST("/patterns/:id/toggle", s.togglePattern)
				bot.DELETE("/patterns/:id", s.removePattern)
			}

			sig := protected.Group("/signals")
			{
				sig.POST("/ingest", s.ingestSignal)
				sig.POST("/test", s.testSignal)
			}
		}
	}
}

// WebServer HTTP 服务器
type WebServer struct {
	server *http.Server
	addr   string
}

// NewWebServer 创建 HTTP 服务器
func NewWebServer(cfg *config.Config, s *Server) *WebServer {
	if cfg.System.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	return &WebServer{
		addr: addr,
		server: &http.Server{
			Addr:        addr,
			Handler:     s.Router(),
			ReadTimeout: 15 * time.Second,
			// 推送连接是长连接，不设置 WriteTimeout
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Start 启动服务器，ctx 取消后优雅关闭
func (ws *WebServer) Start(ctx context.Context) {
	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.addr)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ws.Stop()
	}()
}

// Stop 停止服务器
func (ws *WebServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
		return
	}
	logger.Info("✅ Web服务器已关闭")
}
