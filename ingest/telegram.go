package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signaldesk/logger"
)

// TelegramListener 通过 Bot 长轮询接收频道消息并送入处理管道
//
// Bot 需要是被监听频道的管理员才能收到 channel_post。
type TelegramListener struct {
	bot      *tgbotapi.BotAPI
	pipeline *Pipeline
	timeout  int
}

// NewTelegramListener 创建监听器，会调用 getMe 校验 token
func NewTelegramListener(botToken string, timeoutSec int, pipeline *Pipeline) (*TelegramListener, error) {
	return newTelegramListener(botToken, tgbotapi.APIEndpoint, timeoutSec, pipeline)
}

func newTelegramListener(botToken, endpoint string, timeoutSec int, pipeline *Pipeline) (*TelegramListener, error) {
	if botToken == "" {
		return nil, fmt.Errorf("Telegram BotToken 未配置")
	}
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	client := &http.Client{Timeout: time.Duration(timeoutSec+10) * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("连接 Telegram 失败: %w", err)
	}
	logger.Info("✅ Telegram 监听已授权: @%s", bot.Self.UserName)
	return &TelegramListener{bot: bot, pipeline: pipeline, timeout: timeoutSec}, nil
}

// Start 开始接收消息，ctx 取消后停止
func (tl *TelegramListener) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = tl.timeout
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := tl.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				tl.bot.StopReceivingUpdates()
				logger.Info("⏹️ Telegram 监听已停止")
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				tl.handleUpdate(update)
			}
		}
	}()
}

func (tl *TelegramListener) handleUpdate(update tgbotapi.Update) {
	msg := update.ChannelPost
	if msg == nil {
		msg = update.Message
	}
	if msg == nil || msg.Chat == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}
	channel := tl.resolveChannel(msg.Chat)
	res, err := tl.pipeline.Process(channel, text)
	if err != nil {
		logger.Error("❌ [Telegram] 处理 %s 的消息失败: %v", channel, err)
		return
	}
	logger.Debug("📨 [Telegram] %s -> %s", channel, res.Outcome)
}

// resolveChannel 频道可以按 @用户名 或数字 ID 注册，优先返回已注册的形式
func (tl *TelegramListener) resolveChannel(chat *tgbotapi.Chat) string {
	id := strconv.FormatInt(chat.ID, 10)
	if chat.UserName == "" {
		return id
	}
	name := "@" + chat.UserName
	if tl.pipeline.Channels() != nil && tl.pipeline.Channels().Contains(id) {
		return id
	}
	return name
}
