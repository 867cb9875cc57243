package notify

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signaldesk/event"
)

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier 创建 Telegram 通知器，会调用 getMe 校验 token
func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	return newTelegramNotifier(botToken, chatID, tgbotapi.APIEndpoint)
}

func newTelegramNotifier(botToken, chatID, endpoint string) (*TelegramNotifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("无效的 Telegram ChatID %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("连接 Telegram 失败: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: id}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(ev event.Event) error {
	msg := tgbotapi.NewMessage(tn.chatID, formatMessage(ev))
	if _, err := tn.bot.Send(msg); err != nil {
		return fmt.Errorf("发送 Telegram 消息失败: %w", err)
	}
	return nil
}
