package notify

import (
	"fmt"
	"sync"

	"signaldesk/config"
	"signaldesk/event"
	"signaldesk/logger"
	"signaldesk/utils"
)

// Notifier 通知渠道
type Notifier interface {
	Send(ev event.Event) error
	Name() string
}

// NotificationService 通知服务，把事件并发推送到所有启用的渠道
type NotificationService struct {
	notifiers []Notifier
	wg        sync.WaitGroup
}

// NewNotificationService 根据配置创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{}
	if !cfg.Notifications.Enabled {
		return ns
	}

	if cfg.Notifications.Telegram.Enabled {
		n, err := NewTelegramNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
		if err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			ns.Add(n)
			logger.Info("✅ Telegram 通知已启用")
		}
	}

	if cfg.Notifications.Discord.Enabled && cfg.Notifications.Discord.Webhook != "" {
		ns.Add(NewDiscordNotifier(cfg.Notifications.Discord.Webhook))
		logger.Info("✅ Discord 通知已启用")
	}

	if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
		n, err := NewWebhookNotifier(cfg.Notifications.Webhook.URL, cfg.Notifications.Webhook.Timeout)
		if err != nil {
			logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
		} else {
			ns.Add(n)
			logger.Info("✅ Webhook 通知已启用")
		}
	}

	return ns
}

// Add 添加通知渠道，必须在开始发送前调用
func (ns *NotificationService) Add(n Notifier) {
	ns.notifiers = append(ns.notifiers, n)
}

// Count 已启用的渠道数量
func (ns *NotificationService) Count() int {
	return len(ns.notifiers)
}

// Notify 实现 event.Notifier，异步发送不阻塞事件处理
func (ns *NotificationService) Notify(ev event.Event) {
	if len(ns.notifiers) == 0 {
		return
	}
	for _, n := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(ev); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(n)
	}
}

// Wait 等待所有在途通知发送完成（退出时调用）
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}

// title 事件对应的标题和表情
func title(kind event.Kind) (string, string) {
	switch kind {
	case event.KindPositionOpened:
		return "📈", "开仓"
	case event.KindPositionClosed:
		return "📉", "平仓"
	case event.KindPositionUpdated:
		return "🔄", "持仓更新"
	case event.KindBalanceUpdated:
		return "💰", "余额更新"
	default:
		return "ℹ️", "系统通知"
	}
}

// formatMessage 生成纯文本通知内容
func formatMessage(ev event.Event) string {
	emoji, t := title(ev.Kind)
	return fmt.Sprintf("%s %s\n%s\n时间: %s", emoji, t, event.Message(ev),
		utils.ToConfiguredTimezone(ev.Timestamp).Format("2006-01-02 15:04:05"))
}
