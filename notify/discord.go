package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"signaldesk/event"
)

// Discord embed 颜色
const (
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
	colorBlue  = 0x3498db
)

// DiscordNotifier Discord Webhook 通知器
type DiscordNotifier struct {
	webhook string
	client  *http.Client
}

// NewDiscordNotifier 创建 Discord 通知器
func NewDiscordNotifier(webhook string) *DiscordNotifier {
	return &DiscordNotifier{
		webhook: webhook,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// Name 返回通知器名称
func (dn *DiscordNotifier) Name() string {
	return "Discord"
}

// Send 以 embed 形式发送通知
func (dn *DiscordNotifier) Send(ev event.Event) error {
	emoji, t := title(ev.Kind)
	color := colorBlue
	switch ev.Kind {
	case event.KindPositionOpened:
		color = colorGreen
	case event.KindPositionClosed:
		color = colorRed
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       emoji + " " + t,
				"description": event.Message(ev),
				"color":       color,
				"timestamp":   ev.Timestamp.Format(time.RFC3339),
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dn.webhook, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Discord 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}
