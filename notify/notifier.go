package notify

import (
	"fmt"
	"strings"

	"arbmesh/config"
	"arbmesh/logger"
)

// Notifier 单渠道通知接口
type Notifier interface {
	Name() string
	Send(title, message string) error
}

// NotificationService 多渠道通知聚合：任一渠道失败不影响其他渠道
type NotificationService struct {
	channels []Notifier
}

// NewNotificationService 按配置装配通知渠道
func NewNotificationService(cfg *config.NotifyConfig) *NotificationService {
	svc := &NotificationService{}

	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		svc.channels = append(svc.channels, NewWebhookNotifier(cfg.Webhook.URL))
		logger.Info("✅ Webhook 通知渠道已启用")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		svc.channels = append(svc.channels, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
		logger.Info("✅ Telegram 通知渠道已启用")
	}

	if len(svc.channels) == 0 {
		logger.Info("📝 未配置通知渠道，告警仅记录日志")
	}
	return svc
}

// Send 向所有渠道广播
func (s *NotificationService) Send(title, message string) error {
	var failed []string
	for _, ch := range s.channels {
		if err := ch.Send(title, message); err != nil {
			logger.Warn("⚠️ 通知发送失败 [%s]: %v", ch.Name(), err)
			failed = append(failed, ch.Name())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("部分渠道发送失败: %s", strings.Join(failed, ","))
	}
	return nil
}
