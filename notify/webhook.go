package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"arbmesh/utils"
)

// WebhookNotifier 向通用 webhook 端点 POST JSON 告警
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建 webhook 通知器
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Send POST {"title","message","timestamp"}
func (w *WebhookNotifier) Send(title, message string) error {
	payload, err := json.Marshal(map[string]string{
		"title":     title,
		"message":   message,
		"timestamp": utils.NowConfiguredTimezone().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return err
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
