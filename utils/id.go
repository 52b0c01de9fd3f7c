package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEventID 生成事件唯一标识
func NewEventID() string {
	return uuid.NewString()
}

// NewClientOrderID 生成客户端订单号（带前缀便于在交易所后台排查）
func NewClientOrderID(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), u.String()[:8])
}
