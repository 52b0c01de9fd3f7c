package exchange

import (
	"context"
	"errors"
)

// 订单与行情错误分级：
//   - 瞬时错误（超时、断连、服务端 5xx）允许有限重试
//   - 永久错误（拒单、参数非法、余额不足）禁止重试
var (
	// ErrVenueUnavailable 交易所暂时不可达（瞬时）
	ErrVenueUnavailable = errors.New("venue unavailable")

	// ErrQuoteUnavailable 无法获取有效报价
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrLeverageUnavailable 无法从鉴权接口获取杠杆上限（禁止使用默认值兜底）
	ErrLeverageUnavailable = errors.New("leverage unavailable")

	// ErrOrderRejected 交易所拒单（永久）
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderNotFound 查询不到指定订单
	ErrOrderNotFound = errors.New("order not found")

	// ErrRateLimited 本地令牌桶拒绝（立即失败，不排队）
	ErrRateLimited = errors.New("rate_limited")

	// ErrNotRegistered 交易所客户端未注册
	ErrNotRegistered = errors.New("exchange client not registered")

	// ErrLiveOrderDisabled 实盘下单开关未开启
	ErrLiveOrderDisabled = errors.New("live order disabled")

	// ErrCredentialsMissing 缺少 API 凭证
	ErrCredentialsMissing = errors.New("credentials missing")
)

// IsTransient 判断错误是否允许重试
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVenueUnavailable) || errors.Is(err, ErrQuoteUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// IsPermanent 判断错误是否为永久性失败（禁止重试）
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrCredentialsMissing) ||
		errors.Is(err, ErrLiveOrderDisabled)
}
