package exchange

import "errors"

var (
	// ErrRequestFailed 网络错误或非 2xx 响应
	ErrRequestFailed = errors.New("exchange: request failed")
	// ErrRateLimited 触发 429 限流
	ErrRateLimited = errors.New("exchange: rate limited")
	// ErrOrderRejected 订单在发送前被拒绝或被券商拒绝
	ErrOrderRejected = errors.New("exchange: order rejected")
	// ErrNotFound 数据不存在 (例如候选公司不满足最小市值，或订单不存在)
	ErrNotFound = errors.New("exchange: not found")
	// ErrDecode 响应无法解析
	ErrDecode = errors.New("exchange: decode failed")
)
