// Package service 许可证验证、Telegram 两步验证登录及管理操作
package service

import (
	"context"
	"time"
)

// Clock 返回当前时间，测试中可替换
type Clock func() time.Time

// UTCNow 默认时钟，时间统一存为 UTC 以便 sqlite 比较
func UTCNow() time.Time {
	return time.Now().UTC()
}

// RequestMeta 审计用的请求来源
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Messenger 向已绑定的 Telegram 账号发送消息，返回 error 表示未送达
type Messenger interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
}
