package model

import "time"

// PendingChallenge 两步验证码，每个用户最多一条（以 UserID 为主键）
type PendingChallenge struct {
	UserID    uint      `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	Code      string    `json:"-" gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
}

// IsExpired 超过到期时刻才算过期
func (c *PendingChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// LinkCode Telegram 账号绑定码，每个 Telegram 账号最多一条
type LinkCode struct {
	Code             string    `json:"code" gorm:"primaryKey"`
	TelegramID       int64     `json:"telegram_id" gorm:"uniqueIndex;not null"`
	TelegramUsername string    `json:"telegram_username"`
	ExpiresAt        time.Time `json:"expires_at" gorm:"not null"`
}
