package model

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Email            string    `json:"email" gorm:"uniqueIndex;not null"`
	Password         string    `json:"-" gorm:"not null"`
	Role             string    `json:"role" gorm:"default:'user'"`
	Status           string    `json:"status" gorm:"default:'active'"`
	TelegramID       *int64    `json:"telegram_id" gorm:"uniqueIndex"`
	TelegramUsername string    `json:"telegram_username"`
	TwoFactorEnabled bool      `json:"telegram_2fa_enabled" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"createdat"`
	UpdatedAt        time.Time `json:"updatedat"`
	LastLogin        time.Time `json:"lastlogin"`
}

// IsAdmin 是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// RequiresChallenge 已开启两步验证且已绑定 Telegram
func (u *User) RequiresChallenge() bool {
	return u.TwoFactorEnabled && u.TelegramID != nil
}
