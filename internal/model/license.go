package model

import "time"

// License 许可证，激活后绑定到单台设备
type License struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Key             string     `json:"license_key" gorm:"uniqueIndex;not null"`
	UserID          uint       `json:"user_id" gorm:"index;not null"`
	DeviceBinding   *string    `json:"device_binding" gorm:"index"`
	ActivationDate  *time.Time `json:"activation_date"`
	ActivationCount int        `json:"current_activations" gorm:"not null;default:0"`
	ActivationLimit int        `json:"max_activations" gorm:"not null;default:1"`
	ExpiresAt       time.Time  `json:"expiration_date" gorm:"not null"`
	Active          bool       `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsBound 是否已绑定设备
func (l *License) IsBound() bool {
	return l.DeviceBinding != nil && *l.DeviceBinding != ""
}

// IsExpired 到期时刻本身视为已过期
func (l *License) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// LicenseUpdate 管理员的部分更新，nil 字段保持不变
type LicenseUpdate struct {
	Active          *bool
	ActivationLimit *int
	ExpiresAt       *time.Time
}

// IsEmpty 没有任何字段需要更新
func (u LicenseUpdate) IsEmpty() bool {
	return u.Active == nil && u.ActivationLimit == nil && u.ExpiresAt == nil
}
