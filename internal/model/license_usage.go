package model

import "time"

// LicenseUsage 每次验证请求的记录
type LicenseUsage struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	LicenseKey string    `json:"license_key" gorm:"index"`
	Action     string    `json:"action"` // "validate:ok", "validate:device_mismatch", ...
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Timestamp  time.Time `json:"timestamp" gorm:"index"`
}
