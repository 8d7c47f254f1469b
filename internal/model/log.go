package model

import "time"

// 操作类型
const (
	ActionLicenseIssue      = "license.issue"
	ActionLicenseDeactivate = "license.deactivate"
	ActionLicenseReset      = "license.reset"
	ActionLicenseUpdate     = "license.update"
	ActionLicenseSync       = "license.sync"
	ActionTelegramLink      = "telegram.link"
	ActionTwoFactorEnable   = "2fa.enable"
	ActionTwoFactorDisable  = "2fa.disable"
	ActionUserUpdate        = "user.update"
)

// OperationLog 管理和账户安全相关的操作日志
type OperationLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	TargetID  string    `json:"target_id"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
