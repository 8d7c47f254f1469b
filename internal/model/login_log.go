package model

import "time"

const (
	LoginStatusSuccess   = "success"
	LoginStatusFailed    = "failed"
	LoginStatusChallenge = "challenge"
	LoginStatusVerified  = "verified"
)

type LoginLog struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Status    string    `json:"status"` // success, failed, challenge, verified
	CreatedAt time.Time `json:"created_at"`
}
