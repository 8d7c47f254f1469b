package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// DownloadTokenIssuer 为 (key, device) 生成下载令牌，令牌不落库也不自带过期时间
type DownloadTokenIssuer struct {
	now Clock
}

func NewDownloadTokenIssuer(now Clock) *DownloadTokenIssuer {
	if now == nil {
		now = UTCNow
	}
	return &DownloadTokenIssuer{now: now}
}

// Issue 按当前时间生成下载令牌
func (d *DownloadTokenIssuer) Issue(key, deviceID string) string {
	return DownloadToken(key, deviceID, d.now())
}

// DownloadToken 即 hex(sha256(key:deviceID:issuedAtMillis))
func DownloadToken(key, deviceID string, issuedAt time.Time) string {
	payload := key + ":" + deviceID + ":" + strconv.FormatInt(issuedAt.UnixMilli(), 10)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
