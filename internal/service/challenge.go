package service

import (
	"context"
	"fmt"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"
	"armt-platform/internal/store"
	"armt-platform/internal/util"
)

// DefaultChallengeTTL 登录验证码有效期
const DefaultChallengeTTL = 5 * time.Minute

// ChallengeManager 一次性登录验证码，每个用户最多一个待验证码
type ChallengeManager struct {
	store store.ChallengeStore
	ttl   time.Duration
	now   Clock
}

func NewChallengeManager(st store.ChallengeStore, ttl time.Duration, now Clock) *ChallengeManager {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if now == nil {
		now = UTCNow
	}
	return &ChallengeManager{store: st, ttl: ttl, now: now}
}

// TTL 验证码有效期
func (m *ChallengeManager) TTL() time.Duration {
	return m.ttl
}

// Issue 生成验证码并替换旧码
func (m *ChallengeManager) Issue(ctx context.Context, userID uint) (string, error) {
	code, err := util.GenerateChallengeCode()
	if err != nil {
		return "", err
	}
	challenge := model.PendingChallenge{
		UserID:    userID,
		Code:      code,
		ExpiresAt: m.now().Add(m.ttl),
	}
	if err := m.store.Put(ctx, challenge); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return code, nil
}

// Verify 验证码匹配时消费掉。过期的验证码保留，直到重新生成
func (m *ChallengeManager) Verify(ctx context.Context, userID uint, code string) error {
	pending, err := m.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if pending == nil {
		return apperr.ErrNoChallenge
	}
	if pending.IsExpired(m.now()) {
		return apperr.ErrChallengeExpired
	}
	if pending.Code != code {
		return apperr.ErrCodeMismatch
	}
	removed, err := m.store.Delete(ctx, userID, code)
	if err != nil {
		return fmt.Errorf("clear challenge: %w", err)
	}
	if !removed {
		// 已被并发的 Verify 消费，或已被新验证码替换
		return apperr.ErrNoChallenge
	}
	return nil
}
