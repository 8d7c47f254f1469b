package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"
	"armt-platform/internal/store"
	"armt-platform/internal/util"
)

// DefaultLinkCodeTTL 机器人 /link 绑定码的有效期
const DefaultLinkCodeTTL = 10 * time.Minute

// AccountService 账号与 Telegram 绑定及两步验证开关
type AccountService struct {
	users store.UserStore
	links store.LinkCodeStore
	logs  *LogService
	log   *slog.Logger
	now   Clock
	ttl   time.Duration
}

func NewAccountService(users store.UserStore, links store.LinkCodeStore, logs *LogService, log *slog.Logger, now Clock, ttl time.Duration) *AccountService {
	if now == nil {
		now = UTCNow
	}
	if ttl <= 0 {
		ttl = DefaultLinkCodeTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &AccountService{users: users, links: links, logs: logs, log: log, now: now, ttl: ttl}
}

// IssueLinkCode 生成绑定码，同一 Telegram 账号的旧码作废
func (s *AccountService) IssueLinkCode(ctx context.Context, telegramID int64, username string) (string, time.Duration, error) {
	code, err := util.GenerateLinkCode()
	if err != nil {
		return "", 0, err
	}
	entry := model.LinkCode{
		Code:             code,
		TelegramID:       telegramID,
		TelegramUsername: username,
		ExpiresAt:        s.now().Add(s.ttl),
	}
	if err := s.links.Put(ctx, entry); err != nil {
		return "", 0, fmt.Errorf("store link code: %w", err)
	}
	return code, s.ttl, nil
}

// LinkTelegram 用绑定码把 Telegram 账号绑定到用户
func (s *AccountService) LinkTelegram(ctx context.Context, userID uint, code string) (*model.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.ErrLinkCodeInvalid
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	link, err := s.links.Consume(ctx, code, s.now())
	if err != nil {
		return nil, err
	}

	owner, err := s.users.FindByTelegramID(ctx, link.TelegramID)
	switch {
	case err == nil && owner.ID != user.ID:
		return nil, apperr.ErrConflict
	case err != nil && !errors.Is(err, apperr.ErrUserNotFound):
		return nil, err
	}

	telegramID := link.TelegramID
	user.TelegramID = &telegramID
	user.TelegramUsername = link.TelegramUsername
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}

	s.logs.operation(ctx, user.ID, model.ActionTelegramLink, "user", strconv.FormatUint(uint64(user.ID), 10), map[string]interface{}{
		"telegram_id":       telegramID,
		"telegram_username": link.TelegramUsername,
	})
	return user, nil
}

// EnableTwoFactor 开启两步验证，需先绑定 Telegram
func (s *AccountService) EnableTwoFactor(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TelegramID == nil {
		return nil, apperr.ErrTelegramNotLinked
	}
	return s.setTwoFactor(ctx, user, true)
}

func (s *AccountService) DisableTwoFactor(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.setTwoFactor(ctx, user, false)
}

func (s *AccountService) setTwoFactor(ctx context.Context, user *model.User, enabled bool) (*model.User, error) {
	if user.TwoFactorEnabled == enabled {
		return user, nil
	}
	user.TwoFactorEnabled = enabled
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}

	action := model.ActionTwoFactorDisable
	if enabled {
		action = model.ActionTwoFactorEnable
	}
	s.logs.operation(ctx, user.ID, action, "user", strconv.FormatUint(uint64(user.ID), 10), nil)
	s.log.InfoContext(ctx, "two-factor setting changed", "user_id", user.ID, "enabled", enabled)
	return user, nil
}

func (s *AccountService) GetUser(ctx context.Context, userID uint) (*model.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *AccountService) SearchUsers(ctx context.Context, query store.UserQuery) ([]model.User, int64, error) {
	return s.users.Search(ctx, query)
}

// UserUpdate 管理员修改角色或状态，nil 字段保持不变
type UserUpdate struct {
	Role   *string
	Status *string
}

// UpdateUser 修改用户角色或状态，管理员不能降级或禁用自己
func (s *AccountService) UpdateUser(ctx context.Context, actorID, userID uint, update UserUpdate) (*model.User, error) {
	if update.Role == nil && update.Status == nil {
		return nil, apperr.ErrMalformedInput
	}
	if update.Role != nil && *update.Role != model.RoleUser && *update.Role != model.RoleAdmin {
		return nil, apperr.ErrMalformedInput
	}
	if update.Status != nil && *update.Status != userStatusActive && *update.Status != UserStatusDisabled {
		return nil, apperr.ErrMalformedInput
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if actorID == userID {
		if (update.Role != nil && *update.Role != model.RoleAdmin) || (update.Status != nil && *update.Status == UserStatusDisabled) {
			return nil, apperr.ErrForbidden
		}
	}

	details := make(map[string]interface{})
	if update.Role != nil {
		user.Role = *update.Role
		details["role"] = *update.Role
	}
	if update.Status != nil {
		user.Status = *update.Status
		details["status"] = *update.Status
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}

	s.logs.operation(ctx, actorID, model.ActionUserUpdate, "user", strconv.FormatUint(uint64(user.ID), 10), details)
	return user, nil
}
