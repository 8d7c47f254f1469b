// Package store 数据存储接口及其 gorm、内存实现
package store

import (
	"context"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"
)

// LicenseStore 许可证存储
type LicenseStore interface {
	Create(ctx context.Context, license *model.License) error
	FindByID(ctx context.Context, id uint) (*model.License, error)
	FindByKey(ctx context.Context, key string) (*model.License, error)
	FindByUserID(ctx context.Context, userID uint) ([]model.License, error)
	List(ctx context.Context) ([]model.License, error)

	// Activate 绑定设备，上限检查与绑定是一个原子步骤，返回本次是否完成绑定
	Activate(ctx context.Context, key, deviceHash string, now time.Time) (*model.License, bool, error)

	// Update 部分更新。新上限低于已激活次数时返回 apperr.ErrMalformedInput，
	// 比较与写入是一个原子步骤
	Update(ctx context.Context, id uint, update model.LicenseUpdate) (*model.License, error)

	// ResetBinding 解除设备绑定，保留激活次数
	ResetBinding(ctx context.Context, id uint) (*model.License, error)
}

// UserQuery 用户搜索条件与分页
type UserQuery struct {
	Page     int
	PageSize int
	Keyword  string
	Role     string
	Status   string
}

// UserStore 用户存储
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	Save(ctx context.Context, user *model.User) error
	Search(ctx context.Context, query UserQuery) ([]model.User, int64, error)
}

// ChallengeStore 每个用户最多一个待验证码
type ChallengeStore interface {
	// Put 覆盖该用户已有的验证码
	Put(ctx context.Context, challenge model.PendingChallenge) error
	// Get 无待验证码时返回 nil, nil
	Get(ctx context.Context, userID uint) (*model.PendingChallenge, error)
	// Delete 仅当验证码仍为 code 时删除，返回本次是否删除
	Delete(ctx context.Context, userID uint, code string) (bool, error)
}

// LinkCodeStore 每个 Telegram 账号最多一个绑定码
type LinkCodeStore interface {
	Put(ctx context.Context, code model.LinkCode) error
	// Consume 删除并返回绑定码，不存在或已过期返回 apperr.ErrLinkCodeInvalid
	Consume(ctx context.Context, code string, now time.Time) (*model.LinkCode, error)
}

// AuditStore 操作日志、登录日志与验证记录
type AuditStore interface {
	LogOperation(ctx context.Context, entry *model.OperationLog) error
	ListOperations(ctx context.Context, userID uint, page, pageSize int) ([]model.OperationLog, int64, error)
	RecordLogin(ctx context.Context, entry *model.LoginLog) error
	ListLogins(ctx context.Context, userID uint, page, pageSize int) ([]model.LoginLog, int64, error)
	RecordUsage(ctx context.Context, entry *model.LicenseUsage) error
	ListUsage(ctx context.Context, key string, limit int) ([]model.LicenseUsage, error)
}

// StatsStore 许可证与验证统计
type StatsStore interface {
	Statistics(ctx context.Context, now, since time.Time) (*model.LicenseStatistics, error)
}

// resolveLostRace 条件绑定未生效时，根据最新状态给出原因
func resolveLostRace(current *model.License, deviceHash string, now time.Time) error {
	switch {
	case !current.Active:
		return apperr.ErrDeactivated
	case current.IsExpired(now):
		return apperr.ErrExpired
	case current.IsBound() && *current.DeviceBinding == deviceHash:
		return nil
	case current.IsBound():
		return apperr.ErrDeviceMismatch
	default:
		return apperr.ErrLimitReached
	}
}

// checkActivatable 绑定前置检查，bound=true 表示已绑定到该设备
func checkActivatable(license *model.License, deviceHash string, now time.Time) (bound bool, err error) {
	if !license.Active {
		return false, apperr.ErrDeactivated
	}
	if license.IsExpired(now) {
		return false, apperr.ErrExpired
	}
	if license.IsBound() {
		if *license.DeviceBinding == deviceHash {
			return true, nil
		}
		return false, apperr.ErrDeviceMismatch
	}
	if license.ActivationCount >= license.ActivationLimit {
		return false, apperr.ErrLimitReached
	}
	return false, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
