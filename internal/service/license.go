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

const (
	usageOK          = store.UsageActionPrefix + "ok"
	statsWindow      = 7 * 24 * time.Hour
	issueKeyAttempts = 3
)

// Validation 许可证验证结果，失败时 Reason 为 apperr 中的许可证错误
type Validation struct {
	Valid         bool
	Reason        error
	ExpiresAt     *time.Time
	DownloadToken string
	Version       string
}

// LicenseDeps LicenseService 的依赖，Stats、Sync、Metrics 可为空
type LicenseDeps struct {
	Licenses store.LicenseStore
	Stats    store.StatsStore
	Logs     *LogService
	Sync     LicenseSyncer
	Metrics  *Metrics
	Tokens   *DownloadTokenIssuer
	Logger   *slog.Logger
	Now      Clock

	ClientVersion         string
	DefaultMaxActivations int
}

// LicenseService 许可证验证与管理
type LicenseService struct {
	licenses     store.LicenseStore
	stats        store.StatsStore
	logs         *LogService
	sync         LicenseSyncer
	metrics      *Metrics
	tokens       *DownloadTokenIssuer
	log          *slog.Logger
	now          Clock
	version      string
	defaultLimit int
}

func NewLicenseService(deps LicenseDeps) *LicenseService {
	now := deps.Now
	if now == nil {
		now = UTCNow
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = NewDownloadTokenIssuer(now)
	}
	limit := deps.DefaultMaxActivations
	if limit < 1 {
		limit = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{
		licenses:     deps.Licenses,
		stats:        deps.Stats,
		logs:         deps.Logs,
		sync:         deps.Sync,
		metrics:      deps.Metrics,
		tokens:       tokens,
		log:          logger,
		now:          now,
		version:      deps.ClientVersion,
		defaultLimit: limit,
	}
}

// Validate 验证许可证，首次使用时绑定设备。
// 返回 error 表示内部错误，业务拒绝放在 Validation.Reason
func (s *LicenseService) Validate(ctx context.Context, key, deviceID string, meta RequestMeta) (Validation, error) {
	key = strings.TrimSpace(key)
	if !util.IsValidLicenseFormat(key) || strings.TrimSpace(deviceID) == "" {
		s.metrics.validation(apperr.ErrMalformedInput.Code)
		return Validation{Reason: apperr.ErrMalformedInput}, nil
	}

	result, err := s.decide(ctx, key, deviceID)
	if err != nil {
		s.metrics.validation("internal")
		s.log.ErrorContext(ctx, "license validation failed", "key", key, "error", err)
		return Validation{}, err
	}

	action := usageOK
	if !result.Valid {
		action = store.UsageActionPrefix + apperr.Code(result.Reason)
	}
	s.logs.RecordUsage(ctx, key, action, meta)
	s.metrics.validation(strings.TrimPrefix(action, store.UsageActionPrefix))
	return result, nil
}

func (s *LicenseService) decide(ctx context.Context, key, deviceID string) (Validation, error) {
	license, err := s.licenses.FindByKey(ctx, key)
	if err != nil {
		return rejectOrFail(err)
	}

	now := s.now()
	if !license.Active {
		return Validation{Reason: apperr.ErrDeactivated}, nil
	}
	if license.IsExpired(now) {
		expires := license.ExpiresAt
		return Validation{Reason: apperr.ErrExpired, ExpiresAt: &expires}, nil
	}

	deviceHash := util.HashDeviceID(deviceID)
	if license.IsBound() {
		if *license.DeviceBinding != deviceHash {
			return Validation{Reason: apperr.ErrDeviceMismatch}, nil
		}
	} else {
		activated, bound, err := s.licenses.Activate(ctx, key, deviceHash, now)
		if err != nil {
			return rejectOrFail(err)
		}
		if bound {
			s.metrics.activation()
			s.log.InfoContext(ctx, "license activated", "key", key, "user_id", activated.UserID)
		}
		license = activated
	}

	expires := license.ExpiresAt
	return Validation{
		Valid:         true,
		ExpiresAt:     &expires,
		DownloadToken: s.tokens.Issue(key, deviceID),
		Version:       s.version,
	}, nil
}

func rejectOrFail(err error) (Validation, error) {
	if apperr.IsInternal(err) {
		return Validation{}, err
	}
	return Validation{Reason: err}, nil
}

// Issue 创建许可证，maxActivations 为 0 时使用默认值
func (s *LicenseService) Issue(ctx context.Context, actorID, userID uint, durationDays, maxActivations int) (*model.License, error) {
	if userID == 0 || durationDays < 1 || maxActivations < 0 {
		return nil, apperr.ErrMalformedInput
	}
	if maxActivations == 0 {
		maxActivations = s.defaultLimit
	}

	now := s.now()
	var license *model.License
	for attempt := 0; attempt < issueKeyAttempts; attempt++ {
		key, err := util.GenerateLicenseKey()
		if err != nil {
			return nil, fmt.Errorf("generate license key: %w", err)
		}
		candidate := &model.License{
			Key:             key,
			UserID:          userID,
			ActivationLimit: maxActivations,
			ExpiresAt:       now.AddDate(0, 0, durationDays),
			Active:          true,
		}
		err = s.licenses.Create(ctx, candidate)
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		license = candidate
		break
	}
	if license == nil {
		return nil, fmt.Errorf("generate license key: %d collisions in a row", issueKeyAttempts)
	}

	s.logs.operation(ctx, actorID, model.ActionLicenseIssue, "license", license.Key, map[string]interface{}{
		"user_id":         userID,
		"duration_days":   durationDays,
		"max_activations": maxActivations,
	})
	s.mirror(ctx, license)
	return license, nil
}

// Deactivate 停用许可证
func (s *LicenseService) Deactivate(ctx context.Context, actorID, id uint) (*model.License, error) {
	active := false
	license, err := s.licenses.Update(ctx, id, model.LicenseUpdate{Active: &active})
	if err != nil {
		return nil, err
	}
	s.logs.operation(ctx, actorID, model.ActionLicenseDeactivate, "license", license.Key, nil)
	s.mirror(ctx, license)
	return license, nil
}

// ResetBinding 解除设备绑定，激活次数不回退
func (s *LicenseService) ResetBinding(ctx context.Context, actorID, id uint) (*model.License, error) {
	license, err := s.licenses.ResetBinding(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logs.operation(ctx, actorID, model.ActionLicenseReset, "license", license.Key, map[string]interface{}{
		"activation_count": license.ActivationCount,
		"activation_limit": license.ActivationLimit,
	})
	s.mirror(ctx, license)
	return license, nil
}

// Update 部分更新许可证，上限不能低于已激活次数
func (s *LicenseService) Update(ctx context.Context, actorID, id uint, update model.LicenseUpdate) (*model.License, error) {
	if update.IsEmpty() {
		return nil, apperr.ErrMalformedInput
	}
	// 低于已激活次数由存储层拒绝
	if update.ActivationLimit != nil && *update.ActivationLimit < 1 {
		return nil, apperr.ErrMalformedInput
	}
	if update.ExpiresAt != nil {
		expires := update.ExpiresAt.UTC()
		update.ExpiresAt = &expires
	}

	license, err := s.licenses.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.logs.operation(ctx, actorID, model.ActionLicenseUpdate, "license", license.Key, update)
	s.mirror(ctx, license)
	return license, nil
}

func (s *LicenseService) List(ctx context.Context) ([]model.License, error) {
	return s.licenses.List(ctx)
}

func (s *LicenseService) ListByUser(ctx context.Context, userID uint) ([]model.License, error) {
	return s.licenses.FindByUserID(ctx, userID)
}

// Usage 获取许可证最近的验证记录
func (s *LicenseService) Usage(ctx context.Context, key string, limit int) ([]model.LicenseUsage, error) {
	if !util.IsValidLicenseFormat(key) {
		return nil, apperr.ErrMalformedInput
	}
	if _, err := s.licenses.FindByKey(ctx, key); err != nil {
		return nil, err
	}
	return s.logs.GetUsage(ctx, key, limit)
}

// Stats 许可证统计，since 为零值时统计最近七天
func (s *LicenseService) Stats(ctx context.Context, since time.Time) (*model.LicenseStatistics, error) {
	if s.stats == nil {
		return nil, apperr.ErrUnavailable
	}
	now := s.now()
	if since.IsZero() {
		since = now.Add(-statsWindow)
	}
	return s.stats.Statistics(ctx, now, since.UTC())
}

// SyncAll 用数据库全量覆盖 Sheet
func (s *LicenseService) SyncAll(ctx context.Context, actorID uint) (int, error) {
	if s.sync == nil {
		return 0, apperr.ErrUnavailable
	}
	licenses, err := s.licenses.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.sync.BatchSyncLicenses(ctx, licenses); err != nil {
		return 0, fmt.Errorf("sync licenses: %w", err)
	}
	s.logs.operation(ctx, actorID, model.ActionLicenseSync, "license", strconv.Itoa(len(licenses)), nil)
	return len(licenses), nil
}

// mirror 同步单个许可证到 Sheet，失败只记录日志
func (s *LicenseService) mirror(ctx context.Context, license *model.License) {
	if s.sync == nil {
		return
	}
	if err := s.sync.SyncLicense(ctx, license); err != nil {
		s.log.WarnContext(ctx, "sheet sync failed", "key", license.Key, "error", err)
	}
}
