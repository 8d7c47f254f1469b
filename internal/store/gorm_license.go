package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"

	"gorm.io/gorm"
)

type GormLicenseStore struct {
	db *gorm.DB
}

func NewGormLicenseStore(db *gorm.DB) *GormLicenseStore {
	return &GormLicenseStore{db: db}
}

func (s *GormLicenseStore) Create(ctx context.Context, license *model.License) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.License{}).Where("key = ?", license.Key).Count(&count).Error; err != nil {
		return fmt.Errorf("check license key: %w", err)
	}
	if count > 0 {
		return apperr.ErrConflict
	}
	if err := s.db.WithContext(ctx).Create(license).Error; err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *GormLicenseStore) FindByID(ctx context.Context, id uint) (*model.License, error) {
	var license model.License
	if err := s.db.WithContext(ctx).First(&license, id).Error; err != nil {
		return nil, notFound(err, "find license by id")
	}
	return &license, nil
}

func (s *GormLicenseStore) FindByKey(ctx context.Context, key string) (*model.License, error) {
	var license model.License
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&license).Error; err != nil {
		return nil, notFound(err, "find license by key")
	}
	return &license, nil
}

func (s *GormLicenseStore) FindByUserID(ctx context.Context, userID uint) ([]model.License, error) {
	var licenses []model.License
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("find licenses by user: %w", err)
	}
	return licenses, nil
}

func (s *GormLicenseStore) List(ctx context.Context) ([]model.License, error) {
	var licenses []model.License
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&licenses).Error; err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

// Activate 用一条带条件的 UPDATE 绑定设备，并发时以 RowsAffected 判定
func (s *GormLicenseStore) Activate(ctx context.Context, key, deviceHash string, now time.Time) (*model.License, bool, error) {
	license, err := s.FindByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	bound, err := checkActivatable(license, deviceHash, now)
	if err != nil || bound {
		return license, false, err
	}

	result := s.db.WithContext(ctx).Model(&model.License{}).
		Where("id = ? AND device_binding IS NULL AND activation_count < activation_limit AND active = ?", license.ID, true).
		Updates(map[string]interface{}{
			"device_binding":   deviceHash,
			"activation_date":  now,
			"activation_count": gorm.Expr("activation_count + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("activate license: %w", result.Error)
	}

	current, err := s.FindByID(ctx, license.ID)
	if err != nil {
		return nil, false, err
	}
	if result.RowsAffected == 1 {
		return current, true, nil
	}
	return current, false, resolveLostRace(current, deviceHash, now)
}

// Update 部分更新; 上限条件与写入在同一条 UPDATE 中完成
func (s *GormLicenseStore) Update(ctx context.Context, id uint, update model.LicenseUpdate) (*model.License, error) {
	license, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.IsEmpty() {
		return license, nil
	}

	fields := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.Active != nil {
		fields["active"] = *update.Active
	}
	if update.ActivationLimit != nil {
		fields["activation_limit"] = *update.ActivationLimit
	}
	if update.ExpiresAt != nil {
		fields["expires_at"] = *update.ExpiresAt
	}

	query := s.db.WithContext(ctx).Model(&model.License{}).Where("id = ?", id)
	if update.ActivationLimit != nil {
		query = query.Where("activation_count <= ?", *update.ActivationLimit)
	}
	result := query.Updates(fields)
	if result.Error != nil {
		return nil, fmt.Errorf("update license: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 激活次数已超过新上限
		return nil, apperr.ErrMalformedInput
	}
	return s.FindByID(ctx, id)
}

func (s *GormLicenseStore) ResetBinding(ctx context.Context, id uint) (*model.License, error) {
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&model.License{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"device_binding":  nil,
			"activation_date": nil,
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, fmt.Errorf("reset license binding: %w", err)
	}
	return s.FindByID(ctx, id)
}

// Statistics 统计许可证与验证记录
func (s *GormLicenseStore) Statistics(ctx context.Context, now, since time.Time) (*model.LicenseStatistics, error) {
	db := s.db.WithContext(ctx)
	stats := &model.LicenseStatistics{DailyUsage: make([]model.DailyUsage, 0)}

	counts := []struct {
		dest  *int64
		query string
		args  []interface{}
	}{
		{&stats.TotalLicenses, "1 = 1", nil},
		{&stats.ActiveLicenses, "active = ? AND expires_at > ?", []interface{}{true, now}},
		{&stats.DeactivatedLicenses, "active = ?", []interface{}{false}},
		{&stats.ExpiredLicenses, "expires_at <= ?", []interface{}{now}},
		{&stats.ExpiringLicenses, "active = ? AND expires_at > ? AND expires_at <= ?", []interface{}{true, now, now.AddDate(0, 0, 30)}},
		{&stats.BoundLicenses, "device_binding IS NOT NULL", nil},
	}
	for _, c := range counts {
		if err := db.Model(&model.License{}).Where(c.query, c.args...).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("count licenses: %w", err)
		}
	}

	var activations struct{ Total int64 }
	if err := db.Model(&model.License{}).Select("COALESCE(SUM(activation_count), 0) AS total").Scan(&activations).Error; err != nil {
		return nil, fmt.Errorf("sum activations: %w", err)
	}
	stats.TotalActivations = activations.Total

	usage := db.Model(&model.LicenseUsage{}).Where("timestamp >= ?", since)
	if err := usage.Count(&stats.TotalChecks).Error; err != nil {
		return nil, fmt.Errorf("count checks: %w", err)
	}
	if err := db.Model(&model.LicenseUsage{}).
		Where("timestamp >= ? AND action <> ?", since, UsageActionPrefix+"ok").
		Count(&stats.FailedChecks).Error; err != nil {
		return nil, fmt.Errorf("count failed checks: %w", err)
	}

	var rows []model.LicenseUsage
	if err := db.Where("timestamp >= ?", since).Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	stats.DailyUsage = dailyUsage(rows)
	return stats, nil
}

// UsageActionPrefix LicenseUsage.Action 中验证结果的前缀
const UsageActionPrefix = "validate:"

func dailyUsage(rows []model.LicenseUsage) []model.DailyUsage {
	out := make([]model.DailyUsage, 0)
	index := make(map[string]int)
	keys := make(map[string]map[string]struct{})
	for _, row := range rows {
		day := row.Timestamp.UTC().Format("2006-01-02")
		i, ok := index[day]
		if !ok {
			i = len(out)
			index[day] = i
			out = append(out, model.DailyUsage{Date: day})
			keys[day] = make(map[string]struct{})
		}
		out[i].TotalChecks++
		if row.Action == UsageActionPrefix+"ok" {
			out[i].SuccessfulChecks++
		}
		keys[day][row.LicenseKey] = struct{}{}
		out[i].DistinctLicenses = len(keys[day])
	}
	return out
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
