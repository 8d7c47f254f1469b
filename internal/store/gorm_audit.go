package store

import (
	"context"
	"fmt"

	"armt-platform/internal/model"

	"gorm.io/gorm"
)

type GormAuditStore struct {
	db *gorm.DB
}

func NewGormAuditStore(db *gorm.DB) *GormAuditStore {
	return &GormAuditStore{db: db}
}

func (s *GormAuditStore) LogOperation(ctx context.Context, entry *model.OperationLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("log operation: %w", err)
	}
	return nil
}

// ListOperations 获取操作日志列表，userID 为 0 时返回全部
func (s *GormAuditStore) ListOperations(ctx context.Context, userID uint, page, pageSize int) ([]model.OperationLog, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	db := s.db.WithContext(ctx).Model(&model.OperationLog{})
	if userID != 0 {
		db = db.Where("user_id = ?", userID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count operation logs: %w", err)
	}

	var logs []model.OperationLog
	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("list operation logs: %w", err)
	}
	return logs, total, nil
}

func (s *GormAuditStore) RecordLogin(ctx context.Context, entry *model.LoginLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

func (s *GormAuditStore) ListLogins(ctx context.Context, userID uint, page, pageSize int) ([]model.LoginLog, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	db := s.db.WithContext(ctx).Model(&model.LoginLog{}).Where("user_id = ?", userID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count login logs: %w", err)
	}

	var logs []model.LoginLog
	offset := (page - 1) * pageSize
	if err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("list login logs: %w", err)
	}
	return logs, total, nil
}

func (s *GormAuditStore) RecordUsage(ctx context.Context, entry *model.LicenseUsage) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("record license usage: %w", err)
	}
	return nil
}

func (s *GormAuditStore) ListUsage(ctx context.Context, key string, limit int) ([]model.LicenseUsage, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var usages []model.LicenseUsage
	err := s.db.WithContext(ctx).Where("license_key = ?", key).
		Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&usages).Error
	if err != nil {
		return nil, fmt.Errorf("list license usage: %w", err)
	}
	return usages, nil
}
