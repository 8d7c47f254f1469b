package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"armt-platform/internal/model"
	"armt-platform/internal/store"
)

// LogService 操作日志、登录日志与许可证验证记录
type LogService struct {
	store store.AuditStore
	log   *slog.Logger
	now   Clock
}

func NewLogService(st store.AuditStore, log *slog.Logger, now Clock) *LogService {
	if now == nil {
		now = UTCNow
	}
	if log == nil {
		log = slog.Default()
	}
	return &LogService{store: st, log: log, now: now}
}

// LogOperation 记录管理操作，details 以 JSON 保存
func (s *LogService) LogOperation(ctx context.Context, userID uint, action, target, targetID string, details interface{}) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	entry := &model.OperationLog{
		UserID:    userID,
		Action:    action,
		Target:    target,
		TargetID:  targetID,
		Details:   string(detailsJSON),
		CreatedAt: s.now(),
	}
	return s.store.LogOperation(ctx, entry)
}

// RecordLogin 记录登录尝试。审计失败不影响登录本身
func (s *LogService) RecordLogin(ctx context.Context, userID uint, meta RequestMeta, status string) {
	if s == nil {
		return
	}
	entry := &model.LoginLog{
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Status:    status,
		CreatedAt: s.now(),
	}
	if err := s.store.RecordLogin(ctx, entry); err != nil {
		s.log.WarnContext(ctx, "failed to record login", "user_id", userID, "error", err)
	}
}

// RecordUsage 记录一次许可证验证
func (s *LogService) RecordUsage(ctx context.Context, key, action string, meta RequestMeta) {
	if s == nil {
		return
	}
	entry := &model.LicenseUsage{
		LicenseKey: key,
		Action:     action,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Timestamp:  s.now(),
	}
	if err := s.store.RecordUsage(ctx, entry); err != nil {
		s.log.WarnContext(ctx, "failed to record license usage", "key", key, "error", err)
	}
}

// GetOperationLogs 获取操作日志列表
func (s *LogService) GetOperationLogs(ctx context.Context, page, pageSize int) ([]model.OperationLog, int64, error) {
	return s.store.ListOperations(ctx, 0, page, pageSize)
}

// GetUserOperationLogs 获取用户的操作日志
func (s *LogService) GetUserOperationLogs(ctx context.Context, userID uint, page, pageSize int) ([]model.OperationLog, int64, error) {
	return s.store.ListOperations(ctx, userID, page, pageSize)
}

func (s *LogService) GetLoginLogs(ctx context.Context, userID uint, page, pageSize int) ([]model.LoginLog, int64, error) {
	return s.store.ListLogins(ctx, userID, page, pageSize)
}

func (s *LogService) GetUsage(ctx context.Context, key string, limit int) ([]model.LicenseUsage, error) {
	return s.store.ListUsage(ctx, key, limit)
}

// operation 记录管理操作，写入失败只打日志
func (s *LogService) operation(ctx context.Context, userID uint, action, target, targetID string, details interface{}) {
	if s == nil {
		return
	}
	if err := s.LogOperation(ctx, userID, action, target, targetID, details); err != nil {
		s.log.WarnContext(ctx, "failed to write operation log", "action", action, "target_id", targetID, "error", err)
	}
}
