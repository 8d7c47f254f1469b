package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormChallengeStore struct {
	db *gorm.DB
}

func NewGormChallengeStore(db *gorm.DB) *GormChallengeStore {
	return &GormChallengeStore{db: db}
}

// Put 按 user_id 覆盖写入验证码
func (s *GormChallengeStore) Put(ctx context.Context, challenge model.PendingChallenge) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "expires_at"}),
	}).Create(&challenge).Error
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

func (s *GormChallengeStore) Get(ctx context.Context, userID uint) (*model.PendingChallenge, error) {
	var challenge model.PendingChallenge
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return &challenge, nil
}

// Delete 仅在验证码未被替换时删除
func (s *GormChallengeStore) Delete(ctx context.Context, userID uint, code string) (bool, error) {
	result := s.db.WithContext(ctx).Where("user_id = ? AND code = ?", userID, code).Delete(&model.PendingChallenge{})
	if result.Error != nil {
		return false, fmt.Errorf("delete challenge: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

type GormLinkCodeStore struct {
	db *gorm.DB
}

func NewGormLinkCodeStore(db *gorm.DB) *GormLinkCodeStore {
	return &GormLinkCodeStore{db: db}
}

func (s *GormLinkCodeStore) Put(ctx context.Context, code model.LinkCode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("telegram_id = ?", code.TelegramID).Delete(&model.LinkCode{}).Error; err != nil {
			return fmt.Errorf("drop previous link code: %w", err)
		}
		if err := tx.Create(&code).Error; err != nil {
			return fmt.Errorf("create link code: %w", err)
		}
		return nil
	})
}

func (s *GormLinkCodeStore) Consume(ctx context.Context, code string, now time.Time) (*model.LinkCode, error) {
	var out model.LinkCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("code = ?", code).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrLinkCodeInvalid
			}
			return fmt.Errorf("find link code: %w", err)
		}
		result := tx.Where("code = ?", code).Delete(&model.LinkCode{})
		if result.Error != nil {
			return fmt.Errorf("delete link code: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.ErrLinkCodeInvalid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if now.After(out.ExpiresAt) {
		return nil, apperr.ErrLinkCodeInvalid
	}
	return &out, nil
}
