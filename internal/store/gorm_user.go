package store

import (
	"context"
	"errors"
	"fmt"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"

	"gorm.io/gorm"
)

type GormUserStore struct {
	db *gorm.DB
}

func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

func (s *GormUserStore) Create(ctx context.Context, user *model.User) error {
	_, err := s.FindByEmail(ctx, user.Email)
	if err == nil {
		return apperr.ErrConflict
	}
	if !errors.Is(err, apperr.ErrUserNotFound) {
		return err
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *GormUserStore) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, userNotFound(err, "find user by id")
	}
	return &user, nil
}

func (s *GormUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, userNotFound(err, "find user by email")
	}
	return &user, nil
}

func (s *GormUserStore) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, userNotFound(err, "find user by telegram id")
	}
	return &user, nil
}

func (s *GormUserStore) Save(ctx context.Context, user *model.User) error {
	if user.TelegramID != nil {
		owner, err := s.FindByTelegramID(ctx, *user.TelegramID)
		if err == nil && owner.ID != user.ID {
			return apperr.ErrConflict
		}
		if err != nil && !errors.Is(err, apperr.ErrUserNotFound) {
			return err
		}
	}
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *GormUserStore) Search(ctx context.Context, query UserQuery) ([]model.User, int64, error) {
	page, pageSize := normalizePage(query.Page, query.PageSize)
	db := s.db.WithContext(ctx).Model(&model.User{})

	// 关键词搜索
	if query.Keyword != "" {
		db = db.Where("email LIKE ? OR telegram_username LIKE ?", "%"+query.Keyword+"%", "%"+query.Keyword+"%")
	}
	// 角色筛选
	if query.Role != "" {
		db = db.Where("role = ?", query.Role)
	}
	// 状态筛选
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var users []model.User
	offset := (page - 1) * pageSize
	if err := db.Order("id ASC").Offset(offset).Limit(pageSize).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}
	return users, total, nil
}

func userNotFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrUserNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
