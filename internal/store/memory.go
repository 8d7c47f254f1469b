package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"
)

// MemoryLicenseStore 进程内许可证存储，所有操作共用一把锁
type MemoryLicenseStore struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*model.License
	byKey  map[string]uint
}

func NewMemoryLicenseStore() *MemoryLicenseStore {
	return &MemoryLicenseStore{
		byID:  make(map[uint]*model.License),
		byKey: make(map[string]uint),
	}
}

func (s *MemoryLicenseStore) Create(_ context.Context, license *model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[license.Key]; ok {
		return apperr.ErrConflict
	}
	s.nextID++
	license.ID = s.nextID
	now := time.Now().UTC()
	if license.CreatedAt.IsZero() {
		license.CreatedAt = now
	}
	license.UpdatedAt = now

	stored := cloneLicense(license)
	s.byID[stored.ID] = stored
	s.byKey[stored.Key] = stored.ID
	return nil
}

func (s *MemoryLicenseStore) FindByID(_ context.Context, id uint) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneLicense(license), nil
}

func (s *MemoryLicenseStore) FindByKey(_ context.Context, key string) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneLicense(s.byID[id]), nil
}

func (s *MemoryLicenseStore) FindByUserID(_ context.Context, userID uint) ([]model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.License, 0)
	for _, license := range s.byID {
		if license.UserID == userID {
			out = append(out, *cloneLicense(license))
		}
	}
	sortLicenses(out)
	return out, nil
}

func (s *MemoryLicenseStore) List(_ context.Context) ([]model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.License, 0, len(s.byID))
	for _, license := range s.byID {
		out = append(out, *cloneLicense(license))
	}
	sortLicenses(out)
	return out, nil
}

func (s *MemoryLicenseStore) Activate(_ context.Context, key, deviceHash string, now time.Time) (*model.License, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, false, apperr.ErrNotFound
	}
	license := s.byID[id]
	bound, err := checkActivatable(license, deviceHash, now)
	if err != nil || bound {
		return cloneLicense(license), false, err
	}

	binding := deviceHash
	activated := now
	license.DeviceBinding = &binding
	license.ActivationDate = &activated
	license.ActivationCount++
	license.UpdatedAt = now
	return cloneLicense(license), true, nil
}

func (s *MemoryLicenseStore) Update(_ context.Context, id uint, update model.LicenseUpdate) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if update.ActivationLimit != nil && *update.ActivationLimit < license.ActivationCount {
		return nil, apperr.ErrMalformedInput
	}
	if update.Active != nil {
		license.Active = *update.Active
	}
	if update.ActivationLimit != nil {
		license.ActivationLimit = *update.ActivationLimit
	}
	if update.ExpiresAt != nil {
		license.ExpiresAt = *update.ExpiresAt
	}
	if !update.IsEmpty() {
		license.UpdatedAt = time.Now().UTC()
	}
	return cloneLicense(license), nil
}

func (s *MemoryLicenseStore) ResetBinding(_ context.Context, id uint) (*model.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.byID[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	license.DeviceBinding = nil
	license.ActivationDate = nil
	license.UpdatedAt = time.Now().UTC()
	return cloneLicense(license), nil
}

func cloneLicense(l *model.License) *model.License {
	c := *l
	if l.DeviceBinding != nil {
		binding := *l.DeviceBinding
		c.DeviceBinding = &binding
	}
	if l.ActivationDate != nil {
		activated := *l.ActivationDate
		c.ActivationDate = &activated
	}
	return &c
}

func sortLicenses(licenses []model.License) {
	sort.Slice(licenses, func(i, j int) bool {
		if licenses[i].CreatedAt.Equal(licenses[j].CreatedAt) {
			return licenses[i].ID > licenses[j].ID
		}
		return licenses[i].CreatedAt.After(licenses[j].CreatedAt)
	})
}

type MemoryUserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]model.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uint]model.User)}
}

func (s *MemoryUserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return apperr.ErrConflict
		}
		if user.TelegramID != nil && u.TelegramID != nil && *u.TelegramID == *user.TelegramID {
			return apperr.ErrConflict
		}
	}
	s.nextID++
	user.ID = s.nextID
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperr.ErrUserNotFound
}

func (s *MemoryUserStore) FindByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			return &u, nil
		}
	}
	return nil, apperr.ErrUserNotFound
}

func (s *MemoryUserStore) Save(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return apperr.ErrUserNotFound
	}
	if user.TelegramID != nil {
		for _, u := range s.users {
			if u.ID != user.ID && u.TelegramID != nil && *u.TelegramID == *user.TelegramID {
				return apperr.ErrConflict
			}
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryUserStore) Search(_ context.Context, query UserQuery) ([]model.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, pageSize := normalizePage(query.Page, query.PageSize)
	matched := make([]model.User, 0)
	for _, u := range s.users {
		if query.Keyword != "" && !strings.Contains(u.Email, query.Keyword) && !strings.Contains(u.TelegramUsername, query.Keyword) {
			continue
		}
		if query.Role != "" && u.Role != query.Role {
			continue
		}
		if query.Status != "" && u.Status != query.Status {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []model.User{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[uint]model.PendingChallenge
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[uint]model.PendingChallenge)}
}

func (s *MemoryChallengeStore) Put(_ context.Context, challenge model.PendingChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.UserID] = challenge
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, userID uint) (*model.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryChallengeStore) Delete(_ context.Context, userID uint, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[userID]
	if !ok || c.Code != code {
		return false, nil
	}
	delete(s.challenges, userID)
	return true, nil
}

type MemoryLinkCodeStore struct {
	mu    sync.Mutex
	codes map[string]model.LinkCode
}

func NewMemoryLinkCodeStore() *MemoryLinkCodeStore {
	return &MemoryLinkCodeStore{codes: make(map[string]model.LinkCode)}
}

func (s *MemoryLinkCodeStore) Put(_ context.Context, code model.LinkCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.codes {
		if c.TelegramID == code.TelegramID {
			delete(s.codes, k)
		}
	}
	s.codes[code.Code] = code
	return nil
}

func (s *MemoryLinkCodeStore) Consume(_ context.Context, code string, now time.Time) (*model.LinkCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, apperr.ErrLinkCodeInvalid
	}
	delete(s.codes, code)
	if now.After(c.ExpiresAt) {
		return nil, apperr.ErrLinkCodeInvalid
	}
	return &c, nil
}

// MemoryAuditStore 进程内审计记录，按写入顺序保存
type MemoryAuditStore struct {
	mu         sync.Mutex
	operations []model.OperationLog
	logins     []model.LoginLog
	usages     []model.LicenseUsage
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) LogOperation(_ context.Context, entry *model.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.operations) + 1)
	s.operations = append(s.operations, *entry)
	return nil
}

func (s *MemoryAuditStore) ListOperations(_ context.Context, userID uint, page, pageSize int) ([]model.OperationLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]model.OperationLog, 0)
	for i := len(s.operations) - 1; i >= 0; i-- {
		if userID == 0 || s.operations[i].UserID == userID {
			matched = append(matched, s.operations[i])
		}
	}
	return paginate(matched, page, pageSize), int64(len(matched)), nil
}

func (s *MemoryAuditStore) RecordLogin(_ context.Context, entry *model.LoginLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.logins) + 1)
	s.logins = append(s.logins, *entry)
	return nil
}

func (s *MemoryAuditStore) ListLogins(_ context.Context, userID uint, page, pageSize int) ([]model.LoginLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]model.LoginLog, 0)
	for i := len(s.logins) - 1; i >= 0; i-- {
		if s.logins[i].UserID == userID {
			matched = append(matched, s.logins[i])
		}
	}
	return paginate(matched, page, pageSize), int64(len(matched)), nil
}

func (s *MemoryAuditStore) RecordUsage(_ context.Context, entry *model.LicenseUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.usages) + 1)
	s.usages = append(s.usages, *entry)
	return nil
}

func (s *MemoryAuditStore) ListUsage(_ context.Context, key string, limit int) ([]model.LicenseUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 || limit > 100 {
		limit = 20
	}
	out := make([]model.LicenseUsage, 0)
	for i := len(s.usages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.usages[i].LicenseKey == key {
			out = append(out, s.usages[i])
		}
	}
	return out, nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	page, pageSize = normalizePage(page, pageSize)
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
