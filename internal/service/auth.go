package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"armt-platform/internal/apperr"
	"armt-platform/internal/model"
	"armt-platform/internal/session"
	"armt-platform/internal/store"
	"armt-platform/internal/util"
)

const (
	// UserStatusDisabled 禁用的账号无法登录
	UserStatusDisabled = "disabled"
	userStatusActive   = "active"

	minPasswordLength  = 8
	defaultSendTimeout = 10 * time.Second
)

// AuthDeps AuthFlow 的依赖
type AuthDeps struct {
	Users      store.UserStore
	Sessions   session.Store
	Challenges *ChallengeManager
	Messenger  Messenger
	Tokens     *util.TokenIssuer
	Logs       *LogService
	Metrics    *Metrics
	Logger     *slog.Logger
	Now        Clock

	SessionTTL  time.Duration
	SendTimeout time.Duration
}

// LoginResult 登录结果。会话重建时 SessionID 会更换，调用方须使用新值
type LoginResult struct {
	SessionID         string
	RequiresChallenge bool
	User              *model.User
	Token             string
}

// AuthFlow 密码登录、Telegram 验证码与会话管理
type AuthFlow struct {
	users       store.UserStore
	sessions    session.Store
	challenges  *ChallengeManager
	messenger   Messenger
	tokens      *util.TokenIssuer
	logs        *LogService
	metrics     *Metrics
	log         *slog.Logger
	now         Clock
	sessionTTL  time.Duration
	sendTimeout time.Duration
}

func NewAuthFlow(deps AuthDeps) *AuthFlow {
	now := deps.Now
	if now == nil {
		now = UTCNow
	}
	sendTimeout := deps.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthFlow{
		users:       deps.Users,
		sessions:    deps.Sessions,
		challenges:  deps.Challenges,
		messenger:   deps.Messenger,
		tokens:      deps.Tokens,
		logs:        deps.Logs,
		metrics:     deps.Metrics,
		log:         logger,
		now:         now,
		sessionTTL:  sessionTTL,
		sendTimeout: sendTimeout,
	}
}

// Login 校验密码。未开启两步验证直接登录，否则发送验证码。
// 验证码发送失败时仍返回待验证会话和 apperr.ErrDeliveryFailure，可重发
func (f *AuthFlow) Login(ctx context.Context, previousSID, email, password string, meta RequestMeta) (LoginResult, error) {
	email = normalizeEmail(email)
	user, err := f.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperr.ErrUserNotFound) {
			return LoginResult{}, err
		}
		// 保持与真实比较相同的 bcrypt 耗时
		util.CheckPassword("", password)
		f.metrics.login("invalid_credentials")
		return LoginResult{}, apperr.ErrInvalidCredentials
	}
	if !util.CheckPassword(user.Password, password) {
		f.logs.RecordLogin(ctx, user.ID, meta, model.LoginStatusFailed)
		f.metrics.login("invalid_credentials")
		return LoginResult{}, apperr.ErrInvalidCredentials
	}
	if user.Status == UserStatusDisabled {
		f.logs.RecordLogin(ctx, user.ID, meta, model.LoginStatusFailed)
		f.metrics.login("disabled")
		return LoginResult{}, apperr.ErrForbidden
	}

	f.discard(ctx, previousSID)

	if !user.RequiresChallenge() {
		result, err := f.establish(ctx, user)
		if err != nil {
			return LoginResult{}, err
		}
		f.logs.RecordLogin(ctx, user.ID, meta, model.LoginStatusSuccess)
		f.metrics.login("success")
		return result, nil
	}

	sid := session.NewID()
	if err := f.sessions.Put(ctx, sid, session.Pending{UserID: user.ID}, f.sessionTTL); err != nil {
		return LoginResult{}, fmt.Errorf("store pending session: %w", err)
	}
	f.logs.RecordLogin(ctx, user.ID, meta, model.LoginStatusChallenge)
	f.metrics.login("challenge")

	result := LoginResult{SessionID: sid, RequiresChallenge: true}
	if err := f.sendChallenge(ctx, user); err != nil {
		return result, err
	}
	return result, nil
}

// VerifyChallenge 校验验证码并建立会话。失败时待验证会话保持不变，
// 但登录后被禁用的账号会被清除待验证会话
func (f *AuthFlow) VerifyChallenge(ctx context.Context, sid, code string, meta RequestMeta) (LoginResult, error) {
	pending, err := f.pending(ctx, sid)
	if err != nil {
		return LoginResult{}, err
	}

	if err := f.challenges.Verify(ctx, pending.UserID, code); err != nil {
		if e, ok := apperr.As(err); ok {
			f.metrics.challenge(e.Code)
		}
		return LoginResult{}, err
	}
	f.metrics.challenge("verified")

	user, err := f.users.FindByID(ctx, pending.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	if user.Status == UserStatusDisabled {
		f.discard(ctx, sid)
		f.logs.RecordLogin(ctx, user.ID, meta, model.LoginStatusFailed)
		f.metrics.login("disabled")
		return LoginResult{}, apperr.ErrForbidden
	}

	f.discard(ctx, sid)
	result, err := f.establish(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	f.logs.RecordLogin(ctx, user.ID, meta, model.LoginStatusVerified)
	return result, nil
}

// Resend 重新发送验证码，旧验证码失效
func (f *AuthFlow) Resend(ctx context.Context, sid string) error {
	pending, err := f.pending(ctx, sid)
	if err != nil {
		return err
	}
	user, err := f.users.FindByID(ctx, pending.UserID)
	if err != nil {
		return err
	}
	if user.Status == UserStatusDisabled {
		f.discard(ctx, sid)
		return apperr.ErrForbidden
	}
	if !user.RequiresChallenge() {
		return apperr.ErrTelegramNotLinked
	}
	return f.sendChallenge(ctx, user)
}

func (f *AuthFlow) Logout(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return f.sessions.Delete(ctx, sid)
}

// SessionUser 根据已登录会话获取用户ID
func (f *AuthFlow) SessionUser(ctx context.Context, sid string) (uint, error) {
	if sid == "" {
		return 0, apperr.ErrUnauthorized
	}
	state, err := f.sessions.Get(ctx, sid)
	if err != nil {
		return 0, err
	}
	authenticated, ok := state.(session.Authenticated)
	if !ok {
		return 0, apperr.ErrUnauthorized
	}
	return authenticated.UserID, nil
}

// CurrentUser 获取当前登录用户
func (f *AuthFlow) CurrentUser(ctx context.Context, sid string) (*model.User, error) {
	userID, err := f.SessionUser(ctx, sid)
	if err != nil {
		return nil, err
	}
	return f.users.FindByID(ctx, userID)
}

// Register 注册普通用户
func (f *AuthFlow) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" || len(password) < minPasswordLength {
		return nil, apperr.ErrMalformedInput
	}
	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Email:    email,
		Password: hash,
		Role:     model.RoleUser,
		Status:   userStatusActive,
	}
	if err := f.users.Create(ctx, user); err != nil {
		return nil, err
	}
	f.log.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// ChangePassword 校验旧密码后修改密码
func (f *AuthFlow) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	if len(next) < minPasswordLength {
		return apperr.ErrMalformedInput
	}
	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !util.CheckPassword(user.Password, current) {
		return apperr.ErrInvalidCredentials
	}
	hash, err := util.HashPassword(next)
	if err != nil {
		return err
	}
	user.Password = hash
	return f.users.Save(ctx, user)
}

func (f *AuthFlow) pending(ctx context.Context, sid string) (session.Pending, error) {
	if sid == "" {
		return session.Pending{}, apperr.ErrNoChallenge
	}
	state, err := f.sessions.Get(ctx, sid)
	if err != nil {
		return session.Pending{}, err
	}
	pending, ok := state.(session.Pending)
	if !ok {
		return session.Pending{}, apperr.ErrNoChallenge
	}
	return pending, nil
}

// establish 以新会话ID保存登录状态并签发 token
func (f *AuthFlow) establish(ctx context.Context, user *model.User) (LoginResult, error) {
	sid := session.NewID()
	if err := f.sessions.Put(ctx, sid, session.Authenticated{UserID: user.ID}, f.sessionTTL); err != nil {
		return LoginResult{}, fmt.Errorf("store session: %w", err)
	}
	token, err := f.tokens.GenerateToken(user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	user.LastLogin = f.now()
	if err := f.users.Save(ctx, user); err != nil {
		f.log.WarnContext(ctx, "failed to update last login", "user_id", user.ID, "error", err)
	}
	return LoginResult{SessionID: sid, User: user, Token: token}, nil
}

func (f *AuthFlow) sendChallenge(ctx context.Context, user *model.User) error {
	code, err := f.challenges.Issue(ctx, user.ID)
	if err != nil {
		return err
	}
	f.metrics.challenge("issued")

	if f.messenger == nil {
		f.metrics.challenge(apperr.ErrDeliveryFailure.Code)
		return fmt.Errorf("%w: no messenger configured", apperr.ErrDeliveryFailure)
	}

	sendCtx, cancel := context.WithTimeout(ctx, f.sendTimeout)
	defer cancel()
	if err := f.messenger.SendMessage(sendCtx, *user.TelegramID, challengeText(code, f.challenges.TTL())); err != nil {
		f.metrics.challenge(apperr.ErrDeliveryFailure.Code)
		f.log.WarnContext(ctx, "challenge delivery failed", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrDeliveryFailure, err)
	}
	return nil
}

func (f *AuthFlow) discard(ctx context.Context, sid string) {
	if sid == "" {
		return
	}
	if err := f.sessions.Delete(ctx, sid); err != nil {
		f.log.WarnContext(ctx, "failed to drop old session", "error", err)
	}
}

func challengeText(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your ARMT login code: <b>%s</b>\nIt expires in %d minutes.",
		html.EscapeString(code), int(ttl.Minutes()))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
