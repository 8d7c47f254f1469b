// Package handler 基于 fiber 的 HTTP 接口
package handler

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"armt-platform/internal/apperr"
	"armt-platform/internal/middleware"
	"armt-platform/internal/service"
	"armt-platform/internal/telegram"
	"armt-platform/internal/util"
)

// Deps Handler 的依赖，未配置 Telegram 时 Bot 为 nil
type Deps struct {
	Licenses *service.LicenseService
	Auth     *service.AuthFlow
	Accounts *service.AccountService
	Logs     *service.LogService
	Tokens   *util.TokenIssuer
	Bot      *telegram.Bot
	Logger   *slog.Logger

	WebhookSecret  string
	SessionTTL     time.Duration
	CookieInsecure bool
}

type Handler struct {
	licenses *service.LicenseService
	auth     *service.AuthFlow
	accounts *service.AccountService
	logs     *service.LogService
	tokens   *util.TokenIssuer
	bot      *telegram.Bot
	log      *slog.Logger
	validate *validator.Validate

	webhookSecret  string
	sessionTTL     time.Duration
	cookieInsecure bool
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		licenses:       deps.Licenses,
		auth:           deps.Auth,
		accounts:       deps.Accounts,
		logs:           deps.Logs,
		tokens:         deps.Tokens,
		bot:            deps.Bot,
		log:            logger,
		validate:       validator.New(),
		webhookSecret:  deps.WebhookSecret,
		sessionTTL:     deps.SessionTTL,
		cookieInsecure: deps.CookieInsecure,
	}
}

// StatusOf 错误对应的 HTTP 状态码
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return apperr.Status(err)
}

// ErrorHandler 统一返回 {"error": message, "code": code}，内部错误记录日志并返回 500
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
				"code":  strconv.Itoa(fe.Code),
			})
		}
		if apperr.IsInternal(err) {
			log.ErrorContext(c.UserContext(), "request failed",
				"method", c.Method(), "path", c.Path(), "error", err)
		}
		return c.Status(apperr.Status(err)).JSON(fiber.Map{
			"error": apperr.Message(err),
			"code":  apperr.Code(err),
		})
	}
}

// bind 解析 JSON 请求体并校验
func (h *Handler) bind(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.ErrMalformedInput
	}
	if err := h.validate.Struct(dst); err != nil {
		return apperr.ErrMalformedInput
	}
	return nil
}

func requestMeta(c *fiber.Ctx) service.RequestMeta {
	return service.RequestMeta{IP: c.IP(), UserAgent: c.Get(fiber.HeaderUserAgent)}
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.ErrMalformedInput
	}
	return uint(id), nil
}

// pagination 获取分页参数，页面大小上限 100
func pagination(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size", "10"))
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

func (h *Handler) setSessionCookie(c *fiber.Ctx, sid string) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sid,
		Path:     "/",
		Expires:  time.Now().Add(h.sessionTTL),
		HTTPOnly: true,
		Secure:   !h.cookieInsecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   !h.cookieInsecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
