package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"armt-platform/internal/config"
	"armt-platform/internal/middleware"
)

// NewApp 创建 fiber 应用并挂载中间件与路由，metrics 可为 nil
func NewApp(h *Handler, cfg config.ServerConfig, metrics *middleware.HTTPMetrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "armt-platform",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          ErrorHandler(h.log),
		DisableStartupMessage: true,
	})

	// 中间件
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestContext())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: cfg.AllowedOrigins != "" && !strings.Contains(cfg.AllowedOrigins, "*"),
	}))
	if metrics != nil {
		app.Use(middleware.Metrics(metrics, StatusOf))
	}

	h.Mount(app, newThrottle(cfg.RateLimit))
	return app
}

// newThrottle 按 IP 每分钟限流，perMinute <= 0 时不限流
func newThrottle(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests",
				"code":  "rate_limited",
			})
		},
	})
}

// Mount 注册全部路由，throttle 用于许可证验证、登录和验证码接口
func (h *Handler) Mount(router fiber.Router, throttle fiber.Handler) {
	requireAuth := middleware.Auth(h.tokens, h.auth)
	requireAdmin := middleware.AdminOnly(h.accounts)

	api := router.Group("/api")

	// 安装程序调用
	api.Post("/v1/license/validate", throttle, h.HandleLicenseValidate)

	// 认证路由
	auth := api.Group("/auth")
	auth.Post("/login", throttle, h.HandleLogin)
	auth.Post("/register", h.HandleRegister)
	auth.Post("/logout", h.HandleLogout)
	auth.Post("/validate-token", h.HandleValidateToken)

	// 用户路由
	user := api.Group("/user", requireAuth)
	user.Get("/me", h.HandleCurrentUser)
	user.Post("/change-password", h.HandleChangePassword)
	user.Get("/login-logs", h.HandleGetLoginLogs)
	user.Get("/logs", h.HandleGetUserLogs)
	user.Get("/licenses", h.HandleGetMyLicenses)

	// Telegram 两步验证
	tg := api.Group("/telegram")
	tg.Post("/verify-2fa", throttle, h.HandleVerifyTwoFactor)
	tg.Post("/resend-2fa", throttle, h.HandleResendTwoFactor)
	tg.Post("/webhook", h.HandleTelegramWebhook)
	tg.Post("/link", requireAuth, h.HandleLinkTelegram)
	tg.Post("/enable-2fa", requireAuth, h.HandleEnableTwoFactor)
	tg.Post("/disable-2fa", requireAuth, h.HandleDisableTwoFactor)

	// 管理员专用路由
	admin := api.Group("/admin", requireAuth, requireAdmin)
	admin.Get("/users", h.HandleSearchUsers)
	admin.Patch("/users/:id", h.HandleUpdateUser)
	admin.Get("/logs", h.HandleGetLogs)

	licenses := admin.Group("/licenses")
	licenses.Get("/", h.HandleListLicenses)
	licenses.Post("/create", h.HandleLicenseCreate)
	licenses.Get("/statistics", h.HandleLicenseStatistics)
	licenses.Post("/sync", h.HandleLicenseSync)
	licenses.Get("/user/:userId", h.HandleListUserLicenses)
	licenses.Get("/:key/usage", h.HandleLicenseUsage)
	licenses.Patch("/:id/deactivate", h.HandleLicenseDeactivate)
	licenses.Patch("/:id/reset", h.HandleLicenseReset)
	licenses.Patch("/:id", h.HandleLicenseUpdate)
}
