package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"armt-platform/internal/config"
	"armt-platform/internal/database"
	"armt-platform/internal/handler"
	"armt-platform/internal/logging"
	"armt-platform/internal/middleware"
	"armt-platform/internal/service"
	"armt-platform/internal/session"
	"armt-platform/internal/store"
	"armt-platform/internal/telegram"
	"armt-platform/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging, os.Stdout)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := database.SeedAdmin(db, cfg.Admin.Email, cfg.Admin.Password, log); err != nil {
		return err
	}

	sessions, closeSessions, err := openSessions(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeSessions()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	users := store.NewGormUserStore(db)
	licenseStore := store.NewGormLicenseStore(db)
	logs := service.NewLogService(store.NewGormAuditStore(db), log, nil)
	accounts := service.NewAccountService(users, store.NewGormLinkCodeStore(db), logs, log, nil, cfg.Auth.LinkCodeTTL)
	tokens := util.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Telegram 机器人：未配置 token 时两步验证无法发送验证码
	var (
		messenger service.Messenger
		bot       *telegram.Bot
	)
	if cfg.Telegram.BotToken != "" {
		api, err := telegram.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.SendTimeout)
		if err != nil {
			return err
		}
		messenger = telegram.NewMessenger(api)
		bot = telegram.NewBot(api, accounts, log)
		if cfg.Telegram.WebhookURL != "" {
			if err := telegram.RegisterWebhook(api, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
				return err
			}
			log.Info("telegram webhook registered")
		}
	} else {
		log.Warn("telegram bot token not set, two-factor codes cannot be delivered")
	}

	licenseDeps := service.LicenseDeps{
		Licenses:              licenseStore,
		Stats:                 licenseStore,
		Logs:                  logs,
		Metrics:               metrics,
		Logger:                log,
		ClientVersion:         cfg.License.ClientVersion,
		DefaultMaxActivations: cfg.License.DefaultMaxActivations,
	}
	sheet, err := service.NewSheetSyncService(ctx, cfg.Sheets, log)
	if err != nil {
		return err
	}
	if sheet != nil {
		licenseDeps.Sync = sheet
	}

	h := handler.New(handler.Deps{
		Licenses: service.NewLicenseService(licenseDeps),
		Auth: service.NewAuthFlow(service.AuthDeps{
			Users:       users,
			Sessions:    sessions,
			Challenges:  service.NewChallengeManager(store.NewGormChallengeStore(db), cfg.Auth.ChallengeTTL, nil),
			Messenger:   messenger,
			Tokens:      tokens,
			Logs:        logs,
			Metrics:     metrics,
			Logger:      log,
			SessionTTL:  cfg.Auth.SessionTTL,
			SendTimeout: cfg.Telegram.SendTimeout,
		}),
		Accounts:       accounts,
		Logs:           logs,
		Tokens:         tokens,
		Bot:            bot,
		Logger:         log,
		WebhookSecret:  cfg.Telegram.WebhookSecret,
		SessionTTL:     cfg.Auth.SessionTTL,
		CookieInsecure: cfg.Auth.CookieInsecure,
	})

	app := handler.NewApp(h, cfg.Server, middleware.NewHTTPMetrics(registry))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := app.Listen(cfg.Server.Addr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openSessions 配置了 URL 时使用 Redis，否则使用内存存储；返回的函数用于释放连接
func openSessions(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (session.Store, func(), error) {
	if cfg.URL == "" {
		log.Info("using in-memory session store")
		return session.NewMemoryStore(), func() {}, nil
	}
	client, err := session.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisStore(client), func() { client.Close() }, nil
}
