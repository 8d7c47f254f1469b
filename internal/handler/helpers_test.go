package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"armt-platform/internal/config"
	"armt-platform/internal/database"
	"armt-platform/internal/logging"
	"armt-platform/internal/middleware"
	"armt-platform/internal/model"
	"armt-platform/internal/service"
	"armt-platform/internal/session"
	"armt-platform/internal/store"
	"armt-platform/internal/telegram"
	"armt-platform/internal/util"
)

const (
	testPassword      = "correct-horse"
	testWebhookSecret = "hook-secret"
)

// fakeSender stands in for the Bot API. Both login codes and bot replies go
// through it.
type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

var (
	loginCodePattern = regexp.MustCompile(`<b>(\d{6})</b>`)
	linkCodePattern  = regexp.MustCompile(`<code>([A-Z0-9]+)</code>`)
)

// lastMatch returns the first group of pattern in the newest message.
func (f *fakeSender) lastMatch(t *testing.T, pattern *regexp.Regexp) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no telegram message sent")
	match := pattern.FindStringSubmatch(f.sent[len(f.sent)-1].Text)
	require.Len(t, match, 2)
	return match[1]
}

type testEnv struct {
	app      *fiber.App
	users    store.UserStore
	licenses store.LicenseStore
	tokens   *util.TokenIssuer
	sender   *fakeSender
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := database.OpenTest(t)
	log := logging.Discard()
	registry := prometheus.NewRegistry()
	metrics := service.NewMetrics(registry)

	env := &testEnv{
		users:    store.NewGormUserStore(db),
		tokens:   util.NewTokenIssuer("test-secret", time.Hour),
		sender:   &fakeSender{},
		registry: registry,
	}
	licenseStore := store.NewGormLicenseStore(db)
	env.licenses = licenseStore
	logs := service.NewLogService(store.NewGormAuditStore(db), log, nil)

	accounts := service.NewAccountService(env.users, store.NewGormLinkCodeStore(db), logs, log, nil, service.DefaultLinkCodeTTL)
	h := New(Deps{
		Licenses: service.NewLicenseService(service.LicenseDeps{
			Licenses:              licenseStore,
			Stats:                 licenseStore,
			Logs:                  logs,
			Metrics:               metrics,
			Logger:                log,
			ClientVersion:         "2.0.1",
			DefaultMaxActivations: 1,
		}),
		Auth: service.NewAuthFlow(service.AuthDeps{
			Users:       env.users,
			Sessions:    session.NewMemoryStore(),
			Challenges:  service.NewChallengeManager(store.NewGormChallengeStore(db), service.DefaultChallengeTTL, nil),
			Messenger:   telegram.NewMessenger(env.sender),
			Tokens:      env.tokens,
			Logs:        logs,
			Metrics:     metrics,
			Logger:      log,
			SessionTTL:  time.Hour,
			SendTimeout: time.Second,
		}),
		Accounts:      accounts,
		Logs:          logs,
		Tokens:        env.tokens,
		Bot:           telegram.NewBot(env.sender, accounts, log),
		Logger:        log,
		WebhookSecret: testWebhookSecret,
		SessionTTL:    time.Hour,
	})
	env.app = NewApp(h, config.ServerConfig{AllowedOrigins: "*"}, middleware.NewHTTPMetrics(registry))
	return env
}

func (e *testEnv) addUser(t *testing.T, email, role string) *model.User {
	t.Helper()
	hash, err := util.HashPassword(testPassword)
	require.NoError(t, err)
	user := &model.User{
		Email:    email,
		Password: hash,
		Role:     role,
		Status:   "active",
	}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) token(t *testing.T, user *model.User) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(user.ID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) addLicense(t *testing.T, userID uint, expiresAt time.Time, active bool) *model.License {
	t.Helper()
	key, err := util.GenerateLicenseKey()
	require.NoError(t, err)
	license := &model.License{
		Key:             key,
		UserID:          userID,
		ActivationLimit: 1,
		ExpiresAt:       expiresAt,
		Active:          true,
	}
	require.NoError(t, e.licenses.Create(context.Background(), license))
	if !active {
		_, err = e.licenses.Update(context.Background(), license.ID, model.LicenseUpdate{Active: &active})
		require.NoError(t, err)
	}
	return license
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
	cookie string
}

// do sends the request and decodes a JSON object body, if any.
func (e *testEnv) do(t *testing.T, c call) (*http.Response, map[string]interface{}) {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		raw, ok := c.body.(string)
		if !ok {
			b, err := json.Marshal(c.body)
			require.NoError(t, err)
			raw = string(b)
		}
		body = bytes.NewBufferString(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if c.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: c.cookie})
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var out map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func sessionCookie(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie {
			return c.Value
		}
	}
	return ""
}
