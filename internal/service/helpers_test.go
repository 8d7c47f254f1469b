package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"armt-platform/internal/logging"
	"armt-platform/internal/model"
	"armt-platform/internal/session"
	"armt-platform/internal/store"
	"armt-platform/internal/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	telegramID int64
	text       string
}

type fakeMessenger struct {
	mu    sync.Mutex
	err   error
	block bool
	sent  []sentMessage
}

func (m *fakeMessenger) SendMessage(ctx context.Context, telegramID int64, text string) error {
	m.mu.Lock()
	err, block := m.err, m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{telegramID: telegramID, text: text})
	return nil
}

func (m *fakeMessenger) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

var codePattern = regexp.MustCompile(`<b>(\d{6})</b>`)

// lastCode extracts the code from the most recent message.
func (m *fakeMessenger) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no message delivered")
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].text)
	require.Len(t, match, 2)
	return match[1]
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var errNetwork = errors.New("network unreachable")

type authFixture struct {
	clock      *fakeClock
	users      *store.MemoryUserStore
	sessions   *session.MemoryStore
	challenges *store.MemoryChallengeStore
	audit      *store.MemoryAuditStore
	messenger  *fakeMessenger
	flow       *AuthFlow
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clock := newFakeClock()
	f := &authFixture{
		clock:      clock,
		users:      store.NewMemoryUserStore(),
		sessions:   session.NewMemoryStore().WithClock(clock.Now),
		challenges: store.NewMemoryChallengeStore(),
		audit:      store.NewMemoryAuditStore(),
		messenger:  &fakeMessenger{},
	}
	log := logging.Discard()
	f.flow = NewAuthFlow(AuthDeps{
		Users:       f.users,
		Sessions:    f.sessions,
		Challenges:  NewChallengeManager(f.challenges, DefaultChallengeTTL, clock.Now),
		Messenger:   f.messenger,
		Tokens:      util.NewTokenIssuer("test-secret", time.Hour),
		Logs:        NewLogService(f.audit, log, clock.Now),
		Logger:      log,
		Now:         clock.Now,
		SessionTTL:  time.Hour,
		SendTimeout: 50 * time.Millisecond,
	})
	return f
}

// addUser stores an account with password "correct-horse".
func (f *authFixture) addUser(t *testing.T, email string, telegramID *int64, twoFactor bool) *model.User {
	t.Helper()
	hash, err := util.HashPassword("correct-horse")
	require.NoError(t, err)
	user := &model.User{
		Email:            email,
		Password:         hash,
		Role:             model.RoleUser,
		Status:           "active",
		TelegramID:       telegramID,
		TwoFactorEnabled: twoFactor,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func int64Ptr(v int64) *int64 { return &v }
