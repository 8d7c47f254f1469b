package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armt-platform/internal/apperr"
	"armt-platform/internal/logging"
	"armt-platform/internal/model"
	"armt-platform/internal/store"
	"armt-platform/internal/util"
)

type licenseFixture struct {
	clock    *fakeClock
	licenses *store.MemoryLicenseStore
	audit    *store.MemoryAuditStore
	metrics  *Metrics
	svc      *LicenseService
}

func newLicenseFixture(t *testing.T) *licenseFixture {
	t.Helper()
	clock := newFakeClock()
	f := &licenseFixture{
		clock:    clock,
		licenses: store.NewMemoryLicenseStore(),
		audit:    store.NewMemoryAuditStore(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	log := logging.Discard()
	f.svc = NewLicenseService(LicenseDeps{
		Licenses:      f.licenses,
		Logs:          NewLogService(f.audit, log, clock.Now),
		Metrics:       f.metrics,
		Logger:        log,
		Now:           clock.Now,
		ClientVersion: "2.0.1",
	})
	return f
}

func (f *licenseFixture) add(t *testing.T, license model.License) *model.License {
	t.Helper()
	l := license
	require.NoError(t, f.licenses.Create(context.Background(), &l))
	return &l
}

func (f *licenseFixture) validate(t *testing.T, key, device string) Validation {
	t.Helper()
	v, err := f.svc.Validate(context.Background(), key, device, RequestMeta{IP: "198.51.100.1"})
	require.NoError(t, err)
	return v
}

// Scenario: first device binds, second device is rejected.
func TestValidateBindsFirstDevice(t *testing.T) {
	f := newLicenseFixture(t)
	const key = "ARMT-AAAA-BBBB-CCCC"
	f.add(t, model.License{
		Key:             key,
		UserID:          1,
		ActivationLimit: 1,
		ExpiresAt:       f.clock.Now().AddDate(0, 0, 30),
		Active:          true,
	})

	first := f.validate(t, key, "device-1")
	assert.True(t, first.Valid)
	assert.Nil(t, first.Reason)
	require.NotNil(t, first.ExpiresAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), *first.ExpiresAt)
	assert.Len(t, first.DownloadToken, 64)
	assert.Equal(t, "2.0.1", first.Version)

	bound, err := f.licenses.FindByKey(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, bound.DeviceBinding)
	assert.Equal(t, util.HashDeviceID("device-1"), *bound.DeviceBinding)
	assert.Equal(t, 1, bound.ActivationCount)

	for i := 0; i < 3; i++ {
		again := f.validate(t, key, "device-1")
		assert.True(t, again.Valid)
	}
	after, err := f.licenses.FindByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, after.ActivationCount)
	assert.Equal(t, bound.ActivationDate, after.ActivationDate)

	for i := 0; i < 3; i++ {
		other := f.validate(t, key, "device-2")
		assert.False(t, other.Valid)
		assert.ErrorIs(t, other.Reason, apperr.ErrDeviceMismatch)
		assert.Empty(t, other.DownloadToken)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Activations))
	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.Validations.WithLabelValues("ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.Validations.WithLabelValues("device_mismatch")))
}

// Scenario: expiry wins over a matching binding.
func TestValidateExpiredEvenWhenBound(t *testing.T) {
	f := newLicenseFixture(t)
	const key = "ARMT-0000-1111-2222"
	f.add(t, model.License{
		Key:             key,
		UserID:          1,
		ActivationLimit: 1,
		ExpiresAt:       f.clock.Now().Add(time.Hour),
		Active:          true,
	})
	require.True(t, f.validate(t, key, "device-1").Valid)

	f.clock.Advance(2 * time.Hour)
	v := f.validate(t, key, "device-1")
	assert.False(t, v.Valid)
	assert.ErrorIs(t, v.Reason, apperr.ErrExpired)
	require.NotNil(t, v.ExpiresAt)
	assert.True(t, v.ExpiresAt.Before(f.clock.Now()))
}

func TestValidateRejections(t *testing.T) {
	f := newLicenseFixture(t)
	now := f.clock.Now()
	future := now.AddDate(0, 1, 0)
	used := util.HashDeviceID("old-device")

	f.add(t, model.License{Key: "ARMT-DEAD-0000-0001", UserID: 1, ActivationLimit: 1, ExpiresAt: future, Active: false})
	f.add(t, model.License{Key: "ARMT-0000-0000-0002", UserID: 1, ActivationLimit: 1, ExpiresAt: now, Active: true})
	f.add(t, model.License{Key: "ARMT-0000-0000-0003", UserID: 1, ActivationLimit: 1, ActivationCount: 1, ExpiresAt: future, Active: true})
	f.add(t, model.License{Key: "ARMT-0000-0000-0004", UserID: 1, ActivationLimit: 2, ActivationCount: 1, DeviceBinding: &used, ExpiresAt: future, Active: true})

	tests := []struct {
		name   string
		key    string
		device string
		want   *apperr.Error
	}{
		{"lowercase key", "armt-0000-0000-0003", "d", apperr.ErrMalformedInput},
		{"wrong prefix", "ABCD-0000-0000-0003", "d", apperr.ErrMalformedInput},
		{"empty device", "ARMT-0000-0000-0003", "  ", apperr.ErrMalformedInput},
		{"unknown key", "ARMT-FFFF-FFFF-FFFF", "d", apperr.ErrNotFound},
		{"deactivated", "ARMT-DEAD-0000-0001", "d", apperr.ErrDeactivated},
		{"expires exactly now", "ARMT-0000-0000-0002", "d", apperr.ErrExpired},
		{"limit consumed", "ARMT-0000-0000-0003", "d", apperr.ErrLimitReached},
		{"bound elsewhere", "ARMT-0000-0000-0004", "d", apperr.ErrDeviceMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.validate(t, tt.key, tt.device)
			assert.False(t, v.Valid)
			assert.ErrorIs(t, v.Reason, tt.want)
		})
	}

	// malformed requests never reach storage, the others are recorded
	usage, err := f.audit.ListUsage(context.Background(), "ARMT-0000-0000-0003", 10)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "validate:limit_reached", usage[0].Action)
	assert.Equal(t, "198.51.100.1", usage[0].IPAddress)
}

func TestValidateConcurrentFirstUse(t *testing.T) {
	f := newLicenseFixture(t)
	const key = "ARMT-1234-5678-9ABC"
	f.add(t, model.License{Key: key, UserID: 1, ActivationLimit: 1, ExpiresAt: f.clock.Now().AddDate(0, 0, 30), Active: true})

	const racers = 16
	results := make([]Validation, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.svc.Validate(context.Background(), key, "device-"+string(rune('a'+i)), RequestMeta{})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, v := range results {
		if v.Valid {
			winners++
			continue
		}
		assert.True(t, apperr.Code(v.Reason) == "limit_reached" || apperr.Code(v.Reason) == "device_mismatch", v.Reason)
	}
	assert.Equal(t, 1, winners)

	license, err := f.licenses.FindByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, license.ActivationCount)
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	f := newLicenseFixture(t)

	license, err := f.svc.Issue(ctx, 99, 5, 30, 0)
	require.NoError(t, err)
	assert.True(t, util.IsValidLicenseFormat(license.Key))
	assert.Equal(t, uint(5), license.UserID)
	assert.Equal(t, 1, license.ActivationLimit)
	assert.True(t, license.Active)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), license.ExpiresAt)

	three, err := f.svc.Issue(ctx, 99, 5, 365, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, three.ActivationLimit)

	byUser, err := f.svc.ListByUser(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	ops, total, err := f.audit.ListOperations(ctx, 99, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, model.ActionLicenseIssue, ops[0].Action)
	assert.Equal(t, three.Key, ops[0].TargetID)

	for _, bad := range []struct{ user, days, max int }{{0, 30, 1}, {5, 0, 1}, {5, 30, -1}} {
		_, err := f.svc.Issue(ctx, 99, uint(bad.user), bad.days, bad.max)
		assert.ErrorIs(t, err, apperr.ErrMalformedInput)
	}
}

func TestDeactivateAndReset(t *testing.T) {
	ctx := context.Background()
	f := newLicenseFixture(t)
	license, err := f.svc.Issue(ctx, 1, 2, 30, 1)
	require.NoError(t, err)
	require.True(t, f.validate(t, license.Key, "device-1").Valid)

	reset, err := f.svc.ResetBinding(ctx, 1, license.ID)
	require.NoError(t, err)
	assert.False(t, reset.IsBound())
	assert.Equal(t, 1, reset.ActivationCount)

	// the previous device still counts against the limit
	assert.ErrorIs(t, f.validate(t, license.Key, "device-2").Reason, apperr.ErrLimitReached)

	limit := 2
	_, err = f.svc.Update(ctx, 1, license.ID, model.LicenseUpdate{ActivationLimit: &limit})
	require.NoError(t, err)
	assert.True(t, f.validate(t, license.Key, "device-2").Valid)

	// two activations consumed; the limit cannot drop under them
	limit = 1
	_, err = f.svc.Update(ctx, 1, license.ID, model.LicenseUpdate{ActivationLimit: &limit})
	assert.ErrorIs(t, err, apperr.ErrMalformedInput)
	current, err := f.licenses.FindByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.ActivationLimit)

	_, err = f.svc.Deactivate(ctx, 1, license.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.validate(t, license.Key, "device-2").Reason, apperr.ErrDeactivated)

	_, err = f.svc.Deactivate(ctx, 1, 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	f := newLicenseFixture(t)
	license, err := f.svc.Issue(ctx, 1, 2, 30, 2)
	require.NoError(t, err)
	require.True(t, f.validate(t, license.Key, "device-1").Valid)

	zero, one := 0, 1
	_, err = f.svc.Update(ctx, 1, license.ID, model.LicenseUpdate{})
	assert.ErrorIs(t, err, apperr.ErrMalformedInput)
	_, err = f.svc.Update(ctx, 1, license.ID, model.LicenseUpdate{ActivationLimit: &zero})
	assert.ErrorIs(t, err, apperr.ErrMalformedInput)

	updated, err := f.svc.Update(ctx, 1, license.ID, model.LicenseUpdate{ActivationLimit: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ActivationLimit)

	extended := f.clock.Now().AddDate(1, 0, 0)
	updated, err = f.svc.Update(ctx, 1, license.ID, model.LicenseUpdate{ExpiresAt: &extended})
	require.NoError(t, err)
	assert.Equal(t, extended, updated.ExpiresAt)
}

func TestOptionalCollaborators(t *testing.T) {
	ctx := context.Background()
	f := newLicenseFixture(t)

	_, err := f.svc.Stats(ctx, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	_, err = f.svc.SyncAll(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	_, err = f.svc.Usage(ctx, "not-a-key", 10)
	assert.ErrorIs(t, err, apperr.ErrMalformedInput)
	_, err = f.svc.Usage(ctx, "ARMT-0000-0000-0000", 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type recordingSyncer struct {
	mu     sync.Mutex
	synced []string
	batch  int
}

func (r *recordingSyncer) SyncLicense(_ context.Context, license *model.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, license.Key)
	return nil
}

func (r *recordingSyncer) BatchSyncLicenses(_ context.Context, licenses []model.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch = len(licenses)
	return nil
}

func TestAdminMutationsAreMirrored(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	licenses := store.NewMemoryLicenseStore()
	syncer := &recordingSyncer{}
	log := logging.Discard()
	svc := NewLicenseService(LicenseDeps{
		Licenses: licenses,
		Logs:     NewLogService(store.NewMemoryAuditStore(), log, clock.Now),
		Sync:     syncer,
		Logger:   log,
		Now:      clock.Now,
	})

	license, err := svc.Issue(ctx, 1, 2, 10, 1)
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, 1, license.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{license.Key, license.Key}, syncer.synced)

	n, err := svc.SyncAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, syncer.batch)
}

func TestDownloadToken(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	token := DownloadToken("ARMT-AAAA-BBBB-CCCC", "device-1", at)
	assert.Len(t, token, 64)
	assert.Equal(t, token, DownloadToken("ARMT-AAAA-BBBB-CCCC", "device-1", at))
	assert.NotEqual(t, token, DownloadToken("ARMT-AAAA-BBBB-CCCC", "device-2", at))
	assert.NotEqual(t, token, DownloadToken("ARMT-AAAA-BBBB-CCCC", "device-1", at.Add(time.Millisecond)))

	issuer := NewDownloadTokenIssuer(func() time.Time { return at })
	assert.Equal(t, token, issuer.Issue("ARMT-AAAA-BBBB-CCCC", "device-1"))
}

func TestServicesWithoutLogger(t *testing.T) {
	ctx := context.Background()
	licenses := store.NewMemoryLicenseStore()
	audit := store.NewMemoryAuditStore()
	svc := NewLicenseService(LicenseDeps{
		Licenses: licenses,
		Logs:     NewLogService(audit, nil, nil),
	})

	license, err := svc.Issue(ctx, 1, 2, 30, 1)
	require.NoError(t, err)

	var result Validation
	assert.NotPanics(t, func() {
		result, err = svc.Validate(ctx, license.Key, "device-1", RequestMeta{})
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	accounts := NewAccountService(store.NewMemoryUserStore(), store.NewMemoryLinkCodeStore(), nil, nil, nil, 0)
	assert.NotNil(t, accounts.log)
	flow := NewAuthFlow(AuthDeps{})
	assert.NotNil(t, flow.log)
}
