package util

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLicenseKeyMatchesFormat(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	hexCounts := make(map[rune]int)

	for i := 0; i < n; i++ {
		key, err := GenerateLicenseKey()
		require.NoError(t, err)
		require.True(t, IsValidLicenseFormat(key), key)

		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}

		for _, r := range strings.ReplaceAll(strings.TrimPrefix(key, "ARMT-"), "-", "") {
			hexCounts[r]++
		}
	}

	// 120000 hex chars over 16 symbols: expect 7500 each.
	assert.Len(t, hexCounts, 16)
	for r, c := range hexCounts {
		assert.InDelta(t, 7500, c, 750, "symbol %q", r)
	}
}

func TestIsValidLicenseFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid", "ARMT-AAAA-BBBB-CCCC", true},
		{"digits", "ARMT-0123-4567-89AB", true},
		{"lowercase", "ARMT-aaaa-bbbb-cccc", false},
		{"wrong_prefix", "XXXX-AAAA-BBBB-CCCC", false},
		{"short_segment", "ARMT-AAA-BBBB-CCCC", false},
		{"non_hex", "ARMT-GGGG-BBBB-CCCC", false},
		{"trailing", "ARMT-AAAA-BBBB-CCCC ", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidLicenseFormat(tt.key))
		})
	}
}

func TestGenerateChallengeCode(t *testing.T) {
	digits := regexp.MustCompile(`^[0-9]{6}$`)
	leadingZero := false
	for i := 0; i < 5000; i++ {
		code, err := GenerateChallengeCode()
		require.NoError(t, err)
		require.Regexp(t, digits, code)
		if code[0] == '0' {
			leadingZero = true
		}
	}
	// P(no leading zero in 5000 draws) = 0.9^5000.
	assert.True(t, leadingZero)
}

func TestGenerateLinkCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{8}$`)
	a, err := GenerateLinkCode()
	require.NoError(t, err)
	b, err := GenerateLinkCode()
	require.NoError(t, err)

	assert.Regexp(t, pattern, a)
	assert.Regexp(t, pattern, b)
	assert.NotEqual(t, a, b)
	assert.False(t, IsValidLicenseFormat(a))
}

func TestHashDeviceID(t *testing.T) {
	assert.Equal(t, HashDeviceID("device-1"), HashDeviceID("device-1"))
	assert.NotEqual(t, HashDeviceID("device-1"), HashDeviceID("device-2"))
	assert.Len(t, HashDeviceID("device-1"), 64)
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.GenerateToken(42)
	require.NoError(t, err)

	userID, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)

	_, err = NewTokenIssuer("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateToken(42)
	require.NoError(t, err)
	_, err = issuer.ValidateToken(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "password123"))
	assert.False(t, CheckPassword(hash, "password124"))
	assert.False(t, CheckPassword("", "password123"))
}

func TestValidateTokenRejectsUnsigned(t *testing.T) {
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "7"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	issuer := NewTokenIssuer("secret", time.Hour)
	for _, token := range []string{unsigned, "not-a-token", ""} {
		_, err := issuer.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
