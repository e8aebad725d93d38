package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 SHA1 test secret "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestValidateTOTP_RFCVector(t *testing.T) {
	at := time.Unix(59, 0)

	ok, err := ValidateTOTP("287082", rfcSecret, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ValidateTOTP(" 287082\n", rfcSecret, at)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateTOTP_NoSkew(t *testing.T) {
	at := time.Unix(59, 0)
	code, err := GenerateTOTPCode(rfcSecret, at.Add(30*time.Second))
	require.NoError(t, err)

	ok, err := ValidateTOTP(code, rfcSecret, at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateTOTP_MalformedCodes(t *testing.T) {
	for _, code := range []string{"", "12345", "1234567", "12a456", "１２３４５６"} {
		ok, err := ValidateTOTP(code, rfcSecret, time.Unix(59, 0))
		require.NoError(t, err, code)
		assert.False(t, ok, code)
	}
}

func TestValidateTOTP_BadSecret(t *testing.T) {
	_, err := ValidateTOTP("123456", "not base32 !!", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrorMalformed))
}

func TestNewTOTPKey(t *testing.T) {
	key, err := NewTOTPKey("alice")
	require.NoError(t, err)
	assert.Len(t, key.Secret(), 32)
	assert.Contains(t, key.URL(), "issuer=Parcel")
	assert.Contains(t, key.URL(), "period=30")

	now := time.Now()
	code, err := GenerateTOTPCode(key.Secret(), now)
	require.NoError(t, err)
	ok, err := ValidateTOTP(code, key.Secret(), now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNormalizeCode(t *testing.T) {
	code, ok := NormalizeCode("  000111 ")
	assert.True(t, ok)
	assert.Equal(t, "000111", code)
}
