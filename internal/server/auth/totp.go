package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	TotpDigits = 6
	TotpPeriod = 30
	TotpIssuer = "Parcel"
)

var totpOpts = totp.ValidateOpts{
	Period:    TotpPeriod,
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// NormalizeCode trims the code and reports whether it is six ASCII digits.
func NormalizeCode(code string) (string, bool) {
	code = strings.TrimSpace(code)
	if len(code) != TotpDigits {
		return code, false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return code, false
		}
	}
	return code, true
}

// ValidateTOTP checks code against the base-32 secret at time now. A
// malformed code is a plain mismatch; a malformed secret is
// common.ErrorMalformed.
func ValidateTOTP(code, secret string, now time.Time) (bool, error) {
	code, ok := NormalizeCode(code)
	if !ok {
		return false, nil
	}

	valid, err := totp.ValidateCustom(code, secret, now.UTC(), totpOpts)
	if err != nil {
		if err == otp.ErrValidateSecretInvalidBase32 {
			return false, fmt.Errorf("%w: totp secret is not base-32", common.ErrorMalformed)
		}
		return false, nil
	}
	return valid, nil
}

// GenerateTOTPCode returns the code for secret at t.
func GenerateTOTPCode(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t.UTC(), totpOpts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorMalformed, err)
	}
	return code, nil
}

// NewTOTPKey creates a fresh 160-bit secret and its otpauth:// URL for
// account.
func NewTOTPKey(account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      TotpIssuer,
		AccountName: account,
		Period:      TotpPeriod,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}
