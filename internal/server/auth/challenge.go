package auth

import (
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ChallengeClaims is carried between the password and TOTP stages. The
// username rides along so that TOTP failures count against the same lockout
// counter as password failures.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	UserID   string
	Username string
}

// Challenge is a parsed TOTP challenge token.
type Challenge struct {
	UserID    string
	Username  string
	ID        string
	ExpiresAt time.Time
}

func GenerateChallenge(userID, username string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Audience:  jwt.ClaimStrings{challengeAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID:   userID,
		Username: username,
	})

	return token.SignedString(secretKey)
}

func ParseChallenge(tokenString string, secretKey []byte) (*Challenge, error) {
	claims := &ChallengeClaims{}
	if err := parse(tokenString, claims, secretKey, challengeAudience); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.Username == "" || claims.ID == "" {
		return nil, common.ErrInvalidToken
	}

	return &Challenge{
		UserID:    claims.UserID,
		Username:  claims.Username,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
