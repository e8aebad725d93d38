package models

import (
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
)

type ApiKeyID = ids.ID[ApiKeyKind]

// ApiKey is a bearer credential owned by a user.
type ApiKey struct {
	ID        ApiKeyID
	Owner     UserID
	Code      string
	Name      string
	Enabled   bool
	CreatedAt time.Time
	CreatedBy *UserID
	LastUsed  *time.Time
}
