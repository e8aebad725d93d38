package models

import (
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/password"
)

type UserID = ids.ID[UserKind]

// User is an account. Username shares the identity namespace with Team.Slug.
type User struct {
	ID           UserID
	Username     string
	Name         string
	Password     password.Stored
	TotpSecret   *string // base-32, RFC 4648
	Enabled      bool
	Admin        bool
	Limit        *int64 // bytes
	CreatedAt    time.Time
	CreatedBy    *UserID
	LastAccess   *time.Time
	DefaultOrder UploadOrder
	DefaultAsc   bool
}

// HasTotp reports whether sign-in requires a second factor.
func (u *User) HasTotp() bool {
	return u.TotpSecret != nil && *u.TotpSecret != ""
}

// UserListItem is a user row as shown in the admin user list.
type UserListItem struct {
	User
	UploadCount int64
	UploadSize  int64
}

// UserStats aggregates over all users.
type UserStats struct {
	Total    int64
	Enabled  int64
	Admins   int64
	WithTotp int64
}
