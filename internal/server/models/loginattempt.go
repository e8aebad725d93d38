package models

import (
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
)

type LoginAttemptID = ids.ID[LoginAttemptKind]

// LoginAttempt records one sign-in outcome. Failures within the lockout
// window count towards locking the username.
type LoginAttempt struct {
	ID          LoginAttemptID
	Username    string
	IPAddress   *string
	AttemptedAt time.Time
	Success     bool
}
