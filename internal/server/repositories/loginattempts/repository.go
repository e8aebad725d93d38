package loginattempts

import (
	"context"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type Repository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	// CountRecentFailures counts failed attempts for username at or after since.
	CountRecentFailures(ctx context.Context, username string, since time.Time) (int, error)
	// Prune drops attempts older than before.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
