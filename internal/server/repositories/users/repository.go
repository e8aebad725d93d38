package users

import (
	"context"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id models.UserID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]models.UserListItem, error)
	Count(ctx context.Context) (int64, error)
	IdentityExists(ctx context.Context, name string) (bool, error)
	Update(ctx context.Context, user *models.User) error
	SetPassword(ctx context.Context, id models.UserID, p password.Stored) error
	SetTotp(ctx context.Context, id models.UserID, secret string) error
	RemoveTotp(ctx context.Context, id models.UserID) error
	SetDefaultOrder(ctx context.Context, id models.UserID, order models.UploadOrder, asc bool) error
	RecordLastAccess(ctx context.Context, id models.UserID, at time.Time) error
	Delete(ctx context.Context, id models.UserID) error
	Stats(ctx context.Context) (models.UserStats, error)
}
