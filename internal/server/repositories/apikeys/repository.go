package apikeys

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, key *models.ApiKey) error
	Get(ctx context.Context, id models.ApiKeyID) (*models.ApiKey, error)
	GetByCode(ctx context.Context, code string) (*models.ApiKey, error)
	ListForUser(ctx context.Context, owner models.UserID) ([]models.ApiKey, error)
	SetEnabled(ctx context.Context, id models.ApiKeyID, enabled bool) error
	RecordLastUse(ctx context.Context, id models.ApiKeyID) error
	Delete(ctx context.Context, id models.ApiKeyID) error
	DeleteForUser(ctx context.Context, owner models.UserID) error
}
