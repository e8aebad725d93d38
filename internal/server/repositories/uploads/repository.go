package uploads

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// ListFilter selects and orders a page of uploads. A nil Owner lists every
// upload (admin view).
type ListFilter struct {
	Owner  *models.Owner
	Search string
	Order  models.UploadOrder
	Asc    bool
	Offset uint64
	Limit  uint64
}

type Repository interface {
	Create(ctx context.Context, upload *models.Upload) error
	Get(ctx context.Context, id models.UploadID) (*models.Upload, error)
	GetMany(ctx context.Context, ids []models.UploadID) ([]models.Upload, error)
	GetBySlug(ctx context.Context, slug string) (*models.Upload, error)
	GetByCustomSlug(ctx context.Context, ownerSlug, customSlug string) (*models.Upload, error)
	GetExistingSlugs(ctx context.Context, slugs []string) (map[string]struct{}, error)
	CustomSlugExists(ctx context.Context, owner models.Owner, customSlug string, exclude *models.UploadID) (bool, error)
	Update(ctx context.Context, upload *models.Upload) error
	Delete(ctx context.Context, id models.UploadID) error
	DeleteMany(ctx context.Context, ids []models.UploadID) ([]string, error)
	DeleteForUser(ctx context.Context, user models.UserID) ([]string, error)
	DeleteForTeam(ctx context.Context, team models.TeamID) ([]string, error)

	RecordDownload(ctx context.Context, id models.UploadID, decrement bool) error
	ResetRemaining(ctx context.Context, id models.UploadID) error

	SetMimeType(ctx context.Context, id models.UploadID, mimeType string) error
	SetPreviewError(ctx context.Context, id models.UploadID, message string) error
	ClearPreviewError(ctx context.Context, id models.UploadID) error
	SetHasPreview(ctx context.Context, id models.UploadID) error
	GetAllWithoutPreview(ctx context.Context, offset, limit uint64) ([]models.Upload, error)

	List(ctx context.Context, filter ListFilter) ([]models.UploadListItem, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	Stats(ctx context.Context, owner *models.Owner) (models.UploadStats, error)
}
