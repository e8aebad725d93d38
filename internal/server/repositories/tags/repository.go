package tags

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type Repository interface {
	// Ensure creates any missing tags in owner's namespace and returns the
	// tags for all names.
	Ensure(ctx context.Context, owner models.Owner, names []string) ([]models.Tag, error)
	ListForOwner(ctx context.Context, owner models.Owner) ([]models.Tag, error)
	ListForUpload(ctx context.Context, upload models.UploadID) ([]string, error)
	ReplaceForUpload(ctx context.Context, upload models.UploadID, tags []models.TagID) error
	DeleteForOwner(ctx context.Context, owner models.Owner) error
}
