package services

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/server/access"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// ClearPreviewError returns an upload to the preview worker's work set.
func (s *UploadService) ClearPreviewError(ctx context.Context, actor *models.User, id models.UploadID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repomanager.Uploads(s.db).ClearPreviewError(ctx, id); err != nil {
		return internalError(ctx, s.log, err, "unable to clear preview error", "upload_id", id.String())
	}
	s.log.Info(ctx, "preview error cleared", "upload_id", id.String(), "user_id", actor.ID.String())
	s.requestPreview(ctx, id)
	return nil
}

// RequestPreview queues uploads the actor can edit for preview generation.
// It reports false when the queue was full.
func (s *UploadService) RequestPreview(ctx context.Context, actor *models.User, uploadIDs []models.UploadID) (bool, error) {
	if err := requireActor(actor); err != nil {
		return false, err
	}
	uploads, err := s.repomanager.Uploads(s.db).GetMany(ctx, dedupeIDs(uploadIDs))
	if err != nil {
		return false, internalError(ctx, s.log, err, "unable to get uploads", "count", len(uploadIDs))
	}
	if err := s.access.RequireAll(ctx, uploads, actor, access.ActionEdit); err != nil {
		return false, internalError(ctx, s.log, err, "unable to check edit permissions", "count", len(uploads))
	}
	if len(uploads) == 0 || s.previews == nil {
		return false, nil
	}

	found := make([]models.UploadID, len(uploads))
	for i := range uploads {
		found[i] = uploads[i].ID
	}
	return s.previews.Send(found), nil
}
