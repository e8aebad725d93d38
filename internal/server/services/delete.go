package services

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/server/access"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// Delete removes one upload and then its cache files. A failure to remove
// the files is logged; the next cache cleanup picks them up.
func (s *UploadService) Delete(ctx context.Context, actor *models.User, id models.UploadID) error {
	upload, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.access.Require(ctx, upload, actor, access.ActionDelete); err != nil {
		return internalError(ctx, s.log, err, "unable to check delete permission", "upload_id", id.String())
	}

	if err := s.repomanager.Uploads(s.db).Delete(ctx, id); err != nil {
		return internalError(ctx, s.log, err, "unable to delete upload", "upload_id", id.String())
	}
	s.sweep(ctx, []string{upload.Slug})

	s.log.Info(ctx, "upload deleted", "upload_id", id.String(), "user_id", actor.ID.String())
	return nil
}

// BulkDelete removes many uploads at once. Either every upload is permitted
// and all are deleted in one statement, or nothing is deleted.
func (s *UploadService) BulkDelete(ctx context.Context, actor *models.User, uploadIDs []models.UploadID) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	uploadIDs = dedupeIDs(uploadIDs)
	if len(uploadIDs) == 0 {
		return 0, nil
	}

	repo := s.repomanager.Uploads(s.db)
	uploads, err := repo.GetMany(ctx, uploadIDs)
	if err != nil {
		return 0, internalError(ctx, s.log, err, "unable to get uploads", "count", len(uploadIDs))
	}
	if len(uploads) != len(uploadIDs) {
		return 0, common.ErrorNotFound
	}

	if err := s.access.RequireAll(ctx, uploads, actor, access.ActionDelete); err != nil {
		return 0, internalError(ctx, s.log, err, "unable to check delete permissions", "count", len(uploads))
	}

	slugs, err := repo.DeleteMany(ctx, uploadIDs)
	if err != nil {
		return 0, internalError(ctx, s.log, err, "unable to delete uploads", "count", len(uploadIDs))
	}
	s.sweep(ctx, slugs)

	s.log.Info(ctx, "uploads deleted", "count", len(slugs), "user_id", actor.ID.String())
	return len(slugs), nil
}

// sweep removes the cache files of deleted uploads, best effort.
func (s *UploadService) sweep(ctx context.Context, slugs []string) {
	if err := s.store.RemoveAll(slugs); err != nil {
		s.log.Warn(ctx, "unable to remove cache files", "count", len(slugs), "error", err)
	}
}

func dedupeIDs[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
