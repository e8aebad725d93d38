package services

import (
	"context"
	"errors"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/server/access"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// DownloadRequest asks for the bytes of an upload. Password is nil when the
// caller supplied none.
type DownloadRequest struct {
	Upload   models.UploadID
	Actor    *models.User
	Password *string
}

// DownloadInfo is what the transport needs to stream the file.
type DownloadInfo struct {
	Path     string
	Filename string
	Size     int64
	MimeType *string
}

// Download authorizes and counts one download. Owners are never charged
// against the remaining allowance.
func (s *UploadService) Download(ctx context.Context, req DownloadRequest) (*DownloadInfo, error) {
	upload, err := s.get(ctx, req.Upload)
	if err != nil {
		return nil, err
	}

	action := access.ActionDownload(req.Password != nil)
	if err := s.access.Require(ctx, upload, req.Actor, action); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to check download permission", "upload_id", upload.ID.String())
	}

	owner, err := s.isOwner(ctx, upload, req.Actor)
	if err != nil {
		return nil, err
	}

	if upload.Password != nil && !owner && (req.Actor == nil || !req.Actor.Admin) {
		if req.Password == nil || !upload.Password.Verify(*req.Password) {
			s.log.Info(ctx, "download with wrong password", "upload_id", upload.ID.String())
			return nil, common.ErrorForbidden
		}
	}

	if !s.store.Exists(upload.Slug) {
		s.log.Error(ctx, "cache file missing for upload", "upload_id", upload.ID.String(), "slug", upload.Slug)
		return nil, common.ErrorInternal
	}

	if err := s.repomanager.Uploads(s.db).RecordDownload(ctx, upload.ID, !owner); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to record download", "upload_id", upload.ID.String())
	}

	return &DownloadInfo{
		Path:     s.store.Path(upload.Slug),
		Filename: upload.Filename,
		Size:     upload.Size,
		MimeType: upload.MimeType,
	}, nil
}

// PreviewPath returns the preview file of an upload the actor may view.
func (s *UploadService) PreviewPath(ctx context.Context, actor *models.User, id models.UploadID) (string, error) {
	upload, err := s.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	if !upload.HasPreview {
		return "", common.ErrorNotFound
	}
	return s.store.PreviewPath(upload.Slug), nil
}

// isOwner reports whether actor is the owning user or a member of the owning
// team.
func (s *UploadService) isOwner(ctx context.Context, upload *models.Upload, actor *models.User) (bool, error) {
	if actor == nil {
		return false, nil
	}
	if userID, ok := upload.Owner.User(); ok {
		return userID == actor.ID, nil
	}
	teamID, _ := upload.Owner.Team()
	if _, err := s.repomanager.Teams(s.db).GetMember(ctx, teamID, actor.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, internalError(ctx, s.log, err, "unable to check team membership", "team_id", teamID.String())
	}
	return true, nil
}
