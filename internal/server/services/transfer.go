package services

import (
	"context"
	"errors"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/server/access"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type TransferMode int

const (
	TransferCopy TransferMode = iota + 1
	TransferMove
)

func (m TransferMode) String() string {
	switch m {
	case TransferCopy:
		return "copy"
	case TransferMove:
		return "move"
	default:
		return "unknown"
	}
}

// Transfer copies or moves a user-owned upload into a team the actor belongs
// to. The result is a new upload with a fresh id and slug; tags stay behind
// because tag namespaces are per owner.
func (s *UploadService) Transfer(ctx context.Context, actor *models.User, id models.UploadID, teamID models.TeamID, mode TransferMode) (*models.Upload, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if mode != TransferCopy && mode != TransferMove {
		return nil, validationError("unknown transfer mode")
	}

	upload, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := upload.Owner.User(); !ok {
		return nil, validationError("only uploads owned by a user can be transferred")
	}
	if err := s.access.Require(ctx, upload, actor, access.ActionTransfer); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to check transfer permission", "upload_id", id.String())
	}

	teams := s.repomanager.Teams(s.db)
	team, err := teams.Get(ctx, teamID)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to get transfer target team", "team_id", teamID.String())
	}
	if !team.Enabled {
		return nil, common.ErrorForbidden
	}
	if _, err := teams.GetMember(ctx, teamID, actor.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Info(ctx, "transfer to team by non-member", "user_id", actor.ID.String(), "team_id", teamID.String())
			return nil, common.ErrorForbidden
		}
		return nil, internalError(ctx, s.log, err, "unable to check team membership", "team_id", teamID.String())
	}

	target := models.TeamOwner(teamID)
	if upload.CustomSlug != nil {
		exists, err := s.repomanager.Uploads(s.db).CustomSlugExists(ctx, target, *upload.CustomSlug, nil)
		if err != nil {
			return nil, internalError(ctx, s.log, err, "unable to check custom slug", "team_id", teamID.String())
		}
		if exists {
			return nil, common.ErrorConflict
		}
	}

	slug, err := s.generateSlug(ctx)
	if err != nil {
		return nil, err
	}

	moved := *upload
	moved.ID = ids.New[models.UploadKind]()
	moved.Slug = slug
	moved.Owner = target

	switch mode {
	case TransferMove:
		err = s.transferMove(ctx, upload, &moved)
	case TransferCopy:
		err = s.transferCopy(ctx, upload, &moved)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "upload transferred", "mode", mode.String(),
		"upload_id", upload.ID.String(), "new_upload_id", moved.ID.String(), "team_id", teamID.String())
	return &moved, nil
}

func (s *UploadService) transferMove(ctx context.Context, from, to *models.Upload) error {
	if err := s.store.Rename(from.Slug, to.Slug); err != nil {
		return internalError(ctx, s.log, err, "unable to rename cache file", "slug", from.Slug, "new_slug", to.Slug)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Uploads(tx)
		if err := repo.Delete(ctx, from.ID); err != nil {
			return err
		}
		return repo.Create(ctx, to)
	})
	if err != nil {
		if rerr := s.store.Rename(to.Slug, from.Slug); rerr != nil {
			s.log.Error(ctx, "unable to restore cache file after failed transfer", "slug", from.Slug, "error", rerr)
		}
		return internalError(ctx, s.log, err, "unable to move upload", "upload_id", from.ID.String())
	}
	return nil
}

func (s *UploadService) transferCopy(ctx context.Context, from, to *models.Upload) error {
	if err := s.store.Copy(from.Slug, to.Slug); err != nil {
		return internalError(ctx, s.log, err, "unable to copy cache file", "slug", from.Slug, "new_slug", to.Slug)
	}
	if err := s.repomanager.Uploads(s.db).Create(ctx, to); err != nil {
		if rerr := s.store.Remove(to.Slug); rerr != nil {
			s.log.Warn(ctx, "unable to remove copied cache file", "slug", to.Slug, "error", rerr)
		}
		return internalError(ctx, s.log, err, "unable to copy upload", "upload_id", from.ID.String())
	}
	return nil
}
