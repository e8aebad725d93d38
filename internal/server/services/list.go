package services

import (
	"context"
	"errors"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/uploads"
)

// ListQuery pages through an owner's uploads. Empty Order uses the actor's
// stored preference, as does a nil Asc.
type ListQuery struct {
	Search string
	Order  models.UploadOrder
	Asc    *bool
	Offset uint64
	Limit  uint64
}

type UploadPage struct {
	Uploads []models.UploadListItem
	Total   int64
	Offset  uint64
	Limit   uint64
}

func clampLimit(limit uint64) uint64 {
	switch {
	case limit == 0:
		return defaultListSize
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

// ListUploads lists the uploads of owner. A nil owner lists every upload and
// is reserved for admins.
func (s *UploadService) ListUploads(ctx context.Context, actor *models.User, owner *models.Owner, q ListQuery) (*UploadPage, error) {
	if err := s.canList(ctx, actor, owner); err != nil {
		return nil, err
	}

	order := q.Order
	if order == "" {
		order = actor.DefaultOrder
	}
	order, err := models.ParseUploadOrder(string(order))
	if err != nil {
		return nil, validationError("%v", err)
	}
	asc := actor.DefaultAsc
	if q.Asc != nil {
		asc = *q.Asc
	}

	filter := uploads.ListFilter{
		Owner:  owner,
		Search: q.Search,
		Order:  order,
		Asc:    asc,
		Offset: q.Offset,
		Limit:  clampLimit(q.Limit),
	}

	repo := s.repomanager.Uploads(s.db)
	items, err := repo.List(ctx, filter)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list uploads", "owner", ownerString(owner))
	}
	total, err := repo.Count(ctx, filter)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to count uploads", "owner", ownerString(owner))
	}

	return &UploadPage{Uploads: items, Total: total, Offset: filter.Offset, Limit: filter.Limit}, nil
}

// SetListOrder stores the actor's default list order.
func (s *UploadService) SetListOrder(ctx context.Context, actor *models.User, order models.UploadOrder, asc bool) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	order, err := models.ParseUploadOrder(string(order))
	if err != nil {
		return validationError("%v", err)
	}
	if err := s.repomanager.Users(s.db).SetDefaultOrder(ctx, actor.ID, order, asc); err != nil {
		return internalError(ctx, s.log, err, "unable to store list order", "user_id", actor.ID.String())
	}
	actor.DefaultOrder, actor.DefaultAsc = order, asc
	return nil
}

// Stats aggregates the uploads of owner, or of everything for a nil owner.
// Team stats cover the team's uploads, not the caller's.
func (s *UploadService) Stats(ctx context.Context, actor *models.User, owner *models.Owner) (models.UploadStats, error) {
	if err := s.canList(ctx, actor, owner); err != nil {
		return models.UploadStats{}, err
	}
	stats, err := s.repomanager.Uploads(s.db).Stats(ctx, owner)
	if err != nil {
		return models.UploadStats{}, internalError(ctx, s.log, err, "unable to get upload stats", "owner", ownerString(owner))
	}
	return stats, nil
}

func (s *UploadService) canList(ctx context.Context, actor *models.User, owner *models.Owner) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor.Admin {
		return nil
	}
	if owner == nil {
		return common.ErrorForbidden
	}
	if userID, ok := owner.User(); ok {
		if userID != actor.ID {
			return common.ErrorForbidden
		}
		return nil
	}
	teamID, _ := owner.Team()
	if _, err := s.repomanager.Teams(s.db).GetMember(ctx, teamID, actor.ID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorForbidden
		}
		return internalError(ctx, s.log, err, "unable to check team membership", "team_id", teamID.String())
	}
	return nil
}

func ownerString(owner *models.Owner) string {
	if owner == nil {
		return "all"
	}
	return owner.String()
}
