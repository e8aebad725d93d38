package access

import (
	"context"
	"errors"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// Memberships is the slice of the team store the checker consults.
type Memberships interface {
	GetMember(ctx context.Context, team models.TeamID, user models.UserID) (*models.TeamMember, error)
	MembershipsForUser(ctx context.Context, user models.UserID) ([]models.TeamMembership, error)
}

type Checker struct {
	members Memberships
	log     logging.Logger
	now     func() time.Time
}

func NewChecker(members Memberships, log logging.Logger) *Checker {
	return &Checker{members: members, log: log, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

// Can reports whether actor may perform action on upload. A nil actor is an
// anonymous visitor.
func (c *Checker) Can(ctx context.Context, upload *models.Upload, actor *models.User, action Action) (bool, error) {
	var member *models.TeamMember
	if team, ok := upload.Owner.Team(); ok && actor != nil && !actor.Admin {
		m, err := c.members.GetMember(ctx, team, actor.ID)
		switch {
		case err == nil:
			member = m
		case errors.Is(err, common.ErrorNotFound):
		default:
			return false, err
		}
	}

	ok := Decide(upload, actor, member, action, c.now())
	if !ok {
		c.denied(ctx, upload, actor, action)
	}
	return ok, nil
}

// Require is Can that turns a denial into common.ErrorForbidden.
func (c *Checker) Require(ctx context.Context, upload *models.Upload, actor *models.User, action Action) error {
	ok, err := c.Can(ctx, upload, actor, action)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorForbidden
	}
	return nil
}

// RequireAll checks action on every upload with one membership lookup. The
// first denied upload fails the whole set with common.ErrorForbidden.
func (c *Checker) RequireAll(ctx context.Context, uploads []models.Upload, actor *models.User, action Action) error {
	memberships := map[models.TeamID]models.TeamMember{}
	if actor != nil && !actor.Admin {
		ms, err := c.members.MembershipsForUser(ctx, actor.ID)
		if err != nil {
			return err
		}
		for _, m := range ms {
			memberships[m.Team] = m.TeamMember
		}
	}

	now := c.now()
	for i := range uploads {
		upload := &uploads[i]
		if !Decide(upload, actor, memberFor(upload, memberships), action, now) {
			c.denied(ctx, upload, actor, action)
			return common.ErrorForbidden
		}
	}
	return nil
}

func (c *Checker) denied(ctx context.Context, upload *models.Upload, actor *models.User, action Action) {
	user := "anonymous"
	if actor != nil {
		user = actor.ID.String()
	}
	c.log.Info(ctx, "access denied", "user_id", user, "upload_id", upload.ID.String(), "action", action.String())
}
