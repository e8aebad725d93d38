package access

import (
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

// Decide is the decision table. member is the actor's membership in the
// owning team, or nil when the upload is user-owned or the actor is not a
// member. actor is nil for anonymous requests.
func Decide(upload *models.Upload, actor *models.User, member *models.TeamMember, action Action, now time.Time) bool {
	if actor != nil && actor.Admin {
		return true
	}

	owner := isUserOwner(upload, actor)
	owns := owner || member != nil

	switch action.Kind {
	case View:
		return upload.Public || owns
	case Download:
		if owns {
			return true
		}
		return upload.Public &&
			!upload.Exhausted() &&
			!upload.Expired(now) &&
			upload.HasPassword() == action.WithPassword
	case Share, ResetDownloads, Edit, Transfer:
		return owner || (member != nil && member.CanEdit)
	case Delete:
		return owner || (member != nil && member.CanDelete)
	default:
		return false
	}
}

func isUserOwner(upload *models.Upload, actor *models.User) bool {
	if actor == nil {
		return false
	}
	id, ok := upload.Owner.User()
	return ok && id == actor.ID
}

// memberFor picks the actor's membership for the upload's owning team out of
// a preloaded set.
func memberFor(upload *models.Upload, memberships map[models.TeamID]models.TeamMember) *models.TeamMember {
	team, ok := upload.Owner.Team()
	if !ok {
		return nil
	}
	m, ok := memberships[team]
	if !ok {
		return nil
	}
	return &m
}
