package teams

import (
	"context"

	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, team *models.Team) error
	Get(ctx context.Context, id models.TeamID) (*models.Team, error)
	GetBySlug(ctx context.Context, slug string) (*models.Team, error)
	List(ctx context.Context) ([]models.Team, error)
	Update(ctx context.Context, team *models.Team) error
	Delete(ctx context.Context, id models.TeamID) error

	GetMember(ctx context.Context, team models.TeamID, user models.UserID) (*models.TeamMember, error)
	Members(ctx context.Context, team models.TeamID) ([]models.TeamMemberInfo, error)
	MembershipsForUser(ctx context.Context, user models.UserID) ([]models.TeamMembership, error)
	AddMember(ctx context.Context, member models.TeamMember) error
	RemoveMember(ctx context.Context, team models.TeamID, user models.UserID) error
	RemoveMembersForUser(ctx context.Context, user models.UserID) error
	RemoveMembersForTeam(ctx context.Context, team models.TeamID) error
	BatchUpdatePermissions(ctx context.Context, team models.TeamID, rows []models.MemberPermissions) error
	JoinTeamsBatch(ctx context.Context, user models.UserID, rows []models.MemberPermissions) error
}
