package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
)

// TeamService administers teams and their memberships.
type TeamService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *cache.Store
	log         logging.Logger
	now         func() time.Time
}

func NewTeamService(db *sql.DB, m repomanager.RepositoryManager, store *cache.Store, log logging.Logger) *TeamService {
	return &TeamService{
		db:          db,
		repomanager: m,
		store:       store,
		log:         log.With("module", "teams"),
		now:         time.Now,
	}
}

type NewTeam struct {
	Name    string
	Slug    string
	Limit   *int64
	Enabled bool
	Members []models.MemberPermissions
}

// CreateTeam creates a team. The slug must be free in the identity namespace
// shared with usernames.
func (s *TeamService) CreateTeam(ctx context.Context, actor *models.User, req NewTeam) (*models.Team, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name, slug, err := validateTeam(req.Name, req.Slug, req.Limit)
	if err != nil {
		return nil, err
	}

	createdBy := actor.ID
	team := &models.Team{
		ID:        ids.New[models.TeamKind](),
		Name:      name,
		Slug:      slug,
		Limit:     req.Limit,
		Enabled:   req.Enabled,
		CreatedAt: s.now().UTC(),
		CreatedBy: &createdBy,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := identityFree(ctx, s.repomanager, tx, slug); err != nil {
			return err
		}
		teams := s.repomanager.Teams(tx)
		if err := teams.Create(ctx, team); err != nil {
			return err
		}
		for _, m := range req.Members {
			member := models.TeamMember{Team: team.ID, User: m.User, Capabilities: m.Capabilities}
			if err := teams.AddMember(ctx, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to create team", "slug", slug)
	}

	s.log.Info(ctx, "team created", "team_id", team.ID.String(), "slug", slug, "by", actor.ID.String())
	return team, nil
}

type UpdateTeam struct {
	Name    string
	Slug    string
	Limit   *int64
	Enabled bool
}

func (s *TeamService) UpdateTeam(ctx context.Context, actor *models.User, id models.TeamID, req UpdateTeam) (*models.Team, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	name, slug, err := validateTeam(req.Name, req.Slug, req.Limit)
	if err != nil {
		return nil, err
	}

	var team *models.Team
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		teams := s.repomanager.Teams(tx)
		var err error
		if team, err = teams.Get(ctx, id); err != nil {
			return err
		}
		if team.Slug != slug {
			if err := identityFree(ctx, s.repomanager, tx, slug); err != nil {
				return err
			}
		}
		team.Name, team.Slug, team.Limit, team.Enabled = name, slug, req.Limit, req.Enabled
		return teams.Update(ctx, team)
	})
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to update team", "team_id", id.String())
	}
	return team, nil
}

// DeleteTeam removes a team, its memberships, tags and uploads, then sweeps
// the uploads' cache files.
func (s *TeamService) DeleteTeam(ctx context.Context, actor *models.User, id models.TeamID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	var slugs []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Teams(tx).RemoveMembersForTeam(ctx, id); err != nil {
			return err
		}
		var err error
		if slugs, err = s.repomanager.Uploads(tx).DeleteForTeam(ctx, id); err != nil {
			return err
		}
		if err := s.repomanager.Tags(tx).DeleteForOwner(ctx, models.TeamOwner(id)); err != nil {
			return err
		}
		return s.repomanager.Teams(tx).Delete(ctx, id)
	})
	if err != nil {
		return internalError(ctx, s.log, err, "unable to delete team", "team_id", id.String())
	}

	if err := s.store.RemoveAll(slugs); err != nil {
		s.log.Warn(ctx, "unable to remove cache files of deleted team", "team_id", id.String(), "error", err)
	}
	s.log.Info(ctx, "team deleted", "team_id", id.String(), "uploads", len(slugs), "by", actor.ID.String())
	return nil
}

// Get returns a team the actor belongs to.
func (s *TeamService) Get(ctx context.Context, actor *models.User, id models.TeamID) (*models.Team, error) {
	if _, err := s.membership(ctx, actor, id); err != nil {
		return nil, err
	}
	team, err := s.repomanager.Teams(s.db).Get(ctx, id)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to get team", "team_id", id.String())
	}
	return team, nil
}

func (s *TeamService) List(ctx context.Context, actor *models.User) ([]models.Team, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	teams, err := s.repomanager.Teams(s.db).List(ctx)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list teams")
	}
	return teams, nil
}

// TeamsForUser lists the actor's memberships.
func (s *TeamService) TeamsForUser(ctx context.Context, actor *models.User) ([]models.TeamMembership, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ms, err := s.repomanager.Teams(s.db).MembershipsForUser(ctx, actor.ID)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list memberships", "user_id", actor.ID.String())
	}
	return ms, nil
}

// Members lists a team's members for an admin or any member.
func (s *TeamService) Members(ctx context.Context, actor *models.User, id models.TeamID) ([]models.TeamMemberInfo, error) {
	if _, err := s.membership(ctx, actor, id); err != nil {
		return nil, err
	}
	members, err := s.repomanager.Teams(s.db).Members(ctx, id)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list team members", "team_id", id.String())
	}
	return members, nil
}

func (s *TeamService) AddMember(ctx context.Context, actor *models.User, member models.TeamMember) error {
	if err := s.requireConfig(ctx, actor, member.Team); err != nil {
		return err
	}
	if err := s.repomanager.Teams(s.db).AddMember(ctx, member); err != nil {
		return internalError(ctx, s.log, err, "unable to add team member", "team_id", member.Team.String(), "user_id", member.User.String())
	}
	return nil
}

func (s *TeamService) RemoveMember(ctx context.Context, actor *models.User, team models.TeamID, user models.UserID) error {
	if err := s.requireConfig(ctx, actor, team); err != nil {
		return err
	}
	if err := s.repomanager.Teams(s.db).RemoveMember(ctx, team, user); err != nil {
		return internalError(ctx, s.log, err, "unable to remove team member", "team_id", team.String(), "user_id", user.String())
	}
	return nil
}

// UpdatePermissions rewrites the capabilities of many members in one
// statement. Rows naming another team are rejected.
func (s *TeamService) UpdatePermissions(ctx context.Context, actor *models.User, team models.TeamID, rows []models.MemberPermissions) error {
	if err := s.requireConfig(ctx, actor, team); err != nil {
		return err
	}
	for i := range rows {
		if rows[i].Team.IsZero() {
			rows[i].Team = team
		}
		if rows[i].Team != team {
			return validationError("permission row for another team")
		}
	}
	if err := s.repomanager.Teams(s.db).BatchUpdatePermissions(ctx, team, rows); err != nil {
		return internalError(ctx, s.log, err, "unable to update team permissions", "team_id", team.String())
	}
	s.log.Info(ctx, "team permissions updated", "team_id", team.String(), "rows", len(rows), "by", actor.ID.String())
	return nil
}

// JoinTeams adds a user to several teams in one statement.
func (s *TeamService) JoinTeams(ctx context.Context, actor *models.User, user models.UserID, rows []models.MemberPermissions) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.repomanager.Teams(s.db).JoinTeamsBatch(ctx, user, rows); err != nil {
		return internalError(ctx, s.log, err, "unable to join teams", "user_id", user.String())
	}
	return nil
}

// membership returns the actor's membership, or nil for an admin who is not
// a member. Non-members get common.ErrorForbidden.
func (s *TeamService) membership(ctx context.Context, actor *models.User, team models.TeamID) (*models.TeamMember, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	m, err := s.repomanager.Teams(s.db).GetMember(ctx, team, actor.ID)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, common.ErrorNotFound):
		if actor.Admin {
			return nil, nil
		}
		return nil, common.ErrorForbidden
	default:
		return nil, internalError(ctx, s.log, err, "unable to check team membership", "team_id", team.String())
	}
}

func (s *TeamService) requireConfig(ctx context.Context, actor *models.User, team models.TeamID) error {
	m, err := s.membership(ctx, actor, team)
	if err != nil {
		return err
	}
	if actor.Admin || (m != nil && m.CanConfig) {
		return nil
	}
	return common.ErrorForbidden
}

func validateTeam(name, slug string, limit *int64) (string, string, error) {
	name, slug = strings.TrimSpace(name), strings.TrimSpace(slug)
	if name == "" || len(name) > 100 {
		return "", "", validationError("team name must be between 1 and 100 characters")
	}
	if err := validateIdentity("team slug", slug); err != nil {
		return "", "", err
	}
	if err := validateLimit("upload limit", limit); err != nil {
		return "", "", err
	}
	return name, slug, nil
}
