package teams

import (
	"context"
	"fmt"
	"strings"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	sq "github.com/Masterminds/squirrel"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

const teamColumns = `id, name, slug, "limit", enabled, created_at, created_by`

type scanner interface {
	Scan(dest ...any) error
}

func scanTeam(row scanner) (*models.Team, error) {
	t := &models.Team{}
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Limit, &t.Enabled, &t.CreatedAt, &t.CreatedBy); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, team *models.Team) error {
	query :=
		`INSERT INTO teams (id, name, slug, "limit", enabled, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		team.ID, team.Name, team.Slug, team.Limit, team.Enabled, team.CreatedAt, team.CreatedBy)
	if err != nil {
		return dbx.Wrap(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id models.TeamID) (*models.Team, error) {
	t, err := scanTeam(r.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return t, nil
}

func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*models.Team, error) {
	t, err := scanTeam(r.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE slug = $1`, slug))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return t, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.Team, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		teams = append(teams, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return teams, nil
}

func (r *PostgresRepository) Update(ctx context.Context, team *models.Team) error {
	query := `UPDATE teams SET name = $2, slug = $3, "limit" = $4, enabled = $5 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, team.ID, team.Name, team.Slug, team.Limit, team.Enabled)
	if err != nil {
		return dbx.Wrap(err)
	}
	return dbx.RequireRows(res)
}

// Delete removes the team row only; memberships and uploads go first.
func (r *PostgresRepository) Delete(ctx context.Context, id models.TeamID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) GetMember(ctx context.Context, team models.TeamID, user models.UserID) (*models.TeamMember, error) {
	query :=
		`SELECT team_id, user_id, can_edit, can_delete, can_config
		 FROM team_members
		 WHERE team_id = $1 AND user_id = $2`

	m := &models.TeamMember{}
	err := r.db.QueryRowContext(ctx, query, team, user).
		Scan(&m.Team, &m.User, &m.CanEdit, &m.CanDelete, &m.CanConfig)
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return m, nil
}

func (r *PostgresRepository) Members(ctx context.Context, team models.TeamID) ([]models.TeamMemberInfo, error) {
	query :=
		`SELECT tm.team_id, tm.user_id, tm.can_edit, tm.can_delete, tm.can_config, u.username, u.name
		 FROM team_members tm
		 JOIN users u ON u.id = tm.user_id
		 WHERE tm.team_id = $1
		 ORDER BY u.username`

	rows, err := r.db.QueryContext(ctx, query, team)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var members []models.TeamMemberInfo
	for rows.Next() {
		var m models.TeamMemberInfo
		if err := rows.Scan(&m.Team, &m.User, &m.CanEdit, &m.CanDelete, &m.CanConfig, &m.Username, &m.Name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return members, nil
}

func (r *PostgresRepository) MembershipsForUser(ctx context.Context, user models.UserID) ([]models.TeamMembership, error) {
	query :=
		`SELECT tm.team_id, tm.user_id, tm.can_edit, tm.can_delete, tm.can_config, t.name, t.slug, t.enabled
		 FROM team_members tm
		 JOIN teams t ON t.id = tm.team_id
		 WHERE tm.user_id = $1
		 ORDER BY t.name`

	rows, err := r.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var memberships []models.TeamMembership
	for rows.Next() {
		var m models.TeamMembership
		if err := rows.Scan(&m.Team, &m.User, &m.CanEdit, &m.CanDelete, &m.CanConfig, &m.TeamName, &m.TeamSlug, &m.TeamEnabled); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return memberships, nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, member models.TeamMember) error {
	query :=
		`INSERT INTO team_members (team_id, user_id, can_edit, can_delete, can_config)
		 VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, member.Team, member.User, member.CanEdit, member.CanDelete, member.CanConfig)
	if err != nil {
		return dbx.Wrap(err)
	}
	return nil
}

func (r *PostgresRepository) RemoveMember(ctx context.Context, team models.TeamID, user models.UserID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, team, user)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) RemoveMembersForUser(ctx context.Context, user models.UserID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM team_members WHERE user_id = $1`, user); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveMembersForTeam(ctx context.Context, team models.TeamID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1`, team); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// BatchUpdatePermissions updates the capabilities of many members of one team
// in a single statement. Rows for other teams are ignored.
func (r *PostgresRepository) BatchUpdatePermissions(ctx context.Context, team models.TeamID, rows []models.MemberPermissions) error {
	if len(rows) == 0 {
		return nil
	}

	var values []string
	args := []any{team}
	for _, row := range rows {
		n := len(args)
		values = append(values, fmt.Sprintf("($%d::uuid, $%d::boolean, $%d::boolean, $%d::boolean)", n+1, n+2, n+3, n+4))
		args = append(args, row.User, row.CanEdit, row.CanDelete, row.CanConfig)
	}

	query :=
		`UPDATE team_members AS tm
		 SET can_edit = v.can_edit, can_delete = v.can_delete, can_config = v.can_config
		 FROM (VALUES ` + strings.Join(values, ", ") + `) AS v (user_id, can_edit, can_delete, can_config)
		 WHERE tm.team_id = $1 AND tm.user_id = v.user_id`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// JoinTeamsBatch adds user to several teams with one multi-row insert.
func (r *PostgresRepository) JoinTeamsBatch(ctx context.Context, user models.UserID, rows []models.MemberPermissions) error {
	if len(rows) == 0 {
		return nil
	}

	q := r.qb().Insert("team_members").
		Columns("team_id", "user_id", "can_edit", "can_delete", "can_config")
	for _, row := range rows {
		q = q.Values(row.Team, user, row.CanEdit, row.CanDelete, row.CanConfig)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return dbx.Wrap(err)
	}
	return nil
}
