package users

import (
	"context"
	"fmt"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, username, name, password, totp, enabled, admin, "limit",
		 created_at, created_by, last_access, default_order, default_asc`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner, extra ...any) (*models.User, error) {
	u := &models.User{}
	dest := []any{
		&u.ID, &u.Username, &u.Name, &u.Password, &u.TotpSecret, &u.Enabled, &u.Admin, &u.Limit,
		&u.CreatedAt, &u.CreatedBy, &u.LastAccess, &u.DefaultOrder, &u.DefaultAsc,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) error {
	query :=
		`INSERT INTO users (id, username, name, password, totp, enabled, admin, "limit", created_at, created_by, default_order, default_asc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	if user.DefaultOrder == "" {
		user.DefaultOrder = models.OrderUploadedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Name, user.Password, user.TotpSecret, user.Enabled, user.Admin,
		user.Limit, user.CreatedAt, user.CreatedBy, user.DefaultOrder, user.DefaultAsc)
	if err != nil {
		return dbx.Wrap(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id models.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return u, nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return u, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]models.UserListItem, error) {
	query :=
		`SELECT u.id, u.username, u.name, u.password, u.totp, u.enabled, u.admin, u."limit",
		        u.created_at, u.created_by, u.last_access, u.default_order, u.default_asc,
		        COUNT(up.id), COALESCE(SUM(up.size), 0)
		 FROM users u
		 LEFT JOIN uploads up ON up.owner_user = u.id
		 GROUP BY u.id
		 ORDER BY u.username`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []models.UserListItem
	for rows.Next() {
		var count, size int64
		u, err := scanUser(rows, &count, &size)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		items = append(items, models.UserListItem{User: *u, UploadCount: count, UploadSize: size})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// IdentityExists reports whether name is taken by a user or a team, since
// usernames and team slugs share one namespace.
func (r *PostgresRepository) IdentityExists(ctx context.Context, name string) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)
		     OR EXISTS (SELECT 1 FROM teams WHERE slug = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Update(ctx context.Context, user *models.User) error {
	query :=
		`UPDATE users SET username = $2, name = $3, enabled = $4, admin = $5, "limit" = $6
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.Name, user.Enabled, user.Admin, user.Limit)
	if err != nil {
		return dbx.Wrap(err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) SetPassword(ctx context.Context, id models.UserID, p password.Stored) error {
	return r.exec(ctx, `UPDATE users SET password = $2 WHERE id = $1`, id, p)
}

func (r *PostgresRepository) SetTotp(ctx context.Context, id models.UserID, secret string) error {
	return r.exec(ctx, `UPDATE users SET totp = $2 WHERE id = $1`, id, secret)
}

func (r *PostgresRepository) RemoveTotp(ctx context.Context, id models.UserID) error {
	return r.exec(ctx, `UPDATE users SET totp = NULL WHERE id = $1`, id)
}

func (r *PostgresRepository) SetDefaultOrder(ctx context.Context, id models.UserID, order models.UploadOrder, asc bool) error {
	return r.exec(ctx, `UPDATE users SET default_order = $2, default_asc = $3 WHERE id = $1`, id, order, asc)
}

func (r *PostgresRepository) RecordLastAccess(ctx context.Context, id models.UserID, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET last_access = $2 WHERE id = $1`, id, at)
}

// Delete removes the user row only. Memberships, uploads and API keys must be
// removed by the caller first.
func (r *PostgresRepository) Delete(ctx context.Context, id models.UserID) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) Stats(ctx context.Context) (models.UserStats, error) {
	query :=
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE enabled),
		        COUNT(*) FILTER (WHERE admin),
		        COUNT(*) FILTER (WHERE totp IS NOT NULL)
		 FROM users`

	var s models.UserStats
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.Total, &s.Enabled, &s.Admins, &s.WithTotp); err != nil {
		return models.UserStats{}, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}
