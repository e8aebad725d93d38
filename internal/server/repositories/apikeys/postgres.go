package apikeys

import (
	"context"
	"fmt"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const keyColumns = `id, owner, code, name, enabled, created_at, created_by, last_used`

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*models.ApiKey, error) {
	k := &models.ApiKey{}
	if err := row.Scan(&k.ID, &k.Owner, &k.Code, &k.Name, &k.Enabled, &k.CreatedAt, &k.CreatedBy, &k.LastUsed); err != nil {
		return nil, err
	}
	return k, nil
}

func (r *PostgresRepository) Create(ctx context.Context, key *models.ApiKey) error {
	query :=
		`INSERT INTO api_keys (id, owner, code, name, enabled, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query, key.ID, key.Owner, key.Code, key.Name, key.Enabled, key.CreatedAt, key.CreatedBy)
	if err != nil {
		return dbx.Wrap(err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id models.ApiKeyID) (*models.ApiKey, error) {
	k, err := scanKey(r.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return k, nil
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (*models.ApiKey, error) {
	k, err := scanKey(r.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE code = $1`, code))
	if err != nil {
		return nil, dbx.Wrap(err)
	}
	return k, nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, owner models.UserID) ([]models.ApiKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []models.ApiKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return keys, nil
}

func (r *PostgresRepository) SetEnabled(ctx context.Context, id models.ApiKeyID, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) RecordLastUse(ctx context.Context, id models.ApiKeyID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id models.ApiKeyID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.RequireRows(res)
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, owner models.UserID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE owner = $1`, owner); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
