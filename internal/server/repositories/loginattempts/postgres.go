package loginattempts

import (
	"context"
	"fmt"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query :=
		`INSERT INTO login_attempts (id, username, ip_address, attempted_at, success)
		 VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, attempt.ID, attempt.Username, attempt.IPAddress, attempt.AttemptedAt, attempt.Success)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountRecentFailures(ctx context.Context, username string, since time.Time) (int, error) {
	query :=
		`SELECT COUNT(*)
		 FROM login_attempts
		 WHERE username = $1 AND NOT success AND attempted_at > $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, username, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
