package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
)

// pingAttempts bounds how long Open waits for the database to come up.
const pingAttempts = 6

// Open connects to PostgreSQL through the pgx stdlib driver and waits for the
// server to answer a ping, backing off exponentially between attempts.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := ping(ctx, db, retry.NewExponential(250*time.Millisecond)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, backoff retry.Backoff) error {
	backoff = retry.WithMaxRetries(pingAttempts-1, backoff)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("db ping error: %w", err)
	}
	return nil
}
