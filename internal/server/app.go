// Package server wires the Parcel server together: configuration, logging,
// the database, the cache directory, the preview worker and the gRPC API.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/auth"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/config"
	"github.com/BlakeRain/parcel-sub000/internal/server/previews"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
	"github.com/BlakeRain/parcel-sub000/internal/server/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	gs "github.com/BlakeRain/parcel-sub000/internal/server/grpc"
)

const (
	challengeKeyPrefix = "parcel:challenge:"
	pruneInterval      = time.Hour
)

type App struct {
	config *config.Config
	logger logging.Logger
	closer io.Closer

	db    *sql.DB
	redis *redis.Client

	auth   *services.AuthService
	worker *previews.Worker
	grpc   *gs.GRPCServer
}

// NewLogger builds the logger described by the logging section of c.
func NewLogger(c *config.Config) (logging.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
		Compress:   c.LogCompress,
	})
}

func NewApp(ctx context.Context, c *config.Config) (app *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := NewLogger(c)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	app = &App{config: c, logger: logger, closer: closer}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	logger.Info(ctx, "Loaded configuration", "config", c.String())

	app.db, err = dbx.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	rm, err := repomanager.NewPostgresRepositoryManager(app.db)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := cache.New(c.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("cache dir error: %w", err)
	}

	previewers, err := previews.LoadConfig(c.PreviewersFile())
	if err != nil {
		return nil, err
	}
	if len(previewers.Previewers) == 0 {
		logger.Warn(ctx, "No previewers configured, preview generation disabled", "file", c.PreviewersFile())
	}

	blacklist, err := app.newBlacklist(ctx)
	if err != nil {
		return nil, err
	}

	app.worker = previews.NewWorker(rm.Uploads(app.db), store, previewers, previews.Options{
		Interval: c.PreviewGenerationInterval,
		MaxSize:  c.MaxPreviewSize,
		Runner:   previews.ExecRunner{Timeout: c.PreviewCommandTimeout},
	}, logger)

	app.auth = services.NewAuthService(app.db, rm, c, blacklist, logger)
	uploads := services.NewUploadService(app.db, rm, store, app.worker, logger)
	teams := services.NewTeamService(app.db, rm, store, logger)
	apiKeys := services.NewApiKeyService(app.db, rm, logger)

	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, logger, app.auth, apiKeys, uploads, teams)
	return app, nil
}

// newBlacklist tracks redeemed TOTP challenges in redis when configured, so
// that several server instances share them.
func (app *App) newBlacklist(ctx context.Context) (auth.Blacklist, error) {
	if app.config.RedisAddr == "" {
		return auth.NewMemoryBlacklist(), nil
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})
	if err := app.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	app.logger.Info(ctx, "Using redis for TOTP challenge tracking", "addr", app.config.RedisAddr)
	return auth.NewRedisBlacklist(app.redis, challengeKeyPrefix), nil
}

// pruneAttempts drops login attempts that fell out of the lockout window.
func (app *App) pruneAttempts(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := app.auth.PruneAttempts(ctx, app.config.LockoutWindow)
			if err != nil {
				app.logger.Error(ctx, "Pruning login attempts failed", "error", err)
				continue
			}
			app.logger.Debug(ctx, "Pruned login attempts", "count", n)
		}
	}
}

// Run serves until SIGINT/SIGTERM or until one of the components fails.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.grpc.Run(gctx)
	})
	g.Go(func() error {
		return app.worker.Run(gctx)
	})
	g.Go(func() error {
		return app.pruneAttempts(gctx)
	})

	err := g.Wait()
	app.worker.Stop()
	app.worker.Wait()

	app.logger.Info(ctx, "App stopped")
	return err
}

// Close releases the database, redis and log file.
func (app *App) Close() error {
	var err error
	if app.redis != nil {
		err = multierr.Append(err, app.redis.Close())
	}
	if app.db != nil {
		err = multierr.Append(err, app.db.Close())
	}
	if app.closer != nil {
		err = multierr.Append(err, app.closer.Close())
	}
	return err
}
