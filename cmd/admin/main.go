package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/server"
	"github.com/BlakeRain/parcel-sub000/internal/server/admin"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/config"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
	"github.com/BlakeRain/parcel-sub000/internal/server/services"
)

// commandArgs returns the command and its arguments, skipping the config
// flags in front of it (-a value, -log-level=debug, ...).
func commandArgs(args []string) []string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return args[i:]
		}
		if !strings.Contains(arg, "=") && i+1 < len(args) && !isBoolFlag(arg) {
			i++
		}
	}
	return nil
}

func isBoolFlag(arg string) bool {
	return strings.TrimLeft(arg, "-") == "trust-proxy"
}

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	logger, closer, err := server.NewLogger(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closer.Close()

	db, err := dbx.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		log.Fatalf("%v", err)
	}

	store, err := cache.New(cfg.CacheDir)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cmds := &admin.Commands{
		Users:         services.NewUserService(db, rm, store, logger),
		Uploads:       services.NewUploadService(db, rm, store, nil, logger),
		Attempts:      services.NewAuthService(db, rm, cfg, nil, logger),
		Migrate:       func(ctx context.Context) error { return migrate(ctx, rm, db) },
		LockoutWindow: cfg.LockoutWindow,
		In:            bufio.NewReader(os.Stdin),
		Out:           os.Stdout,
	}

	if err := cmds.Run(ctx, commandArgs(os.Args[1:])); err != nil {
		if errors.Is(err, admin.ErrUsage) || errors.Is(err, flag.ErrHelp) {
			log.Printf("%v", err)
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}

}

func migrate(ctx context.Context, rm repomanager.RepositoryManager, db *sql.DB) error {
	return rm.RunMigrations(ctx, db)
}
