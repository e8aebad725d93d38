// Package admin implements the operator commands of the parcel-admin tool.
package admin

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/services"
)

type Users interface {
	RequiresSetup(ctx context.Context) (bool, error)
	Setup(ctx context.Context, username, plain string) (*models.User, error)
}

type Uploads interface {
	CacheSummary(ctx context.Context) (*services.CacheSummary, error)
	CacheCleanup(ctx context.Context) (*services.CacheCleanupResult, error)
	ClearPreviewError(ctx context.Context, actor *models.User, id models.UploadID) error
}

type Attempts interface {
	PruneAttempts(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ErrUsage is returned for an unknown command or bad arguments.
var ErrUsage = errors.New("usage error")

// operator is the actor for commands run from the shell.
var operator = &models.User{Username: "parcel-admin", Enabled: true, Admin: true}

type Commands struct {
	Users    Users
	Uploads  Uploads
	Attempts Attempts
	Migrate  func(ctx context.Context) error

	LockoutWindow time.Duration

	In  *bufio.Reader
	Out io.Writer
}

const usage = `Usage: parcel-admin <command> [arguments]

Commands:
  setup [-username name] [-password pw]  create the first admin account
  migrate                                apply database migrations
  cache-summary                          count valid and orphaned cache files
  cache-cleanup                          remove orphaned cache files
  clear-preview-error <upload-id>        let the preview worker retry an upload
  prune-login-attempts                   drop login attempts outside the lockout window
`

func (c *Commands) Usage() {
	fmt.Fprint(c.Out, usage)
}

// Run executes the command named by args[0].
func (c *Commands) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.Usage()
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "setup":
		return c.setup(ctx, rest)
	case "migrate":
		return c.migrate(ctx)
	case "cache-summary":
		return c.cacheSummary(ctx)
	case "cache-cleanup":
		return c.cacheCleanup(ctx)
	case "clear-preview-error":
		return c.clearPreviewError(ctx, rest)
	case "prune-login-attempts":
		return c.pruneAttempts(ctx)
	case "help", "-h", "--help":
		c.Usage()
		return nil
	default:
		fmt.Fprintf(c.Out, "unknown command %q\n\n", cmd)
		c.Usage()
		return ErrUsage
	}
}

func (c *Commands) setup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(c.Out)
	username := fs.String("username", "", "admin username")
	password := fs.String("password", "", "admin password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	required, err := c.Users.RequiresSetup(ctx)
	if err != nil {
		return err
	}
	if !required {
		fmt.Fprintln(c.Out, "Setup has already been completed.")
		return nil
	}

	if *username == "" {
		if *username, err = getSimpleText(c.In, "Username", c.Out); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = c.promptNewPassword(); err != nil {
			return err
		}
	}

	user, err := c.Users.Setup(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Created admin %s (%s)\n", user.Username, user.ID)
	return nil
}

func (c *Commands) promptNewPassword() (string, error) {
	pw, err := getPassword("Password", c.Out)
	if err != nil {
		return "", err
	}
	confirm, err := getPassword("Confirm password", c.Out)
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}

func (c *Commands) migrate(ctx context.Context) error {
	if err := c.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Migrations applied.")
	return nil
}

func (c *Commands) cacheSummary(ctx context.Context) error {
	s, err := c.Uploads.CacheSummary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Valid files:    %d (%d bytes)\n", s.ValidFiles, s.ValidBytes)
	fmt.Fprintf(c.Out, "Orphaned files: %d (%d bytes)\n", s.OrphanFiles, s.OrphanBytes)
	return nil
}

func (c *Commands) cacheCleanup(ctx context.Context) error {
	res, err := c.Uploads.CacheCleanup(ctx)
	if res != nil {
		fmt.Fprintf(c.Out, "Removed %d orphaned files (%d bytes)\n", res.Removed, res.RemovedBytes)
		if res.Failed > 0 {
			fmt.Fprintf(c.Out, "Failed to remove %d files\n", res.Failed)
		}
	}
	return err
}

func (c *Commands) clearPreviewError(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: clear-preview-error takes one upload id", ErrUsage)
	}
	id, err := ids.Parse[models.UploadKind](strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("%w: invalid upload id %q", ErrUsage, args[0])
	}
	if err := c.Uploads.ClearPreviewError(ctx, operator, id); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Cleared preview error for %s\n", id)
	return nil
}

func (c *Commands) pruneAttempts(ctx context.Context) error {
	n, err := c.Attempts.PruneAttempts(ctx, c.LockoutWindow)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Pruned %d login attempts\n", n)
	return nil
}
