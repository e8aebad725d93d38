package services

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/access"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sethvargo/go-retry"
)

const (
	slugAttempts    = 5
	maxListLimit    = 100
	defaultListSize = 50
)

var errSlugTaken = errors.New("slug already taken")

// UploadService manages uploads and their cache files. The database row and
// CACHE_DIR/{slug} are kept in step: a failed insert removes the file, and a
// delete removes the file after the row is gone.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	access      *access.Checker
	store       *cache.Store
	previews    PreviewQueue
	log         logging.Logger

	now     func() time.Time
	newSlug func() (string, error)
}

func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, store *cache.Store, previews PreviewQueue, log logging.Logger) *UploadService {
	log = log.With("module", "uploads")
	return &UploadService{
		db:          db,
		repomanager: m,
		access:      access.NewChecker(m.Teams(db), log),
		store:       store,
		previews:    previews,
		log:         log,
		now:         time.Now,
		newSlug:     func() (string, error) { return gonanoid.New() },
	}
}

// WithClock replaces the clock used for timestamps and expiry checks.
func (s *UploadService) WithClock(now func() time.Time) *UploadService {
	s.now = now
	s.access.WithClock(now)
	return s
}

// CreateUpload describes a new upload. Body is streamed into the cache.
type CreateUpload struct {
	Owner      models.Owner
	Filename   string
	Body       io.Reader
	Public     bool
	Limit      *int64
	Expiry     *time.Time
	Password   *string
	CustomSlug *string
	Tags       []string
	RemoteAddr *string
}

// Create stores a new upload owned by req.Owner on behalf of actor.
func (s *UploadService) Create(ctx context.Context, actor *models.User, req CreateUpload) (*models.Upload, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !req.Owner.IsValid() {
		return nil, validationError("upload owner must be a user or a team")
	}
	filename, err := validateFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	if err := validateLimit("download limit", req.Limit); err != nil {
		return nil, err
	}
	customSlug, err := normalizeCustomSlug(req.CustomSlug)
	if err != nil {
		return nil, err
	}
	tagNames, err := normalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	quota, err := s.ownerQuota(ctx, actor, req.Owner)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Uploads(s.db)
	if customSlug != nil {
		exists, err := repo.CustomSlugExists(ctx, req.Owner, *customSlug, nil)
		if err != nil {
			return nil, internalError(ctx, s.log, err, "unable to check custom slug", "owner", req.Owner.String())
		}
		if exists {
			return nil, common.ErrorConflict
		}
	}

	var stored *password.Stored
	if req.Password != nil && *req.Password != "" {
		p, err := password.New(*req.Password)
		if err != nil {
			return nil, internalError(ctx, s.log, err, "unable to hash upload password")
		}
		stored = &p
	}

	slug, err := s.generateSlug(ctx)
	if err != nil {
		return nil, err
	}

	size, err := s.store.Write(slug, req.Body, quota)
	if err != nil {
		if errors.Is(err, cache.ErrTooLarge) {
			return nil, validationError("upload exceeds limit")
		}
		return nil, internalError(ctx, s.log, err, "unable to write upload to cache", "slug", slug)
	}

	uploader := actor.ID
	upload := &models.Upload{
		ID:         ids.New[models.UploadKind](),
		Slug:       slug,
		Filename:   filename,
		Size:       size,
		Public:     req.Public,
		Limit:      req.Limit,
		Remaining:  req.Limit,
		ExpiryDate: req.Expiry,
		Password:   stored,
		CustomSlug: customSlug,
		Owner:      req.Owner,
		UploadedBy: &uploader,
		UploadedAt: s.now().UTC(),
		RemoteAddr: req.RemoteAddr,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Uploads(tx).Create(ctx, upload); err != nil {
			return err
		}
		return s.replaceTags(ctx, tx, upload, tagNames)
	})
	if err != nil {
		if rerr := s.store.Remove(slug); rerr != nil {
			s.log.Warn(ctx, "unable to remove cache file after failed insert", "slug", slug, "error", rerr)
		}
		return nil, internalError(ctx, s.log, err, "unable to insert upload", "slug", slug)
	}

	s.log.Info(ctx, "upload created", "upload_id", upload.ID.String(), "slug", slug, "size", size)
	s.requestPreview(ctx, upload.ID)
	return upload, nil
}

// ownerQuota authorizes uploading for owner and returns the bytes still
// available under the owner's limit, or 0 when unlimited.
func (s *UploadService) ownerQuota(ctx context.Context, actor *models.User, owner models.Owner) (int64, error) {
	var limit *int64

	if userID, ok := owner.User(); ok {
		if userID != actor.ID && !actor.Admin {
			return 0, common.ErrorForbidden
		}
		limit = actor.Limit
		if userID != actor.ID {
			user, err := s.repomanager.Users(s.db).Get(ctx, userID)
			if err != nil {
				return 0, internalError(ctx, s.log, err, "unable to get upload owner", "user_id", userID.String())
			}
			limit = user.Limit
		}
	}

	if teamID, ok := owner.Team(); ok {
		teams := s.repomanager.Teams(s.db)
		team, err := teams.Get(ctx, teamID)
		if err != nil {
			return 0, internalError(ctx, s.log, err, "unable to get team", "team_id", teamID.String())
		}
		if !team.Enabled {
			return 0, common.ErrorForbidden
		}
		if !actor.Admin {
			if _, err := teams.GetMember(ctx, teamID, actor.ID); err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					s.log.Info(ctx, "upload to team by non-member", "user_id", actor.ID.String(), "team_id", teamID.String())
					return 0, common.ErrorForbidden
				}
				return 0, internalError(ctx, s.log, err, "unable to check team membership", "team_id", teamID.String())
			}
		}
		limit = team.Limit
	}

	if limit == nil {
		return 0, nil
	}
	stats, err := s.repomanager.Uploads(s.db).Stats(ctx, &owner)
	if err != nil {
		return 0, internalError(ctx, s.log, err, "unable to get upload stats", "owner", owner.String())
	}
	left := *limit - stats.Size
	if left <= 0 {
		return 0, validationError("upload limit reached")
	}
	return left, nil
}

// generateSlug draws opaque slugs until one is unused. Collisions are
// practically impossible with 21 nanoid characters but are still retried.
func (s *UploadService) generateSlug(ctx context.Context) (string, error) {
	var slug string
	backoff := retry.WithMaxRetries(slugAttempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		candidate, err := s.newSlug()
		if err != nil {
			return err
		}
		existing, err := s.repomanager.Uploads(s.db).GetExistingSlugs(ctx, []string{candidate})
		if err != nil {
			return err
		}
		if _, taken := existing[candidate]; taken || s.store.Exists(candidate) {
			s.log.Info(ctx, "slug already exists, generating a new one", "slug", candidate)
			return retry.RetryableError(errSlugTaken)
		}
		slug = candidate
		return nil
	})
	if err != nil {
		return "", internalError(ctx, s.log, err, "unable to generate upload slug")
	}
	return slug, nil
}

func (s *UploadService) replaceTags(ctx context.Context, tx dbx.DBTX, upload *models.Upload, names []string) error {
	var tagIDs []models.TagID
	if len(names) > 0 {
		tags, err := s.repomanager.Tags(tx).Ensure(ctx, upload.Owner, names)
		if err != nil {
			return err
		}
		for _, t := range tags {
			tagIDs = append(tagIDs, t.ID)
		}
	}
	return s.repomanager.Tags(tx).ReplaceForUpload(ctx, upload.ID, tagIDs)
}

func (s *UploadService) requestPreview(ctx context.Context, uploadIDs ...models.UploadID) {
	if s.previews == nil || len(uploadIDs) == 0 {
		return
	}
	if !s.previews.Send(uploadIDs) {
		s.log.Warn(ctx, "preview queue full, request dropped", "count", len(uploadIDs))
	}
}

// EditUpload holds the editable fields. Password is only read when
// HasPassword is set; a nil or empty Password keeps the existing hash. A nil
// Tags leaves the tags untouched.
type EditUpload struct {
	Filename    string
	Public      bool
	Limit       *int64
	Expiry      *time.Time
	HasPassword bool
	Password    *string
	CustomSlug  *string
	Tags        []string
}

// Edit applies req to the upload. Changing the limit resets the remaining
// downloads to the new limit.
func (s *UploadService) Edit(ctx context.Context, actor *models.User, id models.UploadID, req EditUpload) (*models.Upload, error) {
	upload, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(ctx, upload, actor, access.ActionEdit); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to check edit permission", "upload_id", id.String())
	}

	filename, err := validateFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	if err := validateLimit("download limit", req.Limit); err != nil {
		return nil, err
	}
	customSlug, err := normalizeCustomSlug(req.CustomSlug)
	if err != nil {
		return nil, err
	}
	var tagNames []string
	if req.Tags != nil {
		if tagNames, err = normalizeTags(req.Tags); err != nil {
			return nil, err
		}
	}

	switch {
	case !req.HasPassword:
		upload.Password = nil
	case req.Password != nil && *req.Password != "":
		p, err := password.New(*req.Password)
		if err != nil {
			return nil, internalError(ctx, s.log, err, "unable to hash upload password")
		}
		upload.Password = &p
	case upload.Password == nil:
		return nil, validationError("a password is required to protect the upload")
	}

	if customSlug != nil && (upload.CustomSlug == nil || *upload.CustomSlug != *customSlug) {
		exists, err := s.repomanager.Uploads(s.db).CustomSlugExists(ctx, upload.Owner, *customSlug, &upload.ID)
		if err != nil {
			return nil, internalError(ctx, s.log, err, "unable to check custom slug", "upload_id", id.String())
		}
		if exists {
			return nil, common.ErrorConflict
		}
	}

	if !equalInt64Ptr(upload.Limit, req.Limit) {
		upload.Remaining = nil
		if req.Limit != nil {
			remaining := *req.Limit
			upload.Remaining = &remaining
		}
	}
	upload.Filename = filename
	upload.Public = req.Public
	upload.Limit = req.Limit
	upload.ExpiryDate = req.Expiry
	upload.CustomSlug = customSlug

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Uploads(tx).Update(ctx, upload); err != nil {
			return err
		}
		if req.Tags == nil {
			return nil
		}
		return s.replaceTags(ctx, tx, upload, tagNames)
	})
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to update upload", "upload_id", id.String())
	}

	s.log.Info(ctx, "upload edited", "upload_id", id.String(), "user_id", actor.ID.String())
	return upload, nil
}

// ResetDownloads restores the remaining download allowance to the limit.
func (s *UploadService) ResetDownloads(ctx context.Context, actor *models.User, id models.UploadID) error {
	upload, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.access.Require(ctx, upload, actor, access.ActionResetDownloads); err != nil {
		return internalError(ctx, s.log, err, "unable to check reset permission", "upload_id", id.String())
	}
	if err := s.repomanager.Uploads(s.db).ResetRemaining(ctx, id); err != nil {
		return internalError(ctx, s.log, err, "unable to reset remaining downloads", "upload_id", id.String())
	}
	return nil
}

// ShareLinks are the paths under which an upload can be fetched.
type ShareLinks struct {
	Slug       string
	CustomPath *string // "{owner_slug}/{custom_slug}"
}

// Share returns the share links of an upload.
func (s *UploadService) Share(ctx context.Context, actor *models.User, id models.UploadID) (*ShareLinks, error) {
	upload, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(ctx, upload, actor, access.ActionShare); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to check share permission", "upload_id", id.String())
	}

	links := &ShareLinks{Slug: upload.Slug}
	if upload.CustomSlug != nil {
		ownerSlug, err := s.ownerSlug(ctx, upload.Owner)
		if err != nil {
			return nil, err
		}
		path := ownerSlug + "/" + *upload.CustomSlug
		links.CustomPath = &path
	}
	return links, nil
}

func (s *UploadService) ownerSlug(ctx context.Context, owner models.Owner) (string, error) {
	if userID, ok := owner.User(); ok {
		user, err := s.repomanager.Users(s.db).Get(ctx, userID)
		if err != nil {
			return "", internalError(ctx, s.log, err, "unable to get upload owner", "user_id", userID.String())
		}
		return user.Username, nil
	}
	teamID, _ := owner.Team()
	team, err := s.repomanager.Teams(s.db).Get(ctx, teamID)
	if err != nil {
		return "", internalError(ctx, s.log, err, "unable to get upload team", "team_id", teamID.String())
	}
	return team.Slug, nil
}

func (s *UploadService) get(ctx context.Context, id models.UploadID) (*models.Upload, error) {
	upload, err := s.repomanager.Uploads(s.db).Get(ctx, id)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to get upload", "upload_id", id.String())
	}
	return upload, nil
}

// Get returns an upload the actor may view.
func (s *UploadService) Get(ctx context.Context, actor *models.User, id models.UploadID) (*models.Upload, error) {
	upload, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.viewable(ctx, upload, actor)
}

// GetBySlug resolves an opaque slug to an upload the actor may view.
func (s *UploadService) GetBySlug(ctx context.Context, actor *models.User, slug string) (*models.Upload, error) {
	upload, err := s.repomanager.Uploads(s.db).GetBySlug(ctx, slug)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to get upload by slug", "slug", slug)
	}
	return s.viewable(ctx, upload, actor)
}

// GetByCustomSlug resolves "{owner_slug}/{custom_slug}" to an upload the
// actor may view.
func (s *UploadService) GetByCustomSlug(ctx context.Context, actor *models.User, ownerSlug, customSlug string) (*models.Upload, error) {
	upload, err := s.repomanager.Uploads(s.db).GetByCustomSlug(ctx, ownerSlug, customSlug)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to get upload by custom slug", "owner_slug", ownerSlug, "custom_slug", customSlug)
	}
	return s.viewable(ctx, upload, actor)
}

func (s *UploadService) viewable(ctx context.Context, upload *models.Upload, actor *models.User) (*models.Upload, error) {
	if err := s.access.Require(ctx, upload, actor, access.ActionView); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to check view permission", "upload_id", upload.ID.String())
	}
	return upload, nil
}

// Tags returns the tag names of an upload the actor may view.
func (s *UploadService) Tags(ctx context.Context, actor *models.User, id models.UploadID) ([]string, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	names, err := s.repomanager.Tags(s.db).ListForUpload(ctx, id)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list upload tags", "upload_id", id.String())
	}
	return names, nil
}
