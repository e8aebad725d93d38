package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
)

const apiKeyBytes = 32

type ApiKeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewApiKeyService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *ApiKeyService {
	return &ApiKeyService{
		db:          db,
		repomanager: m,
		log:         log.With("module", "apikeys"),
		now:         time.Now,
	}
}

// Create issues a new key for the actor. The code is only readable here and
// in the owner's key list.
func (s *ApiKeyService) Create(ctx context.Context, actor *models.User, name string) (*models.ApiKey, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, validationError("key name must be between 1 and 100 characters")
	}

	code, err := common.MakeRandHexString(apiKeyBytes)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to generate api key")
	}

	createdBy := actor.ID
	key := &models.ApiKey{
		ID:        ids.New[models.ApiKeyKind](),
		Owner:     actor.ID,
		Code:      code,
		Name:      name,
		Enabled:   true,
		CreatedAt: s.now().UTC(),
		CreatedBy: &createdBy,
	}
	if err := s.repomanager.ApiKeys(s.db).Create(ctx, key); err != nil {
		return nil, internalError(ctx, s.log, err, "unable to create api key", "user_id", actor.ID.String())
	}
	s.log.Info(ctx, "api key created", "key_id", key.ID.String(), "user_id", actor.ID.String())
	return key, nil
}

func (s *ApiKeyService) List(ctx context.Context, actor *models.User) ([]models.ApiKey, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	keys, err := s.repomanager.ApiKeys(s.db).ListForUser(ctx, actor.ID)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list api keys", "user_id", actor.ID.String())
	}
	return keys, nil
}

func (s *ApiKeyService) SetEnabled(ctx context.Context, actor *models.User, id models.ApiKeyID, enabled bool) error {
	if err := s.requireOwner(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repomanager.ApiKeys(s.db).SetEnabled(ctx, id, enabled); err != nil {
		return internalError(ctx, s.log, err, "unable to update api key", "key_id", id.String())
	}
	return nil
}

func (s *ApiKeyService) Delete(ctx context.Context, actor *models.User, id models.ApiKeyID) error {
	if err := s.requireOwner(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repomanager.ApiKeys(s.db).Delete(ctx, id); err != nil {
		return internalError(ctx, s.log, err, "unable to delete api key", "key_id", id.String())
	}
	s.log.Info(ctx, "api key deleted", "key_id", id.String(), "by", actor.ID.String())
	return nil
}

// Authenticate resolves a key code to its enabled owner and records the use.
func (s *ApiKeyService) Authenticate(ctx context.Context, code string) (*models.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, common.ErrorUnauthorized
	}

	keys := s.repomanager.ApiKeys(s.db)
	key, err := keys.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, s.log, err, "unable to get api key")
	}
	if !key.Enabled {
		s.log.Info(ctx, "disabled api key used", "key_id", key.ID.String())
		return nil, common.ErrorUnauthorized
	}

	user, err := s.repomanager.Users(s.db).Get(ctx, key.Owner)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, s.log, err, "unable to get api key owner", "user_id", key.Owner.String())
	}
	if !user.Enabled {
		return nil, common.ErrorDisabled
	}

	if err := keys.RecordLastUse(ctx, key.ID); err != nil {
		s.log.Warn(ctx, "unable to record api key use", "key_id", key.ID.String(), "error", err)
	}
	return user, nil
}

func (s *ApiKeyService) requireOwner(ctx context.Context, actor *models.User, id models.ApiKeyID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	key, err := s.repomanager.ApiKeys(s.db).Get(ctx, id)
	if err != nil {
		return internalError(ctx, s.log, err, "unable to get api key", "key_id", id.String())
	}
	if key.Owner != actor.ID && !actor.Admin {
		return common.ErrorForbidden
	}
	return nil
}
