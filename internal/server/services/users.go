package services

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/dbx"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/auth"
	"github.com/BlakeRain/parcel-sub000/internal/server/cache"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
)

// UserService administers user accounts.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *cache.Store
	log         logging.Logger
	now         func() time.Time
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, store *cache.Store, log logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		store:       store,
		log:         log.With("module", "users"),
		now:         time.Now,
	}
}

// RequiresSetup reports whether no user exists yet.
func (s *UserService) RequiresSetup(ctx context.Context) (bool, error) {
	n, err := s.repomanager.Users(s.db).Count(ctx)
	if err != nil {
		return false, internalError(ctx, s.log, err, "unable to count users")
	}
	return n == 0, nil
}

// Setup creates the first, enabled admin account. It fails with
// common.ErrorConflict once any user exists.
func (s *UserService) Setup(ctx context.Context, username, plain string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if err := validateIdentity("username", username); err != nil {
		return nil, err
	}
	if err := validatePassword(plain); err != nil {
		return nil, err
	}

	stored, err := password.New(plain)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to hash password")
	}

	user := &models.User{
		ID:           ids.New[models.UserKind](),
		Username:     username,
		Name:         username,
		Password:     stored,
		Enabled:      true,
		Admin:        true,
		CreatedAt:    s.now().UTC(),
		DefaultOrder: models.OrderUploadedAt,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return common.ErrorConflict
		}
		return repo.Create(ctx, user)
	})
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to create initial user", "username", username)
	}

	s.log.Info(ctx, "initial admin created", "user_id", user.ID.String(), "username", username)
	return user, nil
}

// NewUser is an admin request to create an account.
type NewUser struct {
	Username string
	Name     string
	Password string
	Enabled  bool
	Admin    bool
	Limit    *int64
	Teams    []models.MemberPermissions
}

// CreateUser creates an account and joins it to the requested teams in one
// batch.
func (s *UserService) CreateUser(ctx context.Context, actor *models.User, req NewUser) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)
	if err := validateIdentity("username", username); err != nil {
		return nil, err
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	if err := validateLimit("upload limit", req.Limit); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}

	stored, err := password.New(req.Password)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to hash password")
	}

	createdBy := actor.ID
	user := &models.User{
		ID:           ids.New[models.UserKind](),
		Username:     username,
		Name:         name,
		Password:     stored,
		Enabled:      req.Enabled,
		Admin:        req.Admin,
		Limit:        req.Limit,
		CreatedAt:    s.now().UTC(),
		CreatedBy:    &createdBy,
		DefaultOrder: models.OrderUploadedAt,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.checkIdentityFree(ctx, tx, username); err != nil {
			return err
		}
		if err := s.repomanager.Users(tx).Create(ctx, user); err != nil {
			return err
		}
		return s.repomanager.Teams(tx).JoinTeamsBatch(ctx, user.ID, req.Teams)
	})
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to create user", "username", username)
	}

	s.log.Info(ctx, "user created", "user_id", user.ID.String(), "username", username, "by", actor.ID.String())
	return user, nil
}

// checkIdentityFree fails with common.ErrorConflict when name is taken by a
// user or a team.
func (s *UserService) checkIdentityFree(ctx context.Context, db dbx.DBTX, name string) error {
	return identityFree(ctx, s.repomanager, db, name)
}

func identityFree(ctx context.Context, m repomanager.RepositoryManager, db dbx.DBTX, name string) error {
	exists, err := m.Users(db).IdentityExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return common.ErrorConflict
	}
	return nil
}

// CheckUsername reports whether name is free in the identity namespace.
func (s *UserService) CheckUsername(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if err := validateIdentity("username", name); err != nil {
		return false, err
	}
	exists, err := s.repomanager.Users(s.db).IdentityExists(ctx, name)
	if err != nil {
		return false, internalError(ctx, s.log, err, "unable to check username", "username", name)
	}
	return !exists, nil
}

// UpdateUser is an admin edit of an account. An empty Name keeps the
// current one.
type UpdateUser struct {
	Username string
	Name     string
	Enabled  bool
	Admin    bool
	Limit    *int64
}

func (s *UserService) UpdateUser(ctx context.Context, actor *models.User, id models.UserID, req UpdateUser) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(req.Username)
	if err := validateIdentity("username", username); err != nil {
		return nil, err
	}
	if err := validateLimit("upload limit", req.Limit); err != nil {
		return nil, err
	}
	if id == actor.ID && (!req.Enabled || !req.Admin) {
		return nil, validationError("you cannot disable or demote yourself")
	}

	var user *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		var err error
		if user, err = repo.Get(ctx, id); err != nil {
			return err
		}
		if user.Username != username {
			if err := s.checkIdentityFree(ctx, tx, username); err != nil {
				return err
			}
		}
		user.Username = username
		if name := strings.TrimSpace(req.Name); name != "" {
			user.Name = name
		}
		user.Enabled = req.Enabled
		user.Admin = req.Admin
		user.Limit = req.Limit
		return repo.Update(ctx, user)
	})
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to update user", "user_id", id.String())
	}
	return user, nil
}

// SetEnabled enables or disables an account.
func (s *UserService) SetEnabled(ctx context.Context, actor *models.User, id models.UserID, enabled bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if id == actor.ID && !enabled {
		return validationError("you cannot disable yourself")
	}
	repo := s.repomanager.Users(s.db)
	user, err := repo.Get(ctx, id)
	if err != nil {
		return internalError(ctx, s.log, err, "unable to get user", "user_id", id.String())
	}
	user.Enabled = enabled
	if err := repo.Update(ctx, user); err != nil {
		return internalError(ctx, s.log, err, "unable to update user", "user_id", id.String())
	}
	s.log.Info(ctx, "user enabled state changed", "user_id", id.String(), "enabled", enabled)
	return nil
}

// SetPassword replaces a password. Users change their own after proving the
// current one; admins may reset anyone's.
func (s *UserService) SetPassword(ctx context.Context, actor *models.User, id models.UserID, current, next string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	repo := s.repomanager.Users(s.db)
	if id == actor.ID {
		if !actor.Password.Verify(current) {
			return validationError("current password is incorrect")
		}
	} else if !actor.Admin {
		return common.ErrorForbidden
	}

	stored, err := password.New(next)
	if err != nil {
		return internalError(ctx, s.log, err, "unable to hash password")
	}
	if err := repo.SetPassword(ctx, id, stored); err != nil {
		return internalError(ctx, s.log, err, "unable to set password", "user_id", id.String())
	}
	s.log.Info(ctx, "password changed", "user_id", id.String(), "by", actor.ID.String())
	return nil
}

// TotpEnrollment is a generated secret waiting to be confirmed.
type TotpEnrollment struct {
	Secret string
	URL    string
}

// BeginTotp generates a secret for the actor. Nothing is stored until
// ConfirmTotp proves the authenticator produces matching codes.
func (s *UserService) BeginTotp(ctx context.Context, actor *models.User) (*TotpEnrollment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	key, err := auth.NewTOTPKey(actor.Username)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to generate totp secret", "user_id", actor.ID.String())
	}
	return &TotpEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTotp stores secret once code matches it.
func (s *UserService) ConfirmTotp(ctx context.Context, actor *models.User, secret, code string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	ok, err := auth.ValidateTOTP(code, secret, s.now())
	if err != nil {
		return validationError("invalid totp secret")
	}
	if !ok {
		return validationError("the code does not match")
	}
	if err := s.repomanager.Users(s.db).SetTotp(ctx, actor.ID, secret); err != nil {
		return internalError(ctx, s.log, err, "unable to store totp secret", "user_id", actor.ID.String())
	}
	actor.TotpSecret = &secret
	s.log.Info(ctx, "totp enabled", "user_id", actor.ID.String())
	return nil
}

// RemoveTotp turns off the second factor for the actor, or for anyone when
// the actor is an admin.
func (s *UserService) RemoveTotp(ctx context.Context, actor *models.User, id models.UserID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if id != actor.ID && !actor.Admin {
		return common.ErrorForbidden
	}
	if err := s.repomanager.Users(s.db).RemoveTotp(ctx, id); err != nil {
		return internalError(ctx, s.log, err, "unable to remove totp", "user_id", id.String())
	}
	s.log.Info(ctx, "totp removed", "user_id", id.String(), "by", actor.ID.String())
	return nil
}

// DeleteUser removes an account and everything it owns. Dependent rows go
// explicitly inside one transaction; cache files are swept afterwards.
func (s *UserService) DeleteUser(ctx context.Context, actor *models.User, id models.UserID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if id == actor.ID {
		return validationError("you cannot delete yourself")
	}

	var slugs []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Teams(tx).RemoveMembersForUser(ctx, id); err != nil {
			return err
		}
		if err := s.repomanager.ApiKeys(tx).DeleteForUser(ctx, id); err != nil {
			return err
		}
		var err error
		if slugs, err = s.repomanager.Uploads(tx).DeleteForUser(ctx, id); err != nil {
			return err
		}
		if err := s.repomanager.Tags(tx).DeleteForOwner(ctx, models.UserOwner(id)); err != nil {
			return err
		}
		return s.repomanager.Users(tx).Delete(ctx, id)
	})
	if err != nil {
		return internalError(ctx, s.log, err, "unable to delete user", "user_id", id.String())
	}

	if err := s.store.RemoveAll(slugs); err != nil {
		s.log.Warn(ctx, "unable to remove cache files of deleted user", "user_id", id.String(), "error", err)
	}
	s.log.Info(ctx, "user deleted", "user_id", id.String(), "uploads", len(slugs), "by", actor.ID.String())
	return nil
}

// List returns every user with upload totals.
func (s *UserService) List(ctx context.Context, actor *models.User) ([]models.UserListItem, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to list users")
	}
	return users, nil
}

func (s *UserService) Stats(ctx context.Context, actor *models.User) (models.UserStats, error) {
	if err := requireAdmin(actor); err != nil {
		return models.UserStats{}, err
	}
	stats, err := s.repomanager.Users(s.db).Stats(ctx)
	if err != nil {
		return models.UserStats{}, internalError(ctx, s.log, err, "unable to get user stats")
	}
	return stats, nil
}

func validatePassword(plain string) error {
	if len(plain) < 8 {
		return validationError("password must be at least 8 characters")
	}
	if len(plain) > 1024 {
		return validationError("password is too long")
	}
	return nil
}
