package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/BlakeRain/parcel-sub000/internal/ids"
	"github.com/BlakeRain/parcel-sub000/internal/logging"
	"github.com/BlakeRain/parcel-sub000/internal/password"
	"github.com/BlakeRain/parcel-sub000/internal/server/auth"
	"github.com/BlakeRain/parcel-sub000/internal/server/config"
	"github.com/BlakeRain/parcel-sub000/internal/server/models"
	"github.com/BlakeRain/parcel-sub000/internal/server/repositories/repomanager"
)

// SignInState is where a sign-in attempt ended up.
type SignInState int

const (
	SignInAuthenticated SignInState = iota + 1
	SignInAwaitingTotp
)

type Credentials struct {
	Username string
	Password string
	Addr     ClientAddr
}

type TotpRequest struct {
	ChallengeToken string
	Code           string
	Addr           ClientAddr
}

// SignInResult carries a session token when authenticated, or a challenge
// token to exchange with VerifyTotp when a second factor is required.
type SignInResult struct {
	State          SignInState
	User           *models.User
	SessionToken   string
	ChallengeToken string
}

// AuthService verifies credentials, enforces the per-username lockout and
// issues session tokens.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blacklist   auth.Blacklist
	log         logging.Logger

	jwtSecret     []byte
	sessionTTL    time.Duration
	challengeTTL  time.Duration
	lockoutLimit  int
	lockoutWindow time.Duration
	trustProxy    bool

	now       func() time.Time
	dummyOnce sync.Once
	dummy     password.Stored
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, blacklist auth.Blacklist, log logging.Logger) *AuthService {
	return &AuthService{
		db:            db,
		repomanager:   m,
		blacklist:     blacklist,
		log:           log.With("module", "auth"),
		jwtSecret:     []byte(cfg.SecretKey),
		sessionTTL:    cfg.SessionTokenValidityDuration,
		challengeTTL:  cfg.ChallengeTokenValidityDuration,
		lockoutLimit:  cfg.LockoutThreshold,
		lockoutWindow: cfg.LockoutWindow,
		trustProxy:    cfg.TrustProxy,
		now:           time.Now,
	}
}

// WithClock replaces the clock used for lockout windows and TOTP.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// SignIn runs the first stage of the sign-in state machine. The lockout is
// checked before the password so a locked account gives no timing signal.
func (s *AuthService) SignIn(ctx context.Context, creds Credentials) (*SignInResult, error) {
	username := strings.TrimSpace(creds.Username)
	ip := creds.Addr.IP(s.trustProxy)

	if err := s.checkLockout(ctx, username); err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, internalError(ctx, s.log, err, "unable to get user by username", "username", username)
		}
		// Spend the same hashing cost as a real account.
		s.dummyVerify(creds.Password)
		return nil, s.fail(ctx, username, ip)
	}

	if !user.Password.Verify(creds.Password) {
		return nil, s.fail(ctx, username, ip)
	}

	if user.Password.NeedsMigration() {
		s.rehash(ctx, user, creds.Password)
	}

	if !user.Enabled {
		s.log.Info(ctx, "sign-in by disabled user", "user_id", user.ID.String())
		return nil, common.ErrorDisabled
	}

	if user.HasTotp() {
		token, err := auth.GenerateChallenge(user.ID.String(), user.Username, s.jwtSecret, s.challengeTTL)
		if err != nil {
			return nil, internalError(ctx, s.log, err, "unable to generate totp challenge", "user_id", user.ID.String())
		}
		return &SignInResult{State: SignInAwaitingTotp, User: user, ChallengeToken: token}, nil
	}

	return s.complete(ctx, user, ip)
}

// VerifyTotp completes a sign-in that is awaiting a second factor. Failures
// count towards the same lockout as password failures, and each challenge
// token can be redeemed once.
func (s *AuthService) VerifyTotp(ctx context.Context, req TotpRequest) (*SignInResult, error) {
	ip := req.Addr.IP(s.trustProxy)

	challenge, err := auth.ParseChallenge(req.ChallengeToken, s.jwtSecret)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}

	if err := s.checkLockout(ctx, challenge.Username); err != nil {
		return nil, err
	}

	revoked, err := s.blacklist.IsRevoked(ctx, challenge.ID)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to check challenge blacklist", "jti", challenge.ID)
	}
	if revoked {
		return nil, common.ErrorUnauthorized
	}

	userID, err := ids.Parse[models.UserKind](challenge.UserID)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	user, err := s.repomanager.Users(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, s.log, err, "unable to get user", "user_id", challenge.UserID)
	}
	if !user.Enabled {
		return nil, common.ErrorDisabled
	}
	if !user.HasTotp() {
		return nil, common.ErrorUnauthorized
	}

	ok, err := auth.ValidateTOTP(req.Code, *user.TotpSecret, s.now())
	if err != nil {
		return nil, internalError(ctx, s.log, err, "stored totp secret is unusable", "user_id", user.ID.String())
	}
	if !ok {
		return nil, s.fail(ctx, challenge.Username, ip)
	}

	first, err := s.blacklist.Revoke(ctx, challenge.ID, challenge.ExpiresAt)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to consume totp challenge", "jti", challenge.ID)
	}
	if !first {
		return nil, common.ErrorUnauthorized
	}

	return s.complete(ctx, user, ip)
}

// Authenticate resolves a session token to an enabled user.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	sub, err := auth.GetUserIDFromToken(token, s.jwtSecret)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	id, err := ids.Parse[models.UserKind](sub)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	user, err := s.repomanager.Users(s.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, internalError(ctx, s.log, err, "unable to get user", "user_id", sub)
	}
	if !user.Enabled {
		return nil, common.ErrorDisabled
	}
	return user, nil
}

// PruneAttempts removes login attempts older than the given age. Attempts
// outside the lockout window no longer affect sign-in.
func (s *AuthService) PruneAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < s.lockoutWindow {
		olderThan = s.lockoutWindow
	}
	n, err := s.repomanager.LoginAttempts(s.db).Prune(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, internalError(ctx, s.log, err, "unable to prune login attempts")
	}
	return n, nil
}

func (s *AuthService) checkLockout(ctx context.Context, username string) error {
	since := s.now().Add(-s.lockoutWindow)
	n, err := s.repomanager.LoginAttempts(s.db).CountRecentFailures(ctx, username, since)
	if err != nil {
		return internalError(ctx, s.log, err, "unable to count login failures", "username", username)
	}
	if n >= s.lockoutLimit {
		s.log.Warn(ctx, "sign-in locked out", "username", username, "failures", n)
		return common.ErrorLockedOut
	}
	return nil
}

// fail records a failed attempt and returns the error the caller sees.
func (s *AuthService) fail(ctx context.Context, username string, ip *string) error {
	if err := s.record(ctx, username, ip, false); err != nil {
		return err
	}
	return common.ErrorUnauthorized
}

func (s *AuthService) complete(ctx context.Context, user *models.User, ip *string) (*SignInResult, error) {
	if err := s.record(ctx, user.Username, ip, true); err != nil {
		return nil, err
	}

	if err := s.repomanager.Users(s.db).RecordLastAccess(ctx, user.ID, s.now()); err != nil {
		s.log.Warn(ctx, "unable to record last access", "user_id", user.ID.String(), "error", err)
	}

	token, err := auth.GenerateToken(user.ID.String(), s.jwtSecret, s.sessionTTL)
	if err != nil {
		return nil, internalError(ctx, s.log, err, "unable to generate session token", "user_id", user.ID.String())
	}

	s.log.Info(ctx, "user signed in", "user_id", user.ID.String())
	return &SignInResult{State: SignInAuthenticated, User: user, SessionToken: token}, nil
}

func (s *AuthService) record(ctx context.Context, username string, ip *string, success bool) error {
	attempt := &models.LoginAttempt{
		ID:          ids.New[models.LoginAttemptKind](),
		Username:    username,
		IPAddress:   ip,
		AttemptedAt: s.now(),
		Success:     success,
	}
	if err := s.repomanager.LoginAttempts(s.db).Record(ctx, attempt); err != nil {
		return internalError(ctx, s.log, err, "unable to record login attempt", "username", username)
	}
	return nil
}

// rehash replaces a legacy hash after a successful verification. Failure is
// logged only: the legacy hash still verifies on the next sign-in.
func (s *AuthService) rehash(ctx context.Context, user *models.User, plain string) {
	stored, err := password.New(plain)
	if err != nil {
		s.log.Error(ctx, "unable to hash password", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.repomanager.Users(s.db).SetPassword(ctx, user.ID, stored); err != nil {
		s.log.Error(ctx, "unable to migrate legacy password hash", "user_id", user.ID.String(), "error", err)
		return
	}
	user.Password = stored
	s.log.Info(ctx, "migrated legacy password hash", "user_id", user.ID.String())
}

func (s *AuthService) dummyVerify(plain string) {
	s.dummyOnce.Do(func() {
		s.dummy, _ = password.New("parcel-unknown-user")
	})
	s.dummy.Verify(plain)
}
