package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/campus-auth/internal/audit"
)

// ActivityRecorder accepts activity entries for best-effort persistence.
// Record must not block and has no way to fail the calling operation.
type ActivityRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// ServiceDeps are the collaborators of a Service. Relationships, Activity
// and Logger are optional; without Relationships the admin link and class
// operations fail.
type ServiceDeps struct {
	Users         UserDirectory
	Sessions      SessionStore
	Access        *AccessEvaluator
	Relationships RelationshipStore
	Hasher        *PasswordHasher
	Tokens        *TokenIssuer
	Activity      ActivityRecorder
	Logger        *slog.Logger
}

// Service is the use-case layer for registration, login, token rotation,
// logout and the account operations built on them.
type Service struct {
	users         UserDirectory
	sessions      SessionStore
	access        *AccessEvaluator
	relationships RelationshipStore
	hasher        *PasswordHasher
	tokens        *TokenIssuer
	activity      ActivityRecorder
	logger        *slog.Logger
	now           func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires a Service from deps.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth service: user directory is required")
	case deps.Sessions == nil:
		return nil, errors.New("auth service: session store is required")
	case deps.Access == nil:
		return nil, errors.New("auth service: access evaluator is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth service: password hasher is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth service: token issuer is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		users:         deps.Users,
		sessions:      deps.Sessions,
		access:        deps.Access,
		relationships: deps.Relationships,
		hasher:        deps.Hasher,
		tokens:        deps.Tokens,
		activity:      deps.Activity,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// AccessTTL returns the lifetime of issued access tokens.
func (s *Service) AccessTTL() time.Duration {
	return s.tokens.AccessTTL()
}

// RegisterInput is the payload for self-registration.
type RegisterInput struct {
	Email    string
	Password string
	Profile  Profile
	Role     Role
}

// Register creates a PENDING account for one of the public roles and starts
// its first session. Registering an existing email fails with ErrEmailExists.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*AuthResult, error) {
	if !in.Role.IsPublic() {
		return nil, fmt.Errorf("%w: %q", ErrNonPublicRole, in.Role)
	}

	email := NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	profile, err := normalizeProfile(in.Profile)
	if err != nil {
		return nil, err
	}

	// Cheap early answer for the common duplicate case. The unique index
	// in Create stays authoritative under concurrent registrations.
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Status:       StatusPending,
		Profile:      profile,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.logActivity(ctx, user.ID, audit.ActionRegister, user.ID, meta, nil)
	s.logger.Info("user registered", "user_id", user.ID, "role", string(user.Role))
	return result, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password fail identically with ErrInvalidCredentials. The account state
// gate runs only after the password verified, so status is never revealed
// to a caller without the password.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (*AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		// Burn the same hashing cost as a real verify.
		s.hasher.Verify(s.dummyPasswordHash(), password)
		s.loginFailed(ctx, "", "unknown_email", meta)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		s.loginFailed(ctx, user.ID, "wrong_password", meta)
		return nil, ErrInvalidCredentials
	}
	if err := CheckAuthentication(user.Status); err != nil {
		s.loginFailed(ctx, user.ID, "status_"+strings.ToLower(string(user.Status)), meta)
		return nil, err
	}

	// The plaintext was verified above in this request, so migrating the
	// hash costs one Hash and no second Verify.
	var newHash string
	if s.hasher.NeedsRehash(user.PasswordHash) {
		if h, err := s.hasher.Hash(password); err != nil {
			s.logger.Warn("password rehash failed, keeping old hash", "user_id", user.ID, "error", err)
		} else {
			newHash = h
		}
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now, newHash); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now
	if newHash != "" {
		user.PasswordHash = newHash
		s.logger.Info("password hash upgraded", "user_id", user.ID)
	}

	result, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.logActivity(ctx, user.ID, audit.ActionLogin, user.ID, meta, map[string]any{
		audit.MetaOutcome: audit.OutcomeSuccess,
	})
	return result, nil
}

// loginFailed records a rejected login. userID is empty for an unknown
// email; the attempted address is never stored.
func (s *Service) loginFailed(ctx context.Context, userID, reason string, meta RequestMeta) {
	s.logActivity(ctx, userID, audit.ActionLogin, userID, meta, map[string]any{
		audit.MetaOutcome: audit.OutcomeFailure,
		"reason":          reason,
	})
}

// Refresh exchanges a refresh token for a new pair. The old session is
// deleted and the new one created in one transaction; of two concurrent
// calls with the same token exactly one succeeds.
//
// Expired, revoked, unknown and malformed tokens all fail with
// ErrInvalidRefreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			s.discardSession(ctx, refreshToken)
		}
		s.logger.Debug("refresh token rejected", "error", err)
		return nil, ErrInvalidRefreshToken
	}

	session, err := s.sessions.FindByToken(ctx, refreshToken)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.Subject {
		s.logger.Warn("refresh token subject does not match session owner",
			"session_id", session.ID, "subject", claims.Subject)
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	if err := CheckAuthentication(user.Status); err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Rotate(ctx, session, pair.RefreshToken, s.tokens.RefreshTTL(), meta); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	return &pair, nil
}

// discardSession deletes the session of an expired token, if any.
func (s *Service) discardSession(ctx context.Context, refreshToken string) {
	if _, err := s.sessions.DeleteByToken(ctx, refreshToken); err != nil && !errors.Is(err, ErrSessionNotFound) {
		s.logger.Warn("deleting expired session failed", "error", err)
	}
}

// Logout revokes the session of refreshToken. An unknown token fails with
// ErrInvalidRefreshToken.
func (s *Service) Logout(ctx context.Context, refreshToken string, meta RequestMeta) error {
	session, err := s.sessions.DeleteByToken(ctx, refreshToken)
	if errors.Is(err, ErrSessionNotFound) {
		return ErrInvalidRefreshToken
	}
	if err != nil {
		return err
	}

	s.logActivity(ctx, session.UserID, audit.ActionLogout, session.UserID, meta, nil)
	return nil
}

// LogoutAll revokes every session of userID and returns how many were
// removed. It performs no authorisation; see ForceLogout.
func (s *Service) LogoutAll(ctx context.Context, userID string, meta RequestMeta) (int64, error) {
	return s.revokeAll(ctx, userID, userID, meta)
}

// ForceLogout revokes every session of targetID on behalf of actor, who
// must be the target or hold PermSessionRevokeAny.
func (s *Service) ForceLogout(ctx context.Context, actor *User, targetID string, meta RequestMeta) (int64, error) {
	if actor == nil {
		return 0, ErrInvalidAccessToken
	}
	if actor.ID != targetID {
		if err := RequirePermission(actor, PermSessionRevokeAny); err != nil {
			return 0, err
		}
		if _, err := s.users.FindByID(ctx, targetID); err != nil {
			return 0, err
		}
	}
	return s.revokeAll(ctx, actor.ID, targetID, meta)
}

func (s *Service) revokeAll(ctx context.Context, actorID, targetID string, meta RequestMeta) (int64, error) {
	count, err := s.sessions.DeleteAllForUser(ctx, targetID)
	if err != nil {
		return 0, err
	}

	s.logActivity(ctx, actorID, audit.ActionLogoutAll, targetID, meta, map[string]any{
		"tokensRemoved": count,
	})
	s.logger.Info("sessions revoked", "user_id", targetID, "by", actorID, "count", count)
	return count, nil
}

// Authenticate resolves an access token to its current principal. The
// user is reloaded on every call so status changes apply immediately.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidAccessToken
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidAccessToken
	}
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(user.Status); err != nil {
		return nil, err
	}
	return user, nil
}

// ViewUser returns targetID's record if actor may access it.
func (s *Service) ViewUser(ctx context.Context, actor *User, targetID string) (*User, error) {
	if actor == nil {
		return nil, ErrInvalidAccessToken
	}
	if err := s.access.Authorize(ctx, actor, targetID); err != nil {
		return nil, err
	}
	return s.users.FindByID(ctx, targetID)
}

// ChangePassword replaces the user's password after checking the current
// one, and revokes all of the user's sessions in the same transaction.
// It returns the number of sessions revoked.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string, meta RequestMeta) (int64, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !s.hasher.Verify(user.PasswordHash, current) {
		return 0, ErrWrongPassword
	}
	if next == current {
		return 0, ErrSamePassword
	}
	if err := ValidatePassword(next); err != nil {
		return 0, err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return 0, fmt.Errorf("hashing password: %w", err)
	}
	revoked, err := s.users.UpdatePasswordAndRevokeSessions(ctx, userID, hash)
	if err != nil {
		return 0, err
	}

	s.logActivity(ctx, userID, audit.ActionChangePassword, userID, meta, map[string]any{
		"sessionsRevoked": revoked,
	})
	return revoked, nil
}

// ChangeStatus moves targetID to status on behalf of an administrator.
// Setting the current status again is a no-op.
func (s *Service) ChangeStatus(ctx context.Context, actor *User, targetID string, status Status, meta RequestMeta) (*User, error) {
	if err := RequirePermission(actor, PermUserStatusManage); err != nil {
		return nil, err
	}
	if actor.ID == targetID {
		return nil, ErrSelfModification
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Status == status {
		return target, nil
	}
	if !ValidStatusTransition(target.Status, status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatus, target.Status, status)
	}

	if err := s.users.UpdateStatus(ctx, targetID, status); err != nil {
		return nil, err
	}

	s.logActivity(ctx, actor.ID, audit.ActionUpdateStatus, targetID, meta, map[string]any{
		"from": string(target.Status),
		"to":   string(status),
	})
	s.logger.Info("user status changed",
		"user_id", targetID, "from", string(target.Status), "to", string(status), "by", actor.ID)

	return s.users.FindByID(ctx, targetID)
}

// seedPasswordBytes is the entropy of a generated admin password.
const seedPasswordBytes = 16

// SeedAdmin creates an ACTIVE administrator with a random password when no
// administrator exists yet. The password is returned and logged once; it
// is empty when seeding was skipped.
func (s *Service) SeedAdmin(ctx context.Context, email string) (string, error) {
	count, err := s.users.CountByRole(ctx, RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("checking admin count: %w", err)
	}
	if count > 0 {
		s.logger.Info("admin exists, skipping admin seed")
		return "", nil
	}

	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}

	buf := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	// The suffix guarantees every character class the policy requires.
	password := hex.EncodeToString(buf) + "-Aa1"

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         RoleAdmin,
		Status:       StatusActive,
		Profile:      Profile{FirstName: "System", LastName: "Administrator"},
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	s.logger.Warn("seed admin account created",
		"email", email,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}

// startSession issues a token pair for user and records its refresh session.
func (s *Service) startSession(ctx context.Context, user *User, meta RequestMeta) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Create(ctx, user.ID, pair.RefreshToken, s.tokens.RefreshTTL(), meta); err != nil {
		return nil, err
	}
	return &AuthResult{Tokens: pair, User: user.Public()}, nil
}

// dummyPasswordHash returns a hash under the current parameters, computed
// once, for verifying against when the email is unknown.
func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("campusauth-timing-equaliser")
		if err != nil {
			s.logger.Warn("computing dummy password hash failed", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func (s *Service) logActivity(ctx context.Context, userID, action, entityID string, meta RequestMeta, metadata map[string]any) {
	s.recordActivity(ctx, userID, action, audit.EntityUser, entityID, meta, metadata)
}

func (s *Service) recordActivity(ctx context.Context, userID, action, entity, entityID string, meta RequestMeta, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	meta = meta.Normalized()
	s.activity.Record(ctx, audit.Entry{
		UserID:    userID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	})
}
