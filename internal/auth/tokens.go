package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// ttlPattern is the compact duration grammar used in configuration.
var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var ttlUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseTTL parses durations such as "30s", "15m", "12h" or "7d".
// Zero and overflowing values are rejected.
func ParseTTL(s string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ttl %q: want <digits><s|m|h|d>", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", s, err)
	}
	unit := ttlUnits[m[2]]
	if n <= 0 || n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("invalid ttl %q: out of range", s)
	}
	return time.Duration(n) * unit, nil
}

// ParseTTLOrDefault parses s with ParseTTL and falls back to fallback when s
// is unparseable. Every fallback is logged at warn level.
func ParseTTLOrDefault(s string, fallback time.Duration, logger *slog.Logger) time.Duration {
	d, err := ParseTTL(s)
	if err != nil {
		if logger != nil {
			logger.Warn("unparseable token ttl, using default",
				"value", s,
				"default", fallback.String(),
				"error", err,
			)
		}
		return fallback
	}
	return d
}

// Claims is the payload carried by both access and refresh tokens.
// Subject holds the user id. ID is a random jti so that two tokens issued
// for the same user within one second never collide.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenIssuer signs and verifies HS256 tokens. Access and refresh tokens use
// independent secrets, so a token of one kind never verifies as the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer validates cfg and returns an issuer. Zero TTLs take the
// package defaults.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token issuer: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token issuer: access and refresh secrets must differ")
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token issuer: ttl must not be negative")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}, nil
}

// RefreshTTL returns the lifetime of issued refresh tokens.
func (i *TokenIssuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// AccessTTL returns the lifetime of issued access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssuePair signs a new access and refresh token for u.
func (i *TokenIssuer) IssuePair(u *User) (TokenPair, error) {
	access, err := i.issue(u, i.accessSecret, i.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := i.issue(u, i.refreshSecret, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks an access token's signature and expiry.
func (i *TokenIssuer) VerifyAccess(token string) (*Claims, error) {
	return i.verify(token, i.accessSecret)
}

// VerifyRefresh checks a refresh token's signature and expiry. It does not
// consult the session store; callers must do that before trusting it.
func (i *TokenIssuer) VerifyRefresh(token string) (*Claims, error) {
	return i.verify(token, i.refreshSecret)
}

func (i *TokenIssuer) issue(u *User, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Email: u.Email,
		Role:  u.Role,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// verify parses token and classifies failures as ErrTokenExpired,
// ErrTokenSignatureInvalid or ErrTokenMalformed.
func (i *TokenIssuer) verify(token string, secret []byte) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %w", ErrTokenSignatureInvalid, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenMalformed, claims.Role)
	}

	return claims, nil
}
