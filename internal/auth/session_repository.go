package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/campus-auth/internal/infrastructure/database"
)

// DefaultMaxSessions is the per-user cap on live refresh sessions.
const DefaultMaxSessions = 5

// SessionStore persists refresh sessions. Every lookup takes the raw token
// and matches on its hash.
type SessionStore interface {
	// Create stores a session for token, evicting the user's oldest
	// sessions first so the cap holds after the insert.
	Create(ctx context.Context, userID, token string, ttl time.Duration, meta RequestMeta) (*Session, error)

	// FindByToken returns the session for token. An expired session is
	// deleted on the spot and reported as ErrSessionNotFound.
	FindByToken(ctx context.Context, token string) (*Session, error)

	// DeleteByToken removes the session for token and returns it.
	DeleteByToken(ctx context.Context, token string) (*Session, error)

	// DeleteAllForUser removes every session of userID and returns the count.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// Rotate deletes old and creates a session for newToken in one
	// transaction. It fails with ErrSessionNotFound if old was already gone.
	Rotate(ctx context.Context, old *Session, newToken string, ttl time.Duration, meta RequestMeta) (*Session, error)

	// IsExpired reports whether s is past its expiry.
	IsExpired(s *Session) bool
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// IsExpired reports whether the session has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SQLiteSessionRepository implements SessionStore on the refresh_tokens table.
type SQLiteSessionRepository struct {
	db          *sql.DB
	maxSessions int
	now         func() time.Time
}

// NewSessionRepository creates a SQLite-backed session store that keeps at
// most maxSessions live sessions per user. Values below 1 use DefaultMaxSessions.
func NewSessionRepository(db *sql.DB, maxSessions int) *SQLiteSessionRepository {
	if maxSessions < 1 {
		maxSessions = DefaultMaxSessions
	}
	return &SQLiteSessionRepository{db: db, maxSessions: maxSessions, now: time.Now}
}

const sessionColumns = "id, user_id, token_hash, expires_at, user_agent, ip_address, created_at"

// Create implements SessionStore.
func (r *SQLiteSessionRepository) Create(ctx context.Context, userID, token string, ttl time.Duration, meta RequestMeta) (*Session, error) {
	if userID == "" || token == "" {
		return nil, fmt.Errorf("%w: session needs a user and a token", ErrValidation)
	}

	var s *Session
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		s, err = r.insertCapped(ctx, tx, userID, token, ttl, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// insertCapped drops the user's expired sessions, evicts the oldest live
// ones until there is room for one more, then inserts the new session.
func (r *SQLiteSessionRepository) insertCapped(ctx context.Context, tx *sql.Tx, userID, token string, ttl time.Duration, meta RequestMeta) (*Session, error) {
	now := r.now()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id = ? AND expires_at <= ?",
		userID, formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("purging expired sessions: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ?", userID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	if excess := count - r.maxSessions + 1; excess > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens WHERE id IN (
				SELECT id FROM refresh_tokens WHERE user_id = ?
				ORDER BY created_at ASC, rowid ASC LIMIT ?
			)`, userID, excess,
		); err != nil {
			return nil, fmt.Errorf("evicting oldest sessions: %w", err)
		}
	}

	meta = meta.Normalized()
	s := &Session{
		ID:        "ses-" + uuid.NewString(),
		UserID:    userID,
		TokenHash: HashToken(token),
		ExpiresAt: now.Add(ttl).UTC(),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now.UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.TokenHash, formatTime(s.ExpiresAt),
		nullString(s.UserAgent), nullString(s.IPAddress), formatTime(s.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	// Round-trip through the storage format so callers see stored values.
	s.ExpiresAt = parseTime(formatTime(s.ExpiresAt))
	s.CreatedAt = parseTime(formatTime(s.CreatedAt))
	return s, nil
}

// FindByToken implements SessionStore.
func (r *SQLiteSessionRepository) FindByToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	row := r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM refresh_tokens WHERE token_hash = ?", HashToken(token))
	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	if r.IsExpired(s) {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", s.ID); err != nil {
			return nil, fmt.Errorf("deleting expired session: %w", err)
		}
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// DeleteByToken implements SessionStore. Expired sessions are deleted and
// returned like live ones.
func (r *SQLiteSessionRepository) DeleteByToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	var s *Session
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+sessionColumns+" FROM refresh_tokens WHERE token_hash = ?", HashToken(token))
		var err error
		if s, err = scanSession(row); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id = ?", s.ID); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteAllForUser implements SessionStore.
func (r *SQLiteSessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions for user: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// Rotate implements SessionStore.
func (r *SQLiteSessionRepository) Rotate(ctx context.Context, old *Session, newToken string, ttl time.Duration, meta RequestMeta) (*Session, error) {
	if old == nil || newToken == "" {
		return nil, fmt.Errorf("%w: rotation needs a session and a token", ErrValidation)
	}

	var s *Session
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM refresh_tokens WHERE id = ? AND token_hash = ?", old.ID, old.TokenHash)
		if err != nil {
			return fmt.Errorf("deleting rotated session: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
			// Another request consumed this token first.
			return ErrSessionNotFound
		}

		s, err = r.insertCapped(ctx, tx, old.UserID, newToken, ttl, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IsExpired implements SessionStore using the repository clock.
func (r *SQLiteSessionRepository) IsExpired(s *Session) bool {
	return s.IsExpired(r.now())
}

// ListActiveForUser returns the user's unexpired sessions, newest first.
func (r *SQLiteSessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+sessionColumns+` FROM refresh_tokens
		 WHERE user_id = ? AND expires_at > ?
		 ORDER BY created_at DESC, rowid DESC`, userID, formatTime(r.now()))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpired removes every expired session and returns the count.
// Lookups already expire sessions lazily; this only reclaims storage.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", formatTime(r.now()))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func scanSession(s scanner) (*Session, error) {
	var sess Session
	var userAgent, ipAddress sql.NullString
	var expiresAt, createdAt string

	err := s.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &expiresAt,
		&userAgent, &ipAddress, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.UserAgent = userAgent.String
	sess.IPAddress = ipAddress.String
	sess.ExpiresAt = parseTime(expiresAt)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}
