package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/campus-auth/internal/audit"
	"github.com/nerrad567/campus-auth/internal/infrastructure/database"
	"github.com/nerrad567/campus-auth/internal/infrastructure/logging"
	_ "github.com/nerrad567/campus-auth/migrations"
)

const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
	testPassword      = "Abcdef12"
)

// testDB opens a migrated SQLite database in a temp directory.
// WAL mode needs a file, so in-memory databases are not used.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

var (
	testHashOnce sync.Once
	testHash     string
)

// testPasswordHash returns a cheap hash of testPassword, computed once.
func testPasswordHash(t *testing.T) string {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := NewPasswordHasher(cheapHashParams).Hash(testPassword)
		if err != nil {
			t.Fatalf("hashing test password: %v", err)
		}
		testHash = h
	})
	return testHash
}

// seedUser creates a user whose password is testPassword.
func seedUser(t *testing.T, db *sql.DB, email string, role Role, status Status) *User {
	t.Helper()
	u := &User{
		Email:        email,
		PasswordHash: testPasswordHash(t),
		Role:         role,
		Status:       status,
		Profile:      Profile{FirstName: "Test", LastName: "User"},
	}
	if err := NewUserRepository(db).Create(context.Background(), u); err != nil {
		t.Fatalf("seeding user %s: %v", email, err)
	}
	return u
}

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}
	return issuer
}

// recordingActivity collects entries synchronously.
type recordingActivity struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingActivity) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingActivity) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingActivity) last() audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

type testEnv struct {
	db       *sql.DB
	users    *SQLiteUserRepository
	sessions *SQLiteSessionRepository
	rel      *SQLiteRelationshipRepository
	tokens   *TokenIssuer
	activity *recordingActivity
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testDB(t)
	env := &testEnv{
		db:       db,
		users:    NewUserRepository(db),
		sessions: NewSessionRepository(db, DefaultMaxSessions),
		rel:      NewRelationshipRepository(db),
		tokens:   testIssuer(t),
		activity: &recordingActivity{},
	}

	svc, err := NewService(ServiceDeps{
		Users:         env.users,
		Sessions:      env.sessions,
		Access:        NewAccessEvaluator(env.rel),
		Relationships: env.rel,
		Hasher:        NewPasswordHasher(cheapHashParams),
		Tokens:        env.tokens,
		Activity:      env.activity,
		Logger:        logging.Discard().Logger,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	env.svc = svc
	return env
}

// countSessions returns the number of stored sessions for userID.
func countSessions(t *testing.T, db *sql.DB, userID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ?", userID).Scan(&n); err != nil {
		t.Fatalf("counting sessions: %v", err)
	}
	return n
}

// fixedClock returns a clock that reads *now.
func fixedClock(now *time.Time) func() time.Time {
	return func() time.Time { return *now }
}
