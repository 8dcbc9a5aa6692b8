package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/campus-auth/internal/audit"
)

var testMeta = RequestMeta{UserAgent: "campus-app/1.0", IPAddress: "10.0.0.7"}

func registerInput(email string, role Role) RegisterInput {
	return RegisterInput{
		Email:    email,
		Password: testPassword,
		Role:     role,
		Profile:  Profile{FirstName: "Anna", LastName: "Karenina"},
	}
}

func TestNewService_RequiresDeps(t *testing.T) {
	if _, err := NewService(ServiceDeps{}); err == nil {
		t.Error("NewService() with no deps should fail")
	}
}

// TestService_Lifecycle walks one account from registration to a revoked
// refresh token.
func TestService_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.svc.Register(ctx, registerInput("student@school.test", RoleStudent), testMeta)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.User.Status != StatusPending {
		t.Errorf("registered status = %s, want PENDING", reg.User.Status)
	}
	if reg.Tokens.AccessToken == "" || reg.Tokens.RefreshToken == "" {
		t.Fatal("Register() should return both tokens")
	}
	userID := reg.User.ID
	if n := countSessions(t, env.db, userID); n != 1 {
		t.Errorf("sessions after register = %d, want 1", n)
	}

	// Pending accounts may not sign in.
	_, err = env.svc.Login(ctx, "student@school.test", testPassword, testMeta)
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("Login(pending) error = %v, want ErrEmailNotVerified", err)
	}
	if KindOf(err) != KindUnauthorized {
		t.Errorf("kind = %v, want unauthorized", KindOf(err))
	}

	if err := env.users.UpdateStatus(ctx, userID, StatusActive); err != nil {
		t.Fatal(err)
	}

	login, err := env.svc.Login(ctx, "  Student@School.test ", testPassword, testMeta)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	stored, _ := env.users.FindByID(ctx, userID) //nolint:errcheck // test
	if stored.LastLoginAt == nil {
		t.Error("Login() should stamp lastLoginAt")
	}

	pair, err := env.svc.Refresh(ctx, login.Tokens.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if pair.RefreshToken == login.Tokens.RefreshToken {
		t.Error("Refresh() must issue a new refresh token")
	}
	if _, err := env.svc.Refresh(ctx, login.Tokens.RefreshToken, testMeta); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reusing a rotated token error = %v, want ErrInvalidRefreshToken", err)
	}

	removed, err := env.svc.LogoutAll(ctx, userID, testMeta)
	if err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("LogoutAll() removed = %d, want 2 (register and rotated login)", removed)
	}

	if _, err := env.svc.Refresh(ctx, pair.RefreshToken, testMeta); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("Refresh() after LogoutAll error = %v, want ErrInvalidRefreshToken", err)
	}

	// The pending login is recorded as a failed attempt.
	want := []string{audit.ActionRegister, audit.ActionLogin, audit.ActionLogin, audit.ActionLogoutAll}
	if got := env.activity.actions(); !slices.Equal(got, want) {
		t.Errorf("activity = %v, want %v", got, want)
	}
	if got := env.activity.last().Metadata["tokensRemoved"]; got != int64(2) {
		t.Errorf("tokensRemoved = %v, want 2", got)
	}
}

func TestService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, registerInput("parent@school.test", RoleParent), testMeta); err != nil {
		t.Fatalf("Register(parent) error = %v", err)
	}

	tests := []struct {
		name     string
		input    RegisterInput
		wantErr  error
		wantKind ErrorKind
	}{
		{"duplicate email", registerInput("PARENT@school.test", RoleStudent), ErrEmailExists, KindConflict},
		{"teacher is not public", registerInput("t@school.test", RoleTeacher), ErrNonPublicRole, KindValidation},
		{"admin is not public", registerInput("a@school.test", RoleAdmin), ErrNonPublicRole, KindValidation},
		{"bad email", registerInput("not-an-email", RoleStudent), ErrValidation, KindValidation},
		{"weak password", func() RegisterInput {
			in := registerInput("weak@school.test", RoleStudent)
			in.Password = "password"
			return in
		}(), ErrWeakPassword, KindValidation},
		{"short name", func() RegisterInput {
			in := registerInput("short@school.test", RoleStudent)
			in.Profile.FirstName = "A"
			return in
		}(), ErrValidation, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, tt.input, testMeta)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
			if KindOf(err) != tt.wantKind {
				t.Errorf("kind = %v, want %v", KindOf(err), tt.wantKind)
			}
		})
	}

	if n, _ := env.users.CountByRole(ctx, RoleStudent); n != 0 {
		t.Errorf("failed registrations created %d students", n)
	}
}

func TestService_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedUser(t, env.db, "active@school.test", RoleStudent, StatusActive)
	seedUser(t, env.db, "suspended@school.test", RoleStudent, StatusSuspended)
	seedUser(t, env.db, "inactive@school.test", RoleStudent, StatusInactive)

	tests := []struct {
		name       string
		email      string
		password   string
		wantErr    error
		wantReason string
	}{
		{"unknown email", "ghost@school.test", testPassword, ErrInvalidCredentials, "unknown_email"},
		{"wrong password", "active@school.test", "Wrong1234", ErrInvalidCredentials, "wrong_password"},
		{"suspended", "suspended@school.test", testPassword, ErrAccountBlocked, "status_suspended"},
		{"inactive", "inactive@school.test", testPassword, ErrAccountBlocked, "status_inactive"},
		{"blocked with wrong password hides status", "suspended@school.test", "Wrong1234", ErrInvalidCredentials, "wrong_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Login(ctx, tt.email, tt.password, testMeta)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if KindOf(err) != KindUnauthorized {
				t.Errorf("kind = %v, want unauthorized", KindOf(err))
			}

			entry := env.activity.last()
			if entry.Action != audit.ActionLogin {
				t.Fatalf("last action = %q, want login", entry.Action)
			}
			if entry.Metadata[audit.MetaOutcome] != audit.OutcomeFailure || entry.Metadata["reason"] != tt.wantReason {
				t.Errorf("metadata = %v, want failure/%s", entry.Metadata, tt.wantReason)
			}
			if tt.wantReason == "unknown_email" && entry.UserID != "" {
				t.Errorf("unknown email entry has user %q", entry.UserID)
			}
		})
	}

	if got := env.activity.actions(); len(got) != len(tests) {
		t.Errorf("recorded %d entries, want one per failed login", len(got))
	}
}

func TestService_LoginSuccessRecordsOutcome(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.db, "ok@school.test", RoleStudent, StatusActive)

	if _, err := env.svc.Login(context.Background(), user.Email, testPassword, testMeta); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	entry := env.activity.last()
	if entry.Action != audit.ActionLogin || entry.Metadata[audit.MetaOutcome] != audit.OutcomeSuccess {
		t.Errorf("entry = %+v, want successful login", entry)
	}
}

func TestService_RefreshRejectsBlockedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusActive)
	login, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
	if err != nil {
		t.Fatal(err)
	}

	if err := env.users.UpdateStatus(ctx, user.ID, StatusSuspended); err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.Refresh(ctx, login.Tokens.RefreshToken, testMeta)
	if !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("Refresh(suspended) error = %v, want ErrAccountBlocked", err)
	}
	if n := countSessions(t, env.db, user.ID); n != 1 {
		t.Errorf("a rejected refresh must not rotate; sessions = %d", n)
	}
}

func TestService_RefreshRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusActive)
	login, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
	if err != nil {
		t.Fatal(err)
	}

	// A validly signed token with no stored session.
	orphan, err := env.tokens.IssuePair(user)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"empty":             "",
		"garbage":           "not.a.jwt",
		"access as refresh": login.Tokens.AccessToken,
		"no session":        orphan.RefreshToken,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := env.svc.Refresh(ctx, token, testMeta); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Errorf("Refresh() error = %v, want ErrInvalidRefreshToken", err)
			}
		})
	}
}

func TestService_RefreshExpiredDiscardsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusActive)
	login, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(DefaultRefreshTTL + time.Hour)
	env.tokens.now = fixedClock(&later)

	if _, err := env.svc.Refresh(ctx, login.Tokens.RefreshToken, testMeta); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("Refresh(expired) error = %v, want ErrInvalidRefreshToken", err)
	}
	if n := countSessions(t, env.db, user.ID); n != 0 {
		t.Errorf("expired session should be discarded, %d left", n)
	}
}

func TestService_LoginRehashesOutdatedHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, err := NewPasswordHasher(HashParams{Memory: 4 * 1024, Iterations: 1, Parallelism: 1}).Hash(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	user := &User{
		Email: "legacy@school.test", PasswordHash: old, Role: RoleParent, Status: StatusActive,
		Profile: Profile{FirstName: "Old", LastName: "Hash"},
	}
	if err := env.users.Create(ctx, user); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Login(ctx, user.Email, testPassword, testMeta); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	stored, err := env.users.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == old {
		t.Fatal("outdated hash should be replaced on login")
	}
	if NewPasswordHasher(cheapHashParams).NeedsRehash(stored.PasswordHash) {
		t.Error("new hash should use current parameters")
	}

	// The upgraded hash still verifies.
	if _, err := env.svc.Login(ctx, user.Email, testPassword, testMeta); err != nil {
		t.Errorf("Login() after rehash error = %v", err)
	}
}

func TestService_SixthLoginEvictsOldest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "busy@school.test", RoleTeacher, StatusActive)

	var first string
	for i := range DefaultMaxSessions + 1 {
		res, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
		if err != nil {
			t.Fatalf("login %d error = %v", i+1, err)
		}
		if i == 0 {
			first = res.Tokens.RefreshToken
		}
	}

	if n := countSessions(t, env.db, user.ID); n != DefaultMaxSessions {
		t.Errorf("sessions = %d, want %d", n, DefaultMaxSessions)
	}
	if _, err := env.svc.Refresh(ctx, first, testMeta); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("evicted session refresh error = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestService_Logout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusActive)
	login, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
	if err != nil {
		t.Fatal(err)
	}

	if err := env.svc.Logout(ctx, login.Tokens.RefreshToken, testMeta); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if n := countSessions(t, env.db, user.ID); n != 0 {
		t.Errorf("sessions after logout = %d, want 0", n)
	}

	err = env.svc.Logout(ctx, login.Tokens.RefreshToken, testMeta)
	if !errors.Is(err, ErrInvalidRefreshToken) || KindOf(err) != KindUnauthorized {
		t.Errorf("second Logout() error = %v, want unauthorized ErrInvalidRefreshToken", err)
	}

	entry := env.activity.last()
	if entry.Action != audit.ActionLogout || entry.UserID != user.ID {
		t.Errorf("last activity = %+v", entry)
	}
	if entry.IPAddress != testMeta.IPAddress || entry.UserAgent != testMeta.UserAgent {
		t.Errorf("activity should carry request meta, got %+v", entry)
	}
}

func TestService_LogoutAllWithNoSessions(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusActive)

	n, err := env.svc.LogoutAll(context.Background(), user.ID, testMeta)
	if err != nil || n != 0 {
		t.Errorf("LogoutAll() = %d, %v; want 0, nil", n, err)
	}
}

func TestService_ForceLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := seedSchool(t, env)

	if _, err := env.svc.Login(ctx, s.child.Email, testPassword, testMeta); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.ForceLogout(ctx, s.parent, s.child.ID, testMeta); !errors.Is(err, ErrForbidden) {
		t.Errorf("ForceLogout(parent) error = %v, want ErrForbidden", err)
	}
	if _, err := env.svc.ForceLogout(ctx, s.admin, "usr-missing", testMeta); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ForceLogout(missing) error = %v, want ErrUserNotFound", err)
	}

	n, err := env.svc.ForceLogout(ctx, s.admin, s.child.ID, testMeta)
	if err != nil || n != 1 {
		t.Fatalf("ForceLogout(admin) = %d, %v; want 1, nil", n, err)
	}
	entry := env.activity.last()
	if entry.UserID != s.admin.ID || entry.EntityID != s.child.ID {
		t.Errorf("activity should name admin as actor and child as entity, got %+v", entry)
	}

	if n, err := env.svc.ForceLogout(ctx, s.child, s.child.ID, testMeta); err != nil || n != 0 {
		t.Errorf("ForceLogout(self) = %d, %v; want 0, nil", n, err)
	}
}

func TestService_Authenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusPending)
	pair, err := env.tokens.IssuePair(user)
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate(pending) error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("principal = %s, want %s", got.ID, user.ID)
	}

	if _, err := env.svc.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Errorf("Authenticate(refresh token) error = %v, want ErrInvalidAccessToken", err)
	}

	if err := env.users.UpdateStatus(ctx, user.ID, StatusSuspended); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrAccountBlocked) {
		t.Errorf("Authenticate(suspended) error = %v, want ErrAccountBlocked", err)
	}

	later := time.Now().Add(DefaultAccessTTL + time.Minute)
	env.tokens.now = fixedClock(&later)
	if _, err := env.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Authenticate(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestService_AuthenticateDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "gone@school.test", RoleStudent, StatusActive)
	pair, err := env.tokens.IssuePair(user)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.users.Delete(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Errorf("Authenticate(deleted) error = %v, want ErrInvalidAccessToken", err)
	}
}

func TestService_ViewUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := seedSchool(t, env)

	got, err := env.svc.ViewUser(ctx, s.parent, s.child.ID)
	if err != nil {
		t.Fatalf("ViewUser(parent, child) error = %v", err)
	}
	if got.Email != s.child.Email {
		t.Errorf("ViewUser() email = %s", got.Email)
	}

	if _, err := env.svc.ViewUser(ctx, s.parent, s.pupil.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("ViewUser(parent, pupil) error = %v, want ErrForbidden", err)
	}
	if _, err := env.svc.ViewUser(ctx, nil, s.pupil.ID); KindOf(err) != KindUnauthorized {
		t.Errorf("ViewUser(nil) kind = %v, want unauthorized", KindOf(err))
	}
}

func TestService_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "s@school.test", RoleStudent, StatusActive)
	for range 2 {
		if _, err := env.svc.Login(ctx, user.Email, testPassword, testMeta); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := env.svc.ChangePassword(ctx, user.ID, "Wrong1234", "Newpass99", testMeta); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong current error = %v, want ErrWrongPassword", err)
	}
	if _, err := env.svc.ChangePassword(ctx, user.ID, testPassword, testPassword, testMeta); !errors.Is(err, ErrSamePassword) {
		t.Errorf("same password error = %v, want ErrSamePassword", err)
	}
	if _, err := env.svc.ChangePassword(ctx, user.ID, testPassword, "weak", testMeta); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password error = %v, want ErrWeakPassword", err)
	}

	revoked, err := env.svc.ChangePassword(ctx, user.ID, testPassword, "Newpass99", testMeta)
	if err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if revoked != 2 {
		t.Errorf("revoked = %d, want 2", revoked)
	}

	if _, err := env.svc.Login(ctx, user.Email, testPassword, testMeta); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password login error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := env.svc.Login(ctx, user.Email, "Newpass99", testMeta); err != nil {
		t.Errorf("new password login error = %v", err)
	}
}

func TestService_ChangeStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := seedUser(t, env.db, "admin@school.test", RoleAdmin, StatusActive)
	teacher := seedUser(t, env.db, "t@school.test", RoleTeacher, StatusActive)
	target := seedUser(t, env.db, "s@school.test", RoleStudent, StatusPending)

	got, err := env.svc.ChangeStatus(ctx, admin, target.ID, StatusActive, testMeta)
	if err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %s, want ACTIVE", got.Status)
	}
	entry := env.activity.last()
	if entry.Action != audit.ActionUpdateStatus || entry.Metadata["from"] != "PENDING" || entry.Metadata["to"] != "ACTIVE" {
		t.Errorf("activity = %+v", entry)
	}

	// Repeating the current status records nothing.
	before := len(env.activity.actions())
	if _, err := env.svc.ChangeStatus(ctx, admin, target.ID, StatusActive, testMeta); err != nil {
		t.Errorf("no-op ChangeStatus() error = %v", err)
	}
	if len(env.activity.actions()) != before {
		t.Error("no-op ChangeStatus() should not record activity")
	}

	tests := []struct {
		name    string
		actor   *User
		target  string
		status  Status
		wantErr error
	}{
		{"non-admin", teacher, target.ID, StatusSuspended, ErrForbidden},
		{"self", admin, admin.ID, StatusSuspended, ErrSelfModification},
		{"unknown status", admin, target.ID, "BANNED", ErrValidation},
		{"missing target", admin, "usr-missing", StatusSuspended, ErrUserNotFound},
		{"back to pending", admin, target.ID, StatusPending, ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.ChangeStatus(ctx, tt.actor, tt.target, tt.status, testMeta); !errors.Is(err, tt.wantErr) {
				t.Errorf("ChangeStatus() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_SeedAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	password, err := env.svc.SeedAdmin(ctx, "Root@School.test")
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if err := ValidatePassword(password); err != nil {
		t.Errorf("generated password fails policy: %v", err)
	}

	res, err := env.svc.Login(ctx, "root@school.test", password, testMeta)
	if err != nil {
		t.Fatalf("Login(seeded admin) error = %v", err)
	}
	if res.User.Role != RoleAdmin || res.User.Status != StatusActive {
		t.Errorf("seeded admin = %+v", res.User)
	}

	again, err := env.svc.SeedAdmin(ctx, "other@school.test")
	if err != nil || again != "" {
		t.Errorf("second SeedAdmin() = %q, %v; want skipped", again, err)
	}
	if n, _ := env.users.CountByRole(ctx, RoleAdmin); n != 1 {
		t.Errorf("admins = %d, want 1", n)
	}
}
