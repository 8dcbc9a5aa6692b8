package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// Resilience tests cover concurrent use and failure paths. They use the
// TestResilience_ prefix for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentRefresh presents one refresh token from several
// goroutines at once. Exactly one rotation may win.
func TestResilience_ConcurrentRefresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "racer@school.test", RoleStudent, StatusActive)
	login, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
	if err != nil {
		t.Fatal(err)
	}

	const callers = 4
	var wg sync.WaitGroup
	results := make(chan error, callers)
	start := make(chan struct{})

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.Refresh(ctx, login.Tokens.RefreshToken, testMeta)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInvalidRefreshToken):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successful refreshes = %d, want exactly 1", successes)
	}
	if n := countSessions(t, env.db, user.ID); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

// TestResilience_ConcurrentLoginsRespectCap logs in from many goroutines and
// checks the per-user session cap is never exceeded.
func TestResilience_ConcurrentLoginsRespectCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := seedUser(t, env.db, "crowd@school.test", RoleParent, StatusActive)

	const logins = 12
	var wg sync.WaitGroup
	errs := make(chan error, logins)

	for range logins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Login(ctx, user.Email, testPassword, testMeta)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Login() error = %v", err)
		}
	}
	if n := countSessions(t, env.db, user.ID); n != DefaultMaxSessions {
		t.Errorf("sessions = %d, want %d", n, DefaultMaxSessions)
	}
}

// TestResilience_UserDeletion_CascadesCleanly verifies that deleting a user
// removes sessions, relationships and role records.
func TestResilience_UserDeletion_CascadesCleanly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := seedSchool(t, env)

	if _, err := env.svc.Login(ctx, s.child.Email, testPassword, testMeta); err != nil {
		t.Fatal(err)
	}

	if err := env.users.Delete(ctx, s.child.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if n := countSessions(t, env.db, s.child.ID); n != 0 {
		t.Errorf("sessions after delete = %d, want 0", n)
	}
	children, err := env.rel.ChildrenOf(ctx, s.parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Errorf("parent still linked to %v", children)
	}

	// The parent is unaffected.
	if _, err := env.users.FindByID(ctx, s.parent.ID); err != nil {
		t.Errorf("parent lookup after child delete: %v", err)
	}
}

// TestResilience_ContextCancellation_RepositoryOps verifies that a cancelled
// context surfaces as an error and never as a false negative.
func TestResilience_ContextCancellation_RepositoryOps(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.db, "ctx@school.test", RoleStudent, StatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.users.FindByID(ctx, user.ID); err == nil {
		t.Error("FindByID() with cancelled context should fail")
	} else if errors.Is(err, ErrUserNotFound) {
		t.Error("cancelled lookup must not look like a missing user")
	}

	if _, err := env.sessions.Create(ctx, user.ID, "tok", time.Hour, RequestMeta{}); err == nil {
		t.Error("Session Create() with cancelled context should fail")
	}

	if _, err := env.svc.Login(ctx, user.Email, testPassword, testMeta); err == nil {
		t.Error("Login() with cancelled context should fail")
	} else if KindOf(err) != KindInternal {
		t.Errorf("cancelled Login() kind = %v, want internal", KindOf(err))
	}
}

// TestResilience_ActivityRecorderOptional verifies the service runs with no
// activity recorder at all.
func TestResilience_ActivityRecorderOptional(t *testing.T) {
	db := testDB(t)
	svc, err := NewService(ServiceDeps{
		Users:    NewUserRepository(db),
		Sessions: NewSessionRepository(db, DefaultMaxSessions),
		Access:   NewAccessEvaluator(NewRelationshipRepository(db)),
		Hasher:   NewPasswordHasher(cheapHashParams),
		Tokens:   testIssuer(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	user := seedUser(t, db, "quiet@school.test", RoleStudent, StatusActive)
	res, err := svc.Login(context.Background(), user.Email, testPassword, RequestMeta{})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := svc.Logout(context.Background(), res.Tokens.RefreshToken, RequestMeta{}); err != nil {
		t.Errorf("Logout() error = %v", err)
	}
}
