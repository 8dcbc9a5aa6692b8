package auth

import (
	"context"
	"errors"
	"testing"
)

// school seeds a small school: one parent linked to one of two students,
// and a teacher whose class holds the other student.
type school struct {
	admin, parent, teacher, otherTeacher, child, pupil, stranger *User
}

func seedSchool(t *testing.T, env *testEnv) school {
	t.Helper()
	ctx := context.Background()
	s := school{
		admin:        seedUser(t, env.db, "admin@school.test", RoleAdmin, StatusActive),
		parent:       seedUser(t, env.db, "parent@school.test", RoleParent, StatusActive),
		teacher:      seedUser(t, env.db, "teacher@school.test", RoleTeacher, StatusActive),
		otherTeacher: seedUser(t, env.db, "other-teacher@school.test", RoleTeacher, StatusActive),
		child:        seedUser(t, env.db, "child@school.test", RoleStudent, StatusActive),
		pupil:        seedUser(t, env.db, "pupil@school.test", RoleStudent, StatusActive),
		stranger:     seedUser(t, env.db, "stranger@school.test", RoleStudent, StatusActive),
	}

	if err := env.rel.LinkChild(ctx, s.parent.ID, s.child.ID, "mother", true); err != nil {
		t.Fatalf("LinkChild() error = %v", err)
	}
	class, err := env.rel.CreateClass(ctx, "7B", s.teacher.ID)
	if err != nil {
		t.Fatalf("CreateClass() error = %v", err)
	}
	if err := env.rel.AssignToClass(ctx, s.pupil.ID, class.ID); err != nil {
		t.Fatalf("AssignToClass() error = %v", err)
	}
	if _, err := env.rel.CreateClass(ctx, "8A", s.otherTeacher.ID); err != nil {
		t.Fatalf("CreateClass() error = %v", err)
	}
	return s
}

func TestAccessEvaluator_CanAccess(t *testing.T) {
	env := newTestEnv(t)
	s := seedSchool(t, env)
	eval := NewAccessEvaluator(env.rel)

	tests := []struct {
		name   string
		actor  *User
		target *User
		want   bool
	}{
		{"self", s.stranger, s.stranger, true},
		{"admin any", s.admin, s.pupil, true},
		{"admin to teacher", s.admin, s.teacher, true},
		{"parent own child", s.parent, s.child, true},
		{"parent other student", s.parent, s.pupil, false},
		{"teacher own class", s.teacher, s.pupil, true},
		{"teacher student without class", s.teacher, s.child, false},
		{"teacher of another class", s.otherTeacher, s.pupil, false},
		{"teacher to teacher", s.teacher, s.otherTeacher, false},
		{"student to student", s.child, s.pupil, false},
		{"student to parent", s.child, s.parent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.CanAccess(context.Background(), tt.actor, tt.target.ID)
			if err != nil {
				t.Fatalf("CanAccess() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CanAccess(%s -> %s) = %v, want %v", tt.actor.Email, tt.target.Email, got, tt.want)
			}
		})
	}

	if ok, _ := eval.CanAccess(context.Background(), nil, s.child.ID); ok {
		t.Error("nil actor must be denied")
	}
	if err := eval.Authorize(context.Background(), s.parent, s.pupil.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize() error = %v, want ErrForbidden", err)
	}
}

func TestAccessEvaluator_ReflectsCurrentRelationships(t *testing.T) {
	env := newTestEnv(t)
	s := seedSchool(t, env)
	eval := NewAccessEvaluator(env.rel)
	ctx := context.Background()

	if err := env.rel.UnlinkChild(ctx, s.parent.ID, s.child.ID); err != nil {
		t.Fatalf("UnlinkChild() error = %v", err)
	}
	if ok, _ := eval.CanAccess(ctx, s.parent, s.child.ID); ok {
		t.Error("access should end as soon as the link is removed")
	}

	if err := env.rel.AssignToClass(ctx, s.pupil.ID, ""); err != nil {
		t.Fatalf("AssignToClass(\"\") error = %v", err)
	}
	if ok, _ := eval.CanAccess(ctx, s.teacher, s.pupil.ID); ok {
		t.Error("access should end when the student leaves the class")
	}
}

type failingResolver struct{}

func (failingResolver) IsParentOf(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func (failingResolver) IsHomeTeacherOf(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func TestAccessEvaluator_StoreErrorsPropagate(t *testing.T) {
	eval := NewAccessEvaluator(failingResolver{})
	parent := &User{ID: "usr-p", Role: RoleParent}

	ok, err := eval.CanAccess(context.Background(), parent, "usr-c")
	if err == nil || ok {
		t.Errorf("CanAccess() = %v, %v; want false and an error", ok, err)
	}
	if KindOf(err) != KindInternal {
		t.Errorf("store failure kind = %v, want internal", KindOf(err))
	}

	// Self and admin never consult the store.
	if ok, err := eval.CanAccess(context.Background(), parent, parent.ID); !ok || err != nil {
		t.Errorf("self access = %v, %v", ok, err)
	}
	if ok, err := eval.CanAccess(context.Background(), &User{ID: "usr-a", Role: RoleAdmin}, "usr-c"); !ok || err != nil {
		t.Errorf("admin access = %v, %v", ok, err)
	}
}

func TestRelationshipRepository(t *testing.T) {
	env := newTestEnv(t)
	s := seedSchool(t, env)
	ctx := context.Background()

	children, err := env.rel.ChildrenOf(ctx, s.parent.ID)
	if err != nil {
		t.Fatalf("ChildrenOf() error = %v", err)
	}
	if len(children) != 1 || children[0] != s.child.ID {
		t.Errorf("ChildrenOf() = %v, want [%s]", children, s.child.ID)
	}

	roster, err := env.rel.RosterOf(ctx, s.teacher.ID)
	if err != nil {
		t.Fatalf("RosterOf() error = %v", err)
	}
	if len(roster) != 1 || roster[0] != s.pupil.ID {
		t.Errorf("RosterOf() = %v, want [%s]", roster, s.pupil.ID)
	}

	// Relinking updates in place.
	if err := env.rel.LinkChild(ctx, s.parent.ID, s.child.ID, "", false); err != nil {
		t.Fatalf("re-LinkChild() error = %v", err)
	}

	if err := env.rel.LinkChild(ctx, s.teacher.ID, s.child.ID, "", false); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("LinkChild(non-parent) error = %v, want ErrUserNotFound", err)
	}
	if _, err := env.rel.CreateClass(ctx, "9C", s.parent.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("CreateClass(non-teacher) error = %v, want ErrUserNotFound", err)
	}
	if _, err := env.rel.CreateClass(ctx, "7B", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("CreateClass(duplicate) error = %v, want ErrValidation", err)
	}
	if err := env.rel.AssignToClass(ctx, s.child.ID, "cls-missing"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("AssignToClass(missing) error = %v, want ErrClassNotFound", err)
	}
	if err := env.rel.AssignToClass(ctx, s.parent.ID, ""); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("AssignToClass(non-student) error = %v, want ErrUserNotFound", err)
	}
}
