package auth

import (
	"context"
	"fmt"
)

// RelationshipResolver answers ownership questions from current relational
// state. Implementations must not cache: links change at any time.
type RelationshipResolver interface {
	// IsParentOf reports whether a parent→child link exists between the
	// two user ids. Missing parent or student records yield false.
	IsParentOf(ctx context.Context, parentUserID, studentUserID string) (bool, error)

	// IsHomeTeacherOf reports whether the student is on the roster of a
	// class whose home teacher is teacherUserID.
	IsHomeTeacherOf(ctx context.Context, teacherUserID, studentUserID string) (bool, error)
}

// AccessEvaluator decides whether one principal may access another's data.
type AccessEvaluator struct {
	relationships RelationshipResolver
}

// NewAccessEvaluator returns an evaluator backed by rel.
func NewAccessEvaluator(rel RelationshipResolver) *AccessEvaluator {
	return &AccessEvaluator{relationships: rel}
}

// CanAccess applies, in order: self, admin, parent of the target, home
// teacher of the target, otherwise deny. Store failures are returned as
// errors, never as a silent deny or allow.
func (e *AccessEvaluator) CanAccess(ctx context.Context, actor *User, targetID string) (bool, error) {
	if actor == nil || actor.ID == "" || targetID == "" {
		return false, nil
	}

	if actor.ID == targetID {
		return true, nil
	}

	switch actor.Role {
	case RoleAdmin:
		return true, nil

	case RoleParent:
		ok, err := e.relationships.IsParentOf(ctx, actor.ID, targetID)
		if err != nil {
			return false, fmt.Errorf("resolving parent link: %w", err)
		}
		return ok, nil

	case RoleTeacher:
		ok, err := e.relationships.IsHomeTeacherOf(ctx, actor.ID, targetID)
		if err != nil {
			return false, fmt.Errorf("resolving class roster: %w", err)
		}
		return ok, nil

	case RoleStudent:
		return false, nil

	default:
		return false, nil
	}
}

// Authorize is CanAccess with a deny turned into ErrForbidden.
func (e *AccessEvaluator) Authorize(ctx context.Context, actor *User, targetID string) error {
	ok, err := e.CanAccess(ctx, actor, targetID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
