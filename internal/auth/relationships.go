package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/campus-auth/internal/audit"
)

// Relationship input limits.
const (
	MaxRelationLength  = 50
	MaxClassNameLength = 50
)

var errNoRelationshipStore = errors.New("auth service: relationship store not configured")

// LinkChildInput describes a parent→child link.
type LinkChildInput struct {
	StudentID string
	Relation  string // defaults to "guardian"
	IsPrimary bool
}

// LinkChild links parentID to a student on behalf of actor, who must hold
// PermRelationshipWrite. Re-linking the same pair updates the relation.
// It returns the parent with its children loaded.
func (s *Service) LinkChild(ctx context.Context, actor *User, parentID string, in LinkChildInput, meta RequestMeta) (*User, error) {
	if err := s.requireRelationshipWrite(actor); err != nil {
		return nil, err
	}
	relation := strings.TrimSpace(in.Relation)
	if len(relation) > MaxRelationLength {
		return nil, fmt.Errorf("%w: relation longer than %d characters", ErrValidation, MaxRelationLength)
	}
	if err := s.requireRole(ctx, parentID, RoleParent); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, in.StudentID, RoleStudent); err != nil {
		return nil, err
	}

	if err := s.relationships.LinkChild(ctx, parentID, in.StudentID, relation, in.IsPrimary); err != nil {
		return nil, err
	}

	s.logActivity(ctx, actor.ID, audit.ActionLinkChild, parentID, meta, map[string]any{
		"childId":   in.StudentID,
		"isPrimary": in.IsPrimary,
	})
	s.logger.Info("child linked", "parent_id", parentID, "child_id", in.StudentID, "by", actor.ID)
	return s.users.FindByID(ctx, parentID)
}

// UnlinkChild removes a parent→child link. Removing a missing link is not
// an error.
func (s *Service) UnlinkChild(ctx context.Context, actor *User, parentID, studentID string, meta RequestMeta) error {
	if err := s.requireRelationshipWrite(actor); err != nil {
		return err
	}
	if err := s.relationships.UnlinkChild(ctx, parentID, studentID); err != nil {
		return err
	}

	s.logActivity(ctx, actor.ID, audit.ActionUnlinkChild, parentID, meta, map[string]any{
		"childId": studentID,
	})
	return nil
}

// CreateClass creates a class with an optional home teacher. Class names
// are unique.
func (s *Service) CreateClass(ctx context.Context, actor *User, name, homeTeacherID string, meta RequestMeta) (*Class, error) {
	if err := s.requireRelationshipWrite(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxClassNameLength {
		return nil, fmt.Errorf("%w: class name must be 1 to %d characters", ErrValidation, MaxClassNameLength)
	}
	if homeTeacherID != "" {
		if err := s.requireRole(ctx, homeTeacherID, RoleTeacher); err != nil {
			return nil, err
		}
	}

	class, err := s.relationships.CreateClass(ctx, name, homeTeacherID)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, actor.ID, audit.ActionCreateClass, audit.EntityClass, class.ID, meta, map[string]any{
		"name": class.Name,
	})
	s.logger.Info("class created", "class_id", class.ID, "name", class.Name, "by", actor.ID)
	return class, nil
}

// AssignToClass moves a student into classID, or out of any class when
// classID is empty. It returns the student with the class loaded.
func (s *Service) AssignToClass(ctx context.Context, actor *User, studentID, classID string, meta RequestMeta) (*User, error) {
	if err := s.requireRelationshipWrite(actor); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, studentID, RoleStudent); err != nil {
		return nil, err
	}
	if err := s.relationships.AssignToClass(ctx, studentID, classID); err != nil {
		return nil, err
	}

	s.logActivity(ctx, actor.ID, audit.ActionAssignClass, studentID, meta, map[string]any{
		"classId": classID,
	})
	return s.users.FindByID(ctx, studentID)
}

func (s *Service) requireRelationshipWrite(actor *User) error {
	if err := RequirePermission(actor, PermRelationshipWrite); err != nil {
		return err
	}
	if s.relationships == nil {
		return errNoRelationshipStore
	}
	return nil
}

// requireRole fails with ErrUserNotFound when id is missing and with
// ErrValidation when it has another role.
func (s *Service) requireRole(ctx context.Context, id string, role Role) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if user.Role != role {
		return fmt.Errorf("%w: user %s is a %s, not a %s", ErrValidation, id, user.Role, role)
	}
	return nil
}
