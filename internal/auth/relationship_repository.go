package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Class is a home class with an optional home teacher.
type Class struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	HomeTeacherUserID string    `json:"homeTeacherUserId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// RelationshipStore maintains the links the access rules read. All ids are
// user ids except classID.
type RelationshipStore interface {
	RelationshipResolver
	LinkChild(ctx context.Context, parentUserID, studentUserID, relation string, isPrimary bool) error
	UnlinkChild(ctx context.Context, parentUserID, studentUserID string) error
	CreateClass(ctx context.Context, name, homeTeacherUserID string) (*Class, error)
	AssignToClass(ctx context.Context, studentUserID, classID string) error
}

// SQLiteRelationshipRepository resolves and maintains parent→child and
// teacher→class→student links. All ids taken and returned are user ids;
// role-extension ids stay internal.
type SQLiteRelationshipRepository struct {
	db *sql.DB
}

// NewRelationshipRepository creates a new SQLite-backed relationship repository.
func NewRelationshipRepository(db *sql.DB) *SQLiteRelationshipRepository {
	return &SQLiteRelationshipRepository{db: db}
}

// IsParentOf implements RelationshipResolver.
func (r *SQLiteRelationshipRepository) IsParentOf(ctx context.Context, parentUserID, studentUserID string) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM parent_children pc
		JOIN parents p  ON p.id = pc.parent_id
		JOIN students s ON s.id = pc.student_id
		WHERE p.user_id = ? AND s.user_id = ?`,
		parentUserID, studentUserID)
}

// IsHomeTeacherOf implements RelationshipResolver.
func (r *SQLiteRelationshipRepository) IsHomeTeacherOf(ctx context.Context, teacherUserID, studentUserID string) (bool, error) {
	return r.exists(ctx, `
		SELECT 1 FROM students s
		JOIN classes c  ON c.id = s.class_id
		JOIN teachers t ON t.id = c.home_teacher_id
		WHERE t.user_id = ? AND s.user_id = ?`,
		teacherUserID, studentUserID)
}

func (r *SQLiteRelationshipRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query+" LIMIT 1", args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying relationship: %w", err)
	}
	return true, nil
}

// LinkChild links a parent account to a student account. Re-linking the
// same pair updates relation and isPrimary.
func (r *SQLiteRelationshipRepository) LinkChild(ctx context.Context, parentUserID, studentUserID, relation string, isPrimary bool) error {
	if relation == "" {
		relation = "guardian"
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO parent_children (parent_id, student_id, relation, is_primary, created_at)
		SELECT p.id, s.id, ?, ?, ?
		FROM parents p, students s
		WHERE p.user_id = ? AND s.user_id = ?
		ON CONFLICT (parent_id, student_id)
		DO UPDATE SET relation = excluded.relation, is_primary = excluded.is_primary`,
		relation, boolToInt(isPrimary), formatTime(time.Now()),
		parentUserID, studentUserID,
	)
	if err != nil {
		return fmt.Errorf("linking child: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return fmt.Errorf("%w: parent %s or student %s", ErrUserNotFound, parentUserID, studentUserID)
	}
	return nil
}

// UnlinkChild removes a parent→child link. Removing a missing link is not an error.
func (r *SQLiteRelationshipRepository) UnlinkChild(ctx context.Context, parentUserID, studentUserID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM parent_children
		WHERE parent_id = (SELECT id FROM parents WHERE user_id = ?)
		  AND student_id = (SELECT id FROM students WHERE user_id = ?)`,
		parentUserID, studentUserID)
	if err != nil {
		return fmt.Errorf("unlinking child: %w", err)
	}
	return nil
}

// CreateClass creates a class. homeTeacherUserID may be empty.
func (r *SQLiteRelationshipRepository) CreateClass(ctx context.Context, name, homeTeacherUserID string) (*Class, error) {
	c := &Class{
		ID:                newID("cls-"),
		Name:              name,
		HomeTeacherUserID: homeTeacherUserID,
		CreatedAt:         parseTime(formatTime(time.Now())),
	}

	var teacherID sql.NullString
	if homeTeacherUserID != "" {
		err := r.db.QueryRowContext(ctx,
			"SELECT id FROM teachers WHERE user_id = ?", homeTeacherUserID,
		).Scan(&teacherID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: teacher %s", ErrUserNotFound, homeTeacherUserID)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving home teacher: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO classes (id, name, home_teacher_id, created_at) VALUES (?, ?, ?, ?)",
		c.ID, c.Name, teacherID, formatTime(c.CreatedAt),
	)
	if err != nil {
		if uniqueViolationOn(err, "classes.name") {
			return nil, fmt.Errorf("%w: class name %q taken", ErrValidation, name)
		}
		return nil, fmt.Errorf("creating class: %w", err)
	}
	return c, nil
}

// AssignToClass moves a student into classID. An empty classID removes the
// student from any class.
func (r *SQLiteRelationshipRepository) AssignToClass(ctx context.Context, studentUserID, classID string) error {
	if classID != "" {
		var one int
		err := r.db.QueryRowContext(ctx, "SELECT 1 FROM classes WHERE id = ?", classID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrClassNotFound
		}
		if err != nil {
			return fmt.Errorf("resolving class: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE students SET class_id = ? WHERE user_id = ?", nullString(classID), studentUserID)
	if err != nil {
		return fmt.Errorf("assigning class: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return fmt.Errorf("%w: student %s", ErrUserNotFound, studentUserID)
	}
	return nil
}

// childrenQuery selects a parent's students, primary links first.
const childrenQuery = `
	SELECT s.user_id FROM parent_children pc
	JOIN parents p  ON p.id = pc.parent_id
	JOIN students s ON s.id = pc.student_id
	WHERE p.user_id = ?
	ORDER BY pc.is_primary DESC, s.user_id`

// ChildrenOf returns the user ids of the parent's linked students.
func (r *SQLiteRelationshipRepository) ChildrenOf(ctx context.Context, parentUserID string) ([]string, error) {
	return queryUserIDs(ctx, r.db, childrenQuery, parentUserID)
}

// RosterOf returns the user ids of students in classes taught by teacherUserID.
func (r *SQLiteRelationshipRepository) RosterOf(ctx context.Context, teacherUserID string) ([]string, error) {
	return queryUserIDs(ctx, r.db, `
		SELECT s.user_id FROM students s
		JOIN classes c  ON c.id = s.class_id
		JOIN teachers t ON t.id = c.home_teacher_id
		WHERE t.user_id = ?
		ORDER BY s.user_id`, teacherUserID)
}

// homeClassesOf lists the classes whose home teacher is teacherUserID.
func homeClassesOf(ctx context.Context, db *sql.DB, teacherUserID string) ([]ClassRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.name FROM classes c
		JOIN teachers t ON t.id = c.home_teacher_id
		WHERE t.user_id = ?
		ORDER BY c.name`, teacherUserID)
	if err != nil {
		return nil, fmt.Errorf("querying home classes: %w", err)
	}
	defer rows.Close()

	var classes []ClassRef
	for rows.Next() {
		var ref ClassRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scanning class: %w", err)
		}
		classes = append(classes, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating home classes: %w", err)
	}
	return classes, nil
}

func queryUserIDs(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return ids, nil
}
