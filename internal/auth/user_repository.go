package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/campus-auth/internal/infrastructure/database"
)

// UserDirectory persists principals together with their profile, role
// record and notification settings.
type UserDirectory interface {
	// FindByEmail looks up a user by normalised email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByID looks up a user with profile, role record and role data
	// (class, children or home classes) loaded.
	FindByID(ctx context.Context, id string) (*User, error)

	// Create writes the user, profile, role record and default notification
	// settings in one transaction. Fails with ErrEmailExists on a duplicate.
	Create(ctx context.Context, user *User) error

	// RecordLogin stamps lastLoginAt and, when newHash is non-empty,
	// replaces the stored password hash in the same statement.
	RecordLogin(ctx context.Context, id string, at time.Time, newHash string) error

	// UpdateStatus sets the account status.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// UpdatePasswordAndRevokeSessions replaces the hash and deletes every
	// session of the user in one transaction, returning the session count.
	UpdatePasswordAndRevokeSessions(ctx context.Context, id, hash string) (int64, error)

	// Delete removes the user and, by cascade, everything it owns.
	Delete(ctx context.Context, id string) error

	// CountByRole returns the number of users with role.
	CountByRole(ctx context.Context, role Role) (int, error)
}

// SQLiteUserRepository implements UserDirectory using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user directory.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// roleRecordWriter inserts the role-extension row for a new user and
// returns its id.
type roleRecordWriter func(ctx context.Context, tx *sql.Tx, userID, now string) (string, error)

// roleRecordFor returns the writer for role. Adding a Role constant without
// a case here makes registration of that role fail loudly.
func roleRecordFor(role Role) (roleRecordWriter, error) {
	switch role {
	case RoleStudent:
		return insertStudentRecord, nil
	case RoleParent:
		return insertParentRecord, nil
	case RoleTeacher:
		return insertTeacherRecord, nil
	case RoleAdmin:
		return insertAdminRecord, nil
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
}

func insertStudentRecord(ctx context.Context, tx *sql.Tx, userID, now string) (string, error) {
	id := newID("stu-")
	_, err := tx.ExecContext(ctx,
		"INSERT INTO students (id, user_id, class_id, created_at) VALUES (?, ?, NULL, ?)", id, userID, now)
	return id, err
}

func insertParentRecord(ctx context.Context, tx *sql.Tx, userID, now string) (string, error) {
	id := newID("par-")
	_, err := tx.ExecContext(ctx,
		"INSERT INTO parents (id, user_id, created_at) VALUES (?, ?, ?)", id, userID, now)
	return id, err
}

func insertTeacherRecord(ctx context.Context, tx *sql.Tx, userID, now string) (string, error) {
	id := newID("tea-")
	_, err := tx.ExecContext(ctx,
		"INSERT INTO teachers (id, user_id, created_at) VALUES (?, ?, ?)", id, userID, now)
	return id, err
}

func insertAdminRecord(ctx context.Context, tx *sql.Tx, userID, now string) (string, error) {
	id := newID("adm-")
	_, err := tx.ExecContext(ctx,
		"INSERT INTO admins (id, user_id, created_at) VALUES (?, ?, ?)", id, userID, now)
	return id, err
}

// Create implements UserDirectory. The ID is generated if empty and the
// status defaults to PENDING.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	writeRoleRecord, err := roleRecordFor(user.Role)
	if err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = newID("usr-")
	}
	if user.Status == "" {
		user.Status = StatusPending
	}
	user.Email = NormalizeEmail(user.Email)

	created := parseTime(formatTime(time.Now()))
	now := formatTime(created)

	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, role, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.PasswordHash, string(user.Role), string(user.Status), now, now,
		); err != nil {
			if uniqueViolationOn(err, "users.email") {
				return ErrEmailExists
			}
			return fmt.Errorf("creating user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (user_id, first_name, last_name, middle_name, avatar)
			 VALUES (?, ?, ?, ?, ?)`,
			user.ID, user.Profile.FirstName, user.Profile.LastName,
			nullString(user.Profile.MiddleName), nullString(user.Profile.Avatar),
		); err != nil {
			return fmt.Errorf("creating profile: %w", err)
		}

		roleRecordID, err := writeRoleRecord(ctx, tx, user.ID, now)
		if err != nil {
			return fmt.Errorf("creating %s record: %w", user.Role, err)
		}
		user.RoleRecordID = roleRecordID

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO notification_settings (user_id, email_enabled, push_enabled, created_at) VALUES (?, 1, 1, ?)",
			user.ID, now,
		); err != nil {
			return fmt.Errorf("creating notification settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	user.CreatedAt = created
	user.UpdatedAt = created
	return nil
}

const userSelect = `
	SELECT u.id, u.email, u.password_hash, u.role, u.status, u.last_login_at,
	       u.created_at, u.updated_at,
	       p.first_name, p.last_name, p.middle_name, p.avatar,
	       COALESCE(st.id, pa.id, te.id, ad.id, '')
	FROM users u
	LEFT JOIN profiles p  ON p.user_id = u.id
	LEFT JOIN students st ON st.user_id = u.id
	LEFT JOIN parents pa  ON pa.user_id = u.id
	LEFT JOIN teachers te ON te.user_id = u.id
	LEFT JOIN admins ad   ON ad.user_id = u.id`

// FindByEmail implements UserDirectory.
func (r *SQLiteUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.find(ctx, " WHERE u.email = ?", NormalizeEmail(email))
}

// FindByID implements UserDirectory.
func (r *SQLiteUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.find(ctx, " WHERE u.id = ?", id)
}

func (r *SQLiteUserRepository) find(ctx context.Context, where string, arg string) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, userSelect+where, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadRoleData(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// loadRoleData fills the role-extension fields of user.
func (r *SQLiteUserRepository) loadRoleData(ctx context.Context, user *User) error {
	switch user.Role {
	case RoleStudent:
		var ref ClassRef
		err := r.db.QueryRowContext(ctx, `
			SELECT c.id, c.name FROM students s
			JOIN classes c ON c.id = s.class_id
			WHERE s.user_id = ?`, user.ID).Scan(&ref.ID, &ref.Name)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading student class: %w", err)
		}
		user.Class = &ref

	case RoleParent:
		children, err := queryUserIDs(ctx, r.db, childrenQuery, user.ID)
		if err != nil {
			return err
		}
		user.Children = children

	case RoleTeacher:
		classes, err := homeClassesOf(ctx, r.db, user.ID)
		if err != nil {
			return err
		}
		user.HomeClasses = classes
	}
	return nil
}

// RecordLogin implements UserDirectory.
func (r *SQLiteUserRepository) RecordLogin(ctx context.Context, id string, at time.Time, newHash string) error {
	stamp := formatTime(at)
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET last_login_at = ?, password_hash = COALESCE(?, password_hash), updated_at = ?
		 WHERE id = ?`,
		stamp, nullString(newHash), stamp, id)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return requireRow(result)
}

// UpdateStatus implements UserDirectory.
func (r *SQLiteUserRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return requireRow(result)
}

// UpdatePasswordAndRevokeSessions implements UserDirectory.
func (r *SQLiteUserRepository) UpdatePasswordAndRevokeSessions(ctx context.Context, id, hash string) (int64, error) {
	var revoked int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
			hash, formatTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		if err := requireRow(result); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", id)
		if err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		revoked, _ = result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// Delete implements UserDirectory.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireRow(result)
}

// CountByRole implements UserDirectory.
func (r *SQLiteUserRepository) CountByRole(ctx context.Context, role Role) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE role = ?", string(role),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(s scanner) (*User, error) {
	var u User
	var role, status, createdAt, updatedAt string
	var lastLogin, firstName, lastName, middleName, avatar sql.NullString

	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &status, &lastLogin,
		&createdAt, &updatedAt,
		&firstName, &lastName, &middleName, &avatar,
		&u.RoleRecordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.Status = Status(status)
	u.LastLoginAt = parseNullTime(lastLogin)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	u.Profile = Profile{
		FirstName:  firstName.String,
		LastName:   lastName.String,
		MiddleName: middleName.String,
		Avatar:     avatar.String,
	}
	return &u, nil
}
