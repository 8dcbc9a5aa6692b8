package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat matches the fixed-width UTC layout used by the auth tables.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Activity actions written by the auth service.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionLogoutAll      = "logout_all"
	ActionChangePassword = "change_password"
	ActionUpdateStatus   = "update_status"
	ActionLinkChild      = "link_child"
	ActionUnlinkChild    = "unlink_child"
	ActionCreateClass    = "create_class"
	ActionAssignClass    = "assign_class"
)

// Entities an entry can refer to.
const (
	EntityUser  = "user"
	EntityClass = "class"
)

// MetaOutcome is the metadata key carrying OutcomeSuccess or OutcomeFailure.
// Entries without it count as successes.
const (
	MetaOutcome    = "outcome"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is a single activity trail record.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Filter controls which entries List returns.
type Filter struct {
	UserID string // optional
	Action string // optional
	Entity string // optional
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult contains one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines activity log persistence.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in the activity_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new activity log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Name identifies the repository when used as a dispatcher sink.
func (r *SQLiteRepository) Name() string { return "sqlite" }

// Write implements Sink.
func (r *SQLiteRepository) Write(ctx context.Context, e *Entry) error {
	return r.Create(ctx, e)
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
// An entry whose user no longer exists is stored without a user.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "act-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var metadata *string
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling activity metadata: %w", err)
		}
		s := string(b)
		metadata = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_logs (id, user_id, action, entity, entity_id, ip_address, user_agent, metadata, created_at)
		 VALUES (?, (SELECT id FROM users WHERE id = ?), ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(e.UserID), e.Action, e.Entity,
		nullableString(e.EntityID), nullableString(e.IPAddress), nullableString(e.UserAgent),
		metadata, e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting activity log: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Entity != "" {
		conditions = append(conditions, "entity = ?")
		args = append(args, filter.Entity)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM activity_logs "+where, args..., //nolint:gosec // WHERE built from parameterised conditions
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting activity logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action, entity, entity_id, ip_address, user_agent, metadata, created_at
		 FROM activity_logs `+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, //nolint:gosec // WHERE built from parameterised conditions
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying activity logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var userID, entityID, ip, ua, metadata sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.Entity,
			&entityID, &ip, &ua, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity log: %w", err)
		}

		e.UserID = userID.String
		e.EntityID = entityID.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		if metadata.Valid && metadata.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(metadata.String), &m) == nil {
				e.Metadata = m
			}
		}
		e.CreatedAt, err = time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing activity timestamp %q: %w", createdAt, err)
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity logs: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
