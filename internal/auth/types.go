package auth

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role is the closed set of account roles.
type Role string

const (
	// RoleStudent is a learner enrolled in at most one home class.
	RoleStudent Role = "STUDENT"

	// RoleParent is a guardian linked to one or more students.
	RoleParent Role = "PARENT"

	// RoleTeacher may be the home teacher of a class and sees its roster.
	RoleTeacher Role = "TEACHER"

	// RoleAdmin has unconditional access to every account.
	RoleAdmin Role = "ADMIN"
)

// IsValid reports whether r is one of the four known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleParent, RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsPublic reports whether an account with role r may be self-registered.
// Teachers and admins are provisioned by an administrator.
func (r Role) IsPublic() bool {
	return r == RoleStudent || r == RoleParent
}

// Status is the account lifecycle state checked by the account gate.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusInactive  Status = "INACTIVE"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusInactive:
		return true
	default:
		return false
	}
}

// Profile holds the display fields captured at registration.
type Profile struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

// User is a principal: an account with a role and a lifecycle status.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	Profile      Profile    `json:"profile"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`

	// RoleRecordID is the id of the role-extension row (students.id,
	// parents.id, ...). Populated by FindByID and FindByEmail.
	RoleRecordID string `json:"-"`

	// Role-extension data, populated by FindByID and FindByEmail for the
	// matching role only.
	Class       *ClassRef  `json:"class,omitempty"`       // student
	Children    []string   `json:"children,omitempty"`    // parent: student user ids
	HomeClasses []ClassRef `json:"homeClasses,omitempty"` // teacher
}

// ClassRef identifies a class in a user view.
type ClassRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PublicUser is the view of a user returned to clients.
type PublicUser struct {
	ID      string  `json:"id"`
	Email   string  `json:"email"`
	Role    Role    `json:"role"`
	Status  Status  `json:"status"`
	Profile Profile `json:"profile"`

	Class       *ClassRef  `json:"class,omitempty"`
	Children    []string   `json:"children,omitempty"`
	HomeClasses []ClassRef `json:"homeClasses,omitempty"`
}

// Public returns the client-facing view of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		Status:      u.Status,
		Profile:     u.Profile,
		Class:       u.Class,
		Children:    u.Children,
		HomeClasses: u.HomeClasses,
	}
}

// Session is a live refresh-token record bound to one user and one device.
// The raw token is never stored, only its SHA-256 hash.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TokenPair is returned by every operation that starts or rotates a session.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is the outcome of register and login.
type AuthResult struct {
	Tokens TokenPair  `json:"tokens"`
	User   PublicUser `json:"user"`
}

// Request metadata limits.
const (
	MaxUserAgentLength = 500
	MaxIPAddressLength = 45 // longest textual IPv6 form
)

// RequestMeta carries optional, best-effort client details for a request.
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

// Normalized returns m with both fields trimmed to their storage limits.
func (m RequestMeta) Normalized() RequestMeta {
	return RequestMeta{
		UserAgent: truncate(m.UserAgent, MaxUserAgentLength),
		IPAddress: truncate(m.IPAddress, MaxIPAddressLength),
	}
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// NormalizeEmail lower-cases and trims an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
