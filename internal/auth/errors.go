package auth

import "errors"

// Sentinel errors for auth operations. Use KindOf to map any of them to
// the caller-facing category.
var (
	// Conflict
	ErrEmailExists = errors.New("email already registered")

	// Unauthorized
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrWrongPassword         = errors.New("current password is incorrect")
	ErrAccountBlocked        = errors.New("account blocked")
	ErrEmailNotVerified      = errors.New("verify email before signing in")
	ErrInvalidRefreshToken   = errors.New("invalid or expired refresh token")
	ErrInvalidAccessToken    = errors.New("invalid or expired access token")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenMalformed        = errors.New("malformed token")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")

	// Forbidden
	ErrForbidden = errors.New("insufficient permissions")

	// Validation
	ErrValidation       = errors.New("invalid request")
	ErrNonPublicRole    = errors.New("role cannot be self-registered")
	ErrSamePassword     = errors.New("new password must differ from the current one")
	ErrWeakPassword     = errors.New("password must be 8 to 72 characters with upper and lower case letters and a digit")
	ErrSelfModification = errors.New("cannot modify own account in this way")
	ErrInvalidStatus    = errors.New("status transition not allowed")

	// Not found
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrClassNotFound   = errors.New("class not found")
)

// ErrorKind is the caller-facing failure category.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindConflict
	KindUnauthorized
	KindForbidden
	KindValidation
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// KindOf classifies err. Anything not wrapping a known sentinel is internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrEmailExists):
		return KindConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrWrongPassword),
		errors.Is(err, ErrAccountBlocked),
		errors.Is(err, ErrEmailNotVerified),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrInvalidAccessToken),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenSignatureInvalid):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNonPublicRole),
		errors.Is(err, ErrSamePassword),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrSelfModification),
		errors.Is(err, ErrInvalidStatus):
		return KindValidation
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrClassNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
