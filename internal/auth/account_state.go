package auth

import "fmt"

// CheckAuthentication gates token issuance on account status. It runs on
// every login and every refresh, since status may change between the two.
//
//	PENDING              -> ErrEmailNotVerified
//	SUSPENDED, INACTIVE  -> ErrAccountBlocked
//	ACTIVE               -> nil
func CheckAuthentication(status Status) error {
	switch status {
	case StatusActive:
		return nil
	case StatusPending:
		return ErrEmailNotVerified
	case StatusSuspended, StatusInactive:
		return ErrAccountBlocked
	default:
		return fmt.Errorf("%w: unknown status %q", ErrAccountBlocked, status)
	}
}

// CheckAccess gates use of an already issued access token. Pending accounts
// keep read access to their own data until verified; blocked ones lose it.
func CheckAccess(status Status) error {
	switch status {
	case StatusActive, StatusPending:
		return nil
	case StatusSuspended, StatusInactive:
		return ErrAccountBlocked
	default:
		return fmt.Errorf("%w: unknown status %q", ErrAccountBlocked, status)
	}
}

// statusTransitions lists the status changes an administrator may make.
var statusTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusActive:   {},
		StatusInactive: {},
	},
	StatusActive: {
		StatusSuspended: {},
		StatusInactive:  {},
	},
	StatusSuspended: {
		StatusActive:   {},
		StatusInactive: {},
	},
	StatusInactive: {
		StatusActive: {},
	},
}

// ValidStatusTransition reports whether an account may move from one status
// to another. Staying in the same status is not a transition.
func ValidStatusTransition(from, to Status) bool {
	_, ok := statusTransitions[from][to]
	return ok
}
