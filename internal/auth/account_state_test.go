package auth

import (
	"errors"
	"testing"
)

func TestCheckAuthentication(t *testing.T) {
	tests := []struct {
		status Status
		want   error
	}{
		{StatusActive, nil},
		{StatusPending, ErrEmailNotVerified},
		{StatusSuspended, ErrAccountBlocked},
		{StatusInactive, ErrAccountBlocked},
		{Status("DELETED"), ErrAccountBlocked},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			err := CheckAuthentication(tt.status)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("CheckAuthentication(%s) = %v, want %v", tt.status, err, tt.want)
			}
			if err != nil && KindOf(err) != KindUnauthorized {
				t.Errorf("kind = %v, want unauthorized", KindOf(err))
			}
		})
	}

	if errors.Is(ErrEmailNotVerified, ErrAccountBlocked) {
		t.Error("pending and blocked must be distinguishable")
	}
}

func TestCheckAccess(t *testing.T) {
	if err := CheckAccess(StatusPending); err != nil {
		t.Errorf("CheckAccess(PENDING) = %v, want nil", err)
	}
	if err := CheckAccess(StatusActive); err != nil {
		t.Errorf("CheckAccess(ACTIVE) = %v, want nil", err)
	}
	for _, s := range []Status{StatusSuspended, StatusInactive} {
		if err := CheckAccess(s); !errors.Is(err, ErrAccountBlocked) {
			t.Errorf("CheckAccess(%s) = %v, want ErrAccountBlocked", s, err)
		}
	}
}

func TestValidStatusTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusSuspended, false},
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusPending, false},
		{StatusSuspended, StatusActive, true},
		{StatusInactive, StatusActive, true},
		{StatusInactive, StatusSuspended, false},
		{StatusActive, StatusActive, false},
	}
	for _, tt := range tests {
		if got := ValidStatusTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidStatusTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
