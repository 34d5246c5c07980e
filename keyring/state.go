// Package keyring is the key hierarchy manager. It owns the session state
// machine and the unwrapped vault, private and organization keys, which live
// only inside memguard enclaves while the session is unlocked.
package keyring

import (
	"errors"
	"slices"
)

// State is the session state.
type State int

const (
	LoggedOut State = iota
	Locked
	Unlocking
	Unlocked
	LockedInvalid
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	case LockedInvalid:
		return "locked_invalid"
	default:
		return "unknown"
	}
}

// Snapshot is the observable view of the session. It never carries key
// material.
type Snapshot struct {
	State           State
	UserID          string
	Email           string
	FailedAttempts  int
	OrganizationIDs []string
}

func (s Snapshot) clone() Snapshot {
	s.OrganizationIDs = slices.Clone(s.OrganizationIDs)
	return s
}

var (
	// ErrLocked is returned when a key is requested while the session is
	// not unlocked or the requested key is not loaded.
	ErrLocked = errors.New("keyring: locked")
	// ErrInvalidPassword is the single user-facing unlock failure. It covers
	// both a wrong password and a corrupted vault.
	ErrInvalidPassword = errors.New("keyring: invalid master password")
	// ErrNoAccount is returned when no key material is stored.
	ErrNoAccount = errors.New("keyring: no account")
	// ErrRotationVerify is returned when a re-wrapped vault key fails to
	// open with the new password. Nothing is committed in that case.
	ErrRotationVerify = errors.New("keyring: rotated key failed verification")
)
