package session

import "github.com/0Ankit0/identitykit/users"

// State is the session lifecycle state. A forced revocation is published as
// CauseRevoked on the transition back to StateAnonymous; once the clear
// completes there is no observable difference from a normal logout, so no
// separate terminal state is retained.
type State int

const (
	StateAnonymous State = iota
	StatePendingSecondFactor
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StatePendingSecondFactor:
		return "pending_second_factor"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Cause explains why a transition happened.
type Cause int

const (
	CauseLogin Cause = iota
	CauseLogout
	CauseRevoked
	CauseRestore
	CauseRestoreFailed
	CauseChallengeExpired
	CauseTenantSwitch
)

func (c Cause) String() string {
	switch c {
	case CauseLogout:
		return "logout"
	case CauseRevoked:
		return "revoked"
	case CauseRestore:
		return "restore"
	case CauseRestoreFailed:
		return "restore_failed"
	case CauseChallengeExpired:
		return "challenge_expired"
	case CauseTenantSwitch:
		return "tenant_switch"
	default:
		return "login"
	}
}

// Event is one observed state change, delivered to subscribers.
type Event struct {
	State State
	Cause Cause
	User  *users.User
}
