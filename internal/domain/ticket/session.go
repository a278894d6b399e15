package ticket

import (
	"fmt"
	"strings"
)

// SessionStatus is the state of a customer's metered session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionExpired   SessionStatus = "expired"
	SessionCancelled SessionStatus = "cancelled"
)

func ParseSessionStatus(raw string) (SessionStatus, error) {
	s := SessionStatus(strings.TrimSpace(strings.ToLower(raw)))
	switch s {
	case SessionActive, SessionPaused, SessionExpired, SessionCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown session status %q", raw)
	}
}

func (s SessionStatus) String() string { return string(s) }

// HasActiveBudget is the named scheduling predicate: a session may accept
// new work only while active with remaining hours.
func HasActiveBudget(status SessionStatus, remainingHours float64) bool {
	return status == SessionActive && remainingHours > 0
}

// ThresholdCrossed reports whether consumption has reached the given
// fraction of the purchased budget.
func ThresholdCrossed(consumed, purchased, threshold float64) bool {
	if purchased <= 0 {
		return false
	}
	return consumed/purchased >= threshold
}
