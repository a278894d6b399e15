package ticket

import "strings"

// EligibilityInput carries the ticket attributes the selection policy
// inspects before letting a ticket enter pending -> analyzing.
type EligibilityInput struct {
	Status         Status
	Assignee       *string
	Labels         []string
	HasRepository  bool
	RequiredLabel  string
	AllowAssigned  bool
	SessionStatus  SessionStatus
	RemainingHours float64
}

// CheckEligibility applies the selection policy. A nil return means the
// ticket may be picked up; a non-nil return is the business reason it may
// not, using the package sentinel errors.
func CheckEligibility(in EligibilityInput) error {
	if in.Status != StatusPending && !in.Status.CanRestart() {
		return ErrTerminalStatus
	}
	if !hasLabel(in.Labels, in.RequiredLabel) {
		return ErrMissingLabel
	}
	if !in.AllowAssigned && in.Assignee != nil && strings.TrimSpace(*in.Assignee) != "" {
		return ErrTicketAssigned
	}
	if !in.HasRepository {
		return ErrMissingRepository
	}
	if in.SessionStatus != SessionActive {
		return ErrSessionNotActive
	}
	if in.RemainingHours <= 0 {
		return ErrBudgetExhausted
	}
	return nil
}

func hasLabel(labels []string, wanted string) bool {
	wanted = strings.TrimSpace(wanted)
	if wanted == "" {
		return true
	}
	for _, label := range labels {
		if strings.EqualFold(strings.TrimSpace(label), wanted) {
			return true
		}
	}
	return false
}
