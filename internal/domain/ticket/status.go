package ticket

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a ticket. The happy path runs
// pending -> analyzing -> generating_solution -> executing -> creating_pr
// -> completed; retrying, requires_review, failed and cancelled are side
// branches. completed, failed and cancelled are terminal.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAnalyzing          Status = "analyzing"
	StatusGeneratingSolution Status = "generating_solution"
	StatusExecuting          Status = "executing"
	StatusCreatingPR         Status = "creating_pr"
	StatusRetrying           Status = "retrying"
	StatusRequiresReview     Status = "requires_review"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
	StatusCompleted          Status = "completed"
)

// AllStatuses lists every status, in lifecycle order first.
var AllStatuses = []Status{
	StatusPending,
	StatusAnalyzing,
	StatusGeneratingSolution,
	StatusExecuting,
	StatusCreatingPR,
	StatusRetrying,
	StatusRequiresReview,
	StatusFailed,
	StatusCancelled,
	StatusCompleted,
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	switch s {
	case StatusPending, StatusAnalyzing, StatusGeneratingSolution, StatusExecuting,
		StatusCreatingPR, StatusRetrying, StatusRequiresReview, StatusFailed,
		StatusCancelled, StatusCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition may occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusAnalyzing, StatusGeneratingSolution, StatusExecuting,
		StatusCreatingPR, StatusRetrying, StatusRequiresReview:
		return false
	default:
		return false
	}
}

// CanRestart reports whether a new processing attempt may re-enter pending
// from this status. Only failed and requires_review qualify, and only while
// the owning session still has budget (checked by the caller).
func (s Status) CanRestart() bool {
	return s == StatusFailed || s == StatusRequiresReview
}

// IsProcessing reports whether the status is one of the four working states
// that each perform exactly one external operation.
func (s Status) IsProcessing() bool {
	switch s {
	case StatusAnalyzing, StatusGeneratingSolution, StatusExecuting, StatusCreatingPR:
		return true
	default:
		return false
	}
}

// Operation maps a working status to the external operation it performs.
// ok is false for statuses that perform none.
func (s Status) Operation() (Operation, bool) {
	switch s {
	case StatusAnalyzing:
		return OperationFetch, true
	case StatusGeneratingSolution:
		return OperationGenerate, true
	case StatusExecuting:
		return OperationExecute, true
	case StatusCreatingPR:
		return OperationPublish, true
	default:
		return "", false
	}
}

// NextWorking returns the status that follows s on the happy path.
func (s Status) NextWorking() (Status, bool) {
	switch s {
	case StatusPending:
		return StatusAnalyzing, true
	case StatusAnalyzing:
		return StatusGeneratingSolution, true
	case StatusGeneratingSolution:
		return StatusExecuting, true
	case StatusExecuting:
		return StatusCreatingPR, true
	case StatusCreatingPR:
		return StatusCompleted, true
	default:
		return "", false
	}
}

// CanTransition reports whether moving from s to next is a legal
// state-machine edge.
func CanTransition(s, next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}

	switch s {
	case StatusPending, StatusAnalyzing, StatusGeneratingSolution, StatusExecuting, StatusCreatingPR:
		if working, ok := s.NextWorking(); ok && next == working {
			return true
		}
		return next == StatusRetrying || next == StatusFailed || next == StatusRequiresReview
	case StatusRetrying:
		// Retrying returns to the originating working state when due.
		return next.IsProcessing() || next == StatusFailed || next == StatusRequiresReview
	case StatusRequiresReview, StatusFailed:
		return next == StatusPending && s.CanRestart()
	default:
		return false
	}
}
