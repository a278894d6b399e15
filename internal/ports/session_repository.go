package ports

import (
	"context"
	"time"

	domainticket "ticketpilot/internal/domain/ticket"
)

type Session struct {
	ID             uint64
	Customer       string
	PurchasedHours float64
	ConsumedHours  float64
	RemainingHours float64
	Status         domainticket.SessionStatus

	FirstWarningSent  bool
	SecondWarningSent bool
	ExpiryNotified    bool

	ProcessedTickets  int
	SuccessfulTickets int
	FailedTickets     int

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActivity *time.Time
}

type SessionRepository interface {
	Get(ctx context.Context, id uint64) (Session, error)
	Create(ctx context.Context, s Session) (Session, error)
	// Save writes the full budget/flag/counter state; callers run it inside
	// a unit-of-work transaction when atomicity matters.
	Save(ctx context.Context, s Session) error
	ListByStatus(ctx context.Context, status domainticket.SessionStatus) ([]Session, error)
	// ListActiveWithBudgetAtMost returns active sessions whose remaining
	// hours are at or below the given ceiling, for warning/expiry scans.
	ListActiveWithBudgetAtMost(ctx context.Context, maxRemaining float64) ([]Session, error)
}
