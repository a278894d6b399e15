package ports

import (
	"context"
	"time"

	domainticket "ticketpilot/internal/domain/ticket"
)

// RetryStatus is the lifecycle of one RetryAttempt row.
type RetryStatus string

const (
	RetryStatusPending  RetryStatus = "pending"
	RetryStatusRetrying RetryStatus = "retrying"
	RetryStatusSuccess  RetryStatus = "success"
	RetryStatusFailed   RetryStatus = "failed"
)

func (s RetryStatus) IsTerminal() bool {
	return s == RetryStatusSuccess || s == RetryStatusFailed
}

type RetryAttempt struct {
	ID            uint64
	TicketID      uint64
	Operation     domainticket.Operation
	AttemptNumber int
	MaxAttempts   int
	Status        RetryStatus
	DelaySeconds  int
	NextAttemptAt *time.Time
	ErrorMessage  string
	Context       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RetryRepository interface {
	// GetOpen returns the single non-terminal attempt for the pair, if any.
	GetOpen(ctx context.Context, ticketID uint64, op domainticket.Operation) (RetryAttempt, bool, error)
	Create(ctx context.Context, attempt RetryAttempt) (RetryAttempt, error)
	Update(ctx context.Context, attempt RetryAttempt) error
	// ListDue returns retrying attempts whose next_attempt_at is at or
	// before now, for the poll-based re-entry scan.
	ListDue(ctx context.Context, now time.Time, limit int) ([]RetryAttempt, error)
	ListByTicket(ctx context.Context, ticketID uint64) ([]RetryAttempt, error)
}
