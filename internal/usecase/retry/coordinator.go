package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/bootstrap/logging"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

type DecisionKind int

const (
	// DecisionProceed: the operation may run now (first try, or a due
	// retry).
	DecisionProceed DecisionKind = iota
	// DecisionWait: a retry is scheduled but not yet due.
	DecisionWait
	// DecisionExhausted: the attempt ceiling is spent; the ticket fails.
	DecisionExhausted
)

type Decision struct {
	Kind          DecisionKind
	NextAttemptAt time.Time
	AttemptNumber int
}

// Coordinator is the stateless retry policy over persisted RetryAttempt
// rows. Delay is fixed per configuration, deliberately not exponential:
// deterministic delay_seconds keeps retry scheduling predictable for the
// poll-based runner.
type Coordinator struct {
	attempts ports.RetryRepository
	cfg      config.PipelineConfig
	now      func() time.Time
}

func NewCoordinator(attempts ports.RetryRepository, cfg config.PipelineConfig) *Coordinator {
	return &Coordinator{
		attempts: attempts,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// ShouldRetry reports whether the operation may run for the ticket right
// now, must wait, or has exhausted its attempts.
func (c *Coordinator) ShouldRetry(ctx context.Context, ticketID uint64, op domainticket.Operation) (Decision, error) {
	open, found, err := c.attempts.GetOpen(ctx, ticketID, op)
	if err != nil {
		return Decision{}, errs.Wrap(err, "load open retry attempt")
	}

	if found {
		if open.NextAttemptAt != nil && open.NextAttemptAt.After(c.now()) {
			return Decision{Kind: DecisionWait, NextAttemptAt: *open.NextAttemptAt, AttemptNumber: open.AttemptNumber}, nil
		}
		return Decision{Kind: DecisionProceed, AttemptNumber: open.AttemptNumber}, nil
	}

	// No open attempt: either a clean slate or a terminal row.
	history, err := c.attempts.ListByTicket(ctx, ticketID)
	if err != nil {
		return Decision{}, errs.Wrap(err, "load retry history")
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Operation != op {
			continue
		}
		if history[i].Status == ports.RetryStatusFailed {
			return Decision{Kind: DecisionExhausted, AttemptNumber: history[i].AttemptNumber}, nil
		}
		break
	}
	return Decision{Kind: DecisionProceed}, nil
}

// RecordOutcome persists the result of one execution of the operation. On
// failure it creates or advances the single open RetryAttempt for the
// (ticket, operation) pair and decides retry-vs-exhausted; on success it
// closes the pair terminally without touching other operations of the same
// ticket.
func (c *Coordinator) RecordOutcome(ctx context.Context, ticketID uint64, op domainticket.Operation, success bool, opErr error) (Decision, error) {
	open, found, err := c.attempts.GetOpen(ctx, ticketID, op)
	if err != nil {
		return Decision{}, errs.Wrap(err, "load open retry attempt")
	}

	if success {
		if found {
			open.Status = ports.RetryStatusSuccess
			open.NextAttemptAt = nil
			if err := c.attempts.Update(ctx, open); err != nil {
				return Decision{}, errs.Wrap(err, "close retry attempt")
			}
		}
		return Decision{Kind: DecisionProceed, AttemptNumber: attemptNumber(found, open)}, nil
	}

	message := ""
	if opErr != nil {
		message = opErr.Error()
	}

	if !found {
		next := c.now().Add(time.Duration(c.cfg.RetryDelaySeconds) * time.Second)
		attempt := ports.RetryAttempt{
			TicketID:      ticketID,
			Operation:     op,
			AttemptNumber: 1,
			MaxAttempts:   c.cfg.MaxRetryAttempts,
			Status:        ports.RetryStatusRetrying,
			DelaySeconds:  c.cfg.RetryDelaySeconds,
			NextAttemptAt: &next,
			ErrorMessage:  message,
			Context:       fmt.Sprintf("operation=%s", op),
		}

		if attempt.AttemptNumber >= attempt.MaxAttempts {
			attempt.Status = ports.RetryStatusFailed
			attempt.NextAttemptAt = nil
		}

		created, err := c.attempts.Create(ctx, attempt)
		if err != nil {
			return Decision{}, errs.Wrap(err, "create retry attempt")
		}
		return c.decisionFor(ctx, created)
	}

	open.AttemptNumber++
	open.ErrorMessage = message
	if open.AttemptNumber >= open.MaxAttempts {
		open.Status = ports.RetryStatusFailed
		open.NextAttemptAt = nil
	} else {
		next := c.now().Add(time.Duration(open.DelaySeconds) * time.Second)
		open.Status = ports.RetryStatusRetrying
		open.NextAttemptAt = &next
	}

	if err := c.attempts.Update(ctx, open); err != nil {
		return Decision{}, errs.Wrap(err, "update retry attempt")
	}
	return c.decisionFor(ctx, open)
}

// OpenOperation finds the operation a retrying ticket is parked on. At most
// one open attempt exists per (ticket, operation); when several operations
// have open attempts the earliest in pipeline order wins.
func (c *Coordinator) OpenOperation(ctx context.Context, ticketID uint64) (domainticket.Operation, bool, error) {
	for _, op := range domainticket.AllOperations {
		_, found, err := c.attempts.GetOpen(ctx, ticketID, op)
		if err != nil {
			return "", false, errs.Wrap(err, "load open retry attempt")
		}
		if found {
			return op, true, nil
		}
	}
	return "", false, nil
}

// ListDue exposes the poll scan: retrying attempts whose next_attempt_at
// has passed.
func (c *Coordinator) ListDue(ctx context.Context, limit int) ([]ports.RetryAttempt, error) {
	return c.attempts.ListDue(ctx, c.now(), limit)
}

func (c *Coordinator) decisionFor(ctx context.Context, attempt ports.RetryAttempt) (Decision, error) {
	if attempt.Status == ports.RetryStatusFailed {
		logging.Warn(ctx, "retry attempts exhausted",
			slog.Uint64("ticket_id", attempt.TicketID),
			slog.String("operation", attempt.Operation.String()),
			slog.Int("attempts", attempt.AttemptNumber))
		return Decision{Kind: DecisionExhausted, AttemptNumber: attempt.AttemptNumber}, nil
	}

	next := time.Time{}
	if attempt.NextAttemptAt != nil {
		next = *attempt.NextAttemptAt
	}
	return Decision{Kind: DecisionWait, NextAttemptAt: next, AttemptNumber: attempt.AttemptNumber}, nil
}

func attemptNumber(found bool, attempt ports.RetryAttempt) int {
	if !found {
		return 0
	}
	return attempt.AttemptNumber
}
