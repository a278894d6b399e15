package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"ticketpilot/internal/bootstrap/logging"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

// Service covers the operator surface of the pipeline: listing, cancelling
// and restarting tickets outside a trigger run.
type Service struct {
	tickets  ports.TicketRepository
	sessions ports.SessionRepository
}

func NewService(tickets ports.TicketRepository, sessions ports.SessionRepository) *Service {
	return &Service{tickets: tickets, sessions: sessions}
}

func (s *Service) List(ctx context.Context, filter ports.TicketFilter) ([]ports.Ticket, error) {
	return s.tickets.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, trackerKey string) (ports.Ticket, error) {
	return s.tickets.GetByKey(ctx, trackerKey)
}

// Cancel flags a non-terminal ticket as cancelled. A ticket mid-operation
// observes the flag at its next transition checkpoint; nothing is
// interrupted in flight.
func (s *Service) Cancel(ctx context.Context, trackerKey string) (ports.Ticket, error) {
	t, err := s.tickets.GetByKey(ctx, trackerKey)
	if err != nil {
		return ports.Ticket{}, errs.Wrap(err, "load ticket")
	}

	if !domainticket.CanTransition(t.Status, domainticket.StatusCancelled) {
		return ports.Ticket{}, errs.Business(
			fmt.Errorf("%w: cannot cancel %s ticket", domainticket.ErrTerminalStatus, t.Status))
	}

	reason := "cancelled by operator"
	if err := s.tickets.UpdateStatus(ctx, t.ID, domainticket.StatusCancelled, &reason); err != nil {
		return ports.Ticket{}, errs.Wrap(err, "cancel ticket")
	}
	t.Status = domainticket.StatusCancelled

	logging.Info(ctx, "ticket cancelled", slog.String("ticket", trackerKey))
	return t, nil
}

// Restart puts a failed or requires_review ticket back to pending so the
// next load-tickets run picks it up. The owning session must still carry
// budget.
func (s *Service) Restart(ctx context.Context, trackerKey string) (ports.Ticket, error) {
	t, err := s.tickets.GetByKey(ctx, trackerKey)
	if err != nil {
		return ports.Ticket{}, errs.Wrap(err, "load ticket")
	}

	if !t.Status.CanRestart() {
		return ports.Ticket{}, errs.Business(
			fmt.Errorf("ticket in status %s cannot be restarted", t.Status))
	}
	if t.SessionID == nil {
		return ports.Ticket{}, errs.Business(domainticket.ErrSessionNotActive)
	}

	session, err := s.sessions.Get(ctx, *t.SessionID)
	if err != nil {
		return ports.Ticket{}, errs.Wrap(err, "load session")
	}
	if !domainticket.HasActiveBudget(session.Status, session.RemainingHours) {
		return ports.Ticket{}, errs.Business(domainticket.ErrBudgetExhausted)
	}

	if err := s.tickets.UpdateStatus(ctx, t.ID, domainticket.StatusPending, nil); err != nil {
		return ports.Ticket{}, errs.Wrap(err, "restart ticket")
	}
	t.Status = domainticket.StatusPending
	t.ErrorMessage = nil

	logging.Info(ctx, "ticket restarted", slog.String("ticket", trackerKey))
	return t, nil
}
