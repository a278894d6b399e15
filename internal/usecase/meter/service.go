package meter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/bootstrap/logging"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

// Service owns session hour budgets: reservations, atomic debits,
// threshold warnings and expiry. Debits run inside a unit-of-work
// transaction so the check-and-decrement is one step even with concurrent
// tickets on the same session.
type Service struct {
	sessions ports.SessionRepository
	uow      ports.UnitOfWork
	events   ports.EventPublisher
	cfg      config.SessionsConfig
	now      func() time.Time
}

func NewService(sessions ports.SessionRepository, uow ports.UnitOfWork, events ports.EventPublisher, cfg config.SessionsConfig) *Service {
	return &Service{
		sessions: sessions,
		uow:      uow,
		events:   events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source; tests use it for deterministic
// timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, customer string, purchasedHours float64) (ports.Session, error) {
	if customer == "" {
		return ports.Session{}, errors.New("customer is required")
	}
	if purchasedHours <= 0 {
		purchasedHours = s.cfg.DefaultHours
	}

	session, err := s.sessions.Create(ctx, ports.Session{
		Customer:       customer,
		PurchasedHours: purchasedHours,
		Status:         domainticket.SessionActive,
	})
	if err != nil {
		return ports.Session{}, errs.Wrap(err, "create session")
	}

	logging.Info(ctx, "session created",
		slog.Uint64("session_id", session.ID),
		slog.String("customer", customer),
		slog.Float64("purchased_hours", purchasedHours))
	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID uint64) (ports.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// Reserve gates a ticket's entry into processing. Paused and cancelled
// sessions reject new reservations without touching in-flight tickets.
func (s *Service) Reserve(ctx context.Context, sessionID uint64) error {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return errs.Wrap(err, "load session")
	}

	if session.Status != domainticket.SessionActive {
		return errs.Business(domainticket.ErrSessionNotActive)
	}
	if !domainticket.HasActiveBudget(session.Status, session.RemainingHours) {
		return errs.Business(domainticket.ErrBudgetExhausted)
	}
	return nil
}

// Debit consumes hours from the session budget: single transaction, floor
// at zero. A session already at zero remaining returns ErrBudgetExhausted
// so the caller can flag the billing inconsistency.
func (s *Service) Debit(ctx context.Context, sessionID uint64, hours float64) (ports.Session, error) {
	if hours < 0 {
		return ports.Session{}, errors.New("debit hours must not be negative")
	}

	var (
		updated ports.Session
		emitted []ports.SessionEvent
	)
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.Get(txCtx, sessionID)
		if err != nil {
			return errs.Wrap(err, "load session")
		}

		if session.RemainingHours <= 0 {
			return errs.Business(domainticket.ErrBudgetExhausted)
		}

		session.ConsumedHours += hours
		if session.ConsumedHours > session.PurchasedHours {
			session.ConsumedHours = session.PurchasedHours
		}
		session.RemainingHours = session.PurchasedHours - session.ConsumedHours
		at := s.now()
		session.LastActivity = &at

		emitted = s.applyThresholds(&session)

		if err := s.sessions.Save(txCtx, session); err != nil {
			return errs.Wrap(err, "save session")
		}
		updated = session
		return nil
	})
	if err != nil {
		return ports.Session{}, err
	}

	s.publish(ctx, emitted)

	logging.Info(ctx, "session debited",
		slog.Uint64("session_id", sessionID),
		slog.Float64("hours", hours),
		slog.Float64("remaining_hours", updated.RemainingHours))
	return updated, nil
}

// CheckThresholds re-evaluates warning flags without a debit. Invoking it
// twice with no intervening debit emits nothing the second time.
func (s *Service) CheckThresholds(ctx context.Context, sessionID uint64) error {
	var emitted []ports.SessionEvent
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.Get(txCtx, sessionID)
		if err != nil {
			return errs.Wrap(err, "load session")
		}

		emitted = s.applyThresholds(&session)
		if len(emitted) == 0 {
			return nil
		}
		return s.sessions.Save(txCtx, session)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, emitted)
	return nil
}

// Renew increases the purchased budget. Warning flags whose threshold is no
// longer crossed are reset so they can fire again; an expired session with
// budget again becomes active.
func (s *Service) Renew(ctx context.Context, sessionID uint64, additionalHours float64) (ports.Session, error) {
	if additionalHours <= 0 {
		additionalHours = s.cfg.DefaultHours
	}

	var updated ports.Session
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.Get(txCtx, sessionID)
		if err != nil {
			return errs.Wrap(err, "load session")
		}

		session.PurchasedHours += additionalHours
		session.RemainingHours = session.PurchasedHours - session.ConsumedHours

		if !domainticket.ThresholdCrossed(session.ConsumedHours, session.PurchasedHours, s.cfg.WarningThresholds.First) {
			session.FirstWarningSent = false
		}
		if !domainticket.ThresholdCrossed(session.ConsumedHours, session.PurchasedHours, s.cfg.WarningThresholds.Second) {
			session.SecondWarningSent = false
		}
		if session.RemainingHours > 0 {
			session.ExpiryNotified = false
			if session.Status == domainticket.SessionExpired {
				session.Status = domainticket.SessionActive
			}
		}

		if err := s.sessions.Save(txCtx, session); err != nil {
			return errs.Wrap(err, "save session")
		}
		updated = session
		return nil
	})
	if err != nil {
		return ports.Session{}, err
	}

	s.publish(ctx, []ports.SessionEvent{s.event(ports.EventSessionRenewed, updated)})

	logging.Info(ctx, "session renewed",
		slog.Uint64("session_id", sessionID),
		slog.Float64("additional_hours", additionalHours),
		slog.Float64("remaining_hours", updated.RemainingHours))
	return updated, nil
}

// RecordTicketOutcome bumps the session ticket counters on a terminal
// ticket outcome.
func (s *Service) RecordTicketOutcome(ctx context.Context, sessionID uint64, success bool) error {
	return s.uow.WithTx(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.Get(txCtx, sessionID)
		if err != nil {
			return errs.Wrap(err, "load session")
		}

		session.ProcessedTickets++
		if success {
			session.SuccessfulTickets++
		} else {
			session.FailedTickets++
		}
		at := s.now()
		session.LastActivity = &at

		return s.sessions.Save(txCtx, session)
	})
}

// ScanWarnings is the check-warnings trigger: re-evaluate thresholds for
// every active session.
func (s *Service) ScanWarnings(ctx context.Context) error {
	sessions, err := s.sessions.ListByStatus(ctx, domainticket.SessionActive)
	if err != nil {
		return errs.Wrap(err, "list active sessions")
	}

	for _, session := range sessions {
		if err := s.CheckThresholds(ctx, session.ID); err != nil {
			logging.Error(ctx, "threshold check failed",
				slog.Uint64("session_id", session.ID),
				slog.Any("err", errs.Loggable(err)))
		}
	}
	return nil
}

// ScanExpiry is the check-session-expiry trigger: flip drained active
// sessions to expired, emitting the expiry event exactly once.
func (s *Service) ScanExpiry(ctx context.Context) error {
	sessions, err := s.sessions.ListActiveWithBudgetAtMost(ctx, 0)
	if err != nil {
		return errs.Wrap(err, "list drained sessions")
	}

	for _, session := range sessions {
		var emitted []ports.SessionEvent
		err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
			current, err := s.sessions.Get(txCtx, session.ID)
			if err != nil {
				return errs.Wrap(err, "load session")
			}

			emitted = s.expire(&current)
			if len(emitted) == 0 && current.Status == domainticket.SessionExpired {
				return nil
			}
			return s.sessions.Save(txCtx, current)
		})
		if err != nil {
			logging.Error(ctx, "session expiry failed",
				slog.Uint64("session_id", session.ID),
				slog.Any("err", errs.Loggable(err)))
			continue
		}
		s.publish(ctx, emitted)
	}
	return nil
}

// applyThresholds mutates warning/expiry flags in place and returns the
// events that became due. Flags fire once; only renewal resets them.
func (s *Service) applyThresholds(session *ports.Session) []ports.SessionEvent {
	var emitted []ports.SessionEvent

	if !session.FirstWarningSent &&
		domainticket.ThresholdCrossed(session.ConsumedHours, session.PurchasedHours, s.cfg.WarningThresholds.First) {
		session.FirstWarningSent = true
		emitted = append(emitted, s.event(ports.EventFirstWarning, *session))
	}
	if !session.SecondWarningSent &&
		domainticket.ThresholdCrossed(session.ConsumedHours, session.PurchasedHours, s.cfg.WarningThresholds.Second) {
		session.SecondWarningSent = true
		emitted = append(emitted, s.event(ports.EventSecondWarning, *session))
	}
	if session.RemainingHours <= 0 {
		emitted = append(emitted, s.expire(session)...)
	}

	return emitted
}

func (s *Service) expire(session *ports.Session) []ports.SessionEvent {
	if session.Status == domainticket.SessionActive {
		session.Status = domainticket.SessionExpired
	}
	if session.ExpiryNotified {
		return nil
	}
	session.ExpiryNotified = true
	return []ports.SessionEvent{s.event(ports.EventSessionExpired, *session)}
}

func (s *Service) event(kind ports.SessionEventKind, session ports.Session) ports.SessionEvent {
	return ports.SessionEvent{
		Kind:           kind,
		SessionID:      session.ID,
		Customer:       session.Customer,
		PurchasedHours: session.PurchasedHours,
		ConsumedHours:  session.ConsumedHours,
		RemainingHours: session.RemainingHours,
		At:             s.now(),
	}
}

// publish delivers events best-effort: a notification failure never undoes
// the debit that produced it.
func (s *Service) publish(ctx context.Context, events []ports.SessionEvent) {
	if s.events == nil {
		return
	}
	for _, event := range events {
		if err := s.events.PublishSessionEvent(ctx, event); err != nil {
			logging.Error(ctx, "session event publish failed",
				slog.String("kind", string(event.Kind)),
				slog.Uint64("session_id", event.SessionID),
				slog.Any("err", errs.Loggable(err)))
		}
	}
}
