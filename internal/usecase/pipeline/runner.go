package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/bootstrap/logging"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
	"ticketpilot/internal/usecase/meter"
	"ticketpilot/internal/usecase/retry"
)

// TriggerKind names one externally invokable run of the pipeline. Triggers
// arrive over HTTP or from the serve-mode scheduler; both paths go through
// Runner.RunOnce.
type TriggerKind string

const (
	TriggerLoadTickets         TriggerKind = "load-tickets"
	TriggerCleanupSessions     TriggerKind = "cleanup-sessions"
	TriggerCleanupRepositories TriggerKind = "cleanup-repositories"
	TriggerHealthCheck         TriggerKind = "health-check"
	TriggerCheckWarnings       TriggerKind = "check-warnings"
	TriggerCollectMetrics      TriggerKind = "collect-metrics"
	TriggerCheckSessionExpiry  TriggerKind = "check-session-expiry"
)

var AllTriggerKinds = []TriggerKind{
	TriggerLoadTickets,
	TriggerCleanupSessions,
	TriggerCleanupRepositories,
	TriggerHealthCheck,
	TriggerCheckWarnings,
	TriggerCollectMetrics,
	TriggerCheckSessionExpiry,
}

func ParseTriggerKind(raw string) (TriggerKind, error) {
	kind := TriggerKind(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range AllTriggerKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown trigger kind %q", raw)
}

// RunResult reports what a trigger invocation did. Skipped means the
// overlap guard rejected the run because the previous one of the same kind
// is still going.
type RunResult struct {
	Kind      TriggerKind `json:"kind"`
	Skipped   bool        `json:"skipped"`
	Processed int         `json:"processed"`
}

// Runner executes triggers. Within one session tickets run strictly
// serially so elapsed-time debits never interleave; across sessions
// concurrency is bounded by pipeline.max_concurrent_tickets.
type Runner struct {
	machine   *Machine
	tickets   ports.TicketRepository
	sessions  ports.SessionRepository
	meter     *meter.Service
	retries   *retry.Coordinator
	tracker   ports.TicketSource
	generator ports.SolutionGenerator
	publisher ports.Publisher
	cache     ports.Cache
	guard     *overlapGuard
	cfg       config.PipelineConfig
	now       func() time.Time
}

func NewRunner(
	machine *Machine,
	tickets ports.TicketRepository,
	sessions ports.SessionRepository,
	meterSvc *meter.Service,
	retries *retry.Coordinator,
	tracker ports.TicketSource,
	generator ports.SolutionGenerator,
	publisher ports.Publisher,
	cache ports.Cache,
	cfg config.PipelineConfig,
) *Runner {
	return &Runner{
		machine:   machine,
		tickets:   tickets,
		sessions:  sessions,
		meter:     meterSvc,
		retries:   retries,
		tracker:   tracker,
		generator: generator,
		publisher: publisher,
		cache:     cache,
		guard:     newOverlapGuard(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunOnce executes one trigger under the overlap guard. A failure of one
// ticket inside a run is contained by the machine; RunOnce only returns an
// error when the run itself could not proceed.
func (r *Runner) RunOnce(ctx context.Context, kind TriggerKind) (RunResult, error) {
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "pipeline.runner"),
		slog.String("trigger", string(kind)))

	if !r.guard.tryBegin(kind, r.now()) {
		logging.Warn(logCtx, "trigger skipped, previous run still in progress")
		return RunResult{Kind: kind, Skipped: true}, nil
	}
	defer r.guard.end(kind)

	started := r.now()
	var (
		processed int
		err       error
	)
	switch kind {
	case TriggerLoadTickets:
		processed, err = r.loadTickets(logCtx)
	case TriggerCleanupSessions:
		processed, err = r.cleanupSessions(logCtx)
	case TriggerCleanupRepositories:
		processed, err = r.cleanupRepositories(logCtx)
	case TriggerHealthCheck:
		err = r.healthCheck(logCtx)
	case TriggerCheckWarnings:
		err = r.meter.ScanWarnings(logCtx)
	case TriggerCollectMetrics:
		err = r.collectMetrics(logCtx)
	case TriggerCheckSessionExpiry:
		err = r.meter.ScanExpiry(logCtx)
	default:
		return RunResult{Kind: kind}, fmt.Errorf("unknown trigger kind %q", kind)
	}
	if err != nil {
		return RunResult{Kind: kind}, err
	}

	logging.Info(logCtx, "trigger finished",
		slog.Int("processed", processed),
		slog.Duration("elapsed", r.now().Sub(started)))
	return RunResult{Kind: kind, Processed: processed}, nil
}

// loadTickets is the main pipeline pass: import new eligible tickets from
// the tracker, then process pending tickets and due retries grouped per
// session.
func (r *Runner) loadTickets(ctx context.Context) (int, error) {
	if err := r.importTickets(ctx); err != nil {
		// Import trouble must not stop already-persisted tickets.
		logging.Error(ctx, "ticket import failed", slog.Any("err", errs.Loggable(err)))
	}

	bySession, err := r.selectCandidates(ctx)
	if err != nil {
		return 0, err
	}

	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrentTickets))
	group, groupCtx := errgroup.WithContext(ctx)

	processed := 0
	for sessionID, ticketIDs := range bySession {
		sessionID, ticketIDs := sessionID, ticketIDs
		processed += len(ticketIDs)

		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			for _, id := range ticketIDs {
				if err := r.machine.Process(groupCtx, id); err != nil {
					// One broken ticket never aborts the rest of the run.
					logging.Error(groupCtx, "ticket processing failed",
						slog.Uint64("ticket_id", id),
						slog.Uint64("session_id", sessionID),
						slog.Any("err", errs.Loggable(err)))
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return processed, errs.Wrap(err, "ticket workers")
	}
	return processed, nil
}

// importTickets pulls tracker tickets carrying the required label and
// persists the ones not seen before, attached to the first active session
// with budget.
func (r *Runner) importTickets(ctx context.Context) error {
	session, found, err := r.importSession(ctx)
	if err != nil {
		return err
	}
	if !found {
		logging.Warn(ctx, "no active session with budget, skipping ticket import")
		return nil
	}

	fetched, err := r.tracker.FetchEligible(ctx, ports.TrackerFilter{
		RequiredLabel: r.cfg.RequiredLabel,
		Statuses:      r.tracker.SupportedStatuses(),
		Limit:         100,
	})
	if err != nil {
		return errs.Wrap(err, "fetch tracker tickets")
	}

	imported := 0
	for _, remote := range fetched {
		if _, err := r.tickets.GetByKey(ctx, remote.TrackerKey); err == nil {
			continue
		} else if !isNotFound(err) {
			return errs.Wrap(err, "look up ticket")
		}

		eligibility := domainticket.CheckEligibility(domainticket.EligibilityInput{
			Status:         domainticket.StatusPending,
			Assignee:       remote.Assignee,
			Labels:         remote.Labels,
			HasRepository:  remote.RepositoryURL != nil && *remote.RepositoryURL != "",
			RequiredLabel:  r.cfg.RequiredLabel,
			AllowAssigned:  r.cfg.AllowAssigned,
			SessionStatus:  session.Status,
			RemainingHours: session.RemainingHours,
		})
		if eligibility != nil {
			logging.Info(ctx, "tracker ticket not eligible",
				slog.String("ticket", remote.TrackerKey),
				slog.String("reason", eligibility.Error()))
			continue
		}

		sessionID := session.ID
		if _, err := r.tickets.Create(ctx, ports.Ticket{
			TrackerKey:    remote.TrackerKey,
			Summary:       remote.Summary,
			Description:   remote.Description,
			Status:        domainticket.StatusPending,
			Priority:      remote.Priority,
			Assignee:      remote.Assignee,
			Reporter:      remote.Reporter,
			Labels:        remote.Labels,
			RepositoryURL: remote.RepositoryURL,
			SessionID:     &sessionID,
		}); err != nil {
			return errs.Wrap(err, "persist imported ticket")
		}
		imported++
	}

	if imported > 0 {
		logging.Info(ctx, "tickets imported", slog.Int("count", imported))
	}
	return nil
}

func (r *Runner) importSession(ctx context.Context) (ports.Session, bool, error) {
	active, err := r.sessions.ListByStatus(ctx, domainticket.SessionActive)
	if err != nil {
		return ports.Session{}, false, errs.Wrap(err, "list active sessions")
	}
	for _, session := range active {
		if domainticket.HasActiveBudget(session.Status, session.RemainingHours) {
			return session, true, nil
		}
	}
	return ports.Session{}, false, nil
}

// selectCandidates gathers pending tickets plus tickets whose scheduled
// retry is due, grouped by owning session. In-session order is stable so a
// session's tickets are always replayed the same way.
func (r *Runner) selectCandidates(ctx context.Context) (map[uint64][]uint64, error) {
	pending, err := r.tickets.List(ctx, ports.TicketFilter{
		Statuses: []domainticket.Status{domainticket.StatusPending},
		Limit:    200,
	})
	if err != nil {
		return nil, errs.Wrap(err, "list pending tickets")
	}

	due, err := r.retries.ListDue(ctx, 200)
	if err != nil {
		return nil, errs.Wrap(err, "list due retries")
	}

	bySession := make(map[uint64][]uint64)
	seen := make(map[uint64]bool)

	add := func(t ports.Ticket) {
		if seen[t.ID] || t.SessionID == nil {
			return
		}
		seen[t.ID] = true
		bySession[*t.SessionID] = append(bySession[*t.SessionID], t.ID)
	}

	for _, t := range pending {
		add(t)
	}
	for _, attempt := range due {
		t, err := r.tickets.GetByID(ctx, attempt.TicketID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, errs.Wrap(err, "load retrying ticket")
		}
		if t.Status == domainticket.StatusRetrying {
			add(t)
		}
	}

	return bySession, nil
}

// cleanupSessions expires drained sessions and cancels expired ones with no
// activity for thirty days.
func (r *Runner) cleanupSessions(ctx context.Context) (int, error) {
	if err := r.meter.ScanExpiry(ctx); err != nil {
		return 0, err
	}

	expired, err := r.sessions.ListByStatus(ctx, domainticket.SessionExpired)
	if err != nil {
		return 0, errs.Wrap(err, "list expired sessions")
	}

	cutoff := r.now().Add(-30 * 24 * time.Hour)
	cleaned := 0
	for _, session := range expired {
		if session.LastActivity != nil && session.LastActivity.After(cutoff) {
			continue
		}
		session.Status = domainticket.SessionCancelled
		if err := r.sessions.Save(ctx, session); err != nil {
			logging.Error(ctx, "session cleanup failed",
				slog.Uint64("session_id", session.ID),
				slog.Any("err", errs.Loggable(err)))
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// cleanupRepositories deletes merged work branches of completed tickets.
func (r *Runner) cleanupRepositories(ctx context.Context) (int, error) {
	completed, err := r.tickets.List(ctx, ports.TicketFilter{
		Statuses: []domainticket.Status{domainticket.StatusCompleted},
		Limit:    50,
	})
	if err != nil {
		return 0, errs.Wrap(err, "list completed tickets")
	}

	cleaned := 0
	for _, t := range completed {
		if t.RepositoryURL == nil {
			continue
		}
		branch := domainticket.BranchName(t.TrackerKey, t.Summary)
		if err := r.publisher.DeleteBranch(ctx, *t.RepositoryURL, branch); err != nil {
			logging.Warn(ctx, "branch cleanup failed",
				slog.String("ticket", t.TrackerKey),
				slog.String("branch", branch),
				slog.Any("err", errs.Loggable(err)))
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// healthCheck validates every provider configuration and caches the result
// so /healthz answers without hitting the providers.
func (r *Runner) healthCheck(ctx context.Context) error {
	status := map[string]string{
		"tracker":   "ok",
		"generator": "ok",
		"publisher": "ok",
	}

	if err := r.tracker.ValidateConfig(ctx); err != nil {
		status["tracker"] = err.Error()
	}
	if err := r.generator.ValidateConfig(ctx); err != nil {
		status["generator"] = err.Error()
	}
	if err := r.publisher.ValidateConfig(ctx); err != nil {
		status["publisher"] = err.Error()
	}

	for name, state := range status {
		if state != "ok" {
			logging.Error(ctx, "provider unhealthy",
				slog.String("provider", name),
				slog.String("state", state))
		}
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return errs.Wrap(err, "encode health status")
	}
	return r.cache.Set(ctx, "health.providers", string(payload), time.Hour)
}

// collectMetrics snapshots ticket counts by status into the cache.
func (r *Runner) collectMetrics(ctx context.Context) error {
	counts, err := r.tickets.CountByStatus(ctx)
	if err != nil {
		return errs.Wrap(err, "count tickets")
	}

	snapshot := make(map[string]int64, len(counts))
	for status, count := range counts {
		snapshot[string(status)] = count
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errs.Wrap(err, "encode metrics")
	}

	logging.Info(ctx, "metrics collected", slog.Any("tickets_by_status", snapshot))
	return r.cache.Set(ctx, "metrics.tickets_by_status", string(payload), 0)
}

func isNotFound(err error) bool {
	return errors.Is(err, ports.ErrTicketNotFound) || errors.Is(err, ports.ErrSessionNotFound)
}
