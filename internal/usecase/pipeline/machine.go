package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketpilot/internal/bootstrap/config"
	"ticketpilot/internal/bootstrap/logging"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
	"ticketpilot/internal/usecase/meter"
	"ticketpilot/internal/usecase/retry"
)

// Machine drives one ticket through its lifecycle. Each working state
// performs exactly one external operation; failures are classified once,
// here: transient goes to the retry coordinator, business rules park the
// ticket for review, anything else fails the ticket without aborting the
// surrounding run.
type Machine struct {
	tickets   ports.TicketRepository
	meter     *meter.Service
	retries   *retry.Coordinator
	tracker   ports.TicketSource
	generator ports.SolutionGenerator
	publisher ports.Publisher
	cfg       config.PipelineConfig
	now       func() time.Time
	newID     func() string
}

func NewMachine(
	tickets ports.TicketRepository,
	meterSvc *meter.Service,
	retries *retry.Coordinator,
	tracker ports.TicketSource,
	generator ports.SolutionGenerator,
	publisher ports.Publisher,
	cfg config.PipelineConfig,
) *Machine {
	return &Machine{
		tickets:   tickets,
		meter:     meterSvc,
		retries:   retries,
		tracker:   tracker,
		generator: generator,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Process runs one ticket as far as it can go in this pass: to completion,
// to a scheduled retry, or to a terminal/review state. Terminal and
// cancelled tickets are a no-op.
func (m *Machine) Process(ctx context.Context, ticketID uint64) error {
	err := m.process(ctx, ticketID)
	if errors.Is(err, errCancelled) {
		logging.Info(ctx, "ticket cancelled, stopping", slog.Uint64("ticket_id", ticketID))
		return nil
	}
	return err
}

func (m *Machine) process(ctx context.Context, ticketID uint64) error {
	t, err := m.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return errs.Wrap(err, "load ticket")
	}
	if t.Status.IsTerminal() {
		return nil
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "pipeline.machine"),
		slog.String("ticket", t.TrackerKey))

	if t.SessionID == nil {
		return m.review(logCtx, &t, "ticket has no owning session")
	}
	if err := m.meter.Reserve(logCtx, *t.SessionID); err != nil {
		if errs.Classify(err) == errs.KindBusiness {
			return m.review(logCtx, &t, err.Error())
		}
		return errs.Wrap(err, "reserve session")
	}

	if err := m.enterWorkingState(logCtx, &t); err != nil {
		return err
	}
	if !t.Status.IsProcessing() {
		// Scheduled retry not yet due, or nothing to do.
		return nil
	}

	start := m.now()
	procCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.MaxProcessingTimeSeconds)*time.Second)
	defer cancel()

	// A resumed pass picks the solution up from storage so a retried
	// execute or publish keeps the generated body; only generate rewrites it.
	solution, _, err := m.tickets.GetSolution(ctx, t.ID)
	if err != nil {
		return errs.Wrap(err, "load solution")
	}

	for {
		// Cooperative cancellation: an operator cancel lands at the next
		// transition checkpoint, never mid-operation.
		current, err := m.tickets.GetByID(ctx, t.ID)
		if err != nil {
			return errs.Wrap(err, "reload ticket")
		}
		if current.Status == domainticket.StatusCancelled {
			logging.Info(logCtx, "ticket cancelled, stopping")
			return nil
		}

		op, ok := t.Status.Operation()
		if !ok {
			return fmt.Errorf("status %q has no operation", t.Status)
		}

		decision, err := m.retries.ShouldRetry(ctx, t.ID, op)
		if err != nil {
			return err
		}
		switch decision.Kind {
		case retry.DecisionWait:
			return m.transition(logCtx, &t, domainticket.StatusRetrying, nil)
		case retry.DecisionExhausted:
			return m.fail(logCtx, &t, fmt.Sprintf("%s attempts exhausted", op))
		case retry.DecisionProceed:
		}

		stepErr := m.runStep(procCtx, ctx, &t, op, &solution)
		if stepErr == nil {
			if _, err := m.retries.RecordOutcome(ctx, t.ID, op, true, nil); err != nil {
				return err
			}

			next, ok := t.Status.NextWorking()
			if !ok {
				return fmt.Errorf("status %q has no successor", t.Status)
			}
			if next == domainticket.StatusCompleted {
				return m.complete(logCtx, &t, start)
			}
			if err := m.transition(logCtx, &t, next, nil); err != nil {
				return err
			}
			continue
		}

		return m.handleFailure(logCtx, &t, op, stepErr)
	}
}

// enterWorkingState moves a pending or due-retrying ticket into the working
// state whose operation it should (re-)run.
func (m *Machine) enterWorkingState(ctx context.Context, t *ports.Ticket) error {
	switch t.Status {
	case domainticket.StatusPending:
		return m.transition(ctx, t, domainticket.StatusAnalyzing, nil)
	case domainticket.StatusRetrying:
		op, found, err := m.retries.OpenOperation(ctx, t.ID)
		if err != nil {
			return err
		}
		if !found {
			// Open attempt vanished (operator cleanup); start over.
			return m.transition(ctx, t, domainticket.StatusAnalyzing, nil)
		}

		decision, err := m.retries.ShouldRetry(ctx, t.ID, op)
		if err != nil {
			return err
		}
		if decision.Kind != retry.DecisionProceed {
			return nil
		}
		return m.transition(ctx, t, op.WorkingStatus(), nil)
	case domainticket.StatusAnalyzing, domainticket.StatusGeneratingSolution,
		domainticket.StatusExecuting, domainticket.StatusCreatingPR:
		// Crash recovery: resume in place.
		return nil
	default:
		return nil
	}
}

// runStep performs the single external operation of the current state.
// opCtx carries the per-ticket processing deadline; dbCtx stays unbounded
// so bookkeeping after a timeout still lands.
func (m *Machine) runStep(opCtx, dbCtx context.Context, t *ports.Ticket, op domainticket.Operation, solution *ports.Solution) error {
	switch op {
	case domainticket.OperationFetch:
		return m.analyze(opCtx, t)
	case domainticket.OperationGenerate:
		return m.generate(opCtx, dbCtx, t, solution)
	case domainticket.OperationExecute:
		return m.execute(dbCtx, t, *solution)
	case domainticket.OperationPublish:
		return m.publish(opCtx, dbCtx, t, *solution)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

func (m *Machine) analyze(ctx context.Context, t *ports.Ticket) error {
	if t.RepositoryURL == nil || strings.TrimSpace(*t.RepositoryURL) == "" {
		return errs.Business(domainticket.ErrMissingRepository)
	}
	if !m.cfg.AllowAssigned && t.Assignee != nil && strings.TrimSpace(*t.Assignee) != "" {
		return errs.Business(domainticket.ErrTicketAssigned)
	}

	if err := m.tracker.UpdateStatus(ctx, t.TrackerKey, "picked_up"); err != nil {
		return err
	}
	return m.tracker.AddComment(ctx, t.TrackerKey, "ticketpilot is working on this ticket.")
}

func (m *Machine) generate(opCtx, dbCtx context.Context, t *ports.Ticket, solution *ports.Solution) error {
	repo := ""
	if t.RepositoryURL != nil {
		repo = *t.RepositoryURL
	}

	generated, err := m.generator.Generate(opCtx, ports.SolutionRequest{
		TrackerKey:  t.TrackerKey,
		Summary:     t.Summary,
		Description: t.Description,
		Repository:  repo,
	})
	if err != nil {
		return err
	}

	todos := make([]ports.Todo, 0, len(generated.Todos))
	for _, item := range generated.Todos {
		deps := make([]uint64, 0, len(item.DependsOnIndexes))
		for _, idx := range item.DependsOnIndexes {
			deps = append(deps, uint64(idx))
		}
		todos = append(todos, ports.Todo{
			Title:              item.Title,
			Description:        item.Description,
			Priority:           item.Priority,
			Category:           item.Category,
			Status:             domainticket.TodoPending,
			OrderIndex:         item.OrderIndex,
			EstimatedHours:     item.EstimatedHours,
			DependsOn:          deps,
			AcceptanceCriteria: item.AcceptanceCriteria,
		})
	}
	if _, err := m.tickets.ReplaceTodos(dbCtx, t.ID, todos); err != nil {
		return errs.Wrap(err, "persist todos")
	}
	if err := m.tickets.SaveSolution(dbCtx, t.ID, generated); err != nil {
		return errs.Wrap(err, "persist solution")
	}

	*solution = generated
	return nil
}

// execute applies the solution, recording one immutable execution row per
// action and walking todos in order under the dependency rule.
func (m *Machine) execute(ctx context.Context, t *ports.Ticket, solution ports.Solution) error {
	todos, err := m.tickets.ListTodos(ctx, t.ID)
	if err != nil {
		return errs.Wrap(err, "load todos")
	}

	statusByOrder := make(map[uint64]domainticket.TodoStatus, len(todos))
	for _, todo := range todos {
		statusByOrder[uint64(todo.OrderIndex)] = todo.Status
	}

	for _, todo := range todos {
		if todo.Status == domainticket.TodoCompleted || todo.Status == domainticket.TodoCancelled {
			continue
		}
		if blockedOn, ok := domainticket.CanCompleteTodo(todo.DependsOn, statusByOrder); !ok {
			if err := m.tickets.UpdateTodoStatus(ctx, todo.ID, domainticket.TodoBlocked, 0); err != nil {
				return errs.Wrap(err, "mark todo blocked")
			}
			return errs.Business(fmt.Errorf("%w: todo %d waits on %d",
				domainticket.ErrTodoDependencyOpen, todo.OrderIndex, blockedOn))
		}

		if err := m.tickets.UpdateTodoStatus(ctx, todo.ID, domainticket.TodoCompleted, todo.EstimatedHours); err != nil {
			return errs.Wrap(err, "complete todo")
		}
		statusByOrder[uint64(todo.OrderIndex)] = domainticket.TodoCompleted
	}

	stepStart := m.now()
	for _, file := range solution.Files {
		if err := m.tickets.AppendExecution(ctx, ports.Execution{
			ID:         m.newID(),
			TicketID:   t.ID,
			ActionKind: file.Action,
			Target:     file.Path,
			After:      file.Content,
			Status:     "completed",
			Duration:   m.now().Sub(stepStart),
			Simulated:  m.cfg.Simulate,
		}); err != nil {
			return errs.Wrap(err, "record file execution")
		}
	}
	for _, command := range solution.Commands {
		if err := m.tickets.AppendExecution(ctx, ports.Execution{
			ID:         m.newID(),
			TicketID:   t.ID,
			ActionKind: "command",
			Target:     command,
			Status:     "completed",
			Duration:   m.now().Sub(stepStart),
			Simulated:  m.cfg.Simulate,
		}); err != nil {
			return errs.Wrap(err, "record command execution")
		}
	}
	return nil
}

func (m *Machine) publish(opCtx, dbCtx context.Context, t *ports.Ticket, solution ports.Solution) error {
	repo := ""
	if t.RepositoryURL != nil {
		repo = *t.RepositoryURL
	}

	branch := domainticket.BranchName(t.TrackerKey, t.Summary)
	title := domainticket.PRTitle(t.TrackerKey, t.Summary)

	body := solution.Explanation
	if body == "" {
		body = solution.Summary
	}
	if solution.FallbackUsed {
		body += fmt.Sprintf("\n\n_Generated by fallback provider %s._", solution.Provider)
	}

	result, err := m.publisher.CreatePR(opCtx, ports.PublishRequest{
		Repository: repo,
		Branch:     branch,
		Title:      title,
		Body:       body,
	})
	if err != nil {
		return err
	}

	if err := m.tracker.AddComment(opCtx, t.TrackerKey,
		fmt.Sprintf("Opened review request: %s", result.URL)); err != nil {
		// The PR exists; a lost comment is not worth a retry of publish.
		logging.Warn(dbCtx, "pr comment failed",
			slog.String("ticket", t.TrackerKey),
			slog.Any("err", errs.Loggable(err)))
	}
	return m.tracker.UpdateStatus(opCtx, t.TrackerKey, "completed")
}

// complete debits elapsed wall-clock time before the final transition. A
// session drained concurrently by another ticket fails the debit; finished
// code changes are never discarded, so the ticket parks in requires_review
// for billing reconciliation instead.
func (m *Machine) complete(ctx context.Context, t *ports.Ticket, start time.Time) error {
	elapsed := m.now().Sub(start).Hours()

	if _, err := m.meter.Debit(ctx, *t.SessionID, elapsed); err != nil {
		if errors.Is(err, domainticket.ErrBudgetExhausted) {
			return m.review(ctx, t, "session budget exhausted at completion, billing needs reconciliation")
		}
		return errs.Wrap(err, "debit session")
	}

	if err := m.transition(ctx, t, domainticket.StatusCompleted, nil); err != nil {
		return err
	}
	if err := m.tickets.SetHoursConsumed(ctx, t.ID, elapsed); err != nil && !errors.Is(err, ports.ErrHoursAlreadySet) {
		return errs.Wrap(err, "set hours consumed")
	}
	m.recordOutcome(ctx, t, true)

	logging.Info(ctx, "ticket completed", slog.Float64("hours", elapsed))
	return nil
}

func (m *Machine) handleFailure(ctx context.Context, t *ports.Ticket, op domainticket.Operation, stepErr error) error {
	switch errs.Classify(stepErr) {
	case errs.KindBusiness, errs.KindConfig:
		// Non-retriable by policy: no retry budget is consumed.
		return m.review(ctx, t, stepErr.Error())

	case errs.KindTransient:
		decision, err := m.retries.RecordOutcome(ctx, t.ID, op, false, stepErr)
		if err != nil {
			return err
		}
		if err := m.tickets.IncrementRetryCount(ctx, t.ID); err != nil {
			return errs.Wrap(err, "increment retry count")
		}

		if decision.Kind == retry.DecisionExhausted {
			return m.fail(ctx, t, stepErr.Error())
		}

		msg := stepErr.Error()
		logging.Warn(ctx, "operation failed, retry scheduled",
			slog.String("operation", op.String()),
			slog.Int("attempt", decision.AttemptNumber),
			slog.Time("next_attempt_at", decision.NextAttemptAt))
		return m.transition(ctx, t, domainticket.StatusRetrying, &msg)

	default:
		// Fatal: capture the raw error, fail this ticket only.
		logging.Error(ctx, "unexpected failure",
			slog.String("operation", op.String()),
			slog.Any("err", errs.Loggable(stepErr)))
		return m.fail(ctx, t, stepErr.Error())
	}
}

func (m *Machine) fail(ctx context.Context, t *ports.Ticket, reason string) error {
	if err := m.transition(ctx, t, domainticket.StatusFailed, &reason); err != nil {
		return err
	}
	m.recordOutcome(ctx, t, false)
	return nil
}

func (m *Machine) review(ctx context.Context, t *ports.Ticket, reason string) error {
	if err := m.transition(ctx, t, domainticket.StatusRequiresReview, &reason); err != nil {
		return err
	}
	m.recordOutcome(ctx, t, false)
	return nil
}

func (m *Machine) recordOutcome(ctx context.Context, t *ports.Ticket, success bool) {
	if t.SessionID == nil {
		return
	}
	if err := m.meter.RecordTicketOutcome(ctx, *t.SessionID, success); err != nil {
		logging.Error(ctx, "session counters update failed",
			slog.Uint64("session_id", *t.SessionID),
			slog.Any("err", errs.Loggable(err)))
	}
}

// errCancelled propagates a concurrent operator cancel up to Process,
// which treats it as a clean stop.
var errCancelled = errors.New("ticket cancelled")

// transition validates the edge against the persisted status, not the
// in-memory copy, so a cancel written by another actor mid-operation is
// never overwritten.
func (m *Machine) transition(ctx context.Context, t *ports.Ticket, next domainticket.Status, errorMessage *string) error {
	current, err := m.tickets.GetByID(ctx, t.ID)
	if err != nil {
		return errs.Wrap(err, "reload ticket")
	}
	if current.Status == domainticket.StatusCancelled {
		t.Status = domainticket.StatusCancelled
		return errCancelled
	}
	if !domainticket.CanTransition(current.Status, next) {
		return fmt.Errorf("illegal transition %s -> %s", current.Status, next)
	}

	if err := m.tickets.UpdateStatus(ctx, t.ID, next, errorMessage); err != nil {
		return errs.Wrap(err, "persist transition")
	}
	t.Status = next
	return nil
}
