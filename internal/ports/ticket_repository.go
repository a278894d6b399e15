package ports

import (
	"context"
	"errors"
	"time"

	domainticket "ticketpilot/internal/domain/ticket"
)

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrHoursAlreadySet = errors.New("hours_consumed already set")
)

type Ticket struct {
	ID            uint64
	TrackerKey    string
	Summary       string
	Description   string
	Status        domainticket.Status
	Priority      string
	Assignee      *string
	Reporter      string
	Labels        []string
	RepositoryURL *string
	RetryCount    int
	HoursConsumed *float64
	ErrorMessage  *string
	SessionID     *uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastProcessed *time.Time
}

type Todo struct {
	ID                 uint64
	TicketID           uint64
	Title              string
	Description        string
	Priority           int
	Category           string
	Status             domainticket.TodoStatus
	OrderIndex         int
	EstimatedHours     float64
	ActualHours        float64
	// DependsOn references sibling todos of the same ticket by order index.
	DependsOn          []uint64
	AcceptanceCriteria string
}

type Execution struct {
	ID         string
	TicketID   uint64
	ActionKind string
	Target     string
	Before     string
	After      string
	ExitCode   int
	Status     string
	Duration   time.Duration
	Simulated  bool
	CreatedAt  time.Time
}

type TicketFilter struct {
	Statuses  []domainticket.Status
	SessionID *uint64
	Limit     int
}

type TicketRepository interface {
	GetByKey(ctx context.Context, trackerKey string) (Ticket, error)
	GetByID(ctx context.Context, id uint64) (Ticket, error)
	Create(ctx context.Context, t Ticket) (Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]Ticket, error)

	// UpdateStatus persists a transition together with the optional error
	// message; it also refreshes updated_at and last_processed_at.
	UpdateStatus(ctx context.Context, id uint64, status domainticket.Status, errorMessage *string) error
	AssignSession(ctx context.Context, id uint64, sessionID uint64) error
	IncrementRetryCount(ctx context.Context, id uint64) error
	// SetHoursConsumed records consumption exactly once, at terminal status.
	SetHoursConsumed(ctx context.Context, id uint64, hours float64) error

	// SaveSolution persists the generated solution so execution and publish
	// can resume on a later pass without regenerating it.
	SaveSolution(ctx context.Context, ticketID uint64, s Solution) error
	GetSolution(ctx context.Context, ticketID uint64) (Solution, bool, error)

	// Delete removes the ticket and its owned todos and executions in the
	// same transaction.
	Delete(ctx context.Context, id uint64) error

	ReplaceTodos(ctx context.Context, ticketID uint64, todos []Todo) ([]Todo, error)
	ListTodos(ctx context.Context, ticketID uint64) ([]Todo, error)
	UpdateTodoStatus(ctx context.Context, todoID uint64, status domainticket.TodoStatus, actualHours float64) error

	AppendExecution(ctx context.Context, exec Execution) error
	ListExecutions(ctx context.Context, ticketID uint64) ([]Execution, error)

	CountByStatus(ctx context.Context) (map[domainticket.Status]int64, error)
}
