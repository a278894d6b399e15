package ticket

import "errors"

var (
	ErrUnknownStatus    = errors.New("unknown ticket status")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrTerminalStatus   = errors.New("ticket status is terminal")

	// Non-retriable business rules that park a ticket for review.
	ErrMissingRepository = errors.New("ticket has no linked repository")
	ErrTicketAssigned    = errors.New("ticket is assigned and assigned tickets are excluded")
	ErrMissingLabel      = errors.New("ticket is missing the required label")

	// Session budget rules.
	ErrBudgetExhausted  = errors.New("session budget exhausted")
	ErrSessionNotActive = errors.New("session is not active")

	// Todo rules.
	ErrTodoDependencyOpen = errors.New("todo has incomplete dependencies")
)
