package ticket

import (
	"fmt"
	"strings"
)

// TodoStatus is the state of one decomposed unit of work inside a ticket.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoBlocked    TodoStatus = "blocked"
	TodoCancelled  TodoStatus = "cancelled"
)

func ParseTodoStatus(raw string) (TodoStatus, error) {
	s := TodoStatus(strings.TrimSpace(strings.ToLower(raw)))
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted, TodoBlocked, TodoCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown todo status %q", raw)
	}
}

func (s TodoStatus) String() string { return string(s) }

// CanCompleteTodo enforces the dependency rule: a todo may not complete
// while any todo it depends on is not completed. statusByID maps todo IDs
// of the same ticket to their current status; a dependency missing from the
// map counts as incomplete.
func CanCompleteTodo(dependencies []uint64, statusByID map[uint64]TodoStatus) (uint64, bool) {
	for _, dep := range dependencies {
		if statusByID[dep] != TodoCompleted {
			return dep, false
		}
	}
	return 0, true
}

// ClampTodoPriority keeps a todo priority inside the 1..5 scale.
func ClampTodoPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}
