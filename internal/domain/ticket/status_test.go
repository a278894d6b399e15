package ticket

import "testing"

func TestHappyPathWalksEveryWorkingState(t *testing.T) {
	want := []Status{
		StatusAnalyzing,
		StatusGeneratingSolution,
		StatusExecuting,
		StatusCreatingPR,
		StatusCompleted,
	}

	current := StatusPending
	for _, next := range want {
		if !CanTransition(current, next) {
			t.Fatalf("CanTransition(%s, %s) = false, want true", current, next)
		}
		got, ok := current.NextWorking()
		if !ok || got != next {
			t.Fatalf("NextWorking(%s) = %s, %v, want %s", current, got, ok, next)
		}
		current = next
	}

	if !current.IsTerminal() {
		t.Fatalf("IsTerminal(%s) = false after full walk", current)
	}
}

func TestTerminalStatusesBlockAllTransitions(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		for _, next := range AllStatuses {
			if CanTransition(terminal, next) {
				t.Errorf("CanTransition(%s, %s) = true, want false", terminal, next)
			}
		}
	}

	// failed is terminal for the machine but restartable by an operator.
	for _, next := range AllStatuses {
		got := CanTransition(StatusFailed, next)
		want := next == StatusPending
		if got != want {
			t.Errorf("CanTransition(failed, %s) = %v, want %v", next, got, want)
		}
	}
}

func TestCancelAllowedFromAnyNonTerminalStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got := CanTransition(s, StatusCancelled)
		want := !s.IsTerminal()
		if got != want {
			t.Errorf("CanTransition(%s, cancelled) = %v, want %v", s, got, want)
		}
	}
}

func TestCanRestart(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusFailed || s == StatusRequiresReview
		if got := s.CanRestart(); got != want {
			t.Errorf("CanRestart(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestRetryingReturnsToWorkingStates(t *testing.T) {
	for _, s := range AllStatuses {
		got := CanTransition(StatusRetrying, s)
		want := s.IsProcessing() || s == StatusFailed || s == StatusRequiresReview || s == StatusCancelled
		if got != want {
			t.Errorf("CanTransition(retrying, %s) = %v, want %v", s, got, want)
		}
	}
}

func TestOperationMappingRoundTrip(t *testing.T) {
	for _, op := range AllOperations {
		status := op.WorkingStatus()
		back, ok := status.Operation()
		if !ok || back != op {
			t.Errorf("Operation(WorkingStatus(%s)) = %s, %v", op, back, ok)
		}
	}

	if _, ok := StatusPending.Operation(); ok {
		t.Error("Operation(pending) reported an operation")
	}
	if _, ok := StatusCompleted.Operation(); ok {
		t.Error("Operation(completed) reported an operation")
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseStatus("halted"); err == nil {
		t.Fatal("ParseStatus(halted) succeeded, want error")
	}
	got, err := ParseStatus("  Requires_Review ")
	if err != nil || got != StatusRequiresReview {
		t.Fatalf("ParseStatus(requires_review) = %s, %v", got, err)
	}
}
