package ticket

import "testing"

func TestHasActiveBudget(t *testing.T) {
	cases := []struct {
		status    SessionStatus
		remaining float64
		want      bool
	}{
		{SessionActive, 2.5, true},
		{SessionActive, 0, false},
		{SessionActive, -1, false},
		{SessionPaused, 5, false},
		{SessionExpired, 5, false},
		{SessionCancelled, 5, false},
	}
	for _, tc := range cases {
		if got := HasActiveBudget(tc.status, tc.remaining); got != tc.want {
			t.Errorf("HasActiveBudget(%s, %v) = %v, want %v", tc.status, tc.remaining, got, tc.want)
		}
	}
}

func TestThresholdCrossed(t *testing.T) {
	if !ThresholdCrossed(7.6, 10, 0.75) {
		t.Error("ThresholdCrossed(7.6/10, 0.75) = false, want true")
	}
	if ThresholdCrossed(7.4, 10, 0.75) {
		t.Error("ThresholdCrossed(7.4/10, 0.75) = true, want false")
	}
	if !ThresholdCrossed(7.5, 10, 0.75) {
		t.Error("ThresholdCrossed at exact boundary = false, want true")
	}
	if ThresholdCrossed(5, 0, 0.75) {
		t.Error("ThresholdCrossed with zero purchased = true, want false")
	}
}

func TestCanCompleteTodoDependencyRule(t *testing.T) {
	statuses := map[uint64]TodoStatus{
		1: TodoCompleted,
		2: TodoInProgress,
	}

	if _, ok := CanCompleteTodo([]uint64{1}, statuses); !ok {
		t.Error("completed dependency blocked the todo")
	}
	if dep, ok := CanCompleteTodo([]uint64{1, 2}, statuses); ok || dep != 2 {
		t.Errorf("CanCompleteTodo = %d, %v, want 2, false", dep, ok)
	}
	// A dependency missing from the map counts as incomplete.
	if dep, ok := CanCompleteTodo([]uint64{9}, statuses); ok || dep != 9 {
		t.Errorf("CanCompleteTodo(missing dep) = %d, %v, want 9, false", dep, ok)
	}
	if _, ok := CanCompleteTodo(nil, statuses); !ok {
		t.Error("todo without dependencies blocked")
	}
}

func TestClampTodoPriority(t *testing.T) {
	for in, want := range map[int]int{-3: 1, 0: 1, 1: 1, 3: 3, 5: 5, 9: 5} {
		if got := ClampTodoPriority(in); got != want {
			t.Errorf("ClampTodoPriority(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCheckEligibility(t *testing.T) {
	assignee := "alice"

	base := EligibilityInput{
		Status:         StatusPending,
		Labels:         []string{"ai-fix", "bug"},
		HasRepository:  true,
		RequiredLabel:  "ai-fix",
		SessionStatus:  SessionActive,
		RemainingHours: 4,
	}

	if err := CheckEligibility(base); err != nil {
		t.Fatalf("CheckEligibility(base) = %v, want nil", err)
	}

	cases := []struct {
		name   string
		mutate func(*EligibilityInput)
		want   error
	}{
		{"terminal status", func(in *EligibilityInput) { in.Status = StatusCompleted }, ErrTerminalStatus},
		{"missing label", func(in *EligibilityInput) { in.Labels = []string{"bug"} }, ErrMissingLabel},
		{"assigned", func(in *EligibilityInput) { in.Assignee = &assignee }, ErrTicketAssigned},
		{"no repository", func(in *EligibilityInput) { in.HasRepository = false }, ErrMissingRepository},
		{"paused session", func(in *EligibilityInput) { in.SessionStatus = SessionPaused }, ErrSessionNotActive},
		{"drained budget", func(in *EligibilityInput) { in.RemainingHours = 0 }, ErrBudgetExhausted},
	}
	for _, tc := range cases {
		in := base
		tc.mutate(&in)
		if err := CheckEligibility(in); err != tc.want {
			t.Errorf("%s: CheckEligibility = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestCheckEligibilityAllowsAssignedWhenConfigured(t *testing.T) {
	assignee := "alice"
	in := EligibilityInput{
		Status:         StatusFailed,
		Assignee:       &assignee,
		Labels:         []string{"ai-fix"},
		HasRepository:  true,
		RequiredLabel:  "ai-fix",
		AllowAssigned:  true,
		SessionStatus:  SessionActive,
		RemainingHours: 1,
	}
	if err := CheckEligibility(in); err != nil {
		t.Fatalf("CheckEligibility(assigned, allowed, restartable) = %v, want nil", err)
	}
}
