package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/infrastructure/persistence/sqlite/model"
	"ticketpilot/internal/ports"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "repo.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Ticket{},
		&model.TicketTodo{},
		&model.Execution{},
		&model.RetryAttempt{},
		&model.BotSession{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func createTicket(t *testing.T, repo *TicketRepository, key string) ports.Ticket {
	t.Helper()

	url := "https://github.com/example/app"
	ticket, err := repo.Create(context.Background(), ports.Ticket{
		TrackerKey:    key,
		Summary:       "Fix flaky login redirect",
		Description:   "details",
		Status:        domainticket.StatusPending,
		Priority:      "high",
		Reporter:      "alice",
		Labels:        []string{"ai-fix", "bug"},
		RepositoryURL: &url,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return ticket
}

func TestCreateAndGetRoundTripsLabels(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()

	created := createTicket(t, repo, "repo#1")

	got, err := repo.GetByKey(ctx, "repo#1")
	if err != nil {
		t.Fatalf("GetByKey() error = %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("GetByKey() id = %d, want %d", got.ID, created.ID)
	}
	if len(got.Labels) != 2 || got.Labels[0] != "ai-fix" {
		t.Fatalf("Labels = %v", got.Labels)
	}

	if _, err := repo.GetByKey(ctx, "repo#404"); !errors.Is(err, ports.ErrTicketNotFound) {
		t.Fatalf("GetByKey(missing) = %v, want ErrTicketNotFound", err)
	}
}

func TestDuplicateTrackerKeyRejected(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))

	createTicket(t, repo, "repo#2")
	if _, err := repo.Create(context.Background(), ports.Ticket{
		TrackerKey: "repo#2",
		Status:     domainticket.StatusPending,
	}); err == nil {
		t.Fatal("duplicate tracker key accepted")
	}
}

func TestSaveAndGetSolutionRoundTrip(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()

	ticket := createTicket(t, repo, "repo#11")

	if _, found, err := repo.GetSolution(ctx, ticket.ID); err != nil || found {
		t.Fatalf("GetSolution(before save) = %v, %v, want false, nil", found, err)
	}

	saved := ports.Solution{
		Summary:      "Patch the login redirect",
		Explanation:  "Adjust the redirect target.",
		Files:        []ports.FileChange{{Path: "internal/auth/redirect.go", Action: "modify", Content: "package auth"}},
		Commands:     []string{"go test ./..."},
		Provider:     "openai",
		FallbackUsed: true,
	}
	if err := repo.SaveSolution(ctx, ticket.ID, saved); err != nil {
		t.Fatalf("SaveSolution() error = %v", err)
	}

	got, found, err := repo.GetSolution(ctx, ticket.ID)
	if err != nil || !found {
		t.Fatalf("GetSolution() = %v, %v", found, err)
	}
	if got.Explanation != saved.Explanation || !got.FallbackUsed {
		t.Fatalf("GetSolution() = %+v", got)
	}
	if len(got.Files) != 1 || got.Files[0].Path != "internal/auth/redirect.go" {
		t.Fatalf("Files = %+v", got.Files)
	}
	if len(got.Commands) != 1 {
		t.Fatalf("Commands = %v", got.Commands)
	}

	if err := repo.SaveSolution(ctx, 999, saved); !errors.Is(err, ports.ErrTicketNotFound) {
		t.Fatalf("SaveSolution(missing) = %v, want ErrTicketNotFound", err)
	}
}

func TestUpdateStatusManagesErrorMessage(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()
	ticket := createTicket(t, repo, "repo#3")

	msg := "provider timeout"
	if err := repo.UpdateStatus(ctx, ticket.ID, domainticket.StatusRetrying, &msg); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	got, err := repo.GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domainticket.StatusRetrying || got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Fatalf("after failure: status=%s error=%v", got.Status, got.ErrorMessage)
	}
	if got.LastProcessed == nil {
		t.Fatal("LastProcessed not stamped")
	}

	// A clean transition clears the stale failure text.
	if err := repo.UpdateStatus(ctx, ticket.ID, domainticket.StatusAnalyzing, nil); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	got, err = repo.GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ErrorMessage != nil {
		t.Fatalf("ErrorMessage not cleared: %q", *got.ErrorMessage)
	}
}

func TestSetHoursConsumedIsWriteOnce(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()
	ticket := createTicket(t, repo, "repo#4")

	if err := repo.SetHoursConsumed(ctx, ticket.ID, 1.25); err != nil {
		t.Fatalf("SetHoursConsumed() error = %v", err)
	}
	if err := repo.SetHoursConsumed(ctx, ticket.ID, 9.0); !errors.Is(err, ports.ErrHoursAlreadySet) {
		t.Fatalf("second SetHoursConsumed() = %v, want ErrHoursAlreadySet", err)
	}

	got, err := repo.GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.HoursConsumed == nil || *got.HoursConsumed != 1.25 {
		t.Fatalf("HoursConsumed = %v, want 1.25", got.HoursConsumed)
	}
}

func TestIncrementRetryCount(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()
	ticket := createTicket(t, repo, "repo#5")

	for i := 0; i < 3; i++ {
		if err := repo.IncrementRetryCount(ctx, ticket.ID); err != nil {
			t.Fatalf("IncrementRetryCount() error = %v", err)
		}
	}

	got, err := repo.GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.RetryCount != 3 {
		t.Fatalf("RetryCount = %d, want 3", got.RetryCount)
	}
}

func TestReplaceTodosRoundTripsDependencies(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()
	ticket := createTicket(t, repo, "repo#6")

	created, err := repo.ReplaceTodos(ctx, ticket.ID, []ports.Todo{
		{Title: "Reproduce", Status: domainticket.TodoPending, OrderIndex: 0, Priority: 2},
		{Title: "Fix", Status: domainticket.TodoPending, OrderIndex: 1, Priority: 9, DependsOn: []uint64{0}},
	})
	if err != nil {
		t.Fatalf("ReplaceTodos() error = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created todos = %d, want 2", len(created))
	}
	if created[1].Priority != 5 {
		t.Fatalf("priority not clamped: %d", created[1].Priority)
	}
	if len(created[1].DependsOn) != 1 || created[1].DependsOn[0] != 0 {
		t.Fatalf("DependsOn = %v", created[1].DependsOn)
	}

	// Replacing again drops the old rows.
	if _, err := repo.ReplaceTodos(ctx, ticket.ID, []ports.Todo{
		{Title: "Only one", Status: domainticket.TodoPending, OrderIndex: 0, Priority: 3},
	}); err != nil {
		t.Fatalf("ReplaceTodos(second) error = %v", err)
	}
	todos, err := repo.ListTodos(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ListTodos() error = %v", err)
	}
	if len(todos) != 1 || todos[0].Title != "Only one" {
		t.Fatalf("todos after replace = %+v", todos)
	}
}

func TestDeleteRemovesOwnedChildren(t *testing.T) {
	db := setupDB(t)
	repo := NewTicketRepository(db)
	ctx := context.Background()
	ticket := createTicket(t, repo, "repo#7")

	if _, err := repo.ReplaceTodos(ctx, ticket.ID, []ports.Todo{
		{Title: "Fix", Status: domainticket.TodoPending, OrderIndex: 0, Priority: 3},
	}); err != nil {
		t.Fatalf("ReplaceTodos() error = %v", err)
	}
	if err := repo.AppendExecution(ctx, ports.Execution{
		ID:         "exec-1",
		TicketID:   ticket.ID,
		ActionKind: "modify",
		Target:     "main.go",
		Status:     "completed",
	}); err != nil {
		t.Fatalf("AppendExecution() error = %v", err)
	}

	if err := repo.Delete(ctx, ticket.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.GetByID(ctx, ticket.ID); !errors.Is(err, ports.ErrTicketNotFound) {
		t.Fatalf("GetByID(deleted) = %v, want ErrTicketNotFound", err)
	}
	var todoCount, execCount int64
	db.Model(&model.TicketTodo{}).Where("ticket_id = ?", ticket.ID).Count(&todoCount)
	db.Model(&model.Execution{}).Where("ticket_id = ?", ticket.ID).Count(&execCount)
	if todoCount != 0 || execCount != 0 {
		t.Fatalf("orphaned children: todos=%d executions=%d", todoCount, execCount)
	}
}

func TestListFiltersByStatusAndSession(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()

	first := createTicket(t, repo, "repo#8")
	second := createTicket(t, repo, "repo#9")
	if err := repo.UpdateStatus(ctx, second.ID, domainticket.StatusAnalyzing, nil); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.AssignSession(ctx, first.ID, 42); err != nil {
		t.Fatalf("AssignSession() error = %v", err)
	}

	pending, err := repo.List(ctx, ports.TicketFilter{
		Statuses: []domainticket.Status{domainticket.StatusPending},
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("List(pending) = %+v", pending)
	}

	sessionID := uint64(42)
	bySession, err := repo.List(ctx, ports.TicketFilter{SessionID: &sessionID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(bySession) != 1 || bySession[0].ID != first.ID {
		t.Fatalf("List(session) = %+v", bySession)
	}
}

func TestCountByStatus(t *testing.T) {
	repo := NewTicketRepository(setupDB(t))
	ctx := context.Background()

	createTicket(t, repo, "repo#10")
	createTicket(t, repo, "repo#11")
	third := createTicket(t, repo, "repo#12")
	if err := repo.UpdateStatus(ctx, third.ID, domainticket.StatusCompleted, nil); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[domainticket.StatusPending] != 2 || counts[domainticket.StatusCompleted] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
