package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"ticketpilot/internal/bootstrap/config"
	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "ticketpilot/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "ticketpilot/internal/infrastructure/persistence/sqlite/uow"
	"ticketpilot/internal/ports"
	"ticketpilot/internal/usecase/meter"
	"ticketpilot/internal/usecase/retry"
)

type testCache struct {
	data map[string]string
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string]string)}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

type runnerFixture struct {
	runner    *Runner
	tickets   ports.TicketRepository
	sessions  ports.SessionRepository
	meter     *meter.Service
	tracker   *fakeTracker
	generator *fakeGenerator
	publisher *fakePublisher
	cache     *testCache
	session   ports.Session
}

func setupRunner(t *testing.T, remote []ports.TrackerTicket) *runnerFixture {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "runner.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Ticket{},
		&model.TicketTodo{},
		&model.Execution{},
		&model.RetryAttempt{},
		&model.BotSession{},
		&model.PilotKV{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	cfg := config.PipelineConfig{
		MaxRetryAttempts:         3,
		RetryDelaySeconds:        300,
		MaxConcurrentTickets:     2,
		MaxProcessingTimeSeconds: 60,
		RequiredLabel:            "ai-fix",
	}

	tickets := sqliterepo.NewTicketRepository(db)
	sessions := sqliterepo.NewSessionRepository(db)
	uow := sqliteuow.NewUnitOfWork(db)
	retries := retry.NewCoordinator(sqliterepo.NewRetryRepository(db), cfg)

	meterSvc := meter.NewService(sessions, uow, nil, config.SessionsConfig{
		DefaultHours: 10.0,
		WarningThresholds: config.ThresholdsConfig{
			First:  0.75,
			Second: 0.90,
		},
	})

	tracker := &fakeTracker{remote: remote}
	generator := &fakeGenerator{solution: defaultSolution()}
	publisher := &fakePublisher{}
	cache := newTestCache()

	session, err := meterSvc.Create(context.Background(), "acme", 10)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	machine := NewMachine(tickets, meterSvc, retries, tracker, generator, publisher, cfg)
	runner := NewRunner(machine, tickets, sessions, meterSvc, retries, tracker, generator, publisher, cache, cfg)

	return &runnerFixture{
		runner:    runner,
		tickets:   tickets,
		sessions:  sessions,
		meter:     meterSvc,
		tracker:   tracker,
		generator: generator,
		publisher: publisher,
		cache:     cache,
		session:   session,
	}
}

func remoteTicket(key string) ports.TrackerTicket {
	repo := "https://github.com/example/app"
	return ports.TrackerTicket{
		TrackerKey:    key,
		Summary:       "Fix flaky login redirect",
		Description:   "Users bounce back to /login after refresh.",
		Status:        "open",
		Priority:      "high",
		Reporter:      "alice",
		Labels:        []string{"ai-fix"},
		RepositoryURL: &repo,
	}
}

func TestLoadTicketsImportsAndProcesses(t *testing.T) {
	f := setupRunner(t, []ports.TrackerTicket{remoteTicket("repo#1"), remoteTicket("repo#2")})
	ctx := context.Background()

	result, err := f.runner.RunOnce(ctx, TriggerLoadTickets)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Skipped {
		t.Fatal("run skipped unexpectedly")
	}
	if result.Processed != 2 {
		t.Fatalf("Processed = %d, want 2", result.Processed)
	}

	all, err := f.tickets.List(ctx, ports.TicketFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("persisted tickets = %d, want 2", len(all))
	}
	for _, ticket := range all {
		if ticket.Status != domainticket.StatusCompleted {
			t.Fatalf("ticket %s status = %s, want completed (error=%v)",
				ticket.TrackerKey, ticket.Status, ticket.ErrorMessage)
		}
		if ticket.SessionID == nil || *ticket.SessionID != f.session.ID {
			t.Fatalf("ticket %s not attached to the active session", ticket.TrackerKey)
		}
	}
	if len(f.publisher.created) != 2 {
		t.Fatalf("created PRs = %d, want 2", len(f.publisher.created))
	}
}

func TestLoadTicketsSkipsIneligibleRemoteTickets(t *testing.T) {
	assigned := remoteTicket("repo#3")
	assignee := "bob"
	assigned.Assignee = &assignee
	unlabeled := remoteTicket("repo#4")
	unlabeled.Labels = []string{"bug"}

	f := setupRunner(t, []ports.TrackerTicket{assigned, unlabeled, remoteTicket("repo#5")})
	ctx := context.Background()

	if _, err := f.runner.RunOnce(ctx, TriggerLoadTickets); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	all, err := f.tickets.List(ctx, ports.TicketFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 || all[0].TrackerKey != "repo#5" {
		t.Fatalf("imported tickets = %+v, want only repo#5", all)
	}
}

func TestLoadTicketsImportIsIdempotent(t *testing.T) {
	f := setupRunner(t, []ports.TrackerTicket{remoteTicket("repo#6")})
	ctx := context.Background()

	if _, err := f.runner.RunOnce(ctx, TriggerLoadTickets); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if _, err := f.runner.RunOnce(ctx, TriggerLoadTickets); err != nil {
		t.Fatalf("RunOnce(second) error = %v", err)
	}

	all, err := f.tickets.List(ctx, ports.TicketFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("tickets after two imports = %d, want 1", len(all))
	}
}

func TestCollectMetricsSnapshotsStatusCounts(t *testing.T) {
	f := setupRunner(t, []ports.TrackerTicket{remoteTicket("repo#7")})
	ctx := context.Background()

	if _, err := f.runner.RunOnce(ctx, TriggerLoadTickets); err != nil {
		t.Fatalf("RunOnce(load) error = %v", err)
	}
	if _, err := f.runner.RunOnce(ctx, TriggerCollectMetrics); err != nil {
		t.Fatalf("RunOnce(metrics) error = %v", err)
	}

	raw, found, err := f.cache.Get(ctx, "metrics.tickets_by_status")
	if err != nil || !found {
		t.Fatalf("metrics snapshot missing: found=%v err=%v", found, err)
	}
	var snapshot map[string]int64
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot["completed"] != 1 {
		t.Fatalf("snapshot = %v, want completed=1", snapshot)
	}
}

func TestHealthCheckCachesProviderStatus(t *testing.T) {
	f := setupRunner(t, nil)
	ctx := context.Background()

	if _, err := f.runner.RunOnce(ctx, TriggerHealthCheck); err != nil {
		t.Fatalf("RunOnce(health) error = %v", err)
	}

	raw, found, err := f.cache.Get(ctx, "health.providers")
	if err != nil || !found {
		t.Fatalf("health snapshot missing: found=%v err=%v", found, err)
	}
	var status map[string]string
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	for _, provider := range []string{"tracker", "generator", "publisher"} {
		if status[provider] != "ok" {
			t.Fatalf("provider %s = %q, want ok", provider, status[provider])
		}
	}
}

func TestCheckSessionExpiryExpiresDrainedSessions(t *testing.T) {
	f := setupRunner(t, nil)
	ctx := context.Background()

	if _, err := f.meter.Debit(ctx, f.session.ID, 10); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if _, err := f.runner.RunOnce(ctx, TriggerCheckSessionExpiry); err != nil {
		t.Fatalf("RunOnce(expiry) error = %v", err)
	}

	session, err := f.meter.Get(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if session.Status != domainticket.SessionExpired {
		t.Fatalf("session status = %s, want expired", session.Status)
	}
}
