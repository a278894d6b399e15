package meter

import (
	"context"
	"errors"
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
)

type eventSink struct {
	events []ports.SessionEvent
}

func (s *eventSink) PublishSessionEvent(_ context.Context, event ports.SessionEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) kinds() []ports.SessionEventKind {
	kinds := make([]ports.SessionEventKind, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func setupService(t *testing.T) (*Service, *eventSink) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "meter.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.BotSession{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	sink := &eventSink{}
	svc := NewService(
		sqliterepo.NewSessionRepository(db),
		sqliteuow.NewUnitOfWork(db),
		sink,
		config.SessionsConfig{
			DefaultHours: 10.0,
			WarningThresholds: config.ThresholdsConfig{
				First:  0.75,
				Second: 0.90,
			},
		},
	)
	svc.WithClock(func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) })
	return svc, sink
}

func TestDebitKeepsRemainingConsistent(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := svc.Debit(ctx, session.ID, 2.5)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if updated.ConsumedHours != 2.5 || updated.RemainingHours != 7.5 {
		t.Fatalf("Debit() consumed=%v remaining=%v, want 2.5/7.5", updated.ConsumedHours, updated.RemainingHours)
	}
	if updated.RemainingHours != updated.PurchasedHours-updated.ConsumedHours {
		t.Fatalf("remaining %v != purchased-consumed %v", updated.RemainingHours, updated.PurchasedHours-updated.ConsumedHours)
	}
}

func TestDebitCrossingFirstThresholdWarnsOnce(t *testing.T) {
	svc, sink := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := svc.Debit(ctx, session.ID, 7.6)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if updated.RemainingHours != 2.4 {
		t.Fatalf("RemainingHours = %v, want 2.4", updated.RemainingHours)
	}
	if !updated.FirstWarningSent || updated.SecondWarningSent {
		t.Fatalf("warning flags = %v/%v, want true/false", updated.FirstWarningSent, updated.SecondWarningSent)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != ports.EventFirstWarning {
		t.Fatalf("events = %v, want single first warning", sink.kinds())
	}

	// A threshold check with no further consumption emits nothing.
	if err := svc.CheckThresholds(ctx, session.ID); err != nil {
		t.Fatalf("CheckThresholds() error = %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("CheckThresholds re-emitted warnings: %v", sink.kinds())
	}
}

func TestDebitOverrunClampsAndExpires(t *testing.T) {
	svc, sink := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := svc.Debit(ctx, session.ID, 12.5)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if updated.ConsumedHours != 10 || updated.RemainingHours != 0 {
		t.Fatalf("overrun debit consumed=%v remaining=%v, want 10/0", updated.ConsumedHours, updated.RemainingHours)
	}
	if updated.Status != domainticket.SessionExpired {
		t.Fatalf("Status = %s, want expired", updated.Status)
	}

	want := []ports.SessionEventKind{ports.EventFirstWarning, ports.EventSecondWarning, ports.EventSessionExpired}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestDebitOnDrainedSessionFails(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Debit(ctx, session.ID, 10); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	if _, err := svc.Debit(ctx, session.ID, 0.5); !errors.Is(err, domainticket.ErrBudgetExhausted) {
		t.Fatalf("Debit() on drained session = %v, want ErrBudgetExhausted", err)
	}
}

func TestRenewResetsFlagsAndReactivates(t *testing.T) {
	svc, sink := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Debit(ctx, session.ID, 10); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	renewed, err := svc.Renew(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if renewed.Status != domainticket.SessionActive {
		t.Fatalf("Status after renew = %s, want active", renewed.Status)
	}
	if renewed.RemainingHours != 10 {
		t.Fatalf("RemainingHours after renew = %v, want 10", renewed.RemainingHours)
	}
	// 10 of 20 consumed is below both thresholds again.
	if renewed.FirstWarningSent || renewed.SecondWarningSent || renewed.ExpiryNotified {
		t.Fatalf("flags after renew = %v/%v/%v, want all reset",
			renewed.FirstWarningSent, renewed.SecondWarningSent, renewed.ExpiryNotified)
	}

	last := sink.events[len(sink.events)-1]
	if last.Kind != ports.EventSessionRenewed {
		t.Fatalf("last event = %s, want renewed", last.Kind)
	}

	// Warnings may fire again after the renewal.
	if _, err := svc.Debit(ctx, session.ID, 6); err != nil {
		t.Fatalf("Debit() after renew error = %v", err)
	}
	final, err := svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !final.FirstWarningSent {
		t.Fatal("first warning did not re-fire after renewal")
	}
}

func TestScanExpiryNotifiesExactlyOnce(t *testing.T) {
	svc, sink := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.Debit(ctx, session.ID, 10); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	expiredEvents := 0
	for _, kind := range sink.kinds() {
		if kind == ports.EventSessionExpired {
			expiredEvents++
		}
	}
	if expiredEvents != 1 {
		t.Fatalf("expired events after drain = %d, want 1", expiredEvents)
	}

	// Scans after the flag is set stay silent.
	if err := svc.ScanExpiry(ctx); err != nil {
		t.Fatalf("ScanExpiry() error = %v", err)
	}
	if err := svc.ScanExpiry(ctx); err != nil {
		t.Fatalf("ScanExpiry() error = %v", err)
	}
	for _, kind := range sink.kinds()[3:] {
		if kind == ports.EventSessionExpired {
			t.Fatal("expiry notified more than once")
		}
	}
}

func TestRecordTicketOutcomeCounts(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.RecordTicketOutcome(ctx, session.ID, true); err != nil {
		t.Fatalf("RecordTicketOutcome() error = %v", err)
	}
	if err := svc.RecordTicketOutcome(ctx, session.ID, false); err != nil {
		t.Fatalf("RecordTicketOutcome() error = %v", err)
	}

	got, err := svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ProcessedTickets != 2 || got.SuccessfulTickets != 1 || got.FailedTickets != 1 {
		t.Fatalf("counters = %d/%d/%d, want 2/1/1",
			got.ProcessedTickets, got.SuccessfulTickets, got.FailedTickets)
	}
}
