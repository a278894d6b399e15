package notify

import (
	"context"
	"log/slog"

	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/ports"
)

// LogPublisher is the default event sink when no message bus is configured.
type LogPublisher struct{}

var _ ports.EventPublisher = LogPublisher{}

func NewLogPublisher() LogPublisher { return LogPublisher{} }

func (LogPublisher) PublishSessionEvent(ctx context.Context, event ports.SessionEvent) error {
	logging.Warn(ctx, "session event",
		slog.String("kind", string(event.Kind)),
		slog.Uint64("session_id", event.SessionID),
		slog.String("customer", event.Customer),
		slog.Float64("consumed_hours", event.ConsumedHours),
		slog.Float64("purchased_hours", event.PurchasedHours),
		slog.Float64("remaining_hours", event.RemainingHours))
	return nil
}
