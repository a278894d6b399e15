package ports

import (
	"context"
	"time"
)

// SessionEventKind names the one-shot budget notifications.
type SessionEventKind string

const (
	EventFirstWarning   SessionEventKind = "warning.first"
	EventSecondWarning  SessionEventKind = "warning.second"
	EventSessionExpired SessionEventKind = "expired"
	EventSessionRenewed SessionEventKind = "renewed"
)

type SessionEvent struct {
	Kind           SessionEventKind
	SessionID      uint64
	Customer       string
	PurchasedHours float64
	ConsumedHours  float64
	RemainingHours float64
	At             time.Time
}

// EventPublisher delivers session budget events to whatever carries the
// notification downstream (message bus, log). Delivery failures must not
// fail the debit that triggered them.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}
