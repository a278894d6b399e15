package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"ticketpilot/internal/bootstrap/logging"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
)

// NATSPublisher puts session budget events on a NATS subject so downstream
// notification delivery (email and the like) stays outside this process.
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

var _ ports.EventPublisher = (*NATSPublisher)(nil)

func NewNATSPublisher(url string, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("ticketpilot"))
	if err != nil {
		return nil, errs.Wrap(err, "connect nats")
	}

	return &NATSPublisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (p *NATSPublisher) PublishSessionEvent(ctx context.Context, event ports.SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(err, "encode session event")
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, event.Kind)
	if err := p.conn.Publish(subject, payload); err != nil {
		return errs.Wrap(err, "publish session event")
	}

	logging.Info(ctx, "session event published",
		slog.String("subject", subject),
		slog.Uint64("session_id", event.SessionID))
	return nil
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}
