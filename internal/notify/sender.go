package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Mailer delivers a rendered message. SMTP delivery lives behind this port.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail",
		"to", msg.To.Email,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}

// Sender renders and mails events. It is the consumer side handler and can
// also stand in as a Publisher when no broker is configured.
type Sender struct {
	Renderer Renderer
	Mailer   Mailer
}

var _ Publisher = (*Sender)(nil)

func (s *Sender) Handle(ctx context.Context, ev Event) error {
	if ev.To.Email == "" {
		return fmt.Errorf("%s event %s has no recipient", ev.Kind, ev.ID)
	}
	msg, err := s.Renderer.Render(ev)
	if err != nil {
		return fmt.Errorf("render %s: %w", ev.Kind, err)
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", ev.Kind, ev.To.Email, err)
	}
	return nil
}

func (s *Sender) Publish(ctx context.Context, ev Event) error {
	return s.Handle(ctx, ev)
}
