// Package notify creates Notification records and sends e-mail on behalf
// of the compliance engine. Both are best-effort: failures are logged and
// never returned to the operation that triggered them.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/warp/compliance-engine/ledger"
)

type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers one e-mail.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

type notificationStore interface {
	InsertNotification(ctx context.Context, n ledger.Notification) error
}

type Service struct {
	store  notificationStore
	mailer Mailer
	log    *slog.Logger
	now    ledger.Clock
}

func NewService(log *slog.Logger, store notificationStore, mailer Mailer, now ledger.Clock) *Service {
	if now == nil {
		now = ledger.SystemClock
	}
	if mailer == nil {
		mailer = LogMailer{Log: log}
	}
	return &Service{store: store, mailer: mailer, log: log, now: now}
}

// Create persists n, filling in ID and CreatedAt.
func (s *Service) Create(ctx context.Context, n ledger.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.Type == "" {
		n.Type = ledger.NotifyInfo
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		s.log.WarnContext(ctx, "notification not stored",
			slog.String("entity_type", n.EntityType),
			slog.String("related_entity_id", n.RelatedEntityID),
			slog.String("receiver_id", n.ReceiverID),
			slog.String("error", err.Error()),
		)
	}
}

// SendEmail delivers e. An empty recipient is skipped.
func (s *Service) SendEmail(ctx context.Context, e Email) {
	if e.To == "" {
		return
	}
	if err := s.mailer.Send(ctx, e); err != nil {
		s.log.WarnContext(ctx, "email not sent",
			slog.String("to", e.To),
			slog.String("subject", e.Subject),
			slog.String("error", err.Error()),
		)
	}
}

// LogMailer writes e-mails to the log instead of sending them.
type LogMailer struct {
	Log *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, e Email) error {
	m.Log.InfoContext(ctx, "email",
		slog.String("to", e.To),
		slog.String("subject", e.Subject),
		slog.Int("body_bytes", len(e.Body)),
	)
	return nil
}
