package compliance

import (
	"context"

	"github.com/warp/compliance-engine/ledger"
	"github.com/warp/compliance-engine/notify"
)

// Entity types carried on notifications.
const (
	entityUser        = "user"
	entityProduct     = "product"
	entityTransaction = "transaction"
)

func (d *Dispatcher) notifyUser(ctx context.Context, receiverID, entityType, entityID string, typ ledger.NotificationType, text string, data map[string]string) {
	if receiverID == "" {
		return
	}
	d.notifier.Create(ctx, ledger.Notification{
		EntityType:      entityType,
		RelatedEntityID: entityID,
		Text:            text,
		ReceiverID:      receiverID,
		Type:            typ,
		TranslationData: data,
	})
}

// notifyCompliance broadcasts to every reviewer.
func (d *Dispatcher) notifyCompliance(ctx context.Context, entityType, entityID string, typ ledger.NotificationType, text string, data map[string]string) {
	d.notifier.Create(ctx, ledger.Notification{
		EntityType:      entityType,
		RelatedEntityID: entityID,
		Text:            text,
		IsCompliance:    true,
		Type:            typ,
		TranslationData: data,
	})
}

func (d *Dispatcher) email(ctx context.Context, u *ledger.User, subject, body string) {
	d.notifier.SendEmail(ctx, notify.Email{To: u.Email, Subject: subject, Body: body})
}

// decided returns the notification type and verb for a resolution.
func decided(res *resolution) (ledger.NotificationType, string) {
	if res.rejecting() {
		return ledger.NotifyWarning, "rejected"
	}
	return ledger.NotifySuccess, "approved"
}
